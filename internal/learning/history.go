package learning

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqgate/internal/logging"
	"github.com/fyrsmithlabs/reqgate/internal/secrets"
	"github.com/fyrsmithlabs/reqgate/internal/storage"
)

const (
	stateDocument = "learning/state"
	stateVersion  = 1
)

// State is the persisted learning document.
type State struct {
	Version              int              `json:"version"`
	NextRecommendationID uint64           `json:"next_recommendation_id"`
	Recommendations      []Recommendation `json:"recommendations"`
	Entries              []Entry          `json:"entries"`
	AnalyzedSessions     []string         `json:"analyzed_sessions"`
	Disabled             bool             `json:"disabled"`
}

func (s *State) init() {
	if s.Version == 0 {
		s.Version = stateVersion
	}
	if s.NextRecommendationID == 0 {
		s.NextRecommendationID = 1
	}
}

func (s *State) recommendation(id uint64) (*Recommendation, bool) {
	for i := range s.Recommendations {
		if s.Recommendations[i].ID == id {
			return &s.Recommendations[i], true
		}
	}
	return nil, false
}

func (s *State) entry(id string) (*Entry, bool) {
	for i := range s.Entries {
		if s.Entries[i].ID == id {
			return &s.Entries[i], true
		}
	}
	return nil, false
}

// activeEntry returns the newest applied entry matching fn.
func (s *State) activeEntry(fn func(*Entry) bool) (*Entry, bool) {
	for i := len(s.Entries) - 1; i >= 0; i-- {
		if e := &s.Entries[i]; e.Active() && fn(e) {
			return e, true
		}
	}
	return nil, false
}

func (s *State) applied(recID uint64) bool {
	_, ok := s.activeEntry(func(e *Entry) bool { return e.RecommendationID == recID })
	return ok
}

// Stats summarizes learning history.
type Stats struct {
	Proposed         int              `json:"proposed"`
	Pending          int              `json:"pending"`
	Applied          int              `json:"applied"`
	RolledBack       int              `json:"rolled_back"`
	ByCategory       map[Category]int `json:"by_category"`
	AnalyzedSessions int              `json:"analyzed_sessions"`
	Disabled         bool             `json:"disabled"`
}

// Manager persists recommendations and applies or rolls them back.
type Manager struct {
	docs      *storage.Documents
	artifacts *Artifacts
	scrubber  secrets.Scrubber
	logger    *logging.Logger
	now       func() time.Time

	// mu serializes apply and rollback within the process; the document
	// lock covers other processes.
	mu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithScrubber sets the scrubber applied to recommendation content.
func WithScrubber(s secrets.Scrubber) ManagerOption {
	return func(m *Manager) { m.scrubber = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l.Named("learning") }
}

// NewManager creates a history manager.
func NewManager(docs *storage.Documents, artifacts *Artifacts, opts ...ManagerOption) *Manager {
	m := &Manager{
		docs:      docs,
		artifacts: artifacts,
		scrubber:  secrets.NoopScrubber{},
		logger:    logging.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State loads the learning document.
func (m *Manager) State(ctx context.Context) (*State, error) {
	var s State
	if _, err := m.docs.Read(ctx, stateDocument, &s); err != nil {
		return nil, err
	}
	s.init()
	return &s, nil
}

// Snapshot returns the history view the analyzer needs.
func (m *Manager) Snapshot(ctx context.Context) (*HistoryView, error) {
	s, err := m.State(ctx)
	if err != nil {
		return nil, err
	}
	return &HistoryView{Entries: s.Entries, StartID: s.NextRecommendationID}, nil
}

func (m *Manager) update(ctx context.Context, fn func(s *State) (bool, error)) (*State, error) {
	var s State
	err := m.docs.Update(ctx, stateDocument, &s, func(bool) (bool, error) {
		s.init()
		return fn(&s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Propose persists recommendations for a session as pending. Ids are taken
// from the persisted counter, so they stay unique even if another process
// proposed since the analysis snapshot. A recommendation already pending
// for the same session and target is not proposed twice.
func (m *Manager) Propose(ctx context.Context, sessionID string, recs []Recommendation) ([]Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Recommendation
	_, err := m.update(ctx, func(s *State) (bool, error) {
		out = out[:0]
		now := m.now().UTC()
		for _, rec := range recs {
			if dup := m.pendingDuplicate(s, rec); dup != nil {
				out = append(out, *dup)
				continue
			}
			rec.ID = s.NextRecommendationID
			rec.ProposedAt = now
			s.NextRecommendationID++
			s.Recommendations = append(s.Recommendations, rec)
			out = append(out, rec)
		}
		if sessionID != "" && !contains(s.AnalyzedSessions, sessionID) {
			s.AnalyzedSessions = append(s.AnalyzedSessions, sessionID)
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("proposing recommendations: %w", err)
	}
	if len(out) > 0 {
		m.logger.Info(ctx, "recommendations proposed",
			zap.String("session_id", sessionID), zap.Int("count", len(out)))
	}
	return out, nil
}

func (m *Manager) pendingDuplicate(s *State, rec Recommendation) *Recommendation {
	for i := range s.Recommendations {
		r := &s.Recommendations[i]
		if r.SourceSession == rec.SourceSession && r.TargetArtifact == rec.TargetArtifact &&
			r.Pattern == rec.Pattern && !s.applied(r.ID) {
			return r
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Recommendation returns a proposed recommendation by id.
func (m *Manager) Recommendation(ctx context.Context, id uint64) (*Recommendation, error) {
	s, err := m.State(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := s.recommendation(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRecommendationNotFound, id)
	}
	out := *rec
	return &out, nil
}

// Pending returns proposed recommendations with no active application,
// highest confidence first.
func (m *Manager) Pending(ctx context.Context) ([]Recommendation, error) {
	s, err := m.State(ctx)
	if err != nil {
		return nil, err
	}
	var out []Recommendation
	for _, r := range s.Recommendations {
		if !s.applied(r.ID) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Entries returns history entries, oldest first.
func (m *Manager) Entries(ctx context.Context) ([]Entry, error) {
	s, err := m.State(ctx)
	if err != nil {
		return nil, err
	}
	return s.Entries, nil
}

// Stats summarizes the learning document.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	s, err := m.State(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		Proposed:         len(s.Recommendations),
		ByCategory:       make(map[Category]int),
		AnalyzedSessions: len(s.AnalyzedSessions),
		Disabled:         s.Disabled,
	}
	for _, r := range s.Recommendations {
		if !s.applied(r.ID) {
			st.Pending++
		}
	}
	for _, e := range s.Entries {
		if e.Active() {
			st.Applied++
			st.ByCategory[e.Category]++
		} else {
			st.RolledBack++
		}
	}
	return st, nil
}

// SetDisabled records whether learning is switched off for this repository.
func (m *Manager) SetDisabled(ctx context.Context, disabled bool) error {
	_, err := m.update(ctx, func(s *State) (bool, error) {
		if s.Disabled == disabled {
			return false, nil
		}
		s.Disabled = disabled
		return true, nil
	})
	return err
}

// Apply writes an approved recommendation into its target artifact and
// records the application. Existing content is appended to; a missing
// target is created. The target must still hold exactly what the latest
// active application on it wrote, otherwise ArtifactDrifted is returned and
// nothing changes.
func (m *Manager) Apply(ctx context.Context, rec Recommendation, approver string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		entry   Entry
		written bool
		prior   *string
		target  string
	)
	_, err := m.update(ctx, func(s *State) (bool, error) {
		stored, ok := s.recommendation(rec.ID)
		if !ok {
			return false, fmt.Errorf("%w: %d", ErrRecommendationNotFound, rec.ID)
		}
		if s.applied(stored.ID) {
			return false, fmt.Errorf("%w: %d", ErrAlreadyApplied, stored.ID)
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}

		target = stored.TargetArtifact
		current, exists, err := m.artifacts.Read(target)
		if err != nil {
			return false, err
		}
		if last, ok := s.activeEntry(func(e *Entry) bool { return e.TargetArtifact == target }); ok {
			if !exists || Hash(current) != last.AppliedHash {
				return false, &RollbackError{EntryID: last.ID, Target: target, Reason: ArtifactDrifted}
			}
		}

		content := m.scrubber.Scrub(stored.Content).Scrubbed
		next := content
		if exists {
			next = current + "\n" + content
			prior = &current
		}
		if err := m.artifacts.Write(target, next); err != nil {
			return false, err
		}
		written = true

		entry = Entry{
			ID:               uuid.NewString(),
			RecommendationID: stored.ID,
			Category:         stored.Category,
			TargetArtifact:   target,
			Approver:         approver,
			AppliedAt:        m.now().UTC(),
			PriorContent:     prior,
			AppliedHash:      Hash(next),
			Status:           StatusApplied,
		}
		s.Entries = append(s.Entries, entry)
		return true, nil
	})
	if err != nil {
		if written {
			m.restore(ctx, target, prior)
		}
		return nil, fmt.Errorf("applying recommendation %d: %w", rec.ID, err)
	}
	m.logger.Info(ctx, "recommendation applied",
		zap.Uint64("recommendation_id", entry.RecommendationID),
		zap.String("entry_id", entry.ID),
		zap.String("target", entry.TargetArtifact),
		zap.String("approver", approver))
	return &entry, nil
}

// restore undoes an artifact write whose history record failed to persist.
func (m *Manager) restore(ctx context.Context, target string, prior *string) {
	var err error
	if prior == nil {
		err = m.artifacts.Remove(target)
	} else {
		err = m.artifacts.Write(target, *prior)
	}
	if err != nil {
		m.logger.Error(ctx, "failed to restore artifact after history write failure",
			zap.String("target", target), zap.Error(err))
	}
}

// Rollback restores the artifact to its content before the entry was
// applied, deleting it if the entry created it. Rollback is refused when the
// entry is already rolled back or the artifact changed since it was applied,
// which includes a later application on the same target.
func (m *Manager) Rollback(ctx context.Context, entryID string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out Entry
	_, err := m.update(ctx, func(s *State) (bool, error) {
		e, ok := s.entry(entryID)
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		if !e.Active() {
			return false, &RollbackError{EntryID: e.ID, Target: e.TargetArtifact, Reason: AlreadyRolledBack}
		}
		current, exists, err := m.artifacts.Read(e.TargetArtifact)
		if err != nil {
			return false, err
		}
		if !exists || Hash(current) != e.AppliedHash {
			return false, &RollbackError{EntryID: e.ID, Target: e.TargetArtifact, Reason: ArtifactDrifted}
		}

		if e.PriorContent == nil {
			err = m.artifacts.Remove(e.TargetArtifact)
		} else {
			err = m.artifacts.Write(e.TargetArtifact, *e.PriorContent)
		}
		if err != nil {
			return false, err
		}

		now := m.now().UTC()
		e.Status = StatusRolledBack
		e.RolledBackAt = &now
		out = *e
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("rolling back %s: %w", entryID, err)
	}
	m.logger.Info(ctx, "learning entry rolled back",
		zap.String("entry_id", out.ID), zap.String("target", out.TargetArtifact))
	return &out, nil
}
