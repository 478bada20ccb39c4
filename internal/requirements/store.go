// Package requirements tracks the status of policy requirements per branch
// and per session.
//
// A requirement row is created lazily as open and moves forward to satisfied
// or skipped. Terminal rows never return to open; only ResetBranch clears a
// branch's rows.
package requirements

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqgate/internal/logging"
	"github.com/fyrsmithlabs/reqgate/internal/storage"
)

// Status is the state of one requirement in one scope.
type Status string

const (
	StatusOpen      Status = "open"
	StatusSatisfied Status = "satisfied"
	StatusSkipped   Status = "skipped"
)

// Errors for requirement state operations.
var (
	ErrInvalidTransition = errors.New("invalid requirement transition")
	ErrInvalidStatus     = errors.New("invalid requirement status")
	ErrInvalidScope      = errors.New("invalid requirement scope")
)

const (
	documentVersion = 1
	docPrefix       = "requirements"
	resetsDoc       = "requirements/resets"
	maxResets       = 500
)

// ParseStatus parses a status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusOpen, StatusSatisfied, StatusSkipped:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Terminal reports whether the status is satisfied or skipped.
func (s Status) Terminal() bool {
	return s == StatusSatisfied || s == StatusSkipped
}

// BranchScope returns the scope id for a branch.
func BranchScope(branch string) string { return "branch:" + branch }

// SessionScope returns the scope id for a session.
func SessionScope(sessionID string) string { return "session:" + sessionID }

// State is the persisted status of one requirement.
type State struct {
	Key         string     `json:"key"`
	Status      Status     `json:"status"`
	OpenedAt    time.Time  `json:"opened_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SatisfiedAt *time.Time `json:"satisfied_at,omitempty"`
	SatisfiedBy string     `json:"satisfied_by,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Transition describes what a write did. From is empty when the row was created.
type Transition struct {
	Key     string `json:"key"`
	From    Status `json:"from,omitempty"`
	To      Status `json:"to"`
	Actor   string `json:"actor,omitempty"`
	Changed bool   `json:"-"`
}

type document struct {
	Version int               `json:"version"`
	Scope   string            `json:"scope"`
	States  map[string]*State `json:"states"`
}

// ResetRecord is an audit entry for a branch reset.
type ResetRecord struct {
	Branch string    `json:"branch"`
	Keys   []string  `json:"keys"`
	Actor  string    `json:"actor,omitempty"`
	At     time.Time `json:"at"`
}

type resetLog struct {
	Resets []ResetRecord `json:"resets"`
}

// Store persists requirement state, one document per scope.
type Store struct {
	docs   *storage.Documents
	logger *logging.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store over docs.
func NewStore(docs *storage.Documents, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		docs:   docs,
		logger: logger.Named("requirements"),
		now:    func() time.Time { return time.Now().UTC() },
		locks:  make(map[string]*sync.Mutex),
	}
}

func docName(scope string) string {
	return docPrefix + "/" + storage.Key(scope)
}

func validScope(scope string) error {
	if !strings.HasPrefix(scope, "branch:") && !strings.HasPrefix(scope, "session:") {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	if strings.TrimSpace(scope[strings.Index(scope, ":")+1:]) == "" {
		return fmt.Errorf("%w: %q has an empty id", ErrInvalidScope, scope)
	}
	return nil
}

// scopeLock serializes in-process writers to one scope document.
func (s *Store) scopeLock(scope string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[scope]
	if !ok {
		l = &sync.Mutex{}
		s.locks[scope] = l
	}
	return l
}

// Get returns the state of key in scope.
func (s *Store) Get(ctx context.Context, scope, key string) (*State, bool, error) {
	if err := validScope(scope); err != nil {
		return nil, false, err
	}
	var doc document
	if _, err := s.docs.Read(ctx, docName(scope), &doc); err != nil {
		return nil, false, err
	}
	st, ok := doc.States[key]
	if !ok {
		return nil, false, nil
	}
	return st, true, nil
}

// List returns every state in scope, sorted by key.
func (s *Store) List(ctx context.Context, scope string) ([]State, error) {
	if err := validScope(scope); err != nil {
		return nil, err
	}
	var doc document
	if _, err := s.docs.Read(ctx, docName(scope), &doc); err != nil {
		return nil, err
	}
	out := make([]State, 0, len(doc.States))
	for _, st := range doc.States {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Ensure creates key in scope as open if it has no row yet.
func (s *Store) Ensure(ctx context.Context, scope, key, actor string) (*State, Transition, error) {
	return s.write(ctx, scope, key, func(cur *State, now time.Time) (*State, Transition, error) {
		if cur != nil {
			return cur, Transition{Key: key, From: cur.Status, To: cur.Status, Actor: actor}, nil
		}
		st := &State{Key: key, Status: StatusOpen, OpenedAt: now, UpdatedAt: now}
		return st, Transition{Key: key, To: StatusOpen, Actor: actor, Changed: true}, nil
	})
}

// SetStatus moves key in scope to status.
//
// Allowed: open to satisfied or skipped, skipped to satisfied. Setting the
// current status again is a no-op that keeps the original satisfaction
// record. Anything else fails with ErrInvalidTransition and leaves the row
// untouched.
func (s *Store) SetStatus(ctx context.Context, scope, key string, status Status, actor, reason string) (*State, Transition, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, Transition{}, err
	}
	st, tr, err := s.write(ctx, scope, key, func(cur *State, now time.Time) (*State, Transition, error) {
		if cur == nil {
			cur = &State{Key: key, Status: StatusOpen, OpenedAt: now}
			tr := Transition{Key: key, To: status, Actor: actor, Changed: true}
			apply(cur, status, actor, reason, now)
			return cur, tr, nil
		}
		tr := Transition{Key: key, From: cur.Status, To: status, Actor: actor}
		if cur.Status == status {
			return cur, tr, nil
		}
		if !allowed(cur.Status, status) {
			return nil, tr, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, key, cur.Status, status)
		}
		apply(cur, status, actor, reason, now)
		tr.Changed = true
		return cur, tr, nil
	})
	if errors.Is(err, ErrInvalidTransition) {
		s.logger.Warn(ctx, "rejected requirement transition",
			zap.String("scope", scope), zap.String("key", key),
			zap.String("to", string(status)), zap.String("actor", actor), zap.Error(err))
	}
	return st, tr, err
}

func allowed(from, to Status) bool {
	switch from {
	case StatusOpen:
		return to.Terminal()
	case StatusSkipped:
		return to == StatusSatisfied
	}
	return false
}

func apply(st *State, status Status, actor, reason string, now time.Time) {
	st.Status = status
	st.UpdatedAt = now
	st.Reason = reason
	if status == StatusSatisfied {
		at := now
		st.SatisfiedAt = &at
		st.SatisfiedBy = actor
	}
}

// write runs fn against the current row under the scope lock and persists
// the result before releasing it.
func (s *Store) write(ctx context.Context, scope, key string, fn func(cur *State, now time.Time) (*State, Transition, error)) (*State, Transition, error) {
	if err := validScope(scope); err != nil {
		return nil, Transition{}, err
	}
	if key == "" {
		return nil, Transition{}, fmt.Errorf("requirement key is required")
	}
	l := s.scopeLock(scope)
	l.Lock()
	defer l.Unlock()

	var (
		doc    document
		result *State
		tr     Transition
	)
	err := s.docs.Update(ctx, docName(scope), &doc, func(bool) (bool, error) {
		if doc.States == nil {
			doc.States = make(map[string]*State)
		}
		doc.Version = documentVersion
		doc.Scope = scope

		var err error
		var cur *State
		if existing, ok := doc.States[key]; ok {
			copied := *existing
			cur = &copied
		}
		result, tr, err = fn(cur, s.now())
		if err != nil || !tr.Changed {
			return false, err
		}
		doc.States[key] = result
		return true, nil
	})
	if err != nil {
		return nil, tr, err
	}
	if tr.Changed {
		s.logger.Debug(ctx, "requirement transition",
			zap.String("scope", scope), zap.String("key", key),
			zap.String("from", string(tr.From)), zap.String("to", string(tr.To)), zap.String("actor", tr.Actor))
	}
	return result, tr, nil
}

// ResetBranch clears every requirement row of branch. It is used when a
// branch is merged or deleted and records an audit entry.
func (s *Store) ResetBranch(ctx context.Context, branch, actor string) ([]string, error) {
	scope := BranchScope(branch)
	if err := validScope(scope); err != nil {
		return nil, err
	}
	l := s.scopeLock(scope)
	l.Lock()
	defer l.Unlock()

	var doc document
	if _, err := s.docs.Read(ctx, docName(scope), &doc); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(doc.States))
	for k := range doc.States {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := s.docs.Remove(ctx, docName(scope)); err != nil {
		return nil, err
	}

	var log resetLog
	err := s.docs.Update(ctx, resetsDoc, &log, func(bool) (bool, error) {
		log.Resets = append(log.Resets, ResetRecord{Branch: branch, Keys: keys, Actor: actor, At: s.now()})
		if len(log.Resets) > maxResets {
			log.Resets = log.Resets[len(log.Resets)-maxResets:]
		}
		return true, nil
	})
	if err != nil {
		// The reset itself succeeded; only the audit trail is missing.
		s.logger.Warn(ctx, "recording branch reset failed", zap.String("branch", branch), zap.Error(err))
	}
	s.logger.Info(ctx, "branch requirements reset", zap.String("branch", branch), zap.Strings("keys", keys))
	return keys, nil
}

// Resets returns the branch reset audit trail, oldest first.
func (s *Store) Resets(ctx context.Context) ([]ResetRecord, error) {
	var log resetLog
	if _, err := s.docs.Read(ctx, resetsDoc, &log); err != nil {
		return nil, err
	}
	return log.Resets, nil
}
