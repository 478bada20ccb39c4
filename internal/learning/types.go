// Package learning turns sealed sessions into recommendations for the
// guidance artifacts an agent reads (memories, skills, commands) and keeps
// an auditable, reversible history of the ones a human approved.
package learning

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reqgate/internal/hooks"
)

// Category is the kind of artifact a recommendation updates.
type Category string

const (
	CategoryMemory  Category = "memory_update"
	CategorySkill   Category = "skill_update"
	CategoryCommand Category = "command_update"
)

// Target returns the update target this category writes to.
func (c Category) Target() string {
	switch c {
	case CategorySkill:
		return hooks.TargetSkills
	case CategoryCommand:
		return hooks.TargetCommands
	default:
		return hooks.TargetMemories
	}
}

// Pattern is the behavior a detector found.
type Pattern string

const (
	PatternRepeatedLookup Pattern = "repeated_lookup"
	PatternWorkflow       Pattern = "workflow"
	PatternFriction       Pattern = "friction"
)

// Recommendation is a proposed artifact update. It is never mutated once
// created.
type Recommendation struct {
	ID             uint64    `json:"id"`
	Category       Category  `json:"category"`
	Pattern        Pattern   `json:"pattern"`
	TargetArtifact string    `json:"target_artifact"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Confidence     float64   `json:"confidence"`
	SourceSession  string    `json:"source_session"`
	Evidence       []string  `json:"evidence,omitempty"`
	Advisory       bool      `json:"advisory,omitempty"`
	ProposedAt     time.Time `json:"proposed_at,omitempty"`
}

// EntryStatus is the state of a history entry.
type EntryStatus string

const (
	StatusApplied    EntryStatus = "applied"
	StatusRolledBack EntryStatus = "rolled_back"
)

// Entry records one applied recommendation.
type Entry struct {
	ID               string      `json:"id"`
	RecommendationID uint64      `json:"recommendation_id"`
	Category         Category    `json:"category"`
	TargetArtifact   string      `json:"target_artifact"`
	Approver         string      `json:"approver"`
	AppliedAt        time.Time   `json:"applied_at"`
	PriorContent     *string     `json:"prior_content,omitempty"`
	AppliedHash      string      `json:"applied_hash"`
	Status           EntryStatus `json:"status"`
	RolledBackAt     *time.Time  `json:"rolled_back_at,omitempty"`
}

// Active reports whether the entry has not been rolled back.
func (e *Entry) Active() bool {
	return e.Status == StatusApplied
}

// HistoryView is what the analyzer needs to know about past applications.
type HistoryView struct {
	Entries []Entry
	StartID uint64
}

// activeTarget reports whether an applied entry currently owns target.
func (h *HistoryView) activeTarget(target string) bool {
	if h == nil {
		return false
	}
	for i := range h.Entries {
		if h.Entries[i].TargetArtifact == target && h.Entries[i].Active() {
			return true
		}
	}
	return false
}

// Errors returned by the history manager.
var (
	ErrRollback               = errors.New("rollback failed")
	ErrEntryNotFound          = errors.New("history entry not found")
	ErrRecommendationNotFound = errors.New("recommendation not found")
	ErrAlreadyApplied         = errors.New("recommendation already applied")
	ErrInvalidTarget          = errors.New("invalid artifact target")
	ErrLearningDisabled       = errors.New("session learning is disabled")
)

// RollbackReason explains a refused rollback or apply.
type RollbackReason string

const (
	AlreadyRolledBack RollbackReason = "already rolled back"
	ArtifactDrifted   RollbackReason = "artifact changed since it was applied"
)

// RollbackError is returned when an artifact cannot be restored safely.
type RollbackError struct {
	EntryID string
	Target  string
	Reason  RollbackReason
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("entry %s (%s): %s", e.EntryID, e.Target, e.Reason)
}

// Is matches ErrRollback.
func (e *RollbackError) Is(target error) bool {
	return target == ErrRollback
}

// slug makes a lowercase, dash-separated artifact file name.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if len(out) > 48 {
		out = strings.TrimSuffix(out[:48], "-")
	}
	if out == "" {
		return "item"
	}
	return out
}
