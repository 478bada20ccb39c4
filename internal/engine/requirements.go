package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reqgate/internal/config"
	"github.com/fyrsmithlabs/reqgate/internal/gate"
	"github.com/fyrsmithlabs/reqgate/internal/requirements"
)

// RequirementStatus is one row of `reqgate status`.
type RequirementStatus struct {
	Key         string              `json:"key"`
	Severity    config.Severity     `json:"severity"`
	Scope       config.Scope        `json:"scope"`
	Status      requirements.Status `json:"status"`
	Tracked     bool                `json:"tracked"`
	SatisfiedBy string              `json:"satisfied_by,omitempty"`
	SatisfiedAt *time.Time          `json:"satisfied_at,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	Message     string              `json:"message"`
}

// Status reports every requirement for branch. Session-scoped requirements
// are only looked up when sessionID is given. Requirements not evaluated yet
// are reported open and untracked.
func (e *Engine) Status(ctx context.Context, branch, sessionID string) ([]RequirementStatus, error) {
	c := e.current()
	if branch == "" {
		branch = e.Branch("")
	}
	ev := gate.Event{Branch: branch, SessionID: sessionID}

	var out []RequirementStatus
	for _, r := range c.policy.RequirementList() {
		row := RequirementStatus{
			Key:      r.Key,
			Severity: r.Severity,
			Scope:    r.Scope,
			Status:   requirements.StatusOpen,
			Message:  r.Message,
		}
		if r.Scope == config.ScopeSession && sessionID == "" {
			out = append(out, row)
			continue
		}
		st, ok, err := c.store.Get(ctx, gate.ScopeFor(r, ev), r.Key)
		if err != nil {
			return nil, err
		}
		if ok {
			row.Status = st.Status
			row.Tracked = true
			row.SatisfiedBy = st.SatisfiedBy
			row.SatisfiedAt = st.SatisfiedAt
			row.Reason = st.Reason
		}
		out = append(out, row)
	}
	return out, nil
}

func (e *Engine) scopeFor(c components, branch, sessionID, key string) (string, error) {
	r, ok := c.policy.Requirement(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRequirement, key)
	}
	if r.Scope == config.ScopeSession && sessionID == "" {
		return "", fmt.Errorf("%w: %s", ErrSessionRequired, key)
	}
	if branch == "" {
		branch = e.Branch("")
	}
	return gate.ScopeFor(r, gate.Event{Branch: branch, SessionID: sessionID}), nil
}

// Satisfy marks a requirement satisfied by hand.
func (e *Engine) Satisfy(ctx context.Context, branch, sessionID, key, actor string) (*requirements.State, error) {
	return e.setStatus(ctx, branch, sessionID, key, requirements.StatusSatisfied, actor, "")
}

// Skip marks a requirement skipped with a reason.
func (e *Engine) Skip(ctx context.Context, branch, sessionID, key, actor, reason string) (*requirements.State, error) {
	if reason == "" {
		return nil, fmt.Errorf("skipping %s: a reason is required", key)
	}
	return e.setStatus(ctx, branch, sessionID, key, requirements.StatusSkipped, actor, reason)
}

func (e *Engine) setStatus(ctx context.Context, branch, sessionID, key string, status requirements.Status, actor, reason string) (*requirements.State, error) {
	c := e.current()
	scope, err := e.scopeFor(c, branch, sessionID, key)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = ActorCLI
	}
	st, _, err := c.store.SetStatus(ctx, scope, key, status, actor, reason)
	return st, err
}

// ResetBranch clears the branch's requirement state.
func (e *Engine) ResetBranch(ctx context.Context, branch, actor string) ([]string, error) {
	if branch == "" {
		branch = e.Branch("")
	}
	if actor == "" {
		actor = ActorCLI
	}
	return e.current().store.ResetBranch(ctx, branch, actor)
}
