package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fyrsmithlabs/reqgate/internal/config"
	"github.com/fyrsmithlabs/reqgate/internal/learning"
)

const learningEnabledKey = "hooks.session_learning.enabled"

// PendingRecommendations lists proposed recommendations not yet applied.
func (e *Engine) PendingRecommendations(ctx context.Context) ([]learning.Recommendation, error) {
	return e.current().history.Pending(ctx)
}

// Recommendations lists every proposed recommendation, oldest first.
func (e *Engine) Recommendations(ctx context.Context) ([]learning.Recommendation, error) {
	st, err := e.current().history.State(ctx)
	if err != nil {
		return nil, err
	}
	return st.Recommendations, nil
}

// ApplyRecommendation applies a proposed recommendation by id.
func (e *Engine) ApplyRecommendation(ctx context.Context, id uint64, approver string) (*learning.Entry, error) {
	c := e.current()
	rec, err := c.history.Recommendation(ctx, id)
	if err != nil {
		return nil, err
	}
	if approver == "" {
		approver = ActorCLI
	}
	return c.history.Apply(ctx, *rec, approver)
}

// Rollback undoes an applied history entry.
func (e *Engine) Rollback(ctx context.Context, entryID string) (*learning.Entry, error) {
	return e.current().history.Rollback(ctx, entryID)
}

// LearningEntries returns the learning history.
func (e *Engine) LearningEntries(ctx context.Context) ([]learning.Entry, error) {
	return e.current().history.Entries(ctx)
}

// LearningStats summarizes the learning history.
func (e *Engine) LearningStats(ctx context.Context) (*learning.Stats, error) {
	return e.current().history.Stats(ctx)
}

// SetLearningEnabled switches session learning for this repository. The
// choice is written to the local override file and the learning document,
// then the policy is reloaded.
func (e *Engine) SetLearningEnabled(ctx context.Context, enabled bool) error {
	if err := config.SetLocal(config.LocalPath(e.opts.Root), learningEnabledKey, enabled); err != nil {
		return fmt.Errorf("writing local override: %w", err)
	}
	if err := e.current().history.SetDisabled(ctx, !enabled); err != nil {
		return err
	}
	_, err := e.Reload(ctx)
	return err
}

// ParseRecommendationID parses a recommendation id argument.
func ParseRecommendationID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %q is not a recommendation id", learning.ErrRecommendationNotFound, s)
	}
	return id, nil
}
