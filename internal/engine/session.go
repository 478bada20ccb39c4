package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqgate/internal/learning"
	"github.com/fyrsmithlabs/reqgate/internal/sessions"
)

// EndSession seals the session and, when learning is enabled, analyzes it
// and proposes the resulting recommendations. The report is nil when
// learning is disabled.
func (e *Engine) EndSession(ctx context.Context, sessionID string) (*learning.Report, error) {
	c := e.current()
	if _, err := c.collector.Seal(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.analyzeIfEnabled(ctx, sessionID)
}

func (e *Engine) analyzeIfEnabled(ctx context.Context, sessionID string) (*learning.Report, error) {
	enabled, err := e.LearningEnabled(ctx)
	if err != nil || !enabled {
		return nil, err
	}
	report, err := e.Analyze(ctx, sessionID)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		return nil, nil
	}
	return report, err
}

// LearningEnabled reports whether the policy enables session learning and
// it has not been switched off for this repository.
func (e *Engine) LearningEnabled(ctx context.Context) (bool, error) {
	c := e.current()
	if !c.policy.SessionLearning().Enabled {
		return false, nil
	}
	st, err := c.history.State(ctx)
	if err != nil {
		return false, err
	}
	return !st.Disabled, nil
}

// Analyze runs the learning analyzer over a recorded session and proposes
// its recommendations. The session does not need to be sealed.
func (e *Engine) Analyze(ctx context.Context, sessionID string) (*learning.Report, error) {
	c := e.current()
	m, err := c.collector.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snapshot, err := c.history.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	report, err := learning.Analyze(ctx, m, snapshot, c.policy.SessionLearning())
	if err != nil {
		return nil, fmt.Errorf("analyzing session %s: %w", sessionID, err)
	}
	log := e.logger.ForSession(m.Branch, sessionID)
	for _, w := range report.Warnings {
		log.Warn(ctx, "learning detector failed", zap.String("warning", w))
	}
	if len(report.Recommendations) == 0 {
		log.Debug(ctx, "session analyzed, nothing to recommend", zap.Int("events", len(m.Events)))
		return report, nil
	}
	recs, err := c.history.Propose(ctx, sessionID, report.Recommendations)
	if err != nil {
		return nil, err
	}
	report.Recommendations = recs
	log.Info(ctx, "session analyzed", zap.Int("events", len(m.Events)), zap.Int("recommendations", len(recs)))
	return report, nil
}

// Session returns a recorded session.
func (e *Engine) Session(ctx context.Context, sessionID string) (*sessions.Metrics, error) {
	return e.current().collector.Get(ctx, sessionID)
}

// Sessions lists recorded sessions, newest first.
func (e *Engine) Sessions(ctx context.Context) ([]sessions.Summary, error) {
	return e.current().collector.List(ctx)
}
