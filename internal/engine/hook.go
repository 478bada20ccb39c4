package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqgate/internal/gate"
	"github.com/fyrsmithlabs/reqgate/internal/hooks"
	"github.com/fyrsmithlabs/reqgate/internal/learning"
)

// HookResult is the outcome of one hook payload.
type HookResult struct {
	Decision *gate.Decision   `json:"decision"`
	Report   *learning.Report `json:"report,omitempty"`

	// Message is shown to the user, not the agent.
	Message string `json:"message,omitempty"`
}

type resultKey struct{}

func resultFrom(ctx context.Context) *HookResult {
	r, _ := ctx.Value(resultKey{}).(*HookResult)
	if r == nil {
		r = &HookResult{}
	}
	return r
}

// HandlePayload runs the gate for a hook payload and then the lifecycle
// handlers for its hook type. Handlers do not run for blocked actions.
func (e *Engine) HandlePayload(ctx context.Context, p *hooks.Payload) (*HookResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	branch := p.Branch
	if branch == "" {
		branch = e.Branch(p.CWD)
	}
	ev := gate.FromPayload(p, branch, e.opts.Now())
	p.Branch = ev.Branch
	p.Timestamp = ev.Timestamp

	d, err := e.HandleEvent(ctx, ev)
	if err != nil {
		return nil, err
	}
	result := &HookResult{Decision: d}
	if d.Blocked() {
		return result, nil
	}

	c := e.current()
	if err := c.hooks.Execute(context.WithValue(ctx, resultKey{}, result), p); err != nil {
		// Lifecycle work never blocks the agent.
		e.logger.Warn(ctx, "hook handler failed", zap.String("hook", string(p.HookEventName)), zap.Error(err))
	}
	return result, nil
}

func (e *Engine) registerHandlers(hm *hooks.HookManager) {
	hm.RegisterHandler(hooks.HookSessionStart, func(ctx context.Context, p *hooks.Payload) error {
		_, err := e.current().collector.Start(ctx, p.SessionID, p.Branch, p.Timestamp)
		return err
	})

	hm.RegisterHandler(hooks.HookStop, func(ctx context.Context, p *hooks.Payload) error {
		if !hm.Config().PromptOnStop {
			return nil
		}
		report, err := e.analyzeIfEnabled(ctx, p.SessionID)
		if err != nil || report == nil {
			return err
		}
		r := resultFrom(ctx)
		r.Report = report
		r.Message = pendingMessage(report)
		return nil
	})

	hm.RegisterHandler(hooks.HookSessionEnd, func(ctx context.Context, p *hooks.Payload) error {
		report, err := e.EndSession(ctx, p.SessionID)
		if err != nil || report == nil {
			return err
		}
		r := resultFrom(ctx)
		r.Report = report
		r.Message = pendingMessage(report)
		return nil
	})
}

func pendingMessage(r *learning.Report) string {
	if len(r.Recommendations) == 0 {
		return ""
	}
	return fmt.Sprintf("%d learning recommendation(s) pending; review with `reqgate learning pending`", len(r.Recommendations))
}
