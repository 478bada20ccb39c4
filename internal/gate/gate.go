// Package gate decides whether an agent action may proceed.
//
// For each event the gate first applies requirement satisfaction for a
// completed skill or command, then checks every requirement whose trigger
// matches. Open blocking requirements block the action and every one of
// them is reported. Open advisory requirements only warn. When state cannot
// be read or written the gate fails closed.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqgate/internal/config"
	"github.com/fyrsmithlabs/reqgate/internal/logging"
	"github.com/fyrsmithlabs/reqgate/internal/requirements"
)

// Decision outcomes.
const (
	Allow = "allow"
	Block = "block"
)

// ReasonStorageUnavailable is the reason key used when the gate fails closed.
const ReasonStorageUnavailable = "storage_unavailable"

// ActorGate is recorded for rows the gate creates.
const ActorGate = "gate"

// StateStore is the requirement state the gate reads and writes.
type StateStore interface {
	Ensure(ctx context.Context, scope, key, actor string) (*requirements.State, requirements.Transition, error)
	SetStatus(ctx context.Context, scope, key string, status requirements.Status, actor, reason string) (*requirements.State, requirements.Transition, error)
}

// Reason describes one unmet requirement.
type Reason struct {
	Key     string `json:"key"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Decision is the gate's answer for one event.
type Decision struct {
	Decision  string                    `json:"decision"`
	Reasons   []Reason                  `json:"reasons,omitempty"`
	Warnings  []Reason                  `json:"warnings,omitempty"`
	Effects   []requirements.Transition `json:"effects,omitempty"`
	Evaluated []string                  `json:"evaluated,omitempty"`
}

// Blocked reports whether the action must not proceed.
func (d *Decision) Blocked() bool {
	return d.Decision == Block
}

// BlockingKeys returns the keys of every unmet blocking requirement.
func (d *Decision) BlockingKeys() []string {
	keys := make([]string, 0, len(d.Reasons))
	for _, r := range d.Reasons {
		keys = append(keys, r.Key)
	}
	return keys
}

// Reason joins every block reason into one human-readable line.
func (d *Decision) Reason() string {
	return joinReasons(d.Reasons)
}

// Warning joins every advisory warning into one human-readable line.
func (d *Decision) Warning() string {
	return joinReasons(d.Warnings)
}

func joinReasons(rs []Reason) string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		s := r.Key + ": " + r.Message
		if r.Hint != "" {
			s += " (" + r.Hint + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

// Gate evaluates events against a policy.
type Gate struct {
	store   StateStore
	logger  *logging.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gate) { g.logger = l.Named("gate") }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gate) { g.tracer = t }
}

// New creates a gate over store.
func New(store StateStore, opts ...Option) *Gate {
	g := &Gate{
		store:  store,
		logger: logging.Nop(),
		tracer: otel.Tracer(InstrumentationName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate evaluates ev against policy using store with default options.
func Evaluate(ctx context.Context, ev Event, policy *config.Policy, store StateStore) (*Decision, error) {
	return New(store).Evaluate(ctx, ev, policy)
}

// ScopeFor returns the state scope id a requirement uses for ev.
func ScopeFor(r config.Requirement, ev Event) string {
	if r.Scope == config.ScopeSession {
		return requirements.SessionScope(ev.SessionID)
	}
	branch := ev.Branch
	if branch == "" {
		branch = DetachedBranch
	}
	return requirements.BranchScope(branch)
}

// Evaluate decides ev. Storage failures produce a block decision, not an
// error; the error return is reserved for unusable input.
func (g *Gate) Evaluate(ctx context.Context, ev Event, policy *config.Policy) (*Decision, error) {
	if policy == nil {
		return nil, fmt.Errorf("gate: policy is required")
	}
	if ev.SessionID == "" {
		return nil, fmt.Errorf("gate: event has no session id")
	}
	start := g.now()
	ctx = logging.WithSessionID(logging.WithBranch(ctx, ev.Branch), ev.SessionID)
	ctx, span := g.tracer.Start(ctx, "gate.Evaluate", trace.WithAttributes(
		attribute.String("hook", string(ev.Hook)),
		attribute.String("tool", ev.ToolName),
	))
	defer span.End()

	d, err := g.evaluate(ctx, ev, policy)
	if err != nil {
		d = failClosed(d, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fail closed")
		g.logger.Error(ctx, "gate failed closed", zap.Error(err))
	}
	span.SetAttributes(attribute.String("decision", d.Decision), attribute.Int("reasons", len(d.Reasons)))
	g.metrics.record(ctx, d, g.now().Sub(start))

	if d.Blocked() {
		g.logger.Info(ctx, "gate blocked action",
			zap.String("tool", ev.ToolName), zap.Strings("requirements", d.BlockingKeys()))
	} else {
		g.logger.Trace(ctx, "gate allowed action",
			zap.String("tool", ev.ToolName), zap.Int("warnings", len(d.Warnings)))
	}
	return d, nil
}

func (g *Gate) evaluate(ctx context.Context, ev Event, policy *config.Policy) (*Decision, error) {
	d := &Decision{Decision: Allow}
	reqs := policy.RequirementList()

	// Satisfaction comes first so an action that completes a requirement is
	// not blocked by it.
	if ev.Skill != "" {
		for _, r := range reqs {
			if !satisfies(r, ev.Skill) {
				continue
			}
			_, tr, err := g.store.SetStatus(ctx, ScopeFor(r, ev), r.Key, requirements.StatusSatisfied, ev.Skill, "")
			if err != nil {
				if errors.Is(err, requirements.ErrInvalidTransition) {
					continue
				}
				return d, err
			}
			if tr.Changed {
				d.Effects = append(d.Effects, tr)
			}
		}
	}

	for _, r := range reqs {
		if !Matches(r.Trigger, ev) {
			continue
		}
		d.Evaluated = append(d.Evaluated, r.Key)

		st, tr, err := g.store.Ensure(ctx, ScopeFor(r, ev), r.Key, ActorGate)
		if err != nil {
			return d, err
		}
		if tr.Changed {
			d.Effects = append(d.Effects, tr)
		}
		if st.Status != requirements.StatusOpen {
			continue
		}
		reason := Reason{Key: r.Key, Message: r.Message, Hint: r.Hint}
		if r.Severity == config.SeverityBlocking {
			d.Reasons = append(d.Reasons, reason)
		} else {
			d.Warnings = append(d.Warnings, reason)
		}
	}

	if len(d.Reasons) > 0 {
		d.Decision = Block
	}
	return d, nil
}

// failClosed turns a partial decision into a block. Effects already
// committed are kept so the session record stays accurate.
func failClosed(d *Decision, err error) *Decision {
	if d == nil {
		d = &Decision{}
	}
	d.Decision = Block
	d.Reasons = []Reason{{
		Key:     ReasonStorageUnavailable,
		Message: err.Error(),
		Hint:    "requirement state could not be read; retry or check the storage directory",
	}}
	d.Warnings = nil
	return d
}
