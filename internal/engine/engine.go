// Package engine wires the policy, requirement gate, session collector and
// learning history into the operations the CLI and daemon expose.
//
// The effective policy is loaded once when the engine is created and is
// replaced only by Reload. Gate evaluation never waits on learning work:
// analysis reads a sealed session and a history snapshot and holds no lock
// the gate needs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqgate/internal/config"
	"github.com/fyrsmithlabs/reqgate/internal/gate"
	"github.com/fyrsmithlabs/reqgate/internal/hooks"
	"github.com/fyrsmithlabs/reqgate/internal/learning"
	"github.com/fyrsmithlabs/reqgate/internal/logging"
	"github.com/fyrsmithlabs/reqgate/internal/requirements"
	"github.com/fyrsmithlabs/reqgate/internal/secrets"
	"github.com/fyrsmithlabs/reqgate/internal/sessions"
	"github.com/fyrsmithlabs/reqgate/internal/storage"
	"github.com/fyrsmithlabs/reqgate/internal/telemetry"
	"github.com/fyrsmithlabs/reqgate/internal/vcs"
)

// Errors returned by the engine.
var (
	ErrUnknownRequirement = errors.New("unknown requirement")
	ErrSessionRequired    = errors.New("requirement is session scoped; a session id is required")
)

// ActorCLI is recorded for changes made by a person through the CLI.
const ActorCLI = "cli"

// Options configures an Engine.
type Options struct {
	// Root is the project directory. Relative storage and artifact
	// directories resolve against it.
	Root string

	// Sources overrides the config cascade. Nil uses config.DefaultSources(Root).
	Sources []config.Source

	// EnvPrefix enables the environment layer when non-empty.
	EnvPrefix string

	// Policy, when set, is used instead of loading the cascade at startup.
	// It must come from the same Sources. Reload always reads the cascade.
	Policy *config.Policy

	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry

	// DetectBranch returns the branch for a working directory. Nil uses git.
	DetectBranch func(dir string) string

	Now func() time.Time
}

// Engine is the reqgate runtime for one project.
type Engine struct {
	opts    Options
	logger  *logging.Logger
	sources []config.Source

	mu        sync.RWMutex
	policy    *config.Policy
	store     *requirements.Store
	collector *sessions.Collector
	history   *learning.Manager
	gate      *gate.Gate
	hooks     *hooks.HookManager
}

// New loads the policy and opens the stores.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Root == "" {
		opts.Root = "."
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	opts.Root = root
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DetectBranch == nil {
		opts.DetectBranch = func(dir string) string { return vcs.Detect(dir, gate.DetachedBranch) }
	}

	e := &Engine{opts: opts, logger: opts.Logger.Named("engine"), sources: opts.Sources}
	if e.sources == nil {
		e.sources = config.DefaultSources(root)
	}

	policy := opts.Policy
	if policy == nil {
		if policy, err = e.loadPolicy(); err != nil {
			return nil, err
		}
	}
	if err := e.install(policy); err != nil {
		return nil, err
	}
	e.logger.Debug(ctx, "engine ready",
		zap.Strings("sources", policy.Sources), zap.Int("requirements", len(policy.Requirements)))
	return e, nil
}

func (e *Engine) loadPolicy() (*config.Policy, error) {
	if e.opts.EnvPrefix != "" {
		return config.LoadWithEnv(e.sources, e.opts.EnvPrefix)
	}
	return config.Load(e.sources)
}

func (e *Engine) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(e.opts.Root, dir)
}

// install builds the components for policy and swaps them in.
func (e *Engine) install(policy *config.Policy) error {
	docs, err := storage.New(e.resolve(policy.Storage.Dir), policy.Storage.IOTimeout)
	if err != nil {
		return err
	}
	artifacts, err := learning.NewArtifacts(e.resolve(policy.Artifacts.Dir))
	if err != nil {
		return err
	}
	scrubber, err := secrets.New(secrets.FromPolicy(policy.Secrets))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	tel := e.opts.Telemetry
	metrics, err := gate.NewMetrics(tel.Meter(gate.InstrumentationName))
	if err != nil {
		return fmt.Errorf("gate metrics: %w", err)
	}

	store := requirements.NewStore(docs, e.opts.Logger)
	g := gate.New(store,
		gate.WithLogger(e.opts.Logger),
		gate.WithMetrics(metrics),
		gate.WithTracer(tel.Tracer(gate.InstrumentationName)),
	)
	collector := sessions.NewCollector(docs,
		sessions.WithScrubber(scrubber),
		sessions.WithLogger(e.opts.Logger),
		sessions.WithReorderWindow(policy.SessionLearning().ReorderWindow),
		sessions.WithClock(e.opts.Now),
	)
	history := learning.NewManager(docs, artifacts,
		learning.WithScrubber(scrubber),
		learning.WithLogger(e.opts.Logger),
	)
	hm := hooks.NewHookManager(policy.SessionLearning())
	e.registerHandlers(hm)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = policy
	e.store = store
	e.collector = collector
	e.history = history
	e.gate = g
	e.hooks = hm
	return nil
}

// Reload re-reads the config cascade. On failure the current policy stays
// in effect.
func (e *Engine) Reload(ctx context.Context) (*config.Policy, error) {
	policy, err := e.loadPolicy()
	if err != nil {
		e.logger.Warn(ctx, "policy reload failed, keeping current policy", zap.Error(err))
		return nil, err
	}
	if err := e.install(policy); err != nil {
		return nil, err
	}
	if policy.Logging.Level != "" {
		if lvl, err := logging.LevelFromString(policy.Logging.Level); err == nil && lvl != e.logger.Level() {
			e.logger.SetLevel(lvl)
		}
	}
	e.logger.Info(ctx, "policy reloaded", zap.Strings("sources", policy.Sources))
	return policy, nil
}

// Policy returns the effective policy.
func (e *Engine) Policy() *config.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// Root returns the project directory.
func (e *Engine) Root() string {
	return e.opts.Root
}

// ConfigPaths returns the cascade files, for watching.
func (e *Engine) ConfigPaths() []string {
	return config.Paths(e.sources)
}

type components struct {
	policy    *config.Policy
	store     *requirements.Store
	collector *sessions.Collector
	history   *learning.Manager
	gate      *gate.Gate
	hooks     *hooks.HookManager
}

func (e *Engine) current() components {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return components{e.policy, e.store, e.collector, e.history, e.gate, e.hooks}
}

// Branch returns the branch for dir, or the project root when dir is empty.
func (e *Engine) Branch(dir string) string {
	if dir == "" {
		dir = e.opts.Root
	}
	return e.opts.DetectBranch(dir)
}

// HandleEvent evaluates ev and records it to the session. Recording failures
// are logged and never change the decision.
func (e *Engine) HandleEvent(ctx context.Context, ev gate.Event) (*gate.Decision, error) {
	c := e.current()
	if ev.Branch == "" {
		ev.Branch = e.Branch("")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.opts.Now().UTC()
	}
	ctx = logging.WithSessionID(logging.WithBranch(ctx, ev.Branch), ev.SessionID)

	d, err := c.gate.Evaluate(ctx, ev, c.policy)
	if err != nil {
		return nil, err
	}
	if recordable(ev, d) {
		if err := c.collector.Record(ctx, ev.SessionID, sessionEvent(ev, d)); err != nil {
			e.logger.Warn(ctx, "recording session event failed", zap.Error(err))
		}
	}
	return d, nil
}

// recordable keeps one event per tool invocation (the PreToolUse) plus any
// other hook that completed a skill or changed requirement state. Blocked
// attempts are kept for their effects and marked by sessionEvent.
func recordable(ev gate.Event, d *gate.Decision) bool {
	return ev.Hook == hooks.HookPreToolUse || ev.Skill != "" || len(d.Effects) > 0
}

func sessionEvent(ev gate.Event, d *gate.Decision) sessions.Event {
	return sessions.Event{
		EventType: ev.Hook,
		ToolName:  ev.ToolName,
		FilePath:  ev.FilePath,
		Query:     ev.Query,
		Command:   ev.Command,
		Skill:     ev.Skill,
		Branch:    ev.Branch,
		Timestamp: ev.Timestamp,
		Blocked:   d.Blocked(),
		Effects:   d.Effects,
	}
}
