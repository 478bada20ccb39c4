package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqgate/internal/config"
	"github.com/fyrsmithlabs/reqgate/internal/engine"
	"github.com/fyrsmithlabs/reqgate/internal/logging"
	"github.com/fyrsmithlabs/reqgate/internal/secrets"
	"github.com/fyrsmithlabs/reqgate/internal/telemetry"
)

// app is an opened project: engine plus the ambient logger and telemetry.
type app struct {
	engine    *engine.Engine
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

// openApp loads the policy once and builds the logger, telemetry and engine
// from it.
func openApp(ctx context.Context, opts *globalOptions) (*app, error) {
	sources := config.DefaultSources(opts.root)
	envPrefix := config.EnvPrefix
	if opts.noEnv {
		envPrefix = ""
	}
	var (
		policy *config.Policy
		err    error
	)
	if envPrefix != "" {
		policy, err = config.LoadWithEnv(sources, envPrefix)
	} else {
		policy, err = config.Load(sources)
	}
	if err != nil {
		return nil, err
	}

	logCfg := policy.Logging
	if opts.logLevel != "" {
		logCfg.Level = opts.logLevel
	}
	lc, err := logging.FromPolicy(logCfg)
	if err != nil {
		return nil, &config.ConfigError{Source: "logging", Err: err}
	}
	scrubber, err := secrets.New(secrets.FromPolicy(policy.Secrets))
	if err != nil {
		return nil, &config.ConfigError{Source: "secrets", Err: err}
	}
	lc.Redaction.Scrubber = scrubber

	tel, err := telemetry.New(ctx, telemetry.FromPolicy(policy.Telemetry, version))
	if err != nil {
		return nil, &config.ConfigError{Source: "telemetry", Err: err}
	}
	if tel.IsEnabled() {
		lc.Output.OTEL = true
	}
	logger, err := logging.NewLogger(lc, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("error", h.Error))
	}

	eng, err := engine.New(ctx, engine.Options{
		Root:      opts.root,
		Sources:   sources,
		EnvPrefix: envPrefix,
		Policy:    policy,
		Logger:    logger,
		Telemetry: tel,
	})
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	return &app{engine: eng, logger: logger, telemetry: tel}, nil
}

// Close flushes telemetry and logs.
func (a *app) Close(ctx context.Context) {
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	if n := a.logger.Dropped(); n > 0 {
		a.logger.Debug(ctx, "log entries sampled out", zap.Uint64("dropped", n))
	}
	_ = a.logger.Sync()
}

// withApp opens the project for the duration of fn.
func withApp(ctx context.Context, opts *globalOptions, fn func(a *app) error) error {
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	return fn(a)
}
