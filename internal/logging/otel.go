package logging

import (
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// stderr is swapped in tests.
var stderr io.Writer = os.Stderr

// newCore creates a core writing to stderr and/or an OTEL log provider.
func newCore(cfg *Config, level zapcore.LevelEnabler, otelProvider log.LoggerProvider, stats *samplingStats) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stderr {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(stderr)), level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, &levelGate{Core: otelzap.NewCore("reqgate", otelzap.WithLoggerProvider(otelProvider)), level: level})
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}
	return newSampledCore(core, cfg.Sampling, stats), nil
}

// levelGate applies the shared atomic level to the OTEL core, which has no
// level of its own.
type levelGate struct {
	zapcore.Core
	level zapcore.LevelEnabler
}

func (g *levelGate) Enabled(l zapcore.Level) bool {
	return g.level.Enabled(l) && g.Core.Enabled(l)
}

func (g *levelGate) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !g.level.Enabled(e.Level) {
		return ce
	}
	return g.Core.Check(e, ce)
}

func (g *levelGate) With(fields []zapcore.Field) zapcore.Core {
	return &levelGate{Core: g.Core.With(fields), level: g.level}
}
