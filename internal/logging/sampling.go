package logging

import (
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

type samplingStats struct {
	dropped atomic.Uint64
}

// newSampledCore rate-limits repeated entries below error. A busy session can
// emit the same "event recorded" line hundreds of times a minute; errors and
// blocks are never sampled.
func newSampledCore(core zapcore.Core, cfg SamplingConfig, stats *samplingStats) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	hook := zapcore.SamplerHook(func(_ zapcore.Entry, dec zapcore.SamplingDecision) {
		if dec&zapcore.LogDropped != 0 {
			stats.dropped.Add(1)
		}
	})
	return &errorBypassCore{
		Core:    core,
		sampled: zapcore.NewSamplerWithOptions(core, cfg.Tick, cfg.Initial, cfg.Thereafter, hook),
	}
}

// errorBypassCore sends error-and-above entries straight to the wrapped
// core and everything else through the sampler.
type errorBypassCore struct {
	zapcore.Core
	sampled zapcore.Core
}

func (c *errorBypassCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if e.Level >= zapcore.ErrorLevel {
		return c.Core.Check(e, ce)
	}
	return c.sampled.Check(e, ce)
}

func (c *errorBypassCore) With(fields []zapcore.Field) zapcore.Core {
	return &errorBypassCore{Core: c.Core.With(fields), sampled: c.sampled.With(fields)}
}
