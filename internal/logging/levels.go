package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below debug and carries per-event gate detail.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name. "trace" is accepted in addition to
// the zap names.
func LevelFromString(level string) (zapcore.Level, error) {
	if strings.EqualFold(level, "trace") {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// LevelName is the inverse of LevelFromString.
func LevelName(l zapcore.Level) string {
	if l == TraceLevel {
		return "trace"
	}
	return l.String()
}

func levelEncoder(color bool) zapcore.LevelEncoder {
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		switch {
		case l != TraceLevel:
			if color {
				zapcore.CapitalColorLevelEncoder(l, enc)
			} else {
				zapcore.LowercaseLevelEncoder(l, enc)
			}
		case color:
			enc.AppendString("\x1b[90mTRACE\x1b[0m")
		default:
			enc.AppendString("trace")
		}
	}
}
