package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger over rs/zerolog. Grounded on
// soyeahso-hunter3's internal/logging.Logger: a root logger built from a
// writer and a level string, with Sub returning a subsystem-tagged child.
type ZerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger builds a root Logger writing to w at the given level. A
// nil w defaults to a pretty console writer on stderr, matching the
// teacher's dev-mode default.
func NewZerologLogger(w io.Writer, level string) *ZerologLogger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).With().Timestamp().Logger().Level(parseLevel(level))
	return &ZerologLogger{zl: zl}
}

// Sub returns a child logger tagged with a subsystem name (e.g. "runmgr",
// "dispatcher").
func (l *ZerologLogger) Sub(subsystem string) *ZerologLogger {
	return &ZerologLogger{zl: l.zl.With().Str("subsystem", subsystem).Logger()}
}

// SetLevel adjusts the minimum level this logger emits at. Lets
// internal/config.Watcher hot-swap LOG_LEVEL without a process restart.
func (l *ZerologLogger) SetLevel(level string) {
	l.zl = l.zl.Level(parseLevel(level))
}

func (l *ZerologLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	l.zl.Debug().Fields(keyvalsToFields(keyvals)).Msg(msg)
}

func (l *ZerologLogger) Info(_ context.Context, msg string, keyvals ...any) {
	l.zl.Info().Fields(keyvalsToFields(keyvals)).Msg(msg)
}

func (l *ZerologLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	l.zl.Warn().Fields(keyvalsToFields(keyvals)).Msg(msg)
}

func (l *ZerologLogger) Error(_ context.Context, msg string, keyvals ...any) {
	l.zl.Error().Fields(keyvalsToFields(keyvals)).Msg(msg)
}

// keyvalsToFields pairs up (k1, v1, k2, v2, ...) into a map zerolog.Fields
// accepts. An odd trailing key is paired with nil rather than dropped.
func keyvalsToFields(keyvals []any) map[string]any {
	fields := make(map[string]any, len(keyvals)/2+1)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var val any
		if i+1 < len(keyvals) {
			val = keyvals[i+1]
		}
		fields[key] = val
	}
	return fields
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "silent":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
