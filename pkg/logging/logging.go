// Package logging builds the zap loggers used by both processes.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// New returns a development logger when debug is set and a production logger
// otherwise. logFile replaces the default output when not empty.
func New(debug bool, logFile string) (*zap.Logger, error) {
	var conf zap.Config
	if debug {
		conf = zap.NewDevelopmentConfig()
	} else {
		conf = zap.NewProductionConfig()
	}
	if logFile != "" {
		conf.OutputPaths = []string{logFile}
		conf.ErrorOutputPaths = []string{logFile}
	}
	return conf.Build()
}

// FromEnv calls New with DEBUG=true and LOGFILE.
func FromEnv() (*zap.Logger, error) {
	return New(os.Getenv("DEBUG") == "true", os.Getenv("LOGFILE"))
}

// EventLogger logs every event crossing the bridge at debug level.
type EventLogger struct {
	logger *zap.Logger
}

// NewEventLogger returns an EventLogger writing to logger.
func NewEventLogger(logger *zap.Logger) *EventLogger {
	return &EventLogger{logger: logger.Named("events")}
}

// Enabled reports whether events are logged at all, so callers can skip
// building fields on the audio thread.
func (l *EventLogger) Enabled() bool {
	return l.logger.Core().Enabled(zapcore.DebugLevel)
}

func direction(dir wire.Direction) string {
	if dir == wire.Dispatch {
		return "host -> plugin"
	}
	return "plugin -> host"
}

// LogEvent logs an outgoing or incoming request.
func (l *EventLogger) LogEvent(dir wire.Direction, ev *wire.Event) {
	if ce := l.logger.Check(zapcore.DebugLevel, direction(dir)); ce != nil {
		fields := []zap.Field{
			zap.String("opcode", wire.OpcodeName(dir, ev.Opcode)),
			zap.Int32("index", ev.Index),
			zap.Int64("value", ev.Value),
			zap.Stringer("payload", wire.KindOf(ev.Payload)),
			zap.Float32("option", ev.Option),
		}
		if s, ok := ev.Payload.(wire.String); ok {
			fields = append(fields, zap.String("string", string(s)))
		}
		ce.Write(fields...)
	}
}

// LogResult logs the response to ev. fromCache marks responses answered
// locally without a roundtrip.
func (l *EventLogger) LogResult(dir wire.Direction, opcode int32, res *wire.EventResult, fromCache bool) {
	if ce := l.logger.Check(zapcore.DebugLevel, direction(dir)+" result"); ce != nil {
		fields := []zap.Field{
			zap.String("opcode", wire.OpcodeName(dir, opcode)),
			zap.Int64("return", res.ReturnValue),
			zap.Stringer("payload", wire.KindOf(res.Payload)),
		}
		switch p := res.Payload.(type) {
		case wire.String:
			fields = append(fields, zap.String("string", string(p)))
		case wire.Chunk:
			fields = append(fields, zap.Int("bytes", len(p)))
		}
		if fromCache {
			fields = append(fields, zap.Bool("cached", true))
		}
		ce.Write(fields...)
	}
}
