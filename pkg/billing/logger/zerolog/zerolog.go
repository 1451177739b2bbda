// Package zerolog adapts github.com/rs/zerolog to billing.Logger.
package zerolog

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

// Logger implements billing.Logger using zerolog.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new zerolog logger adapter.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Debug(msg string, fields ...billing.Field) {
	l.log(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...billing.Field) {
	l.log(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...billing.Field) {
	l.log(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...billing.Field) {
	l.log(l.logger.Error(), msg, fields)
}

func (l *Logger) log(event *zerolog.Event, msg string, fields []billing.Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		event = appendField(event, f)
	}
	event.Msg(msg)
}

// appendField encodes the value types reconciliation logs with their typed
// zerolog encoders; anything else goes through Interface.
func appendField(event *zerolog.Event, f billing.Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case error:
		// errors marshal to {} through Interface
		return event.AnErr(f.Key, v)
	case string:
		return event.Str(f.Key, v)
	case int:
		return event.Int(f.Key, v)
	case int64:
		return event.Int64(f.Key, v)
	case *int64:
		if v == nil {
			return event.Interface(f.Key, nil)
		}
		return event.Int64(f.Key, *v)
	case time.Time:
		return event.Time(f.Key, v)
	case time.Duration:
		return event.Dur(f.Key, v)
	case []string:
		return event.Strs(f.Key, v)
	case fmt.Stringer:
		// failover states and stripe enum types
		return event.Stringer(f.Key, v)
	default:
		return event.Interface(f.Key, v)
	}
}
