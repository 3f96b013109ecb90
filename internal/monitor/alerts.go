package monitor

import (
	"go.uber.org/zap"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string, fields ...zap.Field) error
}

// LogSink writes alerts to a logger at error level.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Send(message string, fields ...zap.Field) error {
	s.Log.Error(message, fields...)
	return nil
}
