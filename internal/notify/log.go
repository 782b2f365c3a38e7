// internal/notify/log.go
package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes notifications to the process log. Used when no chat
// token is configured so the rest of the system behaves identically.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("log_sender")}
}

// Send logs the message instead of delivering it.
func (s *LogSender) Send(_ context.Context, chatID int64, text string) error {
	s.logger.Info("Notification",
		zap.Int64("chat_id", chatID),
		zap.String("text", text))
	return nil
}

// Name returns the sender identifier.
func (s *LogSender) Name() string {
	return "log"
}
