// Package notify delivers chat notifications for the risk monitor. Delivery
// is fire-and-forget: sender failures are logged and never surface to the
// monitoring loop.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a message to the given chat.
	Send(ctx context.Context, chatID int64, text string) error
	// Name identifies the channel, e.g. "telegram".
	Name() string
}

// Notifier wraps a Sender with best-effort semantics.
type Notifier struct {
	sender Sender
	logger *zap.Logger
}

// NewNotifier creates a best-effort notifier over the given sender.
func NewNotifier(sender Sender, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		logger: logger.Named("notifier"),
	}
}

// Notify sends text to the chat. Errors are logged, not returned.
func (n *Notifier) Notify(ctx context.Context, chatID int64, text string) {
	if err := n.sender.Send(ctx, chatID, text); err != nil {
		n.logger.Error("Notification failed",
			zap.String("sender", n.sender.Name()),
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		return
	}
	n.logger.Debug("Notification sent",
		zap.String("sender", n.sender.Name()),
		zap.Int64("chat_id", chatID))
}
