package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers outcome messages back to the user's chat channel.
// Address resolution is the implementation's problem. Delivery is best
// effort: the transaction record is the source of truth and a failed
// send is never retried here.
type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

// LogNotifier writes the message to the log instead of a channel.
// Used until a real channel sender is wired in, and in tests.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, userID, message string) error {
	n.logger.Info("notification",
		zap.String("user_id", userID),
		zap.String("message", message),
	)
	return nil
}
