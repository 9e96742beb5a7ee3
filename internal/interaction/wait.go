package interaction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/bus"
)

// DefaultLoginWait bounds how long a task blocks on a login confirmation.
const DefaultLoginWait = 120 * time.Second

// WaitLoginConfirm blocks until someone confirms the login for contextID,
// the timeout passes, or ctx is cancelled. Timeouts and subscription
// failures are logged and treated as a go-ahead: the session check that
// follows decides whether the login actually happened, so waiting longer
// buys nothing. Only ctx cancellation returns an error.
func WaitLoginConfirm(ctx context.Context, sub bus.Subscriber, contextID string, timeout time.Duration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultLoginWait
	}

	topic := bus.LoginConfirmTopic(contextID)
	msgs, cancel, err := sub.Subscribe(ctx, topic)
	if err != nil {
		logger.Warn("login confirmation subscribe failed, proceeding",
			zap.String("topic", topic), zap.Error(err))
		return nil
	}
	defer cancel()

	logger.Info("waiting for login confirmation",
		zap.String("context_id", contextID),
		zap.Duration("timeout", timeout))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-msgs:
		logger.Info("login confirmation received", zap.String("context_id", contextID))
		return nil
	case <-timer.C:
		logger.Warn("login confirmation timed out, proceeding",
			zap.String("context_id", contextID),
			zap.Duration("timeout", timeout))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
