package worker

import (
	"context"
	"errors"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/pkg/logger"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/mq"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"go.uber.org/zap"
)

// stageContext bounds one task execution so a hung blob-store or database
// call fails the attempt instead of stalling the queue lane. The deadline
// error takes the same retry path as any other failure.
func stageContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// errSkip drops a task without failing anything, e.g. when the session was
// cancelled while the task sat in the queue.
var errSkip = errors.New("task no longer applicable")

// isPermanent reports whether the error must never be retried.
func isPermanent(err error) bool {
	return errors.Is(err, xerr.ErrSecurityRejected) ||
		errors.Is(err, xerr.ErrMissingChunk) ||
		errors.Is(err, xerr.ErrCorruptState) ||
		errors.Is(err, xerr.ErrUploadSessionNotFound) ||
		errors.Is(err, xerr.ErrFileNotFound) ||
		errors.Is(err, xerr.ErrInvalidTransition)
}

// retryAfterBackoff schedules a republish of the task with an incremented
// attempt counter after the stage delay. The timer runs off the consumer
// goroutine so the lane keeps draining while a task backs off. It returns
// false when the attempt budget is exhausted or the task cannot be
// marshaled, in which case the caller gives up.
func retryAfterBackoff(pub mq.Publisher, queue string, attempt int, policy RetryPolicy, marshal func(nextAttempt int) ([]byte, error)) bool {
	delay, ok := policy.Next(attempt)
	if !ok {
		return false
	}

	body, err := marshal(attempt + 1)
	if err != nil {
		logger.Error("Failed to marshal retry task", zap.String("queue", queue), zap.Error(err))
		return false
	}

	time.AfterFunc(delay, func() {
		if err := pub.Publish(queue, body); err != nil {
			logger.Error("Failed to republish retry task", zap.String("queue", queue), zap.Error(err))
		}
	})
	logger.Warn("Task requeued for retry",
		zap.String("queue", queue), zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
	return true
}
