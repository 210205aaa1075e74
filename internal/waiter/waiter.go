package waiter

import (
	"context"
	"fmt"
	"time"

	"shotty/pkg/cloud"
	"shotty/pkg/models"

	"github.com/sirupsen/logrus"
)

// StateGetter is the part of the cloud provider the waiter polls
type StateGetter interface {
	GetInstanceState(ctx context.Context, instanceID string) (models.InstanceState, error)
}

// Waiter polls an instance until it reaches a target state or the timeout passes
type Waiter struct {
	provider StateGetter
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewWaiter creates a waiter polling every interval for at most timeout
func NewWaiter(provider StateGetter, interval, timeout time.Duration, logger *logrus.Logger) *Waiter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Waiter{
		provider: provider,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// WaitForState blocks until the instance reports target. It returns an error
// wrapping cloud.ErrWaitTimeout when the bound is exceeded, and fails early
// once the instance is shutting down or terminated.
func (w *Waiter) WaitForState(ctx context.Context, instanceID string, target models.InstanceState) error {
	waitCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logger := w.logger.WithFields(logrus.Fields{
		"instance_id": instanceID,
		"target":      target,
	})

	var (
		last     models.InstanceState
		lastErr  error
		attempts int
		started  = time.Now()
	)

	for {
		attempts++
		state, err := w.provider.GetInstanceState(waitCtx, instanceID)
		switch {
		case err != nil:
			lastErr = err
			logger.WithError(err).WithField("attempt", attempts).Debug("Failed to poll instance state")
		case state == target:
			logger.WithFields(logrus.Fields{
				"attempts": attempts,
				"elapsed":  time.Since(started),
			}).Debug("Instance reached target state")
			return nil
		case state.IsGone() && target != models.InstanceStateTerminated:
			return fmt.Errorf("instance %s is %s and will never be %s", instanceID, state, target)
		default:
			last = state
			logger.WithFields(logrus.Fields{
				"state":   state,
				"attempt": attempts,
			}).Debug("Waiting for instance state")
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if last == "" && lastErr != nil {
				return fmt.Errorf("%w after %s (%d polls): %v", cloud.ErrWaitTimeout, w.timeout, attempts, lastErr)
			}
			return fmt.Errorf("%w after %s (%d polls): instance %s still %s", cloud.ErrWaitTimeout, w.timeout, attempts, instanceID, last)
		case <-ticker.C:
		}
	}
}
