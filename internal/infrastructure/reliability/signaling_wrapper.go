package reliability

import (
	"context"
	"errors"
	"fmt"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/circuitbreaker"
	"callmesh/pkg/retry"

	"go.uber.org/zap"
)

// SignalingWrapper wraps a SignalingAdapter with retry logic and a circuit
// breaker around publishes. A tripped breaker surfaces as
// domain.ErrSignalingUnavailable so sessions fail the same way they do on a
// lost transport. Auth rejections pass through untouched and are never
// retried; re-sending with a dead token cannot succeed.
type SignalingWrapper struct {
	adapter ports.SignalingAdapter
	logger  *zap.SugaredLogger

	retryConfig retry.Config
	breaker     *circuitbreaker.CircuitBreaker
}

func NewSignalingWrapper(
	adapter ports.SignalingAdapter,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *SignalingWrapper {
	w := &SignalingWrapper{
		adapter:     adapter,
		logger:      logger,
		retryConfig: retryConfig,
		breaker:     circuitbreaker.New(cbConfig),
	}

	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("signaling circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

var _ ports.SignalingAdapter = (*SignalingWrapper)(nil)

// Subscribe is not retried. A failed subscribe means the session cannot
// start at all and the caller reports SignalingUnavailable immediately.
func (w *SignalingWrapper) Subscribe(ctx context.Context, channel domain.ChannelID) (<-chan domain.SignalingMessage, error) {
	return w.adapter.Subscribe(ctx, channel)
}

// Publish sends through the breaker with retry. Signaling is at-least-once
// so replaying a publish that may have already landed is safe; receivers
// deduplicate by sequence number.
func (w *SignalingWrapper) Publish(ctx context.Context, channel domain.ChannelID, msg domain.SignalingMessage) error {
	if !w.retryConfig.Enabled {
		return w.translate(w.breaker.Execute(ctx, func() error {
			return w.adapter.Publish(ctx, channel, msg)
		}))
	}

	err := retry.Retry(ctx, w.retryConfig, func() error {
		err := w.breaker.Execute(ctx, func() error {
			return w.adapter.Publish(ctx, channel, msg)
		})
		if errors.Is(err, domain.ErrAuthExpired) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		w.logger.Warnw("publish failed after retries",
			"channel", channel,
			"kind", msg.Kind,
			"error", err,
		)
	}
	return w.translate(err)
}

func (w *SignalingWrapper) Unsubscribe(channel domain.ChannelID) error {
	return w.adapter.Unsubscribe(channel)
}

// Stats exposes the breaker state for the health endpoint.
func (w *SignalingWrapper) Stats() circuitbreaker.Stats {
	return w.breaker.GetStats()
}

func (w *SignalingWrapper) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("signaling plane rejected by breaker: %w", domain.ErrSignalingUnavailable)
	}
	return err
}
