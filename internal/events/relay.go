package events

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pulse-cli/internal/model"
	"github.com/sells-group/pulse-cli/internal/resilience"
)

// Source is the persisted outbox.
type Source interface {
	PendingEvents(ctx context.Context, limit int) ([]model.Event, error)
	MarkPublished(ctx context.Context, ids []string) error
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithBatchSize sets how many rows are read per publish. Default: 100.
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithPolicy sets the retry policy around each publish.
func WithPolicy(p resilience.Policy) RelayOption {
	return func(r *Relay) { r.policy = p }
}

// WithBreaker sets the circuit breaker around each publish.
func WithBreaker(b *resilience.Breaker) RelayOption {
	return func(r *Relay) { r.breaker = b }
}

// WithRelayLogger sets the logger.
func WithRelayLogger(l *zap.Logger) RelayOption {
	return func(r *Relay) { r.log = l }
}

// Relay moves pending outbox rows to a Publisher. Delivery is at least
// once: a crash between publish and mark republishes the batch.
type Relay struct {
	src     Source
	pub     Publisher
	batch   int
	policy  resilience.Policy
	breaker *resilience.Breaker
	log     *zap.Logger
}

// NewRelay builds a relay from src to pub.
func NewRelay(src Source, pub Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		src:    src,
		pub:    pub,
		batch:  100,
		policy: resilience.DefaultPolicy(),
		log:    zap.L(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = resilience.NewBreaker(resilience.BreakerConfig{})
	}
	if r.policy.OnRetry == nil {
		r.policy.OnRetry = resilience.LogRetries(r.log, "relay", "publish")
	}
	return r
}

// Flush publishes pending events batch by batch until none are left or a
// batch fails. It returns how many events were published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var total int
	for {
		pending, err := r.src.PendingEvents(ctx, r.batch)
		if err != nil {
			return total, eris.Wrap(err, "events: read outbox")
		}
		if len(pending) == 0 {
			return total, nil
		}

		err = r.breaker.Do(ctx, func(ctx context.Context) error {
			return resilience.Retry(ctx, r.policy, func(ctx context.Context) error {
				return r.pub.Publish(ctx, pending)
			})
		})
		if err != nil {
			r.log.Error("events: publish failed",
				zap.Int("batch", len(pending)),
				zap.String("breaker", r.breaker.State().String()),
				zap.Error(err),
			)
			return total, eris.Wrap(err, "events: publish batch")
		}

		ids := make([]string, len(pending))
		for i, ev := range pending {
			ids[i] = ev.ID
		}
		if err := r.src.MarkPublished(ctx, ids); err != nil {
			return total, eris.Wrap(err, "events: mark published")
		}
		total += len(pending)
		r.log.Debug("events: batch published", zap.Int("count", len(pending)))

		if len(pending) < r.batch {
			return total, nil
		}
	}
}
