package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/stockrecon/internal/domain/reconciliation"
	"github.com/erp/stockrecon/internal/domain/shared"
	"github.com/erp/stockrecon/internal/infrastructure/event"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultChannel      = "stockrecon:reconciliation"
	defaultCloseTimeout = 5 * time.Second
	defaultPingTimeout  = 5 * time.Second
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Invalidator discards cached reconciliation figures
type Invalidator interface {
	Invalidate(ctx context.Context, reason string) uint64
}

// RedisChangeBroadcaster relays cache invalidations between engine instances
// over Redis Pub/Sub. Locally it subscribes to ReconciliationRecomputed events
// on the event bus and publishes them; remotely published events invalidate
// the local engine. Events caused by a remote invalidation are never relayed.
type RedisChangeBroadcaster struct {
	client     *redis.Client
	ownsClient bool
	channel    string
	origin     uuid.UUID
	serializer *event.EventSerializer
	logger     *zap.Logger

	cancelFn  context.CancelFunc
	doneCh    chan struct{}
	doneOnce  sync.Once
	mu        sync.Mutex
	isRunning bool

	published atomic.Int64
	received  atomic.Int64
}

// BroadcasterOption configures a RedisChangeBroadcaster
type BroadcasterOption func(*RedisChangeBroadcaster)

// WithChannel sets the Pub/Sub channel name
func WithChannel(channel string) BroadcasterOption {
	return func(b *RedisChangeBroadcaster) {
		if channel != "" {
			b.channel = channel
		}
	}
}

// WithBroadcasterLogger sets the logger
func WithBroadcasterLogger(logger *zap.Logger) BroadcasterOption {
	return func(b *RedisChangeBroadcaster) {
		b.logger = logger
	}
}

// NewRedisChangeBroadcaster connects to Redis and creates a broadcaster.
// origin identifies the local engine so its own messages are ignored.
func NewRedisChangeBroadcaster(cfg RedisConfig, origin uuid.UUID, opts ...BroadcasterOption) (*RedisChangeBroadcaster, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	b := NewRedisChangeBroadcasterWithClient(client, origin, opts...)
	b.ownsClient = true
	return b, nil
}

// NewRedisChangeBroadcasterWithClient creates a broadcaster on an existing
// client. The caller keeps ownership of the client.
func NewRedisChangeBroadcasterWithClient(client *redis.Client, origin uuid.UUID, opts ...BroadcasterOption) *RedisChangeBroadcaster {
	b := &RedisChangeBroadcaster{
		client:     client,
		channel:    defaultChannel,
		origin:     origin,
		serializer: event.NewReconciliationSerializer(),
		logger:     zap.NewNop(),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EventTypes implements shared.EventHandler
func (b *RedisChangeBroadcaster) EventTypes() []string {
	return []string{reconciliation.EventTypeReconciliationRecomputed}
}

// Handle implements shared.EventHandler by relaying local invalidations
func (b *RedisChangeBroadcaster) Handle(ctx context.Context, evt shared.DomainEvent) error {
	recomputed, ok := evt.(*reconciliation.ReconciliationRecomputedEvent)
	if !ok || !b.shouldRelay(recomputed) {
		return nil
	}
	return b.Publish(ctx, recomputed)
}

// shouldRelay skips remote invalidations and scheduled resyncs; every
// instance runs its own resync trigger.
func (b *RedisChangeBroadcaster) shouldRelay(evt *reconciliation.ReconciliationRecomputedEvent) bool {
	switch evt.Reason {
	case reconciliation.ReasonRemote, reconciliation.ReasonScheduled:
		return false
	}
	return evt.AggregateID() == b.origin
}

// Publish sends an event to every other engine instance
func (b *RedisChangeBroadcaster) Publish(ctx context.Context, evt shared.DomainEvent) error {
	data, err := b.serializer.Seal(b.origin, evt)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish invalidation",
			zap.String("channel", b.channel),
			zap.Error(err))
		return fmt.Errorf("failed to publish message: %w", err)
	}
	b.published.Add(1)
	b.logger.Debug("Published invalidation",
		zap.String("event_id", evt.EventID().String()),
		zap.String("channel", b.channel))
	return nil
}

// decode returns the remote event carried by a message, or false when the
// message is malformed, of another type, or was sent by this engine.
func (b *RedisChangeBroadcaster) decode(payload string) (*reconciliation.ReconciliationRecomputedEvent, bool) {
	env, evt, err := b.serializer.Open([]byte(payload))
	if err != nil {
		b.logger.Warn("Dropping undecodable invalidation message", zap.Error(err))
		return nil, false
	}
	if env.Origin == b.origin {
		return nil, false
	}
	recomputed, ok := evt.(*reconciliation.ReconciliationRecomputedEvent)
	return recomputed, ok
}

// Subscribe listens for invalidations from other engines and applies them to
// target. It blocks until ctx is cancelled or Close is called.
func (b *RedisChangeBroadcaster) Subscribe(ctx context.Context, target Invalidator) error {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return fmt.Errorf("subscription already running")
	}
	subCtx, cancel := context.WithCancel(ctx)
	b.isRunning = true
	b.cancelFn = cancel
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.isRunning = false
		b.mu.Unlock()
		b.markDone()
	}()

	pubsub := b.client.Subscribe(subCtx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	b.logger.Info("Subscribed to invalidation channel", zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			b.logger.Info("Invalidation subscription stopped")
			return subCtx.Err()
		case msg, ok := <-ch:
			if !ok {
				b.logger.Warn("Invalidation channel closed")
				return nil
			}
			b.apply(subCtx, target, msg.Payload)
		}
	}
}

func (b *RedisChangeBroadcaster) apply(ctx context.Context, target Invalidator, payload string) bool {
	evt, ok := b.decode(payload)
	if !ok {
		return false
	}
	b.received.Add(1)
	gen := target.Invalidate(ctx, reconciliation.ReasonRemote)
	b.logger.Debug("Applied remote invalidation",
		zap.String("origin", evt.AggregateID().String()),
		zap.String("remote_reason", evt.Reason),
		zap.Uint64("remote_generation", evt.Generation),
		zap.Uint64("generation", gen))
	return true
}

func (b *RedisChangeBroadcaster) markDone() {
	b.doneOnce.Do(func() {
		close(b.doneCh)
	})
}

// Ping checks the Redis connection
func (b *RedisChangeBroadcaster) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Stats returns how many invalidations were sent and applied
func (b *RedisChangeBroadcaster) Stats() (published, received int64) {
	return b.published.Load(), b.received.Load()
}

// Close stops the subscription and releases the client if owned
func (b *RedisChangeBroadcaster) Close() error {
	b.mu.Lock()
	cancelFn := b.cancelFn
	b.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
		select {
		case <-b.doneCh:
		case <-time.After(defaultCloseTimeout):
			b.logger.Warn("Timeout waiting for subscription to stop")
		}
	}
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}

var _ shared.EventHandler = (*RedisChangeBroadcaster)(nil)
