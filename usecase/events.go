package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vitovidale/video-pipeline/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Event is emitted by orchestration code after its transaction commits.
type Event interface {
	Member() snowflake.ID
}

// NotificationRequested asks for a durable notification.
type NotificationRequested struct {
	MemberID      snowflake.ID
	Type          domain.NotificationType
	Title         string
	Content       string
	VideoID       *snowflake.ID
	TransactionID *snowflake.ID
}

func (e NotificationRequested) Member() snowflake.ID { return e.MemberID }

// ProgressUpdated is pushed live only.
type ProgressUpdated struct {
	MemberID snowflake.ID
	Payload  domain.ProgressPayload
}

func (e ProgressUpdated) Member() snowflake.ID { return e.MemberID }

type EventPublisher interface {
	Publish(events ...Event)
}

type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

const (
	DefaultEventBuffer       = 1024
	DefaultEventWorkers      = 4
	DefaultEventDrainTimeout = 10 * time.Second
)

type EventBusConfig struct {
	// Buffer is the total queue capacity, split evenly across workers.
	Buffer       int
	Workers      int
	DrainTimeout time.Duration
}

func (c EventBusConfig) withDefaults() EventBusConfig {
	if c.Buffer <= 0 {
		c.Buffer = DefaultEventBuffer
	}
	if c.Workers <= 0 {
		c.Workers = DefaultEventWorkers
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultEventDrainTimeout
	}
	return c
}

// EventBus hands committed events to a handler on background workers so the
// producing request never waits on delivery. Events of one member always land
// on the same worker and are handled in publish order.
type EventBus struct {
	shards  []chan Event
	handler EventHandler
	drain   time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
}

func NewEventBus(handler EventHandler, log *zap.Logger, cfg EventBusConfig) *EventBus {
	cfg = cfg.withDefaults()
	perShard := cfg.Buffer / cfg.Workers
	if perShard < 1 {
		perShard = 1
	}
	shards := make([]chan Event, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan Event, perShard)
	}
	return &EventBus{
		shards:  shards,
		handler: handler,
		drain:   cfg.DrainTimeout,
		log:     log.Named("event.bus"),
	}
}

// Publish enqueues events on their member's worker. A full queue blocks the
// caller until the worker catches up; after shutdown events are dropped.
func (b *EventBus) Publish(events ...Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ev := range events {
		if ev == nil {
			continue
		}
		if b.closed {
			b.log.Warn("event dropped after shutdown", zap.String("member_id", ev.Member().String()))
			continue
		}
		shard := b.shards[uint64(ev.Member())%uint64(len(b.shards))]
		select {
		case shard <- ev:
		default:
			b.log.Warn("event buffer full, waiting", zap.Int("buffer", cap(shard)))
			shard <- ev
		}
	}
}

// Run consumes events until ctx is cancelled, then stops intake and handles
// whatever is still queued for at most the drain timeout.
func (b *EventBus) Run(ctx context.Context) error {
	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()

	stop := make(chan struct{})
	var g errgroup.Group
	for _, shard := range b.shards {
		shard := shard
		g.Go(func() error {
			b.consume(handlerCtx, shard, stop)
			return nil
		})
	}

	<-ctx.Done()
	// Publishers still blocked on a full shard finish before intake closes.
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	timer := time.AfterFunc(b.drain, cancelHandlers)
	defer timer.Stop()
	close(stop)
	return g.Wait()
}

func (b *EventBus) consume(ctx context.Context, shard chan Event, stop <-chan struct{}) {
	for {
		select {
		case ev := <-shard:
			b.handle(ctx, ev)
		case <-stop:
			b.drainShard(ctx, shard)
			return
		}
	}
}

func (b *EventBus) drainShard(ctx context.Context, shard chan Event) {
	for {
		if ctx.Err() != nil {
			if n := len(shard); n > 0 {
				b.log.Error("drain timeout, events dropped", zap.Int("count", n))
			}
			return
		}
		select {
		case ev := <-shard:
			b.handle(ctx, ev)
		default:
			return
		}
	}
}

func (b *EventBus) handle(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", zap.Any("panic", r), zap.String("member_id", ev.Member().String()))
		}
	}()
	if err := b.handler.Handle(ctx, ev); err != nil {
		b.log.Warn("event handling failed", zap.String("member_id", ev.Member().String()), zap.Error(err))
	}
}
