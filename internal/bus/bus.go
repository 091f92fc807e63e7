// Package bus carries cross-instance events over NATS: cache invalidations and
// collection registry changes. Every instance ignores its own messages.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/metrics"
)

// DefaultPrefix is the subject prefix when none is configured.
const DefaultPrefix = "vecgate"

const flushTimeout = 2 * time.Second

type event struct {
	Origin     string `json:"origin"`
	Collection string `json:"collection"`
}

// Bus publishes and receives events on one NATS connection.
type Bus struct {
	nc       *nats.Conn
	prefix   string
	instance string
	logger   *zap.Logger
	subs     []*nats.Subscription
}

// Config configures Connect.
type Config struct {
	URL    string
	Prefix string
	// Instance identifies this process; a random id is used when empty.
	Instance string
	Logger   *zap.Logger
}

// Connect dials NATS and returns a bus on the connection.
func Connect(cfg Config) (*Bus, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("vecgate"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return New(nc, cfg.Prefix, cfg.Instance, log), nil
}

// New wraps an existing connection.
func New(nc *nats.Conn, prefix, instance string, logger *zap.Logger) *Bus {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if instance == "" {
		instance = uuid.NewString()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{nc: nc, prefix: prefix, instance: instance, logger: logger}
}

// Instance returns the id stamped on outgoing messages.
func (b *Bus) Instance() string { return b.instance }

func (b *Bus) invalidationSubject() string { return b.prefix + ".cache.invalidate" }

func (b *Bus) collectionSubject() string { return b.prefix + ".registry.collection" }

// PublishInvalidation tells peers to drop their L1 entries of collection.
// It returns once the server has the message.
func (b *Bus) PublishInvalidation(ctx context.Context, collection string) error {
	return b.publish(ctx, b.invalidationSubject(), collection)
}

// AnnounceCollection tells peers to reload collection from storage.
func (b *Bus) AnnounceCollection(ctx context.Context, name string) error {
	return b.publish(ctx, b.collectionSubject(), name)
}

func (b *Bus) publish(ctx context.Context, subject, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event{Origin: b.instance, Collection: collection})
	if err != nil {
		return err
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if _, ok := ctx.Deadline(); ok {
		err = b.nc.FlushWithContext(ctx)
	} else {
		err = b.nc.FlushTimeout(flushTimeout)
	}
	if err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	metrics.BusMessagesTotal.WithLabelValues(subject, "out").Inc()
	return nil
}

// OnInvalidation calls fn for every peer invalidation.
func (b *Bus) OnInvalidation(fn func(collection string)) error {
	return b.subscribe(b.invalidationSubject(), func(_ context.Context, c string) { fn(c) })
}

// OnCollection calls fn for every peer registry change.
func (b *Bus) OnCollection(fn func(ctx context.Context, name string)) error {
	return b.subscribe(b.collectionSubject(), fn)
}

func (b *Bus) subscribe(subject string, fn func(ctx context.Context, collection string)) error {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Warn("Dropping malformed bus message", zap.String("subject", subject), zap.Error(err))
			return
		}
		if ev.Origin == b.instance || ev.Collection == "" {
			return
		}
		metrics.BusMessagesTotal.WithLabelValues(subject, "in").Inc()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fn(ctx, ev.Collection)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Close unsubscribes and drains the connection.
func (b *Bus) Close() error {
	for _, s := range b.subs {
		_ = s.Unsubscribe()
	}
	return b.nc.Drain()
}
