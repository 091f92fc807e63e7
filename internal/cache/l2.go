package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kailas-cloud/vecgate/internal/db"
	"github.com/kailas-cloud/vecgate/internal/domain"
)

var tracer = otel.Tracer("github.com/kailas-cloud/vecgate/internal/cache")

// kvStore is the consumer interface for the shared cache level (ISP).
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, key string) error
}

var l2Prefix = domain.KeyPrefix + "cache:"

// L2 is the shared cache level on Redis/Valkey. Entries live under the collection's
// current generation; incrementing the generation orphans every older entry at once
// and server-side TTL reclaims them.
type L2 struct {
	store kvStore
	now   func() time.Time
}

// NewL2 creates an L2 over store.
func NewL2(store kvStore, now func() time.Time) *L2 {
	if now == nil {
		now = time.Now
	}
	return &L2{store: store, now: now}
}

// The hash tag keeps a collection's keys in one cluster slot.
func genKey(collection string) string {
	return l2Prefix + "{" + collection + "}:gen"
}

func entryKey(collection string, gen int64, fingerprint string) string {
	return l2Prefix + "{" + collection + "}:g" + strconv.FormatInt(gen, 10) + ":" + fingerprint
}

// Generation reads the collection's current generation. A missing counter is generation 0.
func (l *L2) Generation(ctx context.Context, collection string) (int64, error) {
	data, err := l.store.Get(ctx, genKey(collection))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read generation: %w", err)
	}
	gen, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse generation %q: %w", data, err)
	}
	return gen, nil
}

// Get returns the value stored under gen and the entry's absolute expiry.
func (l *L2) Get(ctx context.Context, k Key, gen int64) ([]byte, time.Time, bool, error) {
	ctx, span := tracer.Start(ctx, "L2.Get")
	defer span.End()
	span.SetAttributes(attribute.String("collection", k.Collection))

	data, err := l.store.Get(ctx, entryKey(k.Collection, gen, k.Fingerprint))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, fmt.Errorf("get entry: %w", err)
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	exp := env.expiresAt()
	if !l.now().Before(exp) {
		return nil, time.Time{}, false, nil
	}
	return env.Value, exp, true, nil
}

// Set stores value under gen for ttl.
func (l *L2) Set(ctx context.Context, k Key, gen int64, value []byte, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "L2.Set")
	defer span.End()
	span.SetAttributes(attribute.String("collection", k.Collection))

	data, err := encodeEnvelope(value, l.now(), ttl)
	if err != nil {
		return err
	}
	if err := l.store.SetWithTTL(ctx, entryKey(k.Collection, gen, k.Fingerprint), data, ttl); err != nil {
		return fmt.Errorf("set entry: %w", err)
	}
	return nil
}

// Delete removes one entry of gen.
func (l *L2) Delete(ctx context.Context, k Key, gen int64) error {
	if err := l.store.Del(ctx, entryKey(k.Collection, gen, k.Fingerprint)); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// Invalidate advances the collection's generation and returns the new value.
func (l *L2) Invalidate(ctx context.Context, collection string) (int64, error) {
	ctx, span := tracer.Start(ctx, "L2.Invalidate")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	gen, err := l.store.Incr(ctx, genKey(collection))
	if err != nil {
		return 0, fmt.Errorf("advance generation: %w", err)
	}
	return gen, nil
}
