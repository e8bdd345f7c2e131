package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Reader serves JSON-encoded values from a Store, loading and populating on
// miss.
type Reader struct {
	store  Store
	ttl    time.Duration
	logger zerolog.Logger
}

func NewReader(store Store, ttl time.Duration, logger zerolog.Logger) *Reader {
	return &Reader{store: store, ttl: ttl, logger: logger.With().Str("component", "cache").Logger()}
}

// ReadThrough returns the cached value for key, or calls load and caches its
// result. Errors from load are returned; store and codec errors only
// degrade to a direct load.
func ReadThrough[T any](ctx context.Context, r *Reader, key string, load func(ctx context.Context) (T, error)) (T, error) {
	if b, ok, err := r.store.Get(ctx, key); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	} else if ok {
		var v T
		if err := json.Unmarshal(b, &v); err == nil {
			r.logger.Debug().Str("key", key).Msg("cache hit")
			return v, nil
		}
		r.logger.Warn().Str("key", key).Msg("cache entry undecodable, reloading")
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	r.logger.Debug().Str("key", key).Msg("cache miss")

	b, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return v, nil
	}
	if err := r.store.Set(ctx, key, b, r.ttl); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return v, nil
}
