package cache

import (
	"context"
	"fmt"
)

// GetAs reads key and decodes it with the cache's codec.
func GetAs[T any](ctx context.Context, c *TaggedCache, key, module string) (T, bool, error) {
	var zero T
	data, ok, err := c.Get(ctx, key, module)
	if err != nil || !ok {
		return zero, ok, err
	}

	var value T
	if err := c.config.Codec.Unmarshal(data, &value); err != nil {
		return zero, false, fmt.Errorf("cache: decode %q with %s: %w", key, c.config.Codec.Name(), err)
	}
	return value, true, nil
}

// SetAs encodes value with the cache's codec and stores it like Set.
func SetAs[T any](ctx context.Context, c *TaggedCache, key string, value T, opts EntryOptions) error {
	data, err := c.config.Codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q with %s: %w", key, c.config.Codec.Name(), err)
	}
	return c.Set(ctx, key, data, opts)
}

// GetOrSetAs is the typed form of GetOrSet. A freshly produced value is
// returned as is, without a decode round trip.
func GetOrSetAs[T any](ctx context.Context, c *TaggedCache, key string, opts EntryOptions, factory func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero     T
		produced T
		fresh    bool
	)

	data, err := c.GetOrSet(ctx, key, opts, func(ctx context.Context) ([]byte, error) {
		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := c.config.Codec.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cache: encode %q with %s: %w", key, c.config.Codec.Name(), err)
		}
		produced, fresh = v, true
		return encoded, nil
	})
	if data == nil && err != nil {
		return zero, err
	}
	if fresh {
		return produced, err
	}

	var value T
	if derr := c.config.Codec.Unmarshal(data, &value); derr != nil {
		return zero, fmt.Errorf("cache: decode %q with %s: %w", key, c.config.Codec.Name(), derr)
	}
	return value, err
}
