package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/distcache/internal/testutil"
	dcerrors "github.com/vnykmshr/distcache/pkg/common/errors"
	"github.com/vnykmshr/distcache/pkg/store"
)

type order struct {
	ID       string   `json:"id" msgpack:"id"`
	Customer int      `json:"customer" msgpack:"customer"`
	Total    float64  `json:"total" msgpack:"total"`
	Lines    []string `json:"lines" msgpack:"lines"`
}

func TestTyped_RoundTrip(t *testing.T) {
	codecs := []Codec{MsgpackCodec{}, JSONCodec{}}

	for _, codec := range codecs {
		t.Run(codec.Name(), func(t *testing.T) {
			c := newCache(t, harness{store: store.NewMemoryStore(nil)}, func(cfg *Config) {
				cfg.Codec = codec
			})
			ctx := testutil.WithTimeout(t)

			want := order{ID: "order:1", Customer: 42, Total: 99.5, Lines: []string{"a", "b"}}
			require.NoError(t, SetAs(ctx, c, "order:1", want, EntryOptions{Tags: []string{"customer:42"}, Module: "orders"}))

			got, ok, err := GetAs[order](ctx, c, "order:1", "orders")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, got)

			_, ok, err = GetAs[order](ctx, c, "order:2", "orders")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestTyped_JSONIsReadableByOtherClients(t *testing.T) {
	c := newCache(t, harness{store: store.NewMemoryStore(nil)}, func(cfg *Config) {
		cfg.Codec = JSONCodec{}
	})
	ctx := testutil.WithTimeout(t)

	require.NoError(t, SetAs(ctx, c, "k", map[string]int{"n": 1}, EntryOptions{}))
	raw, ok, err := c.Get(ctx, "k", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(raw))
}

func TestGetAs_DecodeError(t *testing.T) {
	c := newCache(t, harness{store: store.NewMemoryStore(nil)}, func(cfg *Config) {
		cfg.Codec = JSONCodec{}
	})
	ctx := testutil.WithTimeout(t)

	require.NoError(t, c.Set(ctx, "k", []byte("not json"), EntryOptions{}))
	_, ok, err := GetAs[order](ctx, c, "k", "")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "decode")
}

func TestGetOrSetAs(t *testing.T) {
	c := newCache(t, harness{store: store.NewMemoryStore(nil)})
	ctx := testutil.WithTimeout(t)

	calls := 0
	load := func(ctx context.Context) (order, error) {
		calls++
		return order{ID: "order:7", Customer: 7}, nil
	}

	first, err := GetOrSetAs(ctx, c, "order:7", EntryOptions{Expiration: time.Minute}, load)
	require.NoError(t, err)
	second, err := GetOrSetAs(ctx, c, "order:7", EntryOptions{Expiration: time.Minute}, load)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, 7, second.Customer)
}

func TestGetOrSetAs_Errors(t *testing.T) {
	st := store.NewMemoryStore(nil)
	c := newCache(t, harness{store: st})
	ctx := testutil.WithTimeout(t)

	boom := errors.New("upstream failed")
	_, err := GetOrSetAs(ctx, c, "k", EntryOptions{}, func(ctx context.Context) (order, error) {
		return order{}, boom
	})
	assert.ErrorIs(t, err, boom)

	st.SetFault(func(op, key string) error {
		if op == store.OpAddToSet {
			return errors.New("connection reset")
		}
		return nil
	})
	got, err := GetOrSetAs(ctx, c, "k", EntryOptions{Tags: []string{"t"}}, func(ctx context.Context) (order, error) {
		return order{ID: "k"}, nil
	})
	assert.True(t, dcerrors.IsWarning(err))
	assert.Equal(t, "k", got.ID)
}
