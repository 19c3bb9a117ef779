package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	Name string `json:"name"`
}

func TestFetchHonoursLifetime(t *testing.T) {
	store := NewMemoryBackend[sample]()
	ctx := context.Background()
	loads := 0
	load := func(context.Context) (profile, error) {
		loads++
		return profile{Name: "guardian"}, nil
	}

	got, err := Fetch(ctx, store, "player", "1", time.Hour, h(0), load)
	require.NoError(t, err)
	assert.Equal(t, "guardian", got.Name)

	_, err = Fetch(ctx, store, "player", "1", time.Hour, h(0).Add(59*time.Minute), load)
	require.NoError(t, err)
	assert.Equal(t, 1, loads)

	_, err = Fetch(ctx, store, "player", "1", time.Hour, h(2), load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestFetchForever(t *testing.T) {
	store := NewMemoryBackend[sample]()
	ctx := context.Background()
	loads := 0
	load := func(context.Context) (profile, error) {
		loads++
		return profile{Name: "report"}, nil
	}

	for _, at := range []time.Time{h(0), h(1000), h(100000)} {
		_, err := Fetch(ctx, store, "pgcr", "9", Forever, at, load)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, loads)
}

func TestFetchDoesNotStoreFailures(t *testing.T) {
	store := NewMemoryBackend[sample]()
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := Fetch(ctx, store, "clan", "1", time.Hour, h(0), func(context.Context) (profile, error) {
		return profile{}, boom
	})
	require.ErrorIs(t, err, boom)

	v, err := store.GetValue(ctx, "clan", "1")
	require.NoError(t, err)
	assert.Nil(t, v)
}
