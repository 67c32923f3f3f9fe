package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	mc := NewMemoryCache(10)
	defer mc.Close()
	ctx := context.Background()

	type payload struct {
		Name  string   `json:"name"`
		Score *float64 `json:"score"`
	}
	score := 1.5
	require.NoError(t, mc.Set(ctx, "k", payload{Name: "a", Score: &score}, time.Minute))

	var got payload
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, "a", got.Name)
	require.NotNil(t, got.Score)
	assert.InDelta(t, 1.5, *got.Score, 1e-12)

	// nil pointers survive the round trip, the NaN encoding relies on it
	require.NoError(t, mc.Set(ctx, "k2", payload{Name: "b"}, time.Minute))
	var got2 payload
	require.NoError(t, mc.Get(ctx, "k2", &got2))
	assert.Nil(t, got2.Score)
}

func TestMemoryCacheMiss(t *testing.T) {
	mc := NewMemoryCache(10)
	defer mc.Close()

	var out string
	assert.Equal(t, ErrMiss, mc.Get(context.Background(), "absent", &out))
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache(10)
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	var out string
	assert.Equal(t, ErrMiss, mc.Get(ctx, "k", &out))
	assert.Zero(t, mc.Size())
}

func TestMemoryCacheEvictsLRU(t *testing.T) {
	mc := NewMemoryCache(2)
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, mc.Set(ctx, "b", 2, time.Minute))

	// touch "a" so "b" is the eviction candidate
	var out int
	require.NoError(t, mc.Get(ctx, "a", &out))
	require.NoError(t, mc.Set(ctx, "c", 3, time.Minute))

	assert.Equal(t, ErrMiss, mc.Get(ctx, "b", &out))
	assert.NoError(t, mc.Get(ctx, "a", &out))
}

func TestChunkKeyDeterministic(t *testing.T) {
	date := time.Date(2023, 7, 3, 0, 0, 0, 0, time.UTC)

	k1 := ChunkKey(date, []string{"PER", "MOMENTUM_3M"}, []string{"AAA", "BBB"})
	k2 := ChunkKey(date, []string{"MOMENTUM_3M", "PER"}, []string{"BBB", "AAA"})
	assert.Equal(t, k1, k2, "input order must not change the key")

	assert.Contains(t, k1, "factors:")
	assert.Len(t, k1, len("factors:")+32)

	k3 := ChunkKey(date.AddDate(0, 0, 1), []string{"PER", "MOMENTUM_3M"}, []string{"AAA", "BBB"})
	assert.NotEqual(t, k1, k3)

	k4 := ChunkKey(date, []string{"PER"}, []string{"AAA", "BBB"})
	assert.NotEqual(t, k1, k4)
}

func TestChunkKeyDoesNotMutateInputs(t *testing.T) {
	factors := []string{"Z", "A"}
	universe := []string{"BBB", "AAA"}
	ChunkKey(time.Now(), factors, universe)

	assert.Equal(t, []string{"Z", "A"}, factors)
	assert.Equal(t, []string{"BBB", "AAA"}, universe)
}
