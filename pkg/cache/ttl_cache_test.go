package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// erroringStore fails every operation; the cache must degrade to pass-through.
type erroringStore struct{}

var errStoreBroken = errors.New("store broken")

func (erroringStore) Get(string) (Entry[string], bool, error) { return Entry[string]{}, false, errStoreBroken }
func (erroringStore) Set(string, Entry[string]) error         { return errStoreBroken }
func (erroringStore) Delete(string) error                     { return errStoreBroken }
func (erroringStore) Keys() ([]string, error)                 { return nil, errStoreBroken }

func TestTTLCache_setAndGet(t *testing.T) {
	c := NewTTLCache[string](time.Minute)

	c.Set("k", "v", 0)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestTTLCache_expiredEntryIsMissAndEvicted(t *testing.T) {
	now := time.Now()
	clock := &now

	var mu sync.Mutex

	c := NewTTLCache[string](time.Minute, WithClock[string](func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		return *clock
	}))

	c.Set("k", "v", time.Second)

	mu.Lock()
	*clock = now.Add(2 * time.Second)
	mu.Unlock()

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTTLCache_getOrLoadCoalescesConcurrentLoads(t *testing.T) {
	c := NewTTLCache[int](time.Minute)

	var loads atomic.Int32

	start := make(chan struct{})

	var wg sync.WaitGroup

	const callers = 8

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			<-start

			v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) {
				loads.Add(1)
				time.Sleep(10 * time.Millisecond)

				return 42, nil
			}, 0)

			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
}

func TestTTLCache_getOrLoadReturnsLoaderError(t *testing.T) {
	c := NewTTLCache[int](time.Minute)
	loadErr := errors.New("origin down")

	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) {
		return 0, loadErr
	}, 0)

	require.ErrorIs(t, err, loadErr)

	// Failed loads are not cached; the next call retries.
	v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) {
		return 7, nil
	}, 0)

	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestTTLCache_brokenStoreFailsOpen(t *testing.T) {
	var (
		mu  sync.Mutex
		ops []string
	)

	c := NewTTLCache[string](time.Minute,
		WithStore[string](erroringStore{}),
		WithErrorHandler[string](func(op string, err error) {
			mu.Lock()
			defer mu.Unlock()

			ops = append(ops, op)
			assert.ErrorIs(t, err, errStoreBroken)
		}),
	)

	loads := 0

	// Every call loads fresh, but callers always get the loader's value.
	for range 3 {
		v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
			loads++

			return "value", nil
		}, 0)

		require.NoError(t, err)
		assert.Equal(t, "value", v)
	}

	assert.Equal(t, 3, loads)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, ops, "get")
	assert.Contains(t, ops, "set")
}

func TestTTLCache_purgeExpired(t *testing.T) {
	now := time.Now()
	current := now

	var mu sync.Mutex

	c := NewTTLCache[string](time.Minute, WithClock[string](func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		return current
	}))

	c.Set("old", "v", time.Second)
	c.Set("fresh", "v", time.Hour)

	mu.Lock()
	current = now.Add(time.Minute)
	mu.Unlock()

	assert.Equal(t, 1, c.PurgeExpired())

	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestMemoryStore_basicOperations(t *testing.T) {
	s := NewMemoryStore[int]()

	require.NoError(t, s.Set("a", Entry[int]{Value: 1}))
	require.NoError(t, s.Set("b", Entry[int]{Value: 2}))

	e, ok, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, e.Value)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, s.Delete("a"))

	_, ok, err = s.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)
}
