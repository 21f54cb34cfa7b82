package guest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/fincopilot/internal/history"
)

type failingCounter struct{}

func (failingCounter) Count(context.Context, string) (int64, error) {
	return 0, errors.New("database is down")
}
func (failingCounter) Increment(context.Context, string) error { return errors.New("database is down") }

func TestLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("should allow five guest questions then refuse", func(t *testing.T) {
		counter, err := NewMemoryCounter(0)
		require.NoError(t, err)
		l := NewLimiter(counter, 0, nil)

		for i := 0; i < DefaultMaxQuestions; i++ {
			require.NoError(t, l.Check(ctx, "s1", ""), "question %d", i+1)
			l.Record(ctx, "s1", "")
		}
		assert.ErrorIs(t, l.Check(ctx, "s1", ""), ErrLimitReached)
		assert.NoError(t, l.Check(ctx, "s2", ""), "other sessions are independent")
	})

	t.Run("should never limit signed-in users", func(t *testing.T) {
		counter, _ := NewMemoryCounter(0)
		l := NewLimiter(counter, 1, nil)
		for i := 0; i < 3; i++ {
			l.Record(ctx, "s1", "user")
			assert.NoError(t, l.Check(ctx, "s1", "user"))
		}
		n, _ := counter.Count(ctx, "s1")
		assert.Zero(t, n)
	})

	t.Run("should fail open when counting fails", func(t *testing.T) {
		l := NewLimiter(failingCounter{}, 1, nil)
		assert.NoError(t, l.Check(ctx, "s1", ""))
		assert.NotPanics(t, func() { l.Record(ctx, "s1", "") })
	})

	t.Run("should format the limit message", func(t *testing.T) {
		l := NewLimiter(failingCounter{}, 0, nil)
		assert.Equal(t, int64(5), l.Max())
		assert.Equal(t, "You have reached the limit of 5 questions as a guest. Please login to continue.", l.Message())
	})
}

func TestHistoryCounter(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	l := NewLimiter(NewHistoryCounter(store), 2, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, l.Check(ctx, "s1", ""))
		require.NoError(t, store.Add(ctx, history.Message{SessionID: "s1", Type: history.TypeHuman, Content: "q"}))
		require.NoError(t, store.Add(ctx, history.Message{SessionID: "s1", Type: history.TypeAI, Content: "a"}))
		l.Record(ctx, "s1", "")
	}
	assert.ErrorIs(t, l.Check(ctx, "s1", ""), ErrLimitReached)
}

func TestRedisCounter(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	counter := NewRedisCounter(client, "", time.Hour)

	t.Run("should start at zero", func(t *testing.T) {
		n, err := counter.Count(ctx, "fresh")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("should increment with ttl", func(t *testing.T) {
		require.NoError(t, counter.Increment(ctx, "s1"))
		require.NoError(t, counter.Increment(ctx, "s1"))

		n, err := counter.Count(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, time.Hour, s.TTL("fincopilot:guest:s1"))
	})

	t.Run("should expire", func(t *testing.T) {
		require.NoError(t, counter.Increment(ctx, "s2"))
		s.FastForward(2 * time.Hour)
		n, err := counter.Count(ctx, "s2")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("should report connection errors", func(t *testing.T) {
		broken := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		defer broken.Close()
		_, err := NewRedisCounter(broken, "", 0).Count(ctx, "s1")
		assert.Error(t, err)
	})
}

func TestMemoryCounter_Concurrent(t *testing.T) {
	ctx := context.Background()
	counter, err := NewMemoryCounter(16)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = counter.Increment(ctx, "s1")
		}()
	}
	wg.Wait()

	n, _ := counter.Count(ctx, "s1")
	assert.Equal(t, int64(50), n)
}

func TestNewCounter(t *testing.T) {
	t.Run("should build each backend", func(t *testing.T) {
		s := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: s.Addr()})
		defer client.Close()

		c, err := NewCounter("history", Deps{History: history.NewMemoryStore()})
		require.NoError(t, err)
		assert.NotNil(t, c)

		c, err = NewCounter("redis", Deps{Redis: client})
		require.NoError(t, err)
		assert.IsType(t, &RedisCounter{}, c)

		c, err = NewCounter("memory", Deps{})
		require.NoError(t, err)
		assert.IsType(t, &MemoryCounter{}, c)
	})

	t.Run("should reject missing dependencies", func(t *testing.T) {
		_, err := NewCounter("history", Deps{})
		assert.Error(t, err)
		_, err = NewCounter("redis", Deps{})
		assert.Error(t, err)
		_, err = NewCounter("etcd", Deps{})
		assert.Error(t, err)
	})
}
