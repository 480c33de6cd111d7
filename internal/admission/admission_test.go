package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type controllerFactory func(t *testing.T, cfg Config, clock *testClock) Controller

func controllers() map[string]controllerFactory {
	return map[string]controllerFactory{
		"memory": func(t *testing.T, cfg Config, clock *testClock) Controller {
			c := NewMemoryController(cfg)
			c.now = clock.Now
			return c
		},
		"redis": func(t *testing.T, cfg Config, clock *testClock) Controller {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			c := NewRedisController(client, cfg)
			c.now = clock.Now
			return c
		},
	}
}

func testCfg(capacity int) Config {
	cfg := DefaultConfig()
	cfg.Capacity = capacity
	cfg.GraceWindow = time.Minute
	return cfg
}

func forEachController(t *testing.T, capacity int, fn func(t *testing.T, c Controller, clock *testClock)) {
	for name, factory := range controllers() {
		t.Run(name, func(t *testing.T) {
			clock := &testClock{t: time.UnixMilli(1_700_000_000_000)}
			fn(t, factory(t, testCfg(capacity), clock), clock)
		})
	}
}

func TestEnqueue_PositionsStrictlyIncrease(t *testing.T) {
	forEachController(t, 1, func(t *testing.T, c Controller, clock *testClock) {
		ctx := context.Background()
		var last int64
		for i := 0; i < 5; i++ {
			tok, err := c.Enqueue(ctx, "E", fmt.Sprintf("u%d", i))
			require.NoError(t, err)
			assert.Greater(t, tok.Position, last)
			last = tok.Position
		}

		events, err := c.Events(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"E"}, events)

		waiting, err := c.Waiting(ctx, "E")
		require.NoError(t, err)
		assert.Equal(t, int64(4), waiting)
	})
}

func TestEnqueue_RejoinReturnsLiveToken(t *testing.T) {
	forEachController(t, 1, func(t *testing.T, c Controller, clock *testClock) {
		ctx := context.Background()

		first, err := c.Enqueue(ctx, "E", "u1")
		require.NoError(t, err)
		assert.Equal(t, models.QueueAdmitted, first.State)

		again, err := c.Enqueue(ctx, "E", "u1")
		require.NoError(t, err)
		assert.Equal(t, first.Token, again.Token)
		assert.Equal(t, first.Position, again.Position)

		waiter, err := c.Enqueue(ctx, "E", "u2")
		require.NoError(t, err)
		assert.Equal(t, models.QueueWaiting, waiter.State)

		same, err := c.Enqueue(ctx, "E", "u2")
		require.NoError(t, err)
		assert.Equal(t, waiter.Token, same.Token)
	})
}

func TestAdmission_CapHoldsUntilSlotFrees(t *testing.T) {
	forEachController(t, 2, func(t *testing.T, c Controller, clock *testClock) {
		ctx := context.Background()

		t1, err := c.Enqueue(ctx, "E", "u1")
		require.NoError(t, err)
		t2, err := c.Enqueue(ctx, "E", "u2")
		require.NoError(t, err)
		t3, err := c.Enqueue(ctx, "E", "u3")
		require.NoError(t, err)

		assert.Equal(t, models.QueueAdmitted, t1.State)
		assert.Equal(t, models.QueueAdmitted, t2.State)
		assert.Equal(t, models.QueueWaiting, t3.State)

		err = c.Validate(ctx, t3.Token, "E", "u3")
		assert.ErrorIs(t, err, apperrors.ErrAdmissionCapacityExceeded)
		var notAdmitted *NotAdmittedError
		require.True(t, errors.As(err, &notAdmitted))
		assert.Equal(t, t3.Position, notAdmitted.Position)
		assert.Equal(t, int64(0), notAdmitted.Ahead)

		admitted, err := c.Admit(ctx, "E", 10)
		require.NoError(t, err)
		assert.Empty(t, admitted)

		require.NoError(t, c.Complete(ctx, t1.Token))
		admitted, err = c.Admit(ctx, "E", 10)
		require.NoError(t, err)
		require.Len(t, admitted, 1)
		assert.Equal(t, t3.Token, admitted[0].Token)

		assert.NoError(t, c.Validate(ctx, t3.Token, "E", "u3"))
		assert.ErrorIs(t, c.Validate(ctx, t1.Token, "E", "u1"), apperrors.ErrQueueTokenInvalid)
	})
}

func TestAdmission_GraceWindowLapse(t *testing.T) {
	forEachController(t, 2, func(t *testing.T, c Controller, clock *testClock) {
		ctx := context.Background()

		t1, _ := c.Enqueue(ctx, "E", "u1")
		c.Enqueue(ctx, "E", "u2")
		t3, _ := c.Enqueue(ctx, "E", "u3")

		clock.Advance(time.Minute)

		status, err := c.Status(ctx, t1.Token)
		require.NoError(t, err)
		assert.False(t, status.Admitted)
		assert.Equal(t, models.QueueExpired, status.State)
		assert.ErrorIs(t, c.Validate(ctx, t1.Token, "E", "u1"), apperrors.ErrQueueTokenInvalid)

		admitted, err := c.Admit(ctx, "E", 10)
		require.NoError(t, err)
		require.Len(t, admitted, 1)
		assert.Equal(t, t3.Token, admitted[0].Token)

		status, err = c.Status(ctx, t3.Token)
		require.NoError(t, err)
		assert.True(t, status.Admitted)
		require.NotNil(t, status.GraceUntil)
		assert.Equal(t, clock.Now().Add(time.Minute).UnixMilli(), status.GraceUntil.UnixMilli())

		// the expired user may rejoin and gets a fresh, later position
		rejoin, err := c.Enqueue(ctx, "E", "u1")
		require.NoError(t, err)
		assert.NotEqual(t, t1.Token, rejoin.Token)
		assert.Greater(t, rejoin.Position, t3.Position)
	})
}

func TestAdmission_LeaveWhileWaiting(t *testing.T) {
	forEachController(t, 1, func(t *testing.T, c Controller, clock *testClock) {
		ctx := context.Background()

		c.Enqueue(ctx, "E", "u1")
		t2, _ := c.Enqueue(ctx, "E", "u2")
		t3, _ := c.Enqueue(ctx, "E", "u3")

		status, err := c.Status(ctx, t3.Token)
		require.NoError(t, err)
		assert.Equal(t, int64(1), status.Ahead)

		require.NoError(t, c.Complete(ctx, t2.Token))
		require.NoError(t, c.Complete(ctx, t2.Token))

		status, err = c.Status(ctx, t3.Token)
		require.NoError(t, err)
		assert.Equal(t, int64(0), status.Ahead)
		assert.Equal(t, t3.Position, status.Position)

		left, err := c.Status(ctx, t2.Token)
		require.NoError(t, err)
		assert.Equal(t, models.QueueCompleted, left.State)

		assert.ErrorIs(t, c.Complete(ctx, "unknown"), apperrors.ErrQueueTokenInvalid)
	})
}

func TestValidate_Mismatch(t *testing.T) {
	forEachController(t, 5, func(t *testing.T, c Controller, clock *testClock) {
		ctx := context.Background()
		tok, err := c.Enqueue(ctx, "E", "u1")
		require.NoError(t, err)

		assert.NoError(t, c.Validate(ctx, tok.Token, "E", "u1"))
		assert.ErrorIs(t, c.Validate(ctx, tok.Token, "E", "u2"), apperrors.ErrQueueTokenInvalid)
		assert.ErrorIs(t, c.Validate(ctx, tok.Token, "other", "u1"), apperrors.ErrQueueTokenInvalid)
		assert.ErrorIs(t, c.Validate(ctx, "", "E", "u1"), apperrors.ErrQueueTokenInvalid)
	})
}

func TestAdmission_CapNeverExceededConcurrently(t *testing.T) {
	forEachController(t, 3, func(t *testing.T, c Controller, clock *testClock) {
		ctx := context.Background()

		var wg sync.WaitGroup
		tokens := make([]models.QueueToken, 30)
		for i := range tokens {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tok, err := c.Enqueue(ctx, "E", fmt.Sprintf("u%d", i))
				assert.NoError(t, err)
				tokens[i] = tok
			}(i)
		}
		wg.Wait()

		admitted := 0
		positions := map[int64]bool{}
		for _, tok := range tokens {
			status, err := c.Status(ctx, tok.Token)
			require.NoError(t, err)
			if status.Admitted {
				admitted++
			}
			assert.False(t, positions[status.Position], "duplicate position %d", status.Position)
			positions[status.Position] = true
		}
		assert.Equal(t, 3, admitted)
	})
}
