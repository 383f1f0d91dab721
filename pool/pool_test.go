package pool

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubConn is a no-op session used to exercise the pool without a
// database.
type stubConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *stubConn) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	return nil, nil
}

func (c *stubConn) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	return nil
}

func (c *stubConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}

func (c *stubConn) Rebind(query string) string { return query }

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// stubFactory counts how many sessions were dialed.
func stubFactory() (Factory, *atomic.Int32) {
	var dials atomic.Int32
	factory := func(ctx context.Context) (Conn, error) {
		dials.Add(1)
		return &stubConn{}, nil
	}
	return factory, &dials
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestAcquireUpToMaxThenTimeout(t *testing.T) {
	factory, dials := stubFactory()
	p := New(Config{Min: 2, Max: 3, AcquireTimeout: 100 * time.Millisecond, IdleTimeout: time.Minute}, factory)
	defer p.Close()

	ctx := context.Background()

	conns := make([]*PooledConn, 0, 3)
	for i := 0; i < 3; i++ {
		pc, err := p.Acquire(ctx)
		require.NoError(t, err)
		conns = append(conns, pc)
	}
	assert.Equal(t, 3, p.Stats().Open)
	assert.Equal(t, int32(3), dials.Load())

	// Fourth caller queues and must time out since nothing is released.
	start := time.Now()
	_, err := p.Acquire(ctx)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 0, p.Stats().Waiting, "timed out waiter must leave the queue")
	assert.Equal(t, 3, p.Stats().Open)

	for _, pc := range conns {
		require.NoError(t, p.Release(pc))
	}
}

func TestAcquireReusesIdleWithoutDialing(t *testing.T) {
	factory, dials := stubFactory()
	p := New(Config{Min: 0, Max: 2, AcquireTimeout: time.Second, IdleTimeout: time.Minute}, factory)
	defer p.Close()

	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Release(pc))

	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, pc, again, "idle session must be handed out again")
	assert.Equal(t, int32(1), dials.Load())
	require.NoError(t, p.Release(again))
}

func TestCapacityInvariantUnderConcurrency(t *testing.T) {
	factory, _ := stubFactory()
	p := New(Config{Min: 0, Max: 3, AcquireTimeout: time.Second, IdleTimeout: time.Minute}, factory)
	defer p.Close()

	var maxOpen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				err := p.Execute(context.Background(), func(Conn) error {
					open := int32(p.Stats().Open)
					for {
						seen := maxOpen.Load()
						if open <= seen || maxOpen.CompareAndSwap(seen, open) {
							break
						}
					}
					return nil
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxOpen.Load(), int32(3))
}

func TestFIFOFairness(t *testing.T) {
	factory, _ := stubFactory()
	p := New(Config{Min: 0, Max: 1, AcquireTimeout: 2 * time.Second, IdleTimeout: time.Minute}, factory)
	defer p.Close()

	ctx := context.Background()
	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	order := make(chan string, 2)

	go func() {
		pc, err := p.Acquire(ctx)
		if err == nil {
			order <- "first"
			p.Release(pc)
		}
	}()
	waitFor(t, func() bool { return p.Stats().Waiting == 1 })

	go func() {
		pc, err := p.Acquire(ctx)
		if err == nil {
			order <- "second"
			p.Release(pc)
		}
	}()
	waitFor(t, func() bool { return p.Stats().Waiting == 2 })

	require.NoError(t, p.Release(held))

	assert.Equal(t, "first", <-order, "longest waiter must be served first")
	assert.Equal(t, "second", <-order)
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	factory, _ := stubFactory()
	p := New(Config{Min: 0, Max: 1, AcquireTimeout: time.Minute, IdleTimeout: time.Minute}, factory)
	defer p.Close()

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		done <- err
	}()
	waitFor(t, func() bool { return p.Stats().Waiting == 1 })

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	waitFor(t, func() bool { return p.Stats().Waiting == 0 })
}

func TestExecuteReleasesOnError(t *testing.T) {
	factory, dials := stubFactory()
	p := New(Config{Min: 0, Max: 1, AcquireTimeout: 100 * time.Millisecond, IdleTimeout: time.Minute}, factory)
	defer p.Close()

	ctx := context.Background()
	boom := errors.New("boom")

	err := p.Execute(ctx, func(Conn) error { return boom })
	assert.ErrorIs(t, err, boom)

	// The session must be back: at Max capacity this acquire would time
	// out if Execute had leaked it.
	pc, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), dials.Load())
	require.NoError(t, p.Release(pc))
}

func TestReleaseValidation(t *testing.T) {
	factory, _ := stubFactory()
	p := New(Config{Min: 0, Max: 2, AcquireTimeout: time.Second, IdleTimeout: time.Minute}, factory)
	defer p.Close()

	other := New(Config{Min: 0, Max: 1, AcquireTimeout: time.Second, IdleTimeout: time.Minute}, factory)
	defer other.Close()

	ctx := context.Background()

	t.Run("double release", func(t *testing.T) {
		pc, err := p.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, p.Release(pc))
		assert.ErrorIs(t, p.Release(pc), ErrConnNotOwned)
	})

	t.Run("foreign connection", func(t *testing.T) {
		pc, err := other.Acquire(ctx)
		require.NoError(t, err)
		assert.ErrorIs(t, p.Release(pc), ErrConnNotOwned)
		require.NoError(t, other.Release(pc))
	})

	t.Run("nil connection", func(t *testing.T) {
		assert.ErrorIs(t, p.Release(nil), ErrConnNotOwned)
	})
}

func TestSweepKeepsFloor(t *testing.T) {
	factory, _ := stubFactory()
	p := New(Config{Min: 1, Max: 3, AcquireTimeout: time.Second, IdleTimeout: 10 * time.Millisecond}, factory)
	defer p.Close()

	ctx := context.Background()
	conns := make([]*PooledConn, 0, 3)
	for i := 0; i < 3; i++ {
		pc, err := p.Acquire(ctx)
		require.NoError(t, err)
		conns = append(conns, pc)
	}
	for _, pc := range conns {
		require.NoError(t, p.Release(pc))
	}
	require.Equal(t, 3, p.Stats().Open)

	time.Sleep(20 * time.Millisecond)

	evicted := p.Sweep()
	assert.Equal(t, 2, evicted)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Open, "sweep must not shrink below Min")
	assert.Equal(t, int64(2), stats.IdleClosed)

	assert.Equal(t, 0, p.Sweep(), "second sweep has nothing to evict")
	assert.Equal(t, 1, p.Stats().Open)
}

func TestCloseFailsWaitersAndRefusesAcquire(t *testing.T) {
	factory, _ := stubFactory()
	p := New(Config{Min: 0, Max: 1, AcquireTimeout: time.Minute, IdleTimeout: time.Minute}, factory)

	ctx := context.Background()
	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		done <- err
	}()
	waitFor(t, func() bool { return p.Stats().Waiting == 1 })

	require.NoError(t, p.Close())
	assert.ErrorIs(t, <-done, ErrPoolClosed)

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)

	// In-flight sessions are torn down as they come back.
	stub := held.Conn.(*stubConn)
	require.NoError(t, p.Release(held))
	assert.True(t, stub.isClosed())
	assert.Equal(t, 0, p.Stats().Open)

	require.NoError(t, p.Close(), "close is idempotent")
}

func TestResizeGrowServesWaiters(t *testing.T) {
	factory, dials := stubFactory()
	p := New(Config{Min: 0, Max: 1, AcquireTimeout: 2 * time.Second, IdleTimeout: time.Minute}, factory)
	defer p.Close()

	ctx := context.Background()
	held, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer p.Release(held)

	done := make(chan error, 1)
	go func() {
		pc, err := p.Acquire(ctx)
		if err == nil {
			defer p.Release(pc)
		}
		done <- err
	}()
	waitFor(t, func() bool { return p.Stats().Waiting == 1 })

	p.Resize(0, 2)

	require.NoError(t, <-done)
	assert.Equal(t, int32(2), dials.Load())
	assert.Equal(t, 2, p.Config().Max)
}

func TestResizeGrowDialsOnlyForWaiters(t *testing.T) {
	factory, dials := stubFactory()
	p := New(Config{Min: 0, Max: 1, AcquireTimeout: 2 * time.Second, IdleTimeout: time.Minute}, factory)
	defer p.Close()

	ctx := context.Background()
	held, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer p.Release(held)

	done := make(chan error, 1)
	go func() {
		pc, err := p.Acquire(ctx)
		if err == nil {
			defer p.Release(pc)
		}
		done <- err
	}()
	waitFor(t, func() bool { return p.Stats().Waiting == 1 })

	// Growing far beyond demand must dial one session per waiter, not
	// fill every new slot.
	p.Resize(0, 10)

	require.NoError(t, <-done)
	assert.Equal(t, int32(2), dials.Load())
	assert.Equal(t, 2, p.Stats().Open)
}

func TestResizeRejectsInvalidBounds(t *testing.T) {
	factory, _ := stubFactory()
	p := New(Config{Min: 0, Max: 2, AcquireTimeout: time.Second, IdleTimeout: time.Minute}, factory)
	defer p.Close()

	p.Resize(5, 2)
	assert.Equal(t, 2, p.Config().Max)

	p.Resize(-1, 4)
	assert.Equal(t, 2, p.Config().Max)
}

func TestDefaultPoolLifecycle(t *testing.T) {
	factory, _ := stubFactory()

	defaultMu.Lock()
	defaultPool = nil
	defaultMu.Unlock()

	_, err := Default()
	assert.ErrorIs(t, err, ErrNotInitialized)

	first := Init(Config{Min: 0, Max: 2}, factory)
	second := Init(Config{Min: 0, Max: 99}, factory)
	assert.Same(t, first, second, "Init is idempotent")
	assert.Equal(t, 2, first.Config().Max, "later Init arguments are ignored")

	got, err := Default()
	require.NoError(t, err)
	assert.Same(t, first, got)

	require.NoError(t, Shutdown())
	_, err = Default()
	assert.ErrorIs(t, err, ErrNotInitialized)
	require.NoError(t, Shutdown(), "shutdown without a pool is a no-op")
}

func TestWarmUpRespectsMin(t *testing.T) {
	factory, dials := stubFactory()
	p := New(Config{Min: 2, Max: 5, AcquireTimeout: time.Second, IdleTimeout: time.Minute}, factory)
	defer p.Close()

	stats := p.Stats()
	assert.Equal(t, 2, stats.Open)
	assert.Equal(t, 2, stats.Idle)
	assert.Equal(t, int32(2), dials.Load())
}
