package pool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Config holds the pool limits.
type Config struct {
	Min            int           // 最小保活连接数
	Max            int           // 最大连接数
	AcquireTimeout time.Duration // max time a caller may wait in the queue
	IdleTimeout    time.Duration // idle duration after which a connection is evicted
}

// DefaultConfig returns the limits used when the caller does not care.
func DefaultConfig() Config {
	return Config{
		Min:            2,
		Max:            10,
		AcquireTimeout: 30 * time.Second,
		IdleTimeout:    60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Max <= 0 {
		c.Max = 10
	}
	if c.Min < 0 {
		c.Min = 0
	}
	if c.Min > c.Max {
		c.Min = c.Max
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	return c
}

// Stats is a snapshot of the pool state.
type Stats struct {
	Open         int           `json:"open"`          // 当前打开连接数
	Idle         int           `json:"idle"`          // 空闲连接数
	InUse        int           `json:"in_use"`        // 使用中连接数
	Waiting      int           `json:"waiting"`       // 排队等待的调用方数量
	Min          int           `json:"min"`           // 配置下限
	Max          int           `json:"max"`           // 配置上限
	WaitCount    int64         `json:"wait_count"`    // 累计排队次数
	WaitDuration time.Duration `json:"wait_duration"` // 累计排队时长
	IdleClosed   int64         `json:"idle_closed"`   // 因空闲被回收的连接数
}

type waiter struct {
	ch chan *PooledConn // buffered(1); closed when the pool shuts down
}

// Pool is a bounded set of database sessions. Callers acquire a session,
// run their queries and release it back; excess demand queues FIFO until
// a session frees up or the acquire timeout fires.
type Pool struct {
	factory Factory

	mu           sync.Mutex
	cfg          Config
	conns        map[*PooledConn]struct{} // every live connection
	idle         []*PooledConn            // ready sessions, least recently used first
	waiters      *list.List               // of *waiter, FIFO
	closed       bool
	waitCount    int64
	waitDuration time.Duration
	idleClosed   int64
}

// New builds a pool and warms it up to cfg.Min connections. Warm-up
// failures are logged, not fatal: the pool dials again on demand.
func New(cfg Config, factory Factory) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		factory: factory,
		cfg:     cfg,
		conns:   make(map[*PooledConn]struct{}),
		waiters: list.New(),
	}
	p.warmUp()
	return p
}

// warmUp dials the configured floor of connections.
func (p *Pool) warmUp() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AcquireTimeout)
	defer cancel()

	for i := 0; i < p.cfg.Min; i++ {
		conn, err := p.factory(ctx)
		if err != nil {
			log.Warn().Err(err).Int("warmed", i).Msg("Pool warm-up stopped early")
			return
		}
		pc := p.wrap(conn)
		p.mu.Lock()
		pc.inUse = false
		pc.lastUsed = time.Now()
		p.conns[pc] = struct{}{}
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
	}
}

func (p *Pool) wrap(conn Conn) *PooledConn {
	return &PooledConn{
		Conn:      conn,
		id:        uuid.New(),
		pool:      p,
		createdAt: time.Now(),
	}
}

// Acquire returns a session, creating one if the pool is under capacity.
// When the pool is exhausted the caller queues FIFO until a session is
// released to it, the acquire timeout fires, or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	// Idle session available: hand out the most recently used one.
	if n := len(p.idle); n > 0 {
		pc := p.idle[n-1]
		p.idle = p.idle[:n-1]
		pc.inUse = true
		p.mu.Unlock()
		return pc, nil
	}

	// Under capacity: reserve a slot first so racing acquires cannot
	// overshoot Max, then dial outside the lock.
	if len(p.conns) < p.cfg.Max {
		pc := p.wrap(nil)
		pc.inUse = true
		p.conns[pc] = struct{}{}
		p.mu.Unlock()

		conn, err := p.factory(ctx)
		if err != nil {
			p.mu.Lock()
			delete(p.conns, pc)
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: create connection: %w", err)
		}
		pc.Conn = conn
		return pc, nil
	}

	// Exhausted: queue behind earlier callers.
	w := &waiter{ch: make(chan *PooledConn, 1)}
	elem := p.waiters.PushBack(w)
	p.waitCount++
	timeout := p.cfg.AcquireTimeout
	p.mu.Unlock()

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pc, ok := <-w.ch:
		p.noteWait(time.Since(start))
		if !ok {
			return nil, ErrPoolClosed
		}
		return pc, nil
	case <-timer.C:
		return p.abandonWait(w, elem, start, ErrAcquireTimeout)
	case <-ctx.Done():
		return p.abandonWait(w, elem, start, ctx.Err())
	}
}

// abandonWait removes a waiter from the queue. A release may have handed
// the waiter a session in the same instant; that hand-off wins.
func (p *Pool) abandonWait(w *waiter, elem *list.Element, start time.Time, cause error) (*PooledConn, error) {
	p.mu.Lock()
	select {
	case pc, ok := <-w.ch:
		p.waitDuration += time.Since(start)
		p.mu.Unlock()
		if !ok {
			return nil, ErrPoolClosed
		}
		return pc, nil
	default:
	}
	p.waiters.Remove(elem)
	p.waitDuration += time.Since(start)
	p.mu.Unlock()
	return nil, cause
}

func (p *Pool) noteWait(d time.Duration) {
	p.mu.Lock()
	p.waitDuration += d
	p.mu.Unlock()
}

// Release returns a session to the pool. The oldest waiter, if any, is
// served directly so a free session never sits idle while callers queue.
// Releasing a foreign or already-released session returns ErrConnNotOwned.
func (p *Pool) Release(pc *PooledConn) error {
	if pc == nil || pc.pool != p {
		return ErrConnNotOwned
	}

	p.mu.Lock()
	if _, tracked := p.conns[pc]; !tracked || !pc.inUse {
		p.mu.Unlock()
		return ErrConnNotOwned
	}

	if p.closed {
		delete(p.conns, pc)
		p.mu.Unlock()
		return pc.Conn.Close()
	}

	pc.lastUsed = time.Now()

	// 优先满足排队的调用方
	if elem := p.waiters.Front(); elem != nil {
		p.waiters.Remove(elem)
		w := elem.Value.(*waiter)
		w.ch <- pc // buffered, never blocks
		p.mu.Unlock()
		return nil
	}

	pc.inUse = false

	// Over capacity after a shrink: drop instead of parking.
	if len(p.conns) > p.cfg.Max {
		delete(p.conns, pc)
		p.idleClosed++
		p.mu.Unlock()
		return pc.Conn.Close()
	}

	p.idle = append(p.idle, pc)
	p.mu.Unlock()
	return nil
}

// Execute acquires a session, runs fn and releases the session again,
// on both the normal and the error path. This is the call external
// code should reach for; it cannot leak connections.
func (p *Pool) Execute(ctx context.Context, fn func(Conn) error) error {
	pc, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(pc)
	return fn(pc)
}

// Sweep evicts idle sessions whose idle duration exceeds IdleTimeout,
// never shrinking below Min. It returns the number of evicted sessions.
// The Maintainer calls this periodically; tests call it directly.
func (p *Pool) Sweep() int {
	now := time.Now()
	var victims []*PooledConn

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	keep := p.idle[:0]
	for _, pc := range p.idle {
		expired := now.Sub(pc.lastUsed) >= p.cfg.IdleTimeout
		overCap := len(p.conns) > p.cfg.Max
		if (expired || overCap) && len(p.conns) > p.cfg.Min {
			delete(p.conns, pc)
			victims = append(victims, pc)
			continue
		}
		keep = append(keep, pc)
	}
	p.idle = keep
	p.idleClosed += int64(len(victims))
	p.mu.Unlock()

	for _, pc := range victims {
		if err := pc.Conn.Close(); err != nil {
			log.Warn().Err(err).Str("conn_id", pc.id.String()).Msg("Failed to close idle connection")
		}
	}
	if len(victims) > 0 {
		log.Debug().Int("evicted", len(victims)).Msg("Idle connections reclaimed")
	}
	return len(victims)
}

// Resize adjusts the pool bounds at runtime. Growth serves queued
// waiters immediately; shrinking takes effect through Release and Sweep.
func (p *Pool) Resize(min, max int) {
	if max <= 0 || min < 0 || min > max {
		log.Warn().Int("min", min).Int("max", max).Msg("Ignoring invalid pool resize")
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.cfg.Min = min
	p.cfg.Max = max
	// 扩容后为排队的调用方补充连接, 每个等待者最多补一条
	waiting := p.waiters.Len()
	for i := 0; i < waiting && len(p.conns) < p.cfg.Max; i++ {
		pc := p.wrap(nil)
		pc.inUse = true
		p.conns[pc] = struct{}{}
		go p.dialForWaiter(pc)
	}
	p.mu.Unlock()

	log.Info().Int("min", min).Int("max", max).Msg("Pool resized")
}

// dialForWaiter fills a reserved slot and routes the session to the
// queue head, or parks it when every waiter is already gone.
func (p *Pool) dialForWaiter(pc *PooledConn) {
	p.mu.Lock()
	timeout := p.cfg.AcquireTimeout
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := p.factory(ctx)

	p.mu.Lock()
	if err != nil {
		delete(p.conns, pc)
		p.mu.Unlock()
		log.Warn().Err(err).Msg("Failed to create connection for waiter")
		return
	}
	pc.Conn = conn
	if p.closed {
		delete(p.conns, pc)
		p.mu.Unlock()
		conn.Close()
		return
	}
	if elem := p.waiters.Front(); elem != nil {
		p.waiters.Remove(elem)
		w := elem.Value.(*waiter)
		w.ch <- pc
		p.mu.Unlock()
		return
	}
	pc.inUse = false
	pc.lastUsed = time.Now()
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
}

// Stats returns a snapshot of the pool state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	open := len(p.conns)
	idle := len(p.idle)
	return Stats{
		Open:         open,
		Idle:         idle,
		InUse:        open - idle,
		Waiting:      p.waiters.Len(),
		Min:          p.cfg.Min,
		Max:          p.cfg.Max,
		WaitCount:    p.waitCount,
		WaitDuration: p.waitDuration,
		IdleClosed:   p.idleClosed,
	}
}

// Config returns a copy of the current pool limits.
func (p *Pool) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Close shuts the pool down: every queued waiter fails with ErrPoolClosed,
// idle sessions are closed, and in-flight sessions are closed as they are
// released. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	for elem := p.waiters.Front(); elem != nil; elem = elem.Next() {
		close(elem.Value.(*waiter).ch)
	}
	p.waiters.Init()

	idle := p.idle
	p.idle = nil
	for _, pc := range idle {
		delete(p.conns, pc)
	}
	remaining := len(p.conns)
	p.mu.Unlock()

	var firstErr error
	for _, pc := range idle {
		if err := pc.Conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	log.Info().Int("closed", len(idle)).Int("in_flight", remaining).Msg("Pool closed")
	return firstErr
}
