package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Maintainer runs the periodic pool sweep on a cron schedule and logs a
// pool status snapshot alongside it.
type Maintainer struct {
	pool     *Pool
	cron     *cron.Cron
	interval time.Duration
	mu       sync.Mutex
	running  bool
}

// NewMaintainer 创建连接池维护任务
// interval: 清扫间隔, 小于等于 0 时默认 60 秒
func NewMaintainer(p *Pool, interval time.Duration) *Maintainer {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Maintainer{
		pool:     p,
		cron:     cron.New(cron.WithSeconds()),
		interval: interval,
	}
}

// Start schedules the sweep. Safe to call once; repeated calls are no-ops.
func (m *Maintainer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("maintainer is already running")
	}
	spec := fmt.Sprintf("@every %s", m.interval)
	if _, err := m.cron.AddFunc(spec, m.runSweep); err != nil {
		return fmt.Errorf("schedule pool sweep: %w", err)
	}
	m.cron.Start()
	m.running = true

	log.Info().Dur("interval", m.interval).Msg("Pool maintainer started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.running = false
	log.Info().Msg("Pool maintainer stopped")
}

func (m *Maintainer) runSweep() {
	evicted := m.pool.Sweep()
	stats := m.pool.Stats()
	log.Debug().
		Int("evicted", evicted).
		Int("open", stats.Open).
		Int("idle", stats.Idle).
		Int("waiting", stats.Waiting).
		Msg("Pool sweep completed")
}
