// Package main is a diagnostic tool for the DEJA-VU data layer: it
// connects the pool against the configured database and periodically
// logs pool and system statistics.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"deja-vu/dbcore/internal/di"
	"deja-vu/dbcore/logger"
	"deja-vu/dbcore/perf"
	"deja-vu/dbcore/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	interval := flag.Duration("interval", 10*time.Second, "stats reporting interval")
	flag.Parse()

	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := watcher.Config()

	if err := logger.Setup(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Database).
		Msg("Configuration loaded")

	container := di.NewContainer(cfg)
	defer container.Close()

	p, err := container.Pool()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pool")
	}
	if err := container.StartMaintenance(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start pool maintenance")
	}

	// 配置文件变更时在线调整连接池
	watcher.OnChange(func(updated *config.Config) {
		p.Resize(updated.Pool.Min, updated.Pool.Max)
	})
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Config watching disabled")
	}
	defer watcher.Stop()

	collector := perf.NewSystemCollector()
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Dur("interval", *interval).Msg("dbstat started")
	for {
		select {
		case <-ticker.C:
			report(container, collector)
		case sig := <-quit:
			log.Info().Str("signal", sig.String()).Msg("Shutting down")
			return
		}
	}
}

func report(container *di.Container, collector *perf.SystemCollector) {
	p, err := container.Pool()
	if err != nil {
		log.Error().Err(err).Msg("Pool unavailable")
		return
	}
	stats := p.Stats()
	event := log.Info().
		Int("open", stats.Open).
		Int("idle", stats.Idle).
		Int("in_use", stats.InUse).
		Int("waiting", stats.Waiting).
		Int64("wait_count", stats.WaitCount).
		Int64("idle_closed", stats.IdleClosed)

	if sys, err := collector.Collect(); err == nil {
		event = event.
			Float64("cpu_percent", sys.CPU.UsagePercent).
			Float64("mem_percent", sys.Memory.UsagePercent).
			Float64("load1", sys.Load.Load1)
	}
	event.Msg("Pool status")

	for name, op := range container.Monitor().AllStats() {
		log.Info().
			Str("operation", name).
			Int("count", op.Count).
			Dur("avg", op.Avg).
			Dur("p95", op.P95).
			Dur("max", op.Max).
			Msg("Operation latency")
	}
}
