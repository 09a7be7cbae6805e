package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/nmoreno/subastas-monitor/internal/collector"
	"github.com/nmoreno/subastas-monitor/internal/config"
	"github.com/nmoreno/subastas-monitor/internal/engine"
	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/queue"
	"github.com/nmoreno/subastas-monitor/internal/store"
	"github.com/nmoreno/subastas-monitor/internal/uistream"
)

const shutdownTimeout = 10 * time.Second

// openStore opens the configured persistence backend.
func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Backend {
	case "postgres":
		return store.OpenPostgres(ctx, sc.Postgres)
	case "sqlite":
		return store.OpenSQLite(sc.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

// buildCollector constructs the collector variant over the raw queue.
type buildCollector func(raw *queue.Bounded[event.Event], control *queue.Control) (collector.Collector, error)

// runPipeline wires store, queues, engine, UI stream and collector, then
// runs until a signal arrives or the engine reaches a terminal event.
func runPipeline(ctx context.Context, build buildCollector) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	raw := queue.NewBounded[event.Event](cfg.Queues.RawCapacity)
	processed := queue.NewBounded[event.Event](cfg.Queues.ProcessedCapacity)
	control := queue.NewControl()

	eng := engine.New(cfg.Engine, st, raw, processed, control, logger)
	ui := uistream.NewServer(uistream.Config{
		Listen: cfg.UIStream.Listen,
		Path:   cfg.UIStream.Path,
	}, processed, logger)

	col, err := build(raw, control)
	if err != nil {
		return err
	}

	// Start downstream first so nothing blocks on a full queue.
	if err := ui.Start(ctx); err != nil {
		return fmt.Errorf("start ui stream: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	if err := col.Start(ctx); err != nil {
		shutdown(eng, ui, col)
		return fmt.Errorf("start collector: %w", err)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-eng.Done():
		logger.Info("pipeline finished")
	}

	shutdown(eng, ui, col)
	return nil
}

func shutdown(eng *engine.Engine, ui *uistream.Server, col collector.Collector) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Collector first so the raw queue stops filling, then the engine, then
	// the UI once the processed queue has drained.
	if col != nil {
		if err := col.Stop(ctx); err != nil {
			logger.Warn("collector stop", "err", err)
		}
	}
	if err := eng.Stop(ctx); err != nil {
		logger.Warn("engine stop", "err", err)
	}
	if err := ui.Stop(ctx); err != nil {
		logger.Warn("ui stream stop", "err", err)
	}
}
