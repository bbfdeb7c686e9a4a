// Command coordinatord is the coordinator's entrypoint: it wires the
// ambient stack (config, logging, Postgres, Redis, telemetry) to the
// planner/applier/dispatcher/actor core and serves the Run Control and
// Event Stream HTTP surface (spec §6). Grounded on the teacher's
// cmd/workflow-runner/main.go wiring shape, adapted from its Redis-queue
// dispatch loop to this binary's local-channel actor model.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyzr/coordinator/internal/config"
	"github.com/lyzr/coordinator/internal/coordinator"
	"github.com/lyzr/coordinator/internal/httpapi"
	"github.com/lyzr/coordinator/internal/logger"
	"github.com/lyzr/coordinator/internal/pg"
	"github.com/lyzr/coordinator/internal/redisx"
	"github.com/lyzr/coordinator/internal/telemetry"
	"github.com/lyzr/coordinator/pkg/definition"
	"github.com/lyzr/coordinator/pkg/executor"
	"github.com/lyzr/coordinator/pkg/trace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{Level: cfg.Service.LogLevel, Format: cfg.Service.LogFormat})
	log.Info("coordinatord starting", "service", cfg.Service.Name, "environment", cfg.Service.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pg.New(ctx, cfg, log)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := redisx.NewClient(ctx, cfg)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}

	hub := trace.NewHub(cfg.Trace.SubscriberBufferSize, redisClient, log.Logger)

	// One trace.Storage per run, backed by the same Postgres pool every run
	// shares — PGStorage itself holds no per-run connection, just a run id
	// to scope its queries.
	newTraceStorage := func(runID string) trace.Storage {
		return trace.NewPGStorage(pool, runID)
	}

	defs := definition.NewHTTPStore(cfg.Gateway.BaseURL, &http.Client{Timeout: cfg.Gateway.Timeout})
	exec := executor.NewHTTPClient(cfg.Gateway.BaseURL, &http.Client{Timeout: cfg.Dispatch.DefaultTaskTimeout})

	actor, err := coordinator.New(defs, exec, hub, log, newTraceStorage)
	if err != nil {
		log.Error("coordinator init failed", "error", err)
		os.Exit(1)
	}

	tel := telemetry.New(cfg.Telemetry.PprofPort, log)
	if cfg.Telemetry.EnablePprof {
		if err := tel.Start(ctx); err != nil {
			log.Error("telemetry start failed", "error", err)
		}
	}

	server := httpapi.New(actor, log)
	addr := fmt.Sprintf(":%d", cfg.Service.Port)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Echo().Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	log.Info("coordinatord stopped")
}
