package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arclabs561/runctl/collector"
	"github.com/arclabs561/runctl/engine"
	"github.com/arclabs561/runctl/journal"
	"github.com/arclabs561/runctl/reconciler"
	"github.com/arclabs561/runctl/registry"
	"github.com/arclabs561/runctl/resilience"
	"github.com/arclabs561/runctl/telemetry"
)

var daemonCadence time.Duration

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the continuous observe-reconcile loop with a metrics endpoint",
	Long: `Daemon runs collection cycles on a fixed cadence, journals every
cycle and plan, and serves Prometheus metrics. It never deletes
anything on its own; cleanup execution stays an explicit CLI action.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().DurationVar(&daemonCadence, "cadence", 0, "Collection cadence (overrides config)")
}

// buildEngine assembles the full cycle stack. The returned closer
// flushes the journal and job store.
func buildEngine(rt *runtime, withJournal bool) (*engine.Engine, *resilience.Store, func(), error) {
	store, err := resilience.OpenStore(rt.cfg.Storage.JobDB)
	if err != nil {
		return nil, nil, nil, err
	}

	var j *journal.Journal
	if withJournal {
		j, err = journal.Open(rt.cfg.Storage.JournalDir)
		if err != nil {
			_ = store.Close()
			return nil, nil, nil, err
		}
	}

	intent, err := reconciler.LoadIntentFile(rt.cfg.IntentFile)
	if err != nil {
		_ = store.Close()
		if j != nil {
			_ = j.Close()
		}
		return nil, nil, nil, err
	}

	cadence := rt.cfg.Engine.Cadence
	if daemonCadence > 0 {
		cadence = daemonCadence
	}

	eng := engine.New(
		collector.New(rt.listers(), rt.logger),
		registry.New(),
		reconciler.NewPlanner(rt.policy(), intent, rt.logger),
		store,
		j,
		cadence,
		rt.logger,
	)

	closer := func() {
		_ = store.Close()
		if j != nil {
			_ = j.Close()
		}
	}
	return eng, store, closer, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "runctl",
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	eng, _, closeStack, err := buildEngine(rt, true)
	if err != nil {
		return err
	}
	defer closeStack()

	if _, err := journal.Prune(rt.cfg.Storage.JournalDir, rt.cfg.Storage.JournalRetention); err != nil {
		rt.logger.Warn().Err(err).Msg("journal retention sweep failed")
	}

	var group run.Group

	// Engine cycle loop.
	engineCtx, cancelEngine := context.WithCancel(ctx)
	group.Add(func() error {
		err := eng.Run(engineCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}, func(error) {
		cancelEngine()
	})

	// Metrics endpoint.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              rt.cfg.Engine.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	group.Add(func() error {
		rt.logger.Info().Str("addr", server.Addr).Msg("metrics endpoint up")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	// Signal handling.
	group.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = group.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		rt.logger.Info().Str("signal", sig.Signal.String()).Msg("shutting down")
		return nil
	}
	if err != nil {
		return fmt.Errorf("daemon exited: %w", err)
	}
	return nil
}
