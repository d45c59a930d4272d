package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/arclabs561/runctl/collector"
	"github.com/arclabs561/runctl/config"
	"github.com/arclabs561/runctl/internal/cliout"
	"github.com/arclabs561/runctl/providers"
	"github.com/arclabs561/runctl/reconciler"
	"github.com/arclabs561/runctl/registry"
	"github.com/arclabs561/runctl/telemetry"
)

var (
	version = "0.1.0"

	flagConfig string
	flagJSON   bool
	flagDebug  bool

	rootCmd = &cobra.Command{
		Use:   "runctl",
		Short: "Training-job resource lifecycle and cleanup",
		Long: `runctl - Training-Job Resource Lifecycle Engine

runctl tracks the cloud resources behind training jobs (instances,
volumes, snapshots), derives their cost, finds orphaned and stale
resources, and runs resumable volume workflows like pre-warming a
volume from object storage.

The cloud is the source of truth: runctl observes, reconciles against
local intent, and only deletes what you explicitly confirm.`,
		Version: version,
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cliout.ExitCode(err))
	}
}

func init() {
	rootCmd.SetVersionTemplate(`runctl {{.Version}}
`)
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Emit machine-readable JSON")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
}

// newLogger builds the command logger. JSON output keeps logs on
// stderr and quiet so the envelope on stdout stays parseable.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if flagDebug {
		level = zerolog.DebugLevel
	}
	if flagJSON && !flagDebug {
		level = zerolog.WarnLevel
	}
	return telemetry.NewConsoleLogger("runctl").Level(level)
}

// loadConfigOnly loads config without connecting any provider, for
// commands that only touch local state.
func loadConfigOnly() (*config.Config, error) {
	return config.Load(flagConfig)
}

// runtime bundles everything a one-shot command needs.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	provs  map[string]providers.Provider
}

// newRuntime loads config and connects the configured providers.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:    cfg,
		logger: newLogger(),
		provs:  make(map[string]providers.Provider, len(cfg.Providers)),
	}
	for _, pc := range cfg.Providers {
		p, err := providers.New(ctx, pc.Name, providers.Config{
			Region:       pc.Region,
			BootstrapAMI: pc.BootstrapAMI,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting provider %s: %w", pc.Name, err)
		}
		rt.provs[pc.Name] = p
	}
	return rt, nil
}

func (rt *runtime) policy() reconciler.Policy {
	return reconciler.Policy{
		IdleThreshold:           rt.cfg.Cleanup.IdleThreshold,
		MinAge:                  rt.cfg.Cleanup.MinAge,
		PreferStaleOverOrphaned: rt.cfg.Cleanup.PreferStaleOverOrphaned,
	}
}

func (rt *runtime) listers() map[string]providers.Lister {
	listers := make(map[string]providers.Lister, len(rt.provs))
	for name, p := range rt.provs {
		listers[name] = p
	}
	return listers
}

func (rt *runtime) deleters() map[string]providers.Deleter {
	deleters := make(map[string]providers.Deleter, len(rt.provs))
	for name, p := range rt.provs {
		deleters[name] = p
	}
	return deleters
}

// collectOnce runs a single collection cycle into a fresh registry and
// returns the resulting snapshot.
func (rt *runtime) collectOnce(ctx context.Context) (*registry.Snapshot, error) {
	c := collector.New(rt.listers(), rt.logger)
	batch, err := c.Collect(ctx)
	if err != nil {
		return nil, err
	}
	reg := registry.New()
	return reg.Ingest(batch.Resources, batch.Degraded()), nil
}

// commandContext is the default deadline for one-shot commands that
// only read provider state.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 5*time.Minute)
}

// emit prints the result envelope and exits with its code.
func emit(result *cliout.Result) {
	var err error
	if flagJSON {
		err = result.WriteJSON(os.Stdout)
	} else {
		err = result.WriteText(os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cliout.ExitFatal)
	}
	os.Exit(result.Exit())
}
