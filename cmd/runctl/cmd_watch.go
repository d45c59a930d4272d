package main

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/arclabs561/runctl/internal/tui"
)

var watchCadence time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard over resources, cleanup candidates, and jobs",
	Long: `Watch runs the collection loop in the background and shows the
latest snapshot in a terminal dashboard. A degraded provider shows up
as a banner over a partial view instead of an empty screen.

Keys: tab switches panes, r forces a refresh, q quits.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchCadence, "cadence", 0, "Collection cadence (overrides config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	// The dashboard draws the whole terminal; logs would tear it.
	rt.logger = rt.logger.Level(zerolog.Disabled)

	if watchCadence > 0 {
		rt.cfg.Engine.Cadence = watchCadence
	}

	eng, store, closeStack, err := buildEngine(rt, false)
	if err != nil {
		return err
	}
	defer closeStack()

	engineErr := make(chan error, 1)
	go func() {
		err := eng.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			engineErr <- err
		}
		close(engineErr)
	}()

	program := tea.NewProgram(tui.NewModel(eng, store), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return err
	}
	cancel()

	if err := <-engineErr; err != nil {
		return err
	}
	return nil
}
