package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/anr_mon/internal/clock"
	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
	"github.com/eliteGoblin/focusd/anr_mon/internal/host"
	"github.com/eliteGoblin/focusd/anr_mon/internal/infra"
	"github.com/eliteGoblin/focusd/anr_mon/internal/usecase"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a main loop under the ANR watchdog",
	Long: `Runs a cooperative main loop with the ANR watchdog attached and an
optional synthetic workload that blocks the loop. Every detected stall is
stored as an event in the offline cache.

Stops on SIGINT/SIGTERM or after --duration.`,
	RunE: runRun,
}

// workload describes the synthetic stalls and pauses injected into the loop.
type workload struct {
	stall      time.Duration
	stallEvery time.Duration
	duration   time.Duration
	pauseAfter time.Duration
	pauseFor   time.Duration
	timeScale  float64
}

var demo workload

func init() {
	flags := runCmd.Flags()
	flags.DurationVar(&demo.stall, "stall", 0, "Block the main loop for this long")
	flags.DurationVar(&demo.stallEvery, "stall-every", 0, "Repeat the stall at this interval (0 = once)")
	flags.DurationVar(&demo.duration, "duration", 0, "Quit after this long (0 = until signalled)")
	flags.DurationVar(&demo.pauseAfter, "pause-after", 0, "Pause the application after this long (0 = never)")
	flags.DurationVar(&demo.pauseFor, "pause-for", 0, "Resume this long after pausing")
	flags.Float64Var(&demo.timeScale, "time-scale", 1, "Simulated time scale (0 freezes simulated time)")
}

func runRun(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}

	logger := createLogger(opts)
	defer func() { _ = logger.Sync() }()

	store, err := openStore(opts, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	before, err := store.Count()
	if err != nil {
		return fmt.Errorf("failed to count events: %w", err)
	}

	strategy, err := domain.ParseStrategy(opts.Strategy)
	if err != nil {
		return err
	}

	clk := clock.Real()
	loop := host.NewLoop(host.Config{FrameInterval: opts.FrameInterval}, clk, logger)
	loop.SetTimeScale(demo.timeScale)

	capturer := usecase.NewEventCapturer(store, infra.NewProcessInspector(), clk, logger)
	integration := usecase.NewAnrIntegration(usecase.AnrOptions{
		Enabled:  opts.Enabled,
		Timeout:  opts.Timeout,
		Strategy: strategy,
	}, loop, clk, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := integration.Register(ctx, capturer); err != nil {
		return err
	}
	defer integration.Close(true)

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("received shutdown signal")
			loop.Quit()
		case <-ctx.Done():
		}
	}()

	demo.start(loop, logger)

	logger.Info("anrmon running",
		zap.String("strategy", opts.Strategy),
		zap.Duration("timeout", opts.Timeout),
		zap.Bool("enabled", opts.Enabled))

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	after, err := store.Count()
	if err != nil {
		return fmt.Errorf("failed to count events: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "captured %d event(s); %d cached in %s\n", max(after-before, 0), after, store.Path())
	return nil
}

// start schedules the workload on loop. Stalls and pause changes are posted
// to the loop so they run on its goroutine like real application work.
func (w workload) start(loop *host.Loop, logger *zap.Logger) {
	stall := func() {
		logger.Debug("stalling main loop", zap.Duration("stall", w.stall))
		time.Sleep(w.stall)
	}

	switch {
	case w.stall > 0 && w.stallEvery > 0:
		loop.Schedule(w.stallEvery, stall)
	case w.stall > 0:
		loop.Post(stall)
	}

	if w.pauseAfter > 0 {
		time.AfterFunc(w.pauseAfter, func() {
			loop.Post(func() { loop.SetPaused(true) })
			if w.pauseFor > 0 {
				time.AfterFunc(w.pauseFor, func() {
					loop.Post(func() { loop.SetPaused(false) })
				})
			}
		})
	}

	if w.duration > 0 {
		time.AfterFunc(w.duration, loop.Quit)
	}
}
