package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/comalice/fedsync"
	"github.com/comalice/fedsync/internal/core"
	"github.com/comalice/fedsync/internal/primitives"
	"github.com/comalice/fedsync/internal/production"
)

// RunArgs holds the flags of the run command.
type RunArgs struct {
	ticks    int
	tickRate time.Duration
	events   bool
	report   string
}

// NewRunCmd returns the run command.
func NewRunCmd() *cobra.Command {
	args := &RunArgs{}

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run every federate of a federation file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, files []string) error {
			if err := checkReportFormat(args.report); err != nil {
				return err
			}
			cfg, err := fedsync.LoadFederationConfig(files[0])
			if err != nil {
				return err
			}
			if cc.Flags().Changed("ticks") {
				cfg.Ticks = args.ticks
			}
			if cc.Flags().Changed("tick-rate") {
				cfg.TickRate = args.tickRate
			}

			// SIGINT interrupts the run; SIGTERM is a host shutdown and fails it
			ctx, stop := signal.NotifyContext(cc.Context(), os.Interrupt)
			defer stop()
			term := make(chan os.Signal, 1)
			signal.Notify(term, syscall.SIGTERM)
			defer signal.Stop(term)
			return runFederation(ctx, cfg, args, term, cc.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&args.ticks, "ticks", 0, "Override the number of ticks (0 runs until interrupted)")
	cmd.Flags().DurationVar(&args.tickRate, "tick-rate", 0, "Override the wall clock time between ticks")
	cmd.Flags().BoolVar(&args.events, "events", false, "Print every sync point transition as a JSON line")
	cmd.Flags().StringVar(&args.report, "report", "", "Print the final state of each federate (text, dot, json)")
	return cmd
}

func runFederation(ctx context.Context, cfg *primitives.FederationConfig, args *RunArgs, term <-chan os.Signal, out io.Writer) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// a fatal error stops every federate instead of exiting the process
	terminate := func(err error) {
		slog.Error("terminating federation", slog.Any("err", err))
		cancel(err)
	}

	var (
		printers errgroup.Group
		mu       sync.Mutex
		enc      = json.NewEncoder(out)
	)
	perFederate := func(string) []fedsync.Option {
		logged := production.NewLogPublisher(slog.Default())
		if !args.events {
			return []fedsync.Option{fedsync.WithPublisher(logged)}
		}
		ch := make(chan core.Transition, 256)
		printers.Go(func() error {
			for t := range ch {
				mu.Lock()
				err := enc.Encode(t)
				mu.Unlock()
				if err != nil {
					return fmt.Errorf("print transition: %w", err)
				}
			}
			return nil
		})
		return []fedsync.Option{fedsync.WithPublisher(production.MultiPublisher{logged, production.NewChannelPublisher(ch)})}
	}

	fed, err := fedsync.NewFederation(*cfg, perFederate,
		fedsync.WithLogger(slog.Default()),
		fedsync.WithTerminator(terminate))
	if err != nil {
		return err
	}

	watching := make(chan struct{})
	go func() {
		select {
		case sig := <-term:
			slog.Info("signal received", slog.String("signal", sig.String()))
			fed.RequestShutdown()
		case <-watching:
		}
	}()

	runErr := fed.Run(ctx)
	close(watching)
	fed.Close()
	if err := printers.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	if errors.Is(runErr, context.Canceled) {
		if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
			return cause
		}
		slog.Info("federation interrupted")
		runErr = nil
	}

	if args.report != "" {
		for _, f := range fed.Federates() {
			if err := writeReport(out, args.report, f.Manager().Snapshot(), f.Coordinator()); err != nil {
				return err
			}
		}
	}
	return runErr
}
