package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/weft/internal/monitor"
	"github.com/papapumpkin/weft/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the project and regenerate outputs as sources change",
	Long: `Renders every template once, then watches the project tree and re-renders
the templates affected by each change until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	ctx, cancel := setupSignalContext(cmd.Context(), s.printer)
	defer cancel()

	mon, err := monitor.New(s.cfg.Root,
		monitor.WithDebounce(s.cfg.Watch.Debounce),
		monitor.WithMaxWait(s.cfg.Watch.MaxWait),
		monitor.WithIgnore(s.cfg.Watch.Ignore...),
		monitor.WithClassifier(monitor.Classifier{
			TemplateExt: s.cfg.Templates.Extension,
			SourceExts:  s.cfg.Sources.Extensions,
		}),
		monitor.WithLogger(s.printer),
	)
	if err != nil {
		return errors.Join(err, s.close())
	}
	if err := mon.Start(); err != nil {
		mon.Stop()
		return errors.Join(err, s.close())
	}
	if err := s.orch.ResetAll(); err != nil {
		mon.Stop()
		return errors.Join(err, s.close())
	}

	s.printer.Info(fmt.Sprintf("watching %s (backend %s)", s.cfg.Root, s.sel.Provider.Name()))
	runErr := s.orch.Run(ctx, mon.Events())
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	mon.Stop()
	closeErr := s.close()
	s.summarize()
	return errors.Join(runErr, closeErr)
}

// setupSignalContext returns a context that is canceled on SIGINT or SIGTERM.
func setupSignalContext(parent context.Context, printer *ui.Printer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			printer.Info("shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
