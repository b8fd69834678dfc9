package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/weft/internal/config"
	"github.com/papapumpkin/weft/internal/metadata"
	"github.com/papapumpkin/weft/internal/orchestrator"
	"github.com/papapumpkin/weft/internal/queue"
	"github.com/papapumpkin/weft/internal/registry"
	"github.com/papapumpkin/weft/internal/status"
	"github.com/papapumpkin/weft/internal/telemetry"
	"github.com/papapumpkin/weft/internal/ui"
)

// historyKeep bounds the status history kept between sessions.
const historyKeep = 5000

// session is one assembled generation pipeline.
type session struct {
	cfg     config.Config
	printer *ui.Printer
	tel     *telemetry.Emitter
	history *status.History
	board   *status.Board
	counter *status.Counter
	sel     metadata.Selection
	reg     *registry.Registry
	q       *queue.Queue
	orch    *orchestrator.Orchestrator
	started time.Time
}

// openSession loads configuration and wires the registry, queue, metadata
// provider and status sinks. Diagnostic stores that fail to open are skipped
// with a warning.
func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	s := &session{
		cfg:     cfg,
		printer: ui.New(os.Stderr, cfg.Root, cfg.Verbose),
		board:   status.NewBoard(),
		counter: status.NewCounter(),
		started: time.Now(),
	}

	clearScratch(cfg.ScratchDir())

	s.tel, err = telemetry.NewEmitter(cfg.TelemetryPath(), s.started.UTC().Format("20060102T150405"))
	if err != nil {
		s.printer.Warn(err.Error())
		s.tel = nil
	}
	s.tel.Record(telemetry.KindSessionStart, "", map[string]string{"root": cfg.Root, "command": cmd.Name()})

	s.history, err = status.OpenHistory(ctx, cfg.HistoryPath(), s.printer)
	if err != nil {
		s.printer.Warn(err.Error())
		s.history = nil
	} else if err := s.history.Prune(ctx, historyKeep); err != nil {
		s.printer.Warn(err.Error())
	}

	s.sel, err = selectBackend(cfg, s.printer)
	if err != nil {
		s.closeStores()
		return nil, err
	}
	s.tel.Record(telemetry.KindBackendSelected, "", map[string]any{
		"backend":   s.sel.Provider.Name(),
		"version":   s.sel.Version.String(),
		"attempted": s.sel.Attempted,
		"fallback":  s.sel.Fallback,
	})
	if s.sel.Disabled() {
		s.printer.Warn("no metadata backend available; every render will fail until the project is fixed")
	}

	s.reg, err = registry.New(cfg.Root,
		registry.WithExtension(cfg.Templates.Extension),
		registry.WithIgnore(cfg.Watch.Ignore...),
	)
	if err != nil {
		s.closeStores()
		return nil, err
	}

	sinks := status.Multi{s.board, s.counter, s.printer, s.tel}
	if s.history != nil {
		sinks = append(sinks, s.history)
	}
	s.q = queue.New(queue.WithSink(sinks), queue.WithLogger(s.printer))
	s.orch = orchestrator.New(orchestrator.Config{
		Registry:  s.reg,
		Queue:     s.q,
		Provider:  s.sel.Provider,
		Telemetry: s.tel,
		Logger:    s.printer,
	})
	return s, nil
}

// selectBackend honours a forced backend, otherwise probes the host version.
func selectBackend(cfg config.Config, printer *ui.Printer) (metadata.Selection, error) {
	selector := metadata.NewSelector(printer)
	if cfg.Backend.Force != "" {
		sel, err := selector.Force(cfg.Backend.Force, cfg.Root)
		if err != nil {
			return metadata.Selection{}, fmt.Errorf("backend %q: %w", cfg.Backend.Force, err)
		}
		sel.Version = metadata.ParseVersion(cfg.Host.Version)
		return sel, nil
	}
	return selector.Select(cfg.Host.Version, cfg.Root), nil
}

// close drains the queue, waiting at most the configured shutdown timeout,
// and closes the diagnostic stores.
func (s *session) close() error {
	err := s.q.Dispose(s.cfg.Queue.ShutdownTimeout)
	if errors.Is(err, queue.ErrAbandoned) {
		s.printer.Warn(err.Error())
	}
	stats := s.orch.Stats()
	s.tel.Record(telemetry.KindSessionDone, "", map[string]any{
		"written":     stats.Written,
		"unchanged":   stats.Unchanged,
		"ignored":     stats.Ignored,
		"failed":      s.counter.Total(status.Failed),
		"duration_ms": time.Since(s.started).Milliseconds(),
	})
	s.closeStores()
	return err
}

func (s *session) closeStores() {
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.printer.Warn(err.Error())
		}
	}
	if err := s.tel.Close(); err != nil {
		s.printer.Warn(err.Error())
	}
}

// failures returns the latest report of every task whose most recent
// transition failed.
func (s *session) failures() []status.Report {
	var out []status.Report
	for _, r := range s.board.All() {
		if r.Status == status.Failed {
			out = append(out, r)
		}
	}
	return out
}

// summarize prints the run totals.
func (s *session) summarize() {
	stats := s.orch.Stats()
	s.printer.Summary(int(stats.Written), int(stats.Unchanged), len(s.failures()))
}

// clearScratch empties the scratch directory left by an earlier session.
// Errors are ignored.
func clearScratch(dir string) {
	_ = os.RemoveAll(dir)
	_ = os.MkdirAll(dir, 0o755)
}
