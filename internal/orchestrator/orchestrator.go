// Package orchestrator connects change events to generation work: it maps
// each event to the templates it affects, submits one task per template to
// the queue, and implements the task body that renders and writes output.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/papapumpkin/weft/internal/metadata"
	"github.com/papapumpkin/weft/internal/monitor"
	"github.com/papapumpkin/weft/internal/queue"
	"github.com/papapumpkin/weft/internal/registry"
	"github.com/papapumpkin/weft/internal/render"
	"github.com/papapumpkin/weft/internal/telemetry"
)

// RegistryKey is the queue key of registry-wide resets. It cannot collide
// with a template key, which is always an absolute path.
const RegistryKey = "@registry"

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Registry  *registry.Registry
	Queue     *queue.Queue
	Provider  metadata.Provider
	Telemetry *telemetry.Emitter // optional
	Logger    io.Writer          // optional
}

// Stats counts task outcomes since the Orchestrator was created.
type Stats struct {
	Rendered  int64 // successful renders
	Written   int64 // renders that changed an output file
	Unchanged int64 // renders whose output already matched the file on disk
	Ignored   int64 // source paths skipped as echoes of our own writes
}

// Orchestrator turns change events into generation tasks.
type Orchestrator struct {
	reg      *registry.Registry
	q        *queue.Queue
	provider metadata.Provider
	tel      *telemetry.Emitter
	logger   io.Writer

	// edited holds templates with an invalidation still owed to them. It
	// outlives the queued task, which a later submission may replace.
	editMu sync.Mutex
	edited map[string]bool

	rendered  atomic.Int64
	written   atomic.Int64
	unchanged atomic.Int64
	ignored   atomic.Int64
}

// New returns an Orchestrator. Registry, Queue and Provider are required.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = io.Discard
	}
	return &Orchestrator{
		reg:      cfg.Registry,
		q:        cfg.Queue,
		provider: cfg.Provider,
		tel:      cfg.Telemetry,
		logger:   logger,
		edited:   make(map[string]bool),
	}
}

// Stats returns a snapshot of the outcome counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Rendered:  o.rendered.Load(),
		Written:   o.written.Load(),
		Unchanged: o.unchanged.Load(),
		Ignored:   o.ignored.Load(),
	}
}

// Run handles events until ctx is done or the channel is closed.
func (o *Orchestrator) Run(ctx context.Context, events <-chan monitor.ChangeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			o.Handle(ev)
		}
	}
}

// Handle maps one change event to queued work. It only reads the registry,
// except for source renames, whose bindings are moved immediately.
func (o *Orchestrator) Handle(ev monitor.ChangeEvent) {
	switch ev.Target {
	case monitor.Project:
		o.enqueueReset(queue.SourceChanged)
	case monitor.Template:
		o.handleTemplate(ev)
	case monitor.Source:
		o.handleSource(ev)
	}
}

func (o *Orchestrator) handleTemplate(ev monitor.ChangeEvent) {
	if ev.Kind != monitor.Changed {
		o.enqueueReset(queue.TemplateEdited)
		return
	}
	reset := false
	for _, p := range ev.Paths {
		if o.reg.IsTemplate(p) {
			o.enqueueRender(p, queue.TemplateEdited)
		} else {
			reset = true
		}
	}
	if reset {
		o.enqueueReset(queue.TemplateEdited)
	}
}

func (o *Orchestrator) handleSource(ev monitor.ChangeEvent) {
	affected := make(map[string]bool)
	var order []string
	add := func(ts []registry.Template, skip string) {
		for _, t := range ts {
			if t.Path != skip && !affected[t.Path] {
				affected[t.Path] = true
				order = append(order, t.Path)
			}
		}
	}

	for i, p := range ev.Paths {
		if ev.Kind == monitor.Renamed && i < len(ev.OldPaths) {
			if n := o.reg.Rekey(ev.OldPaths[i], p); n > 0 {
				// Bound templates followed the file; only templates whose
				// match rules newly cover it need a render.
				for _, t := range o.reg.FindTemplatesFor(p) {
					if !slices.Contains(t.Bound, p) {
						add([]registry.Template{t}, "")
					}
				}
				continue
			}
		}

		owner, own := o.reg.OwnerOf(p)
		switch {
		case own && o.isEcho(owner, p):
			// Our own write: the owner is up to date, but other templates
			// may read from the generated file.
			o.ignored.Add(1)
			o.tel.Record(telemetry.KindEventIgnored, p, map[string]string{"owner": owner.Path})
			add(o.reg.FindTemplatesFor(p), owner.Path)
		case own:
			// A generated file was edited or removed by hand.
			add([]registry.Template{owner}, "")
			add(o.reg.FindTemplatesFor(p), "")
		default:
			add(o.reg.FindTemplatesFor(p), "")
		}
	}

	for _, path := range order {
		o.enqueueRender(path, queue.SourceChanged)
	}
}

// isEcho reports whether the file at output holds exactly what owner last
// rendered.
func (o *Orchestrator) isEcho(owner registry.Template, output string) bool {
	if owner.LastRenderedHash == "" {
		return false
	}
	sum, err := fileHash(output)
	return err == nil && sum == owner.LastRenderedHash
}

// RenderNow queues every named template, or all templates when none are
// named. Unknown paths are reported in the returned error; the rest are
// still queued.
func (o *Orchestrator) RenderNow(paths ...string) error {
	if len(paths) == 0 {
		for _, t := range o.reg.All() {
			paths = append(paths, t.Path)
		}
	}
	var errs []error
	for _, p := range paths {
		if !o.reg.IsTemplate(p) {
			errs = append(errs, fmt.Errorf("%w: %s", registry.ErrUnknownTemplate, p))
			continue
		}
		if err := o.q.Enqueue(o.renderTask(p, queue.ManualTrigger)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResetAll queues a registry reset.
func (o *Orchestrator) ResetAll() error {
	return o.q.Enqueue(o.resetTask(queue.ManualTrigger))
}

func (o *Orchestrator) enqueueRender(path string, reason queue.Reason) {
	if reason == queue.TemplateEdited {
		o.editMu.Lock()
		o.edited[path] = true
		o.editMu.Unlock()
	}
	if err := o.q.Enqueue(o.renderTask(path, reason)); err != nil {
		fmt.Fprintf(o.logger, "warning: queueing %s: %v\n", path, err)
	}
}

// takeEdited reports and clears a pending invalidation of path.
func (o *Orchestrator) takeEdited(path string) bool {
	o.editMu.Lock()
	defer o.editMu.Unlock()
	owed := o.edited[path]
	delete(o.edited, path)
	return owed
}

func (o *Orchestrator) enqueueReset(reason queue.Reason) {
	if err := o.q.Enqueue(o.resetTask(reason)); err != nil {
		fmt.Fprintf(o.logger, "warning: queueing registry reset: %v\n", err)
	}
}

func (o *Orchestrator) renderTask(path string, reason queue.Reason) queue.Task {
	return queue.Task{
		Key:    path,
		Reason: reason,
		Action: func(ctx context.Context) error { return o.generate(ctx, path, reason) },
	}
}

func (o *Orchestrator) resetTask(reason queue.Reason) queue.Task {
	return queue.Task{Key: RegistryKey, Reason: reason, Action: o.reset}
}

// reset rediscovers templates and queues a render of every one, since the
// reset dropped all hashes and bindings.
func (o *Orchestrator) reset(context.Context) error {
	added, err := o.reg.ResetAll()
	if err != nil {
		return err
	}
	all := o.reg.All()
	o.tel.Record(telemetry.KindRegistryReset, RegistryKey, map[string]int{
		"templates": len(all),
		"added":     len(added),
	})

	isNew := make(map[string]bool, len(added))
	for _, p := range added {
		isNew[p] = true
	}
	for _, t := range all {
		reason := queue.SourceChanged
		if isNew[t.Path] {
			reason = queue.TemplateEdited
		}
		o.enqueueRender(t.Path, reason)
	}
	return nil
}

// generate is the task body for one template.
func (o *Orchestrator) generate(ctx context.Context, path string, reason queue.Reason) error {
	if o.takeEdited(path) || reason == queue.TemplateEdited {
		o.reg.Invalidate(path)
	}

	tmpl, body, err := o.reg.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, registry.ErrUnknownTemplate) {
			// Deleted since it was queued; the pending reset forgets it.
			return nil
		}
		return err
	}

	snap, err := o.provider.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Partial() {
		fmt.Fprintf(o.logger, "warning: %s: metadata is partial (%d problem files)\n", path, len(snap.Problems))
	}

	res, err := render.Render(render.Input{
		Template: path,
		Output:   tmpl.Output,
		Body:     body,
		Snapshot: snap,
	})
	if err != nil {
		return err
	}

	hash := contentHash(res.Output)
	changed, err := writeIfChanged(tmpl.Output, res.Output, hash)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrOutputWrite, tmpl.Output, err)
	}
	if err := o.reg.RecordRender(path, hash, res.Bound); err != nil {
		return err
	}

	o.rendered.Add(1)
	data := map[string]any{"output": tmpl.Output, "hash": hash, "bound": len(res.Bound)}
	if changed {
		o.written.Add(1)
		o.tel.Record(telemetry.KindOutputWritten, path, data)
	} else {
		o.unchanged.Add(1)
		o.tel.Record(telemetry.KindOutputUnchanged, path, data)
	}
	return nil
}
