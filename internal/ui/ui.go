// Package ui renders weft's terminal output: task status lines, listings and
// summaries, styled with lipgloss.
package ui

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/papapumpkin/weft/internal/metadata"
	"github.com/papapumpkin/weft/internal/registry"
	"github.com/papapumpkin/weft/internal/status"
)

// Printer writes human-readable output to a terminal. It is a status.Sink and
// an io.Writer for component log lines; all methods are safe for concurrent
// use.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	root    string
	verbose bool
	partial []byte
}

var _ status.Sink = (*Printer)(nil)

// New returns a Printer writing to w. Paths under root are shown relative to
// it. Queued transitions are only printed when verbose is set.
func New(w io.Writer, root string, verbose bool) *Printer {
	return &Printer{w: w, root: root, verbose: verbose}
}

func (p *Printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// rel shortens an absolute path under the root. Anything else, including
// synthetic task keys, is returned unchanged.
func (p *Printer) rel(path string) string {
	if p.root == "" || !filepath.IsAbs(path) {
		return path
	}
	r, err := filepath.Rel(p.root, path)
	if err != nil || strings.HasPrefix(r, "..") {
		return path
	}
	return filepath.ToSlash(r)
}

// Report prints one task transition.
func (p *Printer) Report(key string, st status.Status, message string) {
	name := p.rel(key)
	switch st {
	case status.Queued:
		if !p.verbose {
			return
		}
		p.printf("%s %s %s\n", styleMuted.Render(iconQueued), name, styleMuted.Render("queued ("+message+")"))
	case status.Running:
		p.printf("%s %s\n", styleRunning.Render(iconRunning), name)
	case status.Succeeded:
		line := styleSucceeded.Render(iconSucceeded) + " " + name
		if message != "" {
			line += " " + styleMuted.Render(message)
		}
		p.printf("%s\n", line)
	case status.Failed:
		p.printf("%s %s: %s\n", styleFailed.Render(iconFailed), name, message)
	}
}

// Info prints an informational line.
func (p *Printer) Info(msg string) {
	p.printf("%s\n", msg)
}

// Warn prints a warning line.
func (p *Printer) Warn(msg string) {
	p.printf("%s %s\n", styleWarning.Render("warning:"), msg)
}

// Error prints an error line.
func (p *Printer) Error(msg string) {
	p.printf("%s %s\n", styleFailed.Render("error:"), msg)
}

// Write accepts log output from pipeline components. Complete lines are
// echoed, with a leading "warning:" highlighted; a trailing partial line is
// held until its newline arrives.
func (p *Printer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.partial = append(p.partial, b...)
	for {
		i := bytes.IndexByte(p.partial, '\n')
		if i < 0 {
			break
		}
		line := string(p.partial[:i])
		p.partial = p.partial[i+1:]
		if rest, ok := strings.CutPrefix(line, "warning:"); ok {
			line = styleWarning.Render("warning:") + rest
		}
		if _, err := fmt.Fprintln(p.w, line); err != nil {
			return len(b), err
		}
	}
	return len(b), nil
}

// Selection describes the metadata backend chosen at startup.
func (p *Printer) Selection(sel metadata.Selection) {
	p.printf("%s %s\n", styleHeading.Render("host version"), sel.Version)
	if len(sel.Attempted) > 0 {
		p.printf("%s %s\n", styleHeading.Render("attempted   "), strings.Join(sel.Attempted, ", "))
	}
	switch {
	case sel.Disabled():
		p.printf("%s %s\n", styleHeading.Render("backend     "), styleFailed.Render("none (generation disabled)"))
	case sel.Fallback:
		p.printf("%s %s %s\n", styleHeading.Render("backend     "), sel.Provider.Name(), styleWarning.Render("(fallback)"))
	default:
		p.printf("%s %s\n", styleHeading.Render("backend     "), sel.Provider.Name())
	}
	if sel.Err != nil {
		p.printf("%s %v\n", styleMuted.Render("cause       "), sel.Err)
	}
}

// Templates lists registered templates with their outputs and match rules.
func (p *Printer) Templates(tmpls []registry.Template) {
	if len(tmpls) == 0 {
		p.Info("no templates found")
		return
	}
	for _, t := range tmpls {
		if t.Problem != "" {
			p.printf("%s %s: %s\n", styleFailed.Render(iconFailed), p.rel(t.Path), t.Problem)
			continue
		}
		p.printf("%s %s %s\n", styleHeading.Render(p.rel(t.Path)), styleMuted.Render("->"), p.rel(t.Output))
		if len(t.Match) > 0 {
			p.printf("    match: %s\n", strings.Join(t.Match, ", "))
		}
		if p.verbose && len(t.Bound) > 0 {
			rel := make([]string, len(t.Bound))
			for i, b := range t.Bound {
				rel[i] = p.rel(b)
			}
			p.printf("    bound: %s\n", strings.Join(rel, ", "))
		}
	}
}

// History lists recorded transitions in the order given.
func (p *Printer) History(reports []status.Report) {
	if len(reports) == 0 {
		p.Info("no history recorded")
		return
	}
	for _, r := range reports {
		ts := styleMuted.Render(r.At.Local().Format(time.DateTime))
		state := stateStyle(r.Status).Render(fmt.Sprintf("%-9s", r.Status))
		line := fmt.Sprintf("%s  %s  %s", ts, state, p.rel(r.Key))
		if r.Message != "" {
			line += "  " + styleMuted.Render(r.Message)
		}
		p.printf("%s\n", line)
	}
}

// Summary prints the totals of a finished run.
func (p *Printer) Summary(written, unchanged, failed int) {
	parts := []string{
		styleSucceeded.Render(fmt.Sprintf("%d written", written)),
		styleMuted.Render(fmt.Sprintf("%d unchanged", unchanged)),
	}
	if failed > 0 {
		parts = append(parts, styleFailed.Render(fmt.Sprintf("%d failed", failed)))
	}
	p.printf("%s\n", strings.Join(parts, ", "))
}

func stateStyle(st status.Status) lipgloss.Style {
	switch st {
	case status.Running:
		return styleRunning
	case status.Succeeded:
		return styleSucceeded
	case status.Failed:
		return styleFailed
	default:
		return styleMuted
	}
}
