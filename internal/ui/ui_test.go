package ui

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/papapumpkin/weft/internal/metadata"
	"github.com/papapumpkin/weft/internal/registry"
	"github.com/papapumpkin/weft/internal/status"
)

const testRoot = "/work/proj"

func newTestPrinter(verbose bool) (*Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(&buf, filepath.FromSlash(testRoot), verbose), &buf
}

func abs(rel string) string {
	return filepath.Join(filepath.FromSlash(testRoot), filepath.FromSlash(rel))
}

func TestReport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		verbose bool
		st      status.Status
		msg     string
		want    []string
		empty   bool
	}{
		{name: "queued hidden", st: status.Queued, msg: "source changed", empty: true},
		{name: "queued verbose", verbose: true, st: status.Queued, msg: "source changed", want: []string{"gen/foo.weft", "queued (source changed)"}},
		{name: "running", st: status.Running, want: []string{iconRunning, "gen/foo.weft"}},
		{name: "succeeded", st: status.Succeeded, msg: "wrote gen/foo.go", want: []string{iconSucceeded, "gen/foo.weft", "wrote gen/foo.go"}},
		{name: "failed", st: status.Failed, msg: "render: boom", want: []string{iconFailed, "gen/foo.weft: render: boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, buf := newTestPrinter(tt.verbose)
			p.Report(abs("gen/foo.weft"), tt.st, tt.msg)
			out := buf.String()
			if tt.empty {
				if out != "" {
					t.Errorf("expected no output, got %q", out)
				}
				return
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output %q missing %q", out, w)
				}
			}
			if strings.Contains(out, testRoot) {
				t.Errorf("output should show paths relative to root, got %q", out)
			}
		})
	}
}

func TestReportSyntheticKey(t *testing.T) {
	t.Parallel()
	p, buf := newTestPrinter(false)
	p.Report("@registry", status.Running, "")
	if !strings.Contains(buf.String(), "@registry") {
		t.Errorf("got %q", buf.String())
	}
}

func TestRelOutsideRoot(t *testing.T) {
	t.Parallel()
	p, _ := newTestPrinter(false)
	outside := filepath.Join(filepath.FromSlash("/elsewhere"), "x.weft")
	if got := p.rel(outside); got != outside {
		t.Errorf("rel(%q) = %q, want unchanged", outside, got)
	}
}

func TestWriteBuffersPartialLines(t *testing.T) {
	t.Parallel()
	p, buf := newTestPrinter(false)

	if _, err := p.Write([]byte("warning: first")); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("partial line flushed early: %q", buf.String())
	}
	if _, err := p.Write([]byte(" half\nplain line\n")); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], "warning:") || !strings.HasSuffix(lines[0], " first half") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "plain line" {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestMessages(t *testing.T) {
	t.Parallel()
	p, buf := newTestPrinter(false)
	p.Info("watching")
	p.Warn("slow sink")
	p.Error("bad config")

	out := buf.String()
	for _, w := range []string{"watching\n", "warning:", "slow sink", "error:", "bad config"} {
		if !strings.Contains(out, w) {
			t.Errorf("output %q missing %q", out, w)
		}
	}
}

func TestSelection(t *testing.T) {
	t.Parallel()

	scan, err := metadata.NewScanProvider(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		sel  metadata.Selection
		want []string
	}{
		{
			name: "direct",
			sel:  metadata.Selection{Provider: scan, Version: metadata.ParseVersion("10.0"), Attempted: []string{"scan"}},
			want: []string{"10.0", "scan"},
		},
		{
			name: "fallback",
			sel: metadata.Selection{
				Provider:  scan,
				Version:   metadata.ParseVersion("14.0"),
				Attempted: []string{"ast", "scan"},
				Fallback:  true,
				Err:       errors.New("no go.mod"),
			},
			want: []string{"14.0", "ast, scan", "(fallback)", "no go.mod"},
		},
		{
			name: "disabled",
			sel:  metadata.Selection{Provider: &metadata.DisabledProvider{}, Version: metadata.ParseVersion("")},
			want: []string{"0.0", "generation disabled"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, buf := newTestPrinter(false)
			p.Selection(tt.sel)
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output %q missing %q", buf.String(), w)
				}
			}
		})
	}
}

func TestTemplates(t *testing.T) {
	t.Parallel()

	tmpls := []registry.Template{
		{
			Path:   abs("gen/foo.weft"),
			Output: abs("gen/foo.go"),
			Match:  []string{"model/*.go"},
			Bound:  []string{abs("model/foo.go")},
		},
		{Path: abs("gen/broken.weft"), Problem: "no frontmatter"},
	}

	p, buf := newTestPrinter(false)
	p.Templates(tmpls)
	out := buf.String()
	for _, w := range []string{"gen/foo.weft", "gen/foo.go", "match: model/*.go", "gen/broken.weft: no frontmatter"} {
		if !strings.Contains(out, w) {
			t.Errorf("output %q missing %q", out, w)
		}
	}
	if strings.Contains(out, "bound:") {
		t.Errorf("bindings shown without verbose: %q", out)
	}

	p, buf = newTestPrinter(true)
	p.Templates(tmpls)
	if !strings.Contains(buf.String(), "bound: model/foo.go") {
		t.Errorf("verbose output %q missing bindings", buf.String())
	}

	p, buf = newTestPrinter(false)
	p.Templates(nil)
	if !strings.Contains(buf.String(), "no templates found") {
		t.Errorf("got %q", buf.String())
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p, buf := newTestPrinter(false)
	p.History([]status.Report{
		{Key: abs("gen/foo.weft"), Status: status.Succeeded, Message: "unchanged", At: at},
		{Key: abs("gen/bar.weft"), Status: status.Failed, Message: "render: boom", At: at},
	})
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	for i, w := range [][]string{
		{"succeeded", "gen/foo.weft", "unchanged"},
		{"failed", "gen/bar.weft", "render: boom"},
	} {
		for _, s := range w {
			if !strings.Contains(lines[i], s) {
				t.Errorf("line %d = %q, missing %q", i, lines[i], s)
			}
		}
	}

	p, buf = newTestPrinter(false)
	p.History(nil)
	if !strings.Contains(buf.String(), "no history recorded") {
		t.Errorf("got %q", buf.String())
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	p, buf := newTestPrinter(false)
	p.Summary(2, 3, 0)
	if out := buf.String(); !strings.Contains(out, "2 written") || !strings.Contains(out, "3 unchanged") || strings.Contains(out, "failed") {
		t.Errorf("got %q", out)
	}

	p, buf = newTestPrinter(false)
	p.Summary(0, 0, 1)
	if !strings.Contains(buf.String(), "1 failed") {
		t.Errorf("got %q", buf.String())
	}
}
