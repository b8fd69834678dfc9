package orchestrator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/papapumpkin/weft/internal/metadata"
	"github.com/papapumpkin/weft/internal/monitor"
	"github.com/papapumpkin/weft/internal/queue"
	"github.com/papapumpkin/weft/internal/registry"
	"github.com/papapumpkin/weft/internal/status"
)

type env struct {
	root    string
	reg     *registry.Registry
	q       *queue.Queue
	o       *Orchestrator
	counter *status.Counter
	log     *bytes.Buffer
}

func (e *env) path(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}

func (e *env) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := e.path(rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func (e *env) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(e.path(rel))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func (e *env) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.q.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func (e *env) succeeded(rel string) int {
	return e.counter.Count(e.path(rel), status.Succeeded)
}

// newEnv builds a project with the given files and a pipeline over it using
// provider, or the AST backend when provider is nil.
func newEnv(t *testing.T, files map[string]string, provider metadata.Provider) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{root: root, counter: status.NewCounter(), log: &bytes.Buffer{}}
	e.write(t, "go.mod", "module example.com/demo\n\ngo 1.22\n")
	for rel, content := range files {
		e.write(t, rel, content)
	}

	reg, err := registry.New(root)
	if err != nil {
		t.Fatal(err)
	}
	e.root = reg.Root()
	if provider == nil {
		provider, err = metadata.NewASTProvider(root)
		if err != nil {
			t.Fatal(err)
		}
	}
	e.reg = reg
	e.q = queue.New(queue.WithSink(e.counter))
	t.Cleanup(func() { _ = e.q.Dispose(time.Second) })
	e.o = New(Config{Registry: reg, Queue: e.q, Provider: provider, Logger: e.log})
	return e
}

// start runs the initial reset, which renders every template once.
func (e *env) start(t *testing.T) {
	t.Helper()
	if err := e.o.ResetAll(); err != nil {
		t.Fatal(err)
	}
	e.wait(t)
}

const (
	fooTemplate = "+++\noutput = \"foo.txt\"\n+++\n" +
		`{{ range types "Foo" }}{{ .Name }}{{ range .Fields }} {{ .Name }}{{ end }}{{ end }}`
	barTemplate = "+++\noutput = \"bar.txt\"\n+++\n" +
		`{{ range types "Bar" }}{{ .Name }}{{ end }}`
)

func fooProject() map[string]string {
	return map[string]string{
		"model/foo.go": "package model\n\ntype Foo struct {\n\tID int\n}\n",
		"model/bar.go": "package model\n\ntype Bar struct{}\n",
		"foo.weft":     fooTemplate,
		"bar.weft":     barTemplate,
	}
}

func TestEndToEnd_EditAndDeleteSource(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fooProject(), nil)
	e.start(t)

	if got := e.read(t, "foo.txt"); got != "Foo ID" {
		t.Fatalf("foo.txt = %q, want %q", got, "Foo ID")
	}
	if e.succeeded("foo.weft") != 1 || e.succeeded("bar.weft") != 1 {
		t.Fatalf("initial renders foo=%d bar=%d, want 1 each", e.succeeded("foo.weft"), e.succeeded("bar.weft"))
	}

	// Edit Foo: exactly one regeneration of foo.weft, none of bar.weft.
	foo := e.write(t, "model/foo.go", "package model\n\ntype Foo struct {\n\tID   int\n\tName string\n}\n")
	e.o.Handle(monitor.ChangeEvent{Kind: monitor.Changed, Target: monitor.Source, Paths: []string{foo}})
	e.wait(t)

	if got := e.succeeded("foo.weft"); got != 2 {
		t.Errorf("foo.weft renders after edit = %d, want 2", got)
	}
	if got := e.succeeded("bar.weft"); got != 1 {
		t.Errorf("bar.weft renders after edit = %d, want 1", got)
	}
	if got := e.read(t, "foo.txt"); got != "Foo ID Name" {
		t.Errorf("foo.txt = %q, want %q", got, "Foo ID Name")
	}

	// Delete Foo's file: one more regeneration drops the stale output.
	if err := os.Remove(foo); err != nil {
		t.Fatal(err)
	}
	e.o.Handle(monitor.ChangeEvent{Kind: monitor.Deleted, Target: monitor.Source, Paths: []string{foo}})
	e.wait(t)

	if got := e.succeeded("foo.weft"); got != 3 {
		t.Errorf("foo.weft renders after delete = %d, want 3", got)
	}
	if got := e.succeeded("bar.weft"); got != 1 {
		t.Errorf("bar.weft renders after delete = %d, want 1", got)
	}
	if got := e.read(t, "foo.txt"); got != "" {
		t.Errorf("foo.txt = %q, want empty", got)
	}
	if tmpl, _ := e.reg.Get(e.path("foo.weft")); len(tmpl.Bound) != 0 {
		t.Errorf("foo.weft still bound to %v", tmpl.Bound)
	}
}

func TestEndToEnd_UnrelatedSourceTriggersNothing(t *testing.T) {
	t.Parallel()

	files := fooProject()
	files["util/util.go"] = "package util\n\ntype Helper struct{}\n"
	e := newEnv(t, files, nil)
	e.start(t)

	util := e.write(t, "util/util.go", "package util\n\ntype Helper struct{ X int }\n")
	e.o.Handle(monitor.ChangeEvent{Kind: monitor.Changed, Target: monitor.Source, Paths: []string{util}})
	e.wait(t)

	if e.succeeded("foo.weft") != 1 || e.succeeded("bar.weft") != 1 {
		t.Errorf("renders foo=%d bar=%d, want 1 each", e.succeeded("foo.weft"), e.succeeded("bar.weft"))
	}
}

func TestGenerate_SecondRunWritesNothing(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fooProject(), nil)
	e.start(t)

	first := e.o.Stats()
	if first.Written != 2 {
		t.Fatalf("first run Written = %d, want 2", first.Written)
	}
	info, err := os.Stat(e.path("foo.txt"))
	if err != nil {
		t.Fatal(err)
	}

	if err := e.o.RenderNow(); err != nil {
		t.Fatal(err)
	}
	e.wait(t)

	second := e.o.Stats()
	if second.Written != first.Written {
		t.Errorf("second run wrote %d files, want 0", second.Written-first.Written)
	}
	if second.Unchanged-first.Unchanged != 2 {
		t.Errorf("second run Unchanged delta = %d, want 2", second.Unchanged-first.Unchanged)
	}
	after, err := os.Stat(e.path("foo.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(info.ModTime()) {
		t.Error("foo.txt was rewritten")
	}
}

func TestHandle_IgnoresOwnOutput(t *testing.T) {
	t.Parallel()

	files := fooProject()
	files["gen.weft"] = "+++\noutput = \"gen/names.go\"\n+++\npackage gen\n\n// {{ range types \"Foo\" }}{{ .Name }}{{ end }}\n"
	e := newEnv(t, files, nil)
	e.start(t)

	out := e.path("gen/names.go")
	e.o.Handle(monitor.ChangeEvent{Kind: monitor.Added, Target: monitor.Source, Paths: []string{out}})
	e.wait(t)

	if got := e.succeeded("gen.weft"); got != 1 {
		t.Errorf("gen.weft renders after echo = %d, want 1", got)
	}
	if got := e.o.Stats().Ignored; got != 1 {
		t.Errorf("Ignored = %d, want 1", got)
	}

	// A hand edit of the generated file is reverted by its owner.
	e.write(t, "gen/names.go", "package gen\n\n// edited\n")
	e.o.Handle(monitor.ChangeEvent{Kind: monitor.Changed, Target: monitor.Source, Paths: []string{out}})
	e.wait(t)

	if got := e.succeeded("gen.weft"); got != 2 {
		t.Errorf("gen.weft renders after hand edit = %d, want 2", got)
	}
	if got := e.read(t, "gen/names.go"); got != "package gen\n\n// Foo\n" {
		t.Errorf("gen/names.go = %q", got)
	}
}

func TestHandle_TemplateEvents(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fooProject(), nil)
	e.start(t)

	// Edited template: one render of it, nothing else.
	foo := e.write(t, "foo.weft", "+++\noutput = \"foo.txt\"\n+++\nv2 {{ len (types \"Foo\") }}")
	e.o.Handle(monitor.ChangeEvent{Kind: monitor.Changed, Target: monitor.Template, Paths: []string{foo}})
	e.wait(t)
	if got := e.read(t, "foo.txt"); got != "v2 1" {
		t.Errorf("foo.txt = %q", got)
	}
	if e.succeeded("foo.weft") != 2 || e.succeeded("bar.weft") != 1 {
		t.Errorf("renders foo=%d bar=%d, want 2 and 1", e.succeeded("foo.weft"), e.succeeded("bar.weft"))
	}

	// New template: a reset discovers and renders it.
	added := e.write(t, "new.weft", "+++\noutput = \"new.txt\"\n+++\nhello")
	e.o.Handle(monitor.ChangeEvent{Kind: monitor.Added, Target: monitor.Template, Paths: []string{added}})
	e.wait(t)
	if got := e.read(t, "new.txt"); got != "hello" {
		t.Errorf("new.txt = %q", got)
	}
	if !e.reg.IsTemplate(added) {
		t.Error("new.weft not registered")
	}
	if got := e.counter.Count(RegistryKey, status.Succeeded); got != 2 {
		t.Errorf("registry resets = %d, want 2", got)
	}
}

func TestHandle_ProjectEventResets(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fooProject(), nil)
	e.start(t)

	e.o.Handle(monitor.ChangeEvent{Kind: monitor.Changed, Target: monitor.Project, Paths: []string{e.path("go.mod")}})
	e.wait(t)

	if got := e.counter.Count(RegistryKey, status.Succeeded); got != 2 {
		t.Errorf("registry resets = %d, want 2", got)
	}
	// Bindings were rebuilt by the renders that follow the reset.
	if found := e.reg.FindTemplatesFor(e.path("model/foo.go")); len(found) != 1 {
		t.Errorf("FindTemplatesFor(foo.go) after reset = %d templates, want 1", len(found))
	}
}
