package orchestrator

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/papapumpkin/weft/internal/monitor"
)

// runWatched feeds a live monitor over e.root into the orchestrator until
// the test ends.
func runWatched(t *testing.T, e *env) {
	t.Helper()
	m, err := monitor.New(e.root, monitor.WithDebounce(20*time.Millisecond), monitor.WithMaxWait(500*time.Millisecond))
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.o.Run(ctx, m.Events())
	}()
	t.Cleanup(func() {
		cancel()
		m.Stop()
		<-done
	})
}

// waitRenders polls until rel has succeeded want times.
func (e *env) waitRenders(t *testing.T, rel string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for e.succeeded(rel) < want {
		if time.Now().After(deadline) {
			t.Fatalf("%s renders = %d, want %d", rel, e.succeeded(rel), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
	e.wait(t)
}

func TestWatch_DeleteThenUnrelatedCreateRegenerates(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fooProject(), nil)
	e.start(t)
	runWatched(t, e)

	if err := os.Remove(e.path("model/foo.go")); err != nil {
		t.Fatal(err)
	}
	e.write(t, "model/baz.go", "package model\n\ntype Baz struct{}\n")

	e.waitRenders(t, "foo.weft", 2)
	if got := e.read(t, "foo.txt"); got != "" {
		t.Errorf("foo.txt = %q, want empty after Foo's file was deleted", got)
	}
	if tmpl, _ := e.reg.Get(e.path("foo.weft")); len(tmpl.Bound) != 0 {
		t.Errorf("foo.weft bound to %v, want no bindings", tmpl.Bound)
	}
}

func TestWatch_RenameKeepsBinding(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fooProject(), nil)
	e.start(t)
	runWatched(t, e)

	newPath := e.path("model/foo_model.go")
	if err := os.Rename(e.path("model/foo.go"), newPath); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		found := e.reg.FindTemplatesFor(newPath)
		if len(found) == 1 && found[0].Path == e.path("foo.weft") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("binding did not follow the rename: %+v", found)
		}
		time.Sleep(10 * time.Millisecond)
	}
	e.wait(t)
	if got := e.succeeded("foo.weft"); got != 1 {
		t.Errorf("foo.weft renders after rename = %d, want 1", got)
	}
}
