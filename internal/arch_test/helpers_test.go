// Package arch_test checks weft's package structure: the dependency order of
// the pipeline stages, the absence of package-level mutable state, and GoDoc
// on the exported API.
package arch_test

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"testing"
)

const modulePath = "github.com/papapumpkin/weft"

// pkg is one package under internal/, parsed without its tests.
type pkg struct {
	name  string
	fset  *token.FileSet
	files map[string]*ast.File // keyed by base name
}

// fileNames returns the base names of p's files, sorted.
func (p *pkg) fileNames() []string {
	names := make([]string, 0, len(p.files))
	for n := range p.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// imports returns every module-local import path of p, sorted and
// deduplicated, with the module prefix removed ("internal/queue", "cmd").
func (p *pkg) imports() []string {
	seen := make(map[string]bool)
	for _, f := range p.files {
		for _, imp := range f.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				continue
			}
			if rel, ok := strings.CutPrefix(path, modulePath+"/"); ok {
				seen[rel] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for rel := range seen {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// internalDir is the absolute path of internal/, found from this file.
func internalDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot locate arch_test sources")
	}
	return filepath.Dir(filepath.Dir(file))
}

// parsePackage parses the non-test Go files of dir.
func parsePackage(t *testing.T, dir string) *pkg {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading %s: %v", dir, err)
	}
	p := &pkg{name: filepath.Base(dir), fset: token.NewFileSet(), files: make(map[string]*ast.File)}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(p.fset, filepath.Join(dir, name), nil, parser.ParseComments|parser.SkipObjectResolution)
		if err != nil {
			t.Fatalf("parsing %s/%s: %v", p.name, name, err)
		}
		p.files[name] = f
	}
	return p
}

// loadPackages parses every package under internal/ that has Go sources,
// sorted by name. arch_test itself has none.
func loadPackages(t *testing.T) []*pkg {
	t.Helper()
	dir := internalDir(t)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading %s: %v", dir, err)
	}
	var pkgs []*pkg
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if p := parsePackage(t, filepath.Join(dir, e.Name())); len(p.files) > 0 {
			pkgs = append(pkgs, p)
		}
	}
	return pkgs
}

// parseSnippet parses src as a file of package name, for checking the
// checkers themselves.
func parseSnippet(t *testing.T, name, src string) *pkg {
	t.Helper()
	p := &pkg{name: name, fset: token.NewFileSet(), files: make(map[string]*ast.File)}
	f, err := parser.ParseFile(p.fset, "snippet.go", src, parser.ParseComments)
	if err != nil {
		t.Fatalf("parsing snippet: %v", err)
	}
	p.files["snippet.go"] = f
	return p
}

func TestLoadPackages(t *testing.T) {
	t.Parallel()

	byName := make(map[string]*pkg)
	for _, p := range loadPackages(t) {
		byName[p.name] = p
	}
	for _, want := range []string{"config", "metadata", "monitor", "orchestrator", "queue", "registry", "render", "status", "telemetry", "ui"} {
		if _, ok := byName[want]; !ok {
			t.Errorf("package %s not loaded", want)
		}
	}
	if _, ok := byName["arch_test"]; ok {
		t.Error("arch_test has no sources and should not be loaded")
	}

	q := byName["queue"]
	if q == nil {
		t.FailNow()
	}
	if names := q.fileNames(); len(names) == 0 || names[0] != "queue.go" {
		t.Errorf("queue files = %v, want queue.go first", names)
	}
	if imps := q.imports(); len(imps) != 1 || imps[0] != "internal/status" {
		t.Errorf("queue imports = %v, want [internal/status]", imps)
	}
}
