// Package registry tracks the template files of a project: where they
// write, which source files they depend on, and what they last produced.
package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
)

type entry struct {
	header  Header
	output  string
	hash    string
	bound   map[string]bool
	problem string
}

func (e *entry) snapshot(path string) Template {
	t := Template{
		Path:             path,
		Output:           e.output,
		Match:            slices.Clone(e.header.Match),
		LastRenderedHash: e.hash,
		Problem:          e.problem,
	}
	for p := range e.bound {
		t.Bound = append(t.Bound, p)
	}
	sort.Strings(t.Bound)
	return t
}

type options struct {
	ext    string
	ignore []string
}

// Option configures a Registry.
type Option func(*options)

// WithExtension sets the template file extension (default ".weft").
func WithExtension(ext string) Option {
	return func(o *options) { o.ext = ext }
}

// WithIgnore adds directory names skipped during discovery.
func WithIgnore(names ...string) Option {
	return func(o *options) { o.ignore = append(o.ignore, names...) }
}

// Registry holds every known template. Reads are safe from any goroutine;
// mutations are expected to come from the generation queue's worker.
type Registry struct {
	root string
	opts options

	mu        sync.RWMutex
	templates map[string]*entry
	outputs   map[string]string // output path -> template path
}

// New returns an empty registry for root. Call ResetAll to discover
// templates.
func New(root string, opts ...Option) (*Registry, error) {
	o := options{
		ext:    ".weft",
		ignore: []string{".git", "node_modules", "vendor", "testdata"},
	}
	for _, opt := range opts {
		opt(&o)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return &Registry{
		root:      abs,
		opts:      o,
		templates: make(map[string]*entry),
		outputs:   make(map[string]string),
	}, nil
}

// Root returns the absolute project root.
func (r *Registry) Root() string { return r.root }

// ResetAll drops every cached hash and binding and rediscovers templates
// from disk. It returns the templates that were not registered before,
// sorted. Files whose headers do not parse are registered with a Problem;
// the returned error only reports a failure to walk the tree.
func (r *Registry) ResetAll() ([]string, error) {
	found, err := r.discover()
	if err != nil {
		return nil, fmt.Errorf("registry: discovering templates: %w", err)
	}

	templates := make(map[string]*entry, len(found))
	outputs := make(map[string]string, len(found))
	for _, p := range found {
		e := r.parse(p)
		if e.problem == "" {
			if owner, taken := outputs[e.output]; taken {
				e.problem = fmt.Sprintf("%v: %s", ErrOutputConflict, owner)
				e.output = ""
			} else {
				outputs[e.output] = p
			}
		}
		templates[p] = e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var added []string
	for _, p := range found {
		if _, known := r.templates[p]; !known {
			added = append(added, p)
		}
	}
	r.templates = templates
	r.outputs = outputs
	return added, nil
}

// discover walks the root for template files, sorted.
func (r *Registry) discover() ([]string, error) {
	var found []string
	err := filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == r.root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if p != r.root && (strings.HasPrefix(name, ".") || slices.Contains(r.opts.ignore, name)) {
				return filepath.SkipDir
			}
			return nil
		}
		if r.IsTemplateFile(p) {
			found = append(found, p)
		}
		return nil
	})
	sort.Strings(found)
	return found, err
}

// parse reads one template file into a fresh entry.
func (r *Registry) parse(path string) *entry {
	e := &entry{bound: make(map[string]bool)}
	data, err := os.ReadFile(path)
	if err != nil {
		e.problem = err.Error()
		return e
	}
	h, _, err := ParseTemplate(string(data))
	if err != nil {
		e.problem = err.Error()
		return e
	}
	out, err := resolveOutput(r.root, path, h.Output)
	if err != nil {
		e.problem = err.Error()
		return e
	}
	e.header = h
	e.output = out
	return e
}

// IsTemplateFile reports whether path has the template extension.
func (r *Registry) IsTemplateFile(path string) bool {
	return filepath.Ext(path) == r.opts.ext
}

// IsTemplate reports whether path is a registered template.
func (r *Registry) IsTemplate(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[path]
	return ok
}

// Get returns the registered template at path.
func (r *Registry) Get(path string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.templates[path]
	if !ok {
		return Template{}, false
	}
	return e.snapshot(path), true
}

// All returns every registered template, sorted by path.
func (r *Registry) All() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Template, 0, len(r.templates))
	for p, e := range r.templates {
		out = append(out, e.snapshot(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// FindTemplatesFor returns the templates affected by a change to
// sourcePath: those bound to it by their last render and those whose match
// globs cover it. The result is sorted by template path.
func (r *Registry) FindTemplatesFor(sourcePath string) []Template {
	rel, err := filepath.Rel(r.root, sourcePath)
	if err != nil {
		rel = ""
	}
	rel = filepath.ToSlash(rel)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Template
	for p, e := range r.templates {
		if e.bound[sourcePath] || matchesAny(e.header.Match, rel) {
			out = append(out, e.snapshot(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func matchesAny(patterns []string, rel string) bool {
	if rel == "" || strings.HasPrefix(rel, "../") {
		return false
	}
	for _, pat := range patterns {
		if matchGlob(pat, rel) {
			return true
		}
	}
	return false
}

// OwnerOf returns the template that writes output.
func (r *Registry) OwnerOf(output string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.outputs[output]
	if !ok {
		return Template{}, false
	}
	return r.templates[p].snapshot(p), true
}

// Invalidate clears the cached hash and bindings of a template.
func (r *Registry) Invalidate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.templates[path]; ok {
		e.hash = ""
		e.bound = make(map[string]bool)
	}
}

// Load re-reads a registered template from disk, refreshing its header,
// and returns it with its body. Cached hash and bindings are kept.
func (r *Registry) Load(path string) (Template, string, error) {
	r.mu.RLock()
	_, ok := r.templates[path]
	r.mu.RUnlock()
	if !ok {
		return Template{}, "", fmt.Errorf("%w: %s", ErrUnknownTemplate, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, "", fmt.Errorf("registry: reading %s: %w", path, err)
	}
	h, body, err := ParseTemplate(string(data))
	if err != nil {
		return Template{}, "", fmt.Errorf("registry: %s: %w", path, err)
	}
	out, err := resolveOutput(r.root, path, h.Output)
	if err != nil {
		return Template{}, "", fmt.Errorf("registry: %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.templates[path]
	if !ok {
		return Template{}, "", fmt.Errorf("%w: %s", ErrUnknownTemplate, path)
	}
	if owner, taken := r.outputs[out]; taken && owner != path {
		return Template{}, "", fmt.Errorf("registry: %s: %w: %s", path, ErrOutputConflict, owner)
	}
	if e.output != "" && e.output != out && r.outputs[e.output] == path {
		delete(r.outputs, e.output)
	}
	e.header = h
	e.output = out
	e.problem = ""
	r.outputs[out] = path
	return e.snapshot(path), body, nil
}

// RecordRender stores the hash and bindings of a successful render.
func (r *Registry) RecordRender(path, hash string, bound []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.templates[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, path)
	}
	e.hash = hash
	e.bound = make(map[string]bool, len(bound))
	for _, p := range bound {
		e.bound[p] = true
	}
	return nil
}

// Rekey moves every binding on oldPath to newPath and returns how many
// templates were affected.
func (r *Registry) Rekey(oldPath, newPath string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.templates {
		if e.bound[oldPath] {
			delete(e.bound, oldPath)
			e.bound[newPath] = true
			n++
		}
	}
	return n
}

