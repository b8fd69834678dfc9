// Package monitor watches a project tree and turns raw filesystem
// notifications into coalesced, classified change events.
package monitor

import (
	"path/filepath"
	"slices"
	"strings"
)

// Kind is what happened to the paths of a ChangeEvent.
type Kind int

// Change kinds.
const (
	Added Kind = iota
	Changed
	Deleted
	Renamed
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Target classifies the files of a ChangeEvent.
type Target int

const (
	Source   Target = iota // Go source files
	Template               // template files
	Project                // go.mod / go.work
)

// String returns the lowercase target name.
func (t Target) String() string {
	switch t {
	case Source:
		return "source"
	case Template:
		return "template"
	case Project:
		return "project"
	default:
		return "unknown"
	}
}

// ChangeEvent is one coalesced change to one or more files of the same
// target class. For Renamed events OldPaths[i] was renamed to Paths[i]; for
// every other kind OldPaths is nil. Paths are absolute and in arrival order.
// Receivers must not modify the slices.
type ChangeEvent struct {
	Kind     Kind
	Target   Target
	Paths    []string
	OldPaths []string
}

// Classifier maps a path to its Target.
type Classifier struct {
	TemplateExt string   // e.g. ".weft"
	SourceExts  []string // e.g. [".go"]
}

// DefaultClassifier recognises .weft templates and Go sources.
func DefaultClassifier() Classifier {
	return Classifier{TemplateExt: ".weft", SourceExts: []string{".go"}}
}

// Classify reports the Target of path, or false when the monitor should not
// care about it. Go test files are sources like any other.
func (c Classifier) Classify(path string) (Target, bool) {
	base := filepath.Base(path)
	if base == "go.mod" || base == "go.work" {
		return Project, true
	}
	ext := filepath.Ext(base)
	if ext == "" || strings.HasPrefix(base, ".") {
		return 0, false
	}
	if c.TemplateExt != "" && ext == c.TemplateExt {
		return Template, true
	}
	if slices.Contains(c.SourceExts, ext) {
		return Source, true
	}
	return 0, false
}

// defaultIgnoredDirs are never watched.
func defaultIgnoredDirs() []string {
	return []string{".git", "node_modules", "vendor", "testdata"}
}
