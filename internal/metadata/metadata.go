// Package metadata extracts a point-in-time view of a Go project's type
// structure for templates to reflect over.
//
// Two backends implement Provider: an AST backend built on go/parser, which
// records fields, methods, tags and doc comments, and a line scanner that
// needs nothing but readable files and recovers a coarser view. Which one a
// process uses is decided once at startup by Selector (see select.go).
package metadata

import (
	"context"
	"go/token"
	"path"
	"sort"
	"strings"
	"time"
)

// Kind classifies a type declaration.
type Kind string

// Type declaration kinds.
const (
	KindStruct    Kind = "struct"
	KindInterface Kind = "interface"
	KindOther     Kind = "type"
)

// Field is one struct field. Embedded fields carry the embedded type's name.
type Field struct {
	Name     string
	Type     string
	Tag      string
	Embedded bool
}

// Method is one method in a type's method set or an interface's method list.
type Method struct {
	Name      string
	Signature string // "func(ctx context.Context) error"
	Pointer   bool   // declared on a pointer receiver
}

// TypeInfo describes one named type declaration.
type TypeInfo struct {
	Name       string
	Package    string // package name as declared
	ImportPath string // module-qualified import path; empty when unknown
	File       string // absolute path of the declaring file
	Kind       Kind
	Underlying string // source form of the type expression for KindOther
	Doc        string
	Fields     []Field
	Methods    []Method
}

// QualifiedName returns "pkg.Name".
func (t TypeInfo) QualifiedName() string {
	return t.Package + "." + t.Name
}

// Exported reports whether the type name is exported.
func (t TypeInfo) Exported() bool {
	return token.IsExported(t.Name)
}

// Snapshot is a read-only view of the project's types at one instant. A new
// Snapshot is produced for every generation task; it is never reused.
type Snapshot struct {
	Root    string
	Module  string
	Backend string
	TakenAt time.Time
	Types   []TypeInfo

	// Problems lists files that could not be read or parsed cleanly. A
	// snapshot with problems is still usable: declarations recovered from
	// partially parsed files are included.
	Problems []string
}

// Partial reports whether any file was skipped or only partially parsed.
func (s *Snapshot) Partial() bool {
	return len(s.Problems) > 0
}

// Lookup finds a type by "Name" or "pkg.Name". For an unqualified name that
// exists in several packages the first in snapshot order wins.
func (s *Snapshot) Lookup(name string) (TypeInfo, bool) {
	pkg, typ := splitQualified(name)
	for _, t := range s.Types {
		if t.Name != typ {
			continue
		}
		if pkg == "" || t.Package == pkg || t.ImportPath == pkg {
			return t, true
		}
	}
	return TypeInfo{}, false
}

// Match returns every type whose name matches pattern using path.Match
// syntax. Patterns containing a dot are matched against "pkg.Name"; other
// patterns against the bare name. A malformed pattern matches nothing.
func (s *Snapshot) Match(pattern string) []TypeInfo {
	qualified := strings.Contains(pattern, ".")
	var out []TypeInfo
	for _, t := range s.Types {
		subject := t.Name
		if qualified {
			subject = t.QualifiedName()
		}
		if ok, err := path.Match(pattern, subject); err == nil && ok {
			out = append(out, t)
		}
	}
	return out
}

// Files returns the distinct declaring files of types, sorted.
func Files(types []TypeInfo) []string {
	seen := make(map[string]bool, len(types))
	var out []string
	for _, t := range types {
		if t.File != "" && !seen[t.File] {
			seen[t.File] = true
			out = append(out, t.File)
		}
	}
	sort.Strings(out)
	return out
}

// sortTypes orders types by import path, package and name so that the same
// tree always yields byte-identical renders.
func sortTypes(types []TypeInfo) {
	sort.SliceStable(types, func(i, j int) bool {
		a, b := types[i], types[j]
		if a.ImportPath != b.ImportPath {
			return a.ImportPath < b.ImportPath
		}
		if a.Package != b.Package {
			return a.Package < b.Package
		}
		return a.Name < b.Name
	})
}

func splitQualified(name string) (pkg, typ string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// Provider produces snapshots of one project tree.
type Provider interface {
	// Name identifies the backend, e.g. "ast" or "scan".
	Name() string
	// Snapshot extracts the current type structure. It fails with an
	// *ExtractionError only when no useful view can be produced; syntax
	// errors in individual files degrade to a partial snapshot instead.
	Snapshot(ctx context.Context) (*Snapshot, error)
}
