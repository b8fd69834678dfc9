// Package render executes template bodies against a metadata snapshot and
// records which source files the template read from.
package render

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"github.com/papapumpkin/weft/internal/metadata"
)

// Error is a template parse or execution failure.
type Error struct {
	Template string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render %s: %v", e.Template, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Input is everything a render needs.
type Input struct {
	Template string // template path, used in errors and exposed as .Template
	Output   string // resolved output path, exposed as .Output
	Body     string
	Snapshot *metadata.Snapshot
}

// Data is the dot value of a template.
type Data struct {
	Template string
	Output   string
	Module   string
	Backend  string
}

// Result is a successful render.
type Result struct {
	Output []byte
	// Bound lists the declaring files of every type the template looked
	// up, sorted. These become the template's bindings.
	Bound []string
}

// Render executes in.Body. Lookups go through the type functions so that
// every file the output depends on ends up in Result.Bound:
//
//	type "Foo"      the single type named Foo (or pkg.Foo); fails if absent
//	types "model.*" every type matching the pattern, possibly none
//	has "Foo"       whether Foo exists; binds it when it does
//	all             every type in the project
func Render(in Input) (Result, error) {
	snap := in.Snapshot
	if snap == nil {
		snap = &metadata.Snapshot{}
	}

	rec := &recorder{files: make(map[string]bool)}
	tmpl, err := template.New(in.Template).
		Option("missingkey=error").
		Funcs(rec.funcs(snap)).
		Funcs(helpers()).
		Parse(in.Body)
	if err != nil {
		return Result{}, &Error{Template: in.Template, Err: err}
	}

	data := Data{
		Template: in.Template,
		Output:   in.Output,
		Module:   snap.Module,
		Backend:  snap.Backend,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Result{}, &Error{Template: in.Template, Err: err}
	}
	return Result{Output: buf.Bytes(), Bound: rec.bound()}, nil
}

// recorder collects the files behind every type handed to the template.
type recorder struct {
	files map[string]bool
}

func (r *recorder) record(types ...metadata.TypeInfo) {
	for _, t := range types {
		if t.File != "" {
			r.files[t.File] = true
		}
	}
}

func (r *recorder) bound() []string {
	out := make([]string, 0, len(r.files))
	for f := range r.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (r *recorder) funcs(snap *metadata.Snapshot) template.FuncMap {
	return template.FuncMap{
		"type": func(name string) (metadata.TypeInfo, error) {
			t, ok := snap.Lookup(name)
			if !ok {
				return metadata.TypeInfo{}, fmt.Errorf("type %q not found", name)
			}
			r.record(t)
			return t, nil
		},
		"types": func(pattern string) []metadata.TypeInfo {
			matched := snap.Match(pattern)
			r.record(matched...)
			return matched
		},
		"has": func(name string) bool {
			t, ok := snap.Lookup(name)
			if ok {
				r.record(t)
			}
			return ok
		},
		"all": func() []metadata.TypeInfo {
			r.record(snap.Types...)
			return snap.Types
		},
	}
}

func helpers() template.FuncMap {
	return template.FuncMap{
		"lower":      strings.ToLower,
		"upper":      strings.ToUpper,
		"title":      upperFirst,
		"camel":      lowerFirst,
		"snake":      snake,
		"join":       func(sep string, s []string) string { return strings.Join(s, sep) },
		"trimPrefix": func(prefix, s string) string { return strings.TrimPrefix(s, prefix) },
		"trimSuffix": func(suffix, s string) string { return strings.TrimSuffix(s, suffix) },
		"replace":    func(old, new, s string) string { return strings.ReplaceAll(s, old, new) },
		"hasPrefix":  func(prefix, s string) bool { return strings.HasPrefix(s, prefix) },
		"hasSuffix":  func(suffix, s string) bool { return strings.HasSuffix(s, suffix) },
		"quote":      func(s string) string { return fmt.Sprintf("%q", s) },
		"exported":   exported,
		"tagValue":   tagValue,
	}
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func lowerFirst(s string) string {
	r := []rune(s)
	// Lower a leading initialism as a unit: "ID" -> "id", "HTTPServer" -> "httpServer".
	for i := range r {
		if !unicode.IsUpper(r[i]) {
			break
		}
		if i > 0 && i+1 < len(r) && unicode.IsLower(r[i+1]) {
			break
		}
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}

func snake(s string) string {
	var b strings.Builder
	r := []rune(s)
	for i, c := range r {
		if unicode.IsUpper(c) {
			prevLower := i > 0 && (unicode.IsLower(r[i-1]) || unicode.IsDigit(r[i-1]))
			nextLower := i > 0 && i+1 < len(r) && unicode.IsLower(r[i+1]) && unicode.IsUpper(r[i-1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
			c = unicode.ToLower(c)
		}
		b.WriteRune(c)
	}
	return b.String()
}

// exported filters types or fields down to exported names.
func exported(v any) (any, error) {
	switch items := v.(type) {
	case []metadata.TypeInfo:
		var out []metadata.TypeInfo
		for _, t := range items {
			if t.Exported() {
				out = append(out, t)
			}
		}
		return out, nil
	case []metadata.Field:
		var out []metadata.Field
		for _, f := range items {
			if f.Name != "" && unicode.IsUpper([]rune(f.Name)[0]) {
				out = append(out, f)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("exported: unsupported %T", v)
	}
}

// tagValue returns the first comma-separated element of key's value in a
// struct tag: tagValue "json" `json:"id,omitempty"` is "id".
func tagValue(key, tag string) string {
	v := reflect.StructTag(tag).Get(key)
	if i := strings.Index(v, ","); i >= 0 {
		v = v[:i]
	}
	return v
}
