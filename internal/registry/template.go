package registry

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Header is the TOML frontmatter of a template file.
type Header struct {
	// Output is the generated file, relative to the template's directory.
	Output string `toml:"output"`
	// Match lists root-relative globs of source files that always trigger
	// this template, in addition to its recorded bindings. A trailing
	// "/**" matches everything below a directory.
	Match []string `toml:"match"`
}

// Template is a registered template as seen by callers. Slices are copies.
type Template struct {
	Path   string // absolute path of the template file
	Output string // absolute path of the generated file
	Match  []string
	// LastRenderedHash is the hex sha256 of the last output written or
	// confirmed on disk; empty when the template has not been rendered
	// since it was discovered or invalidated.
	LastRenderedHash string
	// Bound lists the source files the last successful render read from,
	// sorted.
	Bound []string
	// Problem is set when the header could not be parsed. Such templates
	// stay registered so that their tasks report the error.
	Problem string
}

// ParseTemplate splits a template file into header and body:
//
//	+++
//	output = "types.ts"
//	match = ["internal/model/*.go"]
//	+++
//	body...
func ParseTemplate(content string) (Header, string, error) {
	front, body, err := splitFrontmatter(content)
	if err != nil {
		return Header{}, "", err
	}
	var h Header
	if err := toml.Unmarshal([]byte(front), &h); err != nil {
		return Header{}, "", fmt.Errorf("parsing TOML frontmatter: %w", err)
	}
	h.Output = strings.TrimSpace(h.Output)
	if h.Output == "" {
		return Header{}, "", ErrNoOutput
	}
	return h, strings.TrimLeft(body, "\r\n"), nil
}

// splitFrontmatter splits content on +++ delimiters.
func splitFrontmatter(content string) (string, string, error) {
	const delim = "+++"

	content = strings.TrimLeft(content, " \t\r\n")
	if !strings.HasPrefix(content, delim) {
		return "", "", ErrNoFrontmatter
	}

	rest := content[len(delim):]
	idx := strings.Index(rest, "\n"+delim)
	if idx < 0 {
		return "", "", fmt.Errorf("%w: missing closing delimiter", ErrNoFrontmatter)
	}
	return rest[:idx], rest[idx+1+len(delim):], nil
}

// resolveOutput makes h.Output absolute relative to the template's directory
// and checks that it stays inside root.
func resolveOutput(root, templatePath, output string) (string, error) {
	out := output
	if !filepath.IsAbs(out) {
		out = filepath.Join(filepath.Dir(templatePath), filepath.FromSlash(output))
	}
	out = filepath.Clean(out)
	rel, err := filepath.Rel(root, out)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, output)
	}
	if out == templatePath {
		return "", fmt.Errorf("template %s writes to itself", templatePath)
	}
	return out, nil
}

// matchGlob reports whether the root-relative slash path rel matches pattern.
func matchGlob(pattern, rel string) bool {
	pattern = strings.TrimPrefix(path.Clean(pattern), "./")
	if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
		return strings.HasPrefix(rel, dir+"/")
	}
	ok, err := path.Match(pattern, rel)
	return err == nil && ok
}
