package metadata

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ScanProvider is the baseline backend. It reads Go files line by line and
// recognises the common declaration shapes with regular expressions:
// top-level struct and interface blocks, single-line type definitions and
// methods. It does not understand grouped `type ( ... )` blocks, and field
// types are taken verbatim from the line, but it works on any readable tree
// and never fails on malformed code.
type ScanProvider struct {
	root string
}

// NewScanProvider returns a ScanProvider for root. A missing go.mod only
// leaves import paths empty.
func NewScanProvider(root string) (Provider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("scan backend: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("scan backend: project root %s is not a directory", abs)
	}
	return &ScanProvider{root: abs}, nil
}

// Name returns "scan".
func (p *ScanProvider) Name() string { return "scan" }

var (
	scanPackageRe   = regexp.MustCompile(`^package\s+(\w+)`)
	scanBlockRe     = regexp.MustCompile(`^type\s+(\w+)(?:\[[^\]]*\])?\s+(struct|interface)\s*\{\s*(\}?)`)
	scanTypeRe      = regexp.MustCompile(`^type\s+(\w+)(?:\[[^\]]*\])?\s+(=\s*)?(\S.*?)\s*(?://.*)?$`)
	scanMethodRe    = regexp.MustCompile(`^func\s+\(\s*(?:\w+\s+)?(\*?)\s*(\w+)(?:\[[^\]]*\])?\s*\)\s*(\w+)\s*(\(.*?)\s*\{?\s*(?://.*)?$`)
	scanFieldRe     = regexp.MustCompile("^(\\w+(?:\\s*,\\s*\\w+)*)\\s+([^`/]+?)\\s*(?:`([^`]*)`)?\\s*(?://.*)?$")
	scanEmbeddedRe  = regexp.MustCompile(`^(\*?[\w.]+)\s*(?://.*)?$`)
	scanIfaceFuncRe = regexp.MustCompile(`^(\w+)\s*(\(.*)$`)
)

// Snapshot scans the tree. Unreadable files are listed in Problems.
func (p *ScanProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	byDir, dirs, err := goFilesByDir(ctx, p.root)
	if err != nil {
		return nil, &ExtractionError{Backend: p.Name(), Root: p.root, Err: err}
	}

	module, _ := readModulePath(p.root)
	snap := &Snapshot{Root: p.root, Module: module, Backend: p.Name(), TakenAt: time.Now()}
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, &ExtractionError{Backend: p.Name(), Root: p.root, Err: err}
		}
		c := newPackageCollector(importPathFor(module, p.root, dir))
		for _, file := range byDir[dir] {
			if err := scanFile(c, file); err != nil {
				snap.Problems = append(snap.Problems, err.Error())
			}
		}
		snap.Types = append(snap.Types, c.types()...)
	}

	sortTypes(snap.Types)
	return snap, nil
}

// scanFile feeds one file's declarations into c.
func scanFile(c *packageCollector, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		pkg     string
		doc     []string
		current *TypeInfo
	)
	flush := func() {
		if current == nil {
			return
		}
		if _, dup := c.byName[current.Name]; !dup {
			c.order = append(c.order, current.Name)
		}
		c.byName[current.Name] = current
		current = nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.TrimSpace(raw)

		if current != nil {
			// Block bodies end at a closing brace in column zero.
			if strings.HasPrefix(raw, "}") {
				flush()
				continue
			}
			scanMember(current, line)
			continue
		}

		switch {
		case strings.HasPrefix(line, "//"):
			doc = append(doc, strings.TrimSpace(strings.TrimPrefix(line, "//")))
			continue
		case pkg == "":
			if m := scanPackageRe.FindStringSubmatch(line); m != nil {
				pkg = m[1]
			}
		case strings.HasPrefix(raw, "type "):
			if m := scanBlockRe.FindStringSubmatch(raw); m != nil {
				kind := KindStruct
				if m[2] == "interface" {
					kind = KindInterface
				}
				current = &TypeInfo{
					Name: m[1], Package: pkg, ImportPath: c.importPath,
					File: path, Kind: kind, Doc: strings.Join(doc, "\n"),
				}
				if m[3] == "}" || strings.HasSuffix(stripComment(raw), "}") {
					scanOneLiner(current, raw)
					flush()
				}
			} else if m := scanTypeRe.FindStringSubmatch(raw); m != nil && m[3] != "(" {
				info := &TypeInfo{
					Name: m[1], Package: pkg, ImportPath: c.importPath,
					File: path, Kind: KindOther, Underlying: m[3], Doc: strings.Join(doc, "\n"),
				}
				current = info
				flush()
			}
		case strings.HasPrefix(raw, "func ("):
			if m := scanMethodRe.FindStringSubmatch(raw); m != nil {
				c.methods[m[2]] = append(c.methods[m[2]], Method{
					Name:      m[3],
					Signature: "func" + scanSignature(m[4]),
					Pointer:   m[1] == "*",
				})
			}
		}
		doc = doc[:0]
	}
	flush()
	return scanner.Err()
}

// scanMember parses one line inside a struct or interface block.
func scanMember(t *TypeInfo, line string) {
	if line == "" || strings.HasPrefix(line, "//") {
		return
	}
	if t.Kind == KindInterface {
		if m := scanIfaceFuncRe.FindStringSubmatch(line); m != nil {
			t.Methods = append(t.Methods, Method{Name: m[1], Signature: "func" + stripComment(m[2])})
		}
		return
	}
	if m := scanFieldRe.FindStringSubmatch(line); m != nil {
		for _, name := range strings.Split(m[1], ",") {
			t.Fields = append(t.Fields, Field{Name: strings.TrimSpace(name), Type: strings.TrimSpace(m[2]), Tag: m[3]})
		}
		return
	}
	if m := scanEmbeddedRe.FindStringSubmatch(line); m != nil {
		name := strings.TrimPrefix(m[1], "*")
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		t.Fields = append(t.Fields, Field{Name: name, Type: m[1], Embedded: true})
	}
}

// scanOneLiner handles `type T interface{ M() }` written on a single line.
func scanOneLiner(t *TypeInfo, raw string) {
	open := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if open < 0 || end <= open {
		return
	}
	for _, member := range strings.Split(raw[open+1:end], ";") {
		scanMember(t, strings.TrimSpace(member))
	}
}

// scanSignature trims a one-line body such as `{ return nil }` off the
// parameter and result text captured by scanMethodRe.
func scanSignature(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "}") {
		if i := strings.LastIndex(s, " {"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

func stripComment(s string) string {
	if i := strings.Index(s, "//"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

var _ Provider = (*ScanProvider)(nil)
