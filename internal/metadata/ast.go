package metadata

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ASTProvider is the high-fidelity backend. It parses every non-test Go file
// under the root with go/parser and reads declarations straight off the
// syntax tree, so it sees struct tags, embedded fields, method receivers and
// doc comments exactly as written.
type ASTProvider struct {
	root string
}

// NewASTProvider returns an ASTProvider for the module rooted at root. It
// fails with ErrNoModule when root has no go.mod, since import paths cannot
// be resolved without one.
func NewASTProvider(root string) (Provider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("ast backend: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("ast backend: project root %s is not a directory", abs)
	}
	if _, err := readModulePath(abs); err != nil {
		return nil, fmt.Errorf("ast backend: %w", err)
	}
	return &ASTProvider{root: abs}, nil
}

// Name returns "ast".
func (p *ASTProvider) Name() string { return "ast" }

// Snapshot parses the tree. Files with syntax errors contribute whatever
// declarations the parser recovered and are listed in Snapshot.Problems.
func (p *ASTProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	byDir, dirs, err := goFilesByDir(ctx, p.root)
	if err != nil {
		return nil, &ExtractionError{Backend: p.Name(), Root: p.root, Err: err}
	}

	// go.mod is re-read every time so a renamed module shows up in the
	// next snapshot.
	module, err := readModulePath(p.root)
	if err != nil {
		return nil, &ExtractionError{Backend: p.Name(), Root: p.root, Err: err}
	}

	snap := &Snapshot{Root: p.root, Module: module, Backend: p.Name(), TakenAt: time.Now()}
	fset := token.NewFileSet()

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, &ExtractionError{Backend: p.Name(), Root: p.root, Err: err}
		}
		c := newPackageCollector(importPathFor(module, p.root, dir))
		for _, file := range byDir[dir] {
			f, err := parser.ParseFile(fset, file, nil, parser.ParseComments|parser.SkipObjectResolution)
			if err != nil {
				snap.Problems = append(snap.Problems, err.Error())
			}
			if f == nil {
				continue
			}
			c.collectFile(file, f)
		}
		snap.Types = append(snap.Types, c.types()...)
	}

	sortTypes(snap.Types)
	return snap, nil
}

// packageCollector gathers the types of one directory and attaches methods
// to them once every file has been seen, since a method may be declared in a
// different file from its receiver type.
type packageCollector struct {
	importPath string
	order      []string
	byName     map[string]*TypeInfo
	methods    map[string][]Method
}

func newPackageCollector(importPath string) *packageCollector {
	return &packageCollector{
		importPath: importPath,
		byName:     make(map[string]*TypeInfo),
		methods:    make(map[string][]Method),
	}
}

func (c *packageCollector) collectFile(path string, f *ast.File) {
	pkg := ""
	if f.Name != nil {
		pkg = f.Name.Name
	}
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok || ts.Name == nil {
					continue
				}
				info := typeSpecInfo(ts, docFor(ts.Doc, d.Doc))
				info.Package = pkg
				info.ImportPath = c.importPath
				info.File = path
				if _, dup := c.byName[info.Name]; !dup {
					c.order = append(c.order, info.Name)
				}
				c.byName[info.Name] = &info
			}
		case *ast.FuncDecl:
			if d.Recv == nil || len(d.Recv.List) == 0 || d.Name == nil {
				continue
			}
			recv, ptr := receiverName(d.Recv.List[0].Type)
			if recv == "" {
				continue
			}
			c.methods[recv] = append(c.methods[recv], Method{
				Name:      d.Name.Name,
				Signature: types.ExprString(d.Type),
				Pointer:   ptr,
			})
		}
	}
}

func (c *packageCollector) types() []TypeInfo {
	out := make([]TypeInfo, 0, len(c.order))
	for _, name := range c.order {
		info := *c.byName[name]
		if info.Kind != KindInterface {
			info.Methods = append(info.Methods, c.methods[name]...)
		}
		out = append(out, info)
	}
	return out
}

func typeSpecInfo(ts *ast.TypeSpec, doc string) TypeInfo {
	info := TypeInfo{Name: ts.Name.Name, Doc: doc}
	switch t := ts.Type.(type) {
	case *ast.StructType:
		info.Kind = KindStruct
		info.Fields = structFields(t)
	case *ast.InterfaceType:
		info.Kind = KindInterface
		info.Methods = interfaceMethods(t)
	default:
		info.Kind = KindOther
		info.Underlying = types.ExprString(ts.Type)
	}
	return info
}

func structFields(st *ast.StructType) []Field {
	if st.Fields == nil {
		return nil
	}
	var fields []Field
	for _, f := range st.Fields.List {
		typ := types.ExprString(f.Type)
		tag := ""
		if f.Tag != nil {
			if unq, err := strconv.Unquote(f.Tag.Value); err == nil {
				tag = unq
			}
		}
		if len(f.Names) == 0 {
			name, _ := receiverName(f.Type)
			if i := strings.LastIndex(name, "."); i >= 0 {
				name = name[i+1:]
			}
			fields = append(fields, Field{Name: name, Type: typ, Tag: tag, Embedded: true})
			continue
		}
		for _, n := range f.Names {
			fields = append(fields, Field{Name: n.Name, Type: typ, Tag: tag})
		}
	}
	return fields
}

func interfaceMethods(it *ast.InterfaceType) []Method {
	if it.Methods == nil {
		return nil
	}
	var methods []Method
	for _, m := range it.Methods.List {
		fn, ok := m.Type.(*ast.FuncType)
		if !ok {
			// Embedded interface or type-set term.
			continue
		}
		for _, n := range m.Names {
			methods = append(methods, Method{Name: n.Name, Signature: types.ExprString(fn)})
		}
	}
	return methods
}

// receiverName unwraps pointers, generic instantiations and package
// qualifiers to the base type name. ptr reports a pointer receiver.
func receiverName(expr ast.Expr) (name string, ptr bool) {
	for {
		switch t := expr.(type) {
		case *ast.StarExpr:
			ptr = true
			expr = t.X
		case *ast.ParenExpr:
			expr = t.X
		case *ast.IndexExpr:
			expr = t.X
		case *ast.IndexListExpr:
			expr = t.X
		case *ast.SelectorExpr:
			return types.ExprString(t), ptr
		case *ast.Ident:
			return t.Name, ptr
		default:
			return "", ptr
		}
	}
}

func docFor(groups ...*ast.CommentGroup) string {
	for _, g := range groups {
		if g != nil {
			return strings.TrimSpace(g.Text())
		}
	}
	return ""
}

var _ Provider = (*ASTProvider)(nil)
