package arch_test

import (
	"go/ast"
	"go/token"
	"path/filepath"
	"strings"
	"testing"
)

// undocumented lists exported names that may go without a doc comment.
var undocumented = map[string][]string{
	// Reason values read as their own description.
	"queue": {"TemplateEdited", "SourceChanged", "ManualTrigger"},
	// The error interface methods of the documented Error type.
	"render": {"Error", "Unwrap"},
}

// missingDocs reports the exported declarations of p without a doc comment
// that starts with their name. Values in a const or var group may instead
// rely on the group's comment or a trailing line comment.
func missingDocs(p *pkg) []string {
	skip := make(map[string]bool)
	for _, name := range undocumented[p.name] {
		skip[name] = true
	}
	var missing []string
	report := func(pos token.Pos, kind, name string) {
		if !skip[name] {
			at := p.fset.Position(pos)
			missing = append(missing, filepath.Base(at.Filename)+": "+kind+" "+name)
		}
	}

	for _, fname := range p.fileNames() {
		for _, decl := range p.files[fname].Decls {
			switch d := decl.(type) {
			case *ast.FuncDecl:
				if !d.Name.IsExported() || (d.Recv != nil && !exportedReceiver(d.Recv.List[0].Type)) {
					continue
				}
				if !docStartsWith(d.Doc, d.Name.Name) {
					report(d.Pos(), "func", d.Name.Name)
				}
			case *ast.GenDecl:
				grouped := d.Lparen.IsValid()
				for _, spec := range d.Specs {
					switch s := spec.(type) {
					case *ast.TypeSpec:
						if s.Name.IsExported() && !docStartsWith(s.Doc, s.Name.Name) && !docStartsWith(d.Doc, s.Name.Name) {
							report(s.Pos(), "type", s.Name.Name)
						}
					case *ast.ValueSpec:
						for _, id := range s.Names {
							if !id.IsExported() || docStartsWith(s.Doc, id.Name) {
								continue
							}
							if grouped && (hasText(d.Doc) || hasText(s.Doc) || hasText(s.Comment)) {
								continue
							}
							if !grouped && docStartsWith(d.Doc, id.Name) {
								continue
							}
							report(id.Pos(), d.Tok.String(), id.Name)
						}
					}
				}
			}
		}
	}
	return missing
}

func docStartsWith(g *ast.CommentGroup, name string) bool {
	return g != nil && strings.HasPrefix(strings.TrimSpace(g.Text()), name)
}

func hasText(g *ast.CommentGroup) bool {
	return g != nil && strings.TrimSpace(g.Text()) != ""
}

// exportedReceiver unwraps pointers and type parameters to the receiver's
// type name.
func exportedReceiver(expr ast.Expr) bool {
	for {
		switch e := expr.(type) {
		case *ast.StarExpr:
			expr = e.X
		case *ast.IndexExpr:
			expr = e.X
		case *ast.IndexListExpr:
			expr = e.X
		case *ast.Ident:
			return e.IsExported()
		default:
			return false
		}
	}
}

func TestExportedAPIHasDocs(t *testing.T) {
	t.Parallel()

	for _, p := range loadPackages(t) {
		for _, m := range missingDocs(p) {
			t.Errorf("%s/%s has no doc comment starting with its name", p.name, m)
		}
	}
}

func TestMissingDocsDetection(t *testing.T) {
	t.Parallel()

	src := `package queue

// Queue runs tasks.
type Queue struct{}

type Task struct{}

// Enqueue submits a task.
func (q *Queue) Enqueue() {}

// submits without naming itself.
func (q *Queue) Dispose() {}

func (w *worker) Run() {}

// Reasons.
const (
	TemplateEdited = iota
	SourceChanged
)

const (
	A = 1 // first
	B = 2
)

var ErrClosed = errors.New("closed")
`
	got := missingDocs(parseSnippet(t, "other", src))
	want := []string{"snippet.go: type Task", "snippet.go: func Dispose", "snippet.go: const B", "snippet.go: var ErrClosed"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("missingDocs = %v, want %v", got, want)
	}
}
