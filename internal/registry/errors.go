package registry

import "errors"

var (
	// ErrUnknownTemplate indicates a path that is not a registered template.
	ErrUnknownTemplate = errors.New("unknown template")
	// ErrNoFrontmatter indicates a template file without a +++ header.
	ErrNoFrontmatter = errors.New("missing +++ frontmatter")
	// ErrNoOutput indicates a template header without an output path.
	ErrNoOutput = errors.New("template has no output")
	// ErrOutsideRoot indicates an output path that escapes the project root.
	ErrOutsideRoot = errors.New("output escapes project root")
	// ErrOutputConflict indicates two templates claiming one output file.
	ErrOutputConflict = errors.New("output claimed by another template")
)
