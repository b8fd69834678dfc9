package metadata

import (
	"context"
	"fmt"
	"io"
)

// Factory instantiates a backend for the project rooted at root.
type Factory func(root string) (Provider, error)

// Backend is one compiled-in metadata backend.
type Backend struct {
	Name         string
	HighFidelity bool
	New          Factory
}

// Backends returns every backend compiled into the binary, best first.
func Backends() []Backend {
	return []Backend{
		{Name: "ast", HighFidelity: true, New: NewASTProvider},
		{Name: "scan", HighFidelity: false, New: NewScanProvider},
	}
}

// LookupBackend returns the registered backend called name.
func LookupBackend(name string) (Backend, error) {
	for _, b := range Backends() {
		if b.Name == name {
			return b, nil
		}
	}
	return Backend{}, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
}

// Selector chooses the metadata backend once at startup from the host
// version. The zero value is not usable; call NewSelector or fill every
// field.
type Selector struct {
	HighFidelity Backend
	Baseline     Backend
	Logger       io.Writer
}

// NewSelector returns a Selector over the compiled-in backends.
func NewSelector(logger io.Writer) Selector {
	s := Selector{Logger: logger}
	for _, b := range Backends() {
		if b.HighFidelity && s.HighFidelity.New == nil {
			s.HighFidelity = b
		}
		if !b.HighFidelity && s.Baseline.New == nil {
			s.Baseline = b
		}
	}
	return s
}

// Selection is the outcome of backend selection.
type Selection struct {
	Provider  Provider
	Version   Version
	Attempted []string // backend names in the order they were tried
	Fallback  bool     // the high-fidelity backend was tried and failed
	Err       error    // last instantiation error, nil when the first try succeeded
}

// Disabled reports whether no backend could be instantiated.
func (s Selection) Disabled() bool {
	_, ok := s.Provider.(*DisabledProvider)
	return ok
}

// Select parses hostVersion and instantiates a provider for root. Versions
// with major >= HighFidelityMinMajor, and unknown versions, try the
// high-fidelity backend first; a failure is logged and the baseline backend
// is used instead. Other versions go straight to the baseline. If nothing
// can be instantiated the returned provider is a DisabledProvider.
func (s Selector) Select(hostVersion, root string) Selection {
	sel := Selection{Version: ParseVersion(hostVersion)}

	if sel.Version.PrefersHighFidelity() && s.HighFidelity.New != nil {
		sel.Attempted = append(sel.Attempted, s.HighFidelity.Name)
		p, err := instantiate(s.HighFidelity, root)
		if err == nil {
			sel.Provider = p
			return sel
		}
		sel.Err = err
		sel.Fallback = true
		s.warnf("warning: %s metadata backend unavailable (host version %s): %v; falling back to %s\n",
			s.HighFidelity.Name, sel.Version, err, s.Baseline.Name)
	}

	if s.Baseline.New != nil {
		sel.Attempted = append(sel.Attempted, s.Baseline.Name)
		p, err := instantiate(s.Baseline, root)
		if err == nil {
			sel.Provider = p
			return sel
		}
		sel.Err = err
		s.warnf("warning: %s metadata backend unavailable: %v\n", s.Baseline.Name, err)
	}

	s.warnf("warning: no metadata backend available; generation is disabled\n")
	sel.Provider = &DisabledProvider{Root: root, Cause: sel.Err}
	return sel
}

// Force instantiates the named backend, bypassing the version policy.
func (s Selector) Force(name, root string) (Selection, error) {
	b, err := LookupBackend(name)
	if err != nil {
		return Selection{}, err
	}
	p, err := instantiate(b, root)
	if err != nil {
		return Selection{}, fmt.Errorf("metadata: force %s: %w", name, err)
	}
	return Selection{Provider: p, Attempted: []string{name}}, nil
}

func (s Selector) warnf(format string, args ...any) {
	if s.Logger == nil {
		return
	}
	fmt.Fprintf(s.Logger, format, args...)
}

// instantiate calls b.New, converting a panic into an error.
func instantiate(b Backend, root string) (p Provider, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("%s backend panicked: %v", b.Name, r)
		}
	}()
	p, err = b.New(root)
	if err == nil && p == nil {
		err = fmt.Errorf("%s backend returned no provider", b.Name)
	}
	return p, err
}

// DisabledProvider stands in when no backend could be instantiated. Every
// snapshot fails with an ExtractionError wrapping ErrNoBackend.
type DisabledProvider struct {
	Root  string
	Cause error
}

// Name returns "disabled".
func (d *DisabledProvider) Name() string { return "disabled" }

// Snapshot always fails.
func (d *DisabledProvider) Snapshot(context.Context) (*Snapshot, error) {
	err := ErrNoBackend
	if d.Cause != nil {
		err = fmt.Errorf("%w: %v", ErrNoBackend, d.Cause)
	}
	return nil, &ExtractionError{Backend: d.Name(), Root: d.Root, Err: err}
}

var _ Provider = (*DisabledProvider)(nil)
