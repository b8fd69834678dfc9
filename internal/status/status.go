// Package status carries task lifecycle reports from the generation queue to
// whoever displays them. Reports are fire-and-forget: a Sink never returns a
// value to the reporter and must not block it for long.
package status

import (
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of a single generation task.
type Status int

// Task lifecycle states. A task moves Queued → Running → Succeeded|Failed.
const (
	Queued Status = iota
	Running
	Succeeded
	Failed
)

// String returns the lowercase state name.
func (s Status) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further transition follows s for the same task.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Parse converts a state name produced by String back into a Status.
func Parse(name string) (Status, error) {
	switch name {
	case "queued":
		return Queued, nil
	case "running":
		return Running, nil
	case "succeeded":
		return Succeeded, nil
	case "failed":
		return Failed, nil
	}
	return 0, fmt.Errorf("status: unknown state %q", name)
}

// Report is one status transition for a task key.
type Report struct {
	Key     string
	Status  Status
	Message string
	At      time.Time
}

// Sink receives status transitions.
type Sink interface {
	Report(key string, st Status, message string)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(key string, st Status, message string)

// Report calls f.
func (f SinkFunc) Report(key string, st Status, message string) {
	f(key, st, message)
}

// Discard is a Sink that drops every report.
type Discard struct{}

// Report does nothing.
func (Discard) Report(string, Status, string) {}

// Multi fans a report out to several sinks in order. Nil entries are skipped.
type Multi []Sink

// Report forwards to every sink.
func (m Multi) Report(key string, st Status, message string) {
	for _, s := range m {
		if s != nil {
			s.Report(key, st, message)
		}
	}
}

// Counter tallies reports per key and status. It is mostly useful in tests and
// for end-of-run summaries.
type Counter struct {
	mu     sync.Mutex
	counts map[string]map[Status]int
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]map[Status]int)}
}

// Report records one transition.
func (c *Counter) Report(key string, st Status, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.counts[key]
	if !ok {
		m = make(map[Status]int)
		c.counts[key] = m
	}
	m[st]++
}

// Count returns how many times key reported st.
func (c *Counter) Count(key string, st Status) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key][st]
}

// Total returns how many reports with state st were seen across all keys.
func (c *Counter) Total(st Status) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.counts {
		n += m[st]
	}
	return n
}

var (
	_ Sink = SinkFunc(nil)
	_ Sink = Discard{}
	_ Sink = Multi(nil)
	_ Sink = (*Counter)(nil)
)
