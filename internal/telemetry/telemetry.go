// Package telemetry records pipeline transitions as a JSONL event stream:
// backend selection, registry resets, task state changes and output writes.
// The stream is diagnostic; nothing in the pipeline reads it back.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/papapumpkin/weft/internal/status"
)

// Event kinds identify the type of telemetry event.
const (
	KindSessionStart    = "session_start"
	KindSessionDone     = "session_done"
	KindBackendSelected = "backend_selected"
	KindRegistryReset   = "registry_reset"
	KindTaskState       = "task_state"
	KindOutputWritten   = "output_written"
	KindOutputUnchanged = "output_unchanged"
	KindEventIgnored    = "event_ignored"
)

// Event is a single telemetry record.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Session   string    `json:"session,omitempty"`
	Key       string    `json:"key,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Emitter writes telemetry events to a JSONL file. It is safe for concurrent
// use. A nil *Emitter is a valid no-op emitter.
type Emitter struct {
	file    *os.File
	enc     *json.Encoder
	mu      sync.Mutex
	session string
}

// NewEmitter opens path for appending, creating parent directories, and
// stamps every event with session.
func NewEmitter(path, session string) (*Emitter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	return &Emitter{
		file:    f,
		enc:     json.NewEncoder(f),
		session: session,
	}, nil
}

// Emit writes a single event. Zero timestamps are filled with the current
// time and an empty session with the emitter's session.
func (e *Emitter) Emit(evt Event) error {
	if e == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.Session == "" {
		evt.Session = e.session
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(evt); err != nil {
		return fmt.Errorf("telemetry: encode event: %w", err)
	}
	return nil
}

// Record is Emit for callers that have nowhere to send the error.
func (e *Emitter) Record(kind, key string, data any) {
	_ = e.Emit(Event{Kind: kind, Key: key, Data: data})
}

// Report implements status.Sink by recording a task_state event.
func (e *Emitter) Report(key string, st status.Status, message string) {
	data := map[string]string{"state": st.String()}
	if message != "" {
		data["message"] = message
	}
	e.Record(KindTaskState, key, data)
}

// Close closes the underlying file. Calling Close on a nil Emitter is a no-op.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("telemetry: close: %w", err)
	}
	return nil
}

var _ status.Sink = (*Emitter)(nil)
