package status

import (
	"sort"
	"sync"
	"time"
)

// Board keeps the most recent report per key plus the most recent report
// overall. It is safe to read from a UI goroutine while the queue worker
// writes to it.
//
// Updates are signalled on a channel with capacity one: a reader that falls
// behind sees a single pending notification and then reads the latest state,
// so intermediate states may be skipped but a task's terminal state is never
// followed by an older one.
type Board struct {
	mu      sync.RWMutex
	byKey   map[string]Report
	latest  Report
	hasLast bool
	updates chan struct{}
	now     func() time.Time
}

// NewBoard returns an empty Board.
func NewBoard() *Board {
	return &Board{
		byKey:   make(map[string]Report),
		updates: make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Report stores the transition and signals readers without blocking.
func (b *Board) Report(key string, st Status, message string) {
	r := Report{Key: key, Status: st, Message: message, At: b.now()}

	b.mu.Lock()
	b.byKey[key] = r
	b.latest = r
	b.hasLast = true
	b.mu.Unlock()

	select {
	case b.updates <- struct{}{}:
	default:
	}
}

// Updates returns the coalesced change notification channel.
func (b *Board) Updates() <-chan struct{} {
	return b.updates
}

// Latest returns the most recent report overall.
func (b *Board) Latest() (Report, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.hasLast
}

// Get returns the most recent report for key.
func (b *Board) Get(key string) (Report, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.byKey[key]
	return r, ok
}

// All returns the latest report of every key, sorted by key.
func (b *Board) All() []Report {
	b.mu.RLock()
	out := make([]Report, 0, len(b.byKey))
	for _, r := range b.byKey {
		out = append(out, r)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

var _ Sink = (*Board)(nil)
