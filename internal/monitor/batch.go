package monitor

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// batcher accumulates touched paths between flushes and decides what
// happened to each by comparing "known before the batch" with "exists now".
// It is owned by a single goroutine.
type batcher struct {
	classify func(string) (Target, bool)
	exists   func(string) bool

	known   map[string]bool // classified files believed to exist
	order   []string        // touched paths in first-touch order
	touched map[string]bool
	renamed map[string]bool // paths moved away by a rename notification
	first   time.Time // first touch of the current batch
	last    time.Time // latest touch of the current batch
}

func newBatcher(classify func(string) (Target, bool), exists func(string) bool) *batcher {
	return &batcher{
		classify: classify,
		exists:   exists,
		known:    make(map[string]bool),
		touched:  make(map[string]bool),
		renamed:  make(map[string]bool),
	}
}

// seed records path as existing before any batch.
func (b *batcher) seed(path string) {
	if _, ok := b.classify(path); ok {
		b.known[path] = true
	}
}

// touch adds path to the current batch if it is classified.
func (b *batcher) touch(path string, at time.Time) {
	if _, ok := b.classify(path); !ok {
		return
	}
	if b.first.IsZero() {
		b.first = at
	}
	b.last = at
	if b.touched[path] {
		return
	}
	b.touched[path] = true
	b.order = append(b.order, path)
}

// touchRenamed touches path and marks it as the source side of a rename,
// making it eligible for pairing with a file added in the same batch.
func (b *batcher) touchRenamed(path string, at time.Time) {
	if _, ok := b.classify(path); !ok {
		return
	}
	b.renamed[path] = true
	b.touch(path, at)
}

// touchTree touches every known file below dir. Removing or renaming a
// directory produces a single notification for the directory itself; with
// renamed set the files below it are marked as renamed too.
func (b *batcher) touchTree(dir string, at time.Time, renamed bool) {
	prefix := dir + string(filepath.Separator)
	var under []string
	for p := range b.known {
		if strings.HasPrefix(p, prefix) {
			under = append(under, p)
		}
	}
	sort.Strings(under)
	for _, p := range under {
		if renamed {
			b.touchRenamed(p, at)
		} else {
			b.touch(p, at)
		}
	}
}

func (b *batcher) pending() bool {
	return len(b.order) > 0
}

// due reports whether the batch should be flushed at now: the quiet period
// has elapsed since the last touch, or maxWait since the first.
func (b *batcher) due(now time.Time, quiet, maxWait time.Duration) bool {
	if !b.pending() {
		return false
	}
	return now.Sub(b.last) >= quiet || (maxWait > 0 && now.Sub(b.first) >= maxWait)
}

// deadline returns when the current batch becomes due.
func (b *batcher) deadline(quiet, maxWait time.Duration) time.Time {
	d := b.last.Add(quiet)
	if maxWait > 0 {
		if hard := b.first.Add(maxWait); hard.Before(d) {
			d = hard
		}
	}
	return d
}

type pathChange struct {
	kind    Kind
	target  Target
	path    string
	oldPath string
	renamed bool
	dropped bool
}

// flush resolves the batch into change events and starts a new batch.
func (b *batcher) flush() []ChangeEvent {
	changes := make([]pathChange, 0, len(b.order))
	for _, p := range b.order {
		target, _ := b.classify(p)
		before := b.known[p]
		now := b.exists(p)
		switch {
		case before && now:
			changes = append(changes, pathChange{kind: Changed, target: target, path: p})
		case !before && now:
			changes = append(changes, pathChange{kind: Added, target: target, path: p})
			b.known[p] = true
		case before && !now:
			changes = append(changes, pathChange{kind: Deleted, target: target, path: p, renamed: b.renamed[p]})
			delete(b.known, p)
		}
		// Created and removed within one batch: nothing happened.
	}

	b.order = nil
	b.touched = make(map[string]bool)
	b.renamed = make(map[string]bool)
	b.first, b.last = time.Time{}, time.Time{}

	pairRenames(changes)
	return group(changes)
}

// pairRenames turns a Deleted path that was renamed away and an Added path
// of the same target and extension into one Renamed change at the added
// path's position. A path with the same base name is preferred, so files
// moved together with their directory keep their identity. Plain removals
// are never paired: a remove followed by a create stays Deleted + Added.
func pairRenames(changes []pathChange) {
	for i := range changes {
		gone := &changes[i]
		if gone.kind != Deleted || !gone.renamed {
			continue
		}
		match := -1
		for j := range changes {
			born := &changes[j]
			if born.kind != Added || born.oldPath != "" || born.target != gone.target {
				continue
			}
			if filepath.Ext(born.path) != filepath.Ext(gone.path) {
				continue
			}
			if filepath.Base(born.path) == filepath.Base(gone.path) {
				match = j
				break
			}
			if match < 0 {
				match = j
			}
		}
		if match < 0 {
			continue
		}
		born := &changes[match]
		born.kind = Renamed
		born.oldPath = gone.path
		gone.dropped = true
	}
}

// group merges changes with the same kind and target into one event per
// pair, ordered by each group's first change.
func group(changes []pathChange) []ChangeEvent {
	type key struct {
		kind   Kind
		target Target
	}
	index := make(map[key]int)
	var events []ChangeEvent
	for _, c := range changes {
		if c.dropped {
			continue
		}
		k := key{c.kind, c.target}
		i, ok := index[k]
		if !ok {
			i = len(events)
			index[k] = i
			events = append(events, ChangeEvent{Kind: c.kind, Target: c.target})
		}
		events[i].Paths = append(events[i].Paths, c.path)
		if c.kind == Renamed {
			events[i].OldPaths = append(events[i].OldPaths, c.oldPath)
		}
	}
	return events
}
