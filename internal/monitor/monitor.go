package monitor

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Defaults for the coalescing window.
const (
	DefaultDebounce = 100 * time.Millisecond
	DefaultMaxWait  = time.Second
)

type options struct {
	debounce   time.Duration
	maxWait    time.Duration
	ignore     []string
	classifier Classifier
	logger     io.Writer
	buffer     int
}

// Option configures a Monitor.
type Option func(*options)

// WithDebounce sets the quiet period after the last notification before a
// batch is emitted.
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// WithMaxWait bounds how long a continuously busy batch may be held back.
// Zero disables the bound.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithIgnore adds directory names that are never watched, in addition to
// .git, node_modules, vendor, testdata and hidden directories.
func WithIgnore(names ...string) Option {
	return func(o *options) { o.ignore = append(o.ignore, names...) }
}

// WithClassifier replaces the default classifier.
func WithClassifier(c Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithLogger sets where watch errors are reported.
func WithLogger(w io.Writer) Option {
	return func(o *options) { o.logger = w }
}

// WithBuffer sets the capacity of the Events channel.
func WithBuffer(n int) Option {
	return func(o *options) { o.buffer = n }
}

type state int

const (
	stateNew state = iota
	stateRunning
	stateStopped
)

// Monitor recursively watches a project root with fsnotify and emits
// coalesced ChangeEvents. It must be started once and stopped once; a
// stopped Monitor cannot be restarted.
type Monitor struct {
	root string
	opts options

	watcher *fsnotify.Watcher
	batch   *batcher
	events  chan ChangeEvent

	mu    sync.Mutex
	state state
	stop  chan struct{}
	done  chan struct{}
}

// New creates a Monitor for root. Nothing is watched until Start.
func New(root string, opts ...Option) (*Monitor, error) {
	o := options{
		debounce:   DefaultDebounce,
		maxWait:    DefaultMaxWait,
		ignore:     defaultIgnoredDirs(),
		classifier: DefaultClassifier(),
		logger:     io.Discard,
		buffer:     64,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = io.Discard
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("monitor: %s is not a directory", abs)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	return &Monitor{
		root:    abs,
		opts:    o,
		watcher: fw,
		batch:   newBatcher(o.classifier.Classify, isRegularFile),
		events:  make(chan ChangeEvent, o.buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Root returns the absolute watched root.
func (m *Monitor) Root() string { return m.root }

// Events returns the channel of coalesced change events. It is closed by
// Stop.
func (m *Monitor) Events() <-chan ChangeEvent { return m.events }

// Start registers watches on the root and every non-ignored directory below
// it, records the files that already exist, and begins emitting events.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateRunning:
		return ErrStarted
	case stateStopped:
		return ErrStopped
	}

	if err := m.addTree(m.root, false); err != nil {
		return fmt.Errorf("monitor: watching %s: %w", m.root, err)
	}
	m.state = stateRunning
	go m.loop()
	return nil
}

// Stop closes the watcher and the Events channel. A batch that has not been
// emitted yet is discarded. Stop is idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	prev := m.state
	m.state = stateStopped
	m.mu.Unlock()

	switch prev {
	case stateStopped:
		return
	case stateRunning:
		close(m.stop)
		<-m.done
	}
	m.watcher.Close()
	close(m.events)
}

// ignoredDir reports whether a directory name below the root is skipped.
func (m *Monitor) ignoredDir(name string) bool {
	return strings.HasPrefix(name, ".") || slices.Contains(m.opts.ignore, name)
}

// addTree watches dir and its non-ignored subdirectories. With touch set,
// classified files found inside are added to the current batch, since they
// may have been created before the watch was in place; otherwise they are
// seeded as pre-existing.
func (m *Monitor) addTree(dir string, touch bool) error {
	now := time.Now()
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if p != m.root && m.ignoredDir(d.Name()) {
				return filepath.SkipDir
			}
			if err := m.watcher.Add(p); err != nil {
				fmt.Fprintf(m.opts.logger, "warning: watch %s: %v\n", p, err)
			}
			return nil
		}
		if touch {
			m.batch.touch(p, now)
		} else {
			m.batch.seed(p)
		}
		return nil
	})
}

func (m *Monitor) loop() {
	defer close(m.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		select {
		case <-m.stop:
			timer.Stop()
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handle(ev)
			if m.batch.pending() {
				timer.Reset(time.Until(m.batch.deadline(m.opts.debounce, m.opts.maxWait)))
			}

		case <-timer.C:
			if !m.batch.due(time.Now(), m.opts.debounce, m.opts.maxWait) {
				if m.batch.pending() {
					timer.Reset(time.Until(m.batch.deadline(m.opts.debounce, m.opts.maxWait)))
				}
				continue
			}
			for _, ev := range m.batch.flush() {
				select {
				case m.events <- ev:
				case <-m.stop:
					return
				}
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(m.opts.logger, "warning: watch: %v\n", err)
		}
	}
}

// handle feeds one raw notification into the batch.
func (m *Monitor) handle(ev fsnotify.Event) {
	now := time.Now()
	path := filepath.Clean(ev.Name)

	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !m.ignoredDir(filepath.Base(path)) {
				_ = m.addTree(path, true)
			}
			return
		}
	case ev.Has(fsnotify.Rename):
		m.batch.touchTree(path, now, true)
		m.batch.touchRenamed(path, now)
		return
	case ev.Has(fsnotify.Remove):
		m.batch.touchTree(path, now, false)
	case ev.Has(fsnotify.Write):
	default:
		// Chmod only.
		return
	}
	m.batch.touch(path, now)
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
