package queue

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/papapumpkin/weft/internal/status"
)

type options struct {
	sink   status.Sink
	logger io.Writer
}

// Option configures a Queue.
type Option func(*options)

// WithSink sets where task status reports are delivered.
func WithSink(s status.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithLogger sets where task failures are logged.
func WithLogger(w io.Writer) Option {
	return func(o *options) { o.logger = w }
}

// Queue is a single-consumer task queue. At most one task runs at a time.
// For each key there is at most one pending task and at most one deferred
// rerun: a submission for a pending key replaces the pending task in place,
// and a submission for the running key is held back and starts as soon as
// the running task finishes, ahead of other pending work.
//
// Status reports are delivered to the sink from a separate goroutine, in the
// order the transitions happened, so a slow sink never holds up the worker.
type Queue struct {
	opts options

	mu       sync.Mutex
	cond     *sync.Cond
	order    []string
	pending  map[string]*Task
	running  string
	deferred *Task
	closed   bool
	changed  chan struct{}

	latest     status.Report
	hasLatest  bool
	reports    []status.Report
	delivering bool
	reportWake chan struct{}

	abandoned  bool
	workerDone chan struct{}
	dispatched chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
}

// New creates a Queue and starts its worker.
func New(opts ...Option) *Queue {
	o := options{sink: status.Discard{}, logger: io.Discard}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sink == nil {
		o.sink = status.Discard{}
	}
	if o.logger == nil {
		o.logger = io.Discard
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:       o,
		pending:    make(map[string]*Task),
		changed:    make(chan struct{}),
		reportWake: make(chan struct{}, 1),
		workerDone: make(chan struct{}),
		dispatched: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	q.cond = sync.NewCond(&q.mu)

	go q.work()
	go q.dispatch()
	return q
}

// Enqueue submits t. It never blocks on the running task.
func (q *Queue) Enqueue(t Task) error {
	if t.Key == "" {
		return ErrEmptyKey
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("enqueue %s: %w", t.Key, ErrClosed)
	}

	switch {
	case q.running == t.Key:
		q.deferred = &t
	case q.pending[t.Key] != nil:
		*q.pending[t.Key] = t
	default:
		q.pending[t.Key] = &t
		q.order = append(q.order, t.Key)
		q.cond.Signal()
	}
	q.reportLocked(t.Key, status.Queued, t.Reason.String())
	return nil
}

// Latest returns the most recent status report.
func (q *Queue) Latest() (status.Report, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.latest, q.hasLatest
}

// Pending returns the keys waiting to run, in run order. A deferred rerun of
// the running key comes first.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var keys []string
	if q.deferred != nil {
		keys = append(keys, q.deferred.Key)
	}
	return append(keys, q.order...)
}

// Running returns the key of the task in progress, or "".
func (q *Queue) Running() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// WaitIdle blocks until no task is pending or running and every status
// report has been delivered, or ctx is done.
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		idle := len(q.order) == 0 && q.running == "" && q.deferred == nil &&
			len(q.reports) == 0 && !q.delivering
		ch := q.changed
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dispose stops accepting work and drops pending tasks, reporting each as
// failed. It then waits up to timeout for the running task; a task still
// running after that is abandoned, its context cancelled and ErrAbandoned
// returned. Calling Dispose again returns nil immediately.
func (q *Queue) Dispose(timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if q.deferred != nil {
		q.reportLocked(q.deferred.Key, status.Failed, "dropped: queue disposed")
		q.deferred = nil
	}
	for _, key := range q.order {
		q.reportLocked(key, status.Failed, "dropped: queue disposed")
	}
	q.order = nil
	q.pending = make(map[string]*Task)
	q.cond.Broadcast()
	q.notifyLocked()
	q.mu.Unlock()

	var err error
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.workerDone:
	case <-timer.C:
		q.cancel()
		q.mu.Lock()
		if q.running != "" {
			err = fmt.Errorf("%w: %s after %s", ErrAbandoned, q.running, timeout)
			q.reportLocked(q.running, status.Failed, "abandoned: shutdown timeout")
			q.running = ""
			q.abandoned = true
			q.notifyLocked()
			fmt.Fprintf(q.opts.logger, "warning: %v\n", err)
		}
		q.mu.Unlock()
	}
	q.cancel()
	q.wakeDispatcher()
	<-q.dispatched
	return err
}

// work is the single consumer.
func (q *Queue) work() {
	defer func() {
		q.mu.Lock()
		q.notifyLocked()
		q.mu.Unlock()
		close(q.workerDone)
		q.wakeDispatcher()
	}()

	for {
		t := q.next()
		if t == nil {
			return
		}
		err := q.run(t)

		q.mu.Lock()
		if q.abandoned {
			q.mu.Unlock()
			return
		}
		if err != nil {
			fmt.Fprintf(q.opts.logger, "warning: task %s failed: %v\n", t.Key, err)
			q.reportLocked(t.Key, status.Failed, err.Error())
		} else {
			q.reportLocked(t.Key, status.Succeeded, "")
		}
		q.running = ""
		if d := q.deferred; d != nil {
			q.deferred = nil
			q.pending[d.Key] = d
			q.order = append([]string{d.Key}, q.order...)
		}
		q.notifyLocked()
		q.mu.Unlock()
	}
}

// next blocks until a task is available and marks it running. It returns
// nil once the queue is closed.
func (q *Queue) next() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.order) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil
	}
	key := q.order[0]
	q.order = q.order[1:]
	t := q.pending[key]
	delete(q.pending, key)
	q.running = key
	q.reportLocked(key, status.Running, t.Reason.String())
	q.notifyLocked()
	return t
}

// run executes t's action, turning a panic into an error.
func (q *Queue) run(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if t.Action == nil {
		return nil
	}
	return t.Action(q.ctx)
}

// reportLocked records a transition for delivery. q.mu must be held.
func (q *Queue) reportLocked(key string, st status.Status, msg string) {
	r := status.Report{Key: key, Status: st, Message: msg, At: time.Now()}
	q.latest, q.hasLatest = r, true
	q.reports = append(q.reports, r)
	q.wakeDispatcher()
}

// notifyLocked wakes WaitIdle callers. q.mu must be held.
func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) wakeDispatcher() {
	select {
	case q.reportWake <- struct{}{}:
	default:
	}
}

// dispatch delivers reports to the sink in order. It exits once the queue
// is closed, the worker is gone or abandoned, and nothing is left to send.
func (q *Queue) dispatch() {
	defer close(q.dispatched)
	for {
		q.mu.Lock()
		batch := q.reports
		q.reports = nil
		q.delivering = len(batch) > 0
		finished := q.closed && (q.abandoned || isClosed(q.workerDone))
		q.mu.Unlock()

		for _, r := range batch {
			q.opts.sink.Report(r.Key, r.Status, r.Message)
		}

		if len(batch) > 0 {
			q.mu.Lock()
			q.delivering = false
			q.notifyLocked()
			q.mu.Unlock()
			continue
		}
		if finished {
			return
		}
		<-q.reportWake
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
