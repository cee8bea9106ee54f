// Package registry implements C6: the in-process job registry and bounded
// scheduler. Jobs are held in memory keyed by id; a bounded FIFO channel
// gates admission so at most N workers run concurrently.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cardpipe/cardpipe/internal/domain/manifest"
	"github.com/cardpipe/cardpipe/internal/platform/apierr"
)

// State is one point in the job's monotonic state machine.
type State string

const (
	StateQueued    State = "Queued"
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
	StateTimedOut  State = "TimedOut"
	StateCancelled State = "Cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

// Options are the per-job export options carried from the Submit form.
type Options struct {
	DPI           int  `json:"dpi"`
	ExtractVector bool `json:"extractVector"`
	EnableOCG     bool `json:"enableOcg"`
}

// Record is one job's mutable state. Only C5/C6 ever write to a Record;
// access is serialized by its own mutex so status polling scales with the
// number of concurrent jobs (spec.md §5 "fine-grained locking").
type Record struct {
	mu sync.Mutex

	ID             string
	SourceFilename string
	SourceBytesLen int64
	SubmittedAt    time.Time
	Options        Options

	State       State
	Progress    uint8
	StartedAt   *time.Time
	CompletedAt *time.Time
	Err         *apierr.Error
	ResultDir   string

	Manifest *manifest.Manifest
}

// View is a read-only snapshot safe to hand to callers outside the lock.
type View struct {
	ID             string     `json:"jobId"`
	SourceFilename string     `json:"sourceFilename"`
	State          State      `json:"state"`
	Progress       uint8      `json:"progress"`
	SubmittedAt    time.Time  `json:"submittedAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Error          *ViewError `json:"error,omitempty"`
}

// ViewError is the JSON-safe projection of an apierr.Error.
type ViewError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (r *Record) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := View{
		ID:             r.ID,
		SourceFilename: r.SourceFilename,
		State:          r.State,
		Progress:       r.Progress,
		SubmittedAt:    r.SubmittedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
	}
	if r.Err != nil {
		v.Error = &ViewError{Kind: string(r.Err.Kind), Message: r.Err.Error()}
	}
	return v
}

// transition moves the record to next if the move is a legal edge in the
// monotonic state diagram; returns false (no mutation) otherwise.
func (r *Record) transition(next State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State.Terminal() {
		return false
	}
	switch r.State {
	case StateQueued:
		if next != StateRunning && next != StateCancelled {
			return false
		}
	case StateRunning:
		if next != StateSucceeded && next != StateFailed && next != StateTimedOut && next != StateCancelled {
			return false
		}
	default:
		return false
	}
	r.State = next
	now := time.Now()
	switch next {
	case StateRunning:
		r.StartedAt = &now
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		r.CompletedAt = &now
	}
	return true
}

// SetProgress sets progress, clamping to a monotonically non-decreasing
// value in [0,100], and only while Running (spec.md §4.3).
func (r *Record) SetProgress(p uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State != StateRunning {
		return
	}
	if p > 100 {
		p = 100
	}
	if p > r.Progress {
		r.Progress = p
	}
}

// Fail records a terminal failure with its typed error.
func (r *Record) Fail(kind apierr.Kind, err error) {
	r.mu.Lock()
	terminal := r.State.Terminal()
	r.mu.Unlock()
	if terminal {
		return
	}
	target := StateFailed
	switch kind {
	case apierr.KindTimeout:
		target = StateTimedOut
	case apierr.KindCancelled:
		target = StateCancelled
	}
	r.mu.Lock()
	r.Err = apierr.New(kind, err).WithJobID(r.ID)
	r.mu.Unlock()
	r.transition(target)
}

// Succeed records the terminal success state along with the manifest and
// result directory.
func (r *Record) Succeed(m *manifest.Manifest, resultDir string) {
	r.mu.Lock()
	r.Manifest = m
	r.ResultDir = resultDir
	r.mu.Unlock()
	r.transition(StateSucceeded)
}

// Registry holds all jobs and gates concurrency via a bounded channel.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record

	queue   chan *Record
	cap     int
	workers int

	ttl time.Duration

	runningMu sync.Mutex
	running   int

	cancelMu    sync.Mutex
	cancelFlags map[string]bool
}

// New constructs a Registry admitting up to queueCapacity queued jobs and
// running up to workers concurrently.
func New(workers, queueCapacity int, ttl time.Duration) *Registry {
	return &Registry{
		records: map[string]*Record{},
		queue:   make(chan *Record, queueCapacity),
		cap:     queueCapacity,
		workers: workers,
		ttl:     ttl,
	}
}

// Workers returns the configured concurrency bound N.
func (reg *Registry) Workers() int { return reg.workers }

// QueueDepth returns the number of jobs currently waiting in the channel.
func (reg *Registry) QueueDepth() int { return len(reg.queue) }

// QueueCapacity returns Q.
func (reg *Registry) QueueCapacity() int { return reg.cap }

// RunningCount returns the number of jobs presently in the Running state.
func (reg *Registry) RunningCount() int {
	reg.runningMu.Lock()
	defer reg.runningMu.Unlock()
	return reg.running
}

// Submit admits a new job: it is inserted into the id map and the queue
// atomically transitions it to Queued before Submit returns, satisfying
// spec.md §5's ordering guarantee. Returns apierr.KindQueueFull when the
// bounded channel is saturated.
func (reg *Registry) Submit(id, filename string, size int64, opts Options) (*Record, error) {
	rec := &Record{
		ID:             id,
		SourceFilename: filename,
		SourceBytesLen: size,
		SubmittedAt:    time.Now(),
		Options:        opts,
		State:          StateQueued,
	}

	reg.mu.Lock()
	reg.records[id] = rec
	reg.mu.Unlock()

	select {
	case reg.queue <- rec:
		return rec, nil
	default:
		reg.mu.Lock()
		delete(reg.records, id)
		reg.mu.Unlock()
		return nil, apierr.New(apierr.KindQueueFull, nil)
	}
}

// Dequeue blocks until a queued job is available or ctx is cancelled; it is
// the sole entry point workers use to pull work from the scheduler.
//
// A Queued job cancelled before a worker reaches it is never actually
// removed from the channel (Go channels have no random-access delete), so
// Dequeue skips any record that fails its Queued->Running transition —
// that only happens when Cancel already moved it to a terminal state — and
// loops to the next one, satisfying spec.md §5's "removes it from the
// queue atomically" without ever handing a cancelled job to a worker.
func (reg *Registry) Dequeue(ctx context.Context) (*Record, bool) {
	for {
		select {
		case rec, ok := <-reg.queue:
			if !ok {
				return nil, false
			}
			reg.runningMu.Lock()
			reg.running++
			reg.runningMu.Unlock()
			if !rec.transition(StateRunning) {
				reg.runningMu.Lock()
				reg.running--
				reg.runningMu.Unlock()
				continue
			}
			return rec, true
		case <-ctx.Done():
			return nil, false
		}
	}
}

// ReleaseWorkerSlot decrements the running count once a worker finishes a
// job, regardless of outcome.
func (reg *Registry) ReleaseWorkerSlot() {
	reg.runningMu.Lock()
	reg.running--
	reg.runningMu.Unlock()
}

// Get returns the record for id, or nil if unknown.
func (reg *Registry) Get(id string) *Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.records[id]
}

// Status returns a point-in-time snapshot, or apierr.KindNotFound.
func (reg *Registry) Status(id string) (View, error) {
	rec := reg.Get(id)
	if rec == nil {
		return View{}, apierr.New(apierr.KindNotFound, nil).WithJobID(id)
	}
	return rec.Snapshot(), nil
}

// Result returns the manifest for a succeeded job, or a typed error
// describing why it isn't available yet / ever. A job still Queued or
// Running reports NotReady (409, transient — poll again); a job that
// reached a terminal failure reports its own recorded error kind with that
// kind's status: 410 for renderer failures and cancellation, 504 for a
// timeout, 500 for an internal failure.
func (reg *Registry) Result(id string) (*manifest.Manifest, error) {
	rec := reg.Get(id)
	if rec == nil {
		return nil, apierr.New(apierr.KindNotFound, nil).WithJobID(id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	switch rec.State {
	case StateSucceeded:
		return rec.Manifest, nil
	case StateFailed, StateTimedOut, StateCancelled:
		if rec.Err != nil {
			return nil, rec.Err
		}
		return nil, apierr.New(apierr.KindInternal, nil).WithJobID(id)
	default:
		return nil, apierr.New(apierr.KindNotReady, nil).WithJobID(id)
	}
}

// Cancel removes a Queued job from the queue atomically, or marks a Running
// job for cooperative cancellation (observed by the worker at its next
// checkpoint). No effect on terminal states.
func (reg *Registry) Cancel(id string) error {
	rec := reg.Get(id)
	if rec == nil {
		return apierr.New(apierr.KindNotFound, nil).WithJobID(id)
	}
	rec.mu.Lock()
	state := rec.State
	rec.mu.Unlock()

	switch state {
	case StateQueued:
		rec.Fail(apierr.KindCancelled, nil)
		return nil
	case StateRunning:
		reg.cancelMu.Lock()
		if reg.cancelFlags == nil {
			reg.cancelFlags = map[string]bool{}
		}
		reg.cancelFlags[id] = true
		reg.cancelMu.Unlock()
		return nil
	default:
		return nil
	}
}

// Cancelled reports whether id has an outstanding cancel request; the
// worker polls this at phase boundaries.
func (reg *Registry) Cancelled(id string) bool {
	reg.cancelMu.Lock()
	defer reg.cancelMu.Unlock()
	return reg.cancelFlags[id]
}

// Reap evicts jobs whose TTL has elapsed as of now.
func (reg *Registry) Reap(now time.Time) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	evicted := 0
	for id, rec := range reg.records {
		rec.mu.Lock()
		completed := rec.CompletedAt
		rec.mu.Unlock()
		if completed != nil && now.Sub(*completed) >= reg.ttl {
			delete(reg.records, id)
			evicted++
		}
	}
	return evicted
}

// NewJobID generates an opaque job identifier (UUIDv4 per spec.md §3).
func NewJobID() string {
	return uuid.New().String()
}
