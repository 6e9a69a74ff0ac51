package watch

import (
	"log/slog"
	"sync"
	"time"
)

// Status is the lifecycle state of an indexing job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusIndexing  Status = "indexing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// terminal reports whether a status ends the job.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// Progress is a point-in-time snapshot of one subscription's indexing job.
type Progress struct {
	Path        string
	Status      Status
	TotalFiles  int
	Indexed     int
	Skipped     int
	FastSkipped int
	Errored     int
	CurrentFile string
	Error       string
	StartedAt   time.Time
	UpdatedAt   time.Time
}

// DefaultTerminalLinger is how long a finished job's record stays
// observable for streaming consumers.
const DefaultTerminalLinger = 30 * time.Second

// ProgressBus tracks per-subscription progress and broadcasts every
// change to subscribers. Callbacks run synchronously on the producing
// worker; a panicking subscriber is logged and does not affect the job.
type ProgressBus struct {
	mu          sync.Mutex
	trackers    map[string]*Progress
	timers      map[string]*time.Timer
	subscribers map[int]func(Progress)
	nextID      int
	linger      time.Duration
}

// NewProgressBus creates a bus. linger <= 0 uses DefaultTerminalLinger.
func NewProgressBus(linger time.Duration) *ProgressBus {
	if linger <= 0 {
		linger = DefaultTerminalLinger
	}
	return &ProgressBus{
		trackers:    make(map[string]*Progress),
		timers:      make(map[string]*time.Timer),
		subscribers: make(map[int]func(Progress)),
		linger:      linger,
	}
}

// Subscribe registers a callback for every progress change and returns
// its unsubscribe function.
func (b *ProgressBus) Subscribe(cb func(Progress)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = cb
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Update mutates the tracker for path (creating it if needed) and
// broadcasts the new snapshot. Terminal states linger briefly and are
// then dropped.
func (b *ProgressBus) Update(path string, mutate func(*Progress)) {
	b.mu.Lock()

	tracker, exists := b.trackers[path]
	if !exists {
		tracker = &Progress{Path: path, Status: StatusQueued, StartedAt: time.Now()}
		b.trackers[path] = tracker
	}
	// A fresh update revives a lingering record.
	if timer, ok := b.timers[path]; ok {
		timer.Stop()
		delete(b.timers, path)
	}

	mutate(tracker)
	tracker.UpdatedAt = time.Now()

	if tracker.Status.terminal() {
		b.timers[path] = time.AfterFunc(b.linger, func() { b.expire(path) })
	}

	snapshot := *tracker
	callbacks := make([]func(Progress), 0, len(b.subscribers))
	for _, cb := range b.subscribers {
		callbacks = append(callbacks, cb)
	}
	b.mu.Unlock()

	for _, cb := range callbacks {
		deliver(cb, snapshot)
	}
}

// deliver invokes one callback with panic isolation.
func deliver(cb func(Progress), snapshot Progress) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("progress subscriber panicked",
				slog.String("path", snapshot.Path),
				slog.Any("panic", r))
		}
	}()
	cb(snapshot)
}

// expire removes a lingering terminal record.
func (b *ProgressBus) expire(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tracker, exists := b.trackers[path]; exists && tracker.Status.terminal() {
		delete(b.trackers, path)
		delete(b.timers, path)
	}
}

// Get returns a snapshot for path.
func (b *ProgressBus) Get(path string) (Progress, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tracker, exists := b.trackers[path]
	if !exists {
		return Progress{}, false
	}
	return *tracker, true
}

// All returns snapshots for every tracked subscription.
func (b *ProgressBus) All() []Progress {
	b.mu.Lock()
	defer b.mu.Unlock()

	all := make([]Progress, 0, len(b.trackers))
	for _, tracker := range b.trackers {
		all = append(all, *tracker)
	}
	return all
}
