package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/filegraph/filegraph/internal/graph"
	"github.com/filegraph/filegraph/internal/ident"
	"github.com/filegraph/filegraph/internal/indexer"
	"github.com/filegraph/filegraph/internal/pathmatch"
)

// ManagerOptions tunes the two-phase indexing job.
type ManagerOptions struct {
	// ScanConcurrency bounds the Phase-1 stat/lookup fan-out.
	ScanConcurrency int
	// IndexConcurrency bounds Phase-2 FileIndexer workers.
	IndexConcurrency int
	// MaxConcurrentIndexing bounds how many subscriptions index at once.
	// Defaults to 1: embeddings usually hit a single backend.
	MaxConcurrentIndexing int64
	// InterCallDelay is an optional pause between Phase-2 files when
	// embeddings are enabled, protecting the embedding backend.
	InterCallDelay time.Duration
	// TerminalLinger is how long finished progress records stay visible.
	TerminalLinger time.Duration
	// DefaultDebounce is the watcher quiet window when a subscription
	// does not set one.
	DefaultDebounce time.Duration
	// ExtraIgnores are ignore patterns applied to every subscription on
	// top of its own rules, e.g. sensitive credential filenames.
	ExtraIgnores []string
}

// WithDefaults returns options with defaults applied for zero values.
func (o ManagerOptions) WithDefaults() ManagerOptions {
	if o.ScanConcurrency <= 0 {
		o.ScanConcurrency = 50
	}
	if o.IndexConcurrency <= 0 {
		o.IndexConcurrency = 3
	}
	if o.MaxConcurrentIndexing <= 0 {
		o.MaxConcurrentIndexing = 1
	}
	if o.TerminalLinger <= 0 {
		o.TerminalLinger = DefaultTerminalLinger
	}
	if o.DefaultDebounce <= 0 {
		o.DefaultDebounce = DefaultDebounceWindow
	}
	return o
}

// SubscribeRequest declares one directory to watch and index.
type SubscribeRequest struct {
	// ID is optional; it is derived from the path when empty.
	ID                 string
	Path               string
	Recursive          bool
	DebounceMillis     int
	IncludePatterns    []string
	IgnorePatterns     []string
	GenerateEmbeddings bool
}

// subscription is the in-memory state for one watched root.
type subscription struct {
	record  *graph.SubscriptionRecord
	matcher *pathmatch.Matcher
	watcher *Watcher

	eventsDone chan struct{}

	// jobMu guards the per-job fields below.
	jobMu     sync.Mutex
	jobCancel context.CancelFunc
	jobDone   chan struct{}
}

// Manager owns subscriptions: it starts watchers, schedules two-phase
// indexing jobs under the concurrency cap, feeds filesystem events to
// the indexer and streams progress.
type Manager struct {
	store graph.Store
	index *indexer.Indexer
	bus   *ProgressBus
	sem   *semaphore.Weighted
	opts  ManagerOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	subs     map[string]*subscription // keyed by absolute root path
	indexing map[string]bool          // roots with a job in flight
}

// NewManager creates a manager.
func NewManager(store graph.Store, index *indexer.Indexer, opts ManagerOptions) *Manager {
	opts = opts.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    store,
		index:    index,
		bus:      NewProgressBus(opts.TerminalLinger),
		sem:      semaphore.NewWeighted(opts.MaxConcurrentIndexing),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string]*subscription),
		indexing: make(map[string]bool),
	}
}

// Subscribe registers a new watched root, persists its record, starts
// the filesystem watcher and queues a full-tree indexing job. Returns
// promptly; progress is observed via the bus.
func (m *Manager) Subscribe(ctx context.Context, req SubscribeRequest) error {
	root, err := filepath.Abs(req.Path)
	if err != nil {
		return fmt.Errorf("resolving subscription path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("subscription path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("subscription path %s is not a directory", root)
	}

	if req.ID == "" {
		req.ID = ident.SubscriptionID(root)
	}

	record := &graph.SubscriptionRecord{
		ID:                 req.ID,
		Path:               root,
		Recursive:          req.Recursive,
		IncludePatterns:    req.IncludePatterns,
		IgnorePatterns:     req.IgnorePatterns,
		DebounceMillis:     req.DebounceMillis,
		GenerateEmbeddings: req.GenerateEmbeddings,
		Status:             graph.StatusActive,
	}
	if err := m.store.UpsertSubscription(ctx, record); err != nil {
		return fmt.Errorf("persisting subscription: %w", err)
	}

	return m.start(record)
}

// Resume re-reads subscriptions from the graph and restarts their
// watchers. Called once at startup.
func (m *Manager) Resume(ctx context.Context) error {
	records, err := m.store.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}

	for _, record := range records {
		if record.Status == graph.StatusCancelled {
			continue
		}
		if err := m.start(record); err != nil {
			slog.Warn("subscription resume failed",
				slog.String("path", record.Path),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// start wires the watcher and queues the initial indexing job for a
// persisted record.
func (m *Manager) start(record *graph.SubscriptionRecord) error {
	m.mu.Lock()
	if _, exists := m.subs[record.Path]; exists {
		m.mu.Unlock()
		return fmt.Errorf("already watching %s", record.Path)
	}
	m.mu.Unlock()

	matcher := pathmatch.New()
	for _, pattern := range m.opts.ExtraIgnores {
		matcher.AddIgnore(pattern)
	}
	for _, pattern := range record.IgnorePatterns {
		matcher.AddIgnore(pattern)
	}
	if err := matcher.LoadIgnoreFile(filepath.Join(record.Path, pathmatch.IgnoreFileName)); err != nil {
		return fmt.Errorf("loading ignore file: %w", err)
	}
	if err := matcher.AddIncludes(record.IncludePatterns); err != nil {
		return fmt.Errorf("compiling include patterns: %w", err)
	}

	debounce := m.opts.DefaultDebounce
	if record.DebounceMillis > 0 {
		debounce = time.Duration(record.DebounceMillis) * time.Millisecond
	}

	watcher, err := NewWatcher(record.Path, record.Recursive, matcher, debounce)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}

	sub := &subscription{
		record:     record,
		matcher:    matcher,
		watcher:    watcher,
		eventsDone: make(chan struct{}),
	}

	m.mu.Lock()
	if _, exists := m.subs[record.Path]; exists {
		m.mu.Unlock()
		watcher.Stop()
		return fmt.Errorf("already watching %s", record.Path)
	}
	m.subs[record.Path] = sub
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.consumeEvents(sub)
	}()

	m.enqueueIndexJob(sub)

	slog.Info("subscription started",
		slog.String("path", record.Path),
		slog.Bool("recursive", record.Recursive),
		slog.Bool("embeddings", record.GenerateEmbeddings))
	return nil
}

// consumeEvents feeds debounced filesystem events into the indexer.
// add/change index the file (with the partial-write retry built into the
// indexer) under the same concurrency cap as full jobs; unlink is a
// best-effort delete. Outcomes count toward the subscription's progress.
func (m *Manager) consumeEvents(sub *subscription) {
	defer close(sub.eventsDone)

	for batch := range sub.watcher.Events() {
		for _, event := range batch {
			if m.ctx.Err() != nil {
				return
			}
			abs := filepath.Join(sub.record.Path, filepath.FromSlash(event.Path))

			if event.Operation == OpDelete {
				if err := m.index.RemoveFile(m.ctx, abs); err != nil {
					slog.Debug("unlink cleanup failed",
						slog.String("path", event.Path),
						slog.String("error", err.Error()))
				}
				continue
			}

			if event.IsDir || !sub.matcher.Keep(event.Path) {
				continue
			}

			if err := m.sem.Acquire(m.ctx, 1); err != nil {
				return
			}
			result, err := m.index.IndexFile(m.ctx, indexer.Request{
				AbsPath:            abs,
				RelPath:            event.Path,
				SubscriptionID:     sub.record.ID,
				GenerateEmbeddings: sub.record.GenerateEmbeddings,
			})
			m.sem.Release(1)

			m.bus.Update(sub.record.Path, func(p *Progress) {
				switch {
				case err != nil:
					p.Errored++
				case result.Skipped:
					p.Skipped++
				case result.FastSkipped:
					p.FastSkipped++
				default:
					p.Indexed++
				}
			})
			if err != nil {
				slog.Warn("event indexing failed",
					slog.String("path", event.Path),
					slog.String("op", event.Operation.String()),
					slog.String("error", err.Error()))
				continue
			}
			slog.Debug("event indexed",
				slog.String("path", event.Path),
				slog.String("op", event.Operation.String()),
				slog.Int("chunks", result.ChunksCreated),
				slog.Bool("skipped", result.Skipped))
		}
	}
}

// enqueueIndexJob starts the two-phase job unless one is already in
// flight for this root.
func (m *Manager) enqueueIndexJob(sub *subscription) {
	m.mu.Lock()
	if m.indexing[sub.record.Path] {
		m.mu.Unlock()
		return
	}
	m.indexing[sub.record.Path] = true
	m.mu.Unlock()

	jobCtx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})

	sub.jobMu.Lock()
	sub.jobCancel = cancel
	sub.jobDone = done
	sub.jobMu.Unlock()

	m.bus.Update(sub.record.Path, func(p *Progress) { p.Status = StatusQueued })

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)
		defer cancel()
		defer func() {
			m.mu.Lock()
			delete(m.indexing, sub.record.Path)
			m.mu.Unlock()
		}()

		m.runIndexJob(jobCtx, sub)
	}()
}

// runIndexJob executes the two-phase scan/index pipeline for one root.
func (m *Manager) runIndexJob(ctx context.Context, sub *subscription) {
	// The semaphore is the backpressure point for the embedding backend.
	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finishJob(ctx, sub, 0, err)
		return
	}
	defer m.sem.Release(1)

	m.setSubscriptionStatus(sub, graph.StatusIndexing, "")
	m.bus.Update(sub.record.Path, func(p *Progress) { p.Status = StatusIndexing })

	files, err := m.collectFiles(sub)
	if err != nil {
		m.finishJob(ctx, sub, 0, err)
		return
	}
	m.bus.Update(sub.record.Path, func(p *Progress) { p.TotalFiles = len(files) })

	toIndex, fastSkipped, err := m.scanPhase(ctx, sub, files)
	if err != nil {
		m.finishJob(ctx, sub, 0, err)
		return
	}
	m.bus.Update(sub.record.Path, func(p *Progress) { p.FastSkipped = fastSkipped })

	indexed, err := m.indexPhase(ctx, sub, toIndex)
	m.finishJob(ctx, sub, indexed, err)
}

// collectFiles walks the tree once, applying ignore and include rules.
func (m *Manager) collectFiles(sub *subscription) ([]string, error) {
	var files []string
	root := sub.record.Path

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if !sub.record.Recursive || sub.matcher.Ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if sub.matcher.Keep(rel) {
			files = append(files, rel)
		}
		return nil
	})
	return files, err
}

// scanPhase is Phase 1: a high-concurrency pass that stats each file and
// asks the graph whether an up-to-date record already exists, so
// unchanged corpora never pay embedding cost.
func (m *Manager) scanPhase(ctx context.Context, sub *subscription, files []string) ([]string, int, error) {
	var mu sync.Mutex
	var toIndex []string
	fastSkipped := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.ScanConcurrency)

	for _, rel := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			abs := filepath.Join(sub.record.Path, filepath.FromSlash(rel))

			info, err := os.Stat(abs)
			if err != nil {
				return nil // gone between walk and stat
			}

			existing, err := m.store.GetFile(gctx, abs)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if existing != nil && !info.ModTime().After(existing.ModifiedAt) {
				fastSkipped++
			} else {
				toIndex = append(toIndex, rel)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return toIndex, fastSkipped, nil
}

// indexPhase is Phase 2: bounded-concurrency FileIndexer calls with
// progress accounting. Workers stop dispatching promptly on cancellation.
func (m *Manager) indexPhase(ctx context.Context, sub *subscription, files []string) (int, error) {
	var mu sync.Mutex
	indexed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.IndexConcurrency)

	for _, rel := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			m.bus.Update(sub.record.Path, func(p *Progress) { p.CurrentFile = rel })

			result, err := m.index.IndexFile(gctx, indexer.Request{
				AbsPath:            filepath.Join(sub.record.Path, filepath.FromSlash(rel)),
				RelPath:            rel,
				SubscriptionID:     sub.record.ID,
				GenerateEmbeddings: sub.record.GenerateEmbeddings,
			})

			m.bus.Update(sub.record.Path, func(p *Progress) {
				switch {
				case err != nil:
					p.Errored++
				case result.Skipped:
					p.Skipped++
				case result.FastSkipped:
					p.FastSkipped++
				default:
					p.Indexed++
				}
			})
			if err != nil {
				slog.Warn("file indexing failed",
					slog.String("path", rel),
					slog.String("error", err.Error()))
				return nil // per-file fatal, not per-subscription
			}
			if !result.Skipped && !result.FastSkipped {
				mu.Lock()
				indexed++
				mu.Unlock()
			}

			if m.opts.InterCallDelay > 0 && sub.record.GenerateEmbeddings {
				select {
				case <-gctx.Done():
				case <-time.After(m.opts.InterCallDelay):
				}
			}
			return nil
		})
	}

	err := g.Wait()
	return indexed, err
}

// finishJob records the terminal state on both the graph record and the
// progress bus. Cancellation is a success from the caller's view.
func (m *Manager) finishJob(ctx context.Context, sub *subscription, indexed int, err error) {
	var status graph.SubscriptionStatus
	var progressStatus Status
	var errMsg string

	switch {
	case err == nil:
		status, progressStatus = graph.StatusCompleted, StatusCompleted
	case ctx.Err() != nil:
		status, progressStatus = graph.StatusCancelled, StatusCancelled
	default:
		status, progressStatus = graph.StatusError, StatusError
		errMsg = err.Error()
	}

	sub.record.FilesIndexed = indexed
	sub.record.LastIndexedTime = time.Now()
	m.setSubscriptionStatus(sub, status, errMsg)

	m.bus.Update(sub.record.Path, func(p *Progress) {
		p.Status = progressStatus
		p.CurrentFile = ""
		p.Error = errMsg
	})

	slog.Info("indexing job finished",
		slog.String("path", sub.record.Path),
		slog.String("status", string(status)),
		slog.Int("indexed", indexed))
}

// setSubscriptionStatus persists the record's lifecycle state. Uses the
// manager context so a cancelled job can still write its terminal state.
func (m *Manager) setSubscriptionStatus(sub *subscription, status graph.SubscriptionStatus, errMsg string) {
	sub.record.Status = status
	sub.record.Error = errMsg
	if err := m.store.UpsertSubscription(context.WithoutCancel(m.ctx), sub.record); err != nil {
		slog.Warn("subscription status update failed",
			slog.String("path", sub.record.Path),
			slog.String("error", err.Error()))
	}
}

// AbortIndexing cancels the in-flight job for a root. Returns true when
// a job was running. After it returns, no new FileIndexer calls begin.
func (m *Manager) AbortIndexing(path string) bool {
	m.mu.Lock()
	sub, exists := m.subs[path]
	m.mu.Unlock()
	if !exists {
		return false
	}

	sub.jobMu.Lock()
	defer sub.jobMu.Unlock()
	if sub.jobCancel == nil {
		return false
	}
	sub.jobCancel()
	return true
}

// StopWatch aborts any in-flight job, awaits its termination, then
// closes the filesystem watcher. The subscription record stays in the
// graph so the root can be re-watched later.
func (m *Manager) StopWatch(path string) error {
	m.mu.Lock()
	sub, exists := m.subs[path]
	if exists {
		delete(m.subs, path)
	}
	m.mu.Unlock()
	if !exists {
		return fmt.Errorf("not watching %s", path)
	}

	sub.jobMu.Lock()
	cancel, done := sub.jobCancel, sub.jobDone
	sub.jobMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	sub.watcher.Stop()
	<-sub.eventsDone
	return nil
}

// Unsubscribe stops watching and removes the subscription with its
// files from the graph.
func (m *Manager) Unsubscribe(ctx context.Context, path string) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	sub, exists := m.subs[root]
	m.mu.Unlock()

	if exists {
		if err := m.StopWatch(root); err != nil {
			return err
		}
		return m.store.DeleteSubscription(ctx, sub.record.ID)
	}

	// Not in memory; remove the persisted record if one exists.
	return m.store.DeleteSubscription(ctx, ident.SubscriptionID(root))
}

// Reindex queues a fresh indexing job for an already-watched root.
func (m *Manager) Reindex(path string) error {
	m.mu.Lock()
	sub, exists := m.subs[path]
	m.mu.Unlock()
	if !exists {
		return fmt.Errorf("not watching %s", path)
	}
	m.enqueueIndexJob(sub)
	return nil
}

// OnProgress subscribes to progress updates; the returned function
// unsubscribes.
func (m *Manager) OnProgress(cb func(Progress)) func() {
	return m.bus.Subscribe(cb)
}

// GetProgress returns the current snapshot for a root.
func (m *Manager) GetProgress(path string) (Progress, bool) {
	return m.bus.Get(path)
}

// GetAllProgress returns snapshots for every tracked root.
func (m *Manager) GetAllProgress() []Progress {
	return m.bus.All()
}

// Close stops every watcher and waits for all workers to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	paths := make([]string, 0, len(m.subs))
	for path := range m.subs {
		paths = append(paths, path)
	}
	m.mu.Unlock()

	for _, path := range paths {
		_ = m.StopWatch(path)
	}
	m.cancel()
	m.wg.Wait()
}
