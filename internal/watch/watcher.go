package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/filegraph/filegraph/internal/pathmatch"
)

// DefaultDebounceWindow is the write-stabilisation quiet period. Two
// seconds covers editors that write in bursts and files still being
// copied onto the host.
const DefaultDebounceWindow = 2 * time.Second

// Watcher watches one subscription root recursively via fsnotify,
// filters events through the path matcher and emits debounced batches.
type Watcher struct {
	root      string
	recursive bool
	matcher   *pathmatch.Matcher
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher creates a watcher rooted at root. The matcher decides which
// paths are delivered; nil means match everything but the defaults.
func NewWatcher(root string, recursive bool, matcher *pathmatch.Matcher, debounce time.Duration) (*Watcher, error) {
	if matcher == nil {
		matcher = pathmatch.New()
	}
	if debounce <= 0 {
		debounce = DefaultDebounceWindow
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		root:      root,
		recursive: recursive,
		matcher:   matcher,
		fsWatcher: fsw,
		debouncer: NewDebouncer(debounce),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start registers the directory tree and runs the event loop until Stop.
func (w *Watcher) Start() error {
	if err := w.addRecursive(); err != nil {
		w.fsWatcher.Close()
		return fmt.Errorf("registering watch tree: %w", err)
	}

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			// fsnotify errors are non-fatal; the loop keeps running.
		}
	}
}

// handleEvent converts one fsnotify event, filters it and feeds the
// debouncer. New directories are added to the watch set on the fly.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		relPath = event.Name
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	if w.matcher.Ignored(filepath.ToSlash(relPath), isDir) {
		return
	}

	var op Op
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir && w.recursive {
			_ = w.fsWatcher.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		// A rename of the old name behaves like a delete; the new name
		// arrives as a separate CREATE.
		op = OpDelete
	default:
		// Chmod and friends are noise.
		return
	}

	if isDir && op != OpDelete {
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      filepath.ToSlash(relPath),
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

// addRecursive registers the root and, when recursive, every non-ignored
// directory under it.
func (w *Watcher) addRecursive() error {
	if !w.recursive {
		return w.fsWatcher.Add(w.root)
	}

	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}

		relPath, _ := filepath.Rel(w.root, path)
		if relPath == "." {
			return w.fsWatcher.Add(path)
		}
		if w.matcher.Ignored(filepath.ToSlash(relPath), true) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// Events returns the channel of debounced event batches.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Stop closes the watcher and waits for the event loop to drain. Safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.fsWatcher.Close()
		<-w.doneCh
		w.debouncer.Stop()
	})
}
