package inbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long changes are collected before processing.
const DefaultDebounce = 500 * time.Millisecond

// DefaultPatterns are the mission file patterns, relative to the inbox
// directory.
var DefaultPatterns = []string{"**/*.mission.yaml", "**/*.mission.yml"}

// Config configures the watcher.
type Config struct {
	Dir      string
	Patterns []string
	Debounce time.Duration
}

// Handler receives every new or changed mission file. Returning an error
// only logs it; the file is retried when its content changes again.
type Handler func(ctx context.Context, path string, m *Mission) error

// Watcher watches a directory tree for mission files.
type Watcher struct {
	dir      string
	patterns []string
	debounce time.Duration
	handler  Handler
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	// Debouncing: collect changes before processing
	pendingMu sync.Mutex
	pending   map[string]struct{}

	// Content hashes of processed files, so touching a file is not a new
	// mission.
	hashMu sync.Mutex
	hashes map[string]string

	started atomic.Bool
	done    chan struct{}
}

// NewWatcher creates a watcher. Empty patterns use DefaultPatterns.
func NewWatcher(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("create inbox watcher: no directory configured")
	}
	if handler == nil {
		return nil, fmt.Errorf("create inbox watcher: no handler")
	}
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("create inbox watcher: invalid pattern %q", p)
		}
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create inbox watcher: %w", err)
	}
	return &Watcher{
		dir:      filepath.Clean(cfg.Dir),
		patterns: patterns,
		debounce: debounce,
		handler:  handler,
		watcher:  fsw,
		logger:   logger,
		pending:  make(map[string]struct{}),
		hashes:   make(map[string]string),
		done:     make(chan struct{}),
	}, nil
}

// Match reports whether a path relative to the inbox is a mission file.
func (w *Watcher) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range w.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Start creates the directory if needed, processes the mission files
// already present and then watches for changes until ctx is done or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox directory: %w", err)
	}
	if err := w.addWatchesRecursive(w.dir); err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}

	existing, err := w.scan()
	if err != nil {
		return fmt.Errorf("scan inbox: %w", err)
	}
	for _, path := range existing {
		w.process(ctx, path)
	}

	w.started.Store(true)
	go w.processEvents(ctx)

	w.logger.Info("Mission inbox started",
		"dir", w.dir,
		"patterns", w.patterns,
		"debounce", w.debounce,
		"existing", len(existing))
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	err := w.watcher.Close()
	if w.started.Load() {
		<-w.done
	}
	return err
}

// scan returns the mission files currently in the inbox.
func (w *Watcher) scan() ([]string, error) {
	fsys := os.DirFS(w.dir)
	var out []string
	for _, p := range w.patterns {
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			out = append(out, filepath.Join(w.dir, filepath.FromSlash(m)))
		}
	}
	return out, nil
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		base := d.Name()
		if strings.HasPrefix(base, ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// processEvents handles fsnotify events with debouncing.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Inbox watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(path), ".") {
				if err := w.addWatchesRecursive(path); err != nil {
					w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
				}
				w.queueExisting(path)
			}
			return
		}
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.hashMu.Lock()
		delete(w.hashes, path)
		w.hashMu.Unlock()
		return
	}

	rel, err := filepath.Rel(w.dir, path)
	if err != nil || !w.Match(rel) {
		return
	}

	w.pendingMu.Lock()
	w.pending[path] = struct{}{}
	w.pendingMu.Unlock()
	w.logger.Debug("Mission file change detected", "path", rel, "op", event.Op.String())
}

// queueExisting queues mission files that landed in a new directory
// before its watch was added.
func (w *Watcher) queueExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(w.dir, path); err == nil && w.Match(rel) {
			w.pendingMu.Lock()
			w.pending[path] = struct{}{}
			w.pendingMu.Unlock()
		}
		return nil
	})
}

func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := maps.Clone(w.pending)
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	for path := range toProcess {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	}
}

// process hands a mission file to the handler unless its content was
// already handled.
func (w *Watcher) process(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("Failed to read mission file", "path", path, "error", err)
		}
		return
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	w.hashMu.Lock()
	if w.hashes[path] == hash {
		w.hashMu.Unlock()
		return
	}
	w.hashes[path] = hash
	w.hashMu.Unlock()

	mission, err := ParseMission(path, data)
	if err != nil {
		w.logger.Warn("Invalid mission file", "path", path, "error", err)
		return
	}

	w.logger.Info("Mission file received", "path", path, "chat_id", mission.ChatID)
	if err := w.handler(ctx, path, mission); err != nil {
		w.logger.Warn("Mission handler failed", "path", path, "chat_id", mission.ChatID, "error", err)
	}
}
