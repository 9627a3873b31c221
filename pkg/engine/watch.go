package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// defaultDebounce is how long the watcher waits after the last change
// before reparsing, so an editor's write burst triggers one parse.
const defaultDebounce = 500 * time.Millisecond

// Watcher re-parses BUILD files when they change on disk.
type Watcher struct {
	root          string
	buildFileName string
	debounce      time.Duration
	logger        *telemetry.Logger
	events        *telemetry.EventPublisher

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
}

// WatchOptions configures a Watcher. Zero values select the defaults.
type WatchOptions struct {
	BuildFileName string
	Debounce      time.Duration
	Logger        *telemetry.Logger
	Events        *telemetry.EventPublisher
}

// NewWatcher creates a watcher over the source tree rooted at root.
func NewWatcher(root string, opts WatchOptions) (*Watcher, error) {
	buildFileName := opts.BuildFileName
	if buildFileName == "" {
		buildFileName = DefaultBuildFileName
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Watcher{
		root:          root,
		buildFileName: buildFileName,
		debounce:      debounce,
		logger:        logger.NewComponentLogger("watcher"),
		events:        opts.Events,
		pending:       make(map[string]bool),
	}, nil
}

// Run watches the tree until the context is cancelled, calling reparse with
// the changed package names after each debounced burst of changes.
func (w *Watcher) Run(ctx context.Context, reparse func(ctx context.Context, packages []string) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher
	defer watcher.Close()

	if err := w.watchTree(); err != nil {
		return err
	}
	w.logger.WithField("root", w.root).Info("Watching for BUILD file changes")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event, reparse)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

// watchTree adds every directory under the root to the watcher.
func (w *Watcher) watchTree() error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != w.root && (strings.HasPrefix(name, ".") || name == "plz-out" || name == "quarry-out") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// handleEvent reacts to one file system event: new directories are added to
// the watch set, and changed BUILD files are queued for a debounced reparse.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event, reparse func(ctx context.Context, packages []string) error) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.watcher.Add(event.Name)
			return
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Base(event.Name) != w.buildFileName {
		return
	}

	rel, err := filepath.Rel(w.root, filepath.Dir(event.Name))
	if err != nil {
		return
	}
	if rel == "." {
		rel = ""
	}
	pkg := filepath.ToSlash(rel)

	w.logger.WithPackage(pkg).WithField("op", event.Op.String()).Debug("BUILD file changed")
	if w.events != nil {
		_ = w.events.PublishFileChanged(event.Name, event.Op.String())
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[pkg] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		packages := make([]string, 0, len(w.pending))
		for p := range w.pending {
			packages = append(packages, p)
		}
		w.pending = make(map[string]bool)
		w.mu.Unlock()

		if len(packages) == 0 {
			return
		}
		if err := reparse(ctx, packages); err != nil {
			w.logger.WithError(err).Error("Failed to reparse changed packages")
		}
	})
}
