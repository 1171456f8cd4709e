// Package watch reruns discovery when compiled units below the configured
// roots change.
//
// Events are coalesced for a debounce period so that a build writing many
// units at once triggers a single callback with every changed path.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Config.Debounce is unset.
const DefaultDebounce = 500 * time.Millisecond

// ErrNoWatchableRoots is returned by New when no root exists.
var ErrNoWatchableRoots = errors.New("no watchable roots")

var defaultPatterns = []string{
	"**/*.class",
	"**/*.java",
	"**/*.jar",
	"**/*.zip",
	"**/.classfindignore",
}

var defaultIgnores = []string{
	"**/.git/**",
	"**/.hg/**",
	"**/.svn/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Roots are the directories and archives discovery reads. Glob
		// patterns are expanded once, when the watcher is created.
		Roots []string

		// Patterns select which files below a directory root trigger the
		// callback, matched against the path relative to that root. Empty
		// means the default unit, source and archive patterns. Archive roots
		// always trigger on their own changes.
		Patterns []string

		// Ignore is merged with the built-in ignores.
		Ignore []string

		// Debounce falls back to DefaultDebounce when zero or negative.
		Debounce time.Duration

		Logger *log.Logger

		// OnChange receives the deduplicated absolute paths that changed.
		OnChange func(ctx context.Context, changed []string) error
	}

	// Watcher monitors the roots and fires a debounced callback. Run must be
	// called exactly once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		patterns []string
		ignores  []string
		debounce time.Duration
		logger   *log.Logger
		dirs     []string
		archives map[string]struct{}
		started  atomic.Bool
	}
)

// New creates a Watcher and registers every directory below the directory
// roots plus the parent directory of every archive root. Roots that do not
// exist are logged and skipped.
func New(cfg Config) (*Watcher, error) {
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = defaultPatterns
	}
	if err := validatePatterns(patterns, "watch"); err != nil {
		return nil, err
	}
	if err := validatePatterns(cfg.Ignore, "ignore"); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		patterns: patterns,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: debounce,
		logger:   logger,
		archives: make(map[string]struct{}),
	}

	if err := w.addRoots(); err != nil {
		if closeErr := fsw.Close(); closeErr != nil {
			logger.Warn("watch: close after init failure", "err", closeErr)
		}
		return nil, err
	}
	return w, nil
}

// Run blocks until ctx is cancelled, dispatching debounced callbacks. It
// returns nil on cancellation and an error when the underlying watcher
// fails. Callbacks never overlap: a change arriving while one runs is held
// until it returns.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			w.logger.Debug("previous run still in progress, deferring")
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		w.logger.Info("change detected", "paths", len(changed))
		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.Error("rerun failed", "err", err)
			}
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("watch: close fsnotify", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			if evt.Has(fsnotify.Chmod) && !evt.Has(fsnotify.Write) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}
			if !w.relevant(evt.Name) {
				continue
			}
			w.logger.Debug("event", "path", evt.Name, "op", evt.Op.String())

			mu.Lock()
			pending[evt.Name] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watch: event queue overflowed, some changes were missed")
				continue
			}
			w.logger.Warn("watch: fsnotify error", "err", err)
		}
	}
}

// Watched returns the directories currently registered with fsnotify.
func (w *Watcher) Watched() []string {
	return w.fsw.WatchList()
}

func (w *Watcher) addRoots() error {
	for _, root := range w.cfg.Roots {
		paths, err := doublestar.FilepathGlob(root)
		if err != nil {
			return fmt.Errorf("watch: invalid root pattern %q: %w", root, err)
		}
		if len(paths) == 0 {
			w.logger.Warn("watch: root does not exist, not watching", "root", root)
			continue
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("watch: resolve root %q: %w", p, err)
			}
			info, err := os.Stat(abs)
			if err != nil {
				w.logger.Warn("watch: cannot stat root, not watching", "root", abs, "err", err)
				continue
			}
			if info.IsDir() {
				w.dirs = append(w.dirs, abs)
				if err := w.addDirectories(abs); err != nil {
					return err
				}
				continue
			}
			w.archives[abs] = struct{}{}
			if err := w.fsw.Add(filepath.Dir(abs)); err != nil {
				return fmt.Errorf("watch: add directory of archive %q: %w", abs, err)
			}
		}
	}
	if len(w.dirs) == 0 && len(w.archives) == 0 {
		return ErrNoWatchableRoots
	}
	return nil
}

func (w *Watcher) addDirectories(root string) error {
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("watch: skipping inaccessible path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if rel != "." && (w.isIgnored(rel) || w.isIgnored(rel+"/")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("watch: walk %s: %w", root, walkErr)
	}
	return nil
}

// maybeAddDir extends the watch to directories created below a directory
// root after startup.
func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	root, rel, ok := w.rootOf(path)
	if !ok || w.isIgnored(rel) || w.isIgnored(rel+"/") {
		return
	}
	if err := w.addDirectories(path); err != nil {
		w.logger.Warn("watch: add new directory", "root", root, "path", path, "err", err)
	}
}

// relevant reports whether a change to path can affect discovery.
func (w *Watcher) relevant(path string) bool {
	if _, ok := w.archives[path]; ok {
		return true
	}
	_, rel, ok := w.rootOf(path)
	if !ok || w.isIgnored(rel) {
		return false
	}
	normalized := filepath.ToSlash(rel)
	for _, pat := range w.patterns {
		if matched, err := doublestar.Match(pat, normalized); err == nil && matched {
			return true
		}
	}
	return false
}

// rootOf returns the directory root containing path and path relative to it.
func (w *Watcher) rootOf(path string) (string, string, bool) {
	for _, root := range w.dirs {
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return "", "", false
		}
		return root, rel, true
	}
	return "", "", false
}

func (w *Watcher) isIgnored(rel string) bool {
	normalized := filepath.ToSlash(rel)
	for _, pat := range w.ignores {
		if matched, err := doublestar.Match(pat, normalized); err == nil && matched {
			return true
		}
	}
	return false
}

func validatePatterns(patterns []string, label string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("watch: invalid %s pattern %q", label, pat)
		}
	}
	return nil
}
