// Package watcher triggers tenant rebuilds when files change under a
// tenant's document directory.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/store"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches each tenant's docs directory and invokes onRebuild with
// the tenant name after a debounce window. Bursts of events (a multi-file
// copy, an editor's write-rename dance) collapse into one rebuild.
type Watcher struct {
	layout    *store.Layout
	onRebuild func(tenant string)
	debounce  time.Duration
	logger    *zap.Logger

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	timers   map[string]*time.Timer
	dirs     map[string]string // watched dir -> tenant
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over layout. onRebuild is called once per
// settled change burst, from the watcher goroutine.
func NewWatcher(layout *store.Layout, onRebuild func(tenant string), logger *zap.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		layout:    layout,
		onRebuild: onRebuild,
		debounce:  defaultDebounce,
		logger:    logger,
		timers:    make(map[string]*time.Timer),
		dirs:      make(map[string]string),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers every existing tenant's docs directory and begins watching.
// It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsw
	w.started = true
	w.mu.Unlock()

	tenants, err := w.layout.Tenants()
	if err != nil {
		w.Stop()
		return err
	}
	for _, tenant := range tenants {
		if err := w.AddTenant(tenant); err != nil {
			w.logger.Warn("watch tenant failed", zap.String("tenant", tenant), zap.Error(err))
		}
	}

	go w.run(ctx)
	return nil
}

// AddTenant starts watching a tenant's docs directory. Safe to call for a
// tenant that is already watched.
func (w *Watcher) AddTenant(tenant string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	dir := w.layout.DocsDir(tenant)
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = tenant
	w.logger.Debug("watching docs", zap.String("tenant", tenant), zap.String("dir", dir))
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	tenant, ok := w.dirs[filepath.Dir(ev.Name)]
	w.mu.Unlock()
	if !ok {
		return
	}
	w.logger.Debug("docs change",
		zap.String("tenant", tenant),
		zap.String("op", ev.Op.String()),
		zap.String("path", ev.Name))
	w.scheduleRebuild(tenant)
}

func (w *Watcher) scheduleRebuild(tenant string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[tenant]; ok {
		t.Stop()
	}
	w.timers[tenant] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, tenant)
		w.mu.Unlock()
		w.onRebuild(tenant)
	})
}

// Stop stops watching and cancels pending debounce timers.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		for _, t := range w.timers {
			t.Stop()
		}
		w.timers = make(map[string]*time.Timer)
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		w.mu.Unlock()
	})
}
