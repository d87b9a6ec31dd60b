// Package daemon runs crowdsync in the background.
//
// The daemon:
// 1. Imports draft files dropped into the outbox directory as pending posts
// 2. Pushes pending posts of every deployment on a ticker
// 3. Refreshes each deployment's posts cache on a slower ticker
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/repo"
	"github.com/crowdmap/crowdsync/internal/schema"
	"github.com/crowdmap/crowdsync/internal/sync"
)

// RejectedDir is the outbox subdirectory unreadable or invalid drafts are
// moved to.
const RejectedDir = "rejected"

// Config holds configuration for the daemon.
type Config struct {
	// OutboxDir is watched for draft files ({uuid}.json)
	OutboxDir string

	// PushInterval is how often pending posts are pushed (0 disables)
	PushInterval time.Duration

	// RefreshInterval is how often the posts cache is refreshed (0 disables)
	RefreshInterval time.Duration

	// RefreshLimit is the page size of a refresh
	RefreshLimit int

	// DebounceInterval is how long a draft file must be quiet before it is
	// imported. This batches the create and write events of one save.
	DebounceInterval time.Duration

	// Logger for daemon activity (default: discard)
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for outboxDir.
func DefaultConfig(outboxDir string) *Config {
	return &Config{
		OutboxDir:        outboxDir,
		PushInterval:     30 * time.Second,
		RefreshInterval:  5 * time.Minute,
		RefreshLimit:     20,
		DebounceInterval: 100 * time.Millisecond,
	}
}

// Daemon watches the outbox and keeps deployments in sync.
type Daemon struct {
	repo   *repo.Repository
	syncer sync.Syncer
	config *Config
	logger *slog.Logger

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu gosync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       gosync.WaitGroup
	stopOnce gosync.Once
}

// New creates a daemon over the cache r and the orchestrator s.
// Use Start() to begin watching and syncing.
func New(r *repo.Repository, s sync.Syncer, config *Config) (*Daemon, error) {
	if r == nil {
		return nil, fmt.Errorf("repository cannot be nil")
	}
	if s == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil || config.OutboxDir == "" {
		return nil, fmt.Errorf("outbox directory cannot be empty")
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 100 * time.Millisecond
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		repo:        r,
		syncer:      s,
		config:      config,
		logger:      logger.With("component", "daemon"),
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start imports drafts already in the outbox, then watches it and runs the
// push and refresh tickers. It blocks until ctx is cancelled or Stop is
// called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("starting daemon", "outbox", d.config.OutboxDir)

	if err := os.MkdirAll(d.config.OutboxDir, 0755); err != nil {
		return fmt.Errorf("failed to create outbox directory: %w", err)
	}
	if _, err := d.ImportOutbox(ctx); err != nil {
		return fmt.Errorf("initial import failed: %w", err)
	}
	if err := d.watcher.Add(d.config.OutboxDir); err != nil {
		return fmt.Errorf("failed to watch outbox directory: %w", err)
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()
	if d.config.PushInterval > 0 {
		d.wg.Add(1)
		go d.tick(d.config.PushInterval, "push", func(ctx context.Context) error {
			_, err := d.PushAll(ctx)
			return err
		})
	}
	if d.config.RefreshInterval > 0 {
		d.wg.Add(1)
		go d.tick(d.config.RefreshInterval, "refresh", d.RefreshAll)
	}

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping daemon")
		d.cancel()
		if err := d.watcher.Close(); err != nil {
			d.logger.Warn("failed to close watcher", "error", err)
		}
		d.wg.Wait()
		d.logger.Info("daemon stopped")
	})
	return nil
}

// ImportOutbox imports every draft currently in the outbox and returns how
// many became pending posts.
func (d *Daemon) ImportOutbox(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(d.config.OutboxDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read outbox directory: %w", err)
	}

	imported := 0
	for _, entry := range entries {
		if entry.IsDir() || !schema.IsDraftFilename(entry.Name()) {
			continue
		}
		if d.importFile(ctx, filepath.Join(d.config.OutboxDir, entry.Name())) {
			imported++
		}
	}
	if imported > 0 {
		d.logger.Info("imported outbox", "drafts", imported)
	}
	return imported, nil
}

// importFile imports one draft and removes it. Drafts that can never be
// imported are moved to RejectedDir; other failures leave the file for the
// next attempt.
func (d *Daemon) importFile(ctx context.Context, path string) bool {
	draft, err := schema.ReadDraftFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false
		}
		d.reject(path, err)
		return false
	}

	post, err := d.syncer.ImportDraft(ctx, draft)
	if err != nil {
		if errors.Is(err, errs.ErrValidation) || errors.Is(err, errs.ErrNotFound) {
			d.reject(path, err)
		} else {
			d.logger.Warn("failed to import draft", "file", path, "error", err)
		}
		return false
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("failed to remove imported draft", "file", path, "error", err)
	}
	d.logger.Info("imported draft", "draft", draft.ID, "deployment", draft.Deployment, "post", post.ID)
	return true
}

func (d *Daemon) reject(path string, cause error) {
	dir := filepath.Join(d.config.OutboxDir, RejectedDir)
	d.logger.Warn("rejecting draft", "file", path, "error", cause)
	if err := os.MkdirAll(dir, 0755); err != nil {
		d.logger.Warn("failed to create rejected directory", "error", err)
		return
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		d.logger.Warn("failed to move rejected draft", "file", path, "error", err)
	}
}

// PushAll pushes the pending posts of every deployment. A failing
// deployment does not stop the others.
func (d *Daemon) PushAll(ctx context.Context) (sync.PushResult, error) {
	var total sync.PushResult

	deployments, err := d.repo.Deployments(ctx)
	if err != nil {
		return total, fmt.Errorf("failed to list deployments: %w", err)
	}

	var failures []error
	for _, dep := range deployments {
		result, err := d.syncer.PushPending(ctx, dep)
		total.Pushed += result.Pushed
		total.Failed += result.Failed
		if err != nil {
			failures = append(failures, fmt.Errorf("deployment %d: %w", dep.ID, err))
		}
	}
	if total.Pushed+total.Failed > 0 {
		d.logger.Info("pushed pending posts", "pushed", total.Pushed, "failed", total.Failed)
	}
	return total, errors.Join(failures...)
}

// RefreshAll fetches the first page of posts of every deployment through
// its saved filter.
func (d *Daemon) RefreshAll(ctx context.Context) error {
	deployments, err := d.repo.Deployments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list deployments: %w", err)
	}

	var failures []error
	for _, dep := range deployments {
		filter, err := d.repo.For(dep).Filter(ctx)
		if err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				failures = append(failures, fmt.Errorf("deployment %d: %w", dep.ID, err))
				continue
			}
			filter = nil
		}
		posts, err := d.syncer.PostsWithValues(ctx, dep, filter, sync.FetchOptions{Limit: d.config.RefreshLimit})
		if err != nil {
			failures = append(failures, fmt.Errorf("deployment %d: %w", dep.ID, err))
			continue
		}
		d.logger.Debug("refreshed posts", "deployment", dep.ID, "posts", len(posts))
	}
	return errors.Join(failures...)
}

// watchFileEvents monitors the outbox and queues draft changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Dir(event.Name) != filepath.Clean(d.config.OutboxDir) || !schema.IsDraftFilename(filepath.Base(event.Name)) {
				continue
			}
			d.logger.Debug("outbox event", "op", event.Op.String(), "file", event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", "error", err)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued drafts once they have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		d.importFile(d.ctx, path)
	}
}

// tick runs fn every interval until the daemon stops.
func (d *Daemon) tick(interval time.Duration, name string, fn func(context.Context) error) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if err := fn(d.ctx); err != nil {
				d.logger.Warn("periodic "+name+" failed", "error", err)
			}
		}
	}
}
