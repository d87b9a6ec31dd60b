package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/repo"
	"github.com/crowdmap/crowdsync/internal/schema"
	"github.com/crowdmap/crowdsync/internal/store"
	"github.com/crowdmap/crowdsync/internal/sync"
)

// fakeSyncer records the calls the daemon makes. Methods the daemon never
// calls panic through the nil embedded interface.
type fakeSyncer struct {
	sync.Syncer

	mu        gosync.Mutex
	imported  []string
	pushed    []int64
	refreshed map[int64]*schema.Filter
	pushErr   map[int64]error
}

func (f *fakeSyncer) ImportDraft(ctx context.Context, draft *schema.DraftFile) (*schema.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case draft.Deployment == 404:
		return nil, fmt.Errorf("deployment %d: %w", draft.Deployment, errs.ErrNotFound)
	case draft.Title == "locked":
		return nil, &errs.StorageError{Statement: "INSERT", Err: errors.New("database is locked")}
	}
	f.imported = append(f.imported, draft.Title)
	return &schema.Post{ID: -int64(len(f.imported)), Title: draft.Title, Pending: true}, nil
}

func (f *fakeSyncer) PushPending(ctx context.Context, d *schema.Deployment) (sync.PushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pushed = append(f.pushed, d.ID)
	if err := f.pushErr[d.ID]; err != nil {
		return sync.PushResult{Pushed: 1, Failed: 1}, err
	}
	return sync.PushResult{Pushed: 2}, nil
}

func (f *fakeSyncer) PostsWithValues(ctx context.Context, d *schema.Deployment, filter *schema.Filter, opts sync.FetchOptions) ([]*schema.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refreshed == nil {
		f.refreshed = make(map[int64]*schema.Filter)
	}
	f.refreshed[d.ID] = filter
	return nil, nil
}

func (f *fakeSyncer) importedTitles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.imported...)
}

// setupTestRepo opens a bootstrapped cache in a temp directory.
func setupTestRepo(t *testing.T) *repo.Repository {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Failed to bootstrap store: %v", err)
	}
	return repo.New(st, nil)
}

func setupDaemon(t *testing.T) (*Daemon, *fakeSyncer, *repo.Repository, string) {
	t.Helper()

	r := setupTestRepo(t)
	fs := &fakeSyncer{}
	outbox := filepath.Join(t.TempDir(), "outbox")

	config := DefaultConfig(outbox)
	config.DebounceInterval = 20 * time.Millisecond
	config.PushInterval = 0
	config.RefreshInterval = 0

	d, err := New(r, fs, config)
	if err != nil {
		t.Fatalf("Failed to create daemon: %v", err)
	}
	t.Cleanup(func() { d.Stop() })
	return d, fs, r, outbox
}

func writeDraft(t *testing.T, dir string, deploymentID int64, title string) *schema.DraftFile {
	t.Helper()

	draft := schema.NewDraft(deploymentID, title)
	if err := schema.WriteDraftFile(dir, draft); err != nil {
		t.Fatalf("Failed to write draft: %v", err)
	}
	return draft
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestNew(t *testing.T) {
	r := setupTestRepo(t)
	outbox := t.TempDir()

	tests := []struct {
		name    string
		repo    *repo.Repository
		syncer  sync.Syncer
		config  *Config
		wantErr bool
	}{
		{name: "valid configuration", repo: r, syncer: &fakeSyncer{}, config: DefaultConfig(outbox)},
		{name: "nil repository", syncer: &fakeSyncer{}, config: DefaultConfig(outbox), wantErr: true},
		{name: "nil syncer", repo: r, config: DefaultConfig(outbox), wantErr: true},
		{name: "nil config", repo: r, syncer: &fakeSyncer{}, wantErr: true},
		{name: "empty outbox", repo: r, syncer: &fakeSyncer{}, config: DefaultConfig(""), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			daemon, err := New(tt.repo, tt.syncer, tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if daemon != nil {
				defer daemon.Stop()
			}
		})
	}
}

func TestDaemon_ImportOutbox(t *testing.T) {
	d, fs, _, outbox := setupDaemon(t)

	good := writeDraft(t, outbox, 1, "Flooded road")
	orphan := writeDraft(t, outbox, 404, "Unknown deployment")
	locked := writeDraft(t, outbox, 1, "locked")
	if err := os.WriteFile(filepath.Join(outbox, "broken.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outbox, "notes.txt"), []byte("ignore me"), 0644); err != nil {
		t.Fatal(err)
	}

	n, err := d.ImportOutbox(context.Background())
	if err != nil {
		t.Fatalf("ImportOutbox() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ImportOutbox() = %d, want 1", n)
	}
	if diff := cmp.Diff([]string{"Flooded road"}, fs.importedTitles()); diff != "" {
		t.Errorf("imported mismatch (-want +got):\n%s", diff)
	}

	rejected := filepath.Join(outbox, RejectedDir)
	checks := map[string]bool{
		filepath.Join(outbox, good.Filename()):     false,
		filepath.Join(rejected, orphan.Filename()): true,
		filepath.Join(rejected, "broken.json"):     true,
		filepath.Join(outbox, locked.Filename()):   true, // retried later
		filepath.Join(outbox, "notes.txt"):         true,
	}
	for path, want := range checks {
		if got := exists(path); got != want {
			t.Errorf("exists(%s) = %v, want %v", path, got, want)
		}
	}
}

func TestDaemon_ImportOutboxMissingDirectory(t *testing.T) {
	d, _, _, _ := setupDaemon(t)

	n, err := d.ImportOutbox(context.Background())
	if err != nil || n != 0 {
		t.Errorf("ImportOutbox() = %d, %v, want 0, nil", n, err)
	}
}

func TestDaemon_WatchesOutbox(t *testing.T) {
	d, fs, _, outbox := setupDaemon(t)
	writeDraft(t, outbox, 1, "Queued before start")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for len(d.watcher.WatchList()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("daemon never started watching")
		}
		time.Sleep(10 * time.Millisecond)
	}

	draft := writeDraft(t, outbox, 1, "Dropped while running")
	path := filepath.Join(outbox, draft.Filename())
	for exists(path) || len(fs.importedTitles()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("draft not imported, imported = %v", fs.importedTitles())
		}
		time.Sleep(10 * time.Millisecond)
	}

	want := []string{"Queued before start", "Dropped while running"}
	if diff := cmp.Diff(want, fs.importedTitles()); diff != "" {
		t.Errorf("imported mismatch (-want +got):\n%s", diff)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestDaemon_StopTwice(t *testing.T) {
	d, _, _, _ := setupDaemon(t)

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestDaemon_PushAll(t *testing.T) {
	d, fs, r, _ := setupDaemon(t)
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"alpha", "beta"} {
		dep := &schema.Deployment{Name: name, API: "https://" + name + ".example"}
		if err := r.SaveDeployment(ctx, dep); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, dep.ID)
	}
	fs.pushErr = map[int64]error{ids[1]: errs.ErrTransport}

	result, err := d.PushAll(ctx)
	if !errors.Is(err, errs.ErrTransport) {
		t.Errorf("PushAll() error = %v, want ErrTransport", err)
	}
	if diff := cmp.Diff(sync.PushResult{Pushed: 3, Failed: 1}, result); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ids, fs.pushed); diff != "" {
		t.Errorf("pushed deployments mismatch (-want +got):\n%s", diff)
	}
}

func TestDaemon_RefreshAllUsesSavedFilter(t *testing.T) {
	d, fs, r, _ := setupDaemon(t)
	ctx := context.Background()

	alpha := &schema.Deployment{Name: "alpha", API: "https://alpha.example"}
	beta := &schema.Deployment{Name: "beta", API: "https://beta.example"}
	for _, dep := range []*schema.Deployment{alpha, beta} {
		if err := r.SaveDeployment(ctx, dep); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.For(alpha).SaveFilter(ctx, &schema.Filter{ShowPublished: true, SearchText: "flood"}); err != nil {
		t.Fatal(err)
	}

	if err := d.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}
	if f := fs.refreshed[alpha.ID]; f == nil || f.SearchText != "flood" {
		t.Errorf("alpha refreshed with %+v", f)
	}
	if f, ok := fs.refreshed[beta.ID]; !ok || f != nil {
		t.Errorf("beta refreshed with %+v, %v, want nil filter", f, ok)
	}
}
