// Package repo exposes per-entity get/save/remove operations on the local
// cache, scoped by owning deployment.
//
//	r := repo.New(st, logger)
//	posts, err := r.For(deployment).Posts(ctx, filter, 20, 0)
package repo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/schema"
	"github.com/crowdmap/crowdsync/internal/store"
)

// Repository reads and writes cached entities.
type Repository struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a Repository over an open store. A nil logger discards output.
func New(st *store.Store, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Repository{store: st, logger: logger}
}

// Store returns the underlying store.
func (r *Repository) Store() *store.Store {
	return r.store
}

// model constrains PT to a pointer to T implementing schema.Model, so the
// generic helpers can allocate entities without reflection.
type model[T any] interface {
	*T
	schema.Model
}

func list[T any, PT model[T]](ctx context.Context, st *store.Store, q store.Query) ([]*T, error) {
	table := PT(new(T)).Table()
	rows, err := st.Select(ctx, table, q)
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		item := new(T)
		PT(item).Scan(row)
		out = append(out, item)
	}
	return out, nil
}

func first[T any, PT model[T]](ctx context.Context, st *store.Store, q store.Query) (*T, error) {
	table := PT(new(T)).Table()
	row, err := st.SelectFirst(ctx, table, q)
	if err != nil {
		return nil, err
	}
	item := new(T)
	PT(item).Scan(row)
	return item, nil
}

// save writes m and reloads it from the written row, so assigned ids and
// the saved timestamp are visible to the caller.
func save(ctx context.Context, st *store.Store, m schema.Model) error {
	row := m.Row()
	if _, err := st.Save(ctx, m.Table(), row); err != nil {
		return err
	}
	m.Scan(row)
	return nil
}

// Deployments returns every stored deployment in the order they were added.
func (r *Repository) Deployments(ctx context.Context) ([]*schema.Deployment, error) {
	return list[schema.Deployment](ctx, r.store, store.Query{OrderBy: []store.Order{store.Asc("id")}})
}

// Deployment returns one deployment, or errs.ErrNotFound.
func (r *Repository) Deployment(ctx context.Context, id int64) (*schema.Deployment, error) {
	return first[schema.Deployment](ctx, r.store, store.Where(store.Equals("id", id)))
}

// SaveDeployment upserts d, assigning d.ID on first save.
func (r *Repository) SaveDeployment(ctx context.Context, d *schema.Deployment) error {
	if err := save(ctx, r.store, d); err != nil {
		return fmt.Errorf("failed to save deployment %q: %w", d.Name, err)
	}
	return nil
}

// SaveDeploymentCount updates one *_count column of d without touching the
// rest of the row. Concurrent fetchers each own one count.
func (r *Repository) SaveDeploymentCount(ctx context.Context, d *schema.Deployment, column string, n int64) error {
	if !strings.HasSuffix(column, "_count") || !schema.DeploymentsTable.HasColumn(column) {
		return errs.Invalid("column", "%q is not a deployment count", column)
	}
	if _, err := r.store.Save(ctx, schema.DeploymentsTable, schema.Row{"id": d.ID, column: n}); err != nil {
		return fmt.Errorf("failed to save %s of deployment %d: %w", column, d.ID, err)
	}
	return nil
}

// RemoveDeployment removes d and everything cached for it.
func (r *Repository) RemoveDeployment(ctx context.Context, d *schema.Deployment) error {
	return r.store.RemoveDeploymentCascade(ctx, d.ID)
}

// For scopes entity operations to one deployment.
func (r *Repository) For(d *schema.Deployment) *Scope {
	return &Scope{store: r.store, logger: r.logger, deployment: d}
}
