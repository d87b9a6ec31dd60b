package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/schema"
)

// Select returns the rows matching q, coerced per column type.
func (s *Store) Select(ctx context.Context, t *schema.Table, q Query) ([]schema.Row, error) {
	stmt, args, err := selectStatement(t, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", t.Name, &errs.StorageError{Statement: stmt, Err: err})
	}
	defer rows.Close()

	result, err := scanRows(t, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", t.Name, &errs.StorageError{Statement: stmt, Err: err})
	}
	return result, nil
}

// SelectFirst returns the first row matching q, or errs.ErrNotFound.
func (s *Store) SelectFirst(ctx context.Context, t *schema.Table, q Query) (schema.Row, error) {
	q.Limit = 1
	rows, err := s.Select(ctx, t, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", t.Name, errs.ErrNotFound)
	}
	return rows[0], nil
}

// scanRows reads every row in declared column order. The select statement
// always lists the table's columns, so positions line up with t.Columns.
func scanRows(t *schema.Table, rows *sql.Rows) ([]schema.Row, error) {
	var result []schema.Row
	raw := make([]any, len(t.Columns))
	ptrs := make([]any, len(t.Columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(schema.Row, len(t.Columns))
		for i, c := range t.Columns {
			row[c.Name] = fromStorage(c, raw[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Save writes row and returns the row's id. When every key column holds a
// value the row is upserted by key; otherwise it is inserted and the id
// SQLite assigned is written back into row["id"].
//
// The saved column is stamped on every write.
func (s *Store) Save(ctx context.Context, t *schema.Table, row schema.Row) (int64, error) {
	if t.HasColumn("saved") {
		row["saved"] = schema.FormatTime(s.now())
	}

	assigned := keyAssigned(t, row)
	var (
		stmt string
		args []any
		err  error
	)
	if assigned {
		stmt, args, err = upsertStatement(t, row)
	} else {
		stmt, args, err = insertStatement(t, row)
	}
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	res, err := s.conn.ExecContext(ctx, stmt, args...)
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to save into %s: %w", t.Name, &errs.StorageError{Statement: stmt, Err: err})
	}

	if !assigned && t.HasColumn("id") {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to read assigned id for %s: %w", t.Name, err)
		}
		row["id"] = id
		return id, nil
	}

	s.logger.Debug("saved row", "table", t.Name)
	return row.Int("id"), nil
}

// Remove deletes the rows matching every condition and returns how many
// were removed. No conditions removes every row of the table.
func (s *Store) Remove(ctx context.Context, t *schema.Table, conds ...Condition) (int64, error) {
	where, args, err := whereClause(t, conds)
	if err != nil {
		return 0, err
	}
	stmt := "DELETE FROM " + t.Name + where

	s.mu.Lock()
	res, err := s.conn.ExecContext(ctx, stmt, args...)
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to remove from %s: %w", t.Name, &errs.StorageError{Statement: stmt, Err: err})
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count removed rows: %w", err)
	}
	return n, nil
}

// RemoveDeploymentCascade deletes every row owned by the deployment and then
// the deployment itself, in one transaction. Either everything is removed
// or nothing is.
func (s *Store) RemoveDeploymentCascade(ctx context.Context, deploymentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range schema.Owned() {
		stmt := "DELETE FROM " + t.Name + " WHERE deployment_id = ?"
		if _, err := tx.ExecContext(ctx, stmt, deploymentID); err != nil {
			return fmt.Errorf("failed to remove %s of deployment %d: %w", t.Name, deploymentID, &errs.StorageError{Statement: stmt, Err: err})
		}
	}

	stmt := "DELETE FROM " + schema.DeploymentsTable.Name + " WHERE id = ?"
	if _, err := tx.ExecContext(ctx, stmt, deploymentID); err != nil {
		return fmt.Errorf("failed to remove deployment %d: %w", deploymentID, &errs.StorageError{Statement: stmt, Err: err})
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("removed deployment", "deployment", deploymentID)
	return nil
}
