package store

import (
	"context"
	"fmt"
)

// Row is one result row keyed by column name. Values are whatever the driver
// returned (int64, float64, string, []byte, bool, time.Time or nil).
type Row map[string]any

// QueryResult reports a query outcome. Data is empty (not nil) on success
// with no rows.
type QueryResult struct {
	Success bool
	Data    []Row
	Err     error
}

// ExecResult reports a statement outcome.
type ExecResult struct {
	Success      bool
	RowsAffected int64
	Err          error
}

// Statement is a parameterised SQL statement.
type Statement struct {
	SQL  string
	Args []any
}

// Query runs a parameterised query and collects every row.
func (s *Store) Query(ctx context.Context, query string, args ...any) QueryResult {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return QueryResult{Err: fmt.Errorf("query: %w", err)}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return QueryResult{Err: fmt.Errorf("query columns: %w", err)}
	}

	data := []Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return QueryResult{Err: fmt.Errorf("scan row: %w", err)}
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{Err: fmt.Errorf("iterate rows: %w", err)}
	}

	return QueryResult{Success: true, Data: data}
}

// Execute runs a parameterised statement.
func (s *Store) Execute(ctx context.Context, stmt string, args ...any) ExecResult {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return ExecResult{Err: fmt.Errorf("execute: %w", err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ExecResult{Err: fmt.Errorf("rows affected: %w", err)}
	}
	return ExecResult{Success: true, RowsAffected: n}
}

// ExecuteBatch runs statements in one transaction; either all apply or none.
func (s *Store) ExecuteBatch(ctx context.Context, stmts []Statement) ExecResult {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ExecResult{Err: fmt.Errorf("execute batch: begin tx: %w", err)}
	}
	defer tx.Rollback() // No-op if committed

	var total int64
	for i, st := range stmts {
		res, err := tx.ExecContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return ExecResult{Err: fmt.Errorf("execute batch: statement %d: %w", i, err)}
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}

	if err := tx.Commit(); err != nil {
		return ExecResult{Err: fmt.Errorf("execute batch: commit: %w", err)}
	}
	return ExecResult{Success: true, RowsAffected: total}
}
