package store

import (
	"sort"
	"strings"
)

// Table names.
const (
	TableRepositories  = "repositories"
	TablePullRequests  = "pull_requests"
	TableIssues        = "issues"
	TableBranches      = "branches"
	TableCheckStatuses = "check_statuses"
	TableSyncState     = "sync_state"
)

// ColRepoID is the repository id column shared by every entity table.
const ColRepoID = "repo_id"

// tableKeys lists the primary key columns per table.
var tableKeys = map[string][]string{
	TableRepositories:  {"repo_id"},
	TablePullRequests:  {"repo_id", "number"},
	TableIssues:        {"repo_id", "number"},
	TableBranches:      {"repo_id", "name"},
	TableCheckStatuses: {"repo_id", "branch"},
	TableSyncState:     {"key"},
}

// tableOrder is the deterministic ORDER BY for scope reads.
var tableOrder = map[string]string{
	TableRepositories:  "repo_id COLLATE BINARY ASC",
	TablePullRequests:  "number DESC",
	TableIssues:        "number DESC",
	TableBranches:      "name COLLATE BINARY ASC",
	TableCheckStatuses: "branch COLLATE BINARY ASC",
}

// KeyColumns returns the primary key columns of table, or nil for an unknown table.
func KeyColumns(table string) []string {
	return tableKeys[table]
}

// Upsert builds INSERT ... ON CONFLICT(keys) DO UPDATE for row.
// Columns are emitted in sorted order so equal rows give identical statements.
// Table and column names come from this package's constants and the mapper,
// never from user input.
func Upsert(table string, row Row) Statement {
	keys := tableKeys[table]
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		args[i] = row[c]
		placeholders[i] = "?"
	}

	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var sets []string
	for _, c := range cols {
		if !isKey[c] {
			sets = append(sets, c+" = excluded."+c)
		}
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(placeholders, ", "))
	b.WriteString(") ON CONFLICT(")
	b.WriteString(strings.Join(keys, ", "))
	if len(sets) == 0 {
		b.WriteString(") DO NOTHING")
	} else {
		b.WriteString(") DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}

	return Statement{SQL: b.String(), Args: args}
}

// DeleteScope removes every row of table belonging to a repository.
func DeleteScope(table, repoID string) Statement {
	return Statement{
		SQL:  "DELETE FROM " + table + " WHERE repo_id = ?",
		Args: []any{repoID},
	}
}

// DeleteAll removes every row of table.
func DeleteAll(table string) Statement {
	return Statement{SQL: "DELETE FROM " + table}
}

// SelectScope reads every row of table for a repository in deterministic order.
func SelectScope(table, repoID string) Statement {
	return Statement{
		SQL:  "SELECT * FROM " + table + " WHERE repo_id = ? ORDER BY " + tableOrder[table],
		Args: []any{repoID},
	}
}

// SelectAll reads every row of table in deterministic order.
func SelectAll(table string) Statement {
	return Statement{SQL: "SELECT * FROM " + table + " ORDER BY " + tableOrder[table]}
}

// Sync state keys.
const (
	SyncStateLastSync = "last_sync_time"
)

// SelectSyncState reads one sync_state value.
func SelectSyncState(key string) Statement {
	return Statement{SQL: "SELECT value FROM sync_state WHERE key = ?", Args: []any{key}}
}

// PutSyncState writes one sync_state value.
func PutSyncState(key, value string) Statement {
	return Upsert(TableSyncState, Row{"key": key, "value": value})
}
