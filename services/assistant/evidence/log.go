// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package evidence persists every tool execution and makes the
// history queryable, so plans can be grounded in what actually
// happened rather than in what the model believes happened.
//
// The relational log is the source of truth and is append-only:
// execution rows are inserted, never updated or deleted. Artifact
// rows are children of executions with RESTRICT delete semantics.
// The entity/edge graph is a secondary index; a failed graph write
// never invalidates the relational record.
package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quillan-ai/quillan/pkg/logging"
	"github.com/quillan-ai/quillan/services/assistant/tools"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_name     TEXT    NOT NULL,
	arguments     TEXT    NOT NULL,
	file_path     TEXT    NOT NULL DEFAULT '',
	timestamp     TEXT    NOT NULL,
	success       INTEGER NOT NULL,
	exit_code     INTEGER NOT NULL DEFAULT 0,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS artifacts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id INTEGER NOT NULL REFERENCES executions(id) ON DELETE RESTRICT,
	kind         TEXT    NOT NULL,
	code         TEXT    NOT NULL DEFAULT '',
	path         TEXT    NOT NULL DEFAULT '',
	payload      TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_tool ON executions(tool_name);
CREATE INDEX IF NOT EXISTS idx_executions_file ON executions(file_path);
CREATE INDEX IF NOT EXISTS idx_artifacts_exec  ON artifacts(execution_id);
`

// Log is the append-only execution log.
//
// Thread Safety: Log is safe for concurrent use; database/sql pools
// connections and SQLite serializes writers.
type Log struct {
	db     *sql.DB
	graph  *Graph
	logger *logging.Logger
	clock  func() time.Time
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithGraph attaches the secondary graph store. Graph writes are
// best-effort and never fail a Record.
func WithGraph(g *Graph) LogOption {
	return func(l *Log) { l.graph = g }
}

// WithLogLogger sets the structured logger.
func WithLogLogger(logger *logging.Logger) LogOption {
	return func(l *Log) { l.logger = logger }
}

// withClock fixes the timestamp source for tests.
func withClock(clock func() time.Time) LogOption {
	return func(l *Log) { l.clock = clock }
}

// OpenLog opens (creating if needed) the execution log at path.
func OpenLog(path string, opts ...LogOption) (*Log, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening evidence db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating evidence schema: %w", err)
	}

	l := &Log{
		db:     db,
		logger: logging.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close closes the underlying database. The graph store, if any, is
// owned by the caller and closed separately.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one execution record with its artifacts.
//
// Description:
//
//	The execution row and its artifact rows are inserted in one
//	transaction. After commit, the entity/edge graph is updated
//	best-effort: a graph failure is logged and the relational record
//	stands. Implements tools.Recorder.
//
// Outputs:
//
//	int64 - The execution id.
//	error - Non-nil only when the relational insert fails.
func (l *Log) Record(ctx context.Context, tool string, args map[string]string, result *tools.Result) (int64, error) {
	argsJSON, err := json.Marshal(args) // map keys marshal sorted
	if err != nil {
		return 0, fmt.Errorf("encoding arguments: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning evidence tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO executions
		 (tool_name, arguments, file_path, timestamp, success, exit_code, duration_ms, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tool,
		string(argsJSON),
		filePathOf(args),
		l.clock().UTC().Format(time.RFC3339Nano),
		boolToInt(result.Success),
		result.ExitCode,
		result.Duration.Milliseconds(),
		result.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting execution: %w", err)
	}
	execID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading execution id: %w", err)
	}

	for _, a := range result.Artifacts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO artifacts (execution_id, kind, code, path, payload) VALUES (?, ?, ?, ?, ?)`,
			execID, a.Kind, a.Code, a.Path, a.Payload,
		); err != nil {
			return 0, fmt.Errorf("inserting artifact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing execution: %w", err)
	}

	l.indexInGraph(tool, args, execID)
	return execID, nil
}

// indexInGraph mirrors the execution into the secondary graph store.
// Failures are logged, never retried, never surfaced.
func (l *Log) indexInGraph(tool string, args map[string]string, execID int64) {
	if l.graph == nil {
		return
	}
	path := filePathOf(args)

	if err := l.graph.PutEntity("tool:"+tool, "tool"); err != nil {
		l.logger.Warn("graph entity write failed", "entity", "tool:"+tool, "error", err)
		return
	}
	if path == "" {
		return
	}
	if err := l.graph.PutEntity("file:"+path, "file"); err != nil {
		l.logger.Warn("graph entity write failed", "entity", "file:"+path, "error", err)
		return
	}
	if err := l.graph.AddEdge("tool:"+tool, EdgeTouched, "file:"+path); err != nil {
		l.logger.Warn("graph edge write failed",
			"from", "tool:"+tool, "to", "file:"+path, "execution_id", execID, "error", err)
	}
}

// filePathOf extracts the file a tool invocation concerns, when the
// argument convention carries one.
func filePathOf(args map[string]string) string {
	for _, key := range []string{"path", "target", "root"} {
		if v := args[key]; v != "" {
			return v
		}
	}
	return ""
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
