// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Every query in this file orders by a fixed sort key. Repeated runs
// against the same data must render byte-identically; insertion order
// is never relied on.

// ToolOutcome aggregates success/failure counts for one tool.
type ToolOutcome struct {
	Tool      string
	Successes int
	Failures  int
}

// ToolOutcomeCounts reports success/failure counts per tool, ordered
// by tool name.
func (l *Log) ToolOutcomeCounts(ctx context.Context) ([]ToolOutcome, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT tool_name, SUM(success), SUM(1 - success)
		 FROM executions GROUP BY tool_name ORDER BY tool_name`)
	if err != nil {
		return nil, fmt.Errorf("querying tool outcomes: %w", err)
	}
	defer rows.Close()

	var out []ToolOutcome
	for rows.Next() {
		var o ToolOutcome
		if err := rows.Scan(&o.Tool, &o.Successes, &o.Failures); err != nil {
			return nil, fmt.Errorf("scanning tool outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Failure is one failed execution with its message.
type Failure struct {
	ExecutionID  int64
	Tool         string
	FilePath     string
	ErrorMessage string
	Timestamp    string
}

// RecentFailures lists failed executions, newest first by id.
func (l *Log) RecentFailures(ctx context.Context, limit int) ([]Failure, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, tool_name, file_path, error_message, timestamp
		 FROM executions WHERE success = 0 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.ExecutionID, &f.Tool, &f.FilePath, &f.ErrorMessage, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CodeFrequency is one diagnostic code with its occurrence count.
type CodeFrequency struct {
	Code  string
	Count int
}

// DiagnosticCodeFrequency counts diagnostic artifact codes, most
// frequent first, ties broken by code.
func (l *Log) DiagnosticCodeFrequency(ctx context.Context) ([]CodeFrequency, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT code, COUNT(*) FROM artifacts
		 WHERE kind = 'diagnostic' AND code != ''
		 GROUP BY code ORDER BY COUNT(*) DESC, code ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying diagnostic codes: %w", err)
	}
	defer rows.Close()

	var out []CodeFrequency
	for rows.Next() {
		var c CodeFrequency
		if err := rows.Scan(&c.Code, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning code frequency: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FileEvent is one execution touching a file.
type FileEvent struct {
	ExecutionID int64
	Tool        string
	Success     bool
	Timestamp   string
}

// FileHistory lists every execution touching a path, oldest first.
func (l *Log) FileHistory(ctx context.Context, path string) ([]FileEvent, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, tool_name, success, timestamp
		 FROM executions WHERE file_path = ? ORDER BY id ASC`, path)
	if err != nil {
		return nil, fmt.Errorf("querying file history: %w", err)
	}
	defer rows.Close()

	var out []FileEvent
	for rows.Next() {
		var e FileEvent
		var success int
		if err := rows.Scan(&e.ExecutionID, &e.Tool, &success, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning file event: %w", err)
		}
		e.Success = success == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// FileOutcome is the most recent outcome against one file.
type FileOutcome struct {
	FilePath string
	Tool     string
	Success  bool
}

// LatestOutcomePerFile reports the newest execution result for each
// touched file, ordered by path.
func (l *Log) LatestOutcomePerFile(ctx context.Context) ([]FileOutcome, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT e.file_path, e.tool_name, e.success
		 FROM executions e
		 WHERE e.file_path != ''
		   AND e.id = (SELECT MAX(id) FROM executions WHERE file_path = e.file_path)
		 ORDER BY e.file_path`)
	if err != nil {
		return nil, fmt.Errorf("querying latest outcomes: %w", err)
	}
	defer rows.Close()

	var out []FileOutcome
	for rows.Next() {
		var o FileOutcome
		var success int
		if err := rows.Scan(&o.FilePath, &o.Tool, &success); err != nil {
			return nil, fmt.Errorf("scanning file outcome: %w", err)
		}
		o.Success = success == 1
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecurringFailure is a tool+file pair that keeps failing.
type RecurringFailure struct {
	Tool     string
	FilePath string
	Count    int
}

// RecurringFailures finds tool+file pairs with at least threshold
// failures, ordered by tool then path.
func (l *Log) RecurringFailures(ctx context.Context, threshold int) ([]RecurringFailure, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT tool_name, file_path, COUNT(*)
		 FROM executions WHERE success = 0
		 GROUP BY tool_name, file_path
		 HAVING COUNT(*) >= ?
		 ORDER BY tool_name, file_path`, threshold)
	if err != nil {
		return nil, fmt.Errorf("querying recurring failures: %w", err)
	}
	defer rows.Close()

	var out []RecurringFailure
	for rows.Next() {
		var r RecurringFailure
		if err := rows.Scan(&r.Tool, &r.FilePath, &r.Count); err != nil {
			return nil, fmt.Errorf("scanning recurring failure: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PriorFix is the first success recorded after the last failure of a
// tool against a file.
type PriorFix struct {
	ExecutionID int64
	Arguments   string
	Timestamp   string
}

// PriorFixLookback answers "what fixed this last time": the earliest
// successful execution of tool against path that came after the most
// recent failure of that pair. Returns nil when no such fix exists.
func (l *Log) PriorFixLookback(ctx context.Context, tool, path string) (*PriorFix, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, arguments, timestamp FROM executions
		 WHERE tool_name = ? AND file_path = ? AND success = 1
		   AND id > (SELECT COALESCE(MAX(id), 0) FROM executions
		             WHERE tool_name = ? AND file_path = ? AND success = 0)
		 ORDER BY id ASC LIMIT 1`,
		tool, path, tool, path)

	var fix PriorFix
	err := row.Scan(&fix.ExecutionID, &fix.Arguments, &fix.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying prior fix: %w", err)
	}
	return &fix, nil
}

// WindowRate is the success rate over the most recent executions.
type WindowRate struct {
	Window    int
	Total     int
	Successes int
}

// SuccessRateOverWindow computes the success rate over the newest n
// executions.
func (l *Log) SuccessRateOverWindow(ctx context.Context, n int) (WindowRate, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0)
		 FROM (SELECT success FROM executions ORDER BY id DESC LIMIT ?)`, n)

	rate := WindowRate{Window: n}
	if err := row.Scan(&rate.Total, &rate.Successes); err != nil {
		return WindowRate{}, fmt.Errorf("querying success rate: %w", err)
	}
	return rate, nil
}

// RenderEvidenceSummary renders the canonical evidence digest used to
// ground planning prompts.
//
// Description:
//
//	The component queries run concurrently on an errgroup; assembly
//	order is fixed, so output over the same data is byte-identical
//	regardless of which query finishes first.
func (l *Log) RenderEvidenceSummary(ctx context.Context) (string, error) {
	var (
		outcomes  []ToolOutcome
		failures  []Failure
		codes     []CodeFrequency
		latest    []FileOutcome
		recurring []RecurringFailure
		rate      WindowRate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { outcomes, err = l.ToolOutcomeCounts(gctx); return })
	g.Go(func() (err error) { failures, err = l.RecentFailures(gctx, 5); return })
	g.Go(func() (err error) { codes, err = l.DiagnosticCodeFrequency(gctx); return })
	g.Go(func() (err error) { latest, err = l.LatestOutcomePerFile(gctx); return })
	g.Go(func() (err error) { recurring, err = l.RecurringFailures(gctx, 2); return })
	g.Go(func() (err error) { rate, err = l.SuccessRateOverWindow(gctx, 50); return })
	if err := g.Wait(); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("## Evidence Summary\n")

	sb.WriteString("### Tool outcomes\n")
	for _, o := range outcomes {
		fmt.Fprintf(&sb, "- %s: %d ok, %d failed\n", o.Tool, o.Successes, o.Failures)
	}

	sb.WriteString("### Recent failures\n")
	for _, f := range failures {
		fmt.Fprintf(&sb, "- #%d %s %s: %s\n", f.ExecutionID, f.Tool, f.FilePath, f.ErrorMessage)
	}

	sb.WriteString("### Diagnostic codes\n")
	for _, c := range codes {
		fmt.Fprintf(&sb, "- %s x%d\n", c.Code, c.Count)
	}

	sb.WriteString("### Latest per file\n")
	for _, o := range latest {
		status := "ok"
		if !o.Success {
			status = "failed"
		}
		fmt.Fprintf(&sb, "- %s: %s (%s)\n", o.FilePath, status, o.Tool)
	}

	sb.WriteString("### Recurring failures\n")
	for _, r := range recurring {
		fmt.Fprintf(&sb, "- %s on %s: %d failures\n", r.Tool, r.FilePath, r.Count)
	}

	fmt.Fprintf(&sb, "### Success rate\n- %d/%d over last %d\n",
		rate.Successes, rate.Total, rate.Window)

	return sb.String(), nil
}
