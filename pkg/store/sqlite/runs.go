package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/event"
	"github.com/fluxcd/ecs-bluegreen/pkg/store"
)

// Store implements [store.Store] backed by SQLite. Runs are kept as
// JSON, with the columns needed for lookups alongside.
type Store struct {
	DB *sql.DB
}

var _ store.Store = &Store{}

func (s *Store) Create(ctx context.Context, r deploy.Run) (deploy.Run, error) {
	r.Version = 1
	b, err := json.Marshal(r)
	if err != nil {
		return r, fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, cluster, service, phase, active, version, run, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), r.Descriptor.Cluster, r.Descriptor.Service, string(r.Phase),
		boolInt(store.Active(r)), r.Version, string(b), unixNano(r.CreatedAt), unixNano(r.UpdatedAt),
	)
	if err != nil {
		switch {
		case isActiveViolation(err):
			return r, fmt.Errorf("%s/%s: %w", r.Descriptor.Cluster, r.Descriptor.Service, store.ErrActiveRun)
		case isUniqueViolation(err):
			return r, fmt.Errorf("run %q: %w", r.ID, store.ErrAlreadyExists)
		}
		return r, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

func (s *Store) Get(ctx context.Context, id deploy.RunID) (deploy.Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT run, version FROM runs WHERE id = ?`, string(id))
	r, err := scanRun(row)
	if errors.Is(err, store.ErrNotFound) {
		return r, fmt.Errorf("run %q: %w", id, store.ErrNotFound)
	}
	return r, err
}

func (s *Store) Update(ctx context.Context, r deploy.Run) (deploy.Run, error) {
	expected := r.Version
	r.Version++
	b, err := json.Marshal(r)
	if err != nil {
		return r, fmt.Errorf("marshal run: %w", err)
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE runs
		 SET phase = ?, active = ?, version = ?, run = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(r.Phase), boolInt(store.Active(r)), r.Version, string(b), unixNano(r.UpdatedAt),
		string(r.ID), expected,
	)
	if err != nil {
		r.Version = expected
		if isActiveViolation(err) {
			return r, fmt.Errorf("%s/%s: %w", r.Descriptor.Cluster, r.Descriptor.Service, store.ErrActiveRun)
		}
		return r, fmt.Errorf("update run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		r.Version = expected
		if _, err := s.Get(ctx, r.ID); err != nil {
			return r, err
		}
		return r, fmt.Errorf("run %q not at version %d: %w", r.ID, expected, store.ErrConflict)
	}
	return r, nil
}

func (s *Store) List(ctx context.Context, f store.Filter) ([]deploy.Run, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Cluster != "" {
		where = append(where, "cluster = ?")
		args = append(args, f.Cluster)
	}
	if f.Service != "" {
		where = append(where, "service = ?")
		args = append(args, f.Service)
	}
	if f.Active {
		where = append(where, "active = 1")
	}
	query := `SELECT run, version FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []deploy.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(s scanner) (deploy.Run, error) {
	var r deploy.Run
	var runJSON string
	var version int64
	if err := s.Scan(&runJSON, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, fmt.Errorf("%w", store.ErrNotFound)
		}
		return r, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(runJSON), &r); err != nil {
		return r, fmt.Errorf("unmarshal run: %w", err)
	}
	r.Version = version
	return r, nil
}

func (s *Store) AppendEvent(ctx context.Context, e event.Event) (event.Event, error) {
	var md []byte
	if e.Metadata != nil {
		var err error
		if md, err = json.Marshal(e.Metadata); err != nil {
			return e, fmt.Errorf("marshal event metadata: %w", err)
		}
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO events (run_id, type, log_level, message, metadata, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.RunID), e.Type, e.LogLevel, e.Message, nullString(md), unixNano(e.StartedAt), unixNano(e.EndedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return e, fmt.Errorf("run %q: %w", e.RunID, store.ErrNotFound)
		}
		return e, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return e, fmt.Errorf("event id: %w", err)
	}
	e.ID = event.EventID(id)
	return e, nil
}

func (s *Store) Events(ctx context.Context, id deploy.RunID) ([]event.Event, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, run_id, type, log_level, message, metadata, started_at, ended_at
		 FROM events WHERE run_id = ? ORDER BY id`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]event.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(s scanner) (event.Event, error) {
	var e event.Event
	var (
		id, started, ended int64
		runID              string
		md                 sql.NullString
	)
	if err := s.Scan(&id, &runID, &e.Type, &e.LogLevel, &e.Message, &md, &started, &ended); err != nil {
		return e, fmt.Errorf("scan event: %w", err)
	}
	e.ID = event.EventID(id)
	e.RunID = deploy.RunID(runID)
	e.StartedAt = fromUnixNano(started)
	e.EndedAt = fromUnixNano(ended)
	if md.Valid {
		metadata, err := event.DecodeMetadata(e.Type, []byte(md.String))
		if err != nil {
			return e, err
		}
		e.Metadata = metadata
	}
	return e, nil
}
