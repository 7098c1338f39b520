// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package postgres is the production store.Store, backed by PostgreSQL
// via pgx/v5. Backfill mutations run inside a single transaction that
// holds the backfill row for the duration of the read-modify-write, so
// a concurrent cursor advance and a concurrency edit cannot interleave.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/workflowcore/workflowcore/internal/model"
	"github.com/workflowcore/workflowcore/internal/store"
	"github.com/workflowcore/workflowcore/pkg/coreerrors"
)

var _ store.Store = (*Store)(nil)

// Store is a pgx/v5-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, verifies connectivity, and runs migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to document store: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks connectivity to the document store.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			schedule_kind TEXT NOT NULL,
			schedule_expr TEXT NOT NULL DEFAULT '',
			docker_image TEXT NOT NULL DEFAULT '',
			command JSONB,
			cpu TEXT NOT NULL DEFAULT '',
			memory TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			next_natural_trigger TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS backfills (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL REFERENCES workflows(id),
			start_at TIMESTAMPTZ NOT NULL,
			end_at TIMESTAMPTZ NOT NULL,
			schedule_kind TEXT NOT NULL,
			schedule_expr TEXT NOT NULL DEFAULT '',
			concurrency INTEGER NOT NULL,
			next_trigger TIMESTAMPTZ NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			reverse BOOLEAN NOT NULL DEFAULT FALSE,
			all_triggered BOOLEAN NOT NULL DEFAULT FALSE,
			halted BOOLEAN NOT NULL DEFAULT FALSE,
			trigger_parameters JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS runtime_config (
			key TEXT PRIMARY KEY,
			value DOUBLE PRECISION NOT NULL
		)`,
		`INSERT INTO runtime_config (key, value) VALUES ('submission_rate_per_second', 50)
			ON CONFLICT (key) DO NOTHING`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate document store: %w", err)
		}
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id model.WorkflowId) (*model.Workflow, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, schedule_kind, schedule_expr, docker_image, command, cpu, memory, enabled, next_natural_trigger FROM workflows WHERE id = $1`, id)
	wf, err := scanWorkflow(row)
	if err == pgx.ErrNoRows {
		return nil, &coreerrors.NotFoundError{Resource: "workflow", ID: string(id)}
	}
	if err != nil {
		return nil, &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
	}
	return wf, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, schedule_kind, schedule_expr, docker_image, command, cpu, memory, enabled, next_natural_trigger FROM workflows`)
	if err != nil {
		return nil, &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
	}
	defer rows.Close()

	var out []*model.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *Store) PutWorkflow(ctx context.Context, wf *model.Workflow) error {
	cmd, _ := json.Marshal(wf.Configuration.Command)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflows (id, schedule_kind, schedule_expr, docker_image, command, cpu, memory, enabled, next_natural_trigger)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			schedule_kind = EXCLUDED.schedule_kind, schedule_expr = EXCLUDED.schedule_expr,
			docker_image = EXCLUDED.docker_image, command = EXCLUDED.command,
			cpu = EXCLUDED.cpu, memory = EXCLUDED.memory, enabled = EXCLUDED.enabled,
			next_natural_trigger = EXCLUDED.next_natural_trigger`,
		wf.ID, wf.Schedule.Kind, wf.Schedule.Expr, wf.Configuration.DockerImage, cmd,
		wf.Configuration.CPU, wf.Configuration.Memory, wf.Enabled, wf.NextNaturalTrigger)
	if err != nil {
		return &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
	}
	return nil
}

func (s *Store) AdvanceNextNaturalTrigger(ctx context.Context, id model.WorkflowId, expected, next model.Workflow) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflows SET next_natural_trigger = $1 WHERE id = $2 AND next_natural_trigger = $3`,
		next.NextNaturalTrigger, id, expected.NextNaturalTrigger)
	if err != nil {
		return &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
	}
	if tag.RowsAffected() == 0 {
		return &coreerrors.ConflictError{Reason: "nextNaturalTrigger changed concurrently for " + string(id)}
	}
	return nil
}

func (s *Store) GetBackfill(ctx context.Context, id string) (*model.Backfill, error) {
	row := s.pool.QueryRow(ctx, backfillSelect+` WHERE id = $1`, id)
	b, err := scanBackfill(row)
	if err == pgx.ErrNoRows {
		return nil, &coreerrors.NotFoundError{Resource: "backfill", ID: id}
	}
	if err != nil {
		return nil, &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
	}
	return b, nil
}

func (s *Store) ListBackfills(ctx context.Context, workflowID model.WorkflowId, showAll bool) ([]*model.Backfill, error) {
	query := backfillSelect + ` WHERE ($1 = '' OR workflow_id = $1) AND ($2 OR NOT all_triggered)`
	rows, err := s.pool.Query(ctx, query, workflowID, showAll)
	if err != nil {
		return nil, &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
	}
	defer rows.Close()

	var out []*model.Backfill
	for rows.Next() {
		b, err := scanBackfill(rows)
		if err != nil {
			return nil, &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) CreateBackfill(ctx context.Context, b *model.Backfill) error {
	params, _ := json.Marshal(b.TriggerParameters)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backfills (id, workflow_id, start_at, end_at, schedule_kind, schedule_expr, concurrency, next_trigger, description, reverse, all_triggered, halted, trigger_parameters)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		b.ID, b.WorkflowID, b.Start, b.End, b.Schedule.Kind, b.Schedule.Expr, b.Concurrency, b.NextTrigger,
		b.Description, b.Reverse, b.AllTriggered, b.Halted, params)
	if err != nil {
		return &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
	}
	return nil
}

func (s *Store) UpdateBackfill(ctx context.Context, b *model.Backfill) error {
	params, _ := json.Marshal(b.TriggerParameters)
	tag, err := s.pool.Exec(ctx, `
		UPDATE backfills SET concurrency=$2, next_trigger=$3, description=$4, all_triggered=$5, halted=$6, trigger_parameters=$7
		WHERE id=$1`,
		b.ID, b.Concurrency, b.NextTrigger, b.Description, b.AllTriggered, b.Halted, params)
	if err != nil {
		return &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
	}
	if tag.RowsAffected() == 0 {
		return &coreerrors.NotFoundError{Resource: "backfill", ID: b.ID}
	}
	return nil
}

// WithBackfillTx loads the backfill row with FOR UPDATE, runs fn, then
// persists the result before committing. Any error from fn rolls back.
func (s *Store) WithBackfillTx(ctx context.Context, id string, fn func(ctx context.Context, b *model.Backfill) (*model.Backfill, error)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, backfillSelect+` WHERE id = $1 FOR UPDATE`, id)
	b, err := scanBackfill(row)
	if err == pgx.ErrNoRows {
		return &coreerrors.NotFoundError{Resource: "backfill", ID: id}
	}
	if err != nil {
		return &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
	}

	updated, err := fn(ctx, b)
	if err != nil {
		return err
	}

	params, _ := json.Marshal(updated.TriggerParameters)
	_, err = tx.Exec(ctx, `
		UPDATE backfills SET concurrency=$2, next_trigger=$3, description=$4, all_triggered=$5, halted=$6, trigger_parameters=$7
		WHERE id=$1`,
		updated.ID, updated.Concurrency, updated.NextTrigger, updated.Description, updated.AllTriggered, updated.Halted, params)
	if err != nil {
		return &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
	}
	return nil
}

func (s *Store) GetSubmissionRate(ctx context.Context) (float64, error) {
	var rate float64
	err := s.pool.QueryRow(ctx, `SELECT value FROM runtime_config WHERE key = 'submission_rate_per_second'`).Scan(&rate)
	if err != nil {
		return 0, &coreerrors.StorageUnavailableError{Store: "document-store", Cause: err}
	}
	return rate, nil
}

const backfillSelect = `SELECT id, workflow_id, start_at, end_at, schedule_kind, schedule_expr, concurrency, next_trigger, description, reverse, all_triggered, halted, trigger_parameters FROM backfills`

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*model.Workflow, error) {
	var wf model.Workflow
	var cmd []byte
	if err := row.Scan(&wf.ID, &wf.Schedule.Kind, &wf.Schedule.Expr, &wf.Configuration.DockerImage, &cmd,
		&wf.Configuration.CPU, &wf.Configuration.Memory, &wf.Enabled, &wf.NextNaturalTrigger); err != nil {
		return nil, err
	}
	if len(cmd) > 0 {
		_ = json.Unmarshal(cmd, &wf.Configuration.Command)
	}
	return &wf, nil
}

func scanBackfill(row scanner) (*model.Backfill, error) {
	var b model.Backfill
	var params []byte
	if err := row.Scan(&b.ID, &b.WorkflowID, &b.Start, &b.End, &b.Schedule.Kind, &b.Schedule.Expr, &b.Concurrency,
		&b.NextTrigger, &b.Description, &b.Reverse, &b.AllTriggered, &b.Halted, &params); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &b.TriggerParameters)
	}
	return &b, nil
}
