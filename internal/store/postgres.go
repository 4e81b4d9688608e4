package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"evroute/internal/opt"
)

//go:embed schema.sql
var schema string

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate creates the run tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) CreateRun(ctx context.Context, info RunInfo) (string, error) {
	id := uuid.New().String()
	params, err := json.Marshal(info.Params)
	if err != nil {
		return "", err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO alns_runs (id, instance, ev, params, status) VALUES ($1,$2,$3,$4,$5)`,
		id, info.Instance, info.EV, string(params), string(StatusRunning))
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

func (p *Postgres) AppendIterations(ctx context.Context, runID string, recs []opt.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO alns_iterations
		(run_id, iteration, outcome, current_distance, current_infeasible, best_distance, best_infeasible, temperature,
		 destroy_op, repair_op, destroy_weights, repair_weights, nbh_size, feasible, duration_ns)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (run_id, iteration) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range recs {
		dw, _ := json.Marshal(r.DestroyWeights)
		rw, _ := json.Marshal(r.RepairWeights)
		_, err := stmt.ExecContext(ctx, runID, r.Iteration, int(r.Outcome),
			r.CurrentCost.Distance, r.CurrentCost.Infeasible, r.BestCost.Distance, r.BestCost.Infeasible, r.Temperature,
			r.Destroy, r.Repair, string(dw), string(rw), r.NeighborhoodSize, r.Feasible, r.Duration.Nanoseconds())
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("append iterations %s: %w", runID, ErrNotFound)
			}
			return fmt.Errorf("append iterations %s: %w", runID, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) FinishRun(ctx context.Context, runID string, res RunResult) error {
	js, err := json.Marshal(res)
	if err != nil {
		return err
	}
	out, err := p.db.ExecContext(ctx, `UPDATE alns_runs SET status=$2, error=$3, best_distance=$4, best_infeasible=$5, result=$6, finished_at=now() WHERE id=$1`,
		runID, string(res.Status), nullIfEmpty(res.Error), res.BestCost.Distance, res.BestCost.Infeasible, string(js))
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `id::text, instance, ev, params, status, result, created_at, finished_at`

func (p *Postgres) GetRun(ctx context.Context, runID string) (Run, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return Run{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM alns_runs WHERE id=$1`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, instance string, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	base := `SELECT ` + runColumns + ` FROM alns_runs`
	args := []any{}
	if instance != "" {
		base += ` WHERE instance=$1`
		args = append(args, instance)
	}
	base += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)
	rows, err := p.db.QueryContext(ctx, base, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) ListIterations(ctx context.Context, runID string, from, limit int) ([]opt.Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	if _, err := p.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT iteration, outcome, current_distance, current_infeasible, best_distance, best_infeasible,
		temperature, destroy_op, repair_op, destroy_weights, repair_weights, nbh_size, feasible, duration_ns
		FROM alns_iterations WHERE run_id=$1 AND iteration >= $2 ORDER BY iteration LIMIT $3`, runID, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []opt.Record{}
	for rows.Next() {
		var r opt.Record
		var outcome int
		var dw, rw []byte
		var ns int64
		if err := rows.Scan(&r.Iteration, &outcome, &r.CurrentCost.Distance, &r.CurrentCost.Infeasible, &r.BestCost.Distance, &r.BestCost.Infeasible,
			&r.Temperature, &r.Destroy, &r.Repair, &dw, &rw, &r.NeighborhoodSize, &r.Feasible, &ns); err != nil {
			return nil, err
		}
		r.Outcome = opt.Outcome(outcome)
		r.Duration = time.Duration(ns)
		if err := json.Unmarshal(dw, &r.DestroyWeights); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rw, &r.RepairWeights); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var params, result []byte
	var status string
	var finished sql.NullTime
	if err := s.Scan(&r.ID, &r.Instance, &r.EV, &params, &status, &result, &r.CreatedAt, &finished); err != nil {
		return r, err
	}
	r.Status = Status(status)
	if err := json.Unmarshal(params, &r.Params); err != nil {
		return r, err
	}
	if len(result) > 0 {
		var res RunResult
		if err := json.Unmarshal(result, &res); err != nil {
			return r, err
		}
		r.Result = &res
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
