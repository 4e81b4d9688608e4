//go:build postgres_integration

package store

import (
	"errors"
	"os"
	"testing"

	"evroute/internal/opt"
)

func TestPostgresRunRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	ctx := t.Context()
	if err := p.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	id, err := p.CreateRun(ctx, RunInfo{Instance: "it.txt", Params: opt.DefaultParams()})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	recs := []opt.Record{
		{Iteration: 1, Outcome: opt.NewBest, DestroyWeights: []float64{0.5, 0.5}, RepairWeights: []float64{1}, Feasible: true},
		{Iteration: 2, Outcome: opt.Rejected, DestroyWeights: []float64{0.4, 0.6}, RepairWeights: []float64{1}},
	}
	if err := p.AppendIterations(ctx, id, recs); err != nil {
		t.Fatalf("AppendIterations: %v", err)
	}
	got, err := p.ListIterations(ctx, id, 2, 10)
	if err != nil {
		t.Fatalf("ListIterations: %v", err)
	}
	if len(got) != 1 || got[0].Outcome != opt.Rejected || got[0].DestroyWeights[1] != 0.6 {
		t.Fatalf("unexpected iterations %+v", got)
	}
	if err := p.FinishRun(ctx, id, RunResult{Status: StatusDone, BestCost: opt.Cost{Distance: 10}}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	r, err := p.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Status != StatusDone || r.Result == nil || r.FinishedAt == nil || r.Params.Iterations != 100 {
		t.Fatalf("unexpected run %+v", r)
	}
	if _, err := p.GetRun(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if runs, err := p.ListRuns(ctx, "it.txt", 5); err != nil || len(runs) == 0 {
		t.Fatalf("ListRuns: %v %d", err, len(runs))
	}
}
