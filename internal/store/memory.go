package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"evroute/internal/opt"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu    sync.Mutex
	runs  map[string]*memRun // id -> run
	order []string           // ids, oldest first
}

type memRun struct {
	Run
	iterations []opt.Record
}

func NewMemory() *Memory {
	return &Memory{runs: map[string]*memRun{}}
}

func (m *Memory) CreateRun(ctx context.Context, info RunInfo) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.runs[id] = &memRun{Run: Run{ID: id, RunInfo: info, Status: StatusRunning, CreatedAt: time.Now().UTC()}}
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) AppendIterations(ctx context.Context, runID string, recs []opt.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("append iterations %s: %w", runID, ErrNotFound)
	}
	r.iterations = append(r.iterations, recs...)
	return nil
}

func (m *Memory) FinishRun(ctx context.Context, runID string, res RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	now := time.Now().UTC()
	r.Status = res.Status
	r.FinishedAt = &now
	r.Result = &res
	return nil
}

func (m *Memory) GetRun(ctx context.Context, runID string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return r.Run, nil
}

func (m *Memory) ListRuns(ctx context.Context, instance string, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Run{}
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.runs[m.order[i]]
		if instance != "" && r.Instance != instance {
			continue
		}
		out = append(out, r.Run)
	}
	return out, nil
}

func (m *Memory) ListIterations(ctx context.Context, runID string, from, limit int) ([]opt.Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	out := []opt.Record{}
	for _, rec := range r.iterations {
		if rec.Iteration < from {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
