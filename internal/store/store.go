package store

import (
	"context"
	"errors"
	"time"

	"evroute/internal/opt"
)

// Store persists search runs and their iteration logs.
type Store interface {
	CreateRun(ctx context.Context, info RunInfo) (string, error)
	AppendIterations(ctx context.Context, runID string, recs []opt.Record) error
	FinishRun(ctx context.Context, runID string, res RunResult) error
	GetRun(ctx context.Context, runID string) (Run, error)
	// ListRuns returns the newest runs first, optionally filtered by instance name.
	ListRuns(ctx context.Context, instance string, limit int) ([]Run, error)
	// ListIterations returns records with Iteration >= from in ascending order.
	ListIterations(ctx context.Context, runID string, from, limit int) ([]opt.Record, error)
}

var ErrNotFound = errors.New("not found")

type Status string

const (
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// RunInfo describes a run at creation time.
type RunInfo struct {
	Instance string     `json:"instance"`
	EV       bool       `json:"ev"`
	Params   opt.Params `json:"params"`
}

// RouteOut is a stored route: location indices plus readable labels.
type RouteOut struct {
	Stops     []int    `json:"stops"`
	Labels    []string `json:"labels"`
	Distance  float64  `json:"distance"`
	Feasible  bool     `json:"feasible"`
	Recharges int      `json:"recharges"`
}

// RunResult is written once when a run stops.
type RunResult struct {
	Status   Status       `json:"status"`
	Error    string       `json:"error,omitempty"`
	BestCost opt.Cost     `json:"bestCost"`
	Routes   []RouteOut   `json:"routes"`
	Unserved []int        `json:"unserved"` // request ids
	Summary  *opt.Summary `json:"summary,omitempty"`
}

type Run struct {
	ID         string     `json:"id"`
	RunInfo               // instance, ev, params
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Result     *RunResult `json:"result,omitempty"`
}

// NewRunResult captures the best solution and the log summary of a run.
// Empty routes are omitted.
func NewRunResult(status Status, best *opt.Solution, log *opt.RunLog) RunResult {
	res := RunResult{Status: status, Routes: []RouteOut{}, Unserved: []int{}}
	if best != nil {
		in := best.Instance()
		res.BestCost = best.Cost()
		for _, r := range best.Routes() {
			if len(r.Requests()) == 0 {
				continue
			}
			out := RouteOut{Stops: r.Stops(), Distance: r.Distance(), Feasible: r.Feasible(), Recharges: r.Recharges()}
			for _, s := range r.Stops() {
				out.Labels = append(out.Labels, in.Locations[s].String())
			}
			res.Routes = append(res.Routes, out)
		}
		for _, req := range best.Unserved() {
			res.Unserved = append(res.Unserved, in.Requests[req].ID)
		}
	}
	if log != nil {
		s := log.Summary()
		res.Summary = &s
	}
	return res
}
