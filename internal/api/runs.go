package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"evroute/internal/metrics"
	"evroute/internal/opt"
	"evroute/internal/problem"
	"evroute/internal/store"
)

// iterationBatch is the number of records buffered before they are written
// to the store.
const iterationBatch = 50

type runRequest struct {
	Instance string     `json:"instance"`
	EV       bool       `json:"ev"`
	Search   opt.Params `json:"search"`
}

// RunsHandler serves GET/POST /v1/runs.
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listRuns(w, r)
	case http.MethodPost:
		s.createRun(w, r)
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		_, _ = fmt.Sscanf(v, "%d", &limit)
	}
	runs, err := s.Store.ListRuns(r.Context(), r.URL.Query().Get("instance"), limit)
	if err != nil {
		writeStoreError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	// Omitted fields keep the configured defaults.
	req := runRequest{EV: s.Config.EV, Search: s.Config.Search}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid json", err.Error(), r.URL.Path)
		return
	}
	path, err := validateRunRequest(&req, s.Config.InstanceDir)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid run request", err.Error(), r.URL.Path)
		return
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		writeProblem(w, http.StatusNotFound, "instance not found", req.Instance, r.URL.Path)
		return
	}
	in, err := problem.ReadFile(path, problem.ReadOptions{EV: req.EV})
	if err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "invalid instance", err.Error(), r.URL.Path)
		return
	}

	select {
	case s.sem <- struct{}{}:
	default:
		writeProblem(w, http.StatusTooManyRequests, "too many runs", fmt.Sprintf("at most %d runs execute at once", cap(s.sem)), r.URL.Path)
		return
	}
	release := func() { <-s.sem }

	id, err := s.Store.CreateRun(r.Context(), store.RunInfo{Instance: req.Instance, EV: req.EV, Params: req.Search})
	if err != nil {
		release()
		writeStoreError(w, err, r.URL.Path)
		return
	}
	log := s.Log.WithFields(logrus.Fields{"run": id, "instance": req.Instance})
	x := &runExec{
		s:       s,
		id:      id,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(s.Config.ProgressRPS), s.Config.ProgressBurst),
		destroy: opt.DestroyNames(req.Search.DestroyOps),
		repair:  opt.RepairNames(req.Search.RepairOps),
	}
	eng, err := opt.NewEngine(in, req.Search, opt.WithLogger(log), opt.WithObserver(x.observe))
	if err != nil {
		release()
		res := store.RunResult{Status: store.StatusFailed, Error: err.Error(), Routes: []store.RouteOut{}, Unserved: []int{}}
		_ = s.Store.FinishRun(context.Background(), id, res)
		writeProblem(w, http.StatusUnprocessableEntity, "invalid search parameters", err.Error(), r.URL.Path)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.track(id, cancel)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		defer s.untrack(id)
		defer cancel()
		x.run(ctx, eng)
	}()

	log.WithField("iterations", req.Search.Iterations).Info("run started")
	w.Header().Set("Location", "/v1/runs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]any{"runId": id, "status": store.StatusRunning})
}

// RunByIDHandler serves /v1/runs/{id} and its iterations, stream and cancel
// subresources.
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/runs/"), "/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	switch {
	case sub == "" && r.Method == http.MethodGet:
		run, err := s.Store.GetRun(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, run)
	case sub == "iterations" && r.Method == http.MethodGet:
		from, limit := 0, 0
		if v := r.URL.Query().Get("from"); v != "" {
			_, _ = fmt.Sscanf(v, "%d", &from)
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			_, _ = fmt.Sscanf(v, "%d", &limit)
		}
		recs, err := s.Store.ListIterations(r.Context(), id, from, limit)
		if err != nil {
			writeStoreError(w, err, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runId": id, "iterations": recs})
	case sub == "stream" && r.Method == http.MethodGet:
		s.streamRun(w, r, id)
	case sub == "cancel" && r.Method == http.MethodPost:
		run, err := s.Store.GetRun(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, r.URL.Path)
			return
		}
		if run.Status != store.StatusRunning || !s.cancelRun(id) {
			writeProblem(w, http.StatusConflict, "run is not executing", string(run.Status), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"runId": id, "status": "canceling"})
	case sub == "" || sub == "iterations" || sub == "stream" || sub == "cancel":
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	default:
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
	}
}

// runExec carries one run from its first iteration to its stored result.
type runExec struct {
	s       *Server
	id      string
	log     logrus.FieldLogger
	limiter *rate.Limiter
	destroy []string
	repair  []string
	pending []opt.Record
}

func (x *runExec) run(ctx context.Context, eng *opt.Engine) {
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	res, err := eng.Run(ctx)
	x.flush()

	status := store.StatusDone
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = store.StatusCanceled
	default:
		status = store.StatusFailed
	}
	var (
		best *opt.Solution
		rl   *opt.RunLog
	)
	if res != nil {
		best, rl = res.Best, res.Log
	}
	out := store.NewRunResult(status, best, rl)
	if status == store.StatusFailed {
		out.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := x.s.Store.FinishRun(ctx, x.id, out); err != nil {
		x.log.WithError(err).Error("store run result")
	}
	metrics.ObserveRun(string(status), out.BestCost)
	if err := x.s.Broker.Publish(x.id, finishedEvent(x.id, out)); err != nil {
		x.log.WithError(err).Warn("publish run.finished")
	}
	x.notify(out)
	x.log.WithFields(logrus.Fields{
		"status":   status,
		"best":     out.BestCost.String(),
		"routes":   len(out.Routes),
		"unserved": len(out.Unserved),
	}).Info("run finished")
}

// notify delivers the result webhook in the background; Shutdown waits for it.
func (x *runExec) notify(out store.RunResult) {
	n := x.s.Notifier
	if n == nil {
		return
	}
	body, err := json.Marshal(map[string]any{
		"type":   EventFinished,
		"runId":  x.id,
		"ts":     time.Now().UTC().Format(time.RFC3339),
		"result": out,
	})
	if err != nil {
		x.log.WithError(err).Error("encode webhook")
		return
	}
	x.s.wg.Add(1)
	go func() {
		defer x.s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := n.Deliver(ctx, EventFinished, body); err != nil {
			x.log.WithError(err).Error("run webhook")
		}
	}()
}

func (x *runExec) observe(rec opt.Record) {
	destroy, repair := x.destroy[rec.Destroy], x.repair[rec.Repair]
	metrics.ObserveIteration(rec, destroy, repair)

	x.pending = append(x.pending, rec)
	if len(x.pending) >= iterationBatch {
		x.flush()
	}

	if rec.Outcome != opt.NewBest && !x.limiter.Allow() {
		metrics.ProgressEvents.WithLabelValues("throttled").Inc()
		return
	}
	evt := Event{Type: EventIteration, Data: map[string]any{
		"runId":       x.id,
		"iteration":   rec.Iteration,
		"outcome":     rec.Outcome.String(),
		"currentCost": rec.CurrentCost,
		"bestCost":    rec.BestCost,
		"temperature": rec.Temperature,
		"destroy":     destroy,
		"repair":      repair,
		"feasible":    rec.Feasible,
	}}
	if err := x.s.Broker.Publish(x.id, evt); err != nil {
		metrics.ProgressEvents.WithLabelValues("failed").Inc()
		x.log.WithError(err).Debug("publish run.iteration")
		return
	}
	metrics.ProgressEvents.WithLabelValues("published").Inc()
}

func (x *runExec) flush() {
	if len(x.pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := x.s.Store.AppendIterations(ctx, x.id, x.pending); err != nil {
		x.log.WithError(err).WithField("records", len(x.pending)).Error("store iterations")
	}
	x.pending = x.pending[:0]
}

func finishedEvent(id string, res store.RunResult) Event {
	return Event{Type: EventFinished, Data: map[string]any{
		"runId":    id,
		"status":   res.Status,
		"error":    res.Error,
		"bestCost": res.BestCost,
		"routes":   len(res.Routes),
		"unserved": len(res.Unserved),
	}}
}
