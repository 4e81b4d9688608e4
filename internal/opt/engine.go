package opt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"evroute/internal/problem"
)

// ErrInvalidParams wraps every Params validation failure.
var ErrInvalidParams = errors.New("invalid search parameters")

// Params configures a search run.
type Params struct {
	Iterations         int        `json:"iterations" yaml:"iterations"`
	MinNeighborhood    int        `json:"minNeighborhood" yaml:"minNeighborhood"`
	MaxNeighborhood    int        `json:"maxNeighborhood" yaml:"maxNeighborhood"`
	Seed               int64      `json:"seed" yaml:"seed"`
	InitialTemperature float64    `json:"initialTemperature" yaml:"initialTemperature"`
	CoolingRate        float64    `json:"coolingRate" yaml:"coolingRate"`
	Decay              float64    `json:"decay" yaml:"decay"`
	ScoreWeights       [4]float64 `json:"scoreWeights" yaml:"scoreWeights"` // new-best, improving, accepted-worse, rejected
	DestroyOps         int        `json:"destroyOps" yaml:"destroyOps"`
	RepairOps          int        `json:"repairOps" yaml:"repairOps"`
	RegretK            int        `json:"regretK" yaml:"regretK"`
}

// DefaultParams mirrors the reference tuning of the search.
func DefaultParams() Params {
	return Params{
		Iterations:         100,
		MinNeighborhood:    1,
		MaxNeighborhood:    45,
		Seed:               1,
		InitialTemperature: 1000,
		CoolingRate:        0.95,
		Decay:              0.75,
		ScoreWeights:       [4]float64{1, 0.5, 0.3, 0.1},
		DestroyOps:         4,
		RepairOps:          3,
		RegretK:            2,
	}
}

func (p Params) Validate() error {
	switch {
	case p.Iterations < 1:
		return fmt.Errorf("iterations must be >= 1, got %d: %w", p.Iterations, ErrInvalidParams)
	case p.MinNeighborhood < 1 || p.MaxNeighborhood < p.MinNeighborhood:
		return fmt.Errorf("neighborhood bounds [%d,%d] must satisfy 1 <= min <= max: %w", p.MinNeighborhood, p.MaxNeighborhood, ErrInvalidParams)
	case p.InitialTemperature <= 0:
		return fmt.Errorf("initial temperature must be > 0: %w", ErrInvalidParams)
	case p.CoolingRate <= 0 || p.CoolingRate >= 1:
		return fmt.Errorf("cooling rate must be in (0,1), got %g: %w", p.CoolingRate, ErrInvalidParams)
	case p.Decay < 0 || p.Decay >= 1:
		return fmt.Errorf("decay must be in [0,1), got %g: %w", p.Decay, ErrInvalidParams)
	case p.DestroyOps < 1 || p.DestroyOps > len(destroyOperators):
		return fmt.Errorf("destroy ops must be in [1,%d], got %d: %w", len(destroyOperators), p.DestroyOps, ErrInvalidParams)
	case p.RepairOps < 1 || p.RepairOps > len(repairOperators):
		return fmt.Errorf("repair ops must be in [1,%d], got %d: %w", len(repairOperators), p.RepairOps, ErrInvalidParams)
	case p.RegretK < 2:
		return fmt.Errorf("regret k must be >= 2, got %d: %w", p.RegretK, ErrInvalidParams)
	}
	for _, w := range p.ScoreWeights {
		if w <= 0 {
			return fmt.Errorf("score weights must be > 0, got %v: %w", p.ScoreWeights, ErrInvalidParams)
		}
	}
	return nil
}

// Outcome classifies an iteration's acceptance decision.
type Outcome int

const (
	NewBest Outcome = iota + 1
	Improving
	AcceptedWorse
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case NewBest:
		return "new_best"
	case Improving:
		return "improving"
	case AcceptedWorse:
		return "accepted_worse"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Outcomes lists every outcome in score-table order.
var Outcomes = [...]Outcome{NewBest, Improving, AcceptedWorse, Rejected}

// DestroyOperator removes up to n served requests.
type DestroyOperator struct {
	Name  string
	Apply func(s *Solution, n int, rng *rand.Rand)
}

// RepairOperator reinserts unserved requests. k is the regret depth.
type RepairOperator struct {
	Name  string
	Apply func(s *Solution, k int, rng *rand.Rand)
}

var destroyOperators = []DestroyOperator{
	{"random", func(s *Solution, n int, rng *rand.Rand) { s.RandomRemoval(n, rng) }},
	{"worst", func(s *Solution, n int, _ *rand.Rand) { s.WorstRemoval(n) }},
	{"shaw", func(s *Solution, n int, rng *rand.Rand) { s.ShawRemoval(n, rng) }},
	{"time", func(s *Solution, n int, _ *rand.Rand) { s.TimeOrientedRemoval(n) }},
}

var repairOperators = []RepairOperator{
	{"random", func(s *Solution, _ int, rng *rand.Rand) { s.RandomInsertion(rng) }},
	{"greedy", func(s *Solution, _ int, _ *rand.Rand) { s.GreedyInsertion() }},
	{"regret", func(s *Solution, k int, _ *rand.Rand) { s.RegretInsertion(k) }},
}

// DestroyNames returns the names of the first n destroy operators.
func DestroyNames(n int) []string {
	return names(destroyOperators[:clampOps(n, len(destroyOperators))], func(o DestroyOperator) string { return o.Name })
}

// RepairNames returns the names of the first n repair operators.
func RepairNames(n int) []string {
	return names(repairOperators[:clampOps(n, len(repairOperators))], func(o RepairOperator) string { return o.Name })
}

func names[T any](ops []T, name func(T) string) []string {
	out := make([]string, len(ops))
	for i, o := range ops {
		out[i] = name(o)
	}
	return out
}

func clampOps(n, limit int) int {
	if n < 1 || n > limit {
		return limit
	}
	return n
}

// State is everything one iteration reads and advances.
type State struct {
	Iteration      int
	Current        *Solution
	Best           *Solution
	Temperature    float64
	DestroyWeights []float64
	RepairWeights  []float64
}

// Observer receives each record right after it is appended to the log.
type Observer func(Record)

// Engine runs adaptive large neighborhood search over one instance.
type Engine struct {
	in        *problem.Instance
	params    Params
	destroy   []DestroyOperator
	repair    []RepairOperator
	log       logrus.FieldLogger
	observers []Observer
}

type Option func(*Engine)

// WithLogger routes engine logging to l.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithObserver registers fn to be called for every iteration record.
func WithObserver(fn Observer) Option {
	return func(e *Engine) {
		if fn != nil {
			e.observers = append(e.observers, fn)
		}
	}
}

func NewEngine(in *problem.Instance, p Params, opts ...Option) (*Engine, error) {
	if in == nil {
		return nil, fmt.Errorf("new engine: nil instance: %w", ErrInvalidParams)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	e := &Engine{
		in:      in,
		params:  p,
		destroy: destroyOperators[:p.DestroyOps],
		repair:  repairOperators[:p.RepairOps],
		log:     quiet,
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.WithField("instance", in.Name)
	return e, nil
}

func (e *Engine) Params() Params { return e.params }

// Init builds the starting state: every request placed by RandomInsertion,
// uniform operator weights and the initial temperature.
func (e *Engine) Init(rng *rand.Rand) *State {
	s := NewSolution(e.in)
	s.RandomInsertion(rng)
	e.log.WithFields(logrus.Fields{
		"cost":     s.Cost().String(),
		"routes":   len(s.Routes()),
		"unserved": len(s.Unserved()),
	}).Info("initial solution")
	return &State{
		Current:        s,
		Best:           s,
		Temperature:    e.params.InitialTemperature,
		DestroyWeights: uniform(len(e.destroy)),
		RepairWeights:  uniform(len(e.repair)),
	}
}

func uniform(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// Step runs one destroy/repair/accept/adapt iteration on st and returns its
// record. Accepted solutions are never mutated afterwards, so st.Current and
// st.Best may be the same value.
func (e *Engine) Step(st *State, rng *rand.Rand) Record {
	start := time.Now()
	st.Iteration++

	clone := st.Current.Clone()
	n := e.params.MinNeighborhood + rng.Intn(e.params.MaxNeighborhood-e.params.MinNeighborhood+1)
	di := selectOp(st.DestroyWeights, rng)
	ri := selectOp(st.RepairWeights, rng)

	e.destroy[di].Apply(clone, n, rng)
	e.repair[ri].Apply(clone, e.params.RegretK, rng)
	cost := clone.ComputeCost()

	outcome := accept(cost, st.Current.Cost(), st.Best.Cost(), st.Temperature, rng)
	switch outcome {
	case NewBest:
		st.Best = clone
		st.Current = clone
	case Improving, AcceptedWorse:
		st.Current = clone
	}
	st.Temperature *= e.params.CoolingRate

	sw := e.params.ScoreWeights[outcome-1]
	adapt(st.DestroyWeights, di, sw, e.params.Decay)
	adapt(st.RepairWeights, ri, sw, e.params.Decay)

	rec := Record{
		Iteration:        st.Iteration,
		CurrentCost:      st.Current.Cost(),
		BestCost:         st.Best.Cost(),
		Temperature:      st.Temperature,
		Destroy:          di,
		Repair:           ri,
		DestroyWeights:   append([]float64(nil), st.DestroyWeights...),
		RepairWeights:    append([]float64(nil), st.RepairWeights...),
		NeighborhoodSize: n,
		Outcome:          outcome,
		Feasible:         cost.Feasible(),
		Duration:         time.Since(start),
	}
	fields := logrus.Fields{
		"iter":    rec.Iteration,
		"outcome": outcome.String(),
		"current": rec.CurrentCost.String(),
		"best":    rec.BestCost.String(),
		"temp":    rec.Temperature,
		"destroy": e.destroy[di].Name,
		"repair":  e.repair[ri].Name,
		"nbh":     n,
	}
	if outcome == NewBest {
		e.log.WithFields(fields).Info("new best solution")
	} else {
		e.log.WithFields(fields).Debug("iteration")
	}
	return rec
}

// accept decides the fate of a tentative solution. A strictly worse clone
// is taken with probability exp(-delta/temperature).
func accept(clone, current, best Cost, temperature float64, rng *rand.Rand) Outcome {
	if clone.Less(best) {
		return NewBest
	}
	if clone.Less(current) {
		return Improving
	}
	delta := clone.Sub(current)
	if rng.Float64() < math.Exp(-delta/temperature) {
		return AcceptedWorse
	}
	return Rejected
}

// adapt blends the score into weight i and renormalizes w to sum to 1.
func adapt(w []float64, i int, score, decay float64) {
	w[i] = decay*w[i] + (1-decay)*score
	if sum := floats.Sum(w); sum > 0 {
		floats.Scale(1/sum, w)
	}
}

// selectOp is a roulette wheel over weights.
func selectOp(weights []float64, rng *rand.Rand) int {
	sum := floats.Sum(weights)
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}

// Result is what a finished run hands back.
type Result struct {
	Best *Solution
	Log  *RunLog
}

// Run seeds its own generator from Params.Seed and iterates until the
// configured count or until ctx is done. On cancellation the partial result
// is returned together with ctx's error.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	rng := rand.New(rand.NewSource(e.params.Seed))
	log := NewRunLog(DestroyNames(len(e.destroy)), RepairNames(len(e.repair)))

	st := e.Init(rng)
	for i := 0; i < e.params.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			log.finish()
			e.log.WithError(err).WithField("iter", st.Iteration).Warn("search interrupted")
			return &Result{Best: st.Best, Log: log}, err
		}
		rec := e.Step(st, rng)
		log.Append(rec)
		for _, fn := range e.observers {
			fn(rec)
		}
	}
	log.finish()

	sum := log.Summary()
	e.log.WithFields(logrus.Fields{
		"best":        st.Best.Cost().String(),
		"routes":      len(st.Best.Routes()),
		"unserved":    len(st.Best.Unserved()),
		"feasiblePct": sum.FeasiblePercent,
		"elapsed":     sum.Elapsed.String(),
	}).Info("search finished")
	return &Result{Best: st.Best, Log: log}, nil
}
