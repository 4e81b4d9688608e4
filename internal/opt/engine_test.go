package opt

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestAcceptOutcomes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := func(d float64) Cost { return Cost{Distance: d} }

	assert.Equal(t, NewBest, accept(c(90), c(100), c(100), 10, rng))
	assert.Equal(t, Improving, accept(c(95), c(100), c(90), 10, rng))
	assert.Equal(t, Rejected, accept(Cost{Distance: 1, Infeasible: 1}, c(100), c(100), 1e9, rng))
}

func TestAcceptWorseProbability(t *testing.T) {
	const (
		trials = 20000
		temp   = 50.0
	)
	rng := rand.New(rand.NewSource(42))
	accepted := 0
	for i := 0; i < trials; i++ {
		switch accept(Cost{Distance: 110}, Cost{Distance: 100}, Cost{Distance: 100}, temp, rng) {
		case AcceptedWorse:
			accepted++
		case Rejected:
		default:
			t.Fatal("a worse clone can only be accepted-worse or rejected")
		}
	}
	want := math.Exp(-10 / temp)
	got := float64(accepted) / trials
	// ~7 standard deviations of a binomial proportion at this sample size
	assert.InDelta(t, want, got, 0.02)
}

func TestSelectOp(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, 0, selectOp([]float64{0, 0}, rng))
	assert.Equal(t, 1, selectOp([]float64{0, 1}, rng))

	counts := make([]float64, 3)
	for i := 0; i < 10000; i++ {
		counts[selectOp([]float64{0.2, 0.3, 0.5}, rng)]++
	}
	floats.Scale(1.0/10000, counts)
	assert.InDeltaSlice(t, []float64{0.2, 0.3, 0.5}, counts, 0.03)
}

func TestAdaptRenormalizes(t *testing.T) {
	w := uniform(4)
	adapt(w, 2, 1, 0.75)
	assert.InDelta(t, 1.0, floats.Sum(w), 1e-12)
	assert.Greater(t, w[2], w[0])
	assert.Equal(t, w[0], w[1])
}

func TestAdaptWithoutDecayKeepsDistribution(t *testing.T) {
	p := DefaultParams()
	p.Decay = 0
	require.NoError(t, p.Validate())

	w := uniform(4)
	for i := range w {
		adapt(w, i, p.ScoreWeights[Rejected-1], p.Decay)
		assert.InDelta(t, 1.0, floats.Sum(w), 1e-12)
	}
	for i := range w {
		assert.Positive(t, w[i])
	}
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	bad := []func(*Params){
		func(p *Params) { p.Iterations = 0 },
		func(p *Params) { p.MinNeighborhood = 0 },
		func(p *Params) { p.MinNeighborhood, p.MaxNeighborhood = 5, 4 },
		func(p *Params) { p.InitialTemperature = 0 },
		func(p *Params) { p.CoolingRate = 1 },
		func(p *Params) { p.Decay = 1 },
		func(p *Params) { p.DestroyOps = 5 },
		func(p *Params) { p.RepairOps = 0 },
		func(p *Params) { p.RegretK = 1 },
		func(p *Params) { p.ScoreWeights[3] = -1 },
		func(p *Params) { p.ScoreWeights[3] = 0 },
		func(p *Params) { p.ScoreWeights, p.Decay = [4]float64{}, 0 },
	}
	for i, mutate := range bad {
		p := DefaultParams()
		mutate(&p)
		assert.ErrorIs(t, p.Validate(), ErrInvalidParams, "case %d", i)
	}
}

func smallParams() Params {
	p := DefaultParams()
	p.Iterations = 25
	p.MaxNeighborhood = 4
	return p
}

func TestStepInvariants(t *testing.T) {
	in := randomInstance(t, 23, 15, true)
	e, err := NewEngine(in, smallParams())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	st := e.Init(rng)
	requirePartition(t, st.Current)
	prevTemp := st.Temperature

	for i := 1; i <= 25; i++ {
		rec := e.Step(st, rng)
		assert.Equal(t, i, rec.Iteration)
		requirePartition(t, st.Current)
		requirePartition(t, st.Best)
		assert.InDelta(t, 1.0, floats.Sum(st.DestroyWeights), 1e-9)
		assert.InDelta(t, 1.0, floats.Sum(st.RepairWeights), 1e-9)
		assert.InDelta(t, prevTemp*0.95, st.Temperature, 1e-9)
		prevTemp = st.Temperature
		assert.False(t, rec.CurrentCost.Less(rec.BestCost), "current never beats best")
		assert.GreaterOrEqual(t, rec.NeighborhoodSize, 1)
		assert.LessOrEqual(t, rec.NeighborhoodSize, 4)
		assert.Equal(t, st.DestroyWeights, rec.DestroyWeights)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	in := randomInstance(t, 29, 12, false)
	run := func() *Result {
		e, err := NewEngine(in, smallParams())
		require.NoError(t, err)
		res, err := e.Run(context.Background())
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()
	assert.Equal(t, a.Best.Cost(), b.Best.Cost())
	require.Len(t, b.Log.Records, len(a.Log.Records))
	for i := range a.Log.Records {
		ra, rb := a.Log.Records[i], b.Log.Records[i]
		assert.Equal(t, ra.Outcome, rb.Outcome)
		assert.Equal(t, ra.Destroy, rb.Destroy)
		assert.Equal(t, ra.Repair, rb.Repair)
		assert.Equal(t, ra.CurrentCost, rb.CurrentCost)
	}
}

func TestRunBestNeverWorsens(t *testing.T) {
	in := randomInstance(t, 31, 12, true)
	var records []Record
	e, err := NewEngine(in, smallParams(), WithObserver(func(r Record) { records = append(records, r) }))
	require.NoError(t, err)
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, records, 25)
	for i := 1; i < len(records); i++ {
		assert.False(t, records[i-1].BestCost.Less(records[i].BestCost), "iteration %d", i+1)
	}
	assert.Equal(t, res.Best.Cost(), records[len(records)-1].BestCost)

	sum := res.Log.Summary()
	assert.Equal(t, 25, sum.Iterations)
	total := 0
	for _, n := range sum.Outcomes {
		total += n
	}
	assert.Equal(t, 25, total)
	assert.GreaterOrEqual(t, sum.FeasiblePercent, 0.0)
	assert.LessOrEqual(t, sum.FeasiblePercent, 100.0)
}

func TestRunHonorsCancellation(t *testing.T) {
	in := randomInstance(t, 37, 8, false)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	e, err := NewEngine(in, smallParams(), WithObserver(func(Record) {
		calls++
		if calls == 3 {
			cancel()
		}
	}))
	require.NoError(t, err)

	res, err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Len(t, res.Log.Records, 3)
	requirePartition(t, res.Best)
}

func TestRestrictedOperatorSets(t *testing.T) {
	in := randomInstance(t, 41, 8, false)
	p := smallParams()
	p.DestroyOps, p.RepairOps = 1, 2
	e, err := NewEngine(in, p)
	require.NoError(t, err)
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	for _, r := range res.Log.Records {
		assert.Equal(t, 0, r.Destroy)
		assert.Less(t, r.Repair, 2)
		assert.Len(t, r.DestroyWeights, 1)
		assert.Len(t, r.RepairWeights, 2)
	}
	assert.Equal(t, []string{"random"}, res.Log.DestroyNames)
	assert.Equal(t, []string{"random", "greedy"}, res.Log.RepairNames)
}

func TestEngineLogsNewBest(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)
	in := randomInstance(t, 43, 10, false)
	e, err := NewEngine(in, smallParams(), WithLogger(logger))
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, "initial solution", hook.AllEntries()[0].Message)
	last := hook.LastEntry()
	assert.Equal(t, "search finished", last.Message)
	assert.Equal(t, "random", last.Data["instance"])
}

func TestNewEngineRejectsBadInput(t *testing.T) {
	_, err := NewEngine(nil, DefaultParams())
	assert.ErrorIs(t, err, ErrInvalidParams)

	p := DefaultParams()
	p.Iterations = 0
	_, err = NewEngine(twoRequests(t, 10), p)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestSummaryCountsOperators(t *testing.T) {
	l := NewRunLog([]string{"random", "worst"}, []string{"greedy"})
	l.Append(Record{Iteration: 1, Destroy: 0, Outcome: NewBest, Feasible: true, CurrentCost: Cost{Distance: 10}, BestCost: Cost{Distance: 10}})
	l.Append(Record{Iteration: 2, Destroy: 1, Outcome: Rejected, Feasible: false, CurrentCost: Cost{Distance: 20}, BestCost: Cost{Distance: 10}})
	s := l.Summary()

	assert.Equal(t, 2, s.Iterations)
	assert.Equal(t, map[string]int{"random": 1, "worst": 1}, s.DestroySelects)
	assert.Equal(t, map[string]int{"greedy": 2}, s.RepairSelects)
	assert.Equal(t, 1, s.Outcomes["new_best"])
	assert.Equal(t, 1, s.Outcomes["rejected"])
	assert.Equal(t, 0, s.Outcomes["improving"])
	assert.InDelta(t, 50.0, s.FeasiblePercent, 1e-9)
	assert.InDelta(t, 15.0, s.MeanCost, 1e-9)
	assert.Equal(t, Cost{Distance: 20}, s.FinalCost)
}
