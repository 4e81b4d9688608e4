package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evroute/internal/problem"
)

func TestCheckEndpoints(t *testing.T) {
	in := twoRequests(t, 10)
	assert.False(t, Check(in, []int{1, 2, 0}).Feasible)
	assert.False(t, Check(in, []int{0, 1, 2}).Feasible)
	assert.False(t, Check(in, []int{0}).Feasible)
	assert.True(t, Check(in, []int{0, 0}).Feasible)
}

func TestCheckPrecedence(t *testing.T) {
	in := twoRequests(t, 10)
	assert.True(t, Check(in, []int{0, 1, 2, 0}).Feasible)
	assert.False(t, Check(in, []int{0, 2, 1, 0}).Feasible, "delivery before pickup")
	assert.False(t, Check(in, []int{0, 1, 0}).Feasible, "pickup never delivered")
}

func TestCheckCapacity(t *testing.T) {
	in := twoRequests(t, 5)
	assert.False(t, Check(in, []int{0, 1, 3, 2, 4, 0}).Feasible)
	assert.True(t, Check(in, []int{0, 1, 2, 3, 4, 0}).Feasible)
}

func TestCheckTimeWindows(t *testing.T) {
	in, err := problem.NewInstance("tw", []problem.Location{
		depot(0, 0),
		pickup(1, 1, 0, 1, 100, 200),
		delivery(1, 2, 0, 1, 0, 50),
		pickup(2, 3, 0, 1, 0, 0.5),
		delivery(2, 4, 0, 1, 0, 1000),
	}, 10, problem.EV{}, false)
	require.NoError(t, err)

	// waiting for the pickup window pushes the delivery past its end
	assert.False(t, Check(in, []int{0, 1, 2, 0}).Feasible)
	// pickup 2 is three units away but closes at 0.5
	assert.False(t, Check(in, []int{0, 3, 4, 0}).Feasible)
}

func TestCheckDepotHorizon(t *testing.T) {
	locs := []problem.Location{
		depot(0, 0),
		pickup(1, 10, 0, 1, 0, 1000),
		delivery(1, 20, 0, 1, 0, 1000),
	}
	locs[0].End = 30
	in, err := problem.NewInstance("horizon", locs, 10, problem.EV{}, false)
	require.NoError(t, err)
	assert.False(t, Check(in, []int{0, 1, 2, 0}).Feasible, "return at 40 is past the depot horizon")

	locs[0].End = 0
	in, err = problem.NewInstance("open", locs, 10, problem.EV{}, false)
	require.NoError(t, err)
	assert.True(t, Check(in, []int{0, 1, 2, 0}).Feasible)
}

func TestCheckSplicesRechargeStation(t *testing.T) {
	in := lineEV(t, 10, true)
	stops := []int{0, 1, 2, 0}
	orig := append([]int(nil), stops...)

	f := Check(in, stops)
	require.True(t, f.Feasible)
	assert.Equal(t, 1, f.Spliced)
	assert.Len(t, f.Stops, len(stops)+1)
	assert.Equal(t, []int{0, 1, 2, 3, 0}, f.Stops)
	assert.Equal(t, orig, stops, "input must not be modified")

	r := NewRoute(in, stops, []int{0})
	assert.True(t, r.Feasible())
	assert.Equal(t, 5, r.Len())
	assert.Equal(t, 1, r.Recharges())
	assert.InDelta(t, 4+4+1+9, r.Distance(), 1e-9)

	again := Check(in, r.Stops())
	assert.True(t, again.Feasible)
	assert.Zero(t, again.Spliced, "a committed sequence needs no further splice")
}

func TestCheckStationUnreachable(t *testing.T) {
	in := lineEV(t, 8, true)
	f := Check(in, []int{0, 1, 2, 0})
	assert.False(t, f.Feasible)
	assert.Equal(t, []int{0, 1, 2, 0}, f.Stops)
}

func TestCheckBatteryIgnoredWithoutEV(t *testing.T) {
	in := lineEV(t, 1, false)
	f := Check(in, []int{0, 1, 2, 0})
	assert.True(t, f.Feasible)
	assert.Zero(t, f.Spliced)
}

func TestGreedyInsert(t *testing.T) {
	in := twoRequests(t, 10)
	r := NewRoute(in, []int{0, 1, 2, 0}, []int{0})

	after := r.GreedyInsert(1)
	require.NotNil(t, after)
	assert.True(t, after.Feasible())
	assert.True(t, after.Serves(0))
	assert.True(t, after.Serves(1))
	assert.Equal(t, 6, after.Len())
	requireFeasibleStops(t, in, after.Stops())
	assert.InDelta(t, pathDistance(in, after.Stops()), after.Distance(), 1e-9)

	assert.Equal(t, 4, r.Len(), "receiver untouched")
	assert.False(t, r.Serves(1))
}

func TestGreedyInsertNone(t *testing.T) {
	in, err := problem.NewInstance("none", []problem.Location{
		depot(0, 0),
		pickup(1, 1, 0, 1, 0, 1000),
		delivery(1, 2, 0, 1, 0, 1000),
		pickup(2, 10, 10, 1, 0, 0.1),
		delivery(2, 0, 2, 1, 0, 1000),
	}, 10, problem.EV{}, false)
	require.NoError(t, err)

	r := NewRoute(in, []int{0, 1, 2, 0}, []int{0})
	assert.Nil(t, r.GreedyInsert(1))
}

func TestGreedyInsertOnlyReturnsFeasible(t *testing.T) {
	for _, ev := range []bool{false, true} {
		in := randomInstance(t, 7, 12, ev)
		r := NewRoute(in, []int{in.Depot, in.Depot}, nil)
		for req := range in.Requests {
			next := r.GreedyInsert(req)
			if next == nil {
				continue
			}
			require.True(t, next.Feasible())
			requireFeasibleStops(t, in, next.Stops())
			r = next
		}
	}
}

func TestRemoveRequestMatchesRecomputedCost(t *testing.T) {
	for _, ev := range []bool{false, true} {
		in := randomInstance(t, 11, 20, ev)
		s := NewSolution(in)
		s.GreedyInsertion()
		for _, r := range s.Routes() {
			for len(r.Requests()) > 0 {
				wasFeasible := r.Feasible()
				r.RemoveRequest(r.Requests()[0])
				assert.InDelta(t, pathDistance(in, r.Stops()), r.Distance(), 1e-9)
				if wasFeasible {
					requireFeasibleStops(t, in, r.Stops())
				}
			}
		}
	}
}

func TestRouteCopySharesNothingMutable(t *testing.T) {
	in := twoRequests(t, 10)
	r := NewRoute(in, []int{0, 1, 2, 3, 4, 0}, []int{0, 1})
	c := r.Copy()
	c.RemoveRequest(0)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 0}, r.Stops())
	assert.Equal(t, []int{0, 1}, r.Requests())
	assert.Equal(t, []int{0, 3, 4, 0}, c.Stops())
	assert.Equal(t, []int{1}, c.Requests())
}

func TestCostOrdering(t *testing.T) {
	feasible := Cost{Distance: 500}
	infeasible := Cost{Distance: 10, Infeasible: 1}
	assert.True(t, feasible.Less(infeasible))
	assert.False(t, infeasible.Less(feasible))
	assert.True(t, Cost{Distance: 1}.Less(Cost{Distance: 2}))
	assert.Equal(t, 10.0, Cost{Distance: 110}.Sub(Cost{Distance: 100}))
	assert.True(t, infeasible.Sub(feasible) > 1e300)
	assert.Equal(t, Cost{Distance: 510, Infeasible: 1}, feasible.Add(infeasible))
}
