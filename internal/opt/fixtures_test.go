package opt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"evroute/internal/problem"
)

func depot(x, y float64) problem.Location {
	return problem.Location{X: x, Y: y, Kind: problem.Depot}
}

func pickup(id int, x, y float64, demand int, start, end float64) problem.Location {
	return problem.Location{RequestID: id, X: x, Y: y, Demand: demand, Start: start, End: end, Kind: problem.Pickup}
}

func delivery(id int, x, y float64, demand int, start, end float64) problem.Location {
	return problem.Location{RequestID: id, X: x, Y: y, Demand: -demand, Start: start, End: end, Kind: problem.Delivery}
}

func station(x, y float64) problem.Location {
	return problem.Location{X: x, Y: y, Kind: problem.Recharge}
}

// twoRequests: depot at the origin and two requests whose windows span the
// whole horizon.
func twoRequests(t *testing.T, capacity int) *problem.Instance {
	t.Helper()
	in, err := problem.NewInstance("two", []problem.Location{
		depot(0, 0),
		pickup(1, 1, 0, 5, 0, 1000),
		delivery(1, 2, 0, 5, 0, 1000),
		pickup(2, 0, 1, 5, 0, 1000),
		delivery(2, 0, 2, 5, 0, 1000),
	}, capacity, problem.EV{}, false)
	require.NoError(t, err)
	return in
}

// lineEV: depot (0,0), pickup (4,0), delivery (8,0) and one station at
// (9,0). The return leg from the delivery needs a recharge.
func lineEV(t *testing.T, battery float64, ev bool) *problem.Instance {
	t.Helper()
	in, err := problem.NewInstance("line", []problem.Location{
		depot(0, 0),
		pickup(1, 4, 0, 1, 0, 1000),
		delivery(1, 8, 0, 1, 0, 1000),
		station(9, 0),
	}, 10, problem.EV{BatteryCapacity: battery, ConsumptionRate: 1, ChargingRate: 1, AverageVelocity: 1}, ev)
	require.NoError(t, err)
	return in
}

// randomInstance builds n requests scattered over a 100x100 square with a
// mix of wide and tight windows and four stations.
func randomInstance(t *testing.T, seed int64, n int, ev bool) *problem.Instance {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	locs := []problem.Location{depot(50, 50)}
	for _, s := range [][2]float64{{25, 25}, {75, 25}, {25, 75}, {75, 75}} {
		locs = append(locs, station(s[0], s[1]))
	}
	for id := 1; id <= n; id++ {
		demand := 1 + rng.Intn(10)
		ps, pe := 0.0, 5000.0
		if rng.Intn(3) == 0 {
			ps = rng.Float64() * 300
			pe = ps + 100 + rng.Float64()*200
		}
		p := pickup(id, rng.Float64()*100, rng.Float64()*100, demand, ps, pe)
		p.Service = 5
		d := delivery(id, rng.Float64()*100, rng.Float64()*100, demand, 0, 5000)
		d.Service = 5
		locs = append(locs, p, d)
	}
	in, err := problem.NewInstance("random", locs, 30,
		problem.EV{BatteryCapacity: 150, ConsumptionRate: 1, ChargingRate: 0.5, AverageVelocity: 1}, ev)
	require.NoError(t, err)
	return in
}

func requireFeasibleStops(t *testing.T, in *problem.Instance, stops []int) {
	t.Helper()
	f := Check(in, stops)
	require.True(t, f.Feasible, "stops %v", stops)
}

// requirePartition asserts served and unserved split every request exactly
// once and that routes own exactly the served ones.
func requirePartition(t *testing.T, s *Solution) {
	t.Helper()
	seen := make([]int, len(s.in.Requests))
	for _, r := range s.Served() {
		seen[r]++
	}
	for _, r := range s.Unserved() {
		seen[r]++
	}
	for req, n := range seen {
		require.Equal(t, 1, n, "request %d appears %d times in served+unserved", req, n)
	}
	owned := map[int]int{}
	for _, rt := range s.Routes() {
		for _, req := range rt.Requests() {
			owned[req]++
		}
	}
	require.Len(t, owned, len(s.Served()))
	for _, req := range s.Served() {
		require.Equal(t, 1, owned[req], "served request %d owned by %d routes", req, owned[req])
	}
}
