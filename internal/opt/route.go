package opt

import (
	"fmt"
	"math"
	"strings"

	"evroute/internal/problem"
)

// Feasibility is the outcome of checking a stop sequence. When the battery
// model splices recharge stations into the sequence, Stops holds the
// augmented sequence; otherwise it is the input slice itself. Check never
// modifies its input, committing Stops is up to the caller.
type Feasibility struct {
	Feasible bool
	Stops    []int
	Spliced  int
}

// Check scans stops once, propagating arrival time, load, pickup/delivery
// precedence and, on EV instances, battery level.
func Check(in *problem.Instance, stops []int) Feasibility {
	n := len(stops)
	if n < 2 || stops[0] != in.Depot || stops[n-1] != in.Depot {
		return Feasibility{Stops: stops}
	}

	var (
		out      = stops
		spliced  int
		t        float64
		load     int
		open     int
		picked   = make([]bool, len(in.Requests))
		battery  = in.EV.BatteryCapacity
		rate     = in.EV.ConsumptionRate
		capacity = in.EV.BatteryCapacity
	)
	fail := Feasibility{Stops: stops}

	prev := stops[0]
	for k := 1; k < n; k++ {
		cur := stops[k]
		loc := in.Locations[cur]
		depart := t + in.Locations[prev].Service
		d := in.Dist(prev, cur)
		arrival := math.Max(loc.Start, depart+d)

		if in.IsEV {
			if battery-d*rate < 0 && loc.Kind != problem.Recharge {
				s, sd := in.NearestStation(prev)
				if s < 0 || battery-sd*rate < 0 {
					return fail
				}
				// detour: drive to the station and charge to full
				tt := depart + sd
				battery -= sd * rate
				tt += (capacity - battery) * in.EV.ChargingRate
				battery = capacity

				d2 := in.Dist(s, cur)
				if battery-d2*rate < 0 {
					return fail
				}
				arrival = math.Max(loc.Start, tt+in.Locations[s].Service+d2)
				battery -= d2 * rate

				if spliced == 0 {
					out = make([]int, 0, len(stops)+1)
				}
				// out mirrors stops up to position k plus earlier splices
				out = append(out, stops[len(out)-spliced:k]...)
				out = append(out, s)
				spliced++
			} else {
				battery -= d * rate
			}
		}

		if hasWindow(loc) && arrival > loc.End {
			return fail
		}
		t = arrival

		load += loc.Demand
		if load > in.Capacity {
			return fail
		}

		switch loc.Kind {
		case problem.Pickup:
			if !picked[loc.Request] {
				picked[loc.Request] = true
				open++
			}
		case problem.Delivery:
			if !picked[loc.Request] {
				return fail
			}
			picked[loc.Request] = false
			open--
		case problem.Recharge:
			if in.IsEV && battery < capacity {
				t += (capacity - battery) * in.EV.ChargingRate
				battery = capacity
			}
		}
		prev = cur
	}
	if open > 0 {
		return fail
	}
	if spliced > 0 {
		out = append(out, stops[len(out)-spliced:]...)
	}
	return Feasibility{Feasible: true, Stops: out, Spliced: spliced}
}

// hasWindow reports whether arrival at loc is bounded. Recharge stations are
// always open; a depot without a horizon (End 0) is treated as unbounded.
func hasWindow(loc problem.Location) bool {
	switch loc.Kind {
	case problem.Recharge:
		return false
	case problem.Depot:
		return loc.End > 0
	}
	return true
}

func pathDistance(in *problem.Instance, stops []int) float64 {
	total := 0.0
	for i := 1; i < len(stops); i++ {
		total += in.Dist(stops[i-1], stops[i])
	}
	return total
}

// Route is one vehicle's depot-to-depot sequence. The stop and request
// slices are never written after construction: every change builds new
// slices, so copies of a Route can share them safely.
type Route struct {
	in       *problem.Instance
	stops    []int // location indices
	requests []int // request indices
	feasible bool
	distance float64
}

// NewRoute checks stops and commits any recharge stations the check spliced
// in. The route takes ownership of both slices.
func NewRoute(in *problem.Instance, stops, requests []int) *Route {
	f := Check(in, stops)
	return &Route{
		in:       in,
		stops:    f.Stops,
		requests: requests,
		feasible: f.Feasible,
		distance: pathDistance(in, f.Stops),
	}
}

func newSingleRoute(in *problem.Instance, req int) *Route {
	r := in.Requests[req]
	return NewRoute(in, []int{in.Depot, r.Pickup, r.Delivery, in.Depot}, []int{req})
}

func (r *Route) Stops() []int      { return r.stops }
func (r *Route) Requests() []int   { return r.requests }
func (r *Route) Feasible() bool    { return r.feasible }
func (r *Route) Distance() float64 { return r.distance }
func (r *Route) Len() int          { return len(r.stops) }

// Recharges counts the recharge station visits on the route.
func (r *Route) Recharges() int {
	n := 0
	for _, s := range r.stops {
		if r.in.Locations[s].Kind == problem.Recharge {
			n++
		}
	}
	return n
}

// Cost tags the route distance with its feasibility.
func (r *Route) Cost() Cost {
	if r.feasible {
		return Cost{Distance: r.distance}
	}
	return Cost{Distance: r.distance, Infeasible: 1}
}

// Serves reports whether request index req is on this route.
func (r *Route) Serves(req int) bool {
	for _, q := range r.requests {
		if q == req {
			return true
		}
	}
	return false
}

// Copy returns an independent route sharing the immutable slices.
func (r *Route) Copy() *Route {
	c := *r
	return &c
}

// RemoveRequest drops the request and its two stops and recomputes the
// distance. Removal cannot break a feasible route, so feasibility is only
// re-derived when the route was already infeasible.
func (r *Route) RemoveRequest(req int) {
	q := r.in.Requests[req]
	stops := make([]int, 0, len(r.stops))
	for _, s := range r.stops {
		if s != q.Pickup && s != q.Delivery {
			stops = append(stops, s)
		}
	}
	requests := make([]int, 0, len(r.requests))
	for _, x := range r.requests {
		if x != req {
			requests = append(requests, x)
		}
	}
	r.requests = requests
	if !r.feasible {
		f := Check(r.in, stops)
		r.feasible = f.Feasible
		stops = f.Stops
	}
	r.stops = stops
	r.distance = pathDistance(r.in, stops)
}

// GreedyInsert tries every pickup position i and delivery position j > i
// and returns the cheapest feasible result, or nil when none is feasible.
// The receiver is left untouched.
func (r *Route) GreedyInsert(req int) *Route {
	q := r.in.Requests[req]
	requests := make([]int, len(r.requests), len(r.requests)+1)
	copy(requests, r.requests)
	requests = append(requests, req)

	var best *Route
	n := len(r.stops)
	for i := 1; i < n; i++ {
		for j := i + 1; j <= n; j++ {
			// stops[:i] p stops[i:j-1] d stops[j-1:]
			cand := make([]int, 0, n+2)
			cand = append(cand, r.stops[:i]...)
			cand = append(cand, q.Pickup)
			cand = append(cand, r.stops[i:j-1]...)
			cand = append(cand, q.Delivery)
			cand = append(cand, r.stops[j-1:]...)

			f := Check(r.in, cand)
			if !f.Feasible {
				continue
			}
			dist := pathDistance(r.in, f.Stops)
			if best == nil || dist < best.distance {
				best = &Route{in: r.in, stops: f.Stops, requests: requests, feasible: true, distance: dist}
			}
		}
	}
	return best
}

func (r *Route) String() string {
	var b strings.Builder
	b.WriteString("Route ")
	for _, s := range r.stops {
		b.WriteString(r.in.Locations[s].String())
	}
	fmt.Fprintf(&b, " dist=%.2f", r.distance)
	if !r.feasible {
		b.WriteString(" infeasible")
	}
	return b.String()
}
