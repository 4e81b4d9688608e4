package opt

import (
	"math"
	"math/rand"
	"sort"
)

// insertion is one feasible placement of a request. route is -1 when the
// request opens a new route.
type insertion struct {
	route int
	after *Route
	delta float64
}

// insertions lists every feasible placement of req: the cheapest position in
// each existing route, then a new single-request route.
func (s *Solution) insertions(req int) []insertion {
	var out []insertion
	for ri, r := range s.routes {
		if after := r.GreedyInsert(req); after != nil {
			out = append(out, insertion{route: ri, after: after, delta: after.distance - r.distance})
		}
	}
	if nr := newSingleRoute(s.in, req); nr.feasible {
		out = append(out, insertion{route: -1, after: nr, delta: nr.distance})
	}
	return out
}

func (s *Solution) commit(ui int, ins insertion) {
	if ins.route < 0 {
		s.routes = append(s.routes, ins.after)
	} else {
		s.routes[ins.route] = ins.after
	}
	s.serve(ui)
}

// RandomInsertion places uniformly drawn unserved requests into the first
// route, tried in random order, that can take them. A request no route
// accepts gets a route of its own, feasible or not.
func (s *Solution) RandomInsertion(rng *rand.Rand) {
	for len(s.unserved) > 0 {
		ui := rng.Intn(len(s.unserved))
		req := s.unserved[ui]

		candidates := make([]int, len(s.routes))
		for i := range candidates {
			candidates[i] = i
		}
		placed := false
		for len(candidates) > 0 {
			ci := rng.Intn(len(candidates))
			ri := candidates[ci]
			if after := s.routes[ri].GreedyInsert(req); after != nil {
				s.commit(ui, insertion{route: ri, after: after})
				placed = true
				break
			}
			candidates = append(candidates[:ci], candidates[ci+1:]...)
		}
		if !placed {
			s.commit(ui, insertion{route: -1, after: newSingleRoute(s.in, req)})
		}
	}
	s.ComputeCost()
}

// GreedyInsertion repeatedly commits the globally cheapest feasible
// insertion. Requests that fit nowhere stay unserved.
func (s *Solution) GreedyInsertion() {
	for len(s.unserved) > 0 {
		bestUI, best := -1, insertion{delta: math.Inf(1)}
		for ui, req := range s.unserved {
			for _, ins := range s.insertions(req) {
				if ins.delta < best.delta {
					bestUI, best = ui, ins
				}
			}
		}
		if bestUI < 0 {
			break
		}
		s.commit(bestUI, best)
	}
	s.ComputeCost()
}

// RegretInsertion inserts, one at a time, the request with the largest gap
// between its cheapest and k-th cheapest placement, at its cheapest
// placement. Ties go to the smaller cheapest cost.
func (s *Solution) RegretInsertion(k int) {
	if k < 2 {
		k = 2
	}
	for len(s.unserved) > 0 {
		bestUI := -1
		var best insertion
		bestRegret := -1.0
		for ui, req := range s.unserved {
			opts := s.insertions(req)
			if len(opts) == 0 {
				continue
			}
			sort.SliceStable(opts, func(i, j int) bool { return opts[i].delta < opts[j].delta })
			kth := k - 1
			if kth >= len(opts) {
				kth = len(opts) - 1
			}
			regret := opts[kth].delta - opts[0].delta
			if regret > bestRegret || (regret == bestRegret && opts[0].delta < best.delta) {
				bestUI, best, bestRegret = ui, opts[0], regret
			}
		}
		if bestUI < 0 {
			break
		}
		s.commit(bestUI, best)
	}
	s.ComputeCost()
}
