package opt

import (
	"math"
	"math/rand"
	"sort"
)

// RandomRemoval removes up to n uniformly drawn served requests.
func (s *Solution) RandomRemoval(n int, rng *rand.Rand) {
	for i := 0; i < n && len(s.served) > 0; i++ {
		s.RemoveRequest(s.served[rng.Intn(len(s.served))])
	}
	s.ComputeCost()
}

// WorstRemoval removes the n requests whose removal saves the most cost.
func (s *Solution) WorstRemoval(n int) {
	if n <= 0 || len(s.served) == 0 {
		return
	}
	type saving struct {
		req   int
		value float64
	}
	current := s.ComputeCost()
	savings := make([]saving, 0, len(s.served))
	for _, req := range s.served {
		c := s.Clone()
		c.RemoveRequest(req)
		savings = append(savings, saving{req: req, value: current.Sub(c.ComputeCost())})
	}
	sort.SliceStable(savings, func(i, j int) bool { return savings[i].value > savings[j].value })
	for i := 0; i < n && i < len(savings); i++ {
		s.RemoveRequest(savings[i].req)
	}
	s.ComputeCost()
}

// ShawRemoval removes a random seed request and the n-1 requests most
// related to it. Relatedness weighs pickup distance against the gap between
// pickup window starts; lower is more related.
func (s *Solution) ShawRemoval(n int, rng *rand.Rand) {
	if n <= 0 || len(s.served) == 0 {
		return
	}
	seed := s.served[rng.Intn(len(s.served))]
	sp := s.in.Locations[s.in.Requests[seed].Pickup]

	type pair struct {
		req   int
		score float64
	}
	rel := make([]pair, 0, len(s.served))
	for _, req := range s.served {
		if req == seed {
			continue
		}
		p := s.in.Locations[s.in.Requests[req].Pickup]
		score := 1.0*s.in.Dist(sp.Index, p.Index) + 0.5*math.Abs(sp.Start-p.Start)
		rel = append(rel, pair{req: req, score: score})
	}
	sort.SliceStable(rel, func(i, j int) bool { return rel[i].score < rel[j].score })

	s.RemoveRequest(seed)
	for i := 0; i < len(rel) && i < n-1; i++ {
		s.RemoveRequest(rel[i].req)
	}
	s.ComputeCost()
}

// TimeOrientedRemoval removes the n served requests with the tightest pickup
// time windows.
func (s *Solution) TimeOrientedRemoval(n int) {
	if n <= 0 || len(s.served) == 0 {
		return
	}
	order := append([]int(nil), s.served...)
	width := func(req int) float64 {
		p := s.in.Locations[s.in.Requests[req].Pickup]
		return p.End - p.Start
	}
	sort.SliceStable(order, func(i, j int) bool { return width(order[i]) < width(order[j]) })
	for i := 0; i < n && i < len(order); i++ {
		s.RemoveRequest(order[i])
	}
	s.ComputeCost()
}
