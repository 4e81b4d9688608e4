package opt

import (
	"fmt"
	"strings"

	"evroute/internal/problem"
)

// Solution partitions the instance's requests into served (owned by one of
// the routes) and unserved. Requests are referred to by index into
// Instance.Requests.
type Solution struct {
	in       *problem.Instance
	routes   []*Route
	served   []int
	unserved []int
	cost     Cost
}

// NewSolution returns a solution with no routes and every request unserved.
func NewSolution(in *problem.Instance) *Solution {
	s := &Solution{in: in, unserved: make([]int, len(in.Requests))}
	for i := range s.unserved {
		s.unserved[i] = i
	}
	return s
}

func (s *Solution) Instance() *problem.Instance { return s.in }
func (s *Solution) Routes() []*Route            { return s.routes }
func (s *Solution) Served() []int               { return s.served }
func (s *Solution) Unserved() []int             { return s.unserved }

// Cost returns the cost cached by the last ComputeCost.
func (s *Solution) Cost() Cost { return s.cost }

// ComputeCost sums the route costs and caches the result.
func (s *Solution) ComputeCost() Cost {
	var c Cost
	for _, r := range s.routes {
		c = c.Add(r.Cost())
	}
	s.cost = c
	return c
}

// Clone copies the route headers and the request partition. Stop sequences
// are shared until a route is rebuilt.
func (s *Solution) Clone() *Solution {
	c := &Solution{
		in:       s.in,
		routes:   make([]*Route, len(s.routes)),
		served:   append([]int(nil), s.served...),
		unserved: append([]int(nil), s.unserved...),
		cost:     s.cost,
	}
	for i, r := range s.routes {
		c.routes[i] = r.Copy()
	}
	return c
}

// RemoveRequest moves a served request to unserved, dropping its stops from
// the owning route. A route left without requests is discarded. Unknown or
// unserved requests are ignored.
func (s *Solution) RemoveRequest(req int) {
	at := indexOf(s.served, req)
	if at < 0 {
		return
	}
	s.served = append(s.served[:at], s.served[at+1:]...)
	s.unserved = append(s.unserved, req)
	for i, r := range s.routes {
		if !r.Serves(req) {
			continue
		}
		r.RemoveRequest(req)
		if len(r.requests) == 0 {
			s.routes = append(s.routes[:i], s.routes[i+1:]...)
		}
		return
	}
}

// serve moves unserved[ui] to served.
func (s *Solution) serve(ui int) {
	req := s.unserved[ui]
	s.unserved = append(s.unserved[:ui], s.unserved[ui+1:]...)
	s.served = append(s.served, req)
}

func indexOf(xs []int, x int) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}

func (s *Solution) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Solution cost=%s served=%d unserved=%d\n", s.cost, len(s.served), len(s.unserved))
	for _, r := range s.routes {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	return b.String()
}
