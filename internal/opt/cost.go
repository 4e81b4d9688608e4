package opt

import (
	"fmt"
	"math"
)

// Cost is the tagged objective of a route or solution: travel distance plus
// the number of infeasible routes it contains. Any infeasible route
// dominates distance, so costs order lexicographically.
type Cost struct {
	Distance   float64 `json:"distance"`
	Infeasible int     `json:"infeasibleRoutes"`
}

// Feasible reports whether no route is infeasible.
func (c Cost) Feasible() bool { return c.Infeasible == 0 }

// Less orders fewer infeasible routes first, then shorter distance.
func (c Cost) Less(o Cost) bool {
	if c.Infeasible != o.Infeasible {
		return c.Infeasible < o.Infeasible
	}
	return c.Distance < o.Distance
}

// Add sums two costs.
func (c Cost) Add(o Cost) Cost {
	return Cost{Distance: c.Distance + o.Distance, Infeasible: c.Infeasible + o.Infeasible}
}

// Sub returns c - o as a scalar. A difference in infeasible route count is
// unbounded, so it maps to ±Inf.
func (c Cost) Sub(o Cost) float64 {
	switch {
	case c.Infeasible > o.Infeasible:
		return math.Inf(1)
	case c.Infeasible < o.Infeasible:
		return math.Inf(-1)
	}
	return c.Distance - o.Distance
}

func (c Cost) String() string {
	if c.Feasible() {
		return fmt.Sprintf("%.2f", c.Distance)
	}
	return fmt.Sprintf("infeasible(%d routes, %.2f)", c.Infeasible, c.Distance)
}
