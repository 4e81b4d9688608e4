// Package problem holds the immutable description of a pickup-and-delivery
// instance: locations, paired requests, vehicle and battery parameters and
// the precomputed distance matrix every route evaluation reads from.
package problem

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrUnmatched is returned when a pickup or delivery has no partner.
	ErrUnmatched = errors.New("unmatched pickup/delivery")
	// ErrFormat is returned for malformed instance data.
	ErrFormat = errors.New("malformed instance")
)

// Kind classifies a location.
type Kind int

const (
	Depot Kind = iota
	Pickup
	Delivery
	Recharge
)

func (k Kind) String() string {
	switch k {
	case Depot:
		return "depot"
	case Pickup:
		return "pickup"
	case Delivery:
		return "delivery"
	case Recharge:
		return "recharge"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Location is a stop a vehicle can visit.
type Location struct {
	RequestID int // 0 for depot and recharge stations
	X, Y      float64
	Demand    int // positive on pickup, negative on delivery
	Start     float64
	End       float64
	Service   float64
	Kind      Kind
	Index     int // row/column in the distance matrix

	// Request is the position of the owning request in Instance.Requests, -1 otherwise.
	Request int
}

func (l Location) String() string {
	return fmt.Sprintf("(%d,%s)", l.RequestID, l.Kind)
}

// Request pairs a pickup with its delivery. Pickup and Delivery are location indices.
type Request struct {
	ID       int
	Pickup   int
	Delivery int
}

// EV carries the battery model parameters.
type EV struct {
	BatteryCapacity float64 `json:"batteryCapacity" yaml:"batteryCapacity"`
	ConsumptionRate float64 `json:"consumptionRate" yaml:"consumptionRate"`
	ChargingRate    float64 `json:"chargingRate" yaml:"chargingRate"`
	AverageVelocity float64 `json:"averageVelocity" yaml:"averageVelocity"`
}

// Instance is shared read-only by every route and solution of a run.
type Instance struct {
	Name      string
	Locations []Location
	Requests  []Request
	Depot     int
	Stations  []int
	Capacity  int
	EV        EV
	IsEV      bool

	dist [][]float64
}

// NewInstance indexes locs by position, pairs pickups with deliveries by
// RequestID and precomputes the Euclidean distance matrix. Exactly one depot
// is required.
func NewInstance(name string, locs []Location, capacity int, ev EV, isEV bool) (*Instance, error) {
	in := &Instance{
		Name:      name,
		Locations: make([]Location, len(locs)),
		Depot:     -1,
		Capacity:  capacity,
		EV:        ev,
		IsEV:      isEV,
	}
	pickups := map[int]int{}
	deliveries := map[int]int{}
	for i, l := range locs {
		l.Index = i
		l.Request = -1
		in.Locations[i] = l
		switch l.Kind {
		case Depot:
			if in.Depot >= 0 {
				return nil, fmt.Errorf("new instance %s: second depot at %d: %w", name, i, ErrFormat)
			}
			in.Depot = i
		case Recharge:
			in.Stations = append(in.Stations, i)
		case Pickup:
			if _, dup := pickups[l.RequestID]; dup {
				return nil, fmt.Errorf("new instance %s: duplicate pickup for request %d: %w", name, l.RequestID, ErrFormat)
			}
			pickups[l.RequestID] = i
		case Delivery:
			if _, dup := deliveries[l.RequestID]; dup {
				return nil, fmt.Errorf("new instance %s: duplicate delivery for request %d: %w", name, l.RequestID, ErrFormat)
			}
			deliveries[l.RequestID] = i
		default:
			return nil, fmt.Errorf("new instance %s: location %d has %s: %w", name, i, l.Kind, ErrFormat)
		}
	}
	if in.Depot < 0 {
		return nil, fmt.Errorf("new instance %s: no depot: %w", name, ErrFormat)
	}
	if len(pickups) != len(deliveries) {
		return nil, fmt.Errorf("new instance %s: %d pickups, %d deliveries: %w", name, len(pickups), len(deliveries), ErrUnmatched)
	}
	ids := make([]int, 0, len(pickups))
	for id := range pickups {
		if _, ok := deliveries[id]; !ok {
			return nil, fmt.Errorf("new instance %s: request %d has no delivery: %w", name, id, ErrUnmatched)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for ri, id := range ids {
		p, d := pickups[id], deliveries[id]
		in.Locations[p].Request = ri
		in.Locations[d].Request = ri
		in.Requests = append(in.Requests, Request{ID: id, Pickup: p, Delivery: d})
	}

	n := len(in.Locations)
	in.dist = make([][]float64, n)
	for i := range in.dist {
		in.dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := Euclidean(in.Locations[i], in.Locations[j])
			in.dist[i][j] = d
			in.dist[j][i] = d
		}
	}
	return in, nil
}

// Dist returns the matrix distance between two location indices.
func (in *Instance) Dist(a, b int) float64 { return in.dist[a][b] }

// Euclidean returns the straight-line distance between two locations.
func Euclidean(a, b Location) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// NearestStation returns the recharge station closest to from, or -1 when
// the instance has none.
func (in *Instance) NearestStation(from int) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for _, s := range in.Stations {
		if d := in.dist[from][s]; d < bestDist {
			best, bestDist = s, d
		}
	}
	return best, bestDist
}

func (in *Instance) String() string {
	return fmt.Sprintf("PDPTW problem %s with %d requests and a vehicle capacity of %d", in.Name, len(in.Requests), in.Capacity)
}
