package opt

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Record is the immutable log entry of one iteration. Weights are taken
// after adaptation.
type Record struct {
	Iteration        int           `json:"iteration"`
	CurrentCost      Cost          `json:"currentCost"`
	BestCost         Cost          `json:"bestCost"`
	Temperature      float64       `json:"temperature"`
	Destroy          int           `json:"destroy"`
	Repair           int           `json:"repair"`
	DestroyWeights   []float64     `json:"destroyWeights"`
	RepairWeights    []float64     `json:"repairWeights"`
	NeighborhoodSize int           `json:"neighborhoodSize"`
	Outcome          Outcome       `json:"outcome"`
	Feasible         bool          `json:"feasible"`
	Duration         time.Duration `json:"durationNs"`
}

// RunLog is the append-only history of a run.
type RunLog struct {
	DestroyNames []string
	RepairNames  []string
	Records      []Record
	Started      time.Time
	Elapsed      time.Duration
}

func NewRunLog(destroy, repair []string) *RunLog {
	return &RunLog{DestroyNames: destroy, RepairNames: repair, Started: time.Now()}
}

func (l *RunLog) Append(r Record) { l.Records = append(l.Records, r) }

func (l *RunLog) finish() { l.Elapsed = time.Since(l.Started) }

// Summary aggregates a run log.
type Summary struct {
	Iterations      int            `json:"iterations"`
	Outcomes        map[string]int `json:"outcomes"`
	DestroySelects  map[string]int `json:"destroySelects"`
	RepairSelects   map[string]int `json:"repairSelects"`
	FeasiblePercent float64        `json:"feasiblePercent"` // of tentative solutions
	BestCost        Cost           `json:"bestCost"`
	FinalCost       Cost           `json:"finalCost"`
	MeanCost        float64        `json:"meanCost"` // mean current distance over feasible iterations
	Elapsed         time.Duration  `json:"elapsedNs"`
}

func (l *RunLog) Summary() Summary {
	s := Summary{
		Iterations:     len(l.Records),
		Outcomes:       map[string]int{},
		DestroySelects: map[string]int{},
		RepairSelects:  map[string]int{},
		Elapsed:        l.Elapsed,
	}
	for _, o := range Outcomes {
		s.Outcomes[o.String()] = 0
	}
	if len(l.Records) == 0 {
		return s
	}
	var feasible int
	var current []float64
	for _, r := range l.Records {
		s.Outcomes[r.Outcome.String()]++
		s.DestroySelects[opName(l.DestroyNames, r.Destroy)]++
		s.RepairSelects[opName(l.RepairNames, r.Repair)]++
		if r.Feasible {
			feasible++
		}
		if r.CurrentCost.Feasible() {
			current = append(current, r.CurrentCost.Distance)
		}
	}
	s.FeasiblePercent = 100 * float64(feasible) / float64(len(l.Records))
	last := l.Records[len(l.Records)-1]
	s.BestCost = last.BestCost
	s.FinalCost = last.CurrentCost
	if len(current) > 0 {
		s.MeanCost = stat.Mean(current, nil)
	}
	return s
}

func opName(names []string, i int) string {
	if i >= 0 && i < len(names) {
		return names[i]
	}
	return "unknown"
}
