package problem

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// columnWidth is the fixed width of every column in a record row.
const columnWidth = 13

// ReadOptions tune how a file is turned into an Instance.
type ReadOptions struct {
	// EV enables the battery model. Files carry the battery parameters either way.
	EV bool
}

// ReadFile opens path and parses it with Read. The instance is named after the file.
func ReadFile(path string, opts ReadOptions) (*Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read instance: %w", err)
	}
	defer f.Close()
	return Read(f, filepath.Base(path), opts)
}

// Read parses the fixed-width instance format: a header row, one record per
// depot (D…), customer (C…, typed cp/cd with a partner id) and recharge
// station (S…), then a parameter block of "/value/" lines giving battery
// capacity, load capacity, consumption rate, charging rate and velocity.
func Read(r io.Reader, name string, opts ReadOptions) (*Instance, error) {
	sc := bufio.NewScanner(r)
	var (
		locs   []Location
		params []float64
		lineNo int

		nextID             = 1
		pendingPickups     = map[string]int{} // own id -> index in locs
		pendingDeliveries  = map[string]int{}
		sawHeader, sawDepo bool
	)
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !sawHeader {
			sawHeader = true
			continue
		}
		if strings.Count(line, "/") >= 2 {
			v, err := paramValue(line)
			if err != nil {
				return nil, fmt.Errorf("read instance %s line %d: %w", name, lineNo, err)
			}
			params = append(params, v)
			continue
		}

		cols := splitColumns(line)
		if len(cols) < 4 {
			return nil, fmt.Errorf("read instance %s line %d: %d columns: %w", name, lineNo, len(cols), ErrFormat)
		}
		id := cols[0]
		x, err := parseNum(cols[2])
		if err != nil {
			return nil, fmt.Errorf("read instance %s line %d: x: %w", name, lineNo, err)
		}
		y, err := parseNum(cols[3])
		if err != nil {
			return nil, fmt.Errorf("read instance %s line %d: y: %w", name, lineNo, err)
		}

		switch {
		case strings.HasPrefix(id, "D"):
			if sawDepo {
				return nil, fmt.Errorf("read instance %s line %d: second depot: %w", name, lineNo, ErrFormat)
			}
			sawDepo = true
			loc := Location{X: x, Y: y, Kind: Depot}
			if len(cols) >= 7 {
				if loc.Start, err = parseNum(cols[5]); err != nil {
					return nil, fmt.Errorf("read instance %s line %d: depot ready time: %w", name, lineNo, err)
				}
				if loc.End, err = parseNum(cols[6]); err != nil {
					return nil, fmt.Errorf("read instance %s line %d: depot due date: %w", name, lineNo, err)
				}
			}
			locs = append(locs, loc)
		case strings.HasPrefix(id, "S"):
			locs = append(locs, Location{X: x, Y: y, Kind: Recharge})
		case strings.HasPrefix(id, "C"):
			if len(cols) < 9 {
				return nil, fmt.Errorf("read instance %s line %d: customer row needs 9 columns: %w", name, lineNo, ErrFormat)
			}
			nums := make([]float64, 4)
			for k := range nums {
				if nums[k], err = parseNum(cols[4+k]); err != nil {
					return nil, fmt.Errorf("read instance %s line %d: column %d: %w", name, lineNo, 5+k, err)
				}
			}
			loc := Location{X: x, Y: y, Demand: int(nums[0]), Start: nums[1], End: nums[2], Service: nums[3]}
			partner := cols[8]
			var own, other map[string]int
			switch cols[1] {
			case "cp":
				loc.Kind = Pickup
				own, other = pendingPickups, pendingDeliveries
			case "cd":
				loc.Kind = Delivery
				own, other = pendingDeliveries, pendingPickups
			default:
				return nil, fmt.Errorf("read instance %s line %d: customer type %q: %w", name, lineNo, cols[1], ErrFormat)
			}
			if pi, ok := other[partner]; ok {
				delete(other, partner)
				loc.RequestID = locs[pi].RequestID
			} else {
				loc.RequestID = nextID
				nextID++
				own[id] = len(locs)
			}
			locs = append(locs, loc)
		default:
			return nil, fmt.Errorf("read instance %s line %d: unknown record %q: %w", name, lineNo, id, ErrFormat)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read instance %s: %w", name, err)
	}
	if n := len(pendingPickups) + len(pendingDeliveries); n > 0 {
		return nil, fmt.Errorf("read instance %s: %d customers without partner: %w", name, n, ErrUnmatched)
	}
	if len(params) < 5 {
		return nil, fmt.Errorf("read instance %s: parameter block has %d values, want 5: %w", name, len(params), ErrFormat)
	}
	params = params[len(params)-5:]
	ev := EV{
		BatteryCapacity: params[0],
		ConsumptionRate: params[2],
		ChargingRate:    params[3],
		AverageVelocity: params[4],
	}
	return NewInstance(name, locs, int(params[1]), ev, opts.EV)
}

func splitColumns(line string) []string {
	var cols []string
	for i := 0; i < len(line); i += columnWidth {
		end := i + columnWidth
		if end > len(line) {
			end = len(line)
		}
		cols = append(cols, strings.TrimSpace(line[i:end]))
	}
	return cols
}

// paramValue extracts v from a line shaped like "Q Vehicle fuel tank capacity /79.69/".
func paramValue(line string) (float64, error) {
	last := strings.LastIndex(line, "/")
	first := strings.LastIndex(line[:last], "/")
	return parseNum(line[first+1 : last])
}

func parseNum(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, ErrFormat)
	}
	return v, nil
}
