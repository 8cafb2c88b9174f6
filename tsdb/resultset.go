package tsdb

import (
	"fmt"
	"math"
	"sort"

	"github.com/wuttem/stss/common/tsutil"
)

// ResultSet is the in-memory concatenation of one key's buckets, trimmed to
// a query range. Buckets arrive sorted from storage and internally sorted by
// invariant, so the flattened columns are sorted without re-sorting.
type ResultSet struct {
	key        string
	valueType  ValueType
	timestamps []uint32
	values     valueColumn
}

// NewResultSet flattens the buckets' columns. Every bucket must belong to
// the given key and share one value type.
func NewResultSet(key string, buckets []*Bucket) (*ResultSet, error) {
	r := &ResultSet{key: key, valueType: RawFloat, values: &floatColumn{}}
	for i, b := range buckets {
		if b.key != key {
			return nil, fmt.Errorf("bucket has wrong key %q, want %q", b.key, key)
		}
		if i == 0 {
			r.valueType = b.valueType
			values, err := newValueColumn(b.valueType)
			if err != nil {
				return nil, err
			}
			r.values = values
		}
		if err := r.values.extend(b.values); err != nil {
			return nil, fmt.Errorf("bucket value type mismatch for key %q: %w", key, err)
		}
		r.timestamps = append(r.timestamps, b.timestamps...)
	}
	return r, nil
}

func (r *ResultSet) Key() string          { return r.key }
func (r *ResultSet) Len() int             { return len(r.timestamps) }
func (r *ResultSet) ValueType() ValueType { return r.valueType }

// TsMin - first sample timestamp, -1 when empty.
func (r *ResultSet) TsMin() int64 {
	if len(r.timestamps) == 0 {
		return -1
	}
	return int64(r.timestamps[0])
}

// TsMax - last sample timestamp, -1 when empty.
func (r *ResultSet) TsMax() int64 {
	if len(r.timestamps) == 0 {
		return -1
	}
	return int64(r.timestamps[len(r.timestamps)-1])
}

// At - the i-th sample.
func (r *ResultSet) At(i int) Point {
	return Point{Ts: r.timestamps[i], Value: r.values.at(i)}
}

// Trim shrinks the columns to the samples with tsMin <= ts <= tsMax.
func (r *ResultSet) Trim(tsMin, tsMax uint32) {
	low := sort.Search(len(r.timestamps), func(i int) bool { return r.timestamps[i] >= tsMin })
	high := sort.Search(len(r.timestamps), func(i int) bool { return r.timestamps[i] > tsMax })
	r.timestamps = r.timestamps[low:high]
	r.values = r.values.slice(low, high)
}

// All - iterator over every sample in order.
func (r *ResultSet) All() *Points {
	return &Points{rs: r, i: -1, end: len(r.timestamps)}
}

// Hourly - iterator over runs of consecutive samples sharing a UTC hour.
func (r *ResultSet) Hourly() *Groups {
	return &Groups{rs: r, left: tsutil.HourlyLeft, right: tsutil.HourlyRight}
}

// Daily - iterator over runs of consecutive samples sharing a UTC day.
func (r *ResultSet) Daily() *Groups {
	return &Groups{rs: r, left: tsutil.DailyLeft, right: tsutil.DailyRight}
}

// Points iterates (timestamp, value) pairs of a result set slice.
type Points struct {
	rs     *ResultSet
	i, end int
}

func (p *Points) Next() bool {
	p.i++
	return p.i < p.end
}

func (p *Points) Point() Point { return p.rs.At(p.i) }

// Slice drains the iterator into a slice.
func (p *Points) Slice() []Point {
	var out []Point
	for p.Next() {
		out = append(out, p.Point())
	}
	return out
}

// Groups iterates maximal runs of consecutive samples whose timestamps fall
// into one calendar window. Grouping is by adjacency, which is correct
// because the columns are sorted.
type Groups struct {
	rs          *ResultSet
	left, right func(uint32) uint32
	i, j        int
}

// Next advances to the next non-empty window. The previous window's Points
// iterator stays valid, it is bounded by fixed indexes.
func (g *Groups) Next() bool {
	g.i = g.j
	if g.i >= len(g.rs.timestamps) {
		return false
	}
	lo := g.left(g.rs.timestamps[g.i])
	hi := g.right(g.rs.timestamps[g.i])
	j := g.i
	for j < len(g.rs.timestamps) && g.rs.timestamps[j] >= lo && g.rs.timestamps[j] <= hi {
		j++
	}
	g.j = j
	return true
}

// Left - window left edge of the current group.
func (g *Groups) Left() uint32 { return g.left(g.rs.timestamps[g.i]) }

// Points - iterator over the current group's samples.
func (g *Groups) Points() *Points {
	return &Points{rs: g.rs, i: g.i - 1, end: g.j}
}

// AggregationPoint is one aggregated window: the window's left edge and the
// aggregate of its values.
type AggregationPoint struct {
	Ts    uint32
	Value float64
}

// Aggregations lazily folds each window of a group iteration.
type Aggregations struct {
	groups   *Groups
	function string
	cur      AggregationPoint
}

func (a *Aggregations) Next() bool {
	if !a.groups.Next() {
		return false
	}
	a.cur = AggregationPoint{
		Ts:    a.groups.Left(),
		Value: a.groups.rs.aggregate(a.groups.i, a.groups.j, a.function),
	}
	return true
}

func (a *Aggregations) Point() AggregationPoint { return a.cur }

// Slice drains the iterator into a slice.
func (a *Aggregations) Slice() []AggregationPoint {
	var out []AggregationPoint
	for a.Next() {
		out = append(out, a.Point())
	}
	return out
}

// Aggregation - lazy (window, aggregate) sequence over hourly or daily
// windows. Supported functions: sum, count, min, max, amp (max-min) and
// mean. Mean over an integer column uses integer division.
func (r *ResultSet) Aggregation(group, function string) (*Aggregations, error) {
	var groups *Groups
	switch group {
	case "hourly":
		groups = r.Hourly()
	case "daily":
		groups = r.Daily()
	default:
		return nil, fmt.Errorf("invalid aggregation group %q", group)
	}
	switch function {
	case "sum", "count", "min", "max", "amp", "mean":
	default:
		return nil, fmt.Errorf("invalid aggregation function %q", function)
	}
	switch r.valueType {
	case RawFloat, RawInt:
	default:
		return nil, fmt.Errorf("%w: aggregation needs a scalar value type, have %s", ErrInvalidValueType, r.valueType)
	}
	return &Aggregations{groups: groups, function: function}, nil
}

// aggregate folds values[i:j) with the named function. Integer columns are
// folded in integer arithmetic, so their mean truncates.
func (r *ResultSet) aggregate(i, j int, function string) float64 {
	if r.valueType == RawInt {
		return r.aggregateInt(i, j, function)
	}
	switch function {
	case "count":
		return float64(j - i)
	case "sum", "mean":
		sum := 0.0
		for k := i; k < j; k++ {
			sum += float64(r.values.at(k).Float)
		}
		if function == "sum" {
			return sum
		}
		return sum / float64(j-i)
	default: // min, max, amp
		min, max := math.Inf(1), math.Inf(-1)
		for k := i; k < j; k++ {
			v := float64(r.values.at(k).Float)
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		switch function {
		case "min":
			return min
		case "max":
			return max
		}
		return max - min
	}
}

func (r *ResultSet) aggregateInt(i, j int, function string) float64 {
	switch function {
	case "count":
		return float64(j - i)
	case "sum", "mean":
		var sum uint64
		for k := i; k < j; k++ {
			sum += uint64(r.values.at(k).Int)
		}
		if function == "sum" {
			return float64(sum)
		}
		return float64(sum / uint64(j-i))
	default: // min, max, amp
		min, max := uint32(math.MaxUint32), uint32(0)
		for k := i; k < j; k++ {
			v := r.values.at(k).Int
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		switch function {
		case "min":
			return float64(min)
		case "max":
			return float64(max)
		}
		return float64(max - min)
	}
}
