package tsdb

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/wuttem/stss/common/tsutil"
)

// BucketType tags how a bucket's time extent is bounded: by sample count
// (Dynamic) or by a UTC calendar window. It is fixed at bucket creation and
// persisted in the bucket header.
type BucketType uint16

const (
	Dynamic BucketType = 1 + iota
	Hourly
	Daily
	Weekly
	Monthly
	// resultSetType never reaches storage, the query layer uses it for the
	// flattened bucket concatenation.
	resultSetType
)

func (t BucketType) String() string {
	switch t {
	case Dynamic:
		return "dynamic"
	case Hourly:
		return "hourly"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case resultSetType:
		return "resultset"
	}
	return fmt.Sprintf("bucket_type(%d)", uint16(t))
}

// ParseBucketType - reverse of String, used by configuration and the CLI.
func ParseBucketType(s string) (BucketType, error) {
	switch s {
	case "dynamic":
		return Dynamic, nil
	case "hourly":
		return Hourly, nil
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidBucket, s)
}

// windowLeft - left edge of the calendar window of the given type around ts.
// For dynamic buckets the window is the sample itself.
func windowLeft(t BucketType, ts uint32) uint32 {
	switch t {
	case Hourly:
		return tsutil.HourlyLeft(ts)
	case Daily:
		return tsutil.DailyLeft(ts)
	case Weekly:
		return tsutil.WeeklyLeft(ts)
	case Monthly:
		return tsutil.MonthlyLeft(ts)
	}
	return ts
}

// windowRight - inclusive right edge of the calendar window around ts.
// Dynamic buckets are unbounded to the right.
func windowRight(t BucketType, ts uint32) uint32 {
	switch t {
	case Hourly:
		return tsutil.HourlyRight(ts)
	case Daily:
		return tsutil.DailyRight(ts)
	case Weekly:
		return tsutil.WeeklyRight(ts)
	case Monthly:
		return tsutil.MonthlyRight(ts)
	}
	return math.MaxUint32
}

// SplitLimit selects which size bound SplitNeeded checks. Dynamic buckets
// tolerate growth past the soft target up to the hard maximum, calendar
// buckets need a split as soon as their samples straddle two windows.
type SplitLimit int

const (
	SoftLimit SplitLimit = iota
	HardLimit
)

// Default dynamic bucket bounds, overridden per store by Options.
const (
	DefaultDynamicTarget = 100
	DefaultDynamicMax    = 200
)

// bucketHeaderSize - value type (u16) + bucket type (u16) + count (u32).
const bucketHeaderSize = 8

// Bucket is one contiguous run of time-ordered samples for a single series
// key, persisted as one backend record. Timestamps and values live in packed
// parallel columns of equal length, nondecreasing in timestamp.
type Bucket struct {
	key        string
	valueType  ValueType
	bucketType BucketType
	rangeKey   uint32

	timestamps []uint32
	values     valueColumn

	existing bool
	dirty    bool

	dynamicTarget int
	dynamicMax    int
}

// NewBucket creates an empty bucket. For calendar bucket types rangeKey must
// be the left edge of a window of that type; for dynamic buckets it is
// advisory (the range key of a dynamic bucket is its first sample).
func NewBucket(key string, valueType ValueType, bucketType BucketType, rangeKey uint32) (*Bucket, error) {
	if bucketType != Dynamic && windowLeft(bucketType, rangeKey) != rangeKey {
		return nil, fmt.Errorf("range key %d is not the left edge of a %s window", rangeKey, bucketType)
	}
	values, err := newValueColumn(valueType)
	if err != nil {
		return nil, err
	}
	return &Bucket{
		key:           key,
		valueType:     valueType,
		bucketType:    bucketType,
		rangeKey:      rangeKey,
		values:        values,
		dynamicTarget: DefaultDynamicTarget,
		dynamicMax:    DefaultDynamicMax,
	}, nil
}

// DecodeBucket parses the binary bucket form produced by Bytes. The decoded
// bucket is neither existing nor dirty; storage backends flag loaded buckets
// as existing themselves.
func DecodeBucket(key string, data []byte) (*Bucket, error) {
	if len(data) < bucketHeaderSize {
		return nil, fmt.Errorf("bucket data too short: %d bytes", len(data))
	}
	valueType := ValueType(binary.LittleEndian.Uint16(data[0:2]))
	bucketType := BucketType(binary.LittleEndian.Uint16(data[2:4]))
	count := int(binary.LittleEndian.Uint32(data[4:8]))
	split := bucketHeaderSize + 4*count
	if len(data) < split {
		return nil, fmt.Errorf("bucket data truncated: %d bytes for %d samples", len(data), count)
	}
	values, err := newValueColumn(valueType)
	if err != nil {
		return nil, err
	}
	b := &Bucket{
		key:           key,
		valueType:     valueType,
		bucketType:    bucketType,
		values:        values,
		timestamps:    make([]uint32, 0, count),
		dynamicTarget: DefaultDynamicTarget,
		dynamicMax:    DefaultDynamicMax,
	}
	for off := bucketHeaderSize; off < split; off += 4 {
		b.timestamps = append(b.timestamps, binary.LittleEndian.Uint32(data[off:]))
	}
	if err := b.values.decode(data[split:]); err != nil {
		return nil, err
	}
	if !b.wellFormed() {
		return nil, fmt.Errorf("corrupted bucket for key %q", key)
	}
	b.rangeKey = windowLeft(bucketType, b.timestamps[0])
	return b, nil
}

// Bytes - the persisted binary form: 8 byte header, then the timestamp
// column, then the value columns, all little-endian.
func (b *Bucket) Bytes() []byte {
	out := make([]byte, 0, bucketHeaderSize+8*len(b.timestamps))
	out = binary.LittleEndian.AppendUint16(out, uint16(b.valueType))
	out = binary.LittleEndian.AppendUint16(out, uint16(b.bucketType))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(b.timestamps)))
	for _, ts := range b.timestamps {
		out = binary.LittleEndian.AppendUint32(out, ts)
	}
	return b.values.encodeTo(out)
}

// wellFormed - columns are non-empty, of equal length and sorted.
func (b *Bucket) wellFormed() bool {
	if len(b.timestamps) < 1 || len(b.timestamps) != b.values.len() {
		return false
	}
	for i := 1; i < len(b.timestamps); i++ {
		if b.timestamps[i] < b.timestamps[i-1] {
			return false
		}
	}
	return true
}

func (b *Bucket) Key() string            { return b.key }
func (b *Bucket) ValueType() ValueType   { return b.valueType }
func (b *Bucket) BucketType() BucketType { return b.bucketType }
func (b *Bucket) Len() int               { return len(b.timestamps) }
func (b *Bucket) Existing() bool         { return b.existing }
func (b *Bucket) Dirty() bool            { return b.dirty }
func (b *Bucket) ResetDirty()            { b.dirty = false }

// SetDynamicLimits overrides the soft target and hard maximum sample counts
// for dynamic splitting. The store stamps its configured limits on every
// bucket it creates or loads.
func (b *Bucket) SetDynamicLimits(target, max int) {
	b.dynamicTarget = target
	b.dynamicMax = max
}

// TsMin - first sample timestamp, -1 when empty.
func (b *Bucket) TsMin() int64 {
	if len(b.timestamps) == 0 {
		return -1
	}
	return int64(b.timestamps[0])
}

// TsMax - last sample timestamp, -1 when empty.
func (b *Bucket) TsMax() int64 {
	if len(b.timestamps) == 0 {
		return -1
	}
	return int64(b.timestamps[len(b.timestamps)-1])
}

// RangeKey - the bucket's position in its key's sorted index: the window
// left edge for calendar buckets, the first sample for dynamic ones.
func (b *Bucket) RangeKey() (uint32, error) {
	if b.bucketType == Dynamic {
		if len(b.timestamps) == 0 {
			return 0, ErrEmptySeries
		}
		return b.timestamps[0], nil
	}
	if len(b.timestamps) == 0 {
		// empty calendar buckets still know the window they were made for
		return b.rangeKey, nil
	}
	return windowLeft(b.bucketType, b.timestamps[0]), nil
}

// RangeMax - inclusive right edge of the bucket's window. Dynamic buckets
// are unbounded.
func (b *Bucket) RangeMax() (uint32, error) {
	if b.bucketType == Dynamic {
		return math.MaxUint32, nil
	}
	if len(b.timestamps) == 0 {
		return windowRight(b.bucketType, b.rangeKey), nil
	}
	return windowRight(b.bucketType, b.timestamps[0]), nil
}

// At - the i-th sample.
func (b *Bucket) At(i int) Point {
	return Point{Ts: b.timestamps[i], Value: b.values.at(i)}
}

// Points - all samples in order.
func (b *Bucket) Points() []Point {
	out := make([]Point, 0, len(b.timestamps))
	for i := range b.timestamps {
		out = append(out, b.At(i))
	}
	return out
}

// Equal - cheap structural comparison: key, types, dirty flag, length and
// the first and last timestamps. Not a deep element-wise compare.
func (b *Bucket) Equal(o *Bucket) bool {
	if o == nil {
		return false
	}
	if b.key != o.key || b.dirty != o.dirty {
		return false
	}
	if b.valueType != o.valueType || b.bucketType != o.bucketType {
		return false
	}
	if len(b.timestamps) != len(o.timestamps) {
		return false
	}
	if len(b.timestamps) > 0 {
		if b.timestamps[0] != o.timestamps[0] {
			return false
		}
		if b.timestamps[len(b.timestamps)-1] != o.timestamps[len(o.timestamps)-1] {
			return false
		}
	}
	return true
}

// InsertPoint places one sample so that the timestamp column stays sorted.
// Returns 1 if the columns changed, 0 for an ignored duplicate. A duplicate
// timestamp replaces the stored value only when overwrite is set.
func (b *Bucket) InsertPoint(ts uint32, v Value, overwrite bool) (int, error) {
	idx := sort.Search(len(b.timestamps), func(i int) bool { return b.timestamps[i] >= ts })
	if idx == len(b.timestamps) {
		if err := b.values.push(v); err != nil {
			return 0, err
		}
		b.timestamps = append(b.timestamps, ts)
		b.dirty = true
		return 1, nil
	}
	if b.timestamps[idx] == ts {
		if !overwrite {
			return 0, nil
		}
		if err := b.values.set(idx, v); err != nil {
			return 0, err
		}
		b.dirty = true
		return 1, nil
	}
	if err := b.values.insert(idx, v); err != nil {
		return 0, err
	}
	b.timestamps = append(b.timestamps, 0)
	copy(b.timestamps[idx+1:], b.timestamps[idx:])
	b.timestamps[idx] = ts
	b.dirty = true
	return 1, nil
}

// Insert - repeated InsertPoint without overwrite; returns the number of
// samples that changed the bucket.
func (b *Bucket) Insert(series []Point) (int, error) {
	counter := 0
	for _, p := range series {
		n, err := b.InsertPoint(p.Ts, p.Value, false)
		if err != nil {
			return counter, err
		}
		counter += n
	}
	return counter, nil
}

// SplitNeeded reports whether the bucket violates its size or window bound.
// For dynamic buckets the soft check fires above the target size, the hard
// check above the maximum. For calendar buckets both fire as soon as the
// samples straddle more than one window.
func (b *Bucket) SplitNeeded(limit SplitLimit) bool {
	if len(b.timestamps) < 1 {
		return false
	}
	if b.bucketType == Dynamic {
		if len(b.timestamps) > b.dynamicMax {
			return true
		}
		if len(b.timestamps) > b.dynamicTarget && limit == SoftLimit {
			return true
		}
		return false
	}
	l := windowLeft(b.bucketType, b.timestamps[0])
	r := windowLeft(b.bucketType, b.timestamps[len(b.timestamps)-1])
	return l != r
}

// Split partitions the bucket back into invariant-satisfying pieces: runs of
// the target size for dynamic buckets, one bucket per calendar window
// otherwise. The head stays in the receiver, tails are returned after it in
// chronological order, everything is marked dirty.
func (b *Bucket) Split() ([]*Bucket, error) {
	if b.bucketType == Dynamic {
		return b.splitAt(b.dynamicTarget)
	}
	return b.splitWindows()
}

func (b *Bucket) splitAt(count int) ([]*Bucket, error) {
	if count >= len(b.timestamps) {
		return nil, fmt.Errorf("split point %d beyond bucket of %d samples", count, len(b.timestamps))
	}
	out := []*Bucket{b}
	for i := count; i < len(b.timestamps); i += count {
		j := i + count
		if j > len(b.timestamps) {
			j = len(b.timestamps)
		}
		tail, err := b.carve(i, j)
		if err != nil {
			return nil, err
		}
		out = append(out, tail)
	}
	b.truncate(count)
	return out, nil
}

func (b *Bucket) splitWindows() ([]*Bucket, error) {
	// segment start indexes, one per calendar window touched
	bounds := []int{0}
	window := windowLeft(b.bucketType, b.timestamps[0])
	for i := 1; i < len(b.timestamps); i++ {
		if w := windowLeft(b.bucketType, b.timestamps[i]); w != window {
			bounds = append(bounds, i)
			window = w
		}
	}
	out := []*Bucket{b}
	for s := 1; s < len(bounds); s++ {
		end := len(b.timestamps)
		if s+1 < len(bounds) {
			end = bounds[s+1]
		}
		tail, err := b.carve(bounds[s], end)
		if err != nil {
			return nil, err
		}
		out = append(out, tail)
	}
	if len(bounds) > 1 {
		b.truncate(bounds[1])
	} else {
		b.dirty = true
	}
	return out, nil
}

// carve copies [i:j) into a fresh dirty bucket of the same shape.
func (b *Bucket) carve(i, j int) (*Bucket, error) {
	nb, err := NewBucket(b.key, b.valueType, b.bucketType, windowLeft(b.bucketType, b.timestamps[i]))
	if err != nil {
		return nil, err
	}
	nb.timestamps = append([]uint32(nil), b.timestamps[i:j]...)
	nb.values = b.values.slice(i, j)
	nb.dirty = true
	nb.dynamicTarget = b.dynamicTarget
	nb.dynamicMax = b.dynamicMax
	return nb, nil
}

// truncate keeps the first n samples in the receiver and marks it dirty.
func (b *Bucket) truncate(n int) {
	b.timestamps = append([]uint32(nil), b.timestamps[:n]...)
	b.values = b.values.slice(0, n)
	b.dirty = true
}
