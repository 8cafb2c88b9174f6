package tsdb

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// TimeRange - first and last sample timestamps stored for one key.
type TimeRange struct {
	TsMin uint32
	TsMax uint32
}

// maxReadLimit bounds the limit parameter of First, Last and Left.
const maxReadLimit = 10

// Storage is the sorted multi-map the engine persists buckets into: per key,
// an ordered map from range key to one opaque bucket record. Query returns
// the matching range plus the immediately-left neighbour, a point with
// timestamp >= range min can still live in the bucket left of the range.
type Storage interface {
	// Get fetches the single bucket at (key, rangeKey). ErrNotFound if absent.
	Get(ctx context.Context, key string, rangeKey uint32) (*Bucket, error)
	// Insert puts the bucket at its range key. ErrConflict on a duplicate.
	Insert(ctx context.Context, b *Bucket) error
	// Update overwrites the bucket at its range key.
	Update(ctx context.Context, b *Bucket) error
	// Query returns buckets with range key in [rangeMin, rangeMax] ascending,
	// preceded by the left neighbour when it exists and is not already first.
	Query(ctx context.Context, key string, rangeMin, rangeMax uint32) ([]*Bucket, error)
	// First returns the limit smallest records, ascending. ErrNotFound if none.
	First(ctx context.Context, key string, limit int) ([]*Bucket, error)
	// Last returns the limit largest records, descending. ErrNotFound if none.
	Last(ctx context.Context, key string, limit int) ([]*Bucket, error)
	// Left returns the limit records with range key <= rangeKey, greatest
	// first. ErrNotFound if none.
	Left(ctx context.Context, key string, rangeKey uint32, limit int) ([]*Bucket, error)
	// Range returns the covered time span of a key, nil when empty.
	Range(ctx context.Context, key string) (*TimeRange, error)
	// Count sums the sample counts of all buckets of a key.
	Count(ctx context.Context, key string) (int, error)
	Close() error
}

func checkLimit(limit int) error {
	if limit < 1 || limit >= maxReadLimit {
		return errors.Wrapf(ErrInvalidLimit, "limit %d", limit)
	}
	return nil
}

// storageRange - Range on top of First and Last, shared by all backends.
func storageRange(ctx context.Context, s Storage, key string) (*TimeRange, error) {
	first, err := s.First(ctx, key, 1)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	last, err := s.Last(ctx, key, 1)
	if err != nil {
		return nil, err
	}
	return &TimeRange{
		TsMin: uint32(first[0].TsMin()),
		TsMax: uint32(last[0].TsMax()),
	}, nil
}

// storageCount - Count on top of a whole-range Query, shared by all backends.
func storageCount(ctx context.Context, s Storage, key string) (int, error) {
	buckets, err := s.Query(ctx, key, 0, math.MaxUint32)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, b := range buckets {
		count += b.Len()
	}
	return count, nil
}

// record is one stored bucket blob at its range key.
type record struct {
	rangeKey uint32
	data     []byte
}

// records is one key's record list ordered by range key. The in-process
// backends (memory, file) share this index, the remote backends keep the
// ordering server-side.
type records []record

// search - index of the first record with rangeKey >= rk.
func (r records) search(rk uint32) int {
	return sort.Search(len(r), func(i int) bool { return r[i].rangeKey >= rk })
}

// index - position of the exact range key.
func (r records) index(rk uint32) (int, bool) {
	i := r.search(rk)
	if i < len(r) && r[i].rangeKey == rk {
		return i, true
	}
	return 0, false
}

// insert places a record keeping order; false if the range key is taken.
func (r records) insert(rk uint32, data []byte) (records, bool) {
	i := r.search(rk)
	if i < len(r) && r[i].rangeKey == rk {
		return r, false
	}
	r = append(r, record{})
	copy(r[i+1:], r[i:])
	r[i] = record{rangeKey: rk, data: data}
	return r, true
}

// query - records with range key in [min, max] plus the left neighbour.
func (r records) query(min, max uint32) records {
	lo := r.search(min)
	hi := sort.Search(len(r), func(i int) bool { return r[i].rangeKey > max })
	if hi == 0 {
		return nil
	}
	// one before, the left neighbour's window may reach into the range
	if lo > 0 {
		lo--
	}
	return r[lo:hi]
}

// left - up to limit records with range key <= rk, greatest first.
func (r records) left(rk uint32, limit int) records {
	hi := sort.Search(len(r), func(i int) bool { return r[i].rangeKey > rk })
	if hi == 0 {
		return nil
	}
	lo := hi - limit
	if lo < 0 {
		lo = 0
	}
	out := make(records, 0, hi-lo)
	for i := hi - 1; i >= lo; i-- {
		out = append(out, r[i])
	}
	return out
}
