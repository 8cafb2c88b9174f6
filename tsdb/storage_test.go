package tsdb

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// the memory and file backends share the record index and must satisfy the
// storage contract identically
func openStorages(t *testing.T) map[string]Storage {
	t.Helper()
	fs, err := NewFileStorage(t.TempDir(), 0, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"file":   fs,
	}
}

func storedBucket(t *testing.T, key string, data ...float64) *Bucket {
	t.Helper()
	b := mustBucket(t, key, RawFloat, Dynamic, 0)
	if _, err := b.Insert(floatPoints(data...)); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestStorageInsertGet(t *testing.T) {
	for name, s := range openStorages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := storedBucket(t, "test", 100, 1.5, 200, 2.5)
			if err := s.Insert(ctx, b); err != nil {
				t.Fatal(err)
			}

			got, err := s.Get(ctx, "test", 100)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Existing() {
				t.Error("loaded bucket not flagged existing")
			}
			if got.Dirty() {
				t.Error("loaded bucket dirty")
			}
			if got.Len() != 2 || got.At(0).Value.Float != 1.5 {
				t.Errorf("loaded bucket differs: len %d", got.Len())
			}

			if _, err := s.Get(ctx, "test", 101); !errors.Is(err, ErrNotFound) {
				t.Errorf("get absent: err = %v, want ErrNotFound", err)
			}
			if _, err := s.Get(ctx, "nokey", 100); !errors.Is(err, ErrNotFound) {
				t.Errorf("get absent key: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStorageInsertConflict(t *testing.T) {
	for name, s := range openStorages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Insert(ctx, storedBucket(t, "test", 100, 1)); err != nil {
				t.Fatal(err)
			}
			err := s.Insert(ctx, storedBucket(t, "test", 100, 2))
			if !errors.Is(err, ErrConflict) {
				t.Errorf("duplicate insert: err = %v, want ErrConflict", err)
			}
		})
	}
}

func TestStorageUpdate(t *testing.T) {
	for name, s := range openStorages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Insert(ctx, storedBucket(t, "test", 100, 1)); err != nil {
				t.Fatal(err)
			}
			if err := s.Update(ctx, storedBucket(t, "test", 100, 1, 150, 2)); err != nil {
				t.Fatal(err)
			}
			got, err := s.Get(ctx, "test", 100)
			if err != nil {
				t.Fatal(err)
			}
			if got.Len() != 2 {
				t.Errorf("updated bucket has %d samples, want 2", got.Len())
			}
		})
	}
}

func TestStorageQueryLeftNeighbour(t *testing.T) {
	for name, s := range openStorages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, start := range []float64{0, 100, 200} {
				if err := s.Insert(ctx, storedBucket(t, "test", start, 1, start+50, 2)); err != nil {
					t.Fatal(err)
				}
			}

			// plain range hit
			buckets, err := s.Query(ctx, "test", 100, 200)
			if err != nil {
				t.Fatal(err)
			}
			if len(buckets) != 3 {
				t.Fatalf("query [100,200]: %d buckets, want 3 (with left neighbour)", len(buckets))
			}
			if buckets[0].TsMin() != 0 {
				t.Errorf("left neighbour missing, first bucket starts at %d", buckets[0].TsMin())
			}

			// a range between records still returns the bucket to the left
			buckets, err = s.Query(ctx, "test", 260, 300)
			if err != nil {
				t.Fatal(err)
			}
			if len(buckets) != 1 || buckets[0].TsMin() != 200 {
				t.Fatalf("query [260,300]: want only the bucket at 200, got %d buckets", len(buckets))
			}

			// an absent key has neither matches nor a neighbour
			buckets, err = s.Query(ctx, "nokey", 0, 1000)
			if err != nil {
				t.Fatal(err)
			}
			if len(buckets) != 0 {
				t.Fatalf("query of absent key returned %d buckets", len(buckets))
			}

			// ascending order
			buckets, err = s.Query(ctx, "test", 0, 1000)
			if err != nil {
				t.Fatal(err)
			}
			for i := 1; i < len(buckets); i++ {
				if buckets[i].TsMin() <= buckets[i-1].TsMin() {
					t.Fatal("query results out of order")
				}
			}
		})
	}
}

func TestStorageFirstLastLeft(t *testing.T) {
	for name, s := range openStorages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, start := range []float64{0, 100, 200} {
				if err := s.Insert(ctx, storedBucket(t, "test", start, 1)); err != nil {
					t.Fatal(err)
				}
			}

			first, err := s.First(ctx, "test", 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(first) != 2 || first[0].TsMin() != 0 || first[1].TsMin() != 100 {
				t.Errorf("first(2) wrong: %d buckets", len(first))
			}

			last, err := s.Last(ctx, "test", 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(last) != 2 || last[0].TsMin() != 200 || last[1].TsMin() != 100 {
				t.Errorf("last(2) wrong: %d buckets", len(last))
			}

			left, err := s.Left(ctx, "test", 150, 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(left) != 2 || left[0].TsMin() != 100 || left[1].TsMin() != 0 {
				t.Errorf("left(150, 2) wrong: %d buckets", len(left))
			}

			if _, err := s.Left(ctx, "test", 150, 0); !errors.Is(err, ErrInvalidLimit) {
				t.Errorf("limit 0: err = %v, want ErrInvalidLimit", err)
			}
			if _, err := s.First(ctx, "test", 10); !errors.Is(err, ErrInvalidLimit) {
				t.Errorf("limit 10: err = %v, want ErrInvalidLimit", err)
			}
			if _, err := s.First(ctx, "nokey", 1); !errors.Is(err, ErrNotFound) {
				t.Errorf("first of absent key: err = %v, want ErrNotFound", err)
			}
			if _, err := s.Last(ctx, "nokey", 1); !errors.Is(err, ErrNotFound) {
				t.Errorf("last of absent key: err = %v, want ErrNotFound", err)
			}
			if _, err := s.Left(ctx, "nokey", 100, 1); !errors.Is(err, ErrNotFound) {
				t.Errorf("left of absent key: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStorageRangeCount(t *testing.T) {
	for name, s := range openStorages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r, err := s.Range(ctx, "test")
			if err != nil {
				t.Fatal(err)
			}
			if r != nil {
				t.Fatal("range of empty key not nil")
			}

			if err := s.Insert(ctx, storedBucket(t, "test", 100, 1, 150, 2)); err != nil {
				t.Fatal(err)
			}
			if err := s.Insert(ctx, storedBucket(t, "test", 200, 1, 250, 2, 260, 3)); err != nil {
				t.Fatal(err)
			}

			r, err = s.Range(ctx, "test")
			if err != nil {
				t.Fatal(err)
			}
			if r == nil || r.TsMin != 100 || r.TsMax != 260 {
				t.Errorf("range = %+v, want [100, 260]", r)
			}

			n, err := s.Count(ctx, "test")
			if err != nil {
				t.Fatal(err)
			}
			if n != 5 {
				t.Errorf("count = %d, want 5", n)
			}
		})
	}
}

// a second FileStorage over the same folder must see everything the first
// one wrote
func TestFileStorageReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s1, err := NewFileStorage(dir, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Insert(ctx, storedBucket(t, "test", 100, 1.5)); err != nil {
		t.Fatal(err)
	}

	s2, err := NewFileStorage(dir, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s2.Get(ctx, "test", 100)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 1 || got.At(0).Value.Float != 1.5 {
		t.Errorf("reopened storage lost data")
	}
}
