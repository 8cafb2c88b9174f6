package tsdb

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStorage keeps every key's records in a process-local sorted slice.
// It backs tests and the Options default (empty Storage) and is the reference
// implementation of the storage contract.
type MemoryStorage struct {
	mu   sync.RWMutex
	keys map[string]records
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{keys: make(map[string]records)}
}

func (s *MemoryStorage) toBucket(key string, rec record) (*Bucket, error) {
	b, err := DecodeBucket(key, rec.data)
	if err != nil {
		return nil, err
	}
	b.existing = true
	return b, nil
}

func (s *MemoryStorage) toBuckets(key string, recs records) ([]*Bucket, error) {
	out := make([]*Bucket, 0, len(recs))
	for _, rec := range recs {
		b, err := s.toBucket(key, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *MemoryStorage) Get(ctx context.Context, key string, rangeKey uint32) (*Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.keys[key]
	i, ok := recs.index(rangeKey)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s/%d", key, rangeKey)
	}
	return s.toBucket(key, recs[i])
}

func (s *MemoryStorage) Insert(ctx context.Context, b *Bucket) error {
	rangeKey, err := b.RangeKey()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, ok := s.keys[b.Key()].insert(rangeKey, b.Bytes())
	if !ok {
		return errors.Wrapf(ErrConflict, "%s/%d", b.Key(), rangeKey)
	}
	s.keys[b.Key()] = recs
	return nil
}

func (s *MemoryStorage) Update(ctx context.Context, b *Bucket) error {
	rangeKey, err := b.RangeKey()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.keys[b.Key()]
	if i, ok := recs.index(rangeKey); ok {
		recs[i].data = b.Bytes()
		return nil
	}
	recs, _ = recs.insert(rangeKey, b.Bytes())
	s.keys[b.Key()] = recs
	return nil
}

func (s *MemoryStorage) Query(ctx context.Context, key string, rangeMin, rangeMax uint32) ([]*Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.toBuckets(key, s.keys[key].query(rangeMin, rangeMax))
}

func (s *MemoryStorage) First(ctx context.Context, key string, limit int) ([]*Bucket, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.keys[key]
	if len(recs) == 0 {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	if limit > len(recs) {
		limit = len(recs)
	}
	return s.toBuckets(key, recs[:limit])
}

func (s *MemoryStorage) Last(ctx context.Context, key string, limit int) ([]*Bucket, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.keys[key]
	if len(recs) == 0 {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	out := make([]*Bucket, 0, limit)
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		b, err := s.toBucket(key, recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *MemoryStorage) Left(ctx context.Context, key string, rangeKey uint32, limit int) ([]*Bucket, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.keys[key].left(rangeKey, limit)
	if len(recs) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "%s/%d", key, rangeKey)
	}
	return s.toBuckets(key, recs)
}

func (s *MemoryStorage) Range(ctx context.Context, key string) (*TimeRange, error) {
	return storageRange(ctx, s, key)
}

func (s *MemoryStorage) Count(ctx context.Context, key string) (int, error) {
	return storageCount(ctx, s, key)
}

func (s *MemoryStorage) Close() error { return nil }
