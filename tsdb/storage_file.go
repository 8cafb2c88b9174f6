package tsdb

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultFileCacheSize bounds the per-key record cache of the file backend.
const DefaultFileCacheSize = 256

// fileRecord is one line of a key file: the bucket blob hex-encoded inside
// a small JSON envelope. The format loads and rewrites whole keys at a time.
type fileRecord struct {
	Key      string `json:"key"`
	RangeKey uint32 `json:"range_key"`
	Data     string `json:"data"`
}

// FileStorage persists one file per key under a root directory, path
// <root>/<key>.stss, one JSON line per bucket. Loaded keys are held in a
// bounded LRU so repeated reads of a hot key skip the file parse; the cache
// is process-local and not shared across processes.
type FileStorage struct {
	dir   string
	mu    sync.Mutex
	cache *lru.Cache
	log   *zap.SugaredLogger
}

func NewFileStorage(dir string, cacheSize int, log *zap.SugaredLogger) (*FileStorage, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating storage folder")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultFileCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FileStorage{dir: abs, cache: cache, log: log}, nil
}

func (s *FileStorage) filename(key string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.stss", key))
}

// loadKey - the key's records, from cache or by parsing its file.
// Callers hold s.mu.
func (s *FileStorage) loadKey(key string) (records, error) {
	if cached, ok := s.cache.Get(key); ok {
		return cached.(records), nil
	}
	f, err := os.Open(s.filename(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading key %s", key)
	}
	defer f.Close()

	var recs records
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var line fileRecord
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, errors.Wrapf(err, "parsing key file %s", key)
		}
		data, err := hex.DecodeString(line.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing key file %s", key)
		}
		recs = append(recs, record{rangeKey: line.RangeKey, data: data})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading key file %s", key)
	}
	s.cache.Add(key, recs)
	return recs, nil
}

// writeKey rewrites the whole key file and refreshes the cache.
// Callers hold s.mu.
func (s *FileStorage) writeKey(key string, recs records) error {
	f, err := os.Create(s.filename(key))
	if err != nil {
		return errors.Wrapf(err, "writing key %s", key)
	}
	w := bufio.NewWriter(f)
	for _, rec := range recs {
		line, err := json.Marshal(fileRecord{
			Key:      key,
			RangeKey: rec.rangeKey,
			Data:     hex.EncodeToString(rec.data),
		})
		if err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			return errors.Wrapf(err, "writing key %s", key)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing key %s", key)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "writing key %s", key)
	}
	s.cache.Add(key, recs)
	return nil
}

func (s *FileStorage) toBucket(key string, rec record) (*Bucket, error) {
	b, err := DecodeBucket(key, rec.data)
	if err != nil {
		return nil, err
	}
	b.existing = true
	return b, nil
}

func (s *FileStorage) toBuckets(key string, recs records) ([]*Bucket, error) {
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

func (s *FileStorage) Get(ctx context.Context, key string, rangeKey uint32) (*Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.loadKey(key)
	if err != nil {
		return nil, err
	}
	i, ok := recs.index(rangeKey)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s/%d", key, rangeKey)
	}
	return s.toBucket(key, recs[i])
}

func (s *FileStorage) Insert(ctx context.Context, b *Bucket) error {
	rangeKey, err := b.RangeKey()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.loadKey(b.Key())
	if err != nil {
		return err
	}
	recs, ok := recs.insert(rangeKey, b.Bytes())
	if !ok {
		return errors.Wrapf(ErrConflict, "%s/%d", b.Key(), rangeKey)
	}
	return s.writeKey(b.Key(), recs)
}

func (s *FileStorage) Update(ctx context.Context, b *Bucket) error {
	rangeKey, err := b.RangeKey()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.loadKey(b.Key())
	if err != nil {
		return err
	}
	if i, ok := recs.index(rangeKey); ok {
		recs[i].data = b.Bytes()
	} else {
		recs, _ = recs.insert(rangeKey, b.Bytes())
	}
	return s.writeKey(b.Key(), recs)
}

func (s *FileStorage) Query(ctx context.Context, key string, rangeMin, rangeMax uint32) ([]*Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.loadKey(key)
	if err != nil {
		return nil, err
	}
	return s.toBuckets(key, recs.query(rangeMin, rangeMax))
}

func (s *FileStorage) First(ctx context.Context, key string, limit int) ([]*Bucket, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.loadKey(key)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	if limit > len(recs) {
		limit = len(recs)
	}
	return s.toBuckets(key, recs[:limit])
}

func (s *FileStorage) Last(ctx context.Context, key string, limit int) ([]*Bucket, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.loadKey(key)
	if err != nil {
		return nil, err
	}
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

func (s *FileStorage) Left(ctx context.Context, key string, rangeKey uint32, limit int) ([]*Bucket, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.loadKey(key)
	if err != nil {
		return nil, err
	}
	matches := recs.left(rangeKey, limit)
	if len(matches) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "%s/%d", key, rangeKey)
	}
	return s.toBuckets(key, matches)
}

func (s *FileStorage) Range(ctx context.Context, key string) (*TimeRange, error) {
	return storageRange(ctx, s, key)
}

func (s *FileStorage) Count(ctx context.Context, key string) (int, error) {
	return storageCount(ctx, s, key)
}

func (s *FileStorage) Close() error { return nil }
