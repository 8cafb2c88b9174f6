// Package tsdb implements a bucketed time-series store. Samples for one
// series key are packed into binary buckets, each covering a dynamic-size or
// calendar time window, and buckets are persisted into a pluggable
// key/range-key storage: an in-process map, a local file tree, Redis sorted
// sets or a DynamoDB table.
package tsdb

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// Options configures a DB. The zero value opens an in-memory store of daily
// raw-float buckets.
type Options struct {
	// Storage selects the backend: "memory" (default), "file", "redis" or
	// "dynamo".
	Storage string

	BucketType    BucketType // default Daily
	ValueType     ValueType  // default RawFloat
	DynamicTarget int        // soft size bound of dynamic buckets
	DynamicMax    int        // hard size bound of dynamic buckets

	// file backend
	FileDir       string
	FileCacheSize int

	// redis backend
	RedisAddr     string
	RedisDB       int
	RedisPassword string
	// RedisExpire, when set, is re-applied to a key on every write so idle
	// series age out.
	RedisExpire time.Duration

	// dynamo backend
	Dynamo DynamoConfig

	Logger            *zap.Logger
	MetricsRegisterer prometheus.Registerer
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.Storage == "" {
		opts.Storage = "memory"
	}
	if opts.BucketType == 0 {
		opts.BucketType = Daily
	}
	if opts.ValueType == 0 {
		opts.ValueType = RawFloat
	}
	if opts.DynamicTarget == 0 {
		opts.DynamicTarget = DefaultDynamicTarget
	}
	if opts.DynamicMax == 0 {
		opts.DynamicMax = DefaultDynamicMax
	}
	if opts.FileDir == "" {
		opts.FileDir = "./stss/"
	}
	if opts.RedisAddr == "" {
		opts.RedisAddr = "localhost:6379"
	}
	return opts
}

// InsertStats reports what one insert call did to the store.
type InsertStats struct {
	Key      string
	TsMin    uint32
	TsMax    uint32
	Count    int
	Appended int
	Inserted int
	Updated  int
	Splits   int
	Merged   int
}

// BulkInsert is one element of an InsertBulk call.
type BulkInsert struct {
	Key  string
	Data []Point
}

// DB is the store facade: it owns one storage backend and runs the ingest
// and query paths against it. One writer per key at a time, the engine
// takes no distributed locks.
type DB struct {
	opts    Options
	storage Storage
	log     *zap.SugaredLogger
	metrics *storeMetrics
}

// Open creates a DB with the backend selected in opts.
func Open(opts Options) (*DB, error) {
	opts = opts.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Sugar()

	var storage Storage
	var err error
	switch opts.Storage {
	case "memory":
		storage = NewMemoryStorage()
	case "file":
		storage, err = NewFileStorage(opts.FileDir, opts.FileCacheSize, log)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			DB:       opts.RedisDB,
			Password: opts.RedisPassword,
		})
		storage = NewRedisStorage(client, opts.RedisExpire, log)
	case "dynamo":
		storage, err = NewDynamoStorage(opts.Dynamo, log)
	default:
		return nil, fmt.Errorf("storage %q not implemented", opts.Storage)
	}
	if err != nil {
		return nil, err
	}
	return NewDB(storage, opts), nil
}

// NewDB wraps an already constructed storage backend. Tests and embedders
// with custom backends enter here, Open is the configuration front door.
func NewDB(storage Storage, opts Options) *DB {
	opts = opts.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{
		opts:    opts,
		storage: storage,
		log:     logger.Sugar(),
		metrics: newStoreMetrics(opts.MetricsRegisterer),
	}
}

// Storage exposes the backend for direct contract-level access.
func (db *DB) Storage() Storage { return db.storage }

func (db *DB) Close() error { return db.storage.Close() }

// stamp applies the store's dynamic split bounds to a bucket.
func (db *DB) stamp(b *Bucket) *Bucket {
	b.SetDynamicLimits(db.opts.DynamicTarget, db.opts.DynamicMax)
	return b
}

// lastOrNew - the newest bucket of the key, or a fresh empty one anchored at
// the window containing tsMin.
func (db *DB) lastOrNew(ctx context.Context, key string, tsMin uint32) (*Bucket, error) {
	buckets, err := db.storage.Last(ctx, key, 1)
	if errors.Is(err, ErrNotFound) {
		return NewBucket(key, db.opts.ValueType, db.opts.BucketType, windowLeft(db.opts.BucketType, tsMin))
	}
	if err != nil {
		return nil, err
	}
	return buckets[0], nil
}

// Insert ingests data points for one key. Data may arrive unsorted and may
// overlap samples already stored; duplicate timestamps are skipped, which
// makes retrying an insert with identical data a no-op.
func (db *DB) Insert(ctx context.Context, key string, data []Point) (*InsertStats, error) {
	key = strings.ToLower(key)
	if !keyPattern.MatchString(key) {
		return nil, errors.Wrap(ErrInvalidKey, key)
	}
	if len(data) == 0 {
		return nil, errors.Wrap(ErrEmptySeries, key)
	}
	sort.SliceStable(data, func(i, j int) bool { return data[i].Ts < data[j].Ts })
	tsMin := data[0].Ts
	tsMax := data[len(data)-1].Ts
	stats := &InsertStats{Key: key, TsMin: tsMin, TsMax: tsMax, Count: len(data)}
	db.log.Debugw("inserting points", "key", key, "count", len(data), "ts_min", tsMin, "ts_max", tsMax)

	last, err := db.lastOrNew(ctx, key, tsMin)
	if err != nil {
		return nil, err
	}
	db.stamp(last)

	var updated []*Bucket
	if int64(tsMin) >= last.TsMax() {
		// best case, everything goes past the end of the series
		appended, err := last.Insert(data)
		if err != nil {
			return nil, err
		}
		updated = append(updated, last)
		stats.Appended += appended
	} else {
		merge, err := db.storage.Query(ctx, key, tsMin, tsMax)
		if err != nil {
			return nil, err
		}
		// the left-neighbour rule of Query guarantees a bucket covering
		// tsMin, anything else is a broken backend
		if len(merge) == 0 || merge[0].TsMin() > int64(tsMin) {
			return nil, fmt.Errorf("merge query for %s [%d, %d] returned no covering bucket", key, tsMin, tsMax)
		}
		db.log.Debugw("merging points", "key", key, "buckets", len(merge))
		for _, b := range merge {
			db.stamp(b)
		}
		inserted := 0
		// walk data and buckets right to left, each point lands in the
		// bucket with the greatest ts_min not exceeding it
		i := len(data) - 1
		m := len(merge) - 1
		for i >= 0 {
			if int64(data[i].Ts) >= merge[m].TsMin() {
				n, err := merge[m].InsertPoint(data[i].Ts, data[i].Value, false)
				if err != nil {
					return nil, err
				}
				inserted += n
				i--
			} else {
				m--
			}
		}
		updated = append(updated, merge...)
		stats.Merged += len(merge)
		stats.Inserted += inserted
	}

	// splitting round: a bucket structurally equal to the loaded last
	// bucket (the appended tail) splits at the soft target, every other
	// bucket tolerates fragmentation up to the hard bound to amortise split
	// churn. Merged buckets are dirty and never equal the loaded last
	// bucket, so on the merge path even the tail splits only at the hard
	// bound.
	var final []*Bucket
	for _, b := range updated {
		if !b.SplitNeeded(SoftLimit) {
			final = append(final, b)
			continue
		}
		if !b.Equal(last) && !b.SplitNeeded(HardLimit) {
			final = append(final, b)
			continue
		}
		pieces, err := b.Split()
		if err != nil {
			return nil, err
		}
		final = append(final, pieces...)
		stats.Splits++
	}

	if stats.Inserted > 0 || stats.Appended > 0 {
		for _, b := range final {
			if b.Existing() {
				err = db.storage.Update(ctx, b)
			} else {
				err = db.storage.Insert(ctx, b)
			}
			if err != nil {
				return nil, err
			}
			stats.Updated++
		}
	} else {
		db.log.Debugw("duplicate insert, nothing to do", "key", key)
	}

	db.metrics.pointsAppended.Add(float64(stats.Appended))
	db.metrics.pointsInserted.Add(float64(stats.Inserted))
	db.metrics.bucketSplits.Add(float64(stats.Splits))
	db.metrics.bucketsMerged.Add(float64(stats.Merged))
	return stats, nil
}

// InsertBulk runs the inserts in order and returns one stats record each.
func (db *DB) InsertBulk(ctx context.Context, inserts []BulkInsert) ([]*InsertStats, error) {
	out := make([]*InsertStats, 0, len(inserts))
	for _, ins := range inserts {
		stats, err := db.Insert(ctx, ins.Key, ins.Data)
		if err != nil {
			return out, err
		}
		out = append(out, stats)
	}
	return out, nil
}

// Query returns the samples of a key with tsMin <= ts <= tsMax as a trimmed
// result set.
func (db *DB) Query(ctx context.Context, key string, tsMin, tsMax uint32) (*ResultSet, error) {
	key = strings.ToLower(key)
	buckets, err := db.storage.Query(ctx, key, tsMin, tsMax)
	if err != nil {
		return nil, err
	}
	rs, err := NewResultSet(key, buckets)
	if err != nil {
		return nil, err
	}
	rs.Trim(tsMin, tsMax)
	return rs, nil
}

// Range returns the covered time span of a key, nil when the key is empty.
func (db *DB) Range(ctx context.Context, key string) (*TimeRange, error) {
	return db.storage.Range(ctx, strings.ToLower(key))
}

// Count returns the total number of stored samples of a key.
func (db *DB) Count(ctx context.Context, key string) (int, error) {
	return db.storage.Count(ctx, strings.ToLower(key))
}
