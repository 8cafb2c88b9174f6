package tsdb

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisRecord is one sorted-set member: the bucket blob hex-encoded inside
// a JSON envelope, scored by its range key.
type redisRecord struct {
	Key      string `json:"key"`
	RangeKey uint32 `json:"range_key"`
	Data     string `json:"data"`
}

// RedisStorage keeps one sorted set per series key, score = range key. An
// optional expire duration is re-applied to the whole key on every write.
type RedisStorage struct {
	client redis.UniversalClient
	expire time.Duration
	log    *zap.SugaredLogger
}

func NewRedisStorage(client redis.UniversalClient, expire time.Duration, log *zap.SugaredLogger) *RedisStorage {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisStorage{client: client, expire: expire, log: log}
}

func (s *RedisStorage) toBucket(member string) (*Bucket, error) {
	var rec redisRecord
	if err := json.Unmarshal([]byte(member), &rec); err != nil {
		return nil, errors.Wrap(err, "parsing redis member")
	}
	data, err := hex.DecodeString(rec.Data)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis member")
	}
	b, err := DecodeBucket(rec.Key, data)
	if err != nil {
		return nil, err
	}
	b.existing = true
	return b, nil
}

func (s *RedisStorage) toBuckets(members []string) ([]*Bucket, error) {
	out := make([]*Bucket, 0, len(members))
	for _, m := range members {
		b, err := s.toBucket(m)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *RedisStorage) fromBucket(b *Bucket) (string, uint32, error) {
	rangeKey, err := b.RangeKey()
	if err != nil {
		return "", 0, err
	}
	member, err := json.Marshal(redisRecord{
		Key:      b.Key(),
		RangeKey: rangeKey,
		Data:     hex.EncodeToString(b.Bytes()),
	})
	if err != nil {
		return "", 0, err
	}
	return string(member), rangeKey, nil
}

func score(rk uint32) string {
	return strconv.FormatUint(uint64(rk), 10)
}

func (s *RedisStorage) Get(ctx context.Context, key string, rangeKey uint32) (*Bucket, error) {
	members, err := s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    score(rangeKey),
		Max:    score(rangeKey),
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	if len(members) < 1 {
		return nil, errors.Wrapf(ErrNotFound, "%s/%d", key, rangeKey)
	}
	return s.toBucket(members[0])
}

func (s *RedisStorage) Insert(ctx context.Context, b *Bucket) error {
	member, rangeKey, err := s.fromBucket(b)
	if err != nil {
		return err
	}
	// existing members at the score mean conflict; the probe and the add are
	// separate round trips without WATCH, so a concurrent writer between
	// them is not detected
	existing, err := s.client.ZRangeByScore(ctx, b.Key(), &redis.ZRangeBy{
		Min: score(rangeKey),
		Max: score(rangeKey),
	}).Result()
	if err != nil {
		return errors.Wrap(err, "redis insert")
	}
	if len(existing) > 0 {
		return errors.Wrapf(ErrConflict, "%s/%d", b.Key(), rangeKey)
	}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, b.Key(), redis.Z{Score: float64(rangeKey), Member: member})
	if s.expire > 0 {
		pipe.Expire(ctx, b.Key(), s.expire)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis insert")
	}
	return nil
}

func (s *RedisStorage) Update(ctx context.Context, b *Bucket) error {
	member, rangeKey, err := s.fromBucket(b)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, b.Key(), score(rangeKey), score(rangeKey))
	pipe.ZAdd(ctx, b.Key(), redis.Z{Score: float64(rangeKey), Member: member})
	if s.expire > 0 {
		pipe.Expire(ctx, b.Key(), s.expire)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis update")
	}
	return nil
}

func (s *RedisStorage) Query(ctx context.Context, key string, rangeMin, rangeMax uint32) ([]*Bucket, error) {
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: score(rangeMin),
		Max: score(rangeMax),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis query")
	}
	left, err := s.leftMembers(ctx, key, rangeMin, 1)
	if err != nil {
		return nil, err
	}
	if len(left) > 0 && (len(members) == 0 || left[0] != members[0]) {
		members = append(left[:1:1], members...)
	}
	return s.toBuckets(members)
}

func (s *RedisStorage) leftMembers(ctx context.Context, key string, rangeKey uint32, limit int) ([]string, error) {
	members, err := s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    score(rangeKey),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis left")
	}
	return members, nil
}

func (s *RedisStorage) First(ctx context.Context, key string, limit int) ([]*Bucket, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    "+inf",
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis first")
	}
	if len(members) < 1 {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	return s.toBuckets(members)
}

func (s *RedisStorage) Last(ctx context.Context, key string, limit int) ([]*Bucket, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	members, err := s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    "+inf",
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis last")
	}
	if len(members) < 1 {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	return s.toBuckets(members)
}

func (s *RedisStorage) Left(ctx context.Context, key string, rangeKey uint32, limit int) ([]*Bucket, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	members, err := s.leftMembers(ctx, key, rangeKey, limit)
	if err != nil {
		return nil, err
	}
	if len(members) < 1 {
		return nil, errors.Wrapf(ErrNotFound, "%s/%d", key, rangeKey)
	}
	return s.toBuckets(members)
}

func (s *RedisStorage) Range(ctx context.Context, key string) (*TimeRange, error) {
	return storageRange(ctx, s, key)
}

func (s *RedisStorage) Count(ctx context.Context, key string) (int, error) {
	return storageCount(ctx, s, key)
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}
