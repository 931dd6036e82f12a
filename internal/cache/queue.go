// Package cache implements BoundedQueueCache: a per-key bounded-length,
// score-ordered queue over Redis sorted sets, grounded on the original
// RedisLengthCacheManager's ZADD/ZCARD/ZREMRANGEBYRANK/ZRANGEBYSCORE
// sequence and its two Lua scripts.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"memoryservice/internal/model"
	"memoryservice/internal/observability"
)

const (
	jsonPrefix   = "j:"
	binaryPrefix = "b:"
)

// lengthCleanupScript trims a sorted set to at most max_length entries by
// removing the lowest-score members, atomically.
var lengthCleanupScript = redis.NewScript(`
local queue_key = KEYS[1]
local max_length = tonumber(ARGV[1])
local queue_length = redis.call('ZCARD', queue_key)
if queue_length > max_length then
    local excess_count = queue_length - max_length
    return redis.call('ZREMRANGEBYRANK', queue_key, 0, excess_count - 1)
end
return 0
`)

// rangeByScoreScript returns members and scores within [min, max], ordered
// ascending by score, optionally capped by limit (-1 means unbounded).
var rangeByScoreScript = redis.NewScript(`
local queue_key = KEYS[1]
local min_score = ARGV[1]
local max_score = ARGV[2]
local limit = tonumber(ARGV[3]) or -1
if limit > 0 then
    return redis.call('ZRANGEBYSCORE', queue_key, min_score, max_score, 'WITHSCORES', 'LIMIT', 0, limit)
end
return redis.call('ZRANGEBYSCORE', queue_key, min_score, max_score, 'WITHSCORES')
`)

// Stats reports point-in-time bookkeeping about one queue key.
type Stats struct {
	TotalCount          int64
	MaxLength           int
	OldestScore         int64
	NewestScore         int64
	TTLRemainingSeconds int64
	IsFull              bool
}

// BoundedQueueCache exposes the append/size/clear/trim_excess/range/stats
// contract of component C1 over a Redis sorted set per key.
type BoundedQueueCache struct {
	client             redis.UniversalClient
	maxLength          int
	expire             time.Duration
	cleanupProbability float64
}

// New constructs a BoundedQueueCache. maxLength and expireMinutes default to
// 100 and 60 respectively when non-positive, matching the original's
// DEFAULT_MAX_LENGTH/DEFAULT_EXPIRE_MINUTES constants.
func New(client redis.UniversalClient, maxLength int, expireMinutes int, cleanupProbability float64) *BoundedQueueCache {
	if maxLength <= 0 {
		maxLength = 100
	}
	if expireMinutes <= 0 {
		expireMinutes = 60
	}
	if cleanupProbability < 0 || cleanupProbability > 1 {
		cleanupProbability = 0.1
	}
	return &BoundedQueueCache{
		client:             client,
		maxLength:          maxLength,
		expire:             time.Duration(expireMinutes) * time.Minute,
		cleanupProbability: cleanupProbability,
	}
}

func encodePayload(payload any) (string, error) {
	id := uuid.NewString()
	switch v := payload.(type) {
	case []byte:
		return id + ":" + binaryPrefix + string(v), nil
	case string:
		return id + ":" + jsonPrefix + strconv.Quote(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cache: encode payload: %w", err)
		}
		return id + ":" + jsonPrefix + string(data), nil
	}
}

func decodeMember(member string) (id string, raw []byte, err error) {
	idx := strings.IndexByte(member, ':')
	if idx < 0 {
		return "", nil, errors.New("cache: malformed member, missing id separator")
	}
	id = member[:idx]
	rest := member[idx+1:]
	switch {
	case strings.HasPrefix(rest, jsonPrefix):
		return id, []byte(strings.TrimPrefix(rest, jsonPrefix)), nil
	case strings.HasPrefix(rest, binaryPrefix):
		return id, []byte(strings.TrimPrefix(rest, binaryPrefix)), nil
	default:
		return "", nil, errors.New("cache: malformed member, unknown encoding prefix")
	}
}

// Append serializes payload, atomically adds it at the given score (now-ms
// when score is nil), and refreshes the key's TTL. With probability
// cleanup_probability it also trims the queue to max_length afterwards.
func (c *BoundedQueueCache) Append(ctx context.Context, key string, payload any, score *int64) error {
	member, err := encodePayload(payload)
	if err != nil {
		return err
	}
	sc := time.Now().UnixMilli()
	if score != nil {
		sc = *score
	}

	if err := c.client.ZAdd(ctx, key, redis.Z{Score: float64(sc), Member: member}).Err(); err != nil {
		return fmt.Errorf("cache: zadd: %w", err)
	}
	if err := c.client.Expire(ctx, key, c.expire).Err(); err != nil {
		return fmt.Errorf("cache: expire: %w", err)
	}

	if rand.Float64() < c.cleanupProbability {
		if _, err := c.trim(ctx, key); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("key", key).Msg("bounded_queue_cleanup_failed")
		}
	}
	return nil
}

// Size returns the cardinality of the sorted set, 0 if absent.
func (c *BoundedQueueCache) Size(ctx context.Context, key string) (int64, error) {
	n, err := c.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: zcard: %w", err)
	}
	return n, nil
}

// Clear deletes the key outright.
func (c *BoundedQueueCache) Clear(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: del: %w", err)
	}
	return nil
}

func (c *BoundedQueueCache) trim(ctx context.Context, key string) (int64, error) {
	res, err := lengthCleanupScript.Run(ctx, c.client, []string{key}, c.maxLength).Result()
	if err != nil {
		return 0, err
	}
	n, _ := res.(int64)
	return n, nil
}

// TrimExcess forces a full trim to max_length regardless of probability,
// returning the number of removed entries.
func (c *BoundedQueueCache) TrimExcess(ctx context.Context, key string) (int64, error) {
	n, err := c.trim(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("cache: trim_excess: %w", err)
	}
	return n, nil
}

// RangeByTimestamp returns items whose score lies in [start, end] (both
// optional), descending by score, up to limit (unbounded if <= 0).
// Malformed entries are logged and skipped, never raised.
func (c *BoundedQueueCache) RangeByTimestamp(ctx context.Context, key string, start, end *int64, limit int) ([]model.QueueItem, error) {
	minScore := "-inf"
	maxScore := "+inf"
	if start != nil {
		minScore = strconv.FormatInt(*start, 10)
	}
	if end != nil {
		maxScore = strconv.FormatInt(*end, 10)
	}
	scriptLimit := -1
	if limit > 0 {
		scriptLimit = limit
	}

	res, err := rangeByScoreScript.Run(ctx, c.client, []string{key}, minScore, maxScore, scriptLimit).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: range_by_timestamp: %w", err)
	}
	raw, ok := res.([]any)
	if !ok || len(raw)%2 != 0 {
		return nil, errors.New("cache: unexpected WITHSCORES reply shape")
	}

	items := make([]model.QueueItem, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		memberStr, _ := raw[i].(string)
		scoreStr, _ := raw[i+1].(string)
		id, payload, err := decodeMember(memberStr)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("key", key).Msg("bounded_queue_malformed_entry_skipped")
			continue
		}
		score, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("key", key).Msg("bounded_queue_malformed_score_skipped")
			continue
		}
		items = append(items, model.QueueItem{ID: id, Payload: payload, Score: int64(score)})
	}

	// The Lua script returns ascending by score; the contract promises
	// descending by score.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// QueueStats reports bookkeeping used by callers deciding whether to force
// a trim or drop a stale group.
func (c *BoundedQueueCache) QueueStats(ctx context.Context, key string) (Stats, error) {
	total, err := c.client.ZCard(ctx, key).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("cache: stats zcard: %w", err)
	}
	stats := Stats{TotalCount: total, MaxLength: c.maxLength, IsFull: total >= int64(c.maxLength)}
	if total == 0 {
		stats.TTLRemainingSeconds = -2
		return stats, nil
	}

	oldest, err := c.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("cache: stats oldest: %w", err)
	}
	newest, err := c.client.ZRangeWithScores(ctx, key, -1, -1).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("cache: stats newest: %w", err)
	}
	if len(oldest) > 0 {
		stats.OldestScore = int64(oldest[0].Score)
	}
	if len(newest) > 0 {
		stats.NewestScore = int64(newest[0].Score)
	}

	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("cache: stats ttl: %w", err)
	}
	stats.TTLRemainingSeconds = int64(ttl / time.Second)
	return stats, nil
}
