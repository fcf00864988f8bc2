package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/ingesterr"
)

// RedisClient wraps a single Redis connection and its logger, implementing
// both LogStore and StateStore — mirroring packages/go-core/natsclient's
// Client shape (a driver connection + *zap.Logger behind a small façade),
// adapted from JetStream pub/sub to Redis Streams consumer groups.
type RedisClient struct {
	rdb *redis.Client
	log *zap.Logger
}

// NewRedisClient dials addr and verifies connectivity with a PING.
func NewRedisClient(ctx context.Context, addr, password string, db int, log *zap.Logger) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, ingesterr.Wrap(ingesterr.TransportUnavailable, "redis ping failed", err)
	}

	log.Info("redis connected", zap.String("addr", addr))
	return &RedisClient{rdb: rdb, log: log}, nil
}

// Close closes the underlying connection pool.
func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

func wrapUnavailable(err error, msg string) error {
	if err == nil {
		return nil
	}
	return ingesterr.Wrap(ingesterr.TransportUnavailable, msg, err)
}

// --- LogStore -------------------------------------------------------------

func (c *RedisClient) Append(stream string, fields map[string]string, maxLen int64) (string, error) {
	ctx := context.Background()
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true // never block the producer hot path on exact trimming
	}

	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", wrapUnavailable(err, "xadd failed")
	}
	return id, nil
}

func (c *RedisClient) EnsureGroup(stream, group, start string) error {
	ctx := context.Background()
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err == nil {
		return nil
	}
	// BUSYGROUP means the group already exists, which is the common case
	// on every restart after the first — not an error.
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return wrapUnavailable(err, "xgroup create failed")
}

func (c *RedisClient) ReadGroup(stream, group, consumer string, count int64, block time.Duration) ([]LogEntry, error) {
	ctx := context.Background()
	if block > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, block+5*time.Second)
		defer cancel()
	}

	// go-redis sends BLOCK for any Block >= 0, and BLOCK 0 waits forever;
	// -1 omits BLOCK so a zero block returns immediately.
	redisBlock := block
	if block <= 0 {
		redisBlock = -1
	}

	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    redisBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, wrapUnavailable(err, "xreadgroup failed")
	}

	var out []LogEntry
	for _, s := range res {
		for _, msg := range s.Messages {
			fields := make(map[string]string, len(msg.Values))
			for k, v := range msg.Values {
				if sv, ok := v.(string); ok {
					fields[k] = sv
				} else {
					fields[k] = fmt.Sprintf("%v", v)
				}
			}
			out = append(out, LogEntry{ID: msg.ID, Fields: fields})
		}
	}
	return out, nil
}

func (c *RedisClient) Ack(stream, group string, entryIDs ...string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	ctx := context.Background()
	if err := c.rdb.XAck(ctx, stream, group, entryIDs...).Err(); err != nil {
		return wrapUnavailable(err, "xack failed")
	}
	return nil
}

func (c *RedisClient) PendingRange(stream, group string, minIdle time.Duration, count int64) ([]PendingEntry, error) {
	ctx := context.Background()
	res, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, wrapUnavailable(err, "xpending failed")
	}

	out := make([]PendingEntry, 0, len(res))
	for _, p := range res {
		out = append(out, PendingEntry{
			EntryID:       p.ID,
			Consumer:      p.Consumer,
			Idle:          p.Idle,
			DeliveryCount: p.RetryCount,
		})
	}
	return out, nil
}

func (c *RedisClient) Claim(stream, group, newConsumer string, minIdle time.Duration, entryIDs []string) ([]LogEntry, error) {
	if len(entryIDs) == 0 {
		return nil, nil
	}
	ctx := context.Background()
	msgs, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: newConsumer,
		MinIdle:  minIdle,
		Messages: entryIDs,
	}).Result()
	if err != nil {
		return nil, wrapUnavailable(err, "xclaim failed")
	}

	out := make([]LogEntry, 0, len(msgs))
	for _, msg := range msgs {
		fields := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			if sv, ok := v.(string); ok {
				fields[k] = sv
			} else {
				fields[k] = fmt.Sprintf("%v", v)
			}
		}
		out = append(out, LogEntry{ID: msg.ID, Fields: fields})
	}
	return out, nil
}

func (c *RedisClient) Trim(stream string, maxLen int64, approximate bool) error {
	ctx := context.Background()
	var err error
	if approximate {
		err = c.rdb.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Err()
	} else {
		err = c.rdb.XTrimMaxLen(ctx, stream, maxLen).Err()
	}
	if err != nil {
		return wrapUnavailable(err, "xtrim failed")
	}
	return nil
}

func (c *RedisClient) Len(stream string) (int64, error) {
	ctx := context.Background()
	n, err := c.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, wrapUnavailable(err, "xlen failed")
	}
	return n, nil
}

func (c *RedisClient) ReadRange(stream string, count int64) ([]LogEntry, error) {
	ctx := context.Background()
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = c.rdb.XRangeN(ctx, stream, "-", "+", count).Result()
	} else {
		msgs, err = c.rdb.XRange(ctx, stream, "-", "+").Result()
	}
	if err != nil {
		return nil, wrapUnavailable(err, "xrange failed")
	}

	out := make([]LogEntry, 0, len(msgs))
	for _, msg := range msgs {
		fields := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			if sv, ok := v.(string); ok {
				fields[k] = sv
			} else {
				fields[k] = fmt.Sprintf("%v", v)
			}
		}
		out = append(out, LogEntry{ID: msg.ID, Fields: fields})
	}
	return out, nil
}

func (c *RedisClient) DeleteEntry(stream, entryID string) error {
	ctx := context.Background()
	if err := c.rdb.XDel(ctx, stream, entryID).Err(); err != nil {
		return wrapUnavailable(err, "xdel failed")
	}
	return nil
}

func (c *RedisClient) Clear(stream string) error {
	ctx := context.Background()
	if err := c.rdb.XTrimMaxLen(ctx, stream, 0).Err(); err != nil {
		return wrapUnavailable(err, "xtrim-to-zero failed")
	}
	return nil
}

// --- StateStore -------------------------------------------------------------

func (c *RedisClient) Get(key string) (string, bool, error) {
	ctx := context.Background()
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapUnavailable(err, "get failed")
	}
	return v, true, nil
}

func (c *RedisClient) Set(key, value string) error {
	ctx := context.Background()
	if err := c.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return wrapUnavailable(err, "set failed")
	}
	return nil
}

func (c *RedisClient) Delete(key string) error {
	ctx := context.Background()
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return wrapUnavailable(err, "del failed")
	}
	return nil
}

func (c *RedisClient) SAdd(set, member string) (bool, error) {
	ctx := context.Background()
	n, err := c.rdb.SAdd(ctx, set, member).Result()
	if err != nil {
		return false, wrapUnavailable(err, "sadd failed")
	}
	return n > 0, nil
}

func (c *RedisClient) SIsMember(set, member string) (bool, error) {
	ctx := context.Background()
	ok, err := c.rdb.SIsMember(ctx, set, member).Result()
	if err != nil {
		return false, wrapUnavailable(err, "sismember failed")
	}
	return ok, nil
}

func (c *RedisClient) Expire(key string, ttl time.Duration) error {
	ctx := context.Background()
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return wrapUnavailable(err, "expire failed")
	}
	return nil
}

func (c *RedisClient) SCard(set string) (uint64, error) {
	ctx := context.Background()
	n, err := c.rdb.SCard(ctx, set).Result()
	if err != nil {
		return 0, wrapUnavailable(err, "scard failed")
	}
	return uint64(n), nil
}

var (
	_ LogStore   = (*RedisClient)(nil)
	_ StateStore = (*RedisClient)(nil)
)
