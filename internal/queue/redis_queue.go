package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sciserver-casjobs/internal/config"
)

// RedisQueue schedules CasJobs job ids for status polling. Ids live in a sorted
// set scored by the unix-ms time of their next poll.
type RedisQueue struct {
	client    *redis.Client
	watchKey  string
	errorsKey string
	lease     time.Duration
}

// NewRedisQueue builds a schedule client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lease := cfg.WatchLease
	if lease == 0 {
		lease = time.Minute
	}
	return &RedisQueue{
		client:    client,
		watchKey:  "casjobs:watch",
		errorsKey: "casjobs:watch:errors",
		lease:     lease,
	}
}

// Client exposes the underlying connection so other components can share it.
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

// Close releases the connection pool.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func member(jobID int64) string {
	return strconv.FormatInt(jobID, 10)
}

// Watch schedules the next poll of jobID at at, replacing any earlier schedule.
func (q *RedisQueue) Watch(ctx context.Context, jobID int64, at time.Time) error {
	return q.client.ZAdd(ctx, q.watchKey, redis.Z{Score: float64(at.UnixMilli()), Member: member(jobID)}).Err()
}

// Due claims up to limit jobs whose poll time has passed. Claimed jobs are pushed
// one lease into the future so concurrent watchers skip them; a watcher that dies
// mid-poll therefore loses the job only until the lease runs out.
func (q *RedisQueue) Due(ctx context.Context, now time.Time, limit int64) ([]int64, error) {
	res, err := claimScript.Run(ctx, q.client, []string{q.watchKey},
		now.UnixMilli(), limit, now.Add(q.lease).UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected type from claim script: %T", res)
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected member type %T", v)
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse job id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Failed records one more consecutive lookup failure for jobID and returns the count.
func (q *RedisQueue) Failed(ctx context.Context, jobID int64) (int, error) {
	n, err := q.client.HIncrBy(ctx, q.errorsKey, member(jobID), 1).Result()
	return int(n), err
}

// Recovered clears the failure count after a successful lookup.
func (q *RedisQueue) Recovered(ctx context.Context, jobID int64) error {
	return q.client.HDel(ctx, q.errorsKey, member(jobID)).Err()
}

// Forget stops watching jobID.
func (q *RedisQueue) Forget(ctx context.Context, jobID int64) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.watchKey, member(jobID))
	pipe.HDel(ctx, q.errorsKey, member(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// Depth returns how many jobs are being watched.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.watchKey).Result()
}

// NextPoll returns when jobID is next due, and false when it is not watched.
func (q *RedisQueue) NextPoll(ctx context.Context, jobID int64) (time.Time, bool, error) {
	score, err := q.client.ZScore(ctx, q.watchKey, member(jobID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(score)), true, nil
}

var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZADD', KEYS[1], ARGV[3], id)
end
return ids
`)
