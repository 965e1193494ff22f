package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/pos-settlement/internal/core/domain"
)

// Queue layout for a queue named q:
//
//	q:<name>:job:<id>  hash    payload, attempts, enqueued_at, claimed_at, last_error, failed_at
//	q:<name>:wait      list    ready job ids (LPUSH in, RPOPLPUSH out)
//	q:<name>:active    list    claimed job ids
//	q:<name>:delayed   zset    ids waiting for a retry, scored by due time (ms)
//	q:<name>:failed    zset    dead-lettered ids, scored by failure time (ms)
//
// A job hash exists from enqueue until ack, which is what makes enqueue coalesce.

var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'payload', ARGV[2], 'attempts', '0', 'enqueued_at', ARGV[3])
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// KEYS: wait, active, delayed. ARGV: now (ms), job key prefix.
var dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', '0', '100')
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[3], id)
	redis.call('LPUSH', KEYS[1], id)
end

local id = redis.call('RPOPLPUSH', KEYS[1], KEYS[2])
if not id then
	return false
end

local jobKey = ARGV[2] .. id
local payload = redis.call('HGET', jobKey, 'payload')
if not payload then
	redis.call('LREM', KEYS[2], '0', id)
	return false
end
local attempts = redis.call('HINCRBY', jobKey, 'attempts', '1')
redis.call('HSET', jobKey, 'claimed_at', ARGV[1])
return {id, payload, attempts}
`)

// KEYS: active, wait. ARGV: cutoff (ms), job key prefix.
// Jobs without a claim time are treated as stalled.
var requeueStalledScript = redis.NewScript(`
local moved = 0
local cutoff = tonumber(ARGV[1])
for _, id in ipairs(redis.call('LRANGE', KEYS[1], '0', '-1')) do
	local claimed = tonumber(redis.call('HGET', ARGV[2] .. id, 'claimed_at'))
	if claimed == nil or claimed <= cutoff then
		redis.call('LREM', KEYS[1], '1', id)
		redis.call('LPUSH', KEYS[2], id)
		moved = moved + 1
	end
end
return moved
`)

type RedisQueue struct {
	client     *redis.Client
	name       string
	keepFailed int64
	now        func() time.Time
}

func NewRedisQueue(client *redis.Client, name string, keepFailed int) *RedisQueue {
	return &RedisQueue{
		client:     client,
		name:       name,
		keepFailed: int64(keepFailed),
		now:        time.Now,
	}
}

func (q *RedisQueue) key(part string) string { return "q:" + q.name + ":" + part }
func (q *RedisQueue) jobPrefix() string      { return q.key("job:") }
func (q *RedisQueue) jobKey(id string) string {
	return q.jobPrefix() + id
}

func (q *RedisQueue) Enqueue(ctx context.Context, job domain.StockDeductionJob) (bool, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("encode job: %w", err)
	}

	id := job.Key()
	added, err := enqueueScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.key("wait")},
		id, payload, q.now().UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", id, err)
	}
	return added == 1, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*domain.Delivery, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.key("wait"), q.key("active"), q.key("delayed")},
		q.now().UnixMilli(), q.jobPrefix(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("dequeue: unexpected reply %v", res)
	}

	id, _ := res[0].(string)
	payload, _ := res[1].(string)
	attempts, _ := res[2].(int64)

	var job domain.StockDeductionJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		// Poison payload: park it where an operator can see it.
		if failErr := q.Fail(ctx, id, "undecodable payload: "+err.Error()); failErr != nil {
			return nil, failErr
		}
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}

	return &domain.Delivery{ID: id, Job: job, Attempt: int(attempts)}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 0, id)
		pipe.Del(ctx, q.jobKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, id string, delay time.Duration, reason string) error {
	due := q.now().Add(delay).UnixMilli()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 0, id)
		pipe.HSet(ctx, q.jobKey(id), "last_error", reason)
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(due), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, id string, reason string) error {
	now := q.now().UnixMilli()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 0, id)
		pipe.HSet(ctx, q.jobKey(id), "last_error", reason, "failed_at", now)
		pipe.ZAdd(ctx, q.key("failed"), redis.Z{Score: float64(now), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail %s: %w", id, err)
	}
	return q.trimFailed(ctx)
}

// trimFailed keeps only the newest keepFailed dead-lettered jobs.
func (q *RedisQueue) trimFailed(ctx context.Context) error {
	if q.keepFailed <= 0 {
		return nil
	}
	stale, err := q.client.ZRange(ctx, q.key("failed"), 0, -q.keepFailed-1).Result()
	if err != nil {
		return fmt.Errorf("trim failed set: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]interface{}, len(stale))
		for i, id := range stale {
			members[i] = id
			pipe.Del(ctx, q.jobKey(id))
		}
		pipe.ZRem(ctx, q.key("failed"), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("trim failed set: %w", err)
	}
	return nil
}

func (q *RedisQueue) State(ctx context.Context, id string) (domain.JobState, error) {
	exists, err := q.client.Exists(ctx, q.jobKey(id)).Result()
	if err != nil {
		return domain.JobStateMissing, fmt.Errorf("job state %s: %w", id, err)
	}
	if exists == 0 {
		return domain.JobStateMissing, nil
	}

	_, err = q.client.ZScore(ctx, q.key("failed"), id).Result()
	if errors.Is(err, redis.Nil) {
		return domain.JobStateLive, nil
	}
	if err != nil {
		return domain.JobStateMissing, fmt.Errorf("job state %s: %w", id, err)
	}
	return domain.JobStateFailed, nil
}

func (q *RedisQueue) FailedJobs(ctx context.Context, limit int) ([]domain.FailedJob, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.client.ZRevRange(ctx, q.key("failed"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}

	jobs := make([]domain.FailedJob, 0, len(ids))
	for _, id := range ids {
		fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("load failed job %s: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}

		fj := domain.FailedJob{ID: id, Error: fields["last_error"]}
		_ = json.Unmarshal([]byte(fields["payload"]), &fj.Job)
		fj.Attempts, _ = strconv.Atoi(fields["attempts"])
		if ms, err := strconv.ParseInt(fields["failed_at"], 10, 64); err == nil {
			fj.FailedAt = time.UnixMilli(ms).UTC()
		}
		jobs = append(jobs, fj)
	}
	return jobs, nil
}

// RequeueStalled returns active jobs claimed at least olderThan ago to the
// ready list. Their next delivery counts as a new attempt.
func (q *RedisQueue) RequeueStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := q.now().Add(-olderThan).UnixMilli()
	moved, err := requeueStalledScript.Run(ctx, q.client,
		[]string{q.key("active"), q.key("wait")},
		cutoff, q.jobPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue stalled: %w", err)
	}
	return moved, nil
}
