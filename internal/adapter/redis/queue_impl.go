package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/user/listing-monitor/internal/entity"
)

// Per-job state lives in a hash under <prefix>job:<id>. The waiting set is
// scored so that ZPOPMIN yields the highest priority first and FIFO within a
// priority; delayed holds retries by due time and active holds claims by
// lease expiry.
const (
	keyWaiting   = "waiting"
	keyDelayed   = "delayed"
	keyActive    = "active"
	keyFailed    = "failed"
	keyCompleted = "completed"
	keySeq       = "seq"
	keyJob       = "job:"
	keyScan      = "scan:"

	priorityBand = 1e13
)

var dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[1], redis.call('HGET', ARGV[4] .. id, 'score'), id)
  redis.call('HSET', ARGV[4] .. id, 'state', 'waiting')
end
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
  return false
end
local id = popped[1]
local key = ARGV[4] .. id
redis.call('ZADD', KEYS[3], ARGV[2], id)
redis.call('HSET', key, 'state', 'active', 'token', ARGV[3])
local attempts = redis.call('HINCRBY', key, 'attempts', 1)
return {id, attempts, redis.call('HGET', key, 'payload')}
`)

var ackScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return 0
end
local key = ARGV[2] .. ARGV[1]
local scan = redis.call('HGET', key, 'scan')
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('INCR', KEYS[2])
redis.call('SREM', ARGV[3] .. scan, ARGV[1])
redis.call('DEL', key)
return 1
`)

// failScript returns -1 when the job is not claimed, 0 when a retry was
// scheduled and 1 when the job is exhausted.
var failScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return -1
end
local key = ARGV[2] .. ARGV[1]
local now = tonumber(ARGV[3])
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', key, 'error', ARGV[7], 'token', '')
local attempts = tonumber(redis.call('HGET', key, 'attempts'))
if attempts >= tonumber(ARGV[4]) then
  redis.call('ZADD', KEYS[3], now, ARGV[1])
  redis.call('HSET', key, 'state', 'failed')
  return 1
end
local delay = tonumber(ARGV[5])
local cap = tonumber(ARGV[6])
for i = 2, attempts do
  delay = delay * 2
  if cap > 0 and delay >= cap then
    delay = cap
    break
  end
end
if cap > 0 and delay > cap then
  delay = cap
end
redis.call('ZADD', KEYS[2], now + delay, ARGV[1])
redis.call('HSET', key, 'state', 'waiting')
return 0
`)

var abandonScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return 0
end
local key = ARGV[2] .. ARGV[1]
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HSET', key, 'state', 'failed', 'token', '', 'error', ARGV[4])
return 1
`)

var releaseScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return 0
end
local key = ARGV[2] .. ARGV[1]
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], redis.call('HGET', key, 'score'), ARGV[1])
redis.call('HSET', key, 'state', 'waiting', 'token', '')
if tonumber(redis.call('HGET', key, 'attempts')) > 0 then
  redis.call('HINCRBY', key, 'attempts', -1)
end
return 1
`)

var recoverScript = redis.NewScript(`
local stalled = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(stalled) do
  local key = ARGV[2] .. id
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], redis.call('HGET', key, 'score'), id)
  redis.call('HSET', key, 'state', 'waiting', 'token', '')
end
return #stalled
`)

var purgeScript = redis.NewScript(`
local purged = 0
for _, id in ipairs(redis.call('SMEMBERS', KEYS[3])) do
  local removed = redis.call('ZREM', KEYS[1], id) + redis.call('ZREM', KEYS[2], id)
  if removed > 0 then
    redis.call('DEL', ARGV[1] .. id)
    redis.call('SREM', KEYS[3], id)
    purged = purged + 1
  end
end
return purged
`)

// QueueRepoImpl is the durable job queue backed by Redis sorted sets. Every
// state transition is a single Lua script, so concurrent workers and
// monitor processes cannot double-claim a job.
type QueueRepoImpl struct {
	client     *redis.Client
	prefix     string
	policy     entity.RetryPolicy
	visibility time.Duration
	now        func() time.Time
}

// NewQueueRepo creates a queue whose keys all start with prefix.
func NewQueueRepo(client *redis.Client, prefix string, policy entity.RetryPolicy, visibility time.Duration) *QueueRepoImpl {
	return &QueueRepoImpl{
		client:     client,
		prefix:     prefix,
		policy:     policy,
		visibility: visibility,
		now:        time.Now,
	}
}

func (r *QueueRepoImpl) key(name string) string { return r.prefix + name }

func (r *QueueRepoImpl) Enqueue(ctx context.Context, job *entity.ScanJob) (string, error) {
	j := *job
	if j.JobID == "" {
		j.JobID = uuid.NewString()
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = r.now()
	}
	j.Priority = entity.ClampPriority(j.Priority)
	payload, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	seq, err := r.client.Incr(ctx, r.key(keySeq)).Result()
	if err != nil {
		return "", fmt.Errorf("allocate job sequence: %w", err)
	}
	score := float64(entity.MaxPriority-j.Priority)*priorityBand + float64(seq)
	scanKey := r.key(keyScan) + strconv.FormatInt(j.ScanID, 10)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key(keyJob)+j.JobID,
			"payload", payload,
			"scan", j.ScanID,
			"score", strconv.FormatFloat(score, 'f', -1, 64),
			"attempts", 0,
			"state", string(entity.JobWaiting),
		)
		pipe.ZAdd(ctx, r.key(keyWaiting), redis.Z{Score: score, Member: j.JobID})
		pipe.SAdd(ctx, scanKey, j.JobID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", j.JobID, err)
	}
	return j.JobID, nil
}

func (r *QueueRepoImpl) Dequeue(ctx context.Context, workerToken string) (*entity.ScanJob, error) {
	now := r.now()
	res, err := dequeueScript.Run(ctx, r.client,
		[]string{r.key(keyWaiting), r.key(keyDelayed), r.key(keyActive)},
		now.UnixMilli(), now.Add(r.visibility).UnixMilli(), workerToken, r.key(keyJob),
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

	payload, _ := res[2].(string)
	var job entity.ScanJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("decode job %v: %w", res[0], err)
	}
	attempts, _ := res[1].(int64)
	job.AttemptCount = int(attempts)
	job.State = entity.JobActive
	job.WorkerToken = workerToken
	return &job, nil
}

func (r *QueueRepoImpl) Ack(ctx context.Context, jobID string) error {
	ok, err := ackScript.Run(ctx, r.client,
		[]string{r.key(keyActive), r.key(keyCompleted)},
		jobID, r.key(keyJob), r.key(keyScan),
	).Int()
	if err != nil {
		return fmt.Errorf("ack job %s: %w", jobID, err)
	}
	if ok == 0 {
		return entity.ErrJobNotActive
	}
	return nil
}

func (r *QueueRepoImpl) Fail(ctx context.Context, jobID string, reason string) (entity.FailOutcome, error) {
	res, err := failScript.Run(ctx, r.client,
		[]string{r.key(keyActive), r.key(keyDelayed), r.key(keyFailed)},
		jobID, r.key(keyJob), r.now().UnixMilli(),
		r.policy.MaxAttempts, r.policy.BaseDelay.Milliseconds(), r.policy.MaxDelay.Milliseconds(),
		reason,
	).Int()
	if err != nil {
		return "", fmt.Errorf("fail job %s: %w", jobID, err)
	}
	switch res {
	case -1:
		return "", entity.ErrJobNotActive
	case 1:
		return entity.FailExhausted, nil
	default:
		return entity.FailRetried, nil
	}
}

func (r *QueueRepoImpl) Abandon(ctx context.Context, jobID string, reason string) error {
	ok, err := abandonScript.Run(ctx, r.client,
		[]string{r.key(keyActive), r.key(keyFailed)},
		jobID, r.key(keyJob), r.now().UnixMilli(), reason,
	).Int()
	if err != nil {
		return fmt.Errorf("abandon job %s: %w", jobID, err)
	}
	if ok == 0 {
		return entity.ErrJobNotActive
	}
	return nil
}

func (r *QueueRepoImpl) Release(ctx context.Context, jobID string) error {
	ok, err := releaseScript.Run(ctx, r.client,
		[]string{r.key(keyActive), r.key(keyWaiting)},
		jobID, r.key(keyJob),
	).Int()
	if err != nil {
		return fmt.Errorf("release job %s: %w", jobID, err)
	}
	if ok == 0 {
		return entity.ErrJobNotActive
	}
	return nil
}

func (r *QueueRepoImpl) Purge(ctx context.Context, scanID int64) (int, error) {
	n, err := purgeScript.Run(ctx, r.client,
		[]string{r.key(keyWaiting), r.key(keyDelayed), r.key(keyScan) + strconv.FormatInt(scanID, 10)},
		r.key(keyJob),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("purge scan %d: %w", scanID, err)
	}
	return n, nil
}

func (r *QueueRepoImpl) RecoverStalled(ctx context.Context) (int, error) {
	n, err := recoverScript.Run(ctx, r.client,
		[]string{r.key(keyActive), r.key(keyWaiting)},
		r.now().UnixMilli(), r.key(keyJob),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("recover stalled jobs: %w", err)
	}
	return n, nil
}

func (r *QueueRepoImpl) Stats(ctx context.Context) (entity.QueueStats, error) {
	pipe := r.client.Pipeline()
	waiting := pipe.ZCard(ctx, r.key(keyWaiting))
	delayed := pipe.ZCard(ctx, r.key(keyDelayed))
	active := pipe.ZCard(ctx, r.key(keyActive))
	failed := pipe.ZCard(ctx, r.key(keyFailed))
	completed := pipe.Get(ctx, r.key(keyCompleted))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return entity.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	done, err := completed.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return entity.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return entity.QueueStats{
		Waiting:   waiting.Val() + delayed.Val(),
		Active:    active.Val(),
		Completed: done,
		Failed:    failed.Val(),
	}, nil
}
