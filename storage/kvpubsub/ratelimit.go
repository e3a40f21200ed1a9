package kvpubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter tracks per-user cost over a rolling window in Redis.
// Expired entries are pruned lazily, on the next Allow for that user. Each
// Allow recomputes the window total and admits or rejects on that total
// alone; there is no sticky budget-exceeded flag. Nothing in this module
// constructs one: engine/retrieve gates LLM-listwise reranking with
// pkg/resilience's token-bucket Limiter instead.
//
// Entries are stored in a Redis sorted set keyed per user, scored by
// request timestamp (ms); the member encodes cost, so after the prune
// (ZREMRANGEBYSCORE) a single ZRANGE read recomputes the running total.
type SlidingWindowLimiter struct {
	client     *redis.Client
	window     time.Duration
	budgetCent int64
}

// NewSlidingWindowLimiter returns a limiter enforcing budgetCents of
// attributed cost per user within window.
func NewSlidingWindowLimiter(client *redis.Client, window time.Duration, budgetCents int64) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{client: client, window: window, budgetCent: budgetCents}
}

// slidingWindowScript prunes entries older than the window, sums the
// remaining cost, and — if the request fits the budget — admits it by
// adding its own entry. It runs atomically so concurrent callers for the
// same user never race past the budget.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local budget = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local total = 0
local members = redis.call('ZRANGE', key, 0, -1)
for i = 1, #members do
  local c = tonumber(string.match(members[i], "^(%d+):"))
  if c then
    total = total + c
  end
end

if total + cost > budget then
  return {total, 0}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, math.ceil((now - windowStart) + 1))
return {total + cost, 1}
`

// Allow attempts to admit a request of the given cost (cents) for user,
// returning whether it was admitted and the resulting running total in the
// window. A false admitted with no error means the budget was exceeded —
// this is the "reject with structured reason" path of spec.md §7, not a Go
// error.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, user string, costCents int64) (admitted bool, runningTotal int64, err error) {
	now := time.Now()
	windowStart := now.Add(-l.window).UnixMilli()
	member := fmt.Sprintf("%d:%d-%d", costCents, now.UnixNano(), len(user))

	key := fmt.Sprintf("ratelimit:%s", user)
	res, err := l.client.Eval(ctx, slidingWindowScript, []string{key},
		now.UnixMilli(), windowStart, costCents, l.budgetCent, member).Result()
	if err != nil {
		return false, 0, fmt.Errorf("kvpubsub: rate limit eval: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("kvpubsub: rate limit: unexpected script result %v", res)
	}
	total, _ := toInt64(vals[0])
	ok2, _ := toInt64(vals[1])
	return ok2 == 1, total, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	default:
		return 0, false
	}
}
