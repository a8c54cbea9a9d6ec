package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"diligence-engine/internal/common/logger"
	"diligence-engine/internal/models"
)

// keepLatest writes the record only when it is newer than what is stored,
// then sets the key TTL to the remaining window. ARGV: at (unix micros),
// window seconds, ttl milliseconds.
var keepLatest = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'at')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	redis.call('HSET', KEYS[1], 'window', ARGV[2])
	return 0
end
redis.call('HSET', KEYS[1], 'at', ARGV[1], 'window', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisCooldownStore keeps cooldown records as hashes that expire when the
// window closes.
type RedisCooldownStore struct {
	client redis.Cmdable
	now    func() time.Time
}

type RedisCooldownOption func(*RedisCooldownStore)

// WithRedisClock overrides the clock used to compute key expiry.
func WithRedisClock(now func() time.Time) RedisCooldownOption {
	return func(s *RedisCooldownStore) { s.now = now }
}

func NewRedisCooldownStore(client redis.Cmdable, opts ...RedisCooldownOption) *RedisCooldownStore {
	s := &RedisCooldownStore{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCooldownStore) GetCooldown(ctx context.Context, subjectID string, scope models.CooldownScope) (*models.CooldownRecord, error) {
	vals, err := s.client.HMGet(ctx, cooldownKey(subjectID, scope), "at", "window").Result()
	if err != nil {
		return nil, models.NewPersistenceError("get cooldown", err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return nil, nil
	}

	at, err := strconv.ParseInt(fmt.Sprint(vals[0]), 10, 64)
	if err != nil {
		return nil, models.NewPersistenceError("decode cooldown", err)
	}
	var window int64
	if vals[1] != nil {
		if window, err = strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64); err != nil {
			return nil, models.NewPersistenceError("decode cooldown", err)
		}
	}
	return &models.CooldownRecord{
		SubjectID:      subjectID,
		Scope:          scope,
		LastAnalyzedAt: time.UnixMicro(at).UTC(),
		WindowSeconds:  window,
	}, nil
}

// PutCooldown skips records whose window has already closed.
func (s *RedisCooldownStore) PutCooldown(ctx context.Context, rec models.CooldownRecord) error {
	ttl := rec.Until().Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	err := keepLatest.Run(ctx, s.client,
		[]string{cooldownKey(rec.SubjectID, rec.Scope)},
		rec.LastAnalyzedAt.UnixMicro(), rec.WindowSeconds, ttl.Milliseconds(),
	).Err()
	if err != nil {
		return models.NewPersistenceError("put cooldown", err)
	}
	return nil
}

// CachedResultStore fronts a ResultStore with a Redis copy of each subject's
// latest result. Cache failures are logged and fall through to the inner
// store.
type CachedResultStore struct {
	inner  ResultStore
	client redis.Cmdable
	ttl    time.Duration
	log    logger.Logger
}

func NewCachedResultStore(inner ResultStore, client redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedResultStore {
	return &CachedResultStore{
		inner:  inner,
		client: client,
		ttl:    ttl,
		log:    logger.ForComponent(log, "result-cache"),
	}
}

func latestKey(subjectID string) string {
	return "result:latest:" + subjectID
}

func (c *CachedResultStore) PutResult(ctx context.Context, res *models.AnalysisResult) error {
	if err := c.inner.PutResult(ctx, res); err != nil {
		return err
	}
	if err := c.client.Del(ctx, latestKey(res.SubjectID)).Err(); err != nil {
		c.log.Warn("failed to invalidate latest result", map[string]interface{}{
			"subjectId": res.SubjectID,
			"error":     err,
		})
	}
	return nil
}

func (c *CachedResultStore) LatestResult(ctx context.Context, subjectID string) (*models.AnalysisResult, error) {
	key := latestKey(subjectID)
	cached, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var res models.AnalysisResult
		if jerr := json.Unmarshal(cached, &res); jerr == nil {
			return &res, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warn("latest result cache read failed", map[string]interface{}{
			"subjectId": subjectID,
			"error":     err,
		})
	}

	res, err := c.inner.LatestResult(ctx, subjectID)
	if err != nil || res == nil {
		return res, err
	}
	if body, jerr := json.Marshal(res); jerr == nil {
		if err := c.client.Set(ctx, key, body, c.ttl).Err(); err != nil {
			c.log.Warn("latest result cache write failed", map[string]interface{}{
				"subjectId": subjectID,
				"error":     err,
			})
		}
	}
	return res, nil
}

func (c *CachedResultStore) History(ctx context.Context, subjectID string, limit int) ([]*models.AnalysisResult, error) {
	return c.inner.History(ctx, subjectID, limit)
}
