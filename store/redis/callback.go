package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/id"
)

// settleScript conditionally transitions a callback out of waiting.
// KEYS[1] = callback key, KEYS[2] = expiry zset, ARGV[1] = new JSON,
// ARGV[2] = callback ID. Returns the prior status on refusal, "" on
// success.
var settleScript = goredis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if not existing then
	return 'missing'
end
local cb = cjson.decode(existing)
if cb['status'] ~= 'waiting' then
	return cb['status']
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[2])
return ''
`)

// extendScript pushes a waiting callback's expiry forward.
// KEYS[1] = callback key, KEYS[2] = expiry zset, ARGV[1] = RFC3339
// expiry, ARGV[2] = unix-milli score, ARGV[3] = callback ID.
var extendScript = goredis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if not existing then
	return 'missing'
end
local cb = cjson.decode(existing)
if cb['status'] ~= 'waiting' then
	return cb['status']
end
cb['expires_at'] = ARGV[1]
redis.call('SET', KEYS[1], cjson.encode(cb))
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return ''
`)

// CreateCallback persists a new waiting callback and indexes it for
// expiry sweeping.
func (s *Store) CreateCallback(ctx context.Context, cb *callback.Callback) error {
	data, err := json.Marshal(cb)
	if err != nil {
		return fmt.Errorf("stride/redis: marshal callback: %w", err)
	}
	cbID := cb.ID.String()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, callbackKey(cbID), data, 0)
	pipe.SAdd(ctx, callbackIndexKey(cb.ExecutionID.String()), cbID)
	pipe.ZAdd(ctx, callbackExpiryKey, goredis.Z{
		Score:  float64(cb.ExpiresAt.UnixMilli()),
		Member: cbID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stride/redis: create callback: %w", err)
	}
	return nil
}

// GetCallback retrieves a callback by ID.
func (s *Store) GetCallback(ctx context.Context, cbID id.CallbackID) (*callback.Callback, error) {
	data, err := s.client.Get(ctx, callbackKey(cbID.String())).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, stride.ErrCallbackNotFound
		}
		return nil, fmt.Errorf("stride/redis: get callback: %w", err)
	}
	var cb callback.Callback
	if err := json.Unmarshal(data, &cb); err != nil {
		return nil, fmt.Errorf("stride/redis: unmarshal callback: %w", err)
	}
	return &cb, nil
}

// SettleCallback conditionally writes cb's terminal state.
func (s *Store) SettleCallback(ctx context.Context, cb *callback.Callback) error {
	data, err := json.Marshal(cb)
	if err != nil {
		return fmt.Errorf("stride/redis: marshal callback: %w", err)
	}
	cbID := cb.ID.String()

	prior, err := settleScript.Run(ctx, s.client,
		[]string{callbackKey(cbID), callbackExpiryKey},
		string(data), cbID,
	).Text()
	if err != nil {
		return fmt.Errorf("stride/redis: settle callback: %w", err)
	}
	return priorStatusErr(prior)
}

// ExtendCallback pushes a waiting callback's expiry forward.
func (s *Store) ExtendCallback(ctx context.Context, cbID id.CallbackID, expiresAt time.Time) error {
	key := cbID.String()
	prior, err := extendScript.Run(ctx, s.client,
		[]string{callbackKey(key), callbackExpiryKey},
		expiresAt.UTC().Format(time.RFC3339Nano),
		strconv.FormatInt(expiresAt.UnixMilli(), 10),
		key,
	).Text()
	if err != nil {
		return fmt.Errorf("stride/redis: extend callback: %w", err)
	}
	return priorStatusErr(prior)
}

// ListExpiredCallbacks returns up to limit waiting callbacks expired at
// now, oldest expiry first.
func (s *Store) ListExpiredCallbacks(ctx context.Context, now time.Time, limit int) ([]*callback.Callback, error) {
	opt := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, callbackExpiryKey, opt).Result()
	if err != nil {
		return nil, fmt.Errorf("stride/redis: list expired zrange: %w", err)
	}

	cbs := make([]*callback.Callback, 0, len(ids))
	for _, cbID := range ids {
		data, getErr := s.client.Get(ctx, callbackKey(cbID)).Bytes()
		if getErr != nil {
			continue
		}
		var cb callback.Callback
		if json.Unmarshal(data, &cb) != nil {
			continue
		}
		if cb.Status != callback.StatusWaiting {
			continue
		}
		cbs = append(cbs, &cb)
	}
	return cbs, nil
}

// ListCallbacks returns all callbacks for an execution via its index
// set, oldest first.
func (s *Store) ListCallbacks(ctx context.Context, execID id.ExecutionID) ([]*callback.Callback, error) {
	ids, err := s.client.SMembers(ctx, callbackIndexKey(execID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("stride/redis: list callbacks: %w", err)
	}

	cbs := make([]*callback.Callback, 0, len(ids))
	for _, cbID := range ids {
		data, getErr := s.client.Get(ctx, callbackKey(cbID)).Bytes()
		if getErr != nil {
			continue
		}
		var cb callback.Callback
		if json.Unmarshal(data, &cb) != nil {
			continue
		}
		cbs = append(cbs, &cb)
	}
	sort.Slice(cbs, func(i, j int) bool {
		return cbs[i].CreatedAt.Before(cbs[j].CreatedAt)
	})
	return cbs, nil
}

func priorStatusErr(prior string) error {
	switch prior {
	case "":
		return nil
	case "missing":
		return stride.ErrCallbackNotFound
	case string(callback.StatusExpired):
		return stride.ErrCallbackExpired
	default:
		return stride.ErrCallbackResolved
	}
}
