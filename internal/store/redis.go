package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of Redis, preloading the
// compare-and-swap Lua script that Put and Mutate write through: each read
// is followed by a CAS write that only lands if the version is unchanged,
// retried up to five times instead of a blind GET-then-SET. Grounded on the
// compare-and-swap script idiom used for distributed locks and versioned
// writes elsewhere in this stack.
type RedisStore struct {
	client *redis.Client
	casSHA string
}

// casScript performs an atomic compare-and-swap on a task hash: it only
// writes the new value if the stored version still matches the version the
// caller last observed. KEYS[1] is the task key, ARGV[1] the expected
// version (0 means "key must not exist"), ARGV[2] the new JSON value,
// ARGV[3] the new version, ARGV[4] the TTL in seconds (0 = no expiry).
const casScript = `
local current = redis.call("HGET", KEYS[1], "version")
local expected = tonumber(ARGV[1])
if expected == 0 then
	if current then
		return 0
	end
else
	if not current or tonumber(current) ~= expected then
		return 0
	end
end

redis.call("HSET", KEYS[1], "value", ARGV[2], "version", ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call("EXPIRE", KEYS[1], ARGV[4])
end
return 1
`

// NewRedisStore dials addr and preloads the CAS script.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis store: ping %s: %w", addr, err)
	}

	sha, err := client.ScriptLoad(ctx, casScript).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: preload cas script: %w", err)
	}

	return &RedisStore{client: client, casSHA: sha}, nil
}

type record struct {
	Value   json.RawMessage `json:"value"`
	Version int64           `json:"version"`
}

func (s *RedisStore) readRecord(ctx context.Context, key string) (*Task, int64, error) {
	res, err := s.client.HMGet(ctx, key, "value", "version").Result()
	if err != nil {
		return nil, 0, err
	}
	if res[0] == nil {
		return nil, 0, nil
	}
	valStr, _ := res[0].(string)
	var task Task
	if err := json.Unmarshal([]byte(valStr), &task); err != nil {
		return nil, 0, fmt.Errorf("redis store: unmarshal task: %w", err)
	}
	var version int64
	if res[1] != nil {
		if verStr, ok := res[1].(string); ok {
			fmt.Sscanf(verStr, "%d", &version)
		}
	}
	return &task, version, nil
}

func (s *RedisStore) cas(ctx context.Context, key string, expectedVersion int64, task *Task, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("redis store: marshal task: %w", err)
	}

	result, err := s.client.EvalSha(ctx, s.casSHA, []string{key},
		expectedVersion, string(payload), task.Version, int(ttl.Seconds())).Result()
	if err != nil && isNoScript(err) {
		s.casSHA, err = s.client.ScriptLoad(ctx, casScript).Result()
		if err != nil {
			return false, err
		}
		result, err = s.client.EvalSha(ctx, s.casSHA, []string{key},
			expectedVersion, string(payload), task.Version, int(ttl.Seconds())).Result()
	}
	if err != nil {
		return false, err
	}
	ok, _ := result.(int64)
	return ok == 1, nil
}

func isNoScript(err error) bool {
	var e error = err
	return e != nil && (errors.Is(e, redis.Nil) == false) && (len(e.Error()) >= 8 && e.Error()[:8] == "NOSCRIPT")
}

func (s *RedisStore) Put(ctx context.Context, task *Task) error {
	key := TaskKey(task.ID)
	for attempt := 0; attempt < 5; attempt++ {
		_, currentVersion, err := s.readRecord(ctx, key)
		if err != nil {
			return err
		}
		task.Version = currentVersion + 1
		ok, err := s.cas(ctx, key, currentVersion, task, 0)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrVersionConflict
}

func (s *RedisStore) Get(ctx context.Context, taskID string) (*Task, error) {
	task, _, err := s.readRecord(ctx, TaskKey(taskID))
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *RedisStore) Mutate(ctx context.Context, taskID string, fn MutateFunc) (*Task, error) {
	key := TaskKey(taskID)
	for attempt := 0; attempt < 5; attempt++ {
		current, version, err := s.readRecord(ctx, key)
		if err != nil {
			return nil, err
		}

		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		if next == nil {
			if err := s.Delete(ctx, taskID); err != nil {
				return nil, err
			}
			return nil, nil
		}

		next.Version = version + 1
		ok, err := s.cas(ctx, key, version, next, 0)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
	}
	return nil, ErrVersionConflict
}

func (s *RedisStore) Delete(ctx context.Context, taskID string) error {
	return s.client.Del(ctx, TaskKey(taskID)).Err()
}

func (s *RedisStore) SetTTL(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

// Client exposes the underlying redis client for components (queue bands,
// retry set, circuit breaker) that need direct sorted-set access.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
