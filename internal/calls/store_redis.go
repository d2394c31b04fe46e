package calls

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "callbridge:call:"
	redisIndexKey  = "callbridge:calls"
)

// RedisStore persists each session as a JSON value keyed by session id,
// with an index set for List. Saves are whole-record replaces, same
// contract as the JSON file store.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) List(ctx context.Context) ([]CallSession, error) {
	ids, err := s.rdb.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("calls: list index: %w", err)
	}
	out := make([]CallSession, 0, len(ids))
	for _, id := range ids {
		sess, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (CallSession, bool, error) {
	raw, err := s.rdb.Get(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return CallSession{}, false, nil
	}
	if err != nil {
		return CallSession{}, false, fmt.Errorf("calls: get %s: %w", id, err)
	}
	var sess CallSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return CallSession{}, false, fmt.Errorf("calls: parse %s: %w", id, err)
	}
	return sess, true, nil
}

func (s *RedisStore) Save(ctx context.Context, session CallSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+session.ID, raw, 0)
	pipe.SAdd(ctx, redisIndexKey, session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("calls: save %s: %w", session.ID, err)
	}
	return nil
}
