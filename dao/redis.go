package dao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"yarn-agent/internal/session"
	"yarn-agent/model"
)

var (
	ErrMaxRetries     = errors.New("max retries exceeded")
	ErrInvalidSession = errors.New("invalid session")
)

const (
	defaultKeyPrefix  = "yarn-agent:session:"
	defaultMaxRetries = 3
)

// RedisStore keeps session records as JSON strings. It implements
// session.Repository.
type RedisStore struct {
	client     *redis.Client
	keyPrefix  string
	ttl        time.Duration
	maxRetries int
	now        func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client:     client,
		keyPrefix:  defaultKeyPrefix,
		ttl:        ttl,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
	}
}

// NewClient opens a go-redis client for addr.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*model.SessionRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is empty", session.ErrInvalidParam)
	}
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func decode(data []byte) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if rec.Answers == nil {
		rec.Answers = make(map[model.Step]string)
	}
	return &rec, nil
}

// Create stores a fresh record. SETNX keeps a concurrent creator from
// overwriting a record that already exists.
func (s *RedisStore) Create(ctx context.Context, sessionID string, initial model.Step) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionID is empty", session.ErrInvalidParam)
	}
	if !initial.Valid() {
		return fmt.Errorf("%w: unknown step %q", session.ErrInvalidParam, initial)
	}
	now := s.now().UTC()
	data, err := json.Marshal(model.SessionRecord{
		ID:        sessionID,
		State:     initial,
		Answers:   map[model.Step]string{},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(sessionID), data, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrSessionExists, sessionID)
	}
	return nil
}

// UpdateState moves the stored step forward. A write that would move it
// backwards, such as a late update from another replica, is ignored.
func (s *RedisStore) UpdateState(ctx context.Context, sessionID string, state model.Step) error {
	if !state.Valid() {
		return fmt.Errorf("%w: unknown step %q", session.ErrInvalidParam, state)
	}
	return s.update(ctx, sessionID, func(rec *model.SessionRecord) bool {
		if !s.isStateMoreAdvanced(state, rec.State) {
			return false
		}
		rec.State = state
		return true
	})
}

func (s *RedisStore) SaveAnswer(ctx context.Context, sessionID string, step model.Step, answer string) error {
	return s.update(ctx, sessionID, func(rec *model.SessionRecord) bool {
		rec.Answers[step] = answer
		return true
	})
}

// update applies mutate under WATCH and retries when another writer got in
// first. mutate returns false to leave the record untouched.
func (s *RedisStore) update(ctx context.Context, sessionID string, mutate func(*model.SessionRecord) bool) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionID is empty", session.ErrInvalidParam)
	}
	key := s.key(sessionID)

	var lastErr error
	for i := 0; i <= s.maxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", session.ErrSessionNotFound, sessionID)
			}
			if err != nil {
				return err
			}
			rec, err := decode(data)
			if err != nil {
				return err
			}
			if !mutate(rec) {
				return nil
			}
			rec.UpdatedAt = s.now().UTC()
			out, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, s.ttl)
				return nil
			})
			return err
		}, key)

		retry, err := s.shouldRetry(err)
		if !retry {
			return err
		}
		lastErr = err
		if i < s.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond * time.Duration(10*(i+1))):
			}
		}
	}
	return fmt.Errorf("%w for session %s: %v", ErrMaxRetries, sessionID, lastErr)
}

func (s *RedisStore) shouldRetry(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		return true, err
	}
	return false, err
}

// isStateMoreAdvanced reports whether stateA comes after stateB in the step
// order. Unknown steps never replace a known one.
func (s *RedisStore) isStateMoreAdvanced(stateA, stateB model.Step) bool {
	a, b := stateA.Index(), stateB.Index()
	if a < 0 {
		return false
	}
	if b < 0 {
		return true
	}
	return a > b
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionID is empty", session.ErrInvalidParam)
	}
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
