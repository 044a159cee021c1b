// Package session caches live conversation sessions in memory.
//
// The Store is sharded by session id. Each entry carries a FIFO hand-off
// lock so that messages for one session are processed one at a time in
// arrival order, while different sessions never wait on each other. An
// entry is only evicted when no caller holds or waits for it.
package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"yarn-agent/model"
)

const defaultShards = 16

type Config struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	Shards          int
}

type entry struct {
	session *model.Session
	// refs counts holders and waiters; eviction requires zero.
	refs    int
	locked  bool
	waiters []chan struct{}
	touched time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type Store struct {
	cfg    Config
	shards []*shard
	repo   Repository
	logger *zap.Logger
	now    func() time.Time

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewStore(cfg Config, repo Repository, logger *zap.Logger) *Store {
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		cfg:    cfg,
		shards: make([]*shard, cfg.Shards),
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Handle is exclusive access to one session until Release.
type Handle struct {
	store    *Store
	sh       *shard
	id       string
	e        *entry
	released bool
}

// Session returns the live session. It must not be used after Release.
func (h *Handle) Session() *model.Session { return h.e.session }

// Release hands the session to the next waiter, if any.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.store.unlock(h.sh, h.e)
}

// Acquire locks the session for id, loading it from the repository or
// creating it on first use. Callers for the same id are served in order.
func (s *Store) Acquire(ctx context.Context, id string) (*Handle, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: session id is empty", ErrInvalidParam)
	}
	sh := s.shardFor(id)
	e, err := s.lock(ctx, sh, id)
	if err != nil {
		return nil, err
	}
	h := &Handle{store: s, sh: sh, id: id, e: e}

	if e.session == nil {
		sess, err := s.load(ctx, id)
		if err != nil {
			h.Release()
			return nil, err
		}
		e.session = sess
	}
	e.session.LastActivity = s.now()
	return h, nil
}

func (s *Store) lock(ctx context.Context, sh *shard, id string) (*entry, error) {
	sh.mu.Lock()
	e, ok := sh.entries[id]
	if !ok {
		e = &entry{touched: s.now()}
		sh.entries[id] = e
	}
	e.refs++
	if !e.locked {
		e.locked = true
		sh.mu.Unlock()
		return e, nil
	}
	turn := make(chan struct{})
	e.waiters = append(e.waiters, turn)
	sh.mu.Unlock()

	select {
	case <-turn:
		return e, nil
	case <-ctx.Done():
		sh.mu.Lock()
		for i, w := range e.waiters {
			if w == turn {
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				e.refs--
				sh.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		sh.mu.Unlock()
		// The lock was handed to us while giving up; pass it on.
		s.unlock(sh, e)
		return nil, ctx.Err()
	}
}

func (s *Store) unlock(sh *shard, e *entry) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e.refs--
	e.touched = s.now()
	if len(e.waiters) > 0 {
		next := e.waiters[0]
		e.waiters = e.waiters[1:]
		close(next)
		return
	}
	e.locked = false
}

// load restores the step and saved answers from the repository, creating a
// record when none exists. Attempt counters always start at zero.
func (s *Store) load(ctx context.Context, id string) (*model.Session, error) {
	now := s.now()
	rec, err := s.repo.Get(ctx, id)
	switch {
	case err == nil:
		sess := model.NewSession(id, now)
		if rec.State.Valid() {
			sess.State = rec.State
		}
		for k, v := range rec.Answers {
			sess.Responses[k] = v
		}
		if !rec.CreatedAt.IsZero() {
			sess.CreatedAt = rec.CreatedAt
		}
		s.logger.Debug("[Session] restored", zap.String("session_id", id), zap.String("state", string(sess.State)))
		return sess, nil
	case errors.Is(err, ErrSessionNotFound):
		sess := model.NewSession(id, now)
		if err := s.repo.Create(ctx, id, sess.State); err != nil && !errors.Is(err, ErrSessionExists) {
			return nil, fmt.Errorf("create session %s: %w", id, err)
		}
		s.logger.Info("[Session] created", zap.String("session_id", id))
		return sess, nil
	default:
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
}

// Lookup returns a copy of the session without creating one. A session that
// is neither cached nor stored yields ErrSessionNotFound.
func (s *Store) Lookup(ctx context.Context, id string) (model.Session, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	_, cached := sh.entries[id]
	sh.mu.Unlock()

	if cached {
		h, err := s.Acquire(ctx, id)
		if err != nil {
			return model.Session{}, err
		}
		defer h.Release()
		return h.Session().Clone(), nil
	}

	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	sess := model.NewSession(id, rec.UpdatedAt)
	sess.State = rec.State
	for k, v := range rec.Answers {
		sess.Responses[k] = v
	}
	sess.CreatedAt = rec.CreatedAt
	return sess.Clone(), nil
}

// Len reports the number of cached sessions.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Evict drops idle entries older than the TTL and returns how many went.
func (s *Store) Evict() int {
	cutoff := s.now().Add(-s.cfg.TTL)
	evicted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			if e.refs == 0 && !e.locked && e.touched.Before(cutoff) {
				delete(sh.entries, id)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Start runs the eviction loop until Stop or ctx is done.
func (s *Store) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Evict(); n > 0 {
					s.logger.Info("[Session] evicted idle sessions", zap.Int("count", n), zap.Int("remaining", s.Len()))
				}
			}
		}
	}()
}

// Stop halts the eviction loop and waits for it to exit.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
	})
}
