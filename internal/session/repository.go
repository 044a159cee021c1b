package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"yarn-agent/model"
)

var (
	// ErrSessionNotFound means the repository has no record for the id.
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrInvalidParam    = errors.New("invalid parameter")
)

// Repository is the durable store behind the in-memory cache.
type Repository interface {
	Get(ctx context.Context, id string) (*model.SessionRecord, error)
	Create(ctx context.Context, id string, initial model.Step) error
	UpdateState(ctx context.Context, id string, state model.Step) error
	SaveAnswer(ctx context.Context, id string, step model.Step, answer string) error
}

// MemoryRepository keeps records in process. Used by the CLI and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*model.SessionRecord
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*model.SessionRecord), now: time.Now}
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*model.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	c := *rec
	c.Answers = make(map[model.Step]string, len(rec.Answers))
	for k, v := range rec.Answers {
		c.Answers[k] = v
	}
	return &c, nil
}

func (r *MemoryRepository) Create(_ context.Context, id string, initial model.Step) error {
	if id == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidParam)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	now := r.now()
	r.records[id] = &model.SessionRecord{
		ID:        id,
		State:     initial,
		Answers:   make(map[model.Step]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// UpdateState only moves a record forward along the step order.
func (r *MemoryRepository) UpdateState(_ context.Context, id string, state model.Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if state.Index() > rec.State.Index() {
		rec.State = state
		rec.UpdatedAt = r.now()
	}
	return nil
}

func (r *MemoryRepository) SaveAnswer(_ context.Context, id string, step model.Step, answer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	rec.Answers[step] = answer
	rec.UpdatedAt = r.now()
	return nil
}
