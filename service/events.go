package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yarn-agent/model"
)

// EventSink receives analytics events. Record must not block and must not fail
// the caller.
type EventSink interface {
	Record(eventType string, payload map[string]any)
}

// EventStore is where AsyncSink writes events, e.g. dao.RedisEventSink.
type EventStore interface {
	Append(ctx context.Context, ev model.Event) error
}

type nopSink struct{}

func (nopSink) Record(string, map[string]any) {}

const (
	defaultEventBuffer  = 256
	defaultEventTimeout = 2 * time.Second
)

// AsyncSink queues events and writes them to an EventStore from one worker.
// Events are dropped when the queue is full.
type AsyncSink struct {
	store   EventStore
	logger  *zap.Logger
	metrics Recorder
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan model.Event
	done   chan struct{}
}

func NewAsyncSink(store EventStore, buffer int, logger *zap.Logger, metrics Recorder) *AsyncSink {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	s := &AsyncSink{
		store:   store,
		logger:  logger,
		metrics: metrics,
		timeout: defaultEventTimeout,
		now:     time.Now,
		queue:   make(chan model.Event, buffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) Record(eventType string, payload map[string]any) {
	ev := model.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: s.now(),
	}
	if id, ok := payload["session_id"].(string); ok {
		ev.SessionID = id
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.metrics.ObserveDroppedEvent(eventType)
		s.logger.Warn("[EventSink] queue full, dropping event", zap.String("type", eventType))
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		s.write(ev)
	}
}

func (s *AsyncSink) write(ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("[EventSink] store panicked", zap.Any("panic", r), zap.String("type", ev.Type))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.Append(ctx, ev); err != nil {
		s.metrics.ObserveDroppedEvent(ev.Type)
		s.logger.Warn("[EventSink] append failed", zap.Error(err), zap.String("type", ev.Type))
	}
}

// Close stops accepting events and waits until queued ones are written.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}

// LogStore writes events to the logger. The CLI uses it when Redis is off.
type LogStore struct {
	Logger *zap.Logger
}

func (l LogStore) Append(_ context.Context, ev model.Event) error {
	l.Logger.Info("[Event] "+ev.Type, zap.String("session_id", ev.SessionID), zap.Any("payload", ev.Payload))
	return nil
}
