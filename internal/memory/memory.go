// Package memory serves capped conversation history from a read-through cache in
// front of the durable turn log.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"funnel-bot/internal/domain"
)

// TurnLog is the durable, append-only tier.
type TurnLog interface {
	InsertTurn(ctx context.Context, turn domain.Turn) error
	ListRecentTurns(ctx context.Context, subscriberID string, limit int) ([]domain.Turn, error)
}

// Store implements GetHistory and AddMessage with write-invalidate caching.
type Store struct {
	log      TurnLog
	cache    Cache
	maxTurns int
	logger   *slog.Logger
	now      func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	loads map[string]*pendingLoad
}

// pendingLoad counts writes seen while a cache fill for one subscriber is running.
// Entries live only as long as a load is in flight.
type pendingLoad struct {
	refs   int
	writes uint64
}

// NewStore builds a store. maxTurns caps every history read and defaults to 10.
func NewStore(log TurnLog, cache Cache, maxTurns int, logger *slog.Logger) *Store {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &Store{
		log:      log,
		cache:    cache,
		maxTurns: maxTurns,
		logger:   logger.With("component", "memory"),
		now:      time.Now,
		loads:    make(map[string]*pendingLoad),
	}
}

// GetHistory returns at most limit turns, oldest first. A non-positive or oversized
// limit is clamped to the configured maximum.
func (s *Store) GetHistory(ctx context.Context, subscriberID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 || limit > s.maxTurns {
		limit = s.maxTurns
	}

	turns, ok, err := s.cache.Get(ctx, subscriberID)
	if err != nil {
		s.logger.Warn("history cache read failed", "subscriber_id", subscriberID, "error", err)
	}
	if !ok {
		v, err, _ := s.group.Do(subscriberID, func() (any, error) {
			return s.load(ctx, subscriberID)
		})
		if err != nil {
			return nil, err
		}
		turns = v.([]domain.Turn)
	}
	return tail(turns, limit), nil
}

func (s *Store) load(ctx context.Context, subscriberID string) ([]domain.Turn, error) {
	pending, start := s.beginLoad(subscriberID)

	newest, err := s.log.ListRecentTurns(ctx, subscriberID, s.maxTurns)
	stale := s.endLoad(subscriberID, pending, start)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := make([]domain.Turn, len(newest))
	for i, t := range newest {
		turns[len(newest)-1-i] = t
	}

	// A write that landed during the load invalidated what we just read.
	if !stale {
		if err := s.cache.Set(ctx, subscriberID, turns); err != nil {
			s.logger.Warn("history cache write failed", "subscriber_id", subscriberID, "error", err)
		}
	}
	return turns, nil
}

// AddMessage appends a turn and invalidates the subscriber's cached history.
func (s *Store) AddMessage(ctx context.Context, subscriberID string, role domain.Role, content string) error {
	err := s.log.InsertTurn(ctx, domain.Turn{
		SubscriberID: subscriberID,
		Role:         role,
		Content:      content,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	s.mu.Lock()
	if p, ok := s.loads[subscriberID]; ok {
		p.writes++
	}
	s.mu.Unlock()

	if err := s.cache.Delete(ctx, subscriberID); err != nil {
		s.logger.Warn("history cache invalidation failed", "subscriber_id", subscriberID, "error", err)
	}
	return nil
}

func (s *Store) beginLoad(subscriberID string) (*pendingLoad, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.loads[subscriberID]
	if !ok {
		p = &pendingLoad{}
		s.loads[subscriberID] = p
	}
	p.refs++
	return p, p.writes
}

// endLoad reports whether a write landed since beginLoad.
func (s *Store) endLoad(subscriberID string, p *pendingLoad, start uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.refs--
	if p.refs == 0 {
		delete(s.loads, subscriberID)
	}
	return p.writes != start
}

func (s *Store) pendingLoads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loads)
}

func tail(turns []domain.Turn, n int) []domain.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
