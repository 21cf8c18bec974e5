package repo

import (
	"context"
	"io/fs"
	"sort"
	"sync"

	"funnel-bot/internal/domain"
)

// MemoryRepository keeps everything in process. It backs mock mode and tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	turns     map[string][]domain.Turn
	flows     map[string]FlowStateRecord
	orders    []Order
	chunks    []KnowledgeChunk
	leads     map[string]Lead
	events    []Event
	emailLogs []EmailLog
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemory returns an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		turns: make(map[string][]domain.Turn),
		flows: make(map[string]FlowStateRecord),
		leads: make(map[string]Lead),
	}
}

func (r *MemoryRepository) Close() {}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) RunMigrations(context.Context, fs.FS) error { return nil }

func (r *MemoryRepository) InsertTurn(_ context.Context, turn domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns[turn.SubscriberID] = append(r.turns[turn.SubscriberID], turn)
	return nil
}

func (r *MemoryRepository) ListRecentTurns(_ context.Context, subscriberID string, limit int) ([]domain.Turn, error) {
	limit = clampLimit(limit, 10)
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.turns[subscriberID]
	out := make([]domain.Turn, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (r *MemoryRepository) GetFlowState(_ context.Context, subscriberID string) (*FlowStateRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.flows[subscriberID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (r *MemoryRepository) SaveFlowState(_ context.Context, s FlowStateRecord) error {
	s.UpdatedAt = now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[s.SubscriberID] = s
	return nil
}

func (r *MemoryRepository) DeleteFlowState(_ context.Context, subscriberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, subscriberID)
	return nil
}

func (r *MemoryRepository) InsertOrder(_ context.Context, order Order) (*Order, error) {
	if order.ID == "" {
		order.ID = newID()
	}
	if order.Status == "" {
		order.Status = domain.OrderPending
	}
	order.CreatedAt = now()
	order.UpdatedAt = order.CreatedAt
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order)
	return &order, nil
}

func (r *MemoryRepository) GetOrderByID(_ context.Context, id string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.ID == id {
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) GetOpenOrder(_ context.Context, subscriberID string) (*Order, error) {
	return r.newestOrder(subscriberID, func(o Order) bool { return o.Status.Open() })
}

func (r *MemoryRepository) GetLatestOrder(_ context.Context, subscriberID string) (*Order, error) {
	return r.newestOrder(subscriberID, func(Order) bool { return true })
}

// newestOrder relies on orders being appended in creation order.
func (r *MemoryRepository) newestOrder(subscriberID string, match func(Order) bool) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.orders) - 1; i >= 0; i-- {
		o := r.orders[i]
		if o.SubscriberID == subscriberID && match(o) {
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) UpdateOrderStatus(_ context.Context, id string, status domain.OrderStatus, proofRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.orders {
		if r.orders[i].ID != id {
			continue
		}
		r.orders[i].Status = status
		if proofRef != "" {
			r.orders[i].ProofReference = proofRef
		}
		r.orders[i].UpdatedAt = now()
		return nil
	}
	return ErrNotFound
}

func (r *MemoryRepository) InsertKnowledgeChunk(_ context.Context, chunk KnowledgeChunk) (*KnowledgeChunk, error) {
	if chunk.ID == "" {
		chunk.ID = newID()
	}
	chunk.CreatedAt = now()
	chunk.Embedding = append([]float32(nil), chunk.Embedding...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
	return &chunk, nil
}

func (r *MemoryRepository) SearchKnowledge(_ context.Context, embedding []float32, threshold float64, limit int) ([]KnowledgeChunk, error) {
	r.mu.RLock()
	candidates := append([]KnowledgeChunk(nil), r.chunks...)
	r.mu.RUnlock()
	return rankChunks(candidates, embedding, threshold, clampLimit(limit, 5)), nil
}

func (r *MemoryRepository) GetLead(_ context.Context, subscriberID string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.leads[subscriberID]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (r *MemoryRepository) UpsertLead(_ context.Context, l Lead) error {
	ts := now()
	if l.LastInteractionAt.IsZero() {
		l.LastInteractionAt = ts
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.leads[l.SubscriberID]; ok {
		l.CreatedAt = prev.CreatedAt
	} else {
		l.CreatedAt = ts
	}
	r.leads[l.SubscriberID] = l
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, e Event) error {
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepository) ListEvents(_ context.Context, subscriberID string, limit int) ([]Event, error) {
	limit = clampLimit(limit, 50)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		if r.events[i].SubscriberID == subscriberID {
			out = append(out, r.events[i])
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertEmailLog(_ context.Context, l EmailLog) error {
	if l.ID == "" {
		l.ID = newID()
	}
	l.CreatedAt = now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emailLogs = append(r.emailLogs, l)
	return nil
}

func (r *MemoryRepository) ListEmailLogs(_ context.Context, orderID string) ([]EmailLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []EmailLog
	for _, l := range r.emailLogs {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Seed helpers for tests and local demos.

// SeedChunks inserts chunks verbatim.
func (r *MemoryRepository) SeedChunks(chunks ...KnowledgeChunk) {
	for _, c := range chunks {
		_, _ = r.InsertKnowledgeChunk(context.Background(), c)
	}
}

// Orders returns a snapshot of all orders, oldest first.
func (r *MemoryRepository) Orders() []Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Order(nil), r.orders...)
}
