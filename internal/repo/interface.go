package repo

import (
	"context"
	"errors"
	"io/fs"

	"funnel-bot/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Conversation turns. ListRecentTurns returns newest first.
	InsertTurn(ctx context.Context, turn domain.Turn) error
	ListRecentTurns(ctx context.Context, subscriberID string, limit int) ([]domain.Turn, error)

	// Flow state
	GetFlowState(ctx context.Context, subscriberID string) (*FlowStateRecord, error)
	SaveFlowState(ctx context.Context, state FlowStateRecord) error
	DeleteFlowState(ctx context.Context, subscriberID string) error

	// Orders. GetOpenOrder returns the newest pending or proof_submitted order.
	InsertOrder(ctx context.Context, order Order) (*Order, error)
	GetOrderByID(ctx context.Context, id string) (*Order, error)
	GetOpenOrder(ctx context.Context, subscriberID string) (*Order, error)
	GetLatestOrder(ctx context.Context, subscriberID string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, proofRef string) error

	// Knowledge
	InsertKnowledgeChunk(ctx context.Context, chunk KnowledgeChunk) (*KnowledgeChunk, error)
	SearchKnowledge(ctx context.Context, embedding []float32, threshold float64, limit int) ([]KnowledgeChunk, error)

	// Leads
	GetLead(ctx context.Context, subscriberID string) (*Lead, error)
	UpsertLead(ctx context.Context, lead Lead) error

	// Analytics
	InsertEvent(ctx context.Context, event Event) error
	ListEvents(ctx context.Context, subscriberID string, limit int) ([]Event, error)

	// Email logs, oldest first.
	InsertEmailLog(ctx context.Context, log EmailLog) error
	ListEmailLogs(ctx context.Context, orderID string) ([]EmailLog, error)
}
