package repo

import (
	"time"

	"funnel-bot/internal/domain"
)

// FlowStateRecord is the persisted purchase-funnel position of a subscriber.
// Absence of a record means IDLE.
type FlowStateRecord struct {
	SubscriberID    string
	State           domain.FlowState
	Product         domain.Product
	Country         string
	Method          string
	ProofReceivedAt *time.Time
	UpdatedAt       time.Time
}

// Order represents a row in purchase_orders.
type Order struct {
	ID             string
	SubscriberID   string
	BuyerName      string
	Email          string
	Phone          string
	Country        string
	PaymentMethod  string
	Amount         int64
	Product        domain.Product
	ProofReference string
	Status         domain.OrderStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// KnowledgeChunk is a retrievable snippet. Similarity is only set on search results.
type KnowledgeChunk struct {
	ID         string
	Content    string
	Source     string
	Category   string
	Embedding  []float32
	Similarity float64
	CreatedAt  time.Time
}

// Lead aggregates what is known about a subscriber as a sales prospect.
type Lead struct {
	SubscriberID        string
	Name                string
	Phone               string
	Qualified           bool
	PurchaseIntent      bool
	PaidSessionIntent   bool
	DiagnosticCompleted bool
	MessageCount        int
	LastIntent          domain.Intent
	HeatScore           int
	Priority            string
	LastInteractionAt   time.Time
	CreatedAt           time.Time
}

// Event is an append-only analytics record.
type Event struct {
	ID           string
	SubscriberID string
	Kind         string
	Intent       domain.Intent
	Emotion      domain.Emotion
	HeatScore    *int
	Payload      map[string]any
	CreatedAt    time.Time
}

// Email delivery statuses.
const (
	EmailSent   = "sent"
	EmailFailed = "failed"
)

// EmailLog records one delivery attempt sequence for an order.
type EmailLog struct {
	ID        string
	OrderID   string
	Recipient string
	Status    string
	Error     string
	Attempts  int
	CreatedAt time.Time
}
