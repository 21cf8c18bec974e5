package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"funnel-bot/internal/domain"
)

// PostgresRepository provides typed access to Postgres resources.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

var _ Repository = (*PostgresRepository)(nil)

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem)
}

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// -- Turns --

// InsertTurn appends a conversation turn.
func (r *PostgresRepository) InsertTurn(ctx context.Context, turn domain.Turn) error {
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	const q = `
INSERT INTO conversation_turns (subscriber_id, role, content, created_at)
VALUES ($1, $2, $3, $4);
`
	if _, err := r.pool.Exec(ctx, q, turn.SubscriberID, string(turn.Role), turn.Content, createdAt); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// ListRecentTurns returns the latest turns of the subscriber, newest first.
func (r *PostgresRepository) ListRecentTurns(ctx context.Context, subscriberID string, limit int) ([]domain.Turn, error) {
	const q = `
SELECT role, content, created_at
FROM conversation_turns
WHERE subscriber_id = $1
ORDER BY id DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, subscriberID, clampLimit(limit, 10))
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var role string
		t := domain.Turn{SubscriberID: subscriberID}
		if err := rows.Scan(&role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent turn: %w", err)
		}
		t.Role, _ = domain.ParseRole(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent turns: %w", err)
	}
	return turns, nil
}

// -- Flow state --

// GetFlowState returns ErrNotFound when the subscriber is idle.
func (r *PostgresRepository) GetFlowState(ctx context.Context, subscriberID string) (*FlowStateRecord, error) {
	const q = `
SELECT state, selected_product, selected_country, selected_method, proof_received_at, updated_at
FROM flow_states
WHERE subscriber_id = $1;
`
	var state, product string
	rec := FlowStateRecord{SubscriberID: subscriberID}
	err := r.pool.QueryRow(ctx, q, subscriberID).Scan(&state, &product, &rec.Country, &rec.Method, &rec.ProofReceivedAt, &rec.UpdatedAt)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get flow state: %w", err)
	}
	rec.State = domain.FlowState(state)
	rec.Product, _ = domain.ParseProduct(product)
	return &rec, nil
}

// SaveFlowState inserts or replaces the subscriber's flow state.
func (r *PostgresRepository) SaveFlowState(ctx context.Context, s FlowStateRecord) error {
	const q = `
INSERT INTO flow_states (subscriber_id, state, selected_product, selected_country, selected_method, proof_received_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (subscriber_id) DO UPDATE SET
    state = EXCLUDED.state,
    selected_product = EXCLUDED.selected_product,
    selected_country = EXCLUDED.selected_country,
    selected_method = EXCLUDED.selected_method,
    proof_received_at = EXCLUDED.proof_received_at,
    updated_at = NOW();
`
	_, err := r.pool.Exec(ctx, q, s.SubscriberID, string(s.State), string(s.Product), s.Country, s.Method, s.ProofReceivedAt)
	if err != nil {
		return fmt.Errorf("save flow state: %w", err)
	}
	return nil
}

// DeleteFlowState returns the subscriber to IDLE.
func (r *PostgresRepository) DeleteFlowState(ctx context.Context, subscriberID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM flow_states WHERE subscriber_id = $1`, subscriberID); err != nil {
		return fmt.Errorf("delete flow state: %w", err)
	}
	return nil
}

// -- Orders --

const orderColumns = `id, subscriber_id, buyer_name, email, phone, country, payment_method, amount, product, proof_reference, status, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var product, status string
	if err := row.Scan(&o.ID, &o.SubscriberID, &o.BuyerName, &o.Email, &o.Phone, &o.Country, &o.PaymentMethod, &o.Amount, &product, &o.ProofReference, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Product, _ = domain.ParseProduct(product)
	o.Status, _ = domain.ParseOrderStatus(status)
	return &o, nil
}

// InsertOrder creates a new order record.
func (r *PostgresRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	if order.ID == "" {
		order.ID = newID()
	}
	if order.Status == "" {
		order.Status = domain.OrderPending
	}
	q := `
INSERT INTO purchase_orders (id, subscriber_id, buyer_name, email, phone, country, payment_method, amount, product, proof_reference, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + orderColumns + `;`
	row := r.pool.QueryRow(ctx, q,
		order.ID,
		order.SubscriberID,
		order.BuyerName,
		order.Email,
		order.Phone,
		order.Country,
		order.PaymentMethod,
		order.Amount,
		string(order.Product),
		order.ProofReference,
		string(order.Status),
	)
	inserted, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return inserted, nil
}

// GetOrderByID retrieves an order by id.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM purchase_orders WHERE id = $1;`
	return r.queryOrder(ctx, "get order by id", q, id)
}

// GetOpenOrder returns the newest order still waiting on the buyer or on review.
func (r *PostgresRepository) GetOpenOrder(ctx context.Context, subscriberID string) (*Order, error) {
	q := `SELECT ` + orderColumns + `
FROM purchase_orders
WHERE subscriber_id = $1 AND status IN ('pending', 'proof_submitted')
ORDER BY created_at DESC
LIMIT 1;`
	return r.queryOrder(ctx, "get open order", q, subscriberID)
}

// GetLatestOrder returns the newest order of the subscriber regardless of status.
func (r *PostgresRepository) GetLatestOrder(ctx context.Context, subscriberID string) (*Order, error) {
	q := `SELECT ` + orderColumns + `
FROM purchase_orders
WHERE subscriber_id = $1
ORDER BY created_at DESC
LIMIT 1;`
	return r.queryOrder(ctx, "get latest order", q, subscriberID)
}

func (r *PostgresRepository) queryOrder(ctx context.Context, op, q string, arg any) (*Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, q, arg))
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

// UpdateOrderStatus sets the status and, when proofRef is non-empty, the proof reference.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, proofRef string) error {
	const q = `
UPDATE purchase_orders
SET status = $2,
    proof_reference = CASE WHEN $3 = '' THEN proof_reference ELSE $3 END,
    updated_at = NOW()
WHERE id = $1;
`
	ct, err := r.pool.Exec(ctx, q, id, string(status), proofRef)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Knowledge --

// InsertKnowledgeChunk stores a chunk and its embedding.
func (r *PostgresRepository) InsertKnowledgeChunk(ctx context.Context, chunk KnowledgeChunk) (*KnowledgeChunk, error) {
	if chunk.ID == "" {
		chunk.ID = newID()
	}
	const q = `
INSERT INTO knowledge_chunks (id, content, source, category, embedding)
VALUES ($1, $2, $3, $4, $5::vector)
RETURNING created_at;
`
	err := r.pool.QueryRow(ctx, q, chunk.ID, chunk.Content, chunk.Source, chunk.Category, pgvector.NewVector(chunk.Embedding)).Scan(&chunk.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert knowledge chunk: %w", err)
	}
	return &chunk, nil
}

// SearchKnowledge returns chunks whose cosine similarity to embedding is at least threshold.
func (r *PostgresRepository) SearchKnowledge(ctx context.Context, embedding []float32, threshold float64, limit int) ([]KnowledgeChunk, error) {
	const q = `
SELECT id, content, source, category, 1 - (embedding <=> $1::vector) AS similarity
FROM knowledge_chunks
WHERE 1 - (embedding <=> $1::vector) >= $2
ORDER BY embedding <=> $1::vector
LIMIT $3;
`
	rows, err := r.pool.Query(ctx, q, pgvector.NewVector(embedding), threshold, clampLimit(limit, 5))
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var chunks []KnowledgeChunk
	for rows.Next() {
		var c KnowledgeChunk
		if err := rows.Scan(&c.ID, &c.Content, &c.Source, &c.Category, &c.Similarity); err != nil {
			return nil, fmt.Errorf("scan knowledge chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge chunks: %w", err)
	}
	return chunks, nil
}

// -- Leads --

// GetLead returns ErrNotFound for subscribers never seen before.
func (r *PostgresRepository) GetLead(ctx context.Context, subscriberID string) (*Lead, error) {
	const q = `
SELECT subscriber_id, name, phone, qualified, purchase_intent, paid_session_intent, diagnostic_completed,
       message_count, last_intent, heat_score, priority, last_interaction_at, created_at
FROM leads
WHERE subscriber_id = $1;
`
	var l Lead
	var intent string
	err := r.pool.QueryRow(ctx, q, subscriberID).Scan(&l.SubscriberID, &l.Name, &l.Phone, &l.Qualified, &l.PurchaseIntent,
		&l.PaidSessionIntent, &l.DiagnosticCompleted, &l.MessageCount, &intent, &l.HeatScore, &l.Priority,
		&l.LastInteractionAt, &l.CreatedAt)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}
	l.LastIntent = domain.Intent(intent)
	return &l, nil
}

// UpsertLead stores the full lead record.
func (r *PostgresRepository) UpsertLead(ctx context.Context, l Lead) error {
	if l.LastInteractionAt.IsZero() {
		l.LastInteractionAt = time.Now().UTC()
	}
	const q = `
INSERT INTO leads (subscriber_id, name, phone, qualified, purchase_intent, paid_session_intent, diagnostic_completed,
                   message_count, last_intent, heat_score, priority, last_interaction_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (subscriber_id) DO UPDATE SET
    name = EXCLUDED.name,
    phone = EXCLUDED.phone,
    qualified = EXCLUDED.qualified,
    purchase_intent = EXCLUDED.purchase_intent,
    paid_session_intent = EXCLUDED.paid_session_intent,
    diagnostic_completed = EXCLUDED.diagnostic_completed,
    message_count = EXCLUDED.message_count,
    last_intent = EXCLUDED.last_intent,
    heat_score = EXCLUDED.heat_score,
    priority = EXCLUDED.priority,
    last_interaction_at = EXCLUDED.last_interaction_at;
`
	_, err := r.pool.Exec(ctx, q, l.SubscriberID, l.Name, l.Phone, l.Qualified, l.PurchaseIntent, l.PaidSessionIntent,
		l.DiagnosticCompleted, l.MessageCount, string(l.LastIntent), l.HeatScore, l.Priority, l.LastInteractionAt)
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	return nil
}

// -- Analytics --

// InsertEvent appends an analytics event.
func (r *PostgresRepository) InsertEvent(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = newID()
	}
	payload, err := toJSON(e.Payload)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO analytics_events (id, subscriber_id, kind, intent, emotion, heat_score, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err = r.pool.Exec(ctx, q, e.ID, e.SubscriberID, e.Kind, string(e.Intent), string(e.Emotion), e.HeatScore, jsonParam(payload))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns the subscriber's latest events, newest first.
func (r *PostgresRepository) ListEvents(ctx context.Context, subscriberID string, limit int) ([]Event, error) {
	const q = `
SELECT id, kind, intent, emotion, heat_score, payload, created_at
FROM analytics_events
WHERE subscriber_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, subscriberID, clampLimit(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e := Event{SubscriberID: subscriberID}
		var intent, emotion string
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Kind, &intent, &emotion, &e.HeatScore, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Intent = domain.Intent(intent)
		e.Emotion = domain.Emotion(emotion)
		e.Payload = fromJSON(payload)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// -- Email logs --

// InsertEmailLog records the outcome of a delivery.
func (r *PostgresRepository) InsertEmailLog(ctx context.Context, l EmailLog) error {
	if l.ID == "" {
		l.ID = newID()
	}
	const q = `
INSERT INTO email_logs (id, order_id, recipient, status, error, attempts)
VALUES ($1, $2, $3, $4, $5, $6);
`
	if _, err := r.pool.Exec(ctx, q, l.ID, l.OrderID, l.Recipient, l.Status, l.Error, l.Attempts); err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

// ListEmailLogs returns every log of the order, oldest first.
func (r *PostgresRepository) ListEmailLogs(ctx context.Context, orderID string) ([]EmailLog, error) {
	const q = `
SELECT id, order_id, recipient, status, error, attempts, created_at
FROM email_logs
WHERE order_id = $1
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("list email logs: %w", err)
	}
	defer rows.Close()

	var logs []EmailLog
	for rows.Next() {
		var l EmailLog
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Recipient, &l.Status, &l.Error, &l.Attempts, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan email log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate email logs: %w", err)
	}
	return logs, nil
}
