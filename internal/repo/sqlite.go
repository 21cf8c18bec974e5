package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"funnel-bot/internal/domain"
)

// SQLiteRepository provides access to a local SQLite database.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLite opens a new connection to the SQLite database.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteRepository, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent webhook traffic.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		logger: logger.With("component", "repo_sqlite"),
	}, nil
}

// Close releases the database connection.
func (r *SQLiteRepository) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

// Ping ensures the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations applies every file under sqlite/ in lexicographical order.
func (r *SQLiteRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	sub, err := fs.Sub(filesystem, "sqlite")
	if err != nil {
		return fmt.Errorf("open sqlite migrations: %w", err)
	}
	return eachMigration(sub, func(name, content string) error {
		if _, err := r.db.ExecContext(ctx, content); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		return nil
	})
}

func now() time.Time {
	return time.Now().UTC()
}

// -- Turns --

func (r *SQLiteRepository) InsertTurn(ctx context.Context, turn domain.Turn) error {
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = now()
	}
	const q = `INSERT INTO conversation_turns (subscriber_id, role, content, created_at) VALUES (?, ?, ?, ?);`
	if _, err := r.db.ExecContext(ctx, q, turn.SubscriberID, string(turn.Role), turn.Content, createdAt.UTC()); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListRecentTurns(ctx context.Context, subscriberID string, limit int) ([]domain.Turn, error) {
	const q = `
SELECT role, content, created_at
FROM conversation_turns
WHERE subscriber_id = ?
ORDER BY id DESC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, subscriberID, clampLimit(limit, 10))
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

func (r *SQLiteRepository) GetFlowState(ctx context.Context, subscriberID string) (*FlowStateRecord, error) {
	const q = `
SELECT state, selected_product, selected_country, selected_method, proof_received_at, updated_at
FROM flow_states
WHERE subscriber_id = ?;
`
	var state, product string
	var proof sql.NullTime
	rec := FlowStateRecord{SubscriberID: subscriberID}
	err := r.db.QueryRowContext(ctx, q, subscriberID).Scan(&state, &product, &rec.Country, &rec.Method, &proof, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get flow state: %w", err)
	}
	rec.State = domain.FlowState(state)
	rec.Product, _ = domain.ParseProduct(product)
	if proof.Valid {
		t := proof.Time
		rec.ProofReceivedAt = &t
	}
	return &rec, nil
}

func (r *SQLiteRepository) SaveFlowState(ctx context.Context, s FlowStateRecord) error {
	const q = `
INSERT INTO flow_states (subscriber_id, state, selected_product, selected_country, selected_method, proof_received_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (subscriber_id) DO UPDATE SET
    state = excluded.state,
    selected_product = excluded.selected_product,
    selected_country = excluded.selected_country,
    selected_method = excluded.selected_method,
    proof_received_at = excluded.proof_received_at,
    updated_at = excluded.updated_at;
`
	var proof sql.NullTime
	if s.ProofReceivedAt != nil {
		proof = sql.NullTime{Time: s.ProofReceivedAt.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q, s.SubscriberID, string(s.State), string(s.Product), s.Country, s.Method, proof, now())
	if err != nil {
		return fmt.Errorf("save flow state: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteFlowState(ctx context.Context, subscriberID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM flow_states WHERE subscriber_id = ?`, subscriberID); err != nil {
		return fmt.Errorf("delete flow state: %w", err)
	}
	return nil
}

// -- Orders --

func scanSQLiteOrder(row interface{ Scan(...any) error }) (*Order, error) {
	var o Order
	var product, status string
	if err := row.Scan(&o.ID, &o.SubscriberID, &o.BuyerName, &o.Email, &o.Phone, &o.Country, &o.PaymentMethod, &o.Amount, &product, &o.ProofReference, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Product, _ = domain.ParseProduct(product)
	o.Status, _ = domain.ParseOrderStatus(status)
	return &o, nil
}

func (r *SQLiteRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	if order.ID == "" {
		order.ID = newID()
	}
	if order.Status == "" {
		order.Status = domain.OrderPending
	}
	ts := now()
	const q = `
INSERT INTO purchase_orders (id, subscriber_id, buyer_name, email, phone, country, payment_method, amount, product, proof_reference, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err := r.db.ExecContext(ctx, q,
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
		ts,
		ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	order.CreatedAt = ts
	order.UpdatedAt = ts
	return &order, nil
}

func (r *SQLiteRepository) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	q := `SELECT ` + orderColumns + ` FROM purchase_orders WHERE id = ?;`
	return r.queryOrder(ctx, "get order by id", q, id)
}

func (r *SQLiteRepository) GetOpenOrder(ctx context.Context, subscriberID string) (*Order, error) {
	q := `SELECT ` + orderColumns + `
FROM purchase_orders
WHERE subscriber_id = ? AND status IN ('pending', 'proof_submitted')
ORDER BY created_at DESC, rowid DESC
LIMIT 1;`
	return r.queryOrder(ctx, "get open order", q, subscriberID)
}

func (r *SQLiteRepository) GetLatestOrder(ctx context.Context, subscriberID string) (*Order, error) {
	q := `SELECT ` + orderColumns + `
FROM purchase_orders
WHERE subscriber_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT 1;`
	return r.queryOrder(ctx, "get latest order", q, subscriberID)
}

func (r *SQLiteRepository) queryOrder(ctx context.Context, op, q string, arg any) (*Order, error) {
	o, err := scanSQLiteOrder(r.db.QueryRowContext(ctx, q, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

func (r *SQLiteRepository) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, proofRef string) error {
	const q = `
UPDATE purchase_orders
SET status = ?,
    proof_reference = CASE WHEN ? = '' THEN proof_reference ELSE ? END,
    updated_at = ?
WHERE id = ?;
`
	res, err := r.db.ExecContext(ctx, q, string(status), proofRef, proofRef, now(), id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Knowledge --

func (r *SQLiteRepository) InsertKnowledgeChunk(ctx context.Context, chunk KnowledgeChunk) (*KnowledgeChunk, error) {
	if chunk.ID == "" {
		chunk.ID = newID()
	}
	vec, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding: %w", err)
	}
	chunk.CreatedAt = now()
	const q = `INSERT INTO knowledge_chunks (id, content, source, category, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?);`
	if _, err := r.db.ExecContext(ctx, q, chunk.ID, chunk.Content, chunk.Source, chunk.Category, string(vec), chunk.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert knowledge chunk: %w", err)
	}
	return &chunk, nil
}

// SearchKnowledge scans every chunk and ranks them by cosine similarity in process.
func (r *SQLiteRepository) SearchKnowledge(ctx context.Context, embedding []float32, threshold float64, limit int) ([]KnowledgeChunk, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, content, source, category, embedding FROM knowledge_chunks;`)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var candidates []KnowledgeChunk
	for rows.Next() {
		var c KnowledgeChunk
		var vec string
		if err := rows.Scan(&c.ID, &c.Content, &c.Source, &c.Category, &vec); err != nil {
			return nil, fmt.Errorf("scan knowledge chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(vec), &c.Embedding); err != nil {
			r.logger.Warn("skipping chunk with unreadable embedding", "id", c.ID, "error", err)
			continue
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge chunks: %w", err)
	}
	return rankChunks(candidates, embedding, threshold, clampLimit(limit, 5)), nil
}

// -- Leads --

func (r *SQLiteRepository) GetLead(ctx context.Context, subscriberID string) (*Lead, error) {
	const q = `
SELECT subscriber_id, name, phone, qualified, purchase_intent, paid_session_intent, diagnostic_completed,
       message_count, last_intent, heat_score, priority, last_interaction_at, created_at
FROM leads
WHERE subscriber_id = ?;
`
	var l Lead
	var intent string
	err := r.db.QueryRowContext(ctx, q, subscriberID).Scan(&l.SubscriberID, &l.Name, &l.Phone, &l.Qualified, &l.PurchaseIntent,
		&l.PaidSessionIntent, &l.DiagnosticCompleted, &l.MessageCount, &intent, &l.HeatScore, &l.Priority,
		&l.LastInteractionAt, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}
	l.LastIntent = domain.Intent(intent)
	return &l, nil
}

func (r *SQLiteRepository) UpsertLead(ctx context.Context, l Lead) error {
	ts := now()
	if l.LastInteractionAt.IsZero() {
		l.LastInteractionAt = ts
	}
	const q = `
INSERT INTO leads (subscriber_id, name, phone, qualified, purchase_intent, paid_session_intent, diagnostic_completed,
                   message_count, last_intent, heat_score, priority, last_interaction_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (subscriber_id) DO UPDATE SET
    name = excluded.name,
    phone = excluded.phone,
    qualified = excluded.qualified,
    purchase_intent = excluded.purchase_intent,
    paid_session_intent = excluded.paid_session_intent,
    diagnostic_completed = excluded.diagnostic_completed,
    message_count = excluded.message_count,
    last_intent = excluded.last_intent,
    heat_score = excluded.heat_score,
    priority = excluded.priority,
    last_interaction_at = excluded.last_interaction_at;
`
	_, err := r.db.ExecContext(ctx, q, l.SubscriberID, l.Name, l.Phone, l.Qualified, l.PurchaseIntent, l.PaidSessionIntent,
		l.DiagnosticCompleted, l.MessageCount, string(l.LastIntent), l.HeatScore, l.Priority, l.LastInteractionAt.UTC(), ts)
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	return nil
}

// -- Analytics --

func (r *SQLiteRepository) InsertEvent(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = newID()
	}
	payload, err := toJSON(e.Payload)
	if err != nil {
		return err
	}
	var heat sql.NullInt64
	if e.HeatScore != nil {
		heat = sql.NullInt64{Int64: int64(*e.HeatScore), Valid: true}
	}
	const q = `
INSERT INTO analytics_events (id, subscriber_id, kind, intent, emotion, heat_score, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = r.db.ExecContext(ctx, q, e.ID, e.SubscriberID, e.Kind, string(e.Intent), string(e.Emotion), heat, jsonParam(payload), now())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListEvents(ctx context.Context, subscriberID string, limit int) ([]Event, error) {
	const q = `
SELECT id, kind, intent, emotion, heat_score, payload, created_at
FROM analytics_events
WHERE subscriber_id = ?
ORDER BY created_at DESC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, subscriberID, clampLimit(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e := Event{SubscriberID: subscriberID}
		var intent, emotion string
		var heat sql.NullInt64
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &intent, &emotion, &heat, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Intent = domain.Intent(intent)
		e.Emotion = domain.Emotion(emotion)
		if heat.Valid {
			v := int(heat.Int64)
			e.HeatScore = &v
		}
		if payload.Valid {
			e.Payload = fromJSON([]byte(payload.String))
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// -- Email logs --

func (r *SQLiteRepository) InsertEmailLog(ctx context.Context, l EmailLog) error {
	if l.ID == "" {
		l.ID = newID()
	}
	const q = `
INSERT INTO email_logs (id, order_id, recipient, status, error, attempts, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?);
`
	if _, err := r.db.ExecContext(ctx, q, l.ID, l.OrderID, l.Recipient, l.Status, l.Error, l.Attempts, now()); err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListEmailLogs(ctx context.Context, orderID string) ([]EmailLog, error) {
	const q = `
SELECT id, order_id, recipient, status, error, attempts, created_at
FROM email_logs
WHERE order_id = ?
ORDER BY created_at ASC;
`
	rows, err := r.db.QueryContext(ctx, q, orderID)
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
