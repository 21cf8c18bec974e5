package email

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"funnel-bot/internal/domain"
	"funnel-bot/internal/metrics"
	"funnel-bot/internal/repo"
	"funnel-bot/internal/retry"
)

var (
	// ErrAlreadySent is returned when the order already has a successful delivery.
	ErrAlreadySent = errors.New("delivery email already sent")
	// ErrDeliveryFailed is returned after every attempt failed.
	ErrDeliveryFailed = errors.New("delivery email failed")
	// ErrNoRecipient is returned for orders without an email address.
	ErrNoRecipient = errors.New("order has no email address")
)

// Orders is the persistence delivery needs.
type Orders interface {
	GetOrderByID(ctx context.Context, id string) (*repo.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, proofRef string) error
	InsertEmailLog(ctx context.Context, log repo.EmailLog) error
	ListEmailLogs(ctx context.Context, orderID string) ([]repo.EmailLog, error)
}

// Links are the download locations sent to buyers.
type Links struct {
	PDF   string
	Combo string
}

// Delivery approves orders and emails the purchased material.
type Delivery struct {
	orders  Orders
	sender  Sender
	links   Links
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDelivery wires the delivery service.
func NewDelivery(orders Orders, sender Sender, links Links, policy retry.Policy, m *metrics.Metrics, logger *slog.Logger) *Delivery {
	return &Delivery{
		orders:  orders,
		sender:  sender,
		links:   links,
		policy:  policy,
		metrics: m,
		logger:  logger.With("component", "delivery"),
	}
}

// Approve marks an order approved. Approving an approved or delivered order is a no-op.
func (d *Delivery) Approve(ctx context.Context, orderID string) (*repo.Order, error) {
	order, err := d.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order.Status.Completed() {
		return order, nil
	}
	if err := d.orders.UpdateOrderStatus(ctx, order.ID, domain.OrderApproved, ""); err != nil {
		return nil, fmt.Errorf("approve order: %w", err)
	}
	order.Status = domain.OrderApproved
	d.logger.Info("order approved", "order_id", order.ID, "subscriber_id", order.SubscriberID)
	return order, nil
}

// Result describes a finished delivery.
type Result struct {
	Order     *repo.Order
	MessageID string
	Attempts  int
}

// Deliver emails the download links for an order, retrying with the configured policy.
// Every outcome is written to the email log; on success the order becomes delivered.
func (d *Delivery) Deliver(ctx context.Context, orderID string) (*Result, error) {
	order, err := d.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	logs, err := d.orders.ListEmailLogs(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load email logs: %w", err)
	}
	for _, l := range logs {
		if l.Status == repo.EmailSent {
			return nil, ErrAlreadySent
		}
	}
	if strings.TrimSpace(order.Email) == "" {
		return nil, ErrNoRecipient
	}

	msg := d.compose(order)
	var messageID string
	attempts, sendErr := retry.Do(ctx, d.policy, func(ctx context.Context, attempt int) error {
		id, err := d.sender.Send(ctx, msg)
		if err != nil {
			d.logger.Warn("delivery attempt failed", "order_id", order.ID, "attempt", attempt, "error", err)
			if errors.Is(err, ErrRejected) {
				return retry.Permanent(err)
			}
			return err
		}
		messageID = id
		return nil
	})

	entry := repo.EmailLog{OrderID: order.ID, Recipient: order.Email, Status: repo.EmailSent, Attempts: attempts}
	if sendErr != nil {
		entry.Status = repo.EmailFailed
		entry.Error = sendErr.Error()
	}
	if err := d.orders.InsertEmailLog(ctx, entry); err != nil {
		d.logger.Error("write email log failed", "order_id", order.ID, "error", err)
		d.metrics.Error("delivery")
	}
	if d.metrics != nil {
		d.metrics.EmailDeliveries.WithLabelValues(entry.Status).Inc()
	}
	if sendErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, sendErr)
	}

	if err := d.orders.UpdateOrderStatus(ctx, order.ID, domain.OrderDelivered, ""); err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}
	order.Status = domain.OrderDelivered
	d.logger.Info("order delivered", "order_id", order.ID, "attempts", attempts)
	return &Result{Order: order, MessageID: messageID, Attempts: attempts}, nil
}

func (d *Delivery) compose(order *repo.Order) Message {
	links := []string{d.links.PDF}
	if order.Product == domain.ProductCombo && d.links.Combo != "" {
		links = append(links, d.links.Combo)
	}
	name := strings.TrimSpace(order.BuyerName)
	if name == "" {
		name = "trader"
	}

	var text, body strings.Builder
	fmt.Fprintf(&text, "Hola %s,\n\n¡Gracias por tu compra! Aquí tienes tu acceso:\n", name)
	fmt.Fprintf(&body, "<p>Hola %s,</p><p>¡Gracias por tu compra! Aquí tienes tu acceso:</p><ul>", html.EscapeString(name))
	for _, link := range links {
		if link == "" {
			continue
		}
		fmt.Fprintf(&text, "- %s\n", link)
		fmt.Fprintf(&body, `<li><a href="%s">%s</a></li>`, html.EscapeString(link), html.EscapeString(link))
	}
	text.WriteString("\nÉxitos en tu camino como trader.\n")
	body.WriteString("</ul><p>Éxitos en tu camino como trader.</p>")

	return Message{
		To:      order.Email,
		Subject: "Tu acceso al libro de trading",
		HTML:    body.String(),
		Text:    text.String(),
	}
}
