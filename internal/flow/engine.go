// Package flow runs the book purchase funnel: country, payment method, buyer data,
// proof of payment and post-sale follow-up.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"funnel-bot/internal/domain"
	"funnel-bot/internal/metrics"
	"funnel-bot/internal/notify"
	"funnel-bot/internal/repo"
)

// Store is the persistence the funnel needs.
type Store interface {
	GetFlowState(ctx context.Context, subscriberID string) (*repo.FlowStateRecord, error)
	SaveFlowState(ctx context.Context, state repo.FlowStateRecord) error
	DeleteFlowState(ctx context.Context, subscriberID string) error
	InsertOrder(ctx context.Context, order repo.Order) (*repo.Order, error)
	GetOpenOrder(ctx context.Context, subscriberID string) (*repo.Order, error)
	GetLatestOrder(ctx context.Context, subscriberID string) (*repo.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, proofRef string) error
}

// Config tunes the engine.
type Config struct {
	Catalog  Catalog
	Matchers *Matchers
	// MockMode approves orders as soon as a proof arrives.
	MockMode bool
}

// Result is the outcome of handling one message.
type Result struct {
	Handled bool
	Reply   string
	From    domain.FlowState
	To      domain.FlowState
	OrderID string
}

// Engine applies machine decisions against the store.
type Engine struct {
	store    Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	machine  *Machine
	catalog  Catalog
	mockMode bool
	now      func() time.Time
}

// NewEngine constructs the funnel engine.
func NewEngine(cfg Config, store Store, notifier notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *Engine {
	match := DefaultMatchers(cfg.Catalog.Prices)
	if cfg.Matchers != nil {
		match = *cfg.Matchers
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With("component", "flow"),
		machine:  NewMachine(match, cfg.Catalog),
		catalog:  cfg.Catalog,
		mockMode: cfg.MockMode,
		now:      time.Now,
	}
}

// State returns the current funnel state, FlowIdle when none is stored. A record
// holding an unrecognised state is cleared and reported as FlowIdle.
func (e *Engine) State(ctx context.Context, subscriberID string) (domain.FlowState, error) {
	rec, err := e.store.GetFlowState(ctx, subscriberID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.FlowIdle, nil
	}
	if err != nil {
		return domain.FlowIdle, fmt.Errorf("load flow state: %w", err)
	}
	state, ok := domain.ParseFlowState(string(rec.State))
	if !ok {
		return domain.FlowIdle, e.dropUnknown(ctx, subscriberID, rec.State)
	}
	return state, nil
}

func (e *Engine) dropUnknown(ctx context.Context, subscriberID string, state domain.FlowState) error {
	e.logger.Warn("unknown flow state, clearing", "subscriber_id", subscriberID, "state", string(state))
	e.metrics.Error("flow")
	if err := e.store.DeleteFlowState(ctx, subscriberID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("clear unknown flow state: %w", err)
	}
	return nil
}

// Start enters the funnel and returns the country prompt.
func (e *Engine) Start(ctx context.Context, subscriberID string, product domain.Product) (string, error) {
	rec := repo.FlowStateRecord{
		SubscriberID: subscriberID,
		State:        domain.FlowCountry,
		Product:      product,
		UpdatedAt:    e.now().UTC(),
	}
	if err := e.store.SaveFlowState(ctx, rec); err != nil {
		return "", fmt.Errorf("start flow: %w", err)
	}
	e.transition(domain.FlowIdle, domain.FlowCountry)
	e.logger.Info("purchase flow started", "subscriber_id", subscriberID, "product", product)
	return e.catalog.countryPrompt(product), nil
}

// Handle runs msg through the funnel. Result.Handled is false when the subscriber
// is idle, the stored state is unknown, or the message left the funnel.
func (e *Engine) Handle(ctx context.Context, msg domain.InboundMessage) (Result, error) {
	rec, err := e.store.GetFlowState(ctx, msg.SubscriberID)
	if errors.Is(err, repo.ErrNotFound) {
		return Result{From: domain.FlowIdle, To: domain.FlowIdle}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load flow state: %w", err)
	}

	in := Input{
		State:       *rec,
		Text:        msg.Text,
		DisplayName: msg.DisplayName,
		Now:         e.now().UTC(),
	}
	switch rec.State {
	case domain.FlowData, domain.FlowProof:
		if in.OpenOrder, err = e.optionalOrder(e.store.GetOpenOrder(ctx, msg.SubscriberID)); err != nil {
			return Result{}, fmt.Errorf("load open order: %w", err)
		}
	case domain.FlowPostSale:
		if in.LatestOrder, err = e.optionalOrder(e.store.GetLatestOrder(ctx, msg.SubscriberID)); err != nil {
			return Result{}, fmt.Errorf("load latest order: %w", err)
		}
	}

	d := e.machine.Decide(in)
	if d.Unknown {
		if err := e.dropUnknown(ctx, msg.SubscriberID, rec.State); err != nil {
			return Result{}, err
		}
		return Result{From: rec.State, To: domain.FlowIdle}, nil
	}

	res := Result{Handled: d.Handled, Reply: d.Reply, From: rec.State, To: d.To(rec.State)}
	if err := e.apply(ctx, in, d, &res); err != nil {
		return Result{}, err
	}
	if res.From != res.To {
		e.transition(res.From, res.To)
		e.logger.Info("flow transition", "subscriber_id", msg.SubscriberID, "from", string(res.From), "to", string(res.To))
	}
	return res, nil
}

func (e *Engine) apply(ctx context.Context, in Input, d Decision, res *Result) error {
	sub := in.State.SubscriberID
	notice := d.Notice

	if d.NewOrder != nil {
		order, err := e.store.InsertOrder(ctx, *d.NewOrder)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		res.OrderID = order.ID
		notice = fmt.Sprintf("%s\nPedido: %s", notice, order.ID)
		e.logger.Info("order created", "subscriber_id", sub, "order_id", order.ID, "product", order.Product, "amount", order.Amount)
	}

	if d.Proof != "" && in.OpenOrder != nil {
		id := in.OpenOrder.ID
		if err := e.store.UpdateOrderStatus(ctx, id, domain.OrderProofSubmitted, d.Proof); err != nil {
			return fmt.Errorf("attach proof: %w", err)
		}
		res.OrderID = id
		if e.mockMode {
			if err := e.store.UpdateOrderStatus(ctx, id, domain.OrderApproved, ""); err != nil {
				return fmt.Errorf("auto approve order: %w", err)
			}
			e.logger.Info("order auto-approved", "subscriber_id", sub, "order_id", id)
		}
	}

	switch {
	case d.Clear:
		if err := e.store.DeleteFlowState(ctx, sub); err != nil {
			return fmt.Errorf("clear flow state: %w", err)
		}
	case d.Next != nil:
		if err := e.store.SaveFlowState(ctx, *d.Next); err != nil {
			return fmt.Errorf("save flow state: %w", err)
		}
	}

	if notice != "" {
		notify.Send(ctx, e.notifier, e.metrics, e.logger, d.NoticeKind, notice)
	}
	return nil
}

func (e *Engine) optionalOrder(order *repo.Order, err error) (*repo.Order, error) {
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return order, err
}

func (e *Engine) transition(from, to domain.FlowState) {
	if e.metrics == nil {
		return
	}
	e.metrics.FlowTransitions.WithLabelValues(string(from), string(to)).Inc()
}
