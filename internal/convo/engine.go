// Package convo is the per-message orchestrator: short-circuit codes, rate gates, the
// purchase funnel, classification and agent replies, plus lead scoring and analytics.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"funnel-bot/internal/agent"
	"funnel-bot/internal/detect"
	"funnel-bot/internal/domain"
	"funnel-bot/internal/flow"
	"funnel-bot/internal/metrics"
	"funnel-bot/internal/notify"
	"funnel-bot/internal/ratelimit"
	"funnel-bot/internal/repo"
	"funnel-bot/internal/scoring"
)

// Gate admits or denies a message for an identity.
type Gate interface {
	Admit(ctx context.Context, identity string, now time.Time) ratelimit.Decision
}

// Funnel is the purchase flow.
type Funnel interface {
	State(ctx context.Context, subscriberID string) (domain.FlowState, error)
	Start(ctx context.Context, subscriberID string, product domain.Product) (string, error)
	Handle(ctx context.Context, msg domain.InboundMessage) (flow.Result, error)
}

// Classifier labels a message.
type Classifier interface {
	Classify(ctx context.Context, message, language string) domain.Classification
}

// Responder generates conversational replies.
type Responder interface {
	Respond(ctx context.Context, req agent.Request) string
	Fallback(lang string) string
}

// History records exchanges answered outside the agent.
type History interface {
	AddMessage(ctx context.Context, subscriberID string, role domain.Role, content string) error
}

// Store persists leads and analytics events.
type Store interface {
	GetLead(ctx context.Context, subscriberID string) (*repo.Lead, error)
	UpsertLead(ctx context.Context, lead repo.Lead) error
	InsertEvent(ctx context.Context, event repo.Event) error
}

// Config holds the static values rendered into fixed replies.
type Config struct {
	DiscountValidityDays int
	PaidSessionURL       string
	HumanContact         string
	Prices               detect.PriceTable
}

// Deps are the collaborators of the engine.
type Deps struct {
	Store       Store
	GeneralGate Gate
	FunnelGate  Gate
	Funnel      Funnel
	Classifier  Classifier
	Agent       Responder
	History     History
	Notifier    notify.Notifier
	Metrics     *metrics.Metrics
}

// Handling paths, used as metric labels.
const (
	PathDiagnostic  = "diagnostic_code"
	PathPaymentCode = "payment_code"
	PathRateLimited = "rate_limited"
	PathFlow        = "flow"
	PathFlowStart   = "flow_start"
	PathPaidSession = "paid_session"
	PathAgent       = "agent"
	PathFailure     = "failure"
)

// Reply is the outcome of one inbound message.
type Reply struct {
	Text           string
	Path           string
	Classification *domain.Classification
	HeatScore      int
	Priority       string
}

// Engine handles inbound messages end to end.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	locks  *keyedMutex
	now    func() time.Time

	replier Replier
}

// New constructs the orchestrator.
func New(deps Deps, cfg Config, logger *slog.Logger) *Engine {
	if cfg.DiscountValidityDays <= 0 {
		cfg.DiscountValidityDays = 7
	}
	if cfg.HumanContact == "" {
		cfg.HumanContact = "nuestro equipo de soporte"
	}
	return &Engine{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "convo"),
		locks:  newKeyedMutex(),
		now:    time.Now,
	}
}

// Handle produces the reply for msg. It always returns reply text; a non-nil error
// means the funnel state could not be read or written and the text is a fallback.
func (e *Engine) Handle(ctx context.Context, msg domain.InboundMessage) (Reply, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	lang := detect.Language(msg.Text)
	now := e.now().UTC()

	unlock := e.locks.Lock(msg.SubscriberID)
	defer unlock()

	reply, err := e.handle(ctx, msg, lang, now)
	if err != nil {
		e.logger.Error("message handling failed", "subscriber_id", msg.SubscriberID, "error", err)
		e.deps.Metrics.Error("convo")
		reply = Reply{Text: e.deps.Agent.Fallback(lang), Path: PathFailure}
	}
	e.countPath(reply.Path)
	return reply, err
}

func (e *Engine) handle(ctx context.Context, msg domain.InboundMessage, lang string, now time.Time) (Reply, error) {
	name := displayName(msg.DisplayName)

	// Codes are redeemed even when the subscriber is over the daily limit.
	if code, ok := detect.DiagnosticCode(msg.Text); ok {
		text := postDiagnosticReply(name, detect.DiscountCode(msg.SubscriberID), e.cfg.DiscountValidityDays, e.cfg.Prices)
		score := e.touchLead(ctx, msg, now, scoring.Interaction{Intent: domain.IntentCourseCompleted}, func(l *repo.Lead) {
			l.DiagnosticCompleted = true
		})
		e.record(ctx, msg.SubscriberID, EventPostDiagnostic, nil, score, map[string]any{"code": code})
		e.remember(ctx, msg.SubscriberID, msg.Text, text)
		return e.scored(Reply{Text: text, Path: PathDiagnostic}, score), nil
	}
	if code, ok := detect.PaymentCode(msg.Text); ok {
		text := postPaymentReply(name, code)
		notify.Send(ctx, e.deps.Notifier, e.deps.Metrics, e.logger, notify.KindPayment, paymentNotice(msg.SubscriberID, name, msg.Phone, code))
		score := e.touchLead(ctx, msg, now, scoring.Interaction{Intent: domain.IntentBookInProgress}, func(l *repo.Lead) {
			l.PurchaseIntent = true
		})
		e.record(ctx, msg.SubscriberID, EventPostPayment, nil, score, map[string]any{"code": code})
		e.remember(ctx, msg.SubscriberID, msg.Text, text)
		return e.scored(Reply{Text: text, Path: PathPaymentCode}, score), nil
	}

	state, err := e.deps.Funnel.State(ctx, msg.SubscriberID)
	if err != nil {
		return Reply{}, err
	}

	gate, gateName := e.deps.GeneralGate, "general"
	if state.Active() {
		gate, gateName = e.deps.FunnelGate, "funnel"
	}
	if decision := gate.Admit(ctx, msg.SubscriberID, now); !decision.Allowed {
		e.logger.Info("message rate limited", "subscriber_id", msg.SubscriberID, "gate", gateName, "count", decision.Count)
		e.record(ctx, msg.SubscriberID, EventRateLimited, nil, nil, map[string]any{"gate": gateName, "count": decision.Count})
		return Reply{Text: rateLimitReply(lang, e.cfg.HumanContact), Path: PathRateLimited}, nil
	}

	leftFunnel := false
	if state.Active() {
		res, err := e.deps.Funnel.Handle(ctx, msg)
		if err != nil {
			return Reply{}, fmt.Errorf("flow: %w", err)
		}
		if res.Handled {
			score := e.touchLead(ctx, msg, now, scoring.Interaction{Intent: domain.IntentBookInProgress}, func(l *repo.Lead) {
				l.PurchaseIntent = true
			})
			e.record(ctx, msg.SubscriberID, eventFlowPrefix+string(res.From), nil, score, map[string]any{"to": string(res.To), "order_id": res.OrderID})
			e.remember(ctx, msg.SubscriberID, msg.Text, res.Reply)
			return e.scored(Reply{Text: res.Reply, Path: PathFlow}, score), nil
		}
		leftFunnel = true
	}

	if !leftFunnel {
		if product, mentioned := detect.DetectProductWithPrices(msg.Text, e.cfg.Prices); detect.PurchaseIntent(msg.Text) || (mentioned && wantsToBuy(msg.Text)) {
			text, err := e.deps.Funnel.Start(ctx, msg.SubscriberID, product)
			if err != nil {
				return Reply{}, err
			}
			score := e.touchLead(ctx, msg, now, scoring.Interaction{Intent: domain.IntentBookFunnel}, func(l *repo.Lead) {
				l.PurchaseIntent = true
			})
			e.record(ctx, msg.SubscriberID, eventFlowPrefix+string(domain.FlowIdle), nil, score, map[string]any{"to": string(domain.FlowCountry), "product": string(product)})
			e.remember(ctx, msg.SubscriberID, msg.Text, text)
			return e.scored(Reply{Text: text, Path: PathFlowStart}, score), nil
		}
	}

	if reply, ok := e.paidSession(ctx, msg, name, now); ok {
		return reply, nil
	}

	return e.converse(ctx, msg, lang, now), nil
}

func (e *Engine) paidSession(ctx context.Context, msg domain.InboundMessage, name string, now time.Time) (Reply, bool) {
	if detect.PaidSessionIntent(msg.Text) {
		text := paidSessionReply(e.cfg.PaidSessionURL)
		score := e.touchLead(ctx, msg, now, scoring.Interaction{Intent: domain.IntentHotLead}, func(l *repo.Lead) {
			l.PaidSessionIntent = true
		})
		e.remember(ctx, msg.SubscriberID, msg.Text, text)
		return e.scored(Reply{Text: text, Path: PathPaidSession}, score), true
	}

	lead, err := e.deps.Store.GetLead(ctx, msg.SubscriberID)
	if err != nil || !lead.PaidSessionIntent {
		return Reply{}, false
	}
	data := detect.ExtractPaymentData(msg.Text, msg.DisplayName)
	if !data.Found {
		return Reply{}, false
	}
	notify.Send(ctx, e.deps.Notifier, e.deps.Metrics, e.logger, notify.KindPaidSession, paidSessionNotice(msg.SubscriberID, data.Name, data.Phone))
	score := e.touchLead(ctx, msg, now, scoring.Interaction{Intent: domain.IntentHotLead}, func(l *repo.Lead) {
		l.Qualified = true
		l.Phone = data.Phone
	})
	e.record(ctx, msg.SubscriberID, EventPaidSession, nil, score, map[string]any{"name": data.Name, "phone": data.Phone, "strict": data.Strict})
	text := paidSessionConfirmed(displayName(data.Name))
	e.remember(ctx, msg.SubscriberID, msg.Text, text)
	return e.scored(Reply{Text: text, Path: PathPaidSession}, score), true
}

func (e *Engine) converse(ctx context.Context, msg domain.InboundMessage, lang string, now time.Time) Reply {
	c := e.deps.Classifier.Classify(ctx, msg.Text, lang)
	text := e.deps.Agent.Respond(ctx, agent.Request{
		Intent:       c.Intent,
		SubscriberID: msg.SubscriberID,
		Name:         msg.DisplayName,
		Message:      msg.Text,
		Language:     lang,
		Emotion:      c.Emotion,
	})

	if c.Intent == domain.IntentEscalation || c.Intent == domain.IntentDelicate {
		notify.Send(ctx, e.deps.Notifier, e.deps.Metrics, e.logger, notify.KindEscalation,
			escalationNotice(msg.SubscriberID, msg.DisplayName, string(c.Intent), string(c.Emotion), msg.Text))
	}

	score := e.touchLead(ctx, msg, now, scoring.Interaction{Intent: c.Intent, Emotion: c.Emotion}, func(l *repo.Lead) {
		if c.Intent == domain.IntentHotLead {
			l.Qualified = true
		}
		if c.Intent == domain.IntentBookFunnel || c.Intent == domain.IntentHotLead {
			l.PurchaseIntent = true
		}
	})
	e.record(ctx, msg.SubscriberID, string(c.Intent), &c, score, map[string]any{
		"experience_level": string(c.Level),
		"urgency":          string(c.Urgency),
		"language":         lang,
	})
	reply := e.scored(Reply{Text: text, Path: PathAgent}, score)
	reply.Classification = &c
	return reply
}

// touchLead loads or creates the lead, applies update, recomputes the heat score and
// saves it. It returns nil when the lead store is unavailable.
func (e *Engine) touchLead(ctx context.Context, msg domain.InboundMessage, now time.Time, in scoring.Interaction, update func(*repo.Lead)) *int {
	lead, err := e.deps.Store.GetLead(ctx, msg.SubscriberID)
	if errors.Is(err, repo.ErrNotFound) {
		lead, err = &repo.Lead{SubscriberID: msg.SubscriberID, CreatedAt: now}, nil
	}
	if err != nil {
		e.logger.Warn("load lead failed", "subscriber_id", msg.SubscriberID, "error", err)
		e.deps.Metrics.Error("leads")
		return nil
	}

	if name := strings.TrimSpace(msg.DisplayName); name != "" {
		lead.Name = name
	}
	if msg.Phone != "" {
		lead.Phone = msg.Phone
	}
	if update != nil {
		update(lead)
	}
	lead.MessageCount++
	if in.Intent != "" {
		lead.LastIntent = in.Intent
	}
	if in.Emotion == "" {
		in.Emotion = domain.EmotionNeutral
	}
	in.At = now

	score := scoring.HeatScore(scoring.Lead{
		Qualified:           lead.Qualified,
		PurchaseIntent:      lead.PurchaseIntent,
		PaidSessionIntent:   lead.PaidSessionIntent,
		DiagnosticCompleted: lead.DiagnosticCompleted,
		MessageCount:        lead.MessageCount,
		LastInteractionAt:   lead.LastInteractionAt,
	}, in)
	lead.HeatScore = score
	lead.Priority = scoring.Priority(score)
	lead.LastInteractionAt = now

	if err := e.deps.Store.UpsertLead(ctx, *lead); err != nil {
		e.logger.Warn("save lead failed", "subscriber_id", msg.SubscriberID, "error", err)
		e.deps.Metrics.Error("leads")
		return nil
	}
	return &score
}

func (e *Engine) record(ctx context.Context, subscriberID, kind string, c *domain.Classification, score *int, payload map[string]any) {
	ev := repo.Event{SubscriberID: subscriberID, Kind: kind, HeatScore: score, Payload: payload}
	if c != nil {
		ev.Intent = c.Intent
		ev.Emotion = c.Emotion
	}
	if err := e.deps.Store.InsertEvent(ctx, ev); err != nil {
		e.logger.Warn("record analytics event failed", "subscriber_id", subscriberID, "kind", kind, "error", err)
		e.deps.Metrics.Error("analytics")
	}
}

func (e *Engine) remember(ctx context.Context, subscriberID, userText, reply string) {
	if e.deps.History == nil {
		return
	}
	if err := e.deps.History.AddMessage(ctx, subscriberID, domain.RoleUser, userText); err != nil {
		e.logger.Warn("store user turn failed", "subscriber_id", subscriberID, "error", err)
		return
	}
	if err := e.deps.History.AddMessage(ctx, subscriberID, domain.RoleAssistant, reply); err != nil {
		e.logger.Warn("store assistant turn failed", "subscriber_id", subscriberID, "error", err)
	}
}

func (e *Engine) scored(r Reply, score *int) Reply {
	if score != nil {
		r.HeatScore = *score
		r.Priority = scoring.Priority(*score)
	}
	return r
}

func (e *Engine) countPath(path string) {
	if e.deps.Metrics == nil {
		return
	}
	e.deps.Metrics.IncomingMessages.WithLabelValues(path).Inc()
}

func wantsToBuy(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range []string{"quiero", "comprar", "compro", "me interesa", "precio", "cuánto", "cuanto"} {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "trader"
	}
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}
