// Package agent produces conversational replies: a persona per intent, grounded on
// knowledge snippets and recent history.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"funnel-bot/internal/detect"
	"funnel-bot/internal/domain"
	"funnel-bot/internal/knowledge"
	"funnel-bot/internal/llm"
	"funnel-bot/internal/repo"
)

const maxTokens = 500

// History is the conversation memory the router reads and appends to.
type History interface {
	GetHistory(ctx context.Context, subscriberID string, limit int) ([]domain.Turn, error)
	AddMessage(ctx context.Context, subscriberID string, role domain.Role, content string) error
}

// Knowledge finds snippets relevant to a message.
type Knowledge interface {
	Search(ctx context.Context, query string, threshold float64, topK int) []repo.KnowledgeChunk
}

// Config tunes retrieval and the human contact shown in canned replies.
type Config struct {
	HumanContact string
	Threshold    float64
	TopK         int
	HistoryTurns int
}

// Request is one message to answer.
type Request struct {
	Intent       domain.Intent
	SubscriberID string
	Name         string
	Message      string
	Language     string
	Emotion      domain.Emotion
}

// Router answers messages with the model, or with fixed templates where the model must
// not be involved.
type Router struct {
	llm       llm.Completer
	knowledge Knowledge
	history   History
	cfg       Config
	logger    *slog.Logger
}

// New builds a router.
func New(c llm.Completer, k Knowledge, h History, cfg Config, logger *slog.Logger) *Router {
	if cfg.Threshold <= 0 {
		cfg.Threshold = knowledge.DefaultThreshold
	}
	if cfg.TopK <= 0 {
		cfg.TopK = knowledge.DefaultTopK
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 10
	}
	if cfg.HumanContact == "" {
		cfg.HumanContact = "nuestro equipo de soporte"
	}
	return &Router{llm: c, knowledge: k, history: h, cfg: cfg, logger: logger.With("component", "agent")}
}

// Respond never fails. Escalations get a fixed template; generator failures get a fixed
// apology pointing to a human.
func (r *Router) Respond(ctx context.Context, req Request) string {
	lang := detect.NormalizeLanguage(req.Language)
	if req.Intent == domain.IntentEscalation {
		return r.Escalation(lang, req.Name, req.Emotion)
	}

	var (
		chunks []repo.KnowledgeChunk
		turns  []domain.Turn
	)
	var g errgroup.Group
	g.Go(func() error {
		chunks = r.knowledge.Search(ctx, req.Message, r.cfg.Threshold, r.cfg.TopK)
		return nil
	})
	g.Go(func() error {
		var err error
		turns, err = r.history.GetHistory(ctx, req.SubscriberID, r.cfg.HistoryTurns)
		if err != nil {
			r.logger.Warn("history unavailable, answering without it", "subscriber_id", req.SubscriberID, "error", err)
		}
		return nil
	})
	_ = g.Wait()

	messages := make([]llm.Message, 0, len(turns)+1)
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == domain.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})

	reply, err := r.llm.Complete(ctx, llm.Request{
		Operation:   "generate",
		System:      r.system(req, lang, chunks),
		Messages:    messages,
		Temperature: temperatureFor(req.Intent),
		MaxTokens:   maxTokens,
	})
	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		r.logger.Warn("generation failed, sending fallback", "subscriber_id", req.SubscriberID, "intent", string(req.Intent), "error", err)
		return r.Fallback(lang)
	}

	if err := r.history.AddMessage(ctx, req.SubscriberID, domain.RoleUser, req.Message); err != nil {
		r.logger.Warn("store user turn failed", "subscriber_id", req.SubscriberID, "error", err)
	}
	if err := r.history.AddMessage(ctx, req.SubscriberID, domain.RoleAssistant, reply); err != nil {
		r.logger.Warn("store assistant turn failed", "subscriber_id", req.SubscriberID, "error", err)
	}
	r.logger.Debug("reply generated", "subscriber_id", req.SubscriberID, "intent", string(req.Intent), "chunks", len(chunks), "history", len(turns))
	return reply
}

func (r *Router) system(req Request, lang string, chunks []repo.KnowledgeChunk) string {
	var b strings.Builder
	b.WriteString(basePersona)
	b.WriteString("\n\n")
	b.WriteString(personaFor(req.Intent))
	b.WriteString("\n\n")
	b.WriteString(languageDirective(lang))
	if name := strings.TrimSpace(req.Name); name != "" {
		fmt.Fprintf(&b, "\n\nLa persona se llama %s; úsalo con naturalidad.", name)
	}
	if req.Emotion != "" && req.Emotion != domain.EmotionNeutral {
		fmt.Fprintf(&b, "\nEmoción detectada: %s. Ajusta el tono.", req.Emotion)
	}
	if kc := knowledge.FormatContext(chunks); kc != "" {
		b.WriteString("\n\n")
		b.WriteString(kc)
	}
	return b.String()
}

// Escalation returns the human handoff template for lang.
func (r *Router) Escalation(lang, name string, emotion domain.Emotion) string {
	lang = detect.NormalizeLanguage(lang)
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultNames[lang]
	}
	variant := 0
	if angry(emotion) {
		variant = 1
	}
	return fmt.Sprintf(escalationTemplates[lang][variant], name, r.cfg.HumanContact)
}

// Fallback returns the apology sent when no reply could be generated.
func (r *Router) Fallback(lang string) string {
	return fmt.Sprintf(fallbackTemplates[detect.NormalizeLanguage(lang)], r.cfg.HumanContact)
}
