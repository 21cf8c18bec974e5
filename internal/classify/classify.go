// Package classify labels an inbound message with intent, emotion, experience level
// and urgency using a hosted model, degrading to safe defaults on any anomaly.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"funnel-bot/internal/domain"
	"funnel-bot/internal/llm"
)

const (
	temperature = 0.1
	maxTokens   = 150
)

// Classifier wraps a completer with the fixed classification instructions.
type Classifier struct {
	llm    llm.Completer
	logger *slog.Logger
}

// New returns a classifier backed by c.
func New(c llm.Completer, logger *slog.Logger) *Classifier {
	return &Classifier{llm: c, logger: logger.With("component", "classifier")}
}

// Classify never fails: every missing or invalid field falls back to its default.
func (c *Classifier) Classify(ctx context.Context, message, language string) domain.Classification {
	raw, err := c.llm.Complete(ctx, llm.Request{
		Operation:   "classify",
		System:      instructions(language),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: message}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		c.logger.Warn("classification call failed, using defaults", "error", err)
		return domain.DefaultClassification()
	}

	result, anomalies := Parse(raw)
	if len(anomalies) > 0 {
		c.logger.Warn("classification output degraded", "anomalies", strings.Join(anomalies, "; "), "raw", truncate(raw, 200))
	}
	return result
}

type rawClassification struct {
	Intent  *string `json:"intent"`
	Emotion *string `json:"emotion"`
	Level   *string `json:"experience_level"`
	Urgency *string `json:"urgency"`
}

// Parse extracts the first JSON object from raw and validates each field against its
// closed set. It reports every substitution it had to make.
func Parse(raw string) (domain.Classification, []string) {
	result := domain.DefaultClassification()
	obj, ok := firstObject(raw)
	if !ok {
		return result, []string{"no json object in output"}
	}

	var rc rawClassification
	if err := json.Unmarshal([]byte(obj), &rc); err != nil {
		return result, []string{fmt.Sprintf("invalid json: %v", err)}
	}

	var anomalies []string
	if rc.Intent == nil {
		anomalies = append(anomalies, "intent missing")
	} else if v, ok := domain.ParseIntent(*rc.Intent); ok {
		result.Intent = v
	} else {
		anomalies = append(anomalies, "intent not allowed: "+*rc.Intent)
	}

	if rc.Emotion == nil {
		anomalies = append(anomalies, "emotion missing")
	} else if v, ok := domain.ParseEmotion(*rc.Emotion); ok {
		result.Emotion = v
	} else {
		anomalies = append(anomalies, "emotion not allowed: "+*rc.Emotion)
	}

	if rc.Level != nil {
		if v, ok := domain.ParseLevel(*rc.Level); ok {
			result.Level = v
		} else {
			anomalies = append(anomalies, "experience_level not allowed: "+*rc.Level)
		}
	}

	if rc.Urgency == nil {
		anomalies = append(anomalies, "urgency missing")
	} else if v, ok := domain.ParseUrgency(*rc.Urgency); ok {
		result.Urgency = v
	} else {
		anomalies = append(anomalies, "urgency not allowed: "+*rc.Urgency)
	}
	return result, anomalies
}

// firstObject returns the first balanced {...} span, honouring string literals.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
