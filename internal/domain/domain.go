package domain

import "time"

// InboundMessage is a single chat event received from the messaging platform.
type InboundMessage struct {
	SubscriberID string
	DisplayName  string
	Text         string
	Phone        string
}

// Classification is the per-message result of the classifier.
type Classification struct {
	Intent  Intent  `json:"intent"`
	Emotion Emotion `json:"emotion"`
	Level   Level   `json:"experience_level"`
	Urgency Urgency `json:"urgency"`
}

// DefaultClassification is returned whenever the model output cannot be trusted.
func DefaultClassification() Classification {
	return Classification{
		Intent:  IntentGeneral,
		Emotion: EmotionNeutral,
		Level:   LevelUnknown,
		Urgency: UrgencyLow,
	}
}

// Turn is one entry of a subscriber's conversation history.
type Turn struct {
	SubscriberID string
	Role         Role
	Content      string
	CreatedAt    time.Time
}
