// Package scoring ranks leads by how close they are to buying or needing a human.
package scoring

import (
	"time"

	"funnel-bot/internal/domain"
)

// Lead carries the persistent signals of a subscriber.
type Lead struct {
	Qualified           bool
	PurchaseIntent      bool
	PaidSessionIntent   bool
	DiagnosticCompleted bool
	MessageCount        int
	LastInteractionAt   time.Time
}

// Interaction carries the signals of the message being handled.
type Interaction struct {
	Intent  domain.Intent
	Emotion domain.Emotion
	At      time.Time
}

const (
	weightQualified   = 20
	weightPurchase    = 25
	weightPaidSession = 20
	weightDiagnostic  = 10

	engagementPerMessage = 1
	engagementCap        = 10

	recentWindow   = time.Hour
	recentBonus    = 10
	warmWindow     = 24 * time.Hour
	warmBonus      = 5
	staleThreshold = 7 * 24 * time.Hour
	stalePenalty   = -10
)

var emotionWeights = map[domain.Emotion]int{
	domain.EmotionExcited:    10,
	domain.EmotionCurious:    5,
	domain.EmotionCalm:       2,
	domain.EmotionNeutral:    0,
	domain.EmotionConfused:   0,
	domain.EmotionSkeptical:  -5,
	domain.EmotionFrustrated: 5,
	domain.EmotionAngry:      10,
	domain.EmotionDesperate:  15,
}

var intentWeights = map[domain.Intent]int{
	domain.IntentDelicate:        40,
	domain.IntentHotLead:         30,
	domain.IntentEscalation:      25,
	domain.IntentBookInProgress:  25,
	domain.IntentBookFunnel:      20,
	domain.IntentProductInfo:     15,
	domain.IntentComplaint:       15,
	domain.IntentCourseCompleted: 10,
	domain.IntentImprove:         8,
	domain.IntentLearnFromZero:   5,
	domain.IntentTechnical:       5,
	domain.IntentPsychology:      5,
	domain.IntentStudentSupport:  5,
	domain.IntentGeneral:         0,
}

// HeatScore adds up the weights and clamps the result to [0,100].
func HeatScore(lead Lead, in Interaction) int {
	score := 0
	if lead.Qualified {
		score += weightQualified
	}
	if lead.PurchaseIntent {
		score += weightPurchase
	}
	if lead.PaidSessionIntent {
		score += weightPaidSession
	}
	if lead.DiagnosticCompleted {
		score += weightDiagnostic
	}
	score += min(lead.MessageCount*engagementPerMessage, engagementCap)
	score += recency(lead.LastInteractionAt, in.At)
	score += emotionWeights[in.Emotion]
	score += intentWeights[in.Intent]
	return clamp(score)
}

func recency(last, now time.Time) int {
	if last.IsZero() || now.IsZero() {
		return 0
	}
	age := now.Sub(last)
	switch {
	case age <= recentWindow:
		return recentBonus
	case age <= warmWindow:
		return warmBonus
	case age > staleThreshold:
		return stalePenalty
	default:
		return 0
	}
}

func clamp(score int) int {
	return max(0, min(100, score))
}

// Priority bands.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
	PriorityVeryLow  = "very_low"
)

// Priority maps a score to its band.
func Priority(score int) string {
	switch {
	case score >= 80:
		return PriorityCritical
	case score >= 60:
		return PriorityHigh
	case score >= 40:
		return PriorityMedium
	case score >= 20:
		return PriorityLow
	default:
		return PriorityVeryLow
	}
}
