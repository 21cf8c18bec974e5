package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"funnel-bot/internal/domain"
)

func TestHeatScoreClamped(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hot := Lead{Qualified: true, PurchaseIntent: true, PaidSessionIntent: true, DiagnosticCompleted: true, MessageCount: 50, LastInteractionAt: now.Add(-time.Minute)}
	assert.Equal(t, 100, HeatScore(hot, Interaction{Intent: domain.IntentDelicate, Emotion: domain.EmotionDesperate, At: now}))

	cold := Lead{LastInteractionAt: now.Add(-30 * 24 * time.Hour)}
	assert.Equal(t, 0, HeatScore(cold, Interaction{Intent: domain.IntentGeneral, Emotion: domain.EmotionSkeptical, At: now}))
}

func TestHeatScoreIsMonotonicInFlags(t *testing.T) {
	now := time.Now()
	in := Interaction{Intent: domain.IntentGeneral, Emotion: domain.EmotionNeutral, At: now}
	base := Lead{MessageCount: 3, LastInteractionAt: now.Add(-2 * time.Hour)}

	flags := []func(*Lead){
		func(l *Lead) { l.Qualified = true },
		func(l *Lead) { l.PurchaseIntent = true },
		func(l *Lead) { l.PaidSessionIntent = true },
		func(l *Lead) { l.DiagnosticCompleted = true },
	}
	prev := HeatScore(base, in)
	for _, set := range flags {
		set(&base)
		got := HeatScore(base, in)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestRecencyDecaysToPenalty(t *testing.T) {
	now := time.Now()
	in := Interaction{Emotion: domain.EmotionNeutral, At: now}
	score := func(age time.Duration) int {
		return HeatScore(Lead{Qualified: true, PurchaseIntent: true, LastInteractionAt: now.Add(-age)}, in)
	}
	assert.Greater(t, score(time.Minute), score(5*time.Hour))
	assert.Greater(t, score(5*time.Hour), score(3*24*time.Hour))
	assert.Greater(t, score(3*24*time.Hour), score(10*24*time.Hour))
}

func TestDelicateDominatesCategories(t *testing.T) {
	now := time.Now()
	delicate := HeatScore(Lead{}, Interaction{Intent: domain.IntentDelicate, At: now})
	for intent := range intentWeights {
		if intent == domain.IntentDelicate {
			continue
		}
		assert.Greater(t, delicate, HeatScore(Lead{}, Interaction{Intent: intent, At: now}), intent)
	}
}

func TestPriorityBands(t *testing.T) {
	cases := map[int]string{
		100: PriorityCritical,
		80:  PriorityCritical,
		79:  PriorityHigh,
		60:  PriorityHigh,
		59:  PriorityMedium,
		40:  PriorityMedium,
		39:  PriorityLow,
		20:  PriorityLow,
		19:  PriorityVeryLow,
		0:   PriorityVeryLow,
	}
	for score, want := range cases {
		assert.Equal(t, want, Priority(score), score)
	}
}
