package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseIntentFallsBackToGeneral(t *testing.T) {
	in, ok := ParseIntent("lead caliente")
	assert.True(t, ok)
	assert.Equal(t, IntentHotLead, in)

	in, ok = ParseIntent("COMPRAR_AHORA")
	assert.False(t, ok)
	assert.Equal(t, IntentGeneral, in)
}

func TestParseEmotionIsCaseInsensitive(t *testing.T) {
	em, ok := ParseEmotion("enojado")
	assert.True(t, ok)
	assert.Equal(t, EmotionAngry, em)

	em, ok = ParseEmotion("")
	assert.False(t, ok)
	assert.Equal(t, EmotionNeutral, em)
}

func TestParseLevelTreatsNullAsKnown(t *testing.T) {
	lvl, ok := ParseLevel("null")
	assert.True(t, ok)
	assert.Equal(t, LevelUnknown, lvl)

	lvl, ok = ParseLevel("experto")
	assert.False(t, ok)
	assert.Equal(t, LevelUnknown, lvl)

	lvl, _ = ParseLevel("Avanzado")
	assert.Equal(t, LevelAdvanced, lvl)
}

func TestParseFlowStateRejectsCorruptValues(t *testing.T) {
	st, ok := ParseFlowState("LIBRO_PROOF")
	assert.True(t, ok)
	assert.True(t, st.Active())

	st, ok = ParseFlowState("LIBRO_UNKNOWN")
	assert.False(t, ok)
	assert.Equal(t, FlowIdle, st)
	assert.False(t, st.Active())
}

func TestOrderStatusHelpers(t *testing.T) {
	assert.True(t, OrderPending.Open())
	assert.True(t, OrderProofSubmitted.Open())
	assert.False(t, OrderApproved.Open())
	assert.True(t, OrderDelivered.Completed())
}
