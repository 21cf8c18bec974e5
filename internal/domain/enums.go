// Package domain holds the closed value sets shared across the engine and the
// parse-or-default functions used wherever external data enters the system.
package domain

import "strings"

// Intent is the closed set of request categories produced by classification.
type Intent string

const (
	IntentGeneral         Intent = "CONVERSACION_GENERAL"
	IntentLearnFromZero   Intent = "APRENDER_CERO"
	IntentImprove         Intent = "MEJORAR"
	IntentTechnical       Intent = "PREGUNTA_TECNICA"
	IntentPsychology      Intent = "PREGUNTA_PSICOLOGIA"
	IntentProductInfo     Intent = "INFO_PRODUCTOS"
	IntentCourseCompleted Intent = "CURSO_COMPLETADO"
	IntentComplaint       Intent = "QUEJA"
	IntentHotLead         Intent = "LEAD_CALIENTE"
	IntentDelicate        Intent = "SITUACION_DELICADA"
	IntentEscalation      Intent = "ESCALAMIENTO"
	IntentBookFunnel      Intent = "FUNNEL_LIBRO"
	IntentBookInProgress  Intent = "COMPRA_LIBRO_PROCESO"
	IntentStudentSupport  Intent = "SOPORTE_ESTUDIANTE"
)

// Intents lists every valid intent in a stable order.
var Intents = []Intent{
	IntentGeneral,
	IntentLearnFromZero,
	IntentImprove,
	IntentTechnical,
	IntentPsychology,
	IntentProductInfo,
	IntentCourseCompleted,
	IntentComplaint,
	IntentHotLead,
	IntentDelicate,
	IntentEscalation,
	IntentBookFunnel,
	IntentBookInProgress,
	IntentStudentSupport,
}

// ParseIntent returns the intent named by raw, or IntentGeneral with ok=false.
func ParseIntent(raw string) (Intent, bool) {
	key := normalizeKey(raw)
	for _, in := range Intents {
		if string(in) == key {
			return in, true
		}
	}
	return IntentGeneral, false
}

// Emotion is the closed set of emotional tones detected in a message.
type Emotion string

const (
	EmotionCalm       Emotion = "CALMADO"
	EmotionCurious    Emotion = "CURIOSO"
	EmotionFrustrated Emotion = "FRUSTRADO"
	EmotionDesperate  Emotion = "DESESPERADO"
	EmotionExcited    Emotion = "EMOCIONADO"
	EmotionSkeptical  Emotion = "ESCEPTICO"
	EmotionAngry      Emotion = "ENOJADO"
	EmotionConfused   Emotion = "CONFUNDIDO"
	EmotionNeutral    Emotion = "NEUTRAL"
)

// Emotions lists every valid emotion in a stable order.
var Emotions = []Emotion{
	EmotionCalm,
	EmotionCurious,
	EmotionFrustrated,
	EmotionDesperate,
	EmotionExcited,
	EmotionSkeptical,
	EmotionAngry,
	EmotionConfused,
	EmotionNeutral,
}

// ParseEmotion returns the emotion named by raw, or EmotionNeutral with ok=false.
func ParseEmotion(raw string) (Emotion, bool) {
	key := normalizeKey(raw)
	for _, em := range Emotions {
		if string(em) == key {
			return em, true
		}
	}
	return EmotionNeutral, false
}

// Level is the trading experience level. LevelUnknown is the null value.
type Level string

const (
	LevelUnknown      Level = ""
	LevelZero         Level = "cero"
	LevelIntermediate Level = "intermedio"
	LevelAdvanced     Level = "avanzado"
)

// ParseLevel accepts the three named levels; anything else (including null) is LevelUnknown.
// ok reports whether raw was a recognised value, treating an explicit null as recognised.
func ParseLevel(raw string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cero":
		return LevelZero, true
	case "intermedio":
		return LevelIntermediate, true
	case "avanzado":
		return LevelAdvanced, true
	case "", "null", "none":
		return LevelUnknown, true
	default:
		return LevelUnknown, false
	}
}

// Urgency is the reply urgency of a message.
type Urgency string

const (
	UrgencyLow    Urgency = "baja"
	UrgencyMedium Urgency = "media"
	UrgencyHigh   Urgency = "alta"
)

// ParseUrgency returns the urgency named by raw, or UrgencyLow with ok=false.
func ParseUrgency(raw string) (Urgency, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "baja":
		return UrgencyLow, true
	case "media":
		return UrgencyMedium, true
	case "alta":
		return UrgencyHigh, true
	default:
		return UrgencyLow, false
	}
}

// FlowState is the purchase funnel position of a subscriber.
type FlowState string

const (
	FlowIdle     FlowState = "IDLE"
	FlowCountry  FlowState = "LIBRO_COUNTRY"
	FlowMethod   FlowState = "LIBRO_METHOD"
	FlowData     FlowState = "LIBRO_DATA"
	FlowProof    FlowState = "LIBRO_PROOF"
	FlowPostSale FlowState = "LIBRO_POSTSALE"
)

// ParseFlowState returns the state named by raw. Unknown values map to FlowIdle with ok=false
// so callers can log corrupt records without crashing.
func ParseFlowState(raw string) (FlowState, bool) {
	switch FlowState(normalizeKey(raw)) {
	case FlowIdle:
		return FlowIdle, true
	case FlowCountry:
		return FlowCountry, true
	case FlowMethod:
		return FlowMethod, true
	case FlowData:
		return FlowData, true
	case FlowProof:
		return FlowProof, true
	case FlowPostSale:
		return FlowPostSale, true
	default:
		return FlowIdle, false
	}
}

// Active reports whether the state intercepts inbound messages.
func (s FlowState) Active() bool {
	switch s {
	case FlowCountry, FlowMethod, FlowData, FlowProof, FlowPostSale:
		return true
	default:
		return false
	}
}

// OrderStatus tracks a purchase order from creation to delivery.
type OrderStatus string

const (
	OrderPending        OrderStatus = "pending"
	OrderProofSubmitted OrderStatus = "proof_submitted"
	OrderApproved       OrderStatus = "approved"
	OrderDelivered      OrderStatus = "delivered"
)

// ParseOrderStatus returns the status named by raw, or OrderPending with ok=false.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	switch OrderStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case OrderPending:
		return OrderPending, true
	case OrderProofSubmitted:
		return OrderProofSubmitted, true
	case OrderApproved:
		return OrderApproved, true
	case OrderDelivered:
		return OrderDelivered, true
	default:
		return OrderPending, false
	}
}

// Open reports whether the order still awaits a decision from the academy.
func (s OrderStatus) Open() bool {
	return s == OrderPending || s == OrderProofSubmitted
}

// Completed reports whether the book has been approved or already delivered.
func (s OrderStatus) Completed() bool {
	return s == OrderApproved || s == OrderDelivered
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole returns the role named by raw, or RoleUser with ok=false.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, true
	case RoleAssistant:
		return RoleAssistant, true
	default:
		return RoleUser, false
	}
}

// Product is the item sold through the purchase funnel.
type Product string

const (
	ProductNone  Product = ""
	ProductPDF   Product = "pdf"
	ProductCombo Product = "combo"
)

// ParseProduct returns the product named by raw, or ProductNone with ok=false.
func ParseProduct(raw string) (Product, bool) {
	switch Product(strings.ToLower(strings.TrimSpace(raw))) {
	case ProductPDF:
		return ProductPDF, true
	case ProductCombo:
		return ProductCombo, true
	default:
		return ProductNone, false
	}
}

func normalizeKey(raw string) string {
	key := strings.ToUpper(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return key
}
