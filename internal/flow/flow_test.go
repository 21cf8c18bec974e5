package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel-bot/internal/detect"
	"funnel-bot/internal/domain"
	"funnel-bot/internal/logging"
	"funnel-bot/internal/metrics"
	"funnel-bot/internal/notify"
	"funnel-bot/internal/repo"
)

var testCatalog = Catalog{
	Prices:    detect.PriceTable{PDF: 27, Combo: 47},
	PDFURL:    "https://cdn.example.com/libro.pdf",
	ComboURL:  "https://cdn.example.com/combo",
	PayPalURL: "https://paypal.me/academia/27",
}

type harness struct {
	engine   *Engine
	repo     *repo.MemoryRepository
	notifier *notify.LogNotifier
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, mock bool) *harness {
	t.Helper()
	h := &harness{
		repo:     repo.NewMemory(),
		notifier: notify.NewLogNotifier(logging.Discard()),
		metrics:  metrics.Discard(),
	}
	h.engine = NewEngine(Config{Catalog: testCatalog, MockMode: mock}, h.repo, h.notifier, h.metrics, logging.Discard())
	return h
}

func (h *harness) send(t *testing.T, text string) Result {
	t.Helper()
	res, err := h.engine.Handle(context.Background(), domain.InboundMessage{SubscriberID: "sub-1", DisplayName: "Ana", Text: text})
	require.NoError(t, err)
	return res
}

func (h *harness) state(t *testing.T) domain.FlowState {
	t.Helper()
	s, err := h.engine.State(context.Background(), "sub-1")
	require.NoError(t, err)
	return s
}

func TestMatchCountry(t *testing.T) {
	cases := map[string]string{
		"Colombia":              "Colombia",
		"desde MÉXICO":          "México",
		"vivo en el salvador!":  "El Salvador",
		"soy de peru":           "Perú",
		"República Dominicana.": "República Dominicana",
	}
	for in, want := range cases {
		got, ok := MatchCountry(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := MatchCountry("colombiano")
	assert.False(t, ok)
	_, ok = MatchCountry("no sé")
	assert.False(t, ok)
}

func TestMatchMethod(t *testing.T) {
	cases := map[string]Method{
		"1":                  MethodPayPal,
		"opción 2":           MethodCard,
		"la 3 por favor":     MethodBank,
		"4":                  MethodRemittance,
		"con PayPal":         MethodPayPal,
		"prefiero tarjeta":   MethodCard,
		"por Western Union":  MethodRemittance,
		"hago transferencia": MethodBank,
	}
	for in, want := range cases {
		got, ok := MatchMethod(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"5", "12", "no sé", ""} {
		_, ok := MatchMethod(in)
		assert.False(t, ok, in)
	}
}

func TestMatchContact(t *testing.T) {
	c, ok := MatchContact("Ana Pérez, Ana@Correo.com, +57 300 123 4567")
	require.True(t, ok)
	assert.Equal(t, "Ana Pérez", c.Name)
	assert.Equal(t, "ana@correo.com", c.Email)
	assert.Equal(t, "+573001234567", c.Phone)

	c, ok = MatchContact("Nombre: Luis Gómez\nCorreo: luis@mail.com\nWhatsApp: 5215512345678")
	require.True(t, ok)
	assert.Equal(t, "Luis Gómez", c.Name)

	_, ok = MatchContact("Ana Pérez +57 300 123 4567")
	assert.False(t, ok, "email required")
	_, ok = MatchContact("Ana Pérez ana@correo.com")
	assert.False(t, ok, "phone required")
}

func TestMatchProof(t *testing.T) {
	for _, in := range []string{
		"[imagen] wamid.ABC123",
		"https://files.example.com/pago.JPG",
		"aquí está https://i.imgur.com/xyz",
		"https://example.com/upload/123",
	} {
		_, ok := MatchProof(in)
		assert.True(t, ok, in)
	}
	for _, in := range []string{"ya pagué", "https://example.com/pagina"} {
		_, ok := MatchProof(in)
		assert.False(t, ok, in)
	}
}

func TestMatchAckAndTopicSwitch(t *testing.T) {
	assert.True(t, MatchAck("ok gracias"))
	assert.True(t, MatchAck("👍"))
	assert.False(t, MatchAck("ok pero cuándo llega mi libro"))
	assert.True(t, MatchTopicSwitch("necesito hablar con un asesor"))
	assert.True(t, MatchTopicSwitch("info de la membresía"))
	assert.False(t, MatchTopicSwitch("ok gracias"))
}

func TestDecideIsDeterministic(t *testing.T) {
	m := NewMachine(DefaultMatchers(testCatalog.Prices), testCatalog)
	in := Input{
		State: repo.FlowStateRecord{SubscriberID: "s", State: domain.FlowData, Product: domain.ProductPDF, Country: "Colombia", Method: "paypal"},
		Text:  "Ana Pérez, ana@correo.com, +57 300 123 4567",
		Now:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	assert.Equal(t, m.Decide(in), m.Decide(in))
}

func TestDecideIdleAndUnknown(t *testing.T) {
	m := NewMachine(DefaultMatchers(testCatalog.Prices), testCatalog)
	assert.False(t, m.Decide(Input{State: repo.FlowStateRecord{State: domain.FlowIdle}}).Handled)
	d := m.Decide(Input{State: repo.FlowStateRecord{State: "LIBRO_BROKEN"}})
	assert.False(t, d.Handled)
	assert.True(t, d.Unknown)
}

func TestFullPurchaseFlow(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	prompt, err := h.engine.Start(ctx, "sub-1", domain.ProductNone)
	require.NoError(t, err)
	assert.Contains(t, prompt, "país")
	assert.Equal(t, domain.FlowCountry, h.state(t))

	res := h.send(t, "Colombia")
	require.True(t, res.Handled)
	assert.Equal(t, domain.FlowMethod, res.To)
	for _, opt := range []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣"} {
		assert.Contains(t, res.Reply, opt)
	}

	res = h.send(t, "1")
	assert.Equal(t, domain.FlowMethod, res.To, "product not chosen yet")
	assert.Contains(t, res.Reply, "producto")

	res = h.send(t, "el pdf con la opción 1")
	assert.Equal(t, domain.FlowData, res.To)

	res = h.send(t, "Ana Pérez, ana@correo.com, +57 300 123 4567")
	assert.Equal(t, domain.FlowProof, res.To)
	assert.Contains(t, res.Reply, testCatalog.PayPalURL)
	require.NotEmpty(t, res.OrderID)

	orders := h.repo.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(27), orders[0].Amount)
	assert.Equal(t, domain.ProductPDF, orders[0].Product)
	assert.Equal(t, "Colombia", orders[0].Country)
	assert.Equal(t, domain.OrderPending, orders[0].Status)

	res = h.send(t, "ya pagué")
	assert.Equal(t, domain.FlowProof, res.To)

	res = h.send(t, "https://files.example.com/comprobante.png")
	assert.Equal(t, domain.FlowPostSale, res.To)
	order, err := h.repo.GetOrderByID(ctx, orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderProofSubmitted, order.Status)
	assert.Equal(t, "https://files.example.com/comprobante.png", order.ProofReference)

	res = h.send(t, "ok gracias")
	assert.True(t, res.Handled)
	assert.Equal(t, stillVerifying, res.Reply)

	require.NoError(t, h.repo.UpdateOrderStatus(ctx, order.ID, domain.OrderApproved, ""))
	res = h.send(t, "hola?")
	assert.True(t, res.Handled)
	assert.Contains(t, res.Reply, testCatalog.PDFURL)
	assert.Equal(t, domain.FlowIdle, h.state(t))

	sent := h.notifier.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0], "Nuevo pedido")
	assert.Contains(t, sent[0], order.ID)
	assert.Contains(t, sent[1], "Comprobante")

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FlowTransitions.WithLabelValues("LIBRO_COUNTRY", "LIBRO_METHOD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FlowTransitions.WithLabelValues("LIBRO_POSTSALE", "IDLE")))
}

func TestRepromptKeepsState(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.engine.Start(context.Background(), "sub-1", domain.ProductCombo)
	require.NoError(t, err)

	res := h.send(t, "no sé todavía")
	assert.True(t, res.Handled)
	assert.Equal(t, countryRetry, res.Reply)
	assert.Equal(t, domain.FlowCountry, h.state(t))

	h.send(t, "México")
	res = h.send(t, "mmm")
	assert.Equal(t, methodRetry, res.Reply)
	assert.Equal(t, domain.FlowMethod, h.state(t))

	h.send(t, "2")
	res = h.send(t, "me llamo Ana")
	assert.Equal(t, dataRetry, res.Reply)
	assert.Equal(t, domain.FlowData, h.state(t))
	assert.Empty(t, h.repo.Orders())
}

func TestDataReusesOpenOrder(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	existing, err := h.repo.InsertOrder(ctx, repo.Order{SubscriberID: "sub-1", Product: domain.ProductCombo, PaymentMethod: "tarjeta", Amount: 47})
	require.NoError(t, err)
	require.NoError(t, h.repo.SaveFlowState(ctx, repo.FlowStateRecord{SubscriberID: "sub-1", State: domain.FlowData, Product: domain.ProductCombo, Method: "tarjeta"}))

	res := h.send(t, "Ana Pérez, ana@correo.com, +57 300 123 4567")
	assert.Equal(t, domain.FlowProof, res.To)
	assert.Empty(t, res.OrderID)
	assert.Len(t, h.repo.Orders(), 1)
	assert.Equal(t, existing.ID, h.repo.Orders()[0].ID)
	assert.Empty(t, h.notifier.Sent())
}

func TestProofWithoutOrderAsksForData(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.repo.SaveFlowState(context.Background(), repo.FlowStateRecord{SubscriberID: "sub-1", State: domain.FlowProof, Product: domain.ProductPDF}))

	res := h.send(t, "https://i.imgur.com/abc.png")
	assert.Equal(t, proofNoOrder, res.Reply)
	assert.Equal(t, domain.FlowProof, h.state(t))

	res = h.send(t, "Ana Pérez, ana@correo.com, +57 300 123 4567")
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, domain.FlowProof, h.state(t))

	res = h.send(t, "https://i.imgur.com/abc.png")
	assert.Equal(t, domain.FlowPostSale, res.To)
}

func TestPostSaleTopicSwitchFallsThrough(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_, err := h.repo.InsertOrder(ctx, repo.Order{SubscriberID: "sub-1", Status: domain.OrderProofSubmitted})
	require.NoError(t, err)
	require.NoError(t, h.repo.SaveFlowState(ctx, repo.FlowStateRecord{SubscriberID: "sub-1", State: domain.FlowPostSale}))

	res := h.send(t, "quiero hablar con un asesor")
	assert.False(t, res.Handled)
	assert.Equal(t, domain.FlowIdle, h.state(t))
}

func TestMockModeAutoApproves(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.repo.InsertOrder(ctx, repo.Order{SubscriberID: "sub-1", Product: domain.ProductCombo})
	require.NoError(t, err)
	require.NoError(t, h.repo.SaveFlowState(ctx, repo.FlowStateRecord{SubscriberID: "sub-1", State: domain.FlowProof, Product: domain.ProductCombo}))

	h.send(t, "[imagen] wamid.1")
	res := h.send(t, "ok")
	assert.True(t, res.Handled)
	assert.True(t, strings.Contains(res.Reply, testCatalog.ComboURL))
	assert.Equal(t, domain.FlowIdle, h.state(t))
	assert.Equal(t, domain.OrderApproved, h.repo.Orders()[0].Status)
}

func TestUnknownStateIsNotHandled(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.repo.SaveFlowState(context.Background(), repo.FlowStateRecord{SubscriberID: "sub-1", State: "LIBRO_LEGACY"}))

	res := h.send(t, "hola")
	assert.False(t, res.Handled)
	assert.Equal(t, domain.FlowIdle, res.To)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Errors.WithLabelValues("flow")))
	_, err := h.repo.GetFlowState(context.Background(), "sub-1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestStateClearsUnknownRecord(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.repo.SaveFlowState(context.Background(), repo.FlowStateRecord{SubscriberID: "sub-1", State: "LIBRO_LEGACY"}))

	assert.Equal(t, domain.FlowIdle, h.state(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Errors.WithLabelValues("flow")))
	_, err := h.repo.GetFlowState(context.Background(), "sub-1")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	assert.Equal(t, domain.FlowIdle, h.state(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Errors.WithLabelValues("flow")), "a cleared record is not reported twice")
}

func TestIdleIsNotHandled(t *testing.T) {
	h := newHarness(t, false)
	res := h.send(t, "hola")
	assert.False(t, res.Handled)
	assert.Equal(t, domain.FlowIdle, res.From)
}
