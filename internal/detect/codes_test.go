package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel-bot/internal/domain"
)

func TestDiagnosticCode(t *testing.T) {
	code, ok := DiagnosticCode("mi codigo es SENS-1234 gracias")
	require.True(t, ok)
	assert.Equal(t, "SENS-1234", code)

	code, ok = DiagnosticCode("sens-9821")
	require.True(t, ok)
	assert.Equal(t, "SENS-9821", code)

	_, ok = DiagnosticCode("SENS-123")
	assert.False(t, ok)
	_, ok = DiagnosticCode("SENS-12345")
	assert.False(t, ok)
}

func TestPaymentCode(t *testing.T) {
	code, ok := PaymentCode("P-AB12C")
	require.True(t, ok)
	assert.Equal(t, "P-AB12C", code)

	code, ok = PaymentCode("ya pague, p-ab12c")
	require.True(t, ok)
	assert.Equal(t, "P-AB12C", code)

	_, ok = PaymentCode("P-AB12")
	assert.False(t, ok)
	_, ok = PaymentCode("P-AB12CD")
	assert.False(t, ok)

	_, ok = PaymentCode("https://pagos.com/P-ab12c/recibo.png")
	assert.False(t, ok, "codes inside links are not payment codes")
	code, ok = PaymentCode("mi codigo es P-XY34Z, recibo en www.pagos.com/recibo.png")
	require.True(t, ok)
	assert.Equal(t, "P-XY34Z", code)
}

func TestPaidSessionIntent(t *testing.T) {
	assert.True(t, PaidSessionIntent("Quiero agendar una Sesión privada"))
	assert.False(t, PaidSessionIntent("hola, como estas"))
}

func TestPurchaseIntentAndProduct(t *testing.T) {
	assert.True(t, PurchaseIntent("Hola, quiero el libro"))
	assert.True(t, PurchaseIntent("quiero comprar el combo"))
	assert.False(t, PurchaseIntent("que libro me recomiendas?"))

	product, ok := DetectProduct("el combo por favor")
	require.True(t, ok)
	assert.Equal(t, domain.ProductCombo, product)

	product, ok = DetectProductWithPrices("el de 17 dolares", PriceTable{PDF: 17, Combo: 27})
	require.True(t, ok)
	assert.Equal(t, domain.ProductPDF, product)

	product, ok = DetectProductWithPrices("me quedo con el de $27", PriceTable{PDF: 17, Combo: 27})
	require.True(t, ok)
	assert.Equal(t, domain.ProductCombo, product)

	_, ok = DetectProductWithPrices("en 2017 empece", PriceTable{PDF: 17, Combo: 27})
	assert.False(t, ok)

	product, ok = DetectProductWithPrices("el de 27 USD", PriceTable{PDF: 17, Combo: 27})
	require.True(t, ok)
	assert.Equal(t, domain.ProductCombo, product)

	_, ok = DetectProductWithPrices("tengo 27 años y 17 meses operando", PriceTable{PDF: 17, Combo: 27})
	assert.False(t, ok, "bare numbers are not prices")
}

func TestExtractPaymentDataStrict(t *testing.T) {
	data := ExtractPaymentData("nombre: Ana Lopez, whatsapp: +57 300 123 4567", "")
	require.True(t, data.Found)
	assert.True(t, data.Strict)
	assert.Equal(t, "Ana Lopez", data.Name)
	assert.Equal(t, "+573001234567", data.Phone)
}

func TestExtractPaymentDataFallsBackToKnownName(t *testing.T) {
	data := ExtractPaymentData("mi numero es +52 55 1234 5678", "Carlos")
	require.True(t, data.Found)
	assert.False(t, data.Strict)
	assert.Equal(t, "Carlos", data.Name)
	assert.Equal(t, "+525512345678", data.Phone)

	assert.False(t, ExtractPaymentData("mi numero es +52 55 1234 5678", "").Found)
	assert.False(t, ExtractPaymentData("no tengo numero", "Carlos").Found)
}

func TestDiscountCodeIsStablePerSubscriber(t *testing.T) {
	first := DiscountCode("sub_98ab7c6d5")
	second := DiscountCode("sub_98ab7c6d5")
	assert.Equal(t, first, second)
	assert.Equal(t, "LIBRO30-B7C6D5", first)

	random := DiscountCode("ab")
	assert.True(t, strings.HasPrefix(random, "LIBRO30-"))
	assert.Len(t, random, len("LIBRO30-")+6)
}

func TestLanguage(t *testing.T) {
	assert.Equal(t, LangSpanish, Language("Hola"))
	assert.Equal(t, LangSpanish, Language(""))
	assert.Equal(t, LangEnglish, Language("Hello, how are you? I want the book"))
	assert.Equal(t, LangPortuguese, Language("Olá, eu quero o livro, obrigado"))
}
