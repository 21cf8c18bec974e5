// Package detect holds the pure pattern matchers that run before any model call:
// short-circuit codes, purchase keywords, payment data and language guessing.
package detect

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"funnel-bot/internal/domain"
)

var (
	diagnosticCodeRegex = regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9])(SENS-\d{4})(?:$|[^0-9])`)
	paymentCodeRegex    = regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9])(P-[A-Z0-9]{5})(?:$|[^A-Za-z0-9])`)
	linkRegex           = regexp.MustCompile(`(?i)(?:https?://|www\.)\S+`)
	strictDataRegex     = regexp.MustCompile(`(?is)nombre\s*:\s*([^,\n]+?)\s*[,\n]\s*whatsapp\s*:\s*(\+?[\d\s\-()]{10,20})`)
	phoneRegex          = regexp.MustCompile(`\+?\d[\d\s\-()]{8,20}\d`)
	// A price only counts next to a currency marker, so ages or counts are not prices.
	priceRegex          = regexp.MustCompile(`(?:\$|usd|us\$)\s*(\d{2,3})(?:\D|$)|(?:^|\D)(\d{2,3})\s*(?:\$|usd|d[oó]lares?|dlls?)`)
)

var paidSessionPhrases = []string{
	"sesion privada",
	"sesión privada",
	"sesion 1 a 1",
	"sesión 1 a 1",
	"sesion uno a uno",
	"sesión uno a uno",
	"mentoria privada",
	"mentoría privada",
	"mentoria personalizada",
	"mentoría personalizada",
	"agendar una sesion",
	"agendar una sesión",
	"agendar sesion",
	"agendar sesión",
	"consulta privada",
	"sesion pagada",
	"sesión pagada",
}

var purchasePhrases = []string{
	"quiero el libro",
	"quiero comprar el libro",
	"comprar el libro",
	"como compro el libro",
	"cómo compro el libro",
	"donde compro el libro",
	"dónde compro el libro",
	"quiero el combo",
	"comprar el combo",
	"quiero el pdf",
	"comprar el pdf",
	"precio del libro",
	"me interesa el libro",
	"adquirir el libro",
}

var comboKeywords = []string{"combo", "libro + curso", "libro y curso", "paquete completo", "fisico", "físico"}

// DiagnosticCode finds a SENS-#### code with exactly four digits.
func DiagnosticCode(text string) (string, bool) {
	m := diagnosticCodeRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// PaymentCode finds a P-XXXXX confirmation code with exactly five alphanumerics.
// Codes that are part of a link are ignored, so proof URLs stay with the funnel.
func PaymentCode(text string) (string, bool) {
	m := paymentCodeRegex.FindStringSubmatch(linkRegex.ReplaceAllString(text, " "))
	if len(m) < 2 {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// PaidSessionIntent reports whether the message asks for a paid private session.
func PaidSessionIntent(text string) bool {
	return containsAny(strings.ToLower(text), paidSessionPhrases)
}

// PurchaseIntent reports whether the message asks to buy the book.
func PurchaseIntent(text string) bool {
	lower := strings.ToLower(text)
	if containsAny(lower, purchasePhrases) {
		return true
	}
	_, ok := DetectProduct(text)
	return ok && (strings.Contains(lower, "quiero") || strings.Contains(lower, "comprar"))
}

// PriceTable maps the funnel products to their advertised prices.
type PriceTable struct {
	PDF   int64
	Combo int64
}

// DetectProduct picks the product mentioned by keyword. Use DetectProductWithPrices to
// also match price mentions.
func DetectProduct(text string) (domain.Product, bool) {
	return DetectProductWithPrices(text, PriceTable{})
}

// DetectProductWithPrices picks pdf vs combo by keyword or mentioned price.
func DetectProductWithPrices(text string, prices PriceTable) (domain.Product, bool) {
	lower := strings.ToLower(text)
	if containsAny(lower, comboKeywords) {
		return domain.ProductCombo, true
	}
	if strings.Contains(lower, "pdf") || strings.Contains(lower, "digital") {
		return domain.ProductPDF, true
	}
	for _, m := range priceRegex.FindAllStringSubmatch(lower, -1) {
		amount := m[1]
		if amount == "" {
			amount = m[2]
		}
		switch amount {
		case formatPrice(prices.Combo):
			return domain.ProductCombo, true
		case formatPrice(prices.PDF):
			return domain.ProductPDF, true
		}
	}
	return domain.ProductNone, false
}

// PaymentData is the tagged result of ExtractPaymentData.
type PaymentData struct {
	Found  bool
	Name   string
	Phone  string
	Strict bool
}

// ExtractPaymentData reads a "nombre: ..., whatsapp: ..." record. Without labels it falls
// back to an international phone number combined with the known display name.
func ExtractPaymentData(text, knownName string) PaymentData {
	if m := strictDataRegex.FindStringSubmatch(text); len(m) == 3 {
		phone := NormalizePhone(m[2])
		if validPhone(phone) {
			return PaymentData{Found: true, Name: strings.TrimSpace(m[1]), Phone: phone, Strict: true}
		}
	}
	name := strings.TrimSpace(knownName)
	if name == "" {
		return PaymentData{}
	}
	phone, ok := FindPhone(text)
	if !ok {
		return PaymentData{}
	}
	return PaymentData{Found: true, Name: name, Phone: phone}
}

// FindPhone returns the first 10-15 digit phone number in text, keeping a leading +.
func FindPhone(text string) (string, bool) {
	for _, candidate := range phoneRegex.FindAllString(text, -1) {
		phone := NormalizePhone(candidate)
		if validPhone(phone) {
			return phone, true
		}
	}
	return "", false
}

// NormalizePhone strips separators from a phone number.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validPhone(phone string) bool {
	digits := strings.TrimPrefix(phone, "+")
	return len(digits) >= 10 && len(digits) <= 15
}

const discountAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DiscountCode derives the book discount code from the subscriber id. The same id always
// yields the same code; ids without six usable characters get a random suffix.
func DiscountCode(subscriberID string) string {
	var alnum []rune
	for _, r := range subscriberID {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			alnum = append(alnum, unicode.ToUpper(r))
		}
	}
	if len(alnum) >= 6 {
		return "LIBRO30-" + string(alnum[len(alnum)-6:])
	}
	return "LIBRO30-" + randomSuffix(6)
}

func randomSuffix(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(discountAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			out[i] = discountAlphabet[i%len(discountAlphabet)]
			continue
		}
		out[i] = discountAlphabet[idx.Int64()]
	}
	return string(out)
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func formatPrice(v int64) string {
	if v <= 0 {
		return "-"
	}
	return strconv.FormatInt(v, 10)
}
