package flow

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"funnel-bot/internal/detect"
	"funnel-bot/internal/domain"
)

// Method is a payment method offered in the funnel menu.
type Method string

const (
	MethodPayPal     Method = "paypal"
	MethodCard       Method = "tarjeta"
	MethodBank       Method = "transferencia"
	MethodRemittance Method = "remesa"
)

// Methods is the menu order; option N is Methods[N-1].
var Methods = []Method{MethodPayPal, MethodCard, MethodBank, MethodRemittance}

// Contact is the buyer data collected in LIBRO_DATA.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// Matchers are the natural-language recognisers the state machine consults.
// Each is a pure function and may be replaced independently.
type Matchers struct {
	Country     func(text string) (string, bool)
	Method      func(text string) (Method, bool)
	Product     func(text string) (domain.Product, bool)
	Contact     func(text string) (Contact, bool)
	Proof       func(text string) (string, bool)
	TopicSwitch func(text string) bool
	Ack         func(text string) bool
}

// DefaultMatchers returns the built-in recognisers. prices lets product detection
// also match a mentioned price.
func DefaultMatchers(prices detect.PriceTable) Matchers {
	return Matchers{
		Country: MatchCountry,
		Method:  MatchMethod,
		Product: func(text string) (domain.Product, bool) {
			return detect.DetectProductWithPrices(text, prices)
		},
		Contact:     MatchContact,
		Proof:       MatchProof,
		TopicSwitch: MatchTopicSwitch,
		Ack:         MatchAck,
	}
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases text, strips accents and collapses everything that is not a
// letter or digit into single spaces.
func Normalize(text string) string {
	folded, _, err := transform.String(stripMarks, strings.ToLower(text))
	if err != nil {
		folded = strings.ToLower(text)
	}
	var b strings.Builder
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// countries maps normalized spellings to the display name stored on the order.
var countries = map[string]string{
	"colombia":             "Colombia",
	"mexico":               "México",
	"argentina":            "Argentina",
	"chile":                "Chile",
	"peru":                 "Perú",
	"ecuador":              "Ecuador",
	"venezuela":            "Venezuela",
	"bolivia":              "Bolivia",
	"paraguay":             "Paraguay",
	"uruguay":              "Uruguay",
	"guatemala":            "Guatemala",
	"honduras":             "Honduras",
	"el salvador":          "El Salvador",
	"salvador":             "El Salvador",
	"nicaragua":            "Nicaragua",
	"costa rica":           "Costa Rica",
	"panama":               "Panamá",
	"republica dominicana": "República Dominicana",
	"dominicana":           "República Dominicana",
	"rd":                   "República Dominicana",
	"puerto rico":          "Puerto Rico",
	"cuba":                 "Cuba",
	"espana":               "España",
	"estados unidos":       "Estados Unidos",
	"usa":                  "Estados Unidos",
	"eeuu":                 "Estados Unidos",
	"ee uu":                "Estados Unidos",
	"eua":                  "Estados Unidos",
	"brasil":               "Brasil",
	"canada":               "Canadá",
}

// MatchCountry finds a known country mentioned as whole words.
func MatchCountry(text string) (string, bool) {
	padded := " " + Normalize(text) + " "
	best := ""
	for key := range countries {
		// Longest key wins so "el salvador" beats "salvador".
		if strings.Contains(padded, " "+key+" ") && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return "", false
	}
	return countries[best], true
}

var methodNumberRegex = regexp.MustCompile(`(?:^|\s)(?:opcion\s*|numero\s*|la\s*)?([1-4])(?:\s|$)`)

var methodAliases = []struct {
	method Method
	words  []string
}{
	{MethodPayPal, []string{"paypal", "pay pal"}},
	{MethodCard, []string{"tarjeta", "credito", "debito", "card", "visa", "mastercard", "stripe"}},
	{MethodBank, []string{"transferencia", "banco", "bancaria", "deposito", "nequi", "bancolombia", "spei", "zelle"}},
	{MethodRemittance, []string{"western union", "moneygram", "remesa", "ria", "giro"}},
}

// MatchMethod accepts the menu number 1-4 or a payment method name.
func MatchMethod(text string) (Method, bool) {
	n := Normalize(text)
	if m := methodNumberRegex.FindStringSubmatch(n); len(m) == 2 {
		return Methods[m[1][0]-'1'], true
	}
	padded := " " + n + " "
	for _, alias := range methodAliases {
		for _, w := range alias.words {
			if strings.Contains(padded, " "+w+" ") {
				return alias.method, true
			}
		}
	}
	return "", false
}

var (
	emailRegex        = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	contactLabelRegex = regexp.MustCompile(`(?i)\b(mi\s+nombre\s+es|nombre|name|correo\s+electr[oó]nico|correo|email|e-mail|mail|tel[eé]fono|celular|whatsapp|wsp|n[uú]mero|soy|me\s+llamo)\b\s*:?`)
	phoneCandidate    = regexp.MustCompile(`\+?\d[\d\s\-()]{8,20}\d`)
)

// MatchContact extracts email and phone (both required) and treats the remaining
// words as the buyer name.
func MatchContact(text string) (Contact, bool) {
	email := emailRegex.FindString(text)
	if email == "" {
		return Contact{}, false
	}
	rest := strings.Replace(text, email, " ", 1)
	phone, ok := detect.FindPhone(rest)
	if !ok {
		return Contact{}, false
	}
	rest = phoneCandidate.ReplaceAllString(rest, " ")
	rest = contactLabelRegex.ReplaceAllString(rest, " ")

	words := strings.FieldsFunc(rest, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\'' && r != '-'
	})
	return Contact{
		Name:  strings.Join(words, " "),
		Email: strings.ToLower(email),
		Phone: phone,
	}, true
}

var (
	urlRegex        = regexp.MustCompile(`https?://\S+`)
	imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".heic", ".gif", ".pdf"}
	mediaHosts      = []string{"imgur.com", "ibb.co", "drive.google.com", "dropbox.com", "fbcdn.net", "lookaside", "whatsapp.net", "cloudinary.com", "manychat", "amazonaws.com", "googleusercontent.com"}
	imageKeywords   = []string{"image", "img", "photo", "foto", "media", "attachment", "comprobante", "upload"}
)

// MatchProof recognises a proof-of-payment reference: a URL with an image extension,
// a known media host, or an image-related keyword. Media placeholders sent by the
// WhatsApp transport ("[imagen] <ref>") are accepted as well.
func MatchProof(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(strings.ToLower(trimmed), "[imagen]") {
		ref := strings.TrimSpace(trimmed[len("[imagen]"):])
		if ref == "" {
			ref = "whatsapp-media"
		}
		return ref, true
	}
	for _, u := range urlRegex.FindAllString(trimmed, -1) {
		lower := strings.ToLower(u)
		path := lower
		if i := strings.IndexAny(path, "?#"); i >= 0 {
			path = path[:i]
		}
		for _, ext := range imageExtensions {
			if strings.HasSuffix(path, ext) {
				return u, true
			}
		}
		for _, host := range mediaHosts {
			if strings.Contains(lower, host) {
				return u, true
			}
		}
		for _, kw := range imageKeywords {
			if strings.Contains(lower, kw) {
				return u, true
			}
		}
	}
	return "", false
}

var topicSwitchWords = []string{
	"soporte", "ayuda con mi cuenta", "no puedo entrar", "acceso",
	"asesor", "humano", "persona real", "queja", "reclamo", "reembolso",
	"membresia", "suscripcion", "comunidad", "mentoria",
}

// MatchTopicSwitch reports whether a post-sale message is about something else.
func MatchTopicSwitch(text string) bool {
	padded := " " + Normalize(text) + " "
	for _, w := range topicSwitchWords {
		if strings.Contains(padded, " "+w+" ") {
			return true
		}
	}
	return false
}

var ackWords = map[string]bool{
	"ok": true, "okay": true, "oki": true, "gracias": true, "listo": true, "vale": true,
	"perfecto": true, "entendido": true, "dale": true, "bueno": true, "genial": true,
	"super": true, "excelente": true, "si": true, "muchas": true, "mil": true,
}

// MatchAck reports whether text is a short acknowledgement such as "ok gracias".
func MatchAck(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.ContainsAny(trimmed, "👍🙏👌") && len([]rune(trimmed)) <= 4 {
		return true
	}
	words := strings.Fields(Normalize(trimmed))
	if len(words) == 0 || len(words) > 4 {
		return false
	}
	for _, w := range words {
		if !ackWords[w] {
			return false
		}
	}
	return true
}
