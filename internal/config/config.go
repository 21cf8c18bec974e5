// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMissingConfig is returned when required keys are absent.
var ErrMissingConfig = errors.New("missing required configuration")

// Supported backends.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds every recognised option.
type Config struct {
	AppEnv           string
	HTTPListenAddr   string
	PublicBasePath   string
	LogLevel         string
	LogFormat        string
	MetricsNamespace string
	MockMode         bool

	LLMProvider     string
	ClassifierModel string
	GenerationModel string
	EmbeddingModel  string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	GeminiAPIKey    string
	LLMTimeout      time.Duration

	DatabaseDriver string
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	RateLimitBackend      string
	RateLimitMax          int64
	RateLimitWindow       time.Duration
	FunnelRateLimitMax    int64
	FunnelRateLimitWindow time.Duration

	MemoryMaxTurns      int
	MemoryCacheTTL      time.Duration
	KnowledgeThreshold  float64
	KnowledgeTopK       int
	HistoryContextTurns int

	BookPDFURL           string
	BookComboURL         string
	BookPDFPrice         int
	BookComboPrice       int
	DiscountValidityDays int
	PayPalURL            string
	CardPaymentURL       string
	BankTransferInfo     string
	RemittanceInfo       string
	HumanContact         string
	PaidSessionURL       string

	AdminAPIToken    string
	AdminWhatsAppJID string

	NotifyRetryAttempts int
	NotifyRetryDelay    time.Duration
	NotifyTimeout       time.Duration

	WhatsAppEnabled   bool
	WhatsAppStorePath string
	WhatsAppLogLevel  string

	EmailAPIKey        string
	EmailFrom          string
	EmailBaseURL       string
	EmailTimeout       time.Duration
	EmailRetryAttempts int
	EmailRetryDelay    time.Duration
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

type lookupFunc func(string) (string, bool)

type reader struct {
	lookup lookupFunc
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return f
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) oneOf(key, def string, allowed ...string) string {
	v := strings.ToLower(r.str(key, def))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	r.errs = append(r.errs, fmt.Errorf("%s: unsupported value %q", key, v))
	return def
}

func load(lookup lookupFunc) (Config, error) {
	r := &reader{lookup: lookup}

	listen := r.str("HTTP_LISTEN_ADDR", "")
	if listen == "" {
		listen = ":" + r.str("PORT", "8080")
	}

	cfg := Config{
		AppEnv:           r.str("APP_ENV", "development"),
		HTTPListenAddr:   listen,
		PublicBasePath:   r.str("PUBLIC_BASE_PATH", ""),
		LogLevel:         r.str("LOG_LEVEL", "info"),
		LogFormat:        r.str("LOG_FORMAT", "text"),
		MetricsNamespace: r.str("METRICS_NAMESPACE", "funnel_bot"),
		MockMode:         r.boolean("MOCK_MODE", false),

		OpenAIAPIKey:  r.str("OPENAI_API_KEY", ""),
		OpenAIBaseURL: r.str("OPENAI_BASE_URL", ""),
		GeminiAPIKey:  r.str("GEMINI_API_KEY", ""),
		LLMTimeout:    r.duration("LLM_TIMEOUT", 30*time.Second),

		DatabaseURL:    r.str("DATABASE_URL", ""),
		DatabaseSchema: r.str("DATABASE_SCHEMA", "public"),
		SQLitePath:     r.str("SQLITE_PATH", "data/funnel.db"),

		RedisAddr:     r.str("REDIS_ADDR", ""),
		RedisPassword: r.str("REDIS_PASSWORD", ""),
		RedisDB:       r.integer("REDIS_DB", 0),
		RedisTLS:      r.boolean("REDIS_TLS", false),

		RateLimitMax:          int64(r.integer("RATE_LIMIT_MAX", 50)),
		RateLimitWindow:       r.duration("RATE_LIMIT_WINDOW", 24*time.Hour),
		FunnelRateLimitMax:    int64(r.integer("FUNNEL_RATE_LIMIT_MAX", 100)),
		FunnelRateLimitWindow: r.duration("FUNNEL_RATE_LIMIT_WINDOW", 24*time.Hour),

		MemoryMaxTurns:      r.integer("MEMORY_MAX_TURNS", 10),
		MemoryCacheTTL:      r.duration("MEMORY_CACHE_TTL", time.Hour),
		KnowledgeThreshold:  r.float("KNOWLEDGE_THRESHOLD", 0.7),
		KnowledgeTopK:       r.integer("KNOWLEDGE_TOP_K", 5),
		HistoryContextTurns: r.integer("HISTORY_CONTEXT_TURNS", 10),

		BookPDFURL:           r.str("BOOK_PDF_URL", ""),
		BookComboURL:         r.str("BOOK_COMBO_URL", ""),
		BookPDFPrice:         r.integer("BOOK_PDF_PRICE", 27),
		BookComboPrice:       r.integer("BOOK_COMBO_PRICE", 47),
		DiscountValidityDays: r.integer("DISCOUNT_VALIDITY_DAYS", 7),
		PayPalURL:            r.str("PAYPAL_URL", ""),
		CardPaymentURL:       r.str("CARD_PAYMENT_URL", ""),
		BankTransferInfo:     r.str("BANK_TRANSFER_INFO", ""),
		RemittanceInfo:       r.str("REMITTANCE_INFO", ""),
		HumanContact:         r.str("HUMAN_CONTACT", "soporte@academia.com"),
		PaidSessionURL:       r.str("PAID_SESSION_URL", ""),

		AdminAPIToken:    r.str("ADMIN_API_TOKEN", ""),
		AdminWhatsAppJID: r.str("ADMIN_WHATSAPP_JID", ""),

		NotifyRetryAttempts: r.integer("NOTIFY_RETRY_ATTEMPTS", 3),
		NotifyRetryDelay:    r.duration("NOTIFY_RETRY_DELAY", time.Second),
		NotifyTimeout:       r.duration("NOTIFY_TIMEOUT", 10*time.Second),

		WhatsAppEnabled:   r.boolean("WHATSAPP_ENABLED", false),
		WhatsAppStorePath: r.str("WHATSAPP_STORE_PATH", "data/whatsmeow.db"),
		WhatsAppLogLevel:  r.str("WHATSAPP_LOG_LEVEL", "INFO"),

		EmailAPIKey:        r.str("EMAIL_API_KEY", ""),
		EmailFrom:          r.str("EMAIL_FROM", ""),
		EmailBaseURL:       r.str("EMAIL_BASE_URL", "https://api.resend.com"),
		EmailTimeout:       r.duration("EMAIL_TIMEOUT", 15*time.Second),
		EmailRetryAttempts: r.integer("EMAIL_RETRY_ATTEMPTS", 3),
		EmailRetryDelay:    r.duration("EMAIL_RETRY_DELAY", 2*time.Second),
	}

	providerDefault, driverDefault := ProviderOpenAI, DriverPostgres
	if cfg.MockMode {
		providerDefault, driverDefault = ProviderMock, DriverMemory
	}
	cfg.LLMProvider = r.oneOf("LLM_PROVIDER", providerDefault, ProviderOpenAI, ProviderGemini, ProviderMock)
	cfg.DatabaseDriver = r.oneOf("DATABASE_DRIVER", driverDefault, DriverPostgres, DriverSQLite, DriverMemory)

	backendDefault := BackendMemory
	if cfg.RedisAddr != "" {
		backendDefault = BackendRedis
	}
	cfg.RateLimitBackend = r.oneOf("RATE_LIMIT_BACKEND", backendDefault, BackendRedis, BackendMemory)

	chat, gen, embed := "gpt-4o-mini", "gpt-4o", "text-embedding-3-small"
	if cfg.LLMProvider == ProviderGemini {
		chat, gen, embed = "gemini-2.0-flash", "gemini-2.0-flash", "text-embedding-004"
	}
	cfg.ClassifierModel = r.str("CLASSIFIER_MODEL", chat)
	cfg.GenerationModel = r.str("GENERATION_MODEL", gen)
	cfg.EmbeddingModel = r.str("EMBEDDING_MODEL", embed)

	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	if missing := cfg.missing(); len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return cfg, nil
}

// missing lists required keys for the selected mode, driver and provider.
func (c Config) missing() []string {
	var keys []string
	need := func(key, value string) {
		if value == "" {
			keys = append(keys, key)
		}
	}

	switch c.LLMProvider {
	case ProviderOpenAI:
		need("OPENAI_API_KEY", c.OpenAIAPIKey)
	case ProviderGemini:
		need("GEMINI_API_KEY", c.GeminiAPIKey)
	}
	if c.DatabaseDriver == DriverPostgres {
		need("DATABASE_URL", c.DatabaseURL)
	}
	if c.RateLimitBackend == BackendRedis {
		need("REDIS_ADDR", c.RedisAddr)
	}
	if c.WhatsAppEnabled {
		need("WHATSAPP_STORE_PATH", c.WhatsAppStorePath)
	}
	if !c.MockMode {
		need("ADMIN_API_TOKEN", c.AdminAPIToken)
		need("EMAIL_API_KEY", c.EmailAPIKey)
		need("EMAIL_FROM", c.EmailFrom)
		need("BOOK_PDF_URL", c.BookPDFURL)
	}
	sort.Strings(keys)
	return keys
}
