package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	LogLevel    string
	CORSOrigins []string

	CalcomAPIKey            string
	CalcomBaseURL           string
	CalcomEventSlugTemplate string
	AttendeeTimeZone        string

	// PaymentToken is the service credential used for the internal payment
	// confirmation call. Empty disables the step.
	PaymentToken      string
	PaymentConfirmURL string
	PaymentTimeout    time.Duration

	X402PayTo          string
	X402FacilitatorURL string
	X402Network        string
	X402Asset          string
	X402Price          string
	X402PublicURL      string

	ProofMode         string
	ProofAllowedHosts []string
	ProofWindow       time.Duration

	CRDBDSN      string
	MongoURI     string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string

	RateLimitPerMinute int
	IdempotencyTTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := getenv("PORT", "3000")
	cfg := &Config{
		Port:        port,
		LogLevel:    getenv("LOG_LEVEL", "info"),
		CORSOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "*")),

		CalcomAPIKey:            os.Getenv("CAL_COM_API_KEY"),
		CalcomBaseURL:           strings.TrimRight(getenv("CAL_COM_BASE_URL", "https://api.cal.com/v2"), "/"),
		CalcomEventSlugTemplate: getenv("CAL_COM_EVENT_SLUG_TEMPLATE", "%dmin"),
		AttendeeTimeZone:        getenv("ATTENDEE_TIME_ZONE", "America/New_York"),

		PaymentToken:      os.Getenv("PWYC_PAYMENT_TOKEN"),
		PaymentConfirmURL: getenv("PAYMENT_CONFIRM_URL", "http://localhost:"+port+"/api/process-pwyc-payment"),

		X402PayTo:          os.Getenv("PUBLIC_ADDRESS"),
		X402FacilitatorURL: strings.TrimRight(getenv("X402_FACILITATOR_URL", "https://x402.org/facilitator"), "/"),
		X402Network:        getenv("X402_NETWORK", "base-sepolia"),
		X402Asset:          getenv("X402_ASSET", "0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		X402Price:          getenv("X402_PRICE", "$5.00"),
		X402PublicURL:      strings.TrimRight(getenv("PUBLIC_URL", "http://localhost:"+port), "/"),

		ProofMode:         getenv("PROOF_MODE", "content"),
		ProofAllowedHosts: splitCSV(getenv("PROOF_ALLOWED_HOSTS", "tiktok.com,www.tiktok.com,vm.tiktok.com,m.tiktok.com")),

		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.PaymentTimeout, err = durationEnv("PAYMENT_TIMEOUT", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ProofWindow, err = durationEnv("PROOF_WINDOW", 72*time.Hour); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", time.Hour); err != nil {
		return nil, err
	}

	cfg.RateLimitPerMinute, err = strconv.Atoi(getenv("RATE_LIMIT_PER_MINUTE", "100"))
	if err != nil || cfg.RateLimitPerMinute < 1 {
		return nil, errors.Newf("invalid RATE_LIMIT_PER_MINUTE %q", os.Getenv("RATE_LIMIT_PER_MINUTE"))
	}

	if !strings.Contains(cfg.CalcomEventSlugTemplate, "%d") {
		return nil, errors.Newf("CAL_COM_EVENT_SLUG_TEMPLATE must contain %%d, got %q", cfg.CalcomEventSlugTemplate)
	}
	switch cfg.ProofMode {
	case "content", "accept-all":
	default:
		return nil, errors.Newf("invalid PROOF_MODE %q", cfg.ProofMode)
	}

	return cfg, nil
}

// PaymentsEnabled reports whether the internal payment confirmation step runs.
func (c *Config) PaymentsEnabled() bool {
	return c.PaymentToken != ""
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return d, nil
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
