package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	Observability ObservabilityConfig
	Cloud         CloudConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis        RedisConfig
	RateLimit    RateLimitConfig
	Donation     DonationConfig
	Captcha      CaptchaConfig
	Stripe       StripeConfig
	Notification NotificationConfig
	Email        EmailConfig
	Receipt      ReceiptConfig
	Newsletter   NewsletterConfig

	CORSAllowedOrigins []string
	StaffAPIToken      string
	SeedDemoData       bool

	// SnowflakeNode must differ between replicas writing to one database.
	// Zero leaves the choice to the binary.
	SnowflakeNode int64
}

// ObservabilityConfig covers logging and OpenTelemetry export.
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	SlowQuery      time.Duration
	OtelEnabled    bool
	OtelEndpoint   string
	OtelProtocol   string
	OtelSampling   float64
	DeploymentEnv  string
	ServiceVersion string
}

type CloudConfig struct {
	InstanceID string
	Metrics    CloudMetricsConfig
}

type CloudMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig configures admission control. Policies are keyed by name.
type RateLimitConfig struct {
	Enabled       bool
	Backend       string
	FailOpen      bool
	DynamoTable   string
	SweepInterval time.Duration
	Policies      map[string]RatePolicyConfig
}

type RatePolicyConfig struct {
	MaxRequests int64
	Window      time.Duration
	FailOpen    bool
}

type DonationConfig struct {
	MinimumAmount   int64
	DefaultCurrency string
	RejectedPolicy  string
}

type CaptchaConfig struct {
	Required  bool
	Secret    string
	VerifyURL string
	Timeout   time.Duration
}

type StripeConfig struct {
	SecretKey          string
	APIBaseURL         string
	WebhookSecret      string
	WebhookTolerance   time.Duration
	SuccessURL         string
	CancelURL          string
	PlatformFeePercent string
	AllowedTiers       []string
	Connect            StripeConnectConfig
}

// StripeConnectConfig drives the OAuth flow that links an organization's
// own Stripe account for destination charges.
type StripeConnectConfig struct {
	ClientID    string
	BaseURL     string
	RedirectURL string
	ReturnURL   string
	StateTTL    time.Duration
}

func (c StripeConfig) Configured() bool {
	return strings.TrimSpace(c.SecretKey) != ""
}

// ConnectConfigured reports whether the OAuth flow can be started.
func (c StripeConfig) ConnectConfigured() bool {
	return c.Configured() && strings.TrimSpace(c.Connect.ClientID) != "" && strings.TrimSpace(c.Connect.RedirectURL) != ""
}

// TierAllowed reports whether a plan tier may take online payments.
func (c StripeConfig) TierAllowed(tier string) bool {
	tier = strings.ToLower(strings.TrimSpace(tier))
	for _, allowed := range c.AllowedTiers {
		if strings.ToLower(strings.TrimSpace(allowed)) == tier {
			return true
		}
	}
	return false
}

type NotificationConfig struct {
	Backend string
	Queue   string
	Timeout time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// NewsletterConfig holds the links mailed to new subscribers. Without
// ConfirmURL no confirmation email is sent.
type NewsletterConfig struct {
	ConfirmURL     string
	UnsubscribeURL string
}

type ReceiptConfig struct {
	ArchiveBucket string
	AWSRegion     string
	Footer        string
}

const (
	RateLimitBackendRedis    = "redis"
	RateLimitBackendSQL      = "sql"
	RateLimitBackendDynamoDB = "dynamodb"

	RejectedPolicyAudit  = "audit"
	RejectedPolicyRefuse = "refuse"

	PolicyPublicDonation  = "public_donation"
	PolicyCheckoutSession = "checkout_session"
	PolicyStaffDonation   = "staff_donation"
	PolicyNewsletter      = "newsletter"
	PolicyReceiptPDF      = "receipt_pdf"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	failOpen := getenvBool("RATE_LIMIT_FAIL_OPEN", true)

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "donorflow"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Observability: ObservabilityConfig{
			LogLevel:       strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:      strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			SlowQuery:      getenvDuration("LOG_SLOW_QUERY", 200*time.Millisecond),
			OtelEnabled:    getenvBool("OTEL_ENABLED", true),
			OtelEndpoint:   strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
			OtelProtocol:   otlpProtocol(),
			OtelSampling:   getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			DeploymentEnv:  strings.TrimSpace(getenv("DEPLOYMENT_ENV", "")),
			ServiceVersion: strings.TrimSpace(getenv("SERVICE_VERSION", "")),
		},
		Cloud: CloudConfig{
			InstanceID: strings.TrimSpace(getenv("CLOUD_INSTANCE_ID", "")),
			Metrics: CloudMetricsConfig{
				Enabled:   getenvBool("CLOUD_METRICS_ENABLED", false),
				Exporter:  strings.ToLower(getenv("CLOUD_METRICS_EXPORTER", "")),
				Endpoint:  strings.TrimSpace(getenv("CLOUD_METRICS_ENDPOINT", "")),
				AuthToken: strings.TrimSpace(getenv("CLOUD_METRICS_AUTH_TOKEN", "")),
				Interval:  getenvDuration("CLOUD_METRICS_INTERVAL", 5*time.Minute),
			},
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "donorflow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", true),
			Backend:       strings.ToLower(getenv("RATE_LIMIT_BACKEND", RateLimitBackendRedis)),
			FailOpen:      failOpen,
			DynamoTable:   getenv("RATE_LIMIT_DYNAMODB_TABLE", "donorflow_rate_windows"),
			SweepInterval: getenvDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
			Policies: map[string]RatePolicyConfig{
				PolicyPublicDonation:  loadPolicy("PUBLIC_DONATION", 10, time.Hour, failOpen),
				PolicyCheckoutSession: loadPolicy("CHECKOUT_SESSION", 5, 15*time.Minute, failOpen),
				PolicyStaffDonation:   loadPolicy("STAFF_DONATION", 100, time.Minute, failOpen),
				PolicyNewsletter:      loadPolicy("NEWSLETTER", 10, 15*time.Minute, failOpen),
				PolicyReceiptPDF:      loadPolicy("RECEIPT_PDF", 20, time.Minute, failOpen),
			},
		},
		Donation: DonationConfig{
			MinimumAmount:   getenvInt64("DONATION_MIN_AMOUNT", 500),
			DefaultCurrency: strings.ToUpper(getenv("DONATION_DEFAULT_CURRENCY", "USD")),
			RejectedPolicy:  normalizeRejectedPolicy(getenv("DONATION_REJECTED_POLICY", RejectedPolicyAudit)),
		},
		Captcha: CaptchaConfig{
			Required:  getenvBool("CAPTCHA_REQUIRED", true),
			Secret:    strings.TrimSpace(getenv("CAPTCHA_SECRET", "")),
			VerifyURL: strings.TrimSpace(getenv("CAPTCHA_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify")),
			Timeout:   getenvDuration("CAPTCHA_TIMEOUT", 3*time.Second),
		},
		Stripe: StripeConfig{
			SecretKey:          strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			APIBaseURL:         strings.TrimSpace(getenv("STRIPE_API_BASE_URL", "https://api.stripe.com")),
			WebhookSecret:      strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			WebhookTolerance:   getenvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
			SuccessURL:         strings.TrimSpace(getenv("STRIPE_SUCCESS_URL", "")),
			CancelURL:          strings.TrimSpace(getenv("STRIPE_CANCEL_URL", "")),
			PlatformFeePercent: strings.TrimSpace(getenv("PLATFORM_FEE_PERCENT", "2")),
			AllowedTiers:       parseList(getenv("CHECKOUT_ALLOWED_TIERS", "growth,pro,enterprise")),
			Connect: StripeConnectConfig{
				ClientID:    strings.TrimSpace(getenv("STRIPE_CONNECT_CLIENT_ID", "")),
				BaseURL:     strings.TrimSpace(getenv("STRIPE_CONNECT_BASE_URL", "https://connect.stripe.com")),
				RedirectURL: strings.TrimSpace(getenv("STRIPE_CONNECT_REDIRECT_URL", "")),
				ReturnURL:   strings.TrimSpace(getenv("STRIPE_CONNECT_RETURN_URL", "")),
				StateTTL:    getenvDuration("STRIPE_CONNECT_STATE_TTL", 30*time.Minute),
			},
		},
		Notification: NotificationConfig{
			Backend: strings.ToLower(getenv("NOTIFY_BACKEND", "noop")),
			Queue:   getenv("NOTIFY_QUEUE", "donorflow:notifications"),
			Timeout: getenvDuration("NOTIFY_TIMEOUT", 5*time.Second),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     int(getenvInt64("SMTP_PORT", 1025)),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "receipts@donorflow.local"),
		},
		Receipt: ReceiptConfig{
			ArchiveBucket: strings.TrimSpace(getenv("RECEIPT_ARCHIVE_BUCKET", "")),
			Footer:        getenv("RECEIPT_FOOTER", ""),
			AWSRegion:     strings.TrimSpace(getenv("AWS_REGION", "us-east-1")),
		},
		Newsletter: NewsletterConfig{
			ConfirmURL:     strings.TrimSpace(getenv("NEWSLETTER_CONFIRM_URL", "")),
			UnsubscribeURL: strings.TrimSpace(getenv("NEWSLETTER_UNSUBSCRIBE_URL", "")),
		},
		CORSAllowedOrigins: parseList(getenv("CORS_ALLOWED_ORIGINS", "*")),
		SnowflakeNode:      getenvInt64("SNOWFLAKE_NODE", 0),
		StaffAPIToken:      strings.TrimSpace(getenv("STAFF_API_TOKEN", "")),
		SeedDemoData:       getenvBool("SEED_DEMO_DATA", false),
	}

	return cfg
}

// Policy returns the named rate policy.
func (c RateLimitConfig) Policy(name string) (RatePolicyConfig, bool) {
	p, ok := c.Policies[name]
	return p, ok
}

func loadPolicy(name string, max int64, window time.Duration, failOpen bool) RatePolicyConfig {
	prefix := "RATE_LIMIT_" + name
	return RatePolicyConfig{
		MaxRequests: getenvInt64(prefix+"_MAX", max),
		Window:      getenvDuration(prefix+"_WINDOW", window),
		FailOpen:    getenvBool(prefix+"_FAIL_OPEN", failOpen),
	}
}

func normalizeRejectedPolicy(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case RejectedPolicyRefuse:
		return RejectedPolicyRefuse
	default:
		return RejectedPolicyAudit
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// otlpProtocol prefers the traces-specific variable over the shared one.
func otlpProtocol() string {
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); v != "" {
		return strings.ToLower(v)
	}
	return strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
