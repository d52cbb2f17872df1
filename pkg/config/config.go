package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	GCP           GCPConfig
	GCS           GCSConfig
	PubSub        PubSubConfig
	BigQuery      BigQueryConfig
	Circle        CircleConfig
	Vendors       VendorsConfig
	Generation    GenerationConfig
	Demo          DemoConfig
	Outbox        OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MEDIAFORGE_APP_ENV" required:"true"`
	Port         string `envconfig:"MEDIAFORGE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MEDIAFORGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MEDIAFORGE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MEDIAFORGE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MEDIAFORGE_DB_DSN"`
	Driver string `envconfig:"MEDIAFORGE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MEDIAFORGE_DB_HOST"`
	LegacyPort     int    `envconfig:"MEDIAFORGE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MEDIAFORGE_DB_USER"`
	LegacyPassword string `envconfig:"MEDIAFORGE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MEDIAFORGE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MEDIAFORGE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEDIAFORGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MEDIAFORGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MEDIAFORGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEDIAFORGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MEDIAFORGE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MEDIAFORGE_REDIS_ADDR"`
	Password     string        `envconfig:"MEDIAFORGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEDIAFORGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEDIAFORGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MEDIAFORGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MEDIAFORGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEDIAFORGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEDIAFORGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"MEDIAFORGE_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"MEDIAFORGE_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"MEDIAFORGE_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"MEDIAFORGE_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"MEDIAFORGE_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"MEDIAFORGE_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"MEDIAFORGE_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"MEDIAFORGE_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"MEDIAFORGE_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"MEDIAFORGE_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"MEDIAFORGE_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"MEDIAFORGE_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"MEDIAFORGE_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"MEDIAFORGE_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"MEDIAFORGE_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	AutoMigrate   bool   `envconfig:"MEDIAFORGE_AUTO_MIGRATE" default:"false"`
	GCSAccessMode string `envconfig:"MEDIAFORGE_GCS_ACCESS_MODE" default:"signed"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"MEDIAFORGE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MEDIAFORGE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"MEDIAFORGE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MEDIAFORGE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName        string        `envconfig:"MEDIAFORGE_GCS_BUCKET_NAME" required:"true"`
	UploadURLExpiry   time.Duration `envconfig:"MEDIAFORGE_GCS_UPLOAD_URL_EXPIRY" default:"15m"`
	DownloadURLExpiry time.Duration `envconfig:"MEDIAFORGE_GCS_DOWNLOAD_URL_EXPIRY" default:"1h"`
}

type PubSubConfig struct {
	GenerationTopic        string `envconfig:"MEDIAFORGE_PUBSUB_GENERATION_TOPIC" required:"true"`
	GenerationSubscription string `envconfig:"MEDIAFORGE_PUBSUB_GENERATION_SUBSCRIPTION" required:"true"`
	WalletTopic            string `envconfig:"MEDIAFORGE_PUBSUB_WALLET_TOPIC" required:"true"`
	WalletSubscription     string `envconfig:"MEDIAFORGE_PUBSUB_WALLET_SUBSCRIPTION" required:"true"`
	UsageTopic             string `envconfig:"MEDIAFORGE_PUBSUB_USAGE_TOPIC" required:"true"`
	UsageSubscription      string `envconfig:"MEDIAFORGE_PUBSUB_USAGE_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset               string `envconfig:"MEDIAFORGE_BIGQUERY_DATASET" default:"mediaforge"`
	GenerationEventsTable string `envconfig:"MEDIAFORGE_BIGQUERY_GENERATION_TABLE" default:"generation_events"`
	BillingEventsTable    string `envconfig:"MEDIAFORGE_BIGQUERY_BILLING_TABLE" default:"billing_events"`
}

// CircleConfig covers the programmable wallet vendor.
type CircleConfig struct {
	BaseURL          string        `envconfig:"MEDIAFORGE_CIRCLE_BASE_URL" default:"https://api.circle.com"`
	APIKey           string        `envconfig:"MEDIAFORGE_CIRCLE_API_KEY" required:"true"`
	EntitySecret     string        `envconfig:"MEDIAFORGE_CIRCLE_ENTITY_SECRET"`
	WebhookSecret    string        `envconfig:"MEDIAFORGE_CIRCLE_WEBHOOK_SECRET" required:"true"`
	WalletSetID      string        `envconfig:"MEDIAFORGE_CIRCLE_WALLET_SET_ID" required:"true"`
	TreasuryWalletID string        `envconfig:"MEDIAFORGE_CIRCLE_TREASURY_WALLET_ID" required:"true"`
	Blockchain       string        `envconfig:"MEDIAFORGE_CIRCLE_BLOCKCHAIN" default:"MATIC-AMOY"`
	TokenID          string        `envconfig:"MEDIAFORGE_CIRCLE_USDC_TOKEN_ID" required:"true"`
	RequestTimeout   time.Duration `envconfig:"MEDIAFORGE_CIRCLE_REQUEST_TIMEOUT" default:"15s"`
	BalanceCacheTTL  time.Duration `envconfig:"MEDIAFORGE_CIRCLE_BALANCE_CACHE_TTL" default:"10s"`
}

// VendorsConfig carries credentials for the generation providers.
type VendorsConfig struct {
	OpenAIAPIKey     string        `envconfig:"MEDIAFORGE_OPENAI_API_KEY"`
	OpenAIBaseURL    string        `envconfig:"MEDIAFORGE_OPENAI_BASE_URL" default:"https://api.openai.com"`
	OpenAIChatModel  string        `envconfig:"MEDIAFORGE_OPENAI_CHAT_MODEL" default:"gpt-4o-mini"`
	OpenAIImageModel string        `envconfig:"MEDIAFORGE_OPENAI_IMAGE_MODEL" default:"gpt-image-1"`
	ReplicateAPIKey  string        `envconfig:"MEDIAFORGE_REPLICATE_API_KEY"`
	ReplicateBaseURL string        `envconfig:"MEDIAFORGE_REPLICATE_BASE_URL" default:"https://api.replicate.com"`
	MeshyAPIKey      string        `envconfig:"MEDIAFORGE_MESHY_API_KEY"`
	MeshyBaseURL     string        `envconfig:"MEDIAFORGE_MESHY_BASE_URL" default:"https://api.meshy.ai"`
	NovitaAPIKey     string        `envconfig:"MEDIAFORGE_NOVITA_API_KEY"`
	NovitaBaseURL    string        `envconfig:"MEDIAFORGE_NOVITA_BASE_URL" default:"https://api.novita.ai"`
	RequestTimeout   time.Duration `envconfig:"MEDIAFORGE_VENDOR_REQUEST_TIMEOUT" default:"30s"`
}

// GenerationConfig controls pricing and the settlement poll budget.
type GenerationConfig struct {
	ChatPrice    string        `envconfig:"MEDIAFORGE_PRICE_CHAT" default:"0.01"`
	ImagePrice   string        `envconfig:"MEDIAFORGE_PRICE_IMAGE" default:"0.10"`
	Model3DPrice string        `envconfig:"MEDIAFORGE_PRICE_MODEL_3D" default:"0.50"`
	VideoPrice   string        `envconfig:"MEDIAFORGE_PRICE_VIDEO" default:"1.00"`

	PollInterval    time.Duration `envconfig:"MEDIAFORGE_GENERATION_POLL_INTERVAL" default:"5s"`
	PollMaxInterval time.Duration `envconfig:"MEDIAFORGE_GENERATION_POLL_MAX_INTERVAL" default:"60s"`
	TaskTTL         time.Duration `envconfig:"MEDIAFORGE_GENERATION_TASK_TTL" default:"30m"`
	ReaperInterval  time.Duration `envconfig:"MEDIAFORGE_GENERATION_REAPER_INTERVAL" default:"1m"`
}

// DemoConfig bounds free usage for accounts without funded wallets.
type DemoConfig struct {
	MonthlyLimit int           `envconfig:"MEDIAFORGE_DEMO_MONTHLY_LIMIT" default:"3"`
	CounterTTL   time.Duration `envconfig:"MEDIAFORGE_DEMO_COUNTER_TTL" default:"1080h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MEDIAFORGE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MEDIAFORGE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MEDIAFORGE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
