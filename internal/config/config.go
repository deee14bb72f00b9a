package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the widget gateway.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Database      DatabaseConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Qdrant        QdrantConfig
	Clickhouse    ClickhouseConfig
	Supabase      SupabaseConfig
	OpenAI        OpenAIConfig
	KMS           KMSConfig
	RateLimit     RateLimitConfig
	Cache         CacheConfig
	Session       SessionConfig
	Documents     DocumentsConfig
	Analytics     AnalyticsConfig
	Bucketing     BucketingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	TLSPort        int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	AllowedOrigins []string
	WidgetAssetDir string

	// InternalToken guards the cache invalidation hook used by the admin side.
	InternalToken           string
	InternalTokenCiphertext string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	Enabled     bool
	URL         string
	Password    string
	DB          int
	PoolSize    int
	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string
}

type DatabaseConfig struct {
	// Driver is one of postgres, mysql, sqlite3.
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	CAPath   string
	CertPath string
	KeyPath  string
}

type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	UpdatesTopic string
	GroupID      string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
	CAFile   string
}

type SupabaseConfig struct {
	URL    string
	APIKey string
}

type OpenAIConfig struct {
	APIKey           string
	APIKeyCiphertext string
	BaseURL          string
	Model            string
	MaxTokens        int
	Timeout          time.Duration
}

type KMSConfig struct {
	Enabled bool
	Region  string
	KeyID   string
}

// RateRule is one admission budget: Limit requests per Window.
type RateRule struct {
	Limit  int
	Window time.Duration
}

type RateLimitConfig struct {
	Enabled        bool
	Backend        string
	Chat           RateRule
	PublicConfig   RateRule
	Static         RateRule
	Feedback       RateRule
	IdentitySecret string
}

type CacheConfig struct {
	Backend   string
	ConfigTTL time.Duration
}

type SessionConfig struct {
	// Backend is sql or scylla.
	Backend           string
	ServerIdleTimeout time.Duration
	HistoryLimit      int
	MaxMessageLength  int
	GenerationTimeout time.Duration
	ChatbotSource     string
}

type DocumentsConfig struct {
	// Backend is sql, elasticsearch, qdrant or supabase.
	Backend string
	Limit   int
}

type AnalyticsConfig struct {
	SchedulerEnabled bool
	Interval         time.Duration
	Concurrency      int
}

type BucketingConfig struct {
	EntryBuckets int
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:                    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                    getEnvInt("SERVER_PORT", 8080),
			TLSPort:                 getEnvInt("SERVER_TLS_PORT", 8443),
			ReadTimeout:             getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:            getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:             getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			RequestTimeout:          getEnvDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			EnableTLS:               getEnvBool("ENABLE_TLS", false),
			AutoCert:                getEnvBool("TLS_AUTOCERT", false),
			Domain:                  getEnv("TLS_DOMAIN", "localhost"),
			CertFile:                getEnv("TLS_CERT_FILE", ""),
			KeyFile:                 getEnv("TLS_KEY_FILE", ""),
			AutoCertDir:             getEnv("TLS_AUTOCERT_DIR", "./certs"),
			Email:                   getEnv("TLS_EMAIL", ""),
			AllowedOrigins:          getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			WidgetAssetDir:          getEnv("WIDGET_ASSET_DIR", "./web/widget"),
			InternalToken:           getEnv("INTERNAL_API_TOKEN", ""),
			InternalTokenCiphertext: getEnv("INTERNAL_API_TOKEN_KMS_CIPHERTEXT", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Redis: RedisConfig{
			Enabled:     getEnvBool("REDIS_ENABLED", false),
			URL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			PoolSize:    getEnvInt("REDIS_POOL_SIZE", 50),
			TLSCAFile:   getEnv("REDIS_TLS_CA_FILE", ""),
			TLSCertFile: getEnv("REDIS_TLS_CERT_FILE", ""),
			TLSKeyFile:  getEnv("REDIS_TLS_KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite3"),
			DSN:             getEnv("DB_DSN", "file:chatbot.db?_busy_timeout=5000"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"127.0.0.1"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "chatbot"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
			CAPath:   getEnv("SCYLLA_CA_PATH", ""),
			CertPath: getEnv("SCYLLA_CERT_PATH", ""),
			KeyPath:  getEnv("SCYLLA_KEY_PATH", ""),
		},
		Kafka: KafkaConfig{
			Enabled:      getEnvBool("KAFKA_ENABLED", false),
			Brokers:      getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			UpdatesTopic: getEnv("KAFKA_CHATBOT_UPDATES_TOPIC", "chatbot-updates"),
			GroupID:      getEnv("KAFKA_GROUP_ID", ""),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_DOCUMENT_INDEX", "chatbot-documents"),
		},
		Qdrant: QdrantConfig{
			URL:        getEnv("QDRANT_URL", "http://localhost:6334"),
			APIKey:     getEnv("QDRANT_API_KEY", ""),
			Collection: getEnv("QDRANT_COLLECTION", "chatbot_documents"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "chatbot"),
			CAFile:   getEnv("CLICKHOUSE_CA_FILE", ""),
		},
		Supabase: SupabaseConfig{
			URL:    getEnv("SUPABASE_URL", ""),
			APIKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:           getEnv("OPENAI_API_KEY", ""),
			APIKeyCiphertext: getEnv("OPENAI_API_KEY_KMS_CIPHERTEXT", ""),
			BaseURL:          getEnv("OPENAI_BASE_URL", ""),
			Model:            getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			MaxTokens:        getEnvInt("OPENAI_MAX_TOKENS", 500),
			Timeout:          getEnvDuration("OPENAI_TIMEOUT", 30*time.Second),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			Region:  getEnv("AWS_REGION", "us-east-1"),
			KeyID:   getEnv("KMS_KEY_ID", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			Backend:        getEnv("RATE_LIMIT_BACKEND", "memory"),
			Chat:           getEnvRule("RATE_LIMIT_CHAT", RateRule{Limit: 20, Window: time.Minute}),
			PublicConfig:   getEnvRule("RATE_LIMIT_CONFIG", RateRule{Limit: 100, Window: time.Minute}),
			Static:         getEnvRule("RATE_LIMIT_STATIC", RateRule{Limit: 300, Window: time.Minute}),
			Feedback:       getEnvRule("RATE_LIMIT_FEEDBACK", RateRule{Limit: 10, Window: time.Minute}),
			IdentitySecret: getEnv("RATE_LIMIT_IDENTITY_SECRET", ""),
		},
		Cache: CacheConfig{
			Backend:   getEnv("CACHE_BACKEND", "memory"),
			ConfigTTL: getEnvDuration("CONFIG_CACHE_TTL", 60*time.Second),
		},
		Session: SessionConfig{
			Backend:           getEnv("SESSION_BACKEND", "sql"),
			ServerIdleTimeout: getEnvDuration("SESSION_SERVER_IDLE_TIMEOUT", 30*time.Minute),
			HistoryLimit:      getEnvInt("SESSION_HISTORY_LIMIT", 10),
			MaxMessageLength:  getEnvInt("CHAT_MAX_MESSAGE_LENGTH", 2000),
			GenerationTimeout: getEnvDuration("CHAT_GENERATION_TIMEOUT", 45*time.Second),
			ChatbotSource:     getEnv("CHATBOT_SOURCE", "sql"),
		},
		Documents: DocumentsConfig{
			Backend: getEnv("DOCUMENT_BACKEND", "sql"),
			Limit:   getEnvInt("DOCUMENT_CONTEXT_LIMIT", 5),
		},
		Analytics: AnalyticsConfig{
			SchedulerEnabled: getEnvBool("ANALYTICS_SCHEDULER_ENABLED", false),
			Interval:         getEnvDuration("ANALYTICS_ROLLUP_INTERVAL", 24*time.Hour),
			Concurrency:      getEnvInt("ANALYTICS_ROLLUP_CONCURRENCY", 4),
		},
		Bucketing: BucketingConfig{
			EntryBuckets: getEnvInt("SCYLLA_ENTRY_BUCKETS", 8),
		},
	}

	if cfg.Kafka.GroupID == "" {
		host, _ := os.Hostname()
		cfg.Kafka.GroupID = "chatbot-cache-" + host
	}

	return cfg
}

// Validate rejects combinations that cannot work at runtime.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver))
	}
	switch c.Session.Backend {
	case "sql", "scylla":
	default:
		errs = append(errs, fmt.Errorf("unsupported SESSION_BACKEND %q", c.Session.Backend))
	}
	switch c.Documents.Backend {
	case "sql", "elasticsearch", "qdrant", "supabase":
	default:
		errs = append(errs, fmt.Errorf("unsupported DOCUMENT_BACKEND %q", c.Documents.Backend))
	}
	switch c.Session.ChatbotSource {
	case "sql", "supabase":
	default:
		errs = append(errs, fmt.Errorf("unsupported CHATBOT_SOURCE %q", c.Session.ChatbotSource))
	}
	for name, backend := range map[string]string{"CACHE_BACKEND": c.Cache.Backend, "RATE_LIMIT_BACKEND": c.RateLimit.Backend} {
		if backend != "memory" && backend != "redis" {
			errs = append(errs, fmt.Errorf("unsupported %s %q", name, backend))
		} else if backend == "redis" && !c.Redis.Enabled {
			errs = append(errs, fmt.Errorf("%s=redis requires REDIS_ENABLED=true", name))
		}
	}
	if (c.Documents.Backend == "supabase" || c.Session.ChatbotSource == "supabase") && (c.Supabase.URL == "" || c.Supabase.APIKey == "") {
		errs = append(errs, errors.New("supabase backend requires SUPABASE_URL and SUPABASE_SERVICE_KEY"))
	}
	if c.Cache.ConfigTTL <= 0 {
		errs = append(errs, errors.New("CONFIG_CACHE_TTL must be positive"))
	}
	if c.Session.ServerIdleTimeout <= 0 {
		errs = append(errs, errors.New("SESSION_SERVER_IDLE_TIMEOUT must be positive"))
	}
	if c.IsProduction() {
		if c.RateLimit.IdentitySecret == "" {
			errs = append(errs, errors.New("RATE_LIMIT_IDENTITY_SECRET is required in production"))
		}
		if c.Server.InternalToken == "" && c.Server.InternalTokenCiphertext == "" {
			errs = append(errs, errors.New("INTERNAL_API_TOKEN is required in production"))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ParseRateRule parses "20/1m" style budgets. A bare window unit such as
// "100/hour" is accepted as well.
func ParseRateRule(s string) (RateRule, error) {
	limitPart, windowPart, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return RateRule{}, fmt.Errorf("rate rule %q: expected <limit>/<window>", s)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitPart))
	if err != nil || limit < 0 {
		return RateRule{}, fmt.Errorf("rate rule %q: invalid limit", s)
	}

	windowPart = strings.TrimSpace(windowPart)
	var window time.Duration
	switch windowPart {
	case "s", "sec", "second":
		window = time.Second
	case "m", "min", "minute":
		window = time.Minute
	case "h", "hour":
		window = time.Hour
	case "d", "day":
		window = 24 * time.Hour
	default:
		window, err = time.ParseDuration(windowPart)
		if err != nil {
			return RateRule{}, fmt.Errorf("rate rule %q: invalid window: %w", s, err)
		}
	}
	if window <= 0 {
		return RateRule{}, fmt.Errorf("rate rule %q: window must be positive", s)
	}
	return RateRule{Limit: limit, Window: window}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvRule(key string, defaultValue RateRule) RateRule {
	if value := os.Getenv(key); value != "" {
		if rule, err := ParseRateRule(value); err == nil {
			return rule
		}
	}
	return defaultValue
}
