package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	qdrantgo "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/analytics"
	"github.com/rkohli77/chatbot/internal/bucketing"
	"github.com/rkohli77/chatbot/internal/client"
	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/configcache"
	"github.com/rkohli77/chatbot/internal/encryption"
	"github.com/rkohli77/chatbot/internal/events"
	"github.com/rkohli77/chatbot/internal/generator"
	"github.com/rkohli77/chatbot/internal/handler"
	"github.com/rkohli77/chatbot/internal/hashing"
	"github.com/rkohli77/chatbot/internal/ratelimit"
	"github.com/rkohli77/chatbot/internal/repository/clickhouse"
	"github.com/rkohli77/chatbot/internal/repository/elastic"
	"github.com/rkohli77/chatbot/internal/repository/memory"
	"github.com/rkohli77/chatbot/internal/repository/qdrant"
	redisrepo "github.com/rkohli77/chatbot/internal/repository/redis"
	"github.com/rkohli77/chatbot/internal/repository/scylla"
	"github.com/rkohli77/chatbot/internal/repository/sqlstore"
	"github.com/rkohli77/chatbot/internal/repository/supabase"
	"github.com/rkohli77/chatbot/internal/service"
	"github.com/rkohli77/chatbot/internal/session"
	"github.com/rkohli77/chatbot/internal/tls"
	"github.com/rkohli77/chatbot/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config        *config.Config
	analyticsOnly bool
	tlsManager    *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	db               *sqlstore.DB
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	esClient         *client.ESClient
	qdrantClient     *qdrantgo.Client
	clickhouseClient *client.ClickHouseClient

	// Managers
	secrets          *encryption.SecretManager
	hasher           *hashing.Hasher
	bucketingManager *bucketing.Manager

	// Request coordination
	memoryCounters *memory.CounterStore
	memoryCache    *memory.CacheStore
	limiter        *ratelimit.Limiter
	configCache    *configcache.Cache
	coordinator    *session.Coordinator
	documents      service.DocumentSource
	generator      generator.Generator
	publisher      *events.Publisher
	subscriber     *events.Subscriber

	analytics *analytics.Service

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

type Option func(*Factory)

// AnalyticsOnly skips the chat path (generator, documents, limiter, events)
// for processes that only read or roll up statistics.
func AnalyticsOnly() Option {
	return func(f *Factory) { f.analyticsOnly = true }
}

// NewFactory loads configuration and initializes all application dependencies
func NewFactory(opts ...Option) (*Factory, error) {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	return New(cfg, opts...)
}

// New initializes dependencies from an already loaded configuration.
func New(cfg *config.Config, opts ...Option) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := f.initializeSecrets(); err != nil {
		return nil, err
	}

	if cfg.Server.EnableTLS && !f.analyticsOnly {
		f.tlsManager = tls.NewTLSManager(cfg.Server, cfg.IsProduction())
	}

	if err := f.initializeClients(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeComponents(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", f.tlsManager != nil),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.String("session_backend", cfg.Session.Backend),
		util.String("document_backend", cfg.Documents.Backend),
		util.Bool("analytics_only", f.analyticsOnly),
	)

	return f, nil
}

// initializeSecrets swaps KMS ciphertexts in the config for their plaintext.
func (f *Factory) initializeSecrets() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var decrypter encryption.Decrypter
	if f.config.KMS.Enabled {
		kmsClient, err := encryption.NewKMSClient(ctx, f.config.KMS)
		if err != nil {
			return fmt.Errorf("failed to create KMS client: %w", err)
		}
		decrypter = kmsClient
	}

	f.secrets = encryption.NewSecretManager(f.config.KMS, decrypter)
	if err := f.secrets.ResolveConfig(ctx, f.config); err != nil {
		return fmt.Errorf("failed to resolve secrets: %w", err)
	}
	return nil
}

// initializeClients connects external services. The SQL database is always
// required; the others are collected and only fatal in production.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := f.config
	var initErrors []error

	// SQL
	db, err := sqlstore.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	f.db = db
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("database migration: %w", err)
		}
	}

	// Redis
	if cfg.Redis.Enabled {
		if c, err := client.NewRedisClient(cfg); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = c
		}
	}

	// ScyllaDB
	if cfg.Session.Backend == "scylla" {
		if c, err := scylla.NewScyllaClient(cfg); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = c
			if err := c.EnsureSchema(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("scylla schema: %w", err))
			}
		}
	}

	// Kafka
	if cfg.Kafka.Enabled && !f.analyticsOnly {
		if producer, err := client.NewKafkaProducer(cfg); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
		if consumer, err := client.NewKafkaConsumer(cfg, cfg.Kafka.UpdatesTopic, cfg.Kafka.GroupID); err != nil {
			util.Warn("Kafka consumer initialization failed - cache invalidation stays node-local", util.ErrorField(err))
		} else {
			f.kafkaConsumer = consumer
		}
	}

	if !f.analyticsOnly {
		switch cfg.Documents.Backend {
		case "elasticsearch":
			if c, err := client.NewElasticsearchClient(cfg); err != nil {
				initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
			} else {
				f.esClient = c
			}
		case "qdrant":
			if c, err := qdrant.NewClient(cfg.Qdrant); err != nil {
				initErrors = append(initErrors, fmt.Errorf("qdrant: %w", err))
			} else {
				f.qdrantClient = c
			}
		}
	}

	// ClickHouse
	if cfg.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(cfg.Clickhouse, cfg.IsProduction()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = c
		}
	}

	if len(initErrors) > 0 {
		if cfg.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeComponents() error {
	cfg := f.config
	logger := util.Get()

	f.bucketingManager = bucketing.NewManager(cfg.Bucketing.EntryBuckets)

	// Session ledger and analytics source follow the session backend.
	sqlStats := sqlstore.NewAnalyticsRepository(f.db)
	var (
		ledger session.Ledger   = sqlstore.NewSessionRepository(f.db)
		source analytics.Source = sqlStats
		sinks                   = []analytics.Sink{sqlStats}
	)
	if f.scyllaClient != nil {
		repo := scylla.NewSessionRepository(f.scyllaClient, f.bucketingManager)
		ledger, source = repo, repo
	} else if cfg.Session.Backend == "scylla" {
		util.Warn("Scylla unavailable, falling back to SQL session ledger")
	}

	if f.clickhouseClient != nil {
		sink := clickhouse.NewDailyStatsSink(f.clickhouseClient)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := sink.EnsureSchema(ctx)
		cancel()
		if err != nil {
			util.Warn("ClickHouse schema setup failed, skipping ClickHouse export", util.ErrorField(err))
		} else {
			sinks = append(sinks, sink)
		}
	}

	f.analytics = analytics.NewService(source, sqlStats,
		analytics.WithSinks(sinks...),
		analytics.WithConcurrency(cfg.Analytics.Concurrency),
		analytics.WithLogger(util.Named("analytics")))

	f.coordinator = session.NewCoordinator(ledger,
		session.WithIdleTimeout(cfg.Session.ServerIdleTimeout),
		session.WithLogger(util.Named("session")))

	// Config cache
	var chatbotSource configcache.ChatbotSource = sqlstore.NewChatbotRepository(f.db)
	var supabaseRepo *supabase.ChatbotRepository
	if cfg.Session.ChatbotSource == "supabase" || cfg.Documents.Backend == "supabase" {
		repo, err := supabase.NewChatbotRepository(cfg.Supabase)
		if err != nil {
			return fmt.Errorf("supabase: %w", err)
		}
		supabaseRepo = repo
		if cfg.Session.ChatbotSource == "supabase" {
			chatbotSource = repo
		}
	}

	var cacheStore configcache.Store
	if cfg.Cache.Backend == "redis" && f.redisClient != nil {
		cacheStore = redisrepo.NewCacheStore(f.redisClient)
	} else {
		f.memoryCache = memory.NewCacheStore()
		cacheStore = f.memoryCache
	}
	f.configCache = configcache.New(cacheStore, chatbotSource, cfg.Cache.ConfigTTL).
		WithLogger(util.Named("configcache"))

	if f.analyticsOnly {
		return nil
	}

	// Rate limiting
	hasher, err := hashing.NewHasher(cfg.RateLimit.IdentitySecret)
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	f.hasher = hasher

	if cfg.RateLimit.Enabled {
		var counters ratelimit.CounterStore
		if cfg.RateLimit.Backend == "redis" && f.redisClient != nil {
			counters = redisrepo.NewCounterStore(f.redisClient)
		} else {
			f.memoryCounters = memory.NewCounterStore()
			counters = f.memoryCounters
		}
		f.limiter = ratelimit.NewLimiter(counters,
			ratelimit.WithRule(ratelimit.RouteChat, ratelimit.Rule(cfg.RateLimit.Chat)),
			ratelimit.WithRule(ratelimit.RoutePublicConfig, ratelimit.Rule(cfg.RateLimit.PublicConfig)),
			ratelimit.WithRule(ratelimit.RouteStatic, ratelimit.Rule(cfg.RateLimit.Static)),
			ratelimit.WithRule(ratelimit.RouteFeedback, ratelimit.Rule(cfg.RateLimit.Feedback)),
			ratelimit.WithLogger(util.Named("ratelimit")))
	}

	// Documents
	switch {
	case cfg.Documents.Backend == "elasticsearch" && f.esClient != nil:
		f.documents = elastic.NewDocumentRepository(f.esClient, cfg.Elasticsearch.Index)
	case cfg.Documents.Backend == "qdrant" && f.qdrantClient != nil:
		f.documents = qdrant.NewDocumentRepository(f.qdrantClient, cfg.Qdrant.Collection)
	case cfg.Documents.Backend == "supabase" && supabaseRepo != nil:
		f.documents = supabaseRepo
	default:
		if cfg.Documents.Backend != "sql" {
			util.Warn("Document backend unavailable, reading documents from SQL",
				util.String("backend", cfg.Documents.Backend))
		}
		f.documents = sqlstore.NewChatbotRepository(f.db)
	}

	gen, err := generator.NewOpenAIGenerator(cfg.OpenAI)
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	f.generator = gen

	// Cross-node invalidation
	if f.kafkaProducer != nil {
		f.publisher = events.NewPublisher(f.kafkaProducer, cfg.Kafka.UpdatesTopic)
	}
	if f.kafkaConsumer != nil {
		f.subscriber = events.NewSubscriber(f.kafkaConsumer, f.configCache)
	}

	var publisher service.UpdatePublisher
	if f.publisher != nil {
		publisher = f.publisher
	}
	f.serviceFactory = service.NewServiceFactory(cfg, f.configCache, f.coordinator, f.documents,
		f.generator, publisher, f.analytics, logger)

	return nil
}

// ==============================
// HTTP
// ==============================

// Router builds the public HTTP handler.
func (f *Factory) Router() http.Handler {
	logger := util.Get()
	var identity ratelimit.IdentityFunc
	if f.hasher != nil {
		identity = f.hasher.Identity(ratelimit.ClientIP)
	}
	return handler.NewRouter(handler.RouterOptions{
		Widgets:        handler.NewWidgetHandler(f.serviceFactory.WidgetService(), logger),
		Chatbots:       handler.NewChatbotHandler(f.serviceFactory.ChatbotService(), logger),
		Limiter:        f.limiter,
		Identity:       identity,
		Health:         f.HealthCheck,
		AllowedOrigins: f.config.Server.AllowedOrigins,
		WidgetAssetDir: f.config.Server.WidgetAssetDir,
		InternalToken:  f.config.Server.InternalToken,
		RequestTimeout: f.config.Server.RequestTimeout,
		Logger:         logger,
	})
}

// ==============================
// Background work
// ==============================

// RunBackground starts the invalidation subscriber, the rollup scheduler and
// the in-memory janitor. It returns once ctx is cancelled and they have stopped.
func (f *Factory) RunBackground(ctx context.Context) {
	var wg sync.WaitGroup

	if f.subscriber != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.subscriber.Run(ctx); err != nil {
				util.Error("Invalidation subscriber stopped", util.ErrorField(err))
			}
		}()
	}

	if f.config.Analytics.SchedulerEnabled && f.analytics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			analytics.NewScheduler(f.analytics, f.config.Analytics.Interval).Run(ctx)
		}()
	}

	var stores []memory.Expirer
	if f.memoryCounters != nil {
		stores = append(stores, f.memoryCounters)
	}
	if f.memoryCache != nil {
		stores = append(stores, f.memoryCache)
	}
	if len(stores) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			memory.RunJanitor(ctx, time.Minute, stores...)
		}()
	}

	wg.Wait()
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.db != nil {
		if err := f.db.HealthCheck(ctx); err != nil {
			healthErrors["database"] = err
		}
	} else {
		healthErrors["database"] = fmt.Errorf("database not initialized")
	}

	if f.config.Redis.Enabled {
		if f.redisClient == nil {
			healthErrors["redis"] = fmt.Errorf("redis client not initialized")
		} else if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.qdrantClient != nil {
		if _, err := f.qdrantClient.HealthCheck(ctx); err != nil {
			healthErrors["qdrant"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

// ==============================
// Other Utility Methods
// ==============================

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.kafkaConsumer != nil {
			_ = f.kafkaConsumer.Close()
		}
		if f.kafkaProducer != nil {
			_ = f.kafkaProducer.Close()
		}

		if f.clickhouseClient != nil {
			_ = f.clickhouseClient.Close()
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.qdrantClient != nil {
			if err := f.qdrantClient.Close(); err != nil {
				util.Error("Failed to close Qdrant client", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}

		if f.db != nil {
			if err := f.db.Close(); err != nil {
				util.Error("Failed to close database", util.ErrorField(err))
			}
		}

		if f.secrets != nil {
			f.secrets.ClearCache()
		}

		util.Info("Factory shutdown completed", zap.Bool("analytics_only", f.analyticsOnly))
		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Analytics() *analytics.Service {
	return f.analytics
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}
