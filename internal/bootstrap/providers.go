package bootstrap

import (
	"context"
	"time"

	chclient "onboardr/internal/adapters/clickhouse"
	"onboardr/internal/adapters/config"
	"onboardr/internal/adapters/defindex"
	errnoop "onboardr/internal/adapters/errors/noop"
	"onboardr/internal/adapters/errors/sentry"
	"onboardr/internal/adapters/horizon"
	"onboardr/internal/adapters/kafka"
	redisclient "onboardr/internal/adapters/redis"
	"onboardr/internal/adapters/soroswap"
	"onboardr/internal/adapters/telegram"
	"onboardr/internal/adapters/websocket"
	"onboardr/internal/agents"
	"onboardr/internal/api"
	"onboardr/internal/api/analytics"
	"onboardr/internal/api/health"
	"onboardr/internal/cache"
	"onboardr/internal/domain/defi"
	"onboardr/internal/metrics"
	"onboardr/internal/orchestration"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

const connectTimeout = 10 * time.Second

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	// Initialize logger
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, Version, cfg.App.Env)

	// Initialize error tracker
	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure connects the optional stores and builds the cache.
// Redis and ClickHouse failures degrade instead of aborting startup.
func (c *Container) MustInitInfrastructure() {
	c.Redis = provideRedis(c.Context, c.Config.Redis, c.Log)

	opts := cache.Options{
		Prefix:     c.Config.Cache.Prefix,
		DefaultTTL: c.Config.Cache.DefaultTTL,
		Logger:     c.Log,
	}
	if c.Redis != nil {
		opts.Store = c.Redis
	}
	c.Cache = cache.New(opts)

	c.CH = provideClickHouse(c.Context, c.Config.ClickHouse, c.Log)
}

// ========================================
// Phase 3: External Adapters
// ========================================

// MustInitAdapters initializes the market data clients and the optional
// relay, event sink, history store and notifier
func (c *Container) MustInitAdapters() {
	c.Adapters.Soroswap = soroswap.NewClient(c.Config.Soroswap)
	c.Adapters.DeFindex = defindex.NewClient(c.Config.DeFindex)
	c.Adapters.Horizon = horizon.NewClient(c.Config.Horizon)
	if c.Config.Soroswap.APIKey == "" {
		c.Log.Warn("SOROSWAP_API_KEY not set, upstream requests may be rejected")
	}

	if url := c.Config.WebSocket.URL; url != "" {
		c.Adapters.Relay = websocket.NewManager(websocket.Config{
			URL:                  url,
			ReconnectDelay:       c.Config.WebSocket.ReconnectDelay,
			MaxReconnectAttempts: c.Config.WebSocket.MaxReconnectAttempts,
			PingInterval:         c.Config.WebSocket.PingInterval,
		}, c.Log)
	} else {
		c.Log.Info("WEBSOCKET_URL not set, real-time relay disabled")
	}

	c.Adapters.KafkaProducer = provideKafkaProducer(c.Config, c.Log)
	c.Adapters.History = provideHistoryStore(c.Context, c.CH, c.Log)
	c.Adapters.Notifier = provideNotifier(c.Config.Telegram, c.Log)
}

// ========================================
// Phase 4: Orchestration
// ========================================

// MustInitOrchestration builds the agents and the manager that runs them
func (c *Container) MustInitOrchestration() {
	metrics.Init()
	collector := metrics.NewCollector(c.Config.Orchestration.MetricsEnabled)
	c.Orchestration.Metrics = collector

	actx := orchestration.Context{
		Cache:   c.Cache,
		Metrics: collector,
		Logger:  c.Log,
	}

	deps := agents.FactoryDeps{
		Market:  c.Adapters.Soroswap,
		Router:  c.Adapters.Soroswap,
		Vaults:  c.Adapters.DeFindex,
		Network: c.Adapters.Horizon,
		Config:  c.Config.Agents,
	}
	if c.Adapters.History != nil {
		deps.History = c.Adapters.History
	}

	set, err := agents.Build(actx, deps)
	if err != nil {
		c.Log.Fatalf("failed to build agents: %v", err)
	}
	c.Orchestration.Agents = set

	managerDeps := orchestration.Deps{
		Cache:   c.Cache,
		Metrics: collector,
		Logger:  c.Log,
		Agents:  set.Factory,
	}
	if c.Adapters.Relay != nil {
		managerDeps.Relay = c.Adapters.Relay
	}
	if c.Adapters.KafkaProducer != nil {
		managerDeps.Sink = c.Adapters.KafkaProducer
	}

	manager := orchestration.NewManager(orchestration.Config{
		MaxConcurrentAgents: c.Config.Orchestration.MaxConcurrentAgents,
	}, managerDeps)
	c.Orchestration.Manager = manager

	if n := c.Adapters.Notifier; n != nil {
		manager.Subscribe(n.HandleEvent)
	}

	if err := metrics.RegisterStatusCollector(metrics.NewStatusCollector(manager.MetricsStatus)); err != nil {
		c.Log.Warnw("Status collector not registered", "error", err)
	}

	c.Log.Infow("Orchestration initialized",
		"agents", len(set.Runners()),
		"max_concurrent", c.Config.Orchestration.MaxConcurrentAgents,
	)
}

// ========================================
// Phase 5: Application Layer
// ========================================

// MustInitApplication builds the health checks and the HTTP server
func (c *Container) MustInitApplication() {
	c.Application.HealthHandler = provideHealthHandler(c)

	var history defi.HistoryRepository
	if c.Adapters.History != nil {
		history = c.Adapters.History
	}
	analyticsHandler := analytics.NewHandler(
		analytics.NewService(c.Cache, history, c.Log),
		analytics.Options{
			RateLimit: c.Config.API.AnalyticsRateLimit,
			Required:  map[string]string{"SOROSWAP_API_KEY": c.Config.Soroswap.APIKey},
		},
		c.Log,
	)

	set := c.Orchestration.Agents
	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		Port:        c.Config.HTTP.Port,
		ServiceName: c.Config.App.Name,
		Version:     Version,
	}, api.Routes{
		Health:        c.Application.HealthHandler,
		Analytics:     analyticsHandler,
		Orchestration: api.NewOrchestrationHandler(c.Orchestration.Manager, c.Log),
		Trades:        api.NewTradeHandler(set.Trading),
		Alerts:        api.NewAlertHandler(set.Alerts),
	}, c.Log)
}

// ========================================
// Providers
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(sentry.Options{
		DSN:         cfg.ErrorTracking.SentryDSN,
		Environment: cfg.ErrorTracking.Environment,
		Release:     cfg.App.Name + "@" + Version,
		ServerName:  cfg.App.Name,
	})
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

func provideRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redisclient.Client {
	if !cfg.Enabled() {
		log.Info("REDIS_HOST not set, cache runs in memory only")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := redisclient.NewClient(ctx, cfg)
	if err != nil {
		log.Warnw("Redis unavailable, cache runs in memory only", "addr", cfg.Addr(), "error", err)
		return nil
	}
	log.Infow("Redis connected", "addr", cfg.Addr())
	return client
}

func provideClickHouse(ctx context.Context, cfg config.ClickHouseConfig, log *logger.Logger) *chclient.Client {
	if !cfg.Enabled() {
		log.Info("CLICKHOUSE_HOST not set, market history disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := chclient.NewClient(ctx, cfg)
	if err != nil {
		log.Warnw("ClickHouse unavailable, market history disabled", "host", cfg.Host, "error", err)
		return nil
	}
	log.Infow("ClickHouse connected", "host", cfg.Host, "database", cfg.Database)
	return client
}

func provideHistoryStore(ctx context.Context, ch *chclient.Client, log *logger.Logger) *chclient.HistoryStore {
	if ch == nil {
		return nil
	}

	store := chclient.NewHistoryStore(ch.Conn(), chclient.HistoryOptions{})

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := store.Migrate(ctx); err != nil {
		log.Warnw("Market history migration failed, history disabled", "error", err)
		return nil
	}
	return store
}

func provideKafkaProducer(cfg *config.Config, log *logger.Logger) *kafka.Producer {
	if !cfg.Kafka.Enabled() {
		log.Info("KAFKA_BROKERS not set, event sink disabled")
		return nil
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	})
	log.Infow("Kafka producer initialized", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	return producer
}

func provideNotifier(cfg config.TelegramConfig, log *logger.Logger) *telegram.Notifier {
	if !cfg.Enabled() {
		log.Info("Telegram not configured, alert notifications disabled")
		return nil
	}

	bot, err := telegram.NewBot(telegram.Config{
		Token:         cfg.BotToken,
		RateLimitRate: cfg.RateRPS,
	}, log)
	if err != nil {
		log.Warnw("Telegram bot unavailable, alert notifications disabled", "error", err)
		return nil
	}
	return telegram.NewNotifier(bot, cfg.ChatIDs, log)
}

// provideHealthHandler registers a probe per configured dependency.
// Only orchestration gates readiness, and only when it starts on its own.
func provideHealthHandler(c *Container) *health.Handler {
	h := health.New(c.Log, c.Config.App.Name, Version)

	manager := c.Orchestration.Manager
	h.AddCheck("orchestration", func(context.Context) error {
		if !manager.IsRunning() {
			return errors.ErrNotRunning
		}
		return nil
	}, c.Config.Orchestration.AutoStart)

	if c.Redis != nil {
		h.AddCheck("redis", c.Redis.Ping, false)
	}
	if c.CH != nil {
		h.AddCheck("clickhouse", c.CH.Health, false)
	}
	if relay := c.Adapters.Relay; relay != nil {
		h.AddCheck("relay", func(context.Context) error {
			if !relay.IsConnected() {
				return errors.ErrWSNotConnected
			}
			return nil
		}, false)
	}
	return h
}
