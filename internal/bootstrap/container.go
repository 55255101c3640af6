package bootstrap

import (
	"context"
	"sync"

	chclient "onboardr/internal/adapters/clickhouse"
	"onboardr/internal/adapters/config"
	"onboardr/internal/adapters/defindex"
	"onboardr/internal/adapters/horizon"
	"onboardr/internal/adapters/kafka"
	redisclient "onboardr/internal/adapters/redis"
	"onboardr/internal/adapters/soroswap"
	"onboardr/internal/adapters/telegram"
	"onboardr/internal/adapters/websocket"
	"onboardr/internal/agents"
	"onboardr/internal/api"
	"onboardr/internal/api/health"
	"onboardr/internal/cache"
	"onboardr/internal/metrics"
	"onboardr/internal/orchestration"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

// Version is stamped at build time
var Version = "dev"

// Container holds all application dependencies and their lifecycle
// Components are organized in initialization order
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure Layer (optional stores)
	Redis *redisclient.Client
	CH    *chclient.Client
	Cache *cache.Manager

	// External Adapters
	Adapters *Adapters

	// Agents and their manager
	Orchestration *Orchestration

	// Application Layer
	Application *Application

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Adapters groups all external adapters. Optional ones stay nil when unconfigured.
type Adapters struct {
	Soroswap *soroswap.Client
	DeFindex *defindex.Client
	Horizon  *horizon.Client

	Relay         *websocket.Manager
	KafkaProducer *kafka.Producer
	History       *chclient.HistoryStore
	Notifier      *telegram.Notifier
}

// Orchestration groups the agents and their manager
type Orchestration struct {
	Metrics *metrics.Collector
	Agents  *agents.Set
	Manager *orchestration.Manager
}

// Application groups application layer components
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Adapters:      &Adapters{},
		Orchestration: &Orchestration{},
		Application:   &Application{},
		Lifecycle:     NewLifecycle(),
		WG:            &sync.WaitGroup{},
		Context:       ctx,
		Cancel:        cancel,
	}
}

// MustInit initializes all components in the correct order
// Panics on any initialization error (fail-fast at startup)
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitAdapters()
	c.MustInitOrchestration()
	c.MustInitApplication()
}

// Start starts the HTTP server, the background adapters and, when
// configured, the orchestration system
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	if h := c.Adapters.History; h != nil {
		h.Start(c.Context)
	}

	if n := c.Adapters.Notifier; n != nil {
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			n.Run(c.Context)
		}()
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // Trigger shutdown on fatal HTTP error
		}
	}()

	if c.Config.Orchestration.AutoStart {
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			if err := c.Orchestration.Manager.Start(c.Context); err != nil && c.Context.Err() == nil {
				c.Log.Errorw("Orchestration failed to start", "error", err)
			}
		}()
	} else {
		c.Log.Info("Orchestration auto start disabled, waiting for POST /api/orchestration/start")
	}

	c.Log.Info("All systems operational")
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	// Cancel application context to signal all other components to stop
	c.Cancel()

	c.Lifecycle.Shutdown(Components{
		WG:            c.WG,
		HTTPServer:    c.Application.HTTPServer,
		Manager:       c.Orchestration.Manager,
		History:       c.Adapters.History,
		KafkaProducer: c.Adapters.KafkaProducer,
		ClickHouse:    c.CH,
		ErrorTracker:  c.ErrorTracker,
	}, c.Log)
}
