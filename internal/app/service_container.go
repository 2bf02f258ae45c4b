package app

import (
	"fmt"
	"sync"

	"crosspay/internal/clients"
	"crosspay/internal/config"
	"crosspay/internal/db"
	"crosspay/internal/events"
	"crosspay/internal/handlers"
	"crosspay/internal/services"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ServiceContainer wires services, clients, and handlers once at
// startup. Handlers are built lazily so tests can construct a container
// around a prepared database without standing up transport.
type ServiceContainer struct {
	DB *gorm.DB

	// Core services
	AuditService       *services.AuditService
	RiskService        *services.RiskService
	QuoteService       *services.QuoteService
	ApprovalService    *services.ApprovalService
	SettlementService  *services.SettlementService
	UserService        *services.UserService
	QuoteExpiryService *services.QuoteExpiryService

	// Clients
	ChainClient *clients.ChainClient
	NATSClient  *clients.NATSClient
	Consumer    *events.Consumer

	quoteHandler      *handlers.QuoteHandler
	approvalHandler   *handlers.ApprovalHandler
	settlementHandler *handlers.SettlementHandler
	riskHandler       *handlers.RiskHandler
	webhookHandler    *handlers.WebhookHandler
	authHandler       *handlers.AuthHandler
	basicHandler      *handlers.BasicHandler
	handlersOnce      sync.Once
}

// Container is the process-wide instance.
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer builds the container from the loaded configuration
// and the connected database. Safe to call more than once.
func InitializeContainer() (*ServiceContainer, error) {
	var initErr error
	containerOnce.Do(func() {
		if db.DB == nil {
			initErr = fmt.Errorf("database not initialized")
			return
		}
		Container = BuildContainer(db.DB, config.AppConfig)
	})
	return Container, initErr
}

// BuildContainer assembles the service graph over a database handle.
// Used directly by tests with an in-memory database.
func BuildContainer(database *gorm.DB, cfg *config.Config) *ServiceContainer {
	c := &ServiceContainer{DB: database}

	c.AuditService = services.NewAuditService(database)
	c.RiskService = services.NewRiskService(database, c.AuditService, cfg)
	c.QuoteService = services.NewQuoteService(database, c.RiskService, c.AuditService, cfg)

	if cfg.Risk.CheckWalletBalance {
		c.ChainClient = clients.NewChainClient(cfg)
	}
	c.ApprovalService = services.NewApprovalService(database, balanceChecker(c.ChainClient), c.AuditService, cfg)
	c.SettlementService = services.NewSettlementService(database, c.QuoteService, c.RiskService, c.AuditService, cfg)
	c.UserService = services.NewUserService(database)
	c.QuoteExpiryService = services.NewQuoteExpiryService(c.QuoteService, cfg)

	return c
}

// balanceChecker avoids storing a typed nil in the interface.
func balanceChecker(client *clients.ChainClient) clients.BalanceChecker {
	if client == nil {
		return nil
	}
	return client
}

// StartEventConsumers connects NATS and subscribes the settlement
// consumers. A disabled broker is not an error.
func (c *ServiceContainer) StartEventConsumers() error {
	cfg := config.AppConfig
	if cfg == nil || !cfg.NATS.Enabled || cfg.NATS.URL == "" {
		logrus.Info("NATS disabled, chain observations arrive over webhooks only")
		return nil
	}

	nc, err := clients.NewNATSClient(cfg.NATS)
	if err != nil {
		return fmt.Errorf("failed to connect NATS: %w", err)
	}
	c.NATSClient = nc
	c.Consumer = events.NewConsumer(nc, c.SettlementService)
	if err := c.Consumer.Subscribe(); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Shutdown stops background work and closes connections.
func (c *ServiceContainer) Shutdown() {
	if c.QuoteExpiryService != nil {
		c.QuoteExpiryService.Stop()
	}
	if c.NATSClient != nil {
		c.NATSClient.Close()
	}
}

// QuoteHandler returns the quote handler, building handlers on first use.
func (c *ServiceContainer) QuoteHandler() *handlers.QuoteHandler {
	c.initHandlers()
	return c.quoteHandler
}

// ApprovalHandler returns the approval handler.
func (c *ServiceContainer) ApprovalHandler() *handlers.ApprovalHandler {
	c.initHandlers()
	return c.approvalHandler
}

// SettlementHandler returns the settlement handler.
func (c *ServiceContainer) SettlementHandler() *handlers.SettlementHandler {
	c.initHandlers()
	return c.settlementHandler
}

// RiskHandler returns the risk handler.
func (c *ServiceContainer) RiskHandler() *handlers.RiskHandler {
	c.initHandlers()
	return c.riskHandler
}

// WebhookHandler returns the webhook handler.
func (c *ServiceContainer) WebhookHandler() *handlers.WebhookHandler {
	c.initHandlers()
	return c.webhookHandler
}

// AuthHandler returns the auth handler.
func (c *ServiceContainer) AuthHandler() *handlers.AuthHandler {
	c.initHandlers()
	return c.authHandler
}

// BasicHandler returns the health handler.
func (c *ServiceContainer) BasicHandler() *handlers.BasicHandler {
	c.initHandlers()
	return c.basicHandler
}

func (c *ServiceContainer) initHandlers() {
	c.handlersOnce.Do(func() {
		c.quoteHandler = handlers.NewQuoteHandler(c.QuoteService)
		c.approvalHandler = handlers.NewApprovalHandler(c.ApprovalService)
		c.settlementHandler = handlers.NewSettlementHandler(c.SettlementService, c.QuoteService)
		c.riskHandler = handlers.NewRiskHandler(c.RiskService)
		c.webhookHandler = handlers.NewWebhookHandler(c.SettlementService)
		c.authHandler = handlers.NewAuthHandler(c.UserService)
		c.basicHandler = handlers.NewBasicHandler(c.RiskService)
	})
}
