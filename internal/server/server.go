package server

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/time/rate"

	"github.com/temmyjay001/payments-core/internal/auth"
	"github.com/temmyjay001/payments-core/internal/config"
	"github.com/temmyjay001/payments-core/internal/gateway"
	"github.com/temmyjay001/payments-core/internal/lock"
	"github.com/temmyjay001/payments-core/internal/notify"
	"github.com/temmyjay001/payments-core/internal/payments"
	"github.com/temmyjay001/payments-core/internal/reconciliation"
	"github.com/temmyjay001/payments-core/internal/splits"
	"github.com/temmyjay001/payments-core/internal/storage"
	"github.com/temmyjay001/payments-core/internal/webhooks"
)

type Server struct {
	config                 *config.Config
	db                     *storage.DB
	gateway                *gateway.Client
	authMiddleware         *auth.Middleware
	paymentHandlers        *payments.Handlers
	webhookService         *webhooks.Service
	webhookHandlers        *webhooks.Handlers
	webhookLimiter         *rate.Limiter
	reconciliationService  *reconciliation.Service
	reconciliationHandlers *reconciliation.Handlers
}

func New(cfg *config.Config, db *storage.DB, locker lock.Locker) (*Server, error) {
	rules := splits.DefaultRules()
	if cfg.SplitRulesFile != "" {
		loaded, err := splits.LoadRules(cfg.SplitRulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load split rules: %w", err)
		}
		rules = loaded
		log.Printf("Loaded split rules from %s", cfg.SplitRulesFile)
	}

	// Initialize services in dependency order
	authService := auth.NewService(cfg)
	authMiddleware := auth.NewMiddleware(authService)

	gatewayClient := gateway.NewClient(cfg)
	notifier := notify.New(cfg.AlertWebhookURL, cfg.AlertWebhookSecret)

	splitStore := splits.NewPostgresStore(db)
	calculator := splits.NewCalculator(rules, cfg.PlatformWalletID, cfg.PartnerWalletID,
		splits.NewPostgresReferralStore(db), gatewayClient)

	paymentService := payments.NewService(gatewayClient, calculator, payments.NewPostgresStore(db), splitStore)
	paymentHandlers := payments.NewHandlers(paymentService)

	reconciliationService := reconciliation.NewService(cfg, gatewayClient, splitStore,
		reconciliation.NewPostgresStore(db), notifier, locker)
	reconciliationHandlers := reconciliation.NewHandlers(reconciliationService)

	dispatcher := webhooks.NewDispatcher(paymentService, reconciliationService)
	webhookService := webhooks.NewService(cfg, webhooks.NewPostgresLedger(db), dispatcher, notifier, locker)
	webhookHandlers := webhooks.NewHandlers(webhookService)

	return &Server{
		config:                 cfg,
		db:                     db,
		gateway:                gatewayClient,
		authMiddleware:         authMiddleware,
		paymentHandlers:        paymentHandlers,
		webhookService:         webhookService,
		webhookHandlers:        webhookHandlers,
		webhookLimiter:         rate.NewLimiter(rate.Limit(cfg.WebhookRateLimit), cfg.WebhookRateBurst),
		reconciliationService:  reconciliationService,
		reconciliationHandlers: reconciliationHandlers,
	}, nil
}

// StartWebhookRetryWorker runs the webhook retry sweep until ctx is done.
func (s *Server) StartWebhookRetryWorker(ctx context.Context) {
	s.webhookService.StartRetryWorker(ctx)
}

// StartReconciliationWorker runs the periodic reconciliation batch until ctx is done.
func (s *Server) StartReconciliationWorker(ctx context.Context) {
	s.reconciliationService.StartWorker(ctx)
}

func (s *Server) Webhooks() *webhooks.Service {
	return s.webhookService
}

func (s *Server) Reconciliation() *reconciliation.Service {
	return s.reconciliationService
}
