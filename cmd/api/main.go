// Package main is the entry point for the widget server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-widget/internal/billing"
	"github.com/capitalize-ai/chat-widget/internal/config"
	"github.com/capitalize-ai/chat-widget/internal/handler"
	"github.com/capitalize-ai/chat-widget/internal/llm"
	"github.com/capitalize-ai/chat-widget/internal/middleware"
	natsclient "github.com/capitalize-ai/chat-widget/internal/nats"
	"github.com/capitalize-ai/chat-widget/internal/notify"
	"github.com/capitalize-ai/chat-widget/internal/prompt"
	"github.com/capitalize-ai/chat-widget/internal/service"
	"github.com/capitalize-ai/chat-widget/internal/store"
	"github.com/capitalize-ai/chat-widget/internal/tenant"
	"github.com/capitalize-ai/chat-widget/internal/web"
	"github.com/capitalize-ai/chat-widget/pkg/logger"
	"github.com/capitalize-ai/chat-widget/pkg/tracing"
)

const serviceName = "chat-widget"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.NewFor(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting widget server", zap.String("env", cfg.Env))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Tenant configuration and prompts
	tenants := tenant.NewStore(cfg.ClientsPath, cfg.DemoLink)
	if err := tenants.EnsureDefault(tenant.DefaultRecord()); err != nil {
		log.Fatal("failed to initialize client config", zap.String("path", tenants.Path()), zap.Error(err))
	}
	prompts := prompt.NewBundler(cfg.PromptsDir)
	log.Info("tenant data loaded", zap.String("clients", tenants.Path()), zap.String("prompts", prompts.Dir()))

	// Storage
	db, err := store.Open(cfg.DBPath, log)
	if err != nil {
		log.Fatal("failed to open database", zap.String("path", cfg.DBPath), zap.Error(err))
	}
	defer db.Close()
	if cfg.AutoInitDB {
		if err := db.Init(ctx); err != nil {
			log.Fatal("failed to initialize database", zap.Error(err))
		}
	}

	// Optional event stream
	var (
		natsClient *natsclient.Client
		publisher  service.Publisher
	)
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		publisher = streamManager
	}

	// Initialize LLM client
	provider := llm.Provider(cfg.LLMProvider)
	llmOpts := llm.Options{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel, Timeout: cfg.LLMTimeout, MaxRetries: 1}
	if provider == llm.ProviderAnthropic {
		llmOpts.APIKey, llmOpts.Model = cfg.AnthropicAPIKey, cfg.AnthropicModel
	}
	llmClient, err := llm.NewClient(provider, llmOpts)
	if err != nil {
		log.Fatal("failed to create LLM client", zap.String("provider", cfg.LLMProvider), zap.Error(err))
	}

	// Lead delivery
	leadOpts := service.LeadOptions{
		Webhooks:      notify.NewWebhookPoster(notify.WebhookTimeout),
		Publisher:     publisher,
		EmailFallback: cfg.LeadEmailFallback,
		EmailSubject:  cfg.LeadEmailSubject,
	}
	if cfg.SMTPEnabled() {
		leadOpts.Mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
		})
	} else {
		log.Info("SMTP not configured, lead e-mails disabled")
	}

	pages, err := web.NewRenderer()
	if err != nil {
		log.Fatal("failed to load pages", zap.Error(err))
	}

	// Initialize services
	chatSvc := service.NewChatService(tenants, prompts, llmClient, db, publisher, tracing.Tracer(serviceName), log)
	leadSvc := service.NewLeadService(tenants, db, leadOpts, log)
	tenantSvc := service.NewTenantService(tenants, prompts, cfg.DemoLink, log)
	reportSvc := service.NewReportService(db)
	billingSvc := service.NewBillingService(
		billing.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret),
		db,
		billing.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiration),
		tenantSvc,
		cfg.StripePrices,
		cfg.PublicBaseURL,
		log,
	)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(db, natsClient)
	widgetHandler := handler.NewWidgetHandler(tenants, pages, llmOpts.Model, log)
	chatHandler := handler.NewChatHandler(chatSvc, log)
	leadHandler := handler.NewLeadHandler(leadSvc, log)
	adminHandler := handler.NewAdminHandler(tenantSvc, reportSvc, pages, cfg.PublicBaseURL, log)
	billingHandler := handler.NewBillingHandler(billingSvc, pages, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders(tenants))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.LimitBody(middleware.MaxBodyBytes))
	r.Use(middleware.CORS(tenants))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Pages and widget assets
	r.Handle("/static/*", web.Static())
	r.Group(func(r chi.Router) {
		r.Use(middleware.Tenant)
		r.Get("/", widgetHandler.Index)
		r.Get("/embed", widgetHandler.Embed)
		r.Get("/widget.js", widgetHandler.Script)
	})

	// Widget API
	r.Group(func(r chi.Router) {
		r.Use(middleware.Tenant)
		r.Get("/config", widgetHandler.Config)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
			r.Post("/chat", chatHandler.Chat)
			r.Post("/lead", leadHandler.Create)
		})
	})

	// Admin surface
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(middleware.AdminAuth(cfg.AdminUser, cfg.AdminPass))

		r.Get("/", adminHandler.Dashboard)
		r.Get("/clients", adminHandler.Clients)
		r.Post("/create-client", adminHandler.Create)
		r.Post("/update-client", adminHandler.Update)
		r.Post("/rotate-key", adminHandler.RotateKey)
		r.Get("/data", adminHandler.Data)
		r.Get("/export.csv", adminHandler.Export)
	})

	// Billing and onboarding
	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Post("/billing/checkout", billingHandler.Checkout)
		r.Post("/billing/portal", billingHandler.Portal)
		r.Get("/after-checkout", billingHandler.AfterCheckout)
		r.Post("/onboard", billingHandler.Onboard)
	})
	r.Post("/stripe/webhook", billingHandler.Webhook)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// Let in-flight lead notifications and event publishes finish.
	leadSvc.Wait()
	chatSvc.Wait()

	log.Info("server stopped")
}
