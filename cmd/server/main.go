package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/winubot/trading-engine/internal/auth"
	"github.com/winubot/trading-engine/internal/config"
	"github.com/winubot/trading-engine/internal/database"
	"github.com/winubot/trading-engine/internal/exchange"
	"github.com/winubot/trading-engine/internal/fanout"
	"github.com/winubot/trading-engine/internal/notify"
	"github.com/winubot/trading-engine/internal/payments"
	"github.com/winubot/trading-engine/internal/stream"
	"github.com/winubot/trading-engine/internal/subscriptions"
	"github.com/winubot/trading-engine/internal/types"
	"github.com/winubot/trading-engine/internal/vault"
	"github.com/winubot/trading-engine/pkg/middleware"
)

// init configures the application logging based on environment settings.
// In development mode, it enables pretty printing with timestamps.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func main() {
	// .env is optional; the config loader reads the environment either way.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath())
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	credentialVault, err := vault.New(db, cfg.Vault.MasterKey)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize credential vault")
	}

	// One gateway per exchange. The simulator stands in until real adapters
	// are wired per deployment.
	gateways := map[string]exchange.Gateway{
		"binance": exchange.NewSimulator("binance", 10000),
		"bybit":   exchange.NewSimulator("bybit", 10000),
	}
	gatewayFor := func(name string) (exchange.Gateway, error) {
		gw, ok := gateways[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("no gateway configured for exchange %q", name)
		}
		return gw, nil
	}

	// Services and handlers.
	authService := auth.NewService(cfg.Auth.JWTSecret)
	if cfg.Auth.AdminAPIKey != "" {
		authService.RegisterAPICredentials(cfg.Auth.AdminAPIKey, cfg.Auth.AdminAPISecret, "admin")
	}
	authHandlers := auth.NewGinHandlers(authService)

	engine := fanout.NewEngine(db, credentialVault, gatewayFor, cfg.Fanout.MaxConcurrency, cfg.Fanout.OrderTimeout.Std())
	fanoutHandlers := fanout.NewGinHandlers(engine)

	ingestor := payments.NewIngestor(db, cfg.Payments.WebhookSecrets)
	reconciler := subscriptions.NewReconciler(db)
	paymentHandlers := payments.NewGinHandlers(ingestor, reconciler)

	notifier := notify.NewTelegram(cfg.Telegram)
	engine.SetStopTradingNotifier(notifier)
	subscriptionService := subscriptions.NewService(db)
	gapMonitor := subscriptions.NewProcessor(subscriptionService.Database(), notifier,
		cfg.Payments.GapScanInterval.Std(), cfg.Payments.GapGraceWindow.Std())
	subscriptionHandlers := subscriptions.NewGinHandlers(subscriptionService, gapMonitor, ingestor.Database())

	// Background processors.
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go gapMonitor.Start(processorCtx)
	go fanout.NewProcessor(engine, cfg.Fanout.SweepInterval.Std()).Start(processorCtx)

	if cfg.Kafka.Enabled {
		consumer := stream.NewSignalConsumer(cfg.Kafka)
		defer consumer.Close()
		go func() {
			err := consumer.Consume(processorCtx, func(ctx context.Context, signal types.Signal) error {
				_, err := engine.Fanout(ctx, signal)
				return err
			})
			if err != nil && processorCtx.Err() == nil {
				zlog.Error().Err(err).Msg("signal consumer stopped")
			}
		}()
	}

	// Router.
	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, cfg, authHandlers, fanoutHandlers, paymentHandlers, subscriptionHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	processorCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints:
// - Webhook routes: public, always 200 once persisted
// - Auth routes: public token issuance
// - Admin routes: JWT with admin permission
// - Internal routes: JWT, called by the signal scheduler
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	fanoutHandlers *fanout.GinHandlers,
	paymentHandlers *payments.GinHandlers,
	subscriptionHandlers *subscriptions.GinHandlers,
) {
	router.POST("/webhooks/:payment_method", paymentHandlers.WebhookHandler())

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		subs := v1.Group("/subscriptions")
		subs.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
		{
			subs.POST("/trial/start", subscriptionHandlers.StartTrialHandler())
			subs.POST("/dashboard-access", subscriptionHandlers.DashboardAccessHandler())
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(cfg.Auth.JWTSecret))
		{
			admin.GET("/payments/data", subscriptionHandlers.AdminDataHandler())
			admin.POST("/subscriptions/activate-manual", subscriptionHandlers.ManualActivateHandler())
			admin.GET("/orders/:order_group_id", fanoutHandlers.GetGroupHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
		{
			internal.POST("/signals/fanout", fanoutHandlers.FanoutHandler())
		}
	}
}

func configPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config.yaml"
}
