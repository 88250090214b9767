package main

import (
	"context"
	"encoding/hex"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/skalov/mealmart/config"
	"github.com/skalov/mealmart/internal/auth"
	"github.com/skalov/mealmart/internal/gateway"
	handler "github.com/skalov/mealmart/internal/handler/http"
	"github.com/skalov/mealmart/internal/middleware"
	"github.com/skalov/mealmart/internal/notify"
	"github.com/skalov/mealmart/internal/repository"
	"github.com/skalov/mealmart/internal/repository/postgres"
	"github.com/skalov/mealmart/internal/service"
	"github.com/skalov/mealmart/internal/worker"
	"go.uber.org/zap"
)

const authTokenKey = "f53ac685bbceebd75043e6be2e06ee07"

// newLogger creates logger with log level
func newLogger(level string) (*zap.Logger, error) {

	loggerLvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	loggerCfg := zap.NewProductionConfig()
	loggerCfg.Level = loggerLvl

	return loggerCfg.Build()
}

func main() {

	// create new config
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	// initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}
	defer logger.Sync()

	// create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// initialize database
	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("Error initializing database", zap.Error(err))
	}
	defer db.Close()

	// migrate database
	err = db.Migrate()
	if err != nil {
		logger.Fatal("Error migrating database", zap.Error(err))
	}

	tokenKey, err := hex.DecodeString(authTokenKey)
	if err != nil {
		logger.Fatal("Error extracting token key", zap.Error(err))
	}
	token := auth.NewAuthToken(tokenKey)

	// payment gateways
	providers := map[string]gateway.Gateway{}
	if cfg.StripeAddr != "" {
		providers["stripe"] = gateway.NewRemote("stripe", cfg.StripeAddr)
	}
	if cfg.RazorpayAddr != "" {
		providers["razorpay"] = gateway.NewRemote("razorpay", cfg.RazorpayAddr)
	}
	gateways := gateway.NewSelector(cfg.Environment, gateway.NewLoopback(), providers)

	// dependency injection
	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	notifier := notify.NewLogNotifier(logger)
	orderService := service.NewOrderService(orderRepo, paymentRepo, gateways, notifier, logger)
	orderHandler := handler.NewOrderHandler(orderService)

	// refund reconciler re-drives refunds owed to cancelled orders
	reconciler := worker.NewRefundReconciler(orderService, cfg.RefundInterval, logger)
	go reconciler.Run(ctx)

	router := chi.NewRouter()

	router.Use(middleware.Logging(logger))

	// routes that require authentication
	router.Group(func(group chi.Router) {
		group.Use(handler.AuthMiddleware(token))
		group.Post("/api/orders", orderHandler.CreateOrder())
		group.Get("/api/orders", orderHandler.ListUserOrders())
		group.Get("/api/orders/{orderID}", orderHandler.GetOrder())
		group.Post("/api/orders/{orderID}/cancel", orderHandler.CancelOrder())
		group.Get("/api/orders/{orderID}/transactions", orderHandler.ListOrderTransactions())
	})

	logger.Info("Running server", zap.String("addr", cfg.ServerAddr), zap.String("env", cfg.Environment))

	if err := http.ListenAndServe(cfg.ServerAddr, router); err != nil {
		logger.Fatal("Error starting server", zap.Error(err))
	}
}
