package main

import (
	"context"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/learnsphere/payments-api/internal/config"
	"github.com/learnsphere/payments-api/internal/email"
	"github.com/learnsphere/payments-api/internal/enrollment"
	"github.com/learnsphere/payments-api/internal/ledger"
	"github.com/learnsphere/payments-api/internal/payment"
)

type apiConfig struct {
	config       *config.Config
	store        ledger.Store
	payments     *payment.PaymentService
	orchestrator *enrollment.Orchestrator
	emailService *email.EmailService
	redisClient  *redis.Client
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}
	log.Println("Connected to database successfully")

	// Redis is a fast-path webhook dedupe and rate limiter; the ledger's
	// row-locked update stays authoritative, so running without it is fine.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Unable to parse Redis URL: %v", err)
		}
		redisClient = redis.NewClient(opt)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Unable to connect to Redis: %v", err)
		}
		log.Println("Connected to Redis successfully")
	} else {
		log.Println("REDIS_URL not set, webhook dedupe cache and rate limiting disabled")
	}

	emailService, err := email.NewEmailService()
	if err != nil {
		log.Fatalf("Failed to initialize email service: %v", err)
	}

	paymentService := payment.NewPaymentService(
		cfg.StripeSecretKey, cfg.StripeWebhookSecret,
		cfg.PaystackSecretKey, cfg.PaystackWebhookSecret,
		cfg.AllowUnverifiedWebhooks,
	)

	courseClient := enrollment.NewHTTPClient(cfg.CourseAPIURL)
	orchestrator := enrollment.NewOrchestrator(courseClient, courseClient)

	api := apiConfig{
		config:       cfg,
		store:        ledger.NewPostgresStore(pool),
		payments:     paymentService,
		orchestrator: orchestrator,
		emailService: emailService,
		redisClient:  redisClient,
	}

	mux := http.NewServeMux()

	// Checkout and transaction routes
	rateLimitMiddleware := RateLimitMiddleware(redisClient, cfg.RateLimit)
	mux.Handle("POST /api/v1/payments/checkout", rateLimitMiddleware(http.HandlerFunc(api.createCheckoutHandler)))
	mux.HandleFunc("GET /api/v1/payments/transactions/{id}", api.getTransactionHandler)
	mux.HandleFunc("GET /api/v1/payments/users/{id}/transactions", api.listUserTransactionsHandler)
	mux.HandleFunc("POST /api/v1/payments/transactions/{id}/retry", api.retryPaymentHandler)
	mux.HandleFunc("POST /api/v1/payments/transactions/{id}/refund", api.refundPaymentHandler)

	// Webhook routes (no auth - verified by signature)
	mux.HandleFunc("POST /api/v1/webhooks/stripe", api.stripeWebhookHandler)
	mux.HandleFunc("POST /api/v1/webhooks/paystack", api.paystackWebhookHandler)

	handler := middlewareCors(LoggingMiddleware(RecoveryMiddleware(mux)))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
