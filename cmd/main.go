/**
 * @description
 * This is the main entry point for the payments-service. It initializes all
 * components of the service: configuration, database connection, the payment
 * processor client, the message broker, Redis, repositories, the core
 * application service, and the HTTP server, then wires everything together.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Rate limiting and webhook dedupe.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/processorclient, pkg/rabbitmq: External service clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/markinflu/payments-service/internal/api"
	"github.com/markinflu/payments-service/internal/app"
	"github.com/markinflu/payments-service/internal/config"
	"github.com/markinflu/payments-service/internal/store"
	"github.com/markinflu/payments-service/pkg/processorclient"
	"github.com/markinflu/payments-service/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.ProcessorAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"processor api key must be configured\" env=PROCESSOR_API_KEY")
	}
	if strings.TrimSpace(cfg.ProcessorWebhookSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"webhook secret must be configured\" env=PROCESSOR_WEBHOOK_SECRET")
	}
	feeRate, err := cfg.FeeRate()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"invalid fee configuration\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting payments-service\" port=%s fee_rate=%s", cfg.ServerPort, feeRate)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer. The broker being down must not prevent the
	// payments-service from running, so publishing degrades to a no-op fallback.
	var producer rabbitmq.Publisher
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the payment processor client.
	processor := processorclient.NewClient(cfg.ProcessorAPIBaseURL, cfg.ProcessorAPIKey)

	// Redis backs the release rate limiter and webhook dedupe; both degrade
	// gracefully without it.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting and webhook dedupe disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting and webhook dedupe disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting and webhook dedupe disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	paymentService := app.NewService(repository, processor, producer, feeRate, cfg.EscrowEventExchange)

	// A nil *redis.Client must stay a nil interface downstream, so the handlers'
	// nil checks keep working.
	var releaseLimiter *app.RedisRateLimiter
	var dedupeClient redis.UniversalClient
	if redisClient != nil {
		releaseLimiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
		dedupeClient = redisClient
	}

	// Initialize the API handlers.
	paymentHandlers := api.NewPaymentHandlers(paymentService, releaseLimiter, cfg.ReleaseRateLimitPerMinute, cfg.ConnectReturnURL)
	webhookHandler := api.NewWebhookHandler(
		paymentService,
		cfg.ProcessorWebhookSecret,
		dedupeClient,
		time.Duration(cfg.WebhookDedupeTTLMinutes)*time.Minute,
	)

	router := api.PaymentRoutes(paymentHandlers, webhookHandler, api.AuthConfig{
		JWKSURL:  cfg.ClerkJWKSURL,
		Audience: cfg.ClerkAudience,
		Issuer:   cfg.ClerkIssuer,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
