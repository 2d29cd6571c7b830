package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newsletter-backend/config"
	"newsletter-backend/controllers"
	"newsletter-backend/database"
	"newsletter-backend/delivery"
	"newsletter-backend/email"
	"newsletter-backend/idempotency"
	"newsletter-backend/logging"
	"newsletter-backend/middlewares"
	"newsletter-backend/routes"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := middlewares.ConfigureJWT(cfg.JWTSecret); err != nil {
		return err
	}

	// ---- Database
	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()

	if err := database.Migrate(db); err != nil {
		return err
	}
	if cfg.AdminEmail != "" {
		created, err := database.SeedAdmin(db, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return err
		}
		if created {
			log.Info("seeded admin user", zap.String("email", cfg.AdminEmail))
		}
	}

	// ---- Email transport
	var transport email.Sender = email.NewLogSender(log)
	if cfg.AMQP.URL != "" {
		amqpSender, err := email.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey)
		if err != nil {
			return err
		}
		defer func() { _ = amqpSender.Close() }()
		transport = amqpSender
	} else {
		log.Warn("AMQP_URL not set, emails are only logged")
	}
	sender := email.NewBreakerSender(transport, email.DefaultBreakerConfig, log)

	// ---- Idempotency + delivery
	store := idempotency.NewStore(db)
	sweeper := idempotency.NewSweeper(store, cfg.Idempotency.TTL, cfg.Idempotency.SweepInterval, log)
	worker := delivery.NewWorker(delivery.NewPostgresQueue(db), sender, delivery.Config{
		MaxRetries:     cfg.Delivery.MaxRetries,
		BackoffBase:    cfg.Delivery.BackoffBase,
		BackoffMax:     cfg.Delivery.BackoffMax,
		EmptyQueueWait: cfg.Delivery.EmptyQueueWait,
		ErrorWait:      cfg.Delivery.ErrorWait,
	}, log)

	// ---- Fiber app: global middleware chain + routes
	app := routes.NewApp(routes.AppOptions{
		BodyLimit:       cfg.BodyLimitBytes,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	}, routes.Dependencies{
		DB:          db,
		Idempotency: store,
		Subscriptions: &controllers.SubscriptionController{
			Sender:  sender,
			BaseURL: cfg.BaseURL,
		},
		Log: log,
	})

	// ---- Start
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("API server starting", zap.String("port", cfg.Port))
		if err := app.Listen(":" + cfg.Port); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(func() error { return worker.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shut down cleanly")
	return nil
}
