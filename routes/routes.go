package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"newsletter-backend/controllers"
	"newsletter-backend/middlewares"
)

const PublishNewsletterPath = "/admin/newsletters"

// Dependencies are the collaborators handlers need beyond the shared DB pool.
type Dependencies struct {
	DB            *gorm.DB
	Idempotency   middlewares.Admitter
	Subscriptions *controllers.SubscriptionController
	Log           *zap.Logger
}

type AppOptions struct {
	BodyLimit       int
	AllowedOrigins  string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// NewApp builds the Fiber app with the global middleware chain and all routes.
func NewApp(opts AppOptions, deps Dependencies) *fiber.App {
	if opts.AllowedOrigins == "" {
		opts.AllowedOrigins = "*"
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middlewares.ErrorHandler(deps.Log),
		BodyLimit:             opts.BodyLimit,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(middlewares.RequestLogger(deps.Log))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     opts.AllowedOrigins,
		AllowCredentials: false, // using Bearer tokens, not cookies
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
	}))

	if opts.RateLimitMax > 0 {
		// The limiter writes X-Ratelimit-* headers after the handler returns,
		// which would make replayed responses differ from the saved one.
		app.Use(limiter.New(limiter.Config{
			Max:        opts.RateLimitMax,
			Expiration: opts.RateLimitWindow,
			Next:       isIdempotentRoute,
		}))
	}

	Register(app, deps)
	return app
}

func isIdempotentRoute(c *fiber.Ctx) bool {
	return c.Method() == fiber.MethodPost && c.Path() == PublishNewsletterPath
}

// Register wires all HTTP routes.
func Register(app *fiber.App, deps Dependencies) {
	tx := middlewares.Tx(deps.DB, deps.Log)

	app.Get("/health_check", controllers.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Public endpoints
	app.Post("/subscriptions", tx, deps.Subscriptions.Subscribe)
	app.Get("/subscriptions/confirm", tx, deps.Subscriptions.Confirm)
	app.Post("/login", controllers.Login)
	app.Post("/logout", controllers.Logout)

	// Protected endpoints (JWT auth)
	admin := app.Group("/admin", middlewares.IsAuthenticatedHeader())
	admin.Post("/password", tx, controllers.ChangePassword)

	// The idempotency guard owns the request transaction: the issue, its
	// delivery tasks and the saved response commit together. Its response
	// must be the last thing written for the route.
	admin.Post("/newsletters", middlewares.Idempotent(deps.Idempotency, deps.Log), controllers.PublishNewsletter)
}
