package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/mobile_ledger/internal/accounts"
	"github.com/congo-pay/mobile_ledger/internal/chain"
	"github.com/congo-pay/mobile_ledger/internal/config"
	"github.com/congo-pay/mobile_ledger/internal/ledger"
	"github.com/congo-pay/mobile_ledger/internal/middleware"
	"github.com/congo-pay/mobile_ledger/internal/posting"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Store    ledger.Store
	Engine   *posting.Engine
	Accounts *accounts.Service
	Auditor  *chain.Auditor
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Store == nil || d.Engine == nil || d.Accounts == nil {
		return fmt.Errorf("store, engine and accounts service are required")
	}
	if d.Cfg.StoreBackend == config.BackendPostgres && d.DB == nil {
		return fmt.Errorf("database is required when STORE_BACKEND=%s", d.Cfg.StoreBackend)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterPostingRoutes(api, posting.NewHandler(d.Engine, d.Store, d.Auditor), middleware.ActorRateLimit(d.Cache, d.Cfg.PostingRate))
	RegisterAccountRoutes(api, accounts.NewHandler(d.Accounts))

	return nil
}
