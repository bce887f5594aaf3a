package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
)

// NewApp builds the fiber app with every dashboard route
func NewApp(h *Handler, secret []byte) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "bypass-monitor",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New())

	Setup(app, h, secret)
	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		status = ferr.Code
	}
	return fail(c, status, err.Error())
}

// Setup registers the API and websocket routes on app
func Setup(app *fiber.App, h *Handler, secret []byte) {
	api := app.Group("/api")
	api.Get("/health", h.Health)
	api.Post("/customers/verify", h.VerifyCustomer)

	auth := AuthMiddleware(secret)
	provider := RequireProvider()

	pairs := api.Group("/pairs", auth)
	pairs.Get("/", provider, h.ListPairs)
	pairs.Get("/:pairId", h.GetPair)
	pairs.Get("/:pairId/history", h.PairHistory)
	pairs.Get("/:pairId/usage", h.PairUsage)
	pairs.Get("/:pairId/usage.csv", h.PairUsageCSV)
	pairs.Get("/:pairId/alerts", h.PairAlerts)
	pairs.Get("/:pairId/alerts.csv", h.PairAlertsCSV)

	api.Get("/analytics", auth, provider, h.Analytics)
	api.Get("/reports/bypass.csv", auth, provider, h.BypassReportCSV)

	api.Post("/customers", auth, provider, h.RegisterCustomer)
	api.Get("/customers", auth, provider, h.ListCustomers)

	app.Use("/ws", h.websocketUpgrade(secret))
	app.Get("/ws", websocket.New(h.hub.HandleConnection))
}

// websocketUpgrade authenticates the token query parameter and scopes
// customer connections to their own pair
func (h *Handler) websocketUpgrade(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		claims, err := ParseToken(secret, c.Query("token"))
		if err != nil {
			return fail(c, fiber.StatusUnauthorized, "Invalid or expired token")
		}

		pairFilter := ""
		if claims.Role == RoleCustomer {
			customer, err := h.customers.Lookup(c.UserContext(), claims.Email)
			if err != nil || customer.PairID == "" {
				return fail(c, fiber.StatusForbidden, "No pair registered for this account")
			}
			pairFilter = customer.PairID
		}

		c.Locals(pairFilterKey, pairFilter)
		return c.Next()
	}
}
