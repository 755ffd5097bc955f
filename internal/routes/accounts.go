package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/mobile_ledger/internal/accounts"
)

// RegisterAccountRoutes wires onboarding and balance endpoints.
func RegisterAccountRoutes(r fiber.Router, h *accounts.Handler) {
	r.Post("/accounts", h.Onboard)
	r.Get("/accounts/:ownerType/:ownerId/:category/:currency/balance", h.Balance)
}
