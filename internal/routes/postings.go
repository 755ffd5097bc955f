package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/mobile_ledger/internal/posting"
)

// RegisterPostingRoutes wires posting, receipt and reconciliation endpoints. limiter
// guards the write endpoints.
func RegisterPostingRoutes(r fiber.Router, h *posting.Handler, limiter fiber.Handler) {
	r.Post("/postings", limiter, h.Post)
	r.Get("/receipts/:actorType/:actorId/:type/:key", h.Receipt)
	r.Get("/journals", h.Journals)
	r.Get("/journals/:journalId", h.Journal)
	r.Post("/journals/:journalId/reversal", limiter, h.Reverse)
	r.Get("/ledger/verify", h.Verify)
}
