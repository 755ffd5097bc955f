package accounts

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/mobile_ledger/internal/amount"
	"github.com/congo-pay/mobile_ledger/internal/journal"
	"github.com/congo-pay/mobile_ledger/internal/ledger"
)

// Handler exposes onboarding and balance endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an accounts HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type onboardRequest struct {
	OwnerType      string `json:"owner_type"`
	OwnerID        string `json:"owner_id"`
	Currency       string `json:"currency"`
	OverdraftLimit string `json:"overdraft_limit"`
}

type accountResponse struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Category       string `json:"category"`
	Currency       string `json:"currency"`
	OverdraftLimit string `json:"overdraft_limit"`
}

// Onboard opens the accounts for an actor.
func (h *Handler) Onboard(c *fiber.Ctx) error {
	var req onboardRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ownerType, err := journal.ParseOwnerType(req.OwnerType)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	opened, err := h.service.Onboard(c.UserContext(), OnboardInput{
		Owner:          journal.Owner{Type: ownerType, ID: req.OwnerID},
		Currency:       strings.ToUpper(req.Currency),
		OverdraftLimit: req.OverdraftLimit,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupportedOwner), errors.Is(err, amount.ErrInvalidAmountFormat):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	out := make([]accountResponse, 0, len(opened))
	for _, a := range opened {
		out = append(out, accountResponse{
			ID:             a.ID,
			Code:           a.Ref.Code(),
			Category:       string(a.Ref.Category),
			Currency:       a.Ref.Currency,
			OverdraftLimit: amount.Format(a.OverdraftLimit),
		})
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"accounts": out})
}

// Balance returns the balance of one account.
func (h *Handler) Balance(c *fiber.Ctx) error {
	ref, err := refFromParams(c)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	balance, err := h.service.Balance(c.UserContext(), ref)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account":   ref.Code(),
		"balance":   amount.Format(balance.Amount),
		"currency":  ref.Currency,
		"timestamp": balance.AsOf,
	})
}

func refFromParams(c *fiber.Ctx) (journal.AccountRef, error) {
	ownerType, err := journal.ParseOwnerType(c.Params("ownerType"))
	if err != nil {
		return journal.AccountRef{}, err
	}
	category, err := journal.ParseCategory(c.Params("category"))
	if err != nil {
		return journal.AccountRef{}, err
	}
	return journal.AccountRef{
		OwnerType: ownerType,
		OwnerID:   c.Params("ownerId"),
		Category:  category,
		Currency:  strings.ToUpper(c.Params("currency")),
	}, nil
}
