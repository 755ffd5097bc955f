package posting

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/mobile_ledger/internal/amount"
	"github.com/congo-pay/mobile_ledger/internal/chain"
	"github.com/congo-pay/mobile_ledger/internal/idempotency"
	"github.com/congo-pay/mobile_ledger/internal/journal"
	"github.com/congo-pay/mobile_ledger/internal/ledger"
	"github.com/congo-pay/mobile_ledger/internal/middleware"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	requestIDHeader      = "X-Request-ID"
	replayedHeader       = "Idempotent-Replayed"
)

// Handler exposes the engine and the read-only reconciliation surface over HTTP.
type Handler struct {
	engine  *Engine
	reader  ledger.Reader
	auditor *chain.Auditor
}

// NewHandler constructs a posting handler. auditor may be nil.
func NewHandler(engine *Engine, reader ledger.Reader, auditor *chain.Auditor) *Handler {
	return &Handler{engine: engine, reader: reader, auditor: auditor}
}

type commissionRequest struct {
	BeneficiaryType string `json:"beneficiary_type"`
	BeneficiaryID   string `json:"beneficiary_id"`
	Amount          string `json:"amount"`
}

type postRequest struct {
	ActorType        string              `json:"actor_type"`
	ActorID          string              `json:"actor_id"`
	CounterpartyType string              `json:"counterparty_type"`
	CounterpartyID   string              `json:"counterparty_id"`
	Type             string              `json:"type"`
	Currency         string              `json:"currency"`
	Amount           string              `json:"amount"`
	Fee              string              `json:"fee"`
	Tax              string              `json:"tax"`
	Commissions      []commissionRequest `json:"commissions"`
	Description      string              `json:"description"`
	IdempotencyKey   string              `json:"idempotency_key"`
	CorrelationID    string              `json:"correlation_id"`
}

type reverseRequest struct {
	ActorType      string `json:"actor_type"`
	ActorID        string `json:"actor_id"`
	IdempotencyKey string `json:"idempotency_key"`
	CorrelationID  string `json:"correlation_id"`
}

// Post submits a forward posting.
func (h *Handler) Post(c *fiber.Ctx) error {
	var req postRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	txnType, err := journal.ParseTxnType(req.Type)
	if err != nil || txnType == journal.Reversal {
		return fiber.NewError(http.StatusBadRequest, "unsupported transaction type")
	}

	commissions := make([]CommissionSplit, 0, len(req.Commissions))
	for _, cm := range req.Commissions {
		commissions = append(commissions, CommissionSplit{
			Beneficiary: journal.Owner{Type: journal.OwnerType(cm.BeneficiaryType), ID: cm.BeneficiaryID},
			Amount:      cm.Amount,
		})
	}

	rc, err := h.engine.Post(c.UserContext(), Request{
		Actor:          journal.Owner{Type: journal.OwnerType(req.ActorType), ID: req.ActorID},
		Counterparty:   journal.Owner{Type: journal.OwnerType(req.CounterpartyType), ID: req.CounterpartyID},
		Type:           txnType,
		Currency:       strings.ToUpper(req.Currency),
		Amount:         req.Amount,
		Fee:            req.Fee,
		Tax:            req.Tax,
		Commissions:    commissions,
		Description:    req.Description,
		IdempotencyKey: firstNonEmpty(req.IdempotencyKey, c.Get(idempotencyKeyHeader)),
		CorrelationID:  correlationID(c, req.CorrelationID),
	})
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return sendReceipt(c, rc)
}

// Reverse posts the mirror of an existing journal.
func (h *Handler) Reverse(c *fiber.Ctx) error {
	var req reverseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	rc, err := h.engine.Reverse(c.UserContext(),
		journal.Owner{Type: journal.OwnerType(req.ActorType), ID: req.ActorID},
		c.Params("journalId"),
		firstNonEmpty(req.IdempotencyKey, c.Get(idempotencyKeyHeader)),
		correlationID(c, req.CorrelationID),
	)
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return sendReceipt(c, rc)
}

// Receipt looks up the stored receipt for an idempotency scope.
func (h *Handler) Receipt(c *fiber.Ctx) error {
	txnType, err := journal.ParseTxnType(c.Params("type"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	actor := journal.Owner{Type: journal.OwnerType(c.Params("actorType")), ID: c.Params("actorId")}
	rc, err := h.engine.Lookup(c.UserContext(), actor, txnType, c.Params("key"))
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(rc)
}

type lineResponse struct {
	Account     string `json:"account"`
	Direction   string `json:"direction"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type journalResponse struct {
	ID             string         `json:"id"`
	Sequence       int64          `json:"sequence"`
	Type           string         `json:"type"`
	State          string         `json:"state"`
	ActorID        string         `json:"actor_id"`
	Currency       string         `json:"currency"`
	CorrelationID  string         `json:"correlation_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Description    string         `json:"description"`
	ReversalOf     string         `json:"reversal_of,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	PrevHash       string         `json:"prev_hash"`
	Hash           string         `json:"hash"`
	Lines          []lineResponse `json:"lines"`
}

func toResponse(j journal.Journal, state journal.State) journalResponse {
	out := journalResponse{
		ID:             j.ID,
		Sequence:       j.Sequence,
		Type:           string(j.Type),
		State:          string(state),
		ActorID:        j.ActorID,
		Currency:       j.Currency,
		CorrelationID:  j.CorrelationID,
		IdempotencyKey: j.IdempotencyKey,
		Description:    j.Description,
		ReversalOf:     j.ReversalOf,
		CreatedAt:      j.CreatedAt,
		PrevHash:       j.PrevHash,
		Hash:           j.Hash,
		Lines:          make([]lineResponse, 0, len(j.Lines)),
	}
	for _, l := range j.Lines {
		out.Lines = append(out.Lines, lineResponse{
			Account:     l.Account.Code(),
			Direction:   string(l.Direction),
			Amount:      amount.Format(l.Amount),
			Description: l.Description,
		})
	}
	return out
}

// Journal returns one journal with its effective state.
func (h *Handler) Journal(c *fiber.Ctx) error {
	j, err := h.reader.Journal(c.UserContext(), c.Params("journalId"))
	if err != nil {
		return fiber.NewError(statusFor(err), err.Error())
	}
	state, err := h.engine.State(c.UserContext(), j)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(j, state))
}

// Journals lists journals created in [from, to]. Both bounds are optional RFC 3339 times.
func (h *Handler) Journals(c *fiber.Ctx) error {
	from, to, err := rangeFromQuery(c)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	js, err := h.reader.JournalsInRange(c.UserContext(), from, to)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]journalResponse, 0, len(js))
	for _, j := range js {
		state, err := h.engine.State(c.UserContext(), j)
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		out = append(out, toResponse(j, state))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"journals": out})
}

// Verify runs a verification pass over [from, to] and reports the outcome.
func (h *Handler) Verify(c *fiber.Ctx) error {
	if h.auditor == nil {
		return fiber.NewError(http.StatusServiceUnavailable, "integrity auditor disabled")
	}
	from, to, err := rangeFromQuery(c)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	res, err := h.auditor.Check(c.UserContext(), from, to)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"valid":        res.Valid,
		"broken_at_id": res.BrokenAtID,
		"checked":      res.Checked,
		"skipped":      res.Skipped,
	})
}

func rangeFromQuery(c *fiber.Ctx) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, err
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}

func sendReceipt(c *fiber.Ctx, rc Receipt) error {
	if rc.Replayed {
		c.Set(replayedHeader, "true")
		return c.Status(http.StatusOK).JSON(rc)
	}
	return c.Status(http.StatusCreated).JSON(rc)
}

func correlationID(c *fiber.Ctx, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if id := middleware.RequestIDFrom(c); id != "" {
		return id
	}
	return c.Get(requestIDHeader)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, amount.ErrInvalidAmountFormat),
		errors.Is(err, amount.ErrAmountOverflow),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, journal.ErrInvalidParams),
		errors.Is(err, journal.ErrInvalidRoute):
		return http.StatusBadRequest
	case errors.Is(err, idempotency.ErrIdempotencyConflict),
		errors.Is(err, journal.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrJournalNotFound),
		errors.Is(err, ErrReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
