package lending

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/credora/credora/internal/address"
	"github.com/credora/credora/internal/signals"
)

// Handler exposes loan book HTTP endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler builds a loan book HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type loanRequest struct {
	Borrower string           `json:"borrower"`
	Amount   decimal.Decimal  `json:"amount"`
	Value    *decimal.Decimal `json:"value"`
}

// Request opens a loan for the borrower when eligible.
func (h *Handler) Request(c *fiber.Ctx) error {
	var req loanRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	borrower, err := address.Normalize(req.Borrower)
	if err != nil {
		return h.fail(c, err)
	}
	rec, err := h.service.RequestLoan(c.UserContext(), LoanRequest{Borrower: borrower, Amount: req.Amount, Value: req.Value})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(rec)
}

type repayRequest struct {
	Caller string          `json:"caller"`
	Value  decimal.Decimal `json:"value"`
}

// Repay closes the caller's active loan.
func (h *Handler) Repay(c *fiber.Ctx) error {
	var req repayRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	caller, err := address.Normalize(req.Caller)
	if err != nil {
		return h.fail(c, err)
	}
	rec, err := h.service.RepayLoan(c.UserContext(), caller, req.Value)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(rec)
}

// Info returns the borrower's active loan.
func (h *Handler) Info(c *fiber.Ctx) error {
	borrower, err := address.Normalize(c.Params("borrower"))
	if err != nil {
		return h.fail(c, err)
	}
	info, err := h.service.LoanInfo(c.UserContext(), borrower)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(info)
}

// History lists every loan of the borrower.
func (h *Handler) History(c *fiber.Ctx) error {
	borrower, err := address.Normalize(c.Params("borrower"))
	if err != nil {
		return h.fail(c, err)
	}
	loans, err := h.service.History(c.UserContext(), borrower)
	if err != nil {
		return h.fail(c, err)
	}
	if loans == nil {
		loans = []Record{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"borrower": borrower, "loans": loans})
}

type txCountRequest struct {
	Count int `json:"count"`
}

// SetTxCount records a borrower transaction count on behalf of the owner.
func (h *Handler) SetTxCount(c *fiber.Ctx) error {
	var req txCountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	borrower, err := address.Normalize(c.Params("address"))
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.service.SetBorrowerTxCount(c.UserContext(), h.service.Owner(), borrower, req.Count); err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"borrower": borrower, "transactionCount": req.Count})
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	var rev *RevertError
	switch {
	case errors.As(err, &rev):
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{"error": "contract_revert", "message": rev.Reason})
	case errors.Is(err, address.ErrInvalid):
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid Ethereum address format",
			"message": "Please provide a valid Ethereum address",
		})
	case errors.Is(err, signals.ErrUpstreamUnavailable):
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{"error": "Upstream unavailable", "message": err.Error()})
	default:
		h.logger.Error("loan request failed", slog.String("path", c.Path()), slog.Any("error", err))
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error", "message": err.Error()})
	}
}
