package credit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/credora/credora/internal/address"
	"github.com/credora/credora/internal/bus"
	"github.com/credora/credora/internal/scoring"
	"github.com/credora/credora/internal/signals"
	"github.com/credora/credora/internal/store"
)

const exampleWallet = "0x742d35Cc6634C0532925A3B8D4C9dB96C4B4d8B6"

const keepAliveInterval = 15 * time.Second

// Handler exposes scoring HTTP endpoints.
type Handler struct {
	service   *Service
	logger    *slog.Logger
	keepAlive time.Duration
}

// NewHandler builds a scoring HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger, keepAlive: keepAliveInterval}
}

// GetCreditScore scores the wallet given in the query string.
func (h *Handler) GetCreditScore(c *fiber.Ctx) error {
	wallet := c.Query("wallet")
	if wallet == "" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error":   "Wallet address is required",
			"message": "Please provide a wallet address as a query parameter",
			"example": "/getCreditScore?wallet=" + exampleWallet,
		})
	}
	resp, err := h.service.GetScore(c.UserContext(), wallet)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(resp)
}

type batchRequest struct {
	Wallets []string `json:"wallets"`
}

// Batch scores up to MaxBatch wallets.
func (h *Handler) Batch(c *fiber.Ctx) error {
	var req batchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if len(req.Wallets) == 0 {
		return fiber.NewError(http.StatusBadRequest, "wallets must not be empty")
	}
	if len(req.Wallets) > MaxBatch {
		return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("at most %d wallets per batch", MaxBatch))
	}
	items, err := h.service.GetScores(c.UserContext(), req.Wallets)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"results": items})
}

type transactionRequest struct {
	Hash        string    `json:"hash"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Value       string    `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
	BlockNumber uint64    `json:"blockNumber"`
	GasUsed     string    `json:"gasUsed"`
	GasPrice    string    `json:"gasPrice"`
}

// RecordTransaction appends a transaction to a wallet.
func (h *Handler) RecordTransaction(c *fiber.Ctx) error {
	var req transactionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.Hash == "" {
		return fiber.NewError(http.StatusBadRequest, "hash is required")
	}
	rec, err := h.service.RecordTransaction(c.UserContext(), c.Params("address"), store.Transaction{
		Hash:        req.Hash,
		From:        req.From,
		To:          req.To,
		Value:       req.Value,
		Timestamp:   req.Timestamp,
		BlockNumber: req.BlockNumber,
		GasUsed:     req.GasUsed,
		GasPrice:    req.GasPrice,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(rec)
}

// Transactions lists a wallet's transaction log.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	txs, err := h.service.Transactions(c.UserContext(), c.Params("address"))
	if err != nil {
		return h.fail(c, err)
	}
	if txs == nil {
		txs = []store.Transaction{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallet": c.Params("address"), "transactions": txs})
}

type balanceRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

// UpdateBalance overwrites a stored wallet balance.
func (h *Handler) UpdateBalance(c *fiber.Ctx) error {
	var req balanceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.service.UpdateBalance(c.UserContext(), c.Params("address"), req.Balance)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(rec)
}

// Erase deletes all data held for a wallet.
func (h *Handler) Erase(c *fiber.Ctx) error {
	existed, err := h.service.Erase(c.UserContext(), c.Params("address"))
	if err != nil {
		return h.fail(c, err)
	}
	if !existed {
		return h.fail(c, store.ErrNotFound)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Status reports the orchestrator state.
func (h *Handler) Status(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(h.service.Status())
}

// Events streams bus events for one wallet as Server-Sent Events.
func (h *Handler) Events(c *fiber.Ctx) error {
	wallet := c.Query("wallet")
	if wallet == "" {
		return fiber.NewError(http.StatusBadRequest, "wallet query parameter is required")
	}
	family, err := bus.ParseFamily(c.Query("family", string(bus.FamilyCreditScore)))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	events := make(chan bus.Event, 16)
	unsubscribe, err := h.service.Subscribe(family, wallet, bus.HandlerFunc(func(_ context.Context, e bus.Event) error {
		select {
		case events <- e:
			return nil
		default:
			return errors.New("event stream client is too slow")
		}
	}))
	if err != nil {
		return h.fail(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	logger := h.logger
	keepAlive := h.keepAlive
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil || w.Flush() != nil {
			return
		}
		for {
			select {
			case e := <-events:
				payload, err := json.Marshal(e)
				if err != nil {
					logger.Warn("encode stream event", slog.Any("error", err))
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
			}
			// a failed flush means the client went away
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.String("path", c.Path()), slog.Int("status", status), slog.Any("error", err))
	}
	return c.Status(status).JSON(body)
}

func errorResponse(err error) (int, fiber.Map) {
	switch {
	case errors.Is(err, address.ErrInvalid):
		return http.StatusBadRequest, fiber.Map{
			"error":   "Invalid Ethereum address format",
			"message": "Please provide a valid Ethereum address",
		}
	case errors.Is(err, ErrInvalidBalance):
		return http.StatusBadRequest, fiber.Map{"error": "Invalid balance", "message": err.Error()}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, fiber.Map{"error": "Wallet not found", "message": err.Error()}
	case errors.Is(err, signals.ErrUpstreamUnavailable), errors.Is(err, scoring.ErrUpstreamUnavailable):
		return http.StatusBadGateway, fiber.Map{"error": "Upstream unavailable", "message": err.Error()}
	case errors.Is(err, ErrBusUnavailable):
		return http.StatusServiceUnavailable, fiber.Map{"error": "Service unavailable", "message": err.Error()}
	default:
		return http.StatusInternalServerError, fiber.Map{"error": "Internal server error", "message": err.Error()}
	}
}
