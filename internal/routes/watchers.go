package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/credora/credora/internal/address"
	"github.com/credora/credora/internal/credit"
	"github.com/credora/credora/internal/refresh"
)

type watchRequest struct {
	Wallet     string `json:"wallet"`
	Interval   string `json:"interval"`
	IntervalMs int64  `json:"intervalMs"`
}

// RegisterWatcherRoutes exposes periodic score refresh management. Starting a
// watch scores the wallet once so the refreshes have a record to update.
func RegisterWatcherRoutes(app *fiber.App, sched *refresh.Scheduler, svc *credit.Service, fallback time.Duration) {
	g := app.Group("/watchers")

	g.Get("/", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{"wallets": sched.Watches()})
	})

	g.Post("/", func(c *fiber.Ctx) error {
		var req watchRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		wallet, err := address.Normalize(req.Wallet)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "Invalid Ethereum address format")
		}
		every := fallback
		switch {
		case req.Interval != "":
			if every, err = time.ParseDuration(req.Interval); err != nil {
				return fiber.NewError(http.StatusBadRequest, "interval must be a duration such as 30s")
			}
		case req.IntervalMs > 0:
			every = time.Duration(req.IntervalMs) * time.Millisecond
		}
		if every > 0 && every < time.Second {
			return fiber.NewError(http.StatusBadRequest, "refresh interval must be at least one second")
		}
		score, err := svc.GetScore(c.UserContext(), wallet)
		if err != nil {
			if errors.Is(err, credit.ErrBusUnavailable) {
				return fiber.NewError(http.StatusServiceUnavailable, err.Error())
			}
			return fiber.NewError(http.StatusBadGateway, err.Error())
		}
		h, err := sched.Watch(wallet, every)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return c.Status(http.StatusCreated).JSON(fiber.Map{
			"wallet":      h.Address(),
			"interval":    h.Interval().String(),
			"creditScore": score.CreditScore,
		})
	})

	g.Delete("/:wallet", func(c *fiber.Ctx) error {
		wallet, err := address.Normalize(c.Params("wallet"))
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "Invalid Ethereum address format")
		}
		if !sched.Unwatch(wallet) {
			return fiber.NewError(http.StatusNotFound, "wallet is not watched")
		}
		return c.SendStatus(http.StatusNoContent)
	})
}
