package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

var endpoints = []struct{ key, route string }{
	{"health", "GET /health"},
	{"creditScore", "GET /getCreditScore?wallet=<address>"},
	{"batch", "POST /scores/batch"},
	{"events", "GET /events?wallet=<address>&family=credit_score"},
	{"status", "GET /status"},
	{"transactions", "POST|GET /wallets/:address/transactions"},
	{"balance", "PUT /wallets/:address/balance"},
	{"erase", "DELETE /wallets/:address"},
	{"loans", "POST /loans"},
	{"repay", "POST /loans/repay"},
	{"loanInfo", "GET /loans/:borrower"},
	{"loanHistory", "GET /loans/:borrower/history"},
	{"watchers", "GET|POST /watchers"},
}

func endpointList() []string {
	out := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, e.route)
	}
	return out
}

// RegisterMetaRoutes serves the service description at the root path.
func RegisterMetaRoutes(app *fiber.App) {
	app.Get("/", func(c *fiber.Ctx) error {
		byKey := fiber.Map{}
		for _, e := range endpoints {
			byKey[e.key] = e.route
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"name":        serviceName,
			"description": "AI-powered credit scoring service for decentralized lending",
			"version":     serviceVersion,
			"endpoints":   byKey,
			"features": []string{
				"Wallet address validation",
				"Rule-based and weighted risk scoring",
				"Real-time score updates",
				"Loan eligibility and repayment tracking",
			},
		})
	})
}
