package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/credora/credora/internal/middleware"
)

// ErrorHandler renders errors returned by handlers and middlewares as
// `{error, message}` JSON. Unexpected errors become a 500 without detail.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error":   http.StatusText(fe.Code),
				"message": fe.Message,
			})
		}
		logger.Error("unhandled error",
			slog.String("path", c.Path()),
			slog.String("request_id", middleware.RequestIDFrom(c)),
			slog.Any("error", err),
		)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Internal server error",
			"message": "an unexpected error occurred",
		})
	}
}
