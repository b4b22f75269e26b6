package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/council-ai/backend/internal/council"
	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/internal/pdca"
	"github.com/council-ai/backend/pkg/logger"
)

// respondError maps domain errors to a status and a JSON error body.
func respondError(c *fiber.Ctx, err error, msg string) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, council.ErrInvalidInput),
		errors.Is(err, council.ErrUnknownCategory),
		errors.Is(err, ledger.ErrMalformedRecord):
		status = fiber.StatusBadRequest
	case errors.Is(err, ledger.ErrEntryNotFound),
		errors.Is(err, pdca.ErrCycleNotFound),
		errors.Is(err, pdca.ErrActionNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, ledger.ErrMiningAborted):
		status = fiber.StatusServiceUnavailable
	}

	if status == fiber.StatusInternalServerError {
		logger.Error(msg, zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func queryLimit(c *fiber.Ctx, def, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
