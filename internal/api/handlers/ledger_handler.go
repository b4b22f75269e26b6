package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/council-ai/backend/internal/jobs"
	"github.com/council-ai/backend/internal/ledger"
)

type LedgerHandler struct {
	ledger *ledger.Ledger
	miner  *jobs.Miner
}

func NewLedgerHandler(l *ledger.Ledger, miner *jobs.Miner) *LedgerHandler {
	return &LedgerHandler{
		ledger: l,
		miner:  miner,
	}
}

func (h *LedgerHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(h.ledger.Stats())
}

// Mine seals whatever is pending now instead of waiting for the miner.
func (h *LedgerHandler) Mine(c *fiber.Ctx) error {
	entry, err := h.miner.SealNow(c.UserContext())
	if err != nil {
		return respondError(c, err, "Failed to seal pending verifications")
	}
	if entry == nil {
		return c.JSON(fiber.Map{
			"status":  "no_pending",
			"message": "No pending verifications to seal",
		})
	}

	return c.JSON(fiber.Map{
		"status":        "sealed",
		"block_index":   entry.Index,
		"block_hash":    entry.Hash,
		"nonce":         entry.Nonce,
		"verifications": len(entry.Payload.Verifications),
	})
}

// Export returns sealed entries, optionally starting at ?from=N.
func (h *LedgerHandler) Export(c *fiber.Ctx) error {
	entries := h.ledger.ExportAll()

	if raw := c.Query("from"); raw != "" {
		from, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || from < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "from must be a non-negative integer"})
		}
		if from >= int64(len(entries)) {
			entries = entries[:0]
		} else {
			entries = entries[from:]
		}
	}

	return c.JSON(fiber.Map{
		"difficulty": h.ledger.Difficulty(),
		"length":     len(entries),
		"chain":      entries,
	})
}

func (h *LedgerHandler) Validate(c *fiber.Ctx) error {
	report := h.ledger.Validate()
	status := fiber.StatusOK
	if !report.Valid {
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(report)
}

func (h *LedgerHandler) Entry(c *fiber.Ctx) error {
	index, err := strconv.ParseInt(c.Params("index"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "index must be an integer"})
	}
	entry, err := h.ledger.Entry(index)
	if err != nil {
		return respondError(c, err, "Failed to load entry")
	}
	return c.JSON(entry)
}
