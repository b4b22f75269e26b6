package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/council-ai/backend/internal/council"
	"github.com/council-ai/backend/internal/ledger/index"
	"github.com/council-ai/backend/internal/middleware/validation"
	"github.com/council-ai/backend/internal/pdca"
	"github.com/council-ai/backend/internal/storage/models"
	"github.com/council-ai/backend/internal/verification"
	"github.com/council-ai/backend/pkg/logger"
)

// ActorHistory serves per-user verification history from the relational mirror.
type ActorHistory interface {
	VerdictsByActor(actorID string, limit int) ([]models.VerificationRecord, error)
}

type DecisionCounts interface {
	DecisionCounts(ctx context.Context) (map[council.Decision]int64, error)
}

type VerificationHandler struct {
	service *verification.Service
	index   *index.Index
	history ActorHistory
	cycles  *pdca.Manager
}

// NewVerificationHandler takes an optional history; without one, user
// history is served from the in-memory index. cycles is optional too.
func NewVerificationHandler(service *verification.Service, idx *index.Index, history ActorHistory, cycles *pdca.Manager) *VerificationHandler {
	return &VerificationHandler{
		service: service,
		index:   idx,
		history: history,
		cycles:  cycles,
	}
}

type verifyRequest struct {
	Content        string         `json:"content"`
	Categories     []string       `json:"categories"`
	UserID         string         `json:"user_id"`
	VerificationID string         `json:"verification_id"`
	Metadata       map[string]any `json:"metadata"`
	Context        map[string]any `json:"context"`
	ProjectName    string         `json:"project_name"`
}

type verifyResponse struct {
	*council.Verdict
	ProcessingTimeMS int64     `json:"processing_time_ms"`
	LedgerPending    bool      `json:"blockchain_pending"`
	PendingPosition  int       `json:"pending_position"`
	Cached           bool      `json:"cached"`
	Timestamp        time.Time `json:"timestamp"`
	PDCACycleID      string    `json:"pdca_cycle_id,omitempty"`
}

func (h *VerificationHandler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	res, err := h.service.Verify(c.UserContext(), verification.Request{
		SubjectID:  req.VerificationID,
		ActorID:    req.UserID,
		Content:    req.Content,
		Categories: req.Categories,
		Context:    req.Context,
		Metadata:   stringify(req.Metadata),
	})
	if err != nil {
		return respondError(c, err, "Failed to verify content")
	}

	resp := verifyResponse{
		Verdict:          res.Verdict,
		ProcessingTimeMS: res.Verdict.Duration.Milliseconds(),
		LedgerPending:    true,
		PendingPosition:  res.Pending.Position,
		Cached:           res.Cached,
		Timestamp:        res.Verdict.CreatedAt,
	}
	if h.cycles != nil && req.ProjectName != "" {
		// the verdict is already sealed for mining, so a cycle failure is logged only
		cycle, ok, err := h.cycles.RecordForProject(req.UserID, req.ProjectName, res)
		switch {
		case err != nil:
			logger.Warn("Failed to record verification in pdca cycle",
				zap.String("verification_id", res.Verdict.SubjectID),
				zap.String("project", req.ProjectName),
				zap.Error(err))
		case ok:
			resp.PDCACycleID = cycle.ID
		}
	}
	return c.JSON(resp)
}

// GetVerification returns the sealed ledger history of one verification.
func (h *VerificationHandler) GetVerification(c *fiber.Ctx) error {
	id := c.Params("id")
	if !validation.IDPattern.MatchString(id) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid verification id"})
	}

	history := h.index.HistoryFor(id)
	if len(history) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Verification not found in ledger. It may still be pending.",
		})
	}

	latest, _ := h.index.Latest(id)
	return c.JSON(fiber.Map{
		"verification_id": id,
		"latest":          latest,
		"history":         history,
	})
}

func (h *VerificationHandler) UserVerifications(c *fiber.Ctx) error {
	userID := c.Params("id")
	if !validation.IDPattern.MatchString(userID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}
	limit := queryLimit(c, 50, 500)

	if h.history != nil {
		records, err := h.history.VerdictsByActor(userID, limit)
		if err != nil {
			return respondError(c, err, "Failed to load verification history")
		}
		return c.JSON(fiber.Map{
			"user_id":       userID,
			"verifications": records,
			"count":         len(records),
		})
	}

	records := h.index.ByActor(userID)
	// newest first, like the mirror
	out := make([]index.Record, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return c.JSON(fiber.Map{
		"user_id":       userID,
		"verifications": out,
		"count":         len(out),
	})
}

func (h *VerificationHandler) Categories(c *fiber.Ctx) error {
	categories := h.service.Categories()
	return c.JSON(fiber.Map{
		"categories": categories,
		"count":      len(categories),
	})
}

// DecisionStats reports how many verdicts of each decision were served.
func DecisionStats(counts DecisionCounts) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if counts == nil {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "Decision counters are not enabled"})
		}
		byDecision, err := counts.DecisionCounts(c.UserContext())
		if err != nil {
			return respondError(c, err, "Failed to read decision counters")
		}
		return c.JSON(fiber.Map{"decisions": byDecision})
	}
}

func stringify(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
