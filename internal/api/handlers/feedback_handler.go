package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/council-ai/backend/internal/council"
	"github.com/council-ai/backend/internal/improvement"
	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/internal/middleware/validation"
	"github.com/council-ai/backend/internal/storage/models"
)

type SubjectFeedback interface {
	FeedbackForSubject(subjectID string) ([]models.FeedbackRecord, error)
}

type FeedbackHandler struct {
	tracker *improvement.Tracker
	mirror  SubjectFeedback
}

func NewFeedbackHandler(tracker *improvement.Tracker, mirror SubjectFeedback) *FeedbackHandler {
	return &FeedbackHandler{
		tracker: tracker,
		mirror:  mirror,
	}
}

type feedbackRequest struct {
	VerificationID     string   `json:"verification_id"`
	CategoryID         string   `json:"category_id"`
	FeedbackType       string   `json:"feedback_type"`
	UserID             string   `json:"user_id"`
	Notes              string   `json:"notes"`
	CorrectedVote      string   `json:"corrected_vote"`
	CorrectedRiskScore *float64 `json:"corrected_risk_score"`
}

func (h *FeedbackHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req feedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	var correction *improvement.Correction
	if req.CorrectedVote != "" || req.CorrectedRiskScore != nil || req.Notes != "" {
		correction = &improvement.Correction{
			RiskScore: req.CorrectedRiskScore,
			Notes:     req.Notes,
		}
		if req.CorrectedVote != "" {
			d := council.Decision(strings.ToUpper(req.CorrectedVote))
			correction.Verdict = &d
		}
	}

	res, err := h.tracker.RecordFeedback(c.UserContext(),
		req.VerificationID,
		req.CategoryID,
		ledger.FeedbackKind(strings.ToUpper(req.FeedbackType)),
		req.UserID,
		correction,
	)
	if err != nil {
		return respondError(c, err, "Failed to record feedback")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":            "recorded",
		"feedback_id":       res.Record.FeedbackID,
		"block_index":       res.EntryIndex,
		"block_hash":        res.EntryHash,
		"category_stats":    res.Stats,
		"retraining_signal": res.Signal,
	})
}

func (h *FeedbackHandler) SubjectFeedback(c *fiber.Ctx) error {
	id := c.Params("id")
	if !validation.IDPattern.MatchString(id) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid verification id"})
	}
	if h.mirror == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "Feedback history is not available"})
	}

	records, err := h.mirror.FeedbackForSubject(id)
	if err != nil {
		return respondError(c, err, "Failed to load feedback")
	}
	return c.JSON(fiber.Map{
		"verification_id": id,
		"feedback":        records,
		"count":           len(records),
	})
}

func (h *FeedbackHandler) Report(c *fiber.Ctx) error {
	return c.JSON(h.tracker.Report())
}

func (h *FeedbackHandler) CategoryStats(c *fiber.Ctx) error {
	id := c.Params("category")
	if !validation.IDPattern.MatchString(id) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid category id"})
	}
	return c.JSON(h.tracker.Stats(id))
}

func (h *FeedbackHandler) TrainingData(c *fiber.Ctx) error {
	id := c.Params("category")
	if !validation.IDPattern.MatchString(id) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid category id"})
	}

	examples := h.tracker.TrainingExamples(id, queryLimit(c, 100, 1000))
	if examples == nil {
		examples = []improvement.TrainingExample{}
	}
	return c.JSON(fiber.Map{
		"category_id": id,
		"examples":    examples,
		"count":       len(examples),
	})
}
