package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/council-ai/backend/internal/middleware/validation"
	"github.com/council-ai/backend/internal/pdca"
)

type PDCAHandler struct {
	cycles *pdca.Manager
}

func NewPDCAHandler(cycles *pdca.Manager) *PDCAHandler {
	return &PDCAHandler{cycles: cycles}
}

type createCycleRequest struct {
	UserID        string   `json:"user_id"`
	ProjectName   string   `json:"project_name"`
	Frameworks    []string `json:"frameworks"`
	RiskThreshold float64  `json:"risk_threshold"`
}

type reviewRequest struct {
	ReviewerID     string `json:"reviewer_id"`
	VerificationID string `json:"verification_id"`
	IsAccurate     bool   `json:"is_accurate"`
	Notes          string `json:"notes"`
}

type actionRequest struct {
	ActionType  string `json:"action_type"`
	Description string `json:"description"`
	AssignedTo  string `json:"assigned_to"`
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
}

func (h *PDCAHandler) CreateCycle(c *fiber.Ctx) error {
	var req createCycleRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	cycle, err := h.cycles.CreateCycle(req.UserID, req.ProjectName, req.Frameworks, req.RiskThreshold)
	if err != nil {
		return respondError(c, err, "Failed to create PDCA cycle")
	}
	return h.respond(c.Status(fiber.StatusCreated), cycle.ID)
}

func (h *PDCAHandler) ListCycles(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID != "" && !validation.IDPattern.MatchString(userID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}
	cycles := h.cycles.Cycles(userID)
	return c.JSON(fiber.Map{
		"cycles":       cycles,
		"total_cycles": len(cycles),
	})
}

func (h *PDCAHandler) GetCycle(c *fiber.Ctx) error {
	id, ok := cycleID(c)
	if !ok {
		return nil
	}
	return h.respond(c, id)
}

func (h *PDCAHandler) AddObjective(c *fiber.Ctx) error {
	id, ok := cycleID(c)
	if !ok {
		return nil
	}
	var req struct {
		Objective string `json:"objective"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if _, err := h.cycles.AddObjective(id, req.Objective); err != nil {
		return respondError(c, err, "Failed to add objective")
	}
	return h.respond(c, id)
}

func (h *PDCAHandler) AddPolicy(c *fiber.Ctx) error {
	id, ok := cycleID(c)
	if !ok {
		return nil
	}
	var req struct {
		Policy string `json:"policy"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	if _, err := h.cycles.AddPolicy(id, req.Policy); err != nil {
		return respondError(c, err, "Failed to add policy")
	}
	return h.respond(c, id)
}

func (h *PDCAHandler) AddReview(c *fiber.Ctx) error {
	id, ok := cycleID(c)
	if !ok {
		return nil
	}
	var req reviewRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	_, err := h.cycles.AddReview(id, pdca.Review{
		ReviewerID: req.ReviewerID,
		SubjectID:  req.VerificationID,
		Accurate:   req.IsAccurate,
		Notes:      req.Notes,
	})
	if err != nil {
		return respondError(c, err, "Failed to add review")
	}
	return h.respond(c, id)
}

func (h *PDCAHandler) AddAction(c *fiber.Ctx) error {
	id, ok := cycleID(c)
	if !ok {
		return nil
	}
	var req actionRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	cycle, err := h.cycles.AddAction(id, pdca.ActionType(req.ActionType), req.Description, req.AssignedTo)
	if err != nil {
		return respondError(c, err, "Failed to add action")
	}
	status, err := h.cycles.Status(id)
	if err != nil {
		return respondError(c, err, "Failed to load PDCA cycle")
	}
	return c.JSON(fiber.Map{
		"action": cycle.Act.Actions[len(cycle.Act.Actions)-1],
		"cycle":  status,
	})
}

func (h *PDCAHandler) CompleteAction(c *fiber.Ctx) error {
	id, ok := cycleID(c)
	if !ok {
		return nil
	}
	actionID := c.Params("action")
	if !validation.IDPattern.MatchString(actionID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid action id"})
	}
	if _, err := h.cycles.CompleteAction(id, actionID); err != nil {
		return respondError(c, err, "Failed to complete action")
	}
	return h.respond(c, id)
}

func (h *PDCAHandler) respond(c *fiber.Ctx, id string) error {
	status, err := h.cycles.Status(id)
	if err != nil {
		return respondError(c, err, "Failed to load PDCA cycle")
	}
	return c.JSON(status)
}

// cycleID writes the 400 itself and reports false on a malformed id.
func cycleID(c *fiber.Ctx) (string, bool) {
	id := c.Params("id")
	if !validation.IDPattern.MatchString(id) {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid cycle id"})
		return "", false
	}
	return id, true
}
