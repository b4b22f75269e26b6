package pdca

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/council-ai/backend/internal/council"
	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/internal/metrics"
	"github.com/council-ai/backend/internal/verification"
	"github.com/council-ai/backend/pkg/logger"
)

// Store persists cycles. SaveCycle receives the full cycle after every change.
type Store interface {
	SaveCycle(c *Cycle) error
	LoadCycles() ([]*Cycle, error)
}

const maxTextLength = 2000

// Manager owns the PDCA cycles. Phases only move forward, except that a new
// action always moves a cycle to ACT.
type Manager struct {
	mu     sync.RWMutex
	cycles map[string]*Cycle
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// NewManager loads persisted cycles when store is non-nil.
func NewManager(store Store) (*Manager, error) {
	m := &Manager{
		cycles: make(map[string]*Cycle),
		store:  store,
		now:    time.Now,
		logger: logger.Named("pdca"),
	}
	if store == nil {
		return m, nil
	}

	cycles, err := store.LoadCycles()
	if err != nil {
		return nil, fmt.Errorf("failed to load pdca cycles: %w", err)
	}
	for _, c := range cycles {
		m.cycles[c.ID] = c
	}
	m.logger.Info("PDCA cycles loaded", zap.Int("cycles", len(cycles)))
	return m, nil
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func requireText(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", council.ErrInvalidInput, field)
	}
	if len(v) > maxTextLength {
		return "", fmt.Errorf("%w: %s is too long", council.ErrInvalidInput, field)
	}
	return v, nil
}

// CreateCycle opens a cycle in PLAN. Empty frameworks and a zero threshold
// take the defaults.
func (m *Manager) CreateCycle(actorID, project string, frameworks []string, riskThreshold float64) (*Cycle, error) {
	actorID, err := requireText("user_id", actorID)
	if err != nil {
		return nil, err
	}
	project, err = requireText("project_name", project)
	if err != nil {
		return nil, err
	}
	if riskThreshold < 0 || riskThreshold > 100 {
		return nil, fmt.Errorf("%w: risk_threshold must be within [0, 100]", council.ErrInvalidInput)
	}
	if riskThreshold == 0 {
		riskThreshold = DefaultRiskThreshold
	}
	if len(frameworks) == 0 {
		frameworks = DefaultFrameworks
	}

	now := m.now().UTC()
	c := &Cycle{
		ID:            newID("pdca_"),
		ActorID:       actorID,
		ProjectName:   project,
		Phase:         PhasePlan,
		Status:        StatusInProgress,
		Frameworks:    append([]string(nil), frameworks...),
		RiskThreshold: riskThreshold,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.save(c); err != nil {
		return nil, err
	}
	m.cycles[c.ID] = c
	metrics.PDCAEvents.WithLabelValues("cycle_created").Inc()
	m.logger.Info("PDCA cycle created",
		zap.String("cycle_id", c.ID),
		zap.String("project", project),
		zap.String("user_id", actorID))
	return c.clone(), nil
}

// update applies fn to a working copy and commits it only if fn and the
// store both succeed.
func (m *Manager) update(cycleID string, fn func(c *Cycle, now time.Time) error) (*Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.cycles[cycleID]
	if !ok {
		return nil, fmt.Errorf("cycle %s: %w", cycleID, ErrCycleNotFound)
	}
	c := current.clone()
	now := m.now().UTC()
	if err := fn(c, now); err != nil {
		return nil, err
	}
	c.UpdatedAt = now
	if err := m.save(c); err != nil {
		return nil, err
	}
	m.cycles[cycleID] = c
	return c.clone(), nil
}

func (m *Manager) save(c *Cycle) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveCycle(c); err != nil {
		return fmt.Errorf("failed to save pdca cycle: %w", err)
	}
	return nil
}

func (m *Manager) AddObjective(cycleID, objective string) (*Cycle, error) {
	objective, err := requireText("objective", objective)
	if err != nil {
		return nil, err
	}
	return m.update(cycleID, func(c *Cycle, now time.Time) error {
		c.Plan.Objectives = append(c.Plan.Objectives, Note{Text: objective, AddedAt: now})
		return nil
	})
}

func (m *Manager) AddPolicy(cycleID, policy string) (*Cycle, error) {
	policy, err := requireText("policy", policy)
	if err != nil {
		return nil, err
	}
	return m.update(cycleID, func(c *Cycle, now time.Time) error {
		c.Plan.Policies = append(c.Plan.Policies, Note{Text: policy, AddedAt: now})
		return nil
	})
}

// RecordVerification is the DO step: it files a council result against the
// cycle and moves a cycle still in PLAN to DO.
func (m *Manager) RecordVerification(cycleID string, res *verification.Result) (*Cycle, error) {
	if res == nil || res.Verdict == nil {
		return nil, fmt.Errorf("%w: verification result is empty", council.ErrInvalidInput)
	}
	v := res.Verdict
	return m.update(cycleID, func(c *Cycle, now time.Time) error {
		if c.Phase == PhasePlan {
			c.Phase = PhaseDo
		}
		c.Do.Executions = append(c.Do.Executions, Execution{
			SubjectID:       v.SubjectID,
			Decision:        v.Decision,
			RiskScore:       v.RiskScore,
			Passed:          v.Decision == council.Pass,
			WithinThreshold: v.RiskScore <= c.RiskThreshold,
			Cached:          res.Cached,
			Timestamp:       now,
		})
		metrics.PDCAEvents.WithLabelValues("verification").Inc()
		return nil
	})
}

// RecordForProject files res against the oldest cycle the actor opened for
// project. It reports false when there is no such cycle.
func (m *Manager) RecordForProject(actorID, project string, res *verification.Result) (*Cycle, bool, error) {
	m.mu.RLock()
	var target *Cycle
	for _, c := range m.cycles {
		if c.ActorID != actorID || c.ProjectName != project {
			continue
		}
		if target == nil || c.CreatedAt.Before(target.CreatedAt) ||
			(c.CreatedAt.Equal(target.CreatedAt) && c.ID < target.ID) {
			target = c
		}
	}
	m.mu.RUnlock()

	if target == nil {
		return nil, false, nil
	}
	c, err := m.RecordVerification(target.ID, res)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// AddReview is the CHECK step. Accuracy is the share of reviews marked
// accurate; every inaccurate review counts as an issue.
func (m *Manager) AddReview(cycleID string, review Review) (*Cycle, error) {
	reviewer, err := requireText("reviewer_id", review.ReviewerID)
	if err != nil {
		return nil, err
	}
	subject, err := requireText("verification_id", review.SubjectID)
	if err != nil {
		return nil, err
	}
	if len(review.Notes) > maxTextLength {
		return nil, fmt.Errorf("%w: notes are too long", council.ErrInvalidInput)
	}
	review.ReviewerID = reviewer
	review.SubjectID = subject

	return m.update(cycleID, func(c *Cycle, now time.Time) error {
		c.addReview(review, now)
		return nil
	})
}

func (c *Cycle) addReview(review Review, now time.Time) {
	if c.Phase == PhasePlan || c.Phase == PhaseDo {
		c.Phase = PhaseCheck
	}
	if review.Timestamp.IsZero() {
		review.Timestamp = now
	}
	c.Check.Reviews = append(c.Check.Reviews, review)
	if !review.Accurate {
		c.Check.IssuesFound++
	}
	c.recomputeAccuracy()
	metrics.PDCAEvents.WithLabelValues("review").Inc()
}

// ApplyFeedback turns a sealed feedback record into a review on every cycle
// that executed the reviewed verification. CORRECT counts as accurate.
func (m *Manager) ApplyFeedback(rec ledger.FeedbackRecord) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	applied := 0
	for id, current := range m.cycles {
		if !current.executed(rec.SubjectID) {
			continue
		}
		c := current.clone()
		c.addReview(Review{
			ReviewerID: rec.ActorID,
			SubjectID:  rec.SubjectID,
			Accurate:   rec.Kind == ledger.FeedbackCorrect,
			Notes:      rec.Notes,
			FeedbackID: rec.FeedbackID,
			Timestamp:  rec.Timestamp,
		}, now)
		c.UpdatedAt = now
		if err := m.save(c); err != nil {
			m.logger.Warn("Failed to save pdca review from feedback",
				zap.String("cycle_id", id),
				zap.String("feedback_id", rec.FeedbackID),
				zap.Error(err))
			continue
		}
		m.cycles[id] = c
		applied++
	}
	return applied
}

// Subscriber adapts ApplyFeedback to a ledger hook.
func (m *Manager) Subscriber() func(ledger.Entry) {
	return func(e ledger.Entry) {
		if e.Payload.Kind != ledger.KindFeedback || e.Payload.Feedback == nil {
			return
		}
		if n := m.ApplyFeedback(*e.Payload.Feedback); n > 0 {
			m.logger.Debug("Feedback filed as pdca review",
				zap.String("feedback_id", e.Payload.Feedback.FeedbackID),
				zap.Int("cycles", n))
		}
	}
}

// AddAction is the ACT step. An action added to a completed cycle reopens it.
func (m *Manager) AddAction(cycleID string, actionType ActionType, description, assignedTo string) (*Cycle, error) {
	actionType = ActionType(strings.ToUpper(string(actionType)))
	if !actionType.Valid() {
		return nil, fmt.Errorf("%w: action_type must be CORRECTIVE or IMPROVEMENT", council.ErrInvalidInput)
	}
	description, err := requireText("description", description)
	if err != nil {
		return nil, err
	}

	return m.update(cycleID, func(c *Cycle, now time.Time) error {
		c.Phase = PhaseAct
		c.Status = StatusInProgress
		c.CompletedAt = nil
		c.Act.Actions = append(c.Act.Actions, Action{
			ID:          newID("act_"),
			Type:        actionType,
			Description: description,
			AssignedTo:  strings.TrimSpace(assignedTo),
			Status:      ActionPending,
			CreatedAt:   now,
		})
		metrics.PDCAEvents.WithLabelValues("action").Inc()
		return nil
	})
}

// CompleteAction closes an action; the cycle completes once every action is
// closed.
func (m *Manager) CompleteAction(cycleID, actionID string) (*Cycle, error) {
	return m.update(cycleID, func(c *Cycle, now time.Time) error {
		found := false
		for i := range c.Act.Actions {
			a := &c.Act.Actions[i]
			if a.ID != actionID {
				continue
			}
			found = true
			if a.Status != ActionCompleted {
				a.Status = ActionCompleted
				t := now
				a.CompletedAt = &t
			}
		}
		if !found {
			return fmt.Errorf("action %s: %w", actionID, ErrActionNotFound)
		}

		for _, a := range c.Act.Actions {
			if a.Status != ActionCompleted {
				return nil
			}
		}
		if c.Status != StatusCompleted {
			c.Status = StatusCompleted
			t := now
			c.CompletedAt = &t
			metrics.PDCAEvents.WithLabelValues("cycle_completed").Inc()
			m.logger.Info("PDCA cycle completed", zap.String("cycle_id", c.ID))
		}
		return nil
	})
}

func (m *Manager) Cycle(cycleID string) (*Cycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cycles[cycleID]
	if !ok {
		return nil, fmt.Errorf("cycle %s: %w", cycleID, ErrCycleNotFound)
	}
	return c.clone(), nil
}

func (m *Manager) Status(cycleID string) (CycleStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cycles[cycleID]
	if !ok {
		return CycleStatus{}, fmt.Errorf("cycle %s: %w", cycleID, ErrCycleNotFound)
	}
	return c.status(), nil
}

// Cycles summarises every cycle, or only the actor's when actorID is set,
// oldest first.
func (m *Manager) Cycles(actorID string) []CycleStatus {
	m.mu.RLock()
	out := make([]CycleStatus, 0, len(m.cycles))
	for _, c := range m.cycles {
		if actorID == "" || c.ActorID == actorID {
			out = append(out, c.status())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CycleID < out[j].CycleID
	})
	return out
}
