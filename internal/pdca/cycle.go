package pdca

import (
	"errors"
	"time"

	"github.com/council-ai/backend/internal/council"
)

var (
	ErrCycleNotFound  = errors.New("pdca cycle not found")
	ErrActionNotFound = errors.New("pdca action not found")
)

type Phase string

const (
	PhasePlan  Phase = "PLAN"
	PhaseDo    Phase = "DO"
	PhaseCheck Phase = "CHECK"
	PhaseAct   Phase = "ACT"
)

type ActionType string

const (
	ActionCorrective  ActionType = "CORRECTIVE"
	ActionImprovement ActionType = "IMPROVEMENT"
)

func (t ActionType) Valid() bool {
	return t == ActionCorrective || t == ActionImprovement
}

type ActionStatus string

const (
	ActionPending   ActionStatus = "PENDING"
	ActionCompleted ActionStatus = "COMPLETED"
)

type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

var DefaultFrameworks = []string{"TC260", "EU_AI_ACT"}

const DefaultRiskThreshold = 70.0

type Note struct {
	Text    string    `json:"text"`
	AddedAt time.Time `json:"added_at"`
}

// Execution is one council verdict recorded against a cycle.
type Execution struct {
	SubjectID       string           `json:"verification_id"`
	Decision        council.Decision `json:"overall_vote"`
	RiskScore       float64          `json:"overall_risk_score"`
	Passed          bool             `json:"passed"`
	WithinThreshold bool             `json:"within_threshold"`
	Cached          bool             `json:"cached"`
	Timestamp       time.Time        `json:"timestamp"`
}

type Review struct {
	ReviewerID string    `json:"reviewer_id"`
	SubjectID  string    `json:"verification_id"`
	Accurate   bool      `json:"is_accurate"`
	Notes      string    `json:"notes,omitempty"`
	FeedbackID string    `json:"feedback_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Action struct {
	ID          string       `json:"action_id"`
	Type        ActionType   `json:"action_type"`
	Description string       `json:"description"`
	AssignedTo  string       `json:"assigned_to,omitempty"`
	Status      ActionStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

type Plan struct {
	Objectives []Note `json:"objectives"`
	Policies   []Note `json:"policies"`
}

type Do struct {
	Executions []Execution `json:"verifications"`
}

type Check struct {
	Reviews     []Review `json:"reviews"`
	Accuracy    float64  `json:"accuracy"`
	IssuesFound int      `json:"issues_found"`
}

type Act struct {
	Actions []Action `json:"actions"`
}

// Cycle is one Plan-Do-Check-Act loop over a project's use of the council.
type Cycle struct {
	ID            string     `json:"cycle_id"`
	ActorID       string     `json:"user_id"`
	ProjectName   string     `json:"project_name"`
	Phase         Phase      `json:"phase"`
	Status        Status     `json:"status"`
	Frameworks    []string   `json:"frameworks"`
	RiskThreshold float64    `json:"risk_threshold"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	Plan  Plan  `json:"plan"`
	Do    Do    `json:"do"`
	Check Check `json:"check"`
	Act   Act   `json:"act"`
}

func (c *Cycle) clone() *Cycle {
	out := *c
	out.Frameworks = append([]string(nil), c.Frameworks...)
	out.Plan.Objectives = append([]Note(nil), c.Plan.Objectives...)
	out.Plan.Policies = append([]Note(nil), c.Plan.Policies...)
	out.Do.Executions = append([]Execution(nil), c.Do.Executions...)
	out.Check.Reviews = append([]Review(nil), c.Check.Reviews...)
	out.Act.Actions = make([]Action, len(c.Act.Actions))
	for i, a := range c.Act.Actions {
		if a.CompletedAt != nil {
			t := *a.CompletedAt
			a.CompletedAt = &t
		}
		out.Act.Actions[i] = a
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func (c *Cycle) executed(subjectID string) bool {
	for _, e := range c.Do.Executions {
		if e.SubjectID == subjectID {
			return true
		}
	}
	return false
}

func (c *Cycle) recomputeAccuracy() {
	if len(c.Check.Reviews) == 0 {
		c.Check.Accuracy = 0
		return
	}
	accurate := 0
	for _, r := range c.Check.Reviews {
		if r.Accurate {
			accurate++
		}
	}
	c.Check.Accuracy = float64(accurate) / float64(len(c.Check.Reviews))
}

// CycleStatus is the summary view served by status queries.
type CycleStatus struct {
	CycleID      string    `json:"cycle_id"`
	ActorID      string    `json:"user_id"`
	ProjectName  string    `json:"project_name"`
	CurrentPhase Phase     `json:"current_phase"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Plan         struct {
		Objectives int `json:"objectives_count"`
		Policies   int `json:"policies_count"`
	} `json:"plan"`
	Do struct {
		Total         int `json:"total_verifications"`
		Passed        int `json:"passed"`
		Failed        int `json:"failed"`
		OverThreshold int `json:"over_threshold"`
	} `json:"do"`
	Check struct {
		Reviews     int     `json:"total_reviews"`
		Accuracy    float64 `json:"accuracy"`
		IssuesFound int     `json:"issues_found"`
	} `json:"check"`
	Act struct {
		Total     int `json:"total_actions"`
		Pending   int `json:"pending_actions"`
		Completed int `json:"completed_actions"`
	} `json:"act"`
}

func (c *Cycle) status() CycleStatus {
	var s CycleStatus
	s.CycleID = c.ID
	s.ActorID = c.ActorID
	s.ProjectName = c.ProjectName
	s.CurrentPhase = c.Phase
	s.Status = c.Status
	s.CreatedAt = c.CreatedAt
	s.UpdatedAt = c.UpdatedAt

	s.Plan.Objectives = len(c.Plan.Objectives)
	s.Plan.Policies = len(c.Plan.Policies)

	s.Do.Total = len(c.Do.Executions)
	for _, e := range c.Do.Executions {
		if e.Passed {
			s.Do.Passed++
		} else {
			s.Do.Failed++
		}
		if !e.WithinThreshold {
			s.Do.OverThreshold++
		}
	}

	s.Check.Reviews = len(c.Check.Reviews)
	s.Check.Accuracy = c.Check.Accuracy
	s.Check.IssuesFound = c.Check.IssuesFound

	s.Act.Total = len(c.Act.Actions)
	for _, a := range c.Act.Actions {
		if a.Status == ActionCompleted {
			s.Act.Completed++
		} else {
			s.Act.Pending++
		}
	}
	return s
}
