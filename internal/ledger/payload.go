package ledger

import (
	"time"

	"github.com/council-ai/backend/internal/council"
)

type Kind string

const (
	KindGenesis       Kind = "GENESIS"
	KindVerifications Kind = "VERIFICATIONS"
	KindFeedback      Kind = "FEEDBACK"
)

type FeedbackKind string

const (
	FeedbackCorrect         FeedbackKind = "CORRECT"
	FeedbackIncorrect       FeedbackKind = "INCORRECT"
	FeedbackFalsePositive   FeedbackKind = "FALSE_POSITIVE"
	FeedbackFalseNegative   FeedbackKind = "FALSE_NEGATIVE"
	FeedbackSeverityTooHigh FeedbackKind = "SEVERITY_TOO_HIGH"
	FeedbackSeverityTooLow  FeedbackKind = "SEVERITY_TOO_LOW"
)

var FeedbackKinds = []FeedbackKind{
	FeedbackCorrect,
	FeedbackIncorrect,
	FeedbackFalsePositive,
	FeedbackFalseNegative,
	FeedbackSeverityTooHigh,
	FeedbackSeverityTooLow,
}

func (k FeedbackKind) Valid() bool {
	for _, known := range FeedbackKinds {
		if k == known {
			return true
		}
	}
	return false
}

type GenesisRecord struct {
	Message    string `json:"message"`
	Difficulty int    `json:"difficulty"`
}

// VerdictSummary is what the ledger keeps of a verdict: no raw content and
// no per-vote rationale.
type VerdictSummary struct {
	SubjectID        string             `json:"subject_id"`
	ContentHash      string             `json:"content_hash"`
	ActorID          string             `json:"actor_id,omitempty"`
	Decision         council.Decision   `json:"decision"`
	RiskScore        float64            `json:"risk_score"`
	Confidence       float64            `json:"confidence"`
	CategoriesTested []string           `json:"categories_tested"`
	Counts           council.VoteCounts `json:"vote_counts"`
	Metadata         map[string]string  `json:"metadata,omitempty"`
	RecordedAt       time.Time          `json:"recorded_at"`
}

type FeedbackRecord struct {
	FeedbackID         string            `json:"feedback_id"`
	SubjectID          string            `json:"subject_id"`
	CategoryID         string            `json:"category_id"`
	Kind               FeedbackKind      `json:"feedback_type"`
	ActorID            string            `json:"actor_id"`
	CorrectedVerdict   *council.Decision `json:"corrected_vote,omitempty"`
	CorrectedRiskScore *float64          `json:"corrected_risk_score,omitempty"`
	Notes              string            `json:"notes,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
}

// Payload is a tagged union; exactly one of the record fields is set,
// matching Kind.
type Payload struct {
	Kind          Kind             `json:"kind"`
	Genesis       *GenesisRecord   `json:"genesis,omitempty"`
	Verifications []VerdictSummary `json:"verifications,omitempty"`
	Feedback      *FeedbackRecord  `json:"feedback,omitempty"`
}

type PendingRecord struct {
	SubjectID string    `json:"subject_id"`
	Position  int       `json:"position"`
	QueuedAt  time.Time `json:"queued_at"`
}

func SummarizeVerdict(v *council.Verdict, actorID string, metadata map[string]string) VerdictSummary {
	return VerdictSummary{
		SubjectID:        v.SubjectID,
		ContentHash:      v.ContentHash,
		ActorID:          actorID,
		Decision:         v.Decision,
		RiskScore:        v.RiskScore,
		Confidence:       v.Confidence,
		CategoriesTested: v.CategoryIDs(),
		Counts:           v.Counts,
		Metadata:         copyStrings(metadata),
		RecordedAt:       v.CreatedAt.UTC(),
	}
}

func (s VerdictSummary) clone() VerdictSummary {
	c := s
	c.CategoriesTested = append([]string(nil), s.CategoriesTested...)
	c.Metadata = copyStrings(s.Metadata)
	return c
}

func (f FeedbackRecord) clone() FeedbackRecord {
	c := f
	if f.CorrectedVerdict != nil {
		d := *f.CorrectedVerdict
		c.CorrectedVerdict = &d
	}
	if f.CorrectedRiskScore != nil {
		s := *f.CorrectedRiskScore
		c.CorrectedRiskScore = &s
	}
	return c
}

func (p Payload) clone() Payload {
	c := Payload{Kind: p.Kind}
	if p.Genesis != nil {
		g := *p.Genesis
		c.Genesis = &g
	}
	if p.Verifications != nil {
		c.Verifications = make([]VerdictSummary, len(p.Verifications))
		for i, s := range p.Verifications {
			c.Verifications[i] = s.clone()
		}
	}
	if p.Feedback != nil {
		f := p.Feedback.clone()
		c.Feedback = &f
	}
	return c
}

func copyStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
