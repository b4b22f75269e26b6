package council

import (
	"sort"
	"time"
)

type Decision string

const (
	Pass    Decision = "PASS"
	Warning Decision = "WARNING"
	Fail    Decision = "FAIL"
)

func (d Decision) Valid() bool {
	switch d {
	case Pass, Warning, Fail:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Weight is the risk contribution of one finding at full confidence.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 10
	case SeverityMedium:
		return 30
	case SeverityHigh:
		return 60
	case SeverityCritical:
		return 90
	}
	return 0
}

// SeverityForScore maps a 0-100 risk score onto a severity band.
func SeverityForScore(score float64) Severity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	case score >= 30:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

type Finding struct {
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Location    string   `json:"location,omitempty"`
	Evidence    string   `json:"evidence,omitempty"`
	Confidence  float64  `json:"confidence"`
}

type Vote struct {
	CategoryID      string        `json:"category_id"`
	CategoryName    string        `json:"category_name,omitempty"`
	Decision        Decision      `json:"vote"`
	Confidence      float64       `json:"confidence"`
	RiskScore       float64       `json:"risk_score"`
	Rationale       string        `json:"reasoning"`
	Findings        []Finding     `json:"findings"`
	Recommendations []string      `json:"recommendations,omitempty"`
	Duration        time.Duration `json:"processing_time_ns"`
	Fallback        bool          `json:"fallback,omitempty"`
}

type VoteCounts struct {
	Fail    int `json:"fail"`
	Warning int `json:"warning"`
	Pass    int `json:"pass"`
}

func (c VoteCounts) Total() int {
	return c.Fail + c.Warning + c.Pass
}

type Verdict struct {
	SubjectID   string          `json:"verification_id"`
	ContentHash string          `json:"content_hash"`
	Decision    Decision        `json:"overall_vote"`
	Confidence  float64         `json:"overall_confidence"`
	RiskScore   float64         `json:"overall_risk_score"`
	Votes       map[string]Vote `json:"votes"`
	Counts      VoteCounts      `json:"vote_counts"`
	Summary     string          `json:"summary"`
	CreatedAt   time.Time       `json:"created_at"`
	Duration    time.Duration   `json:"processing_time_ns"`
}

// CategoryIDs returns the evaluated categories in stable order.
func (v *Verdict) CategoryIDs() []string {
	ids := make([]string, 0, len(v.Votes))
	for id := range v.Votes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Findings flattens every vote's findings, ordered by category id.
func (v *Verdict) Findings() []Finding {
	var out []Finding
	for _, id := range v.CategoryIDs() {
		out = append(out, v.Votes[id].Findings...)
	}
	return out
}

// FallbackCategories lists categories whose judge failed or timed out.
func (v *Verdict) FallbackCategories() []string {
	var out []string
	for _, id := range v.CategoryIDs() {
		if v.Votes[id].Fallback {
			out = append(out, id)
		}
	}
	return out
}
