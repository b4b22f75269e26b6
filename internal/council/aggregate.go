package council

import (
	"fmt"
	"sort"
	"strings"
)

const (
	failAverageThreshold = -0.3
	passAverageThreshold = 0.3
	failShareThreshold   = 0.25
	noEvidenceRiskScore  = 50.0
)

type Result struct {
	Decision        Decision
	Confidence      float64
	RiskScore       float64
	WeightedAverage float64
	Counts          VoteCounts
	Summary         string
}

// Aggregate reduces a vote set into one decision. Votes are visited in
// ascending category order so the floating-point sums do not depend on
// arrival order.
func Aggregate(votes map[string]Vote) Result {
	if len(votes) == 0 {
		return Result{
			Decision:  Warning,
			RiskScore: noEvidenceRiskScore,
			Summary:   "Council verdict: no votes were cast, result is inconclusive.",
		}
	}

	ids := make([]string, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		counts      VoteCounts
		totalWeight float64
		weightedSum float64
		riskSum     float64
	)
	for _, id := range ids {
		v := votes[id]
		totalWeight += v.Confidence
		riskSum += v.RiskScore
		switch v.Decision {
		case Pass:
			counts.Pass++
			weightedSum += v.Confidence
		case Fail:
			counts.Fail++
			weightedSum -= v.Confidence
		default:
			counts.Warning++
		}
	}

	n := float64(len(ids))
	var weightedAverage float64
	if totalWeight > 0 {
		weightedAverage = weightedSum / totalWeight
	}

	var decision Decision
	switch {
	case weightedAverage < failAverageThreshold || float64(counts.Fail) > failShareThreshold*n:
		decision = Fail
	case weightedAverage > passAverageThreshold && counts.Fail == 0:
		decision = Pass
	default:
		decision = Warning
	}

	res := Result{
		Decision:        decision,
		Confidence:      totalWeight / n,
		RiskScore:       riskSum / n,
		WeightedAverage: weightedAverage,
		Counts:          counts,
	}
	res.Summary = summarize(res, ids, votes)
	return res
}

func summarize(res Result, ids []string, votes map[string]Vote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Council verdict: %d FAIL, %d WARNING, %d PASS. ",
		res.Counts.Fail, res.Counts.Warning, res.Counts.Pass)

	switch res.Decision {
	case Fail:
		b.WriteString("Content failed verification. ")
	case Warning:
		b.WriteString("Content requires review. ")
	default:
		b.WriteString("Content passed verification. ")
	}
	fmt.Fprintf(&b, "Overall risk score: %.1f/100, confidence %.2f.", res.RiskScore, res.Confidence)

	var failed []string
	for _, id := range ids {
		if votes[id].Decision == Fail {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, " Failed categories: %s.", strings.Join(failed, ", "))
	}
	return b.String()
}
