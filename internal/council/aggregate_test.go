package council

import (
	"fmt"
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
)

func vote(id string, d Decision, confidence, risk float64) Vote {
	return Vote{CategoryID: id, Decision: d, Confidence: confidence, RiskScore: risk}
}

func voteSet(votes ...Vote) map[string]Vote {
	out := make(map[string]Vote, len(votes))
	for _, v := range votes {
		out[v.CategoryID] = v
	}
	return out
}

func TestAggregateNoVotesIsInconclusive(t *testing.T) {
	res := Aggregate(nil)
	assert.Equal(t, Warning, res.Decision)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, 50.0, res.RiskScore)
	assert.Equal(t, 0, res.Counts.Total())
}

func TestAggregateFailDominatesBalancedAverage(t *testing.T) {
	res := Aggregate(voteSet(
		vote("a", Fail, 0.9, 80),
		vote("b", Fail, 0.9, 80),
		vote("c", Pass, 0.9, 10),
		vote("d", Pass, 0.9, 10),
	))
	assert.Equal(t, Fail, res.Decision)
	assert.InDelta(t, 0.0, res.WeightedAverage, 1e-12)
	assert.InDelta(t, 0.9, res.Confidence, 1e-12)
	assert.InDelta(t, 45.0, res.RiskScore, 1e-12)
	assert.Equal(t, VoteCounts{Fail: 2, Pass: 2}, res.Counts)
}

func TestAggregateFailOnNegativeAverage(t *testing.T) {
	// one fail in four is exactly 25%, so only the weighted average can trip it
	res := Aggregate(voteSet(
		vote("a", Fail, 0.9, 90),
		vote("b", Warning, 0.1, 50),
		vote("c", Warning, 0.1, 50),
		vote("d", Warning, 0.1, 50),
	))
	assert.Equal(t, Fail, res.Decision)
	assert.InDelta(t, -0.75, res.WeightedAverage, 1e-12)
}

func TestAggregatePassRequiresNoFails(t *testing.T) {
	res := Aggregate(voteSet(
		vote("a", Pass, 0.9, 10),
		vote("b", Pass, 0.8, 20),
	))
	assert.Equal(t, Pass, res.Decision)
	assert.InDelta(t, 15.0, res.RiskScore, 1e-12)

	votes := voteSet(
		vote("a", Pass, 0.9, 10),
		vote("b", Pass, 0.9, 10),
		vote("c", Pass, 0.9, 10),
		vote("d", Pass, 0.9, 10),
		vote("e", Fail, 0.1, 70),
	)
	res = Aggregate(votes)
	assert.Greater(t, res.WeightedAverage, 0.3)
	assert.Equal(t, Warning, res.Decision)
}

func TestAggregateLowConfidencePassIsWarning(t *testing.T) {
	res := Aggregate(voteSet(
		vote("a", Pass, 0.2, 10),
		vote("b", Warning, 0.9, 40),
	))
	assert.Equal(t, Warning, res.Decision)
}

func TestAggregateZeroConfidence(t *testing.T) {
	res := Aggregate(voteSet(
		vote("a", Pass, 0, 10),
		vote("b", Warning, 0, 50),
	))
	assert.Equal(t, Warning, res.Decision)
	assert.Equal(t, 0.0, res.WeightedAverage)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestAggregateSummaryListsFailedCategories(t *testing.T) {
	res := Aggregate(voteSet(
		vote("TC260-04", Fail, 0.9, 90),
		vote("TC260-01", Fail, 0.9, 90),
		vote("TC260-02", Pass, 0.8, 10),
	))
	assert.Contains(t, res.Summary, "Council verdict: 2 FAIL, 0 WARNING, 1 PASS.")
	assert.Contains(t, res.Summary, "Failed categories: TC260-01, TC260-04.")
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	decisions := []Decision{Pass, Warning, Fail}
	property := func(seed int64) bool {
		rng := rand.New(rand.NewSource(seed))
		n := rng.Intn(12) + 1
		votes := make([]Vote, n)
		for i := range votes {
			votes[i] = vote(fmt.Sprintf("c%02d", i), decisions[rng.Intn(3)], rng.Float64(), rng.Float64()*100)
		}

		forward := make(map[string]Vote, n)
		for _, v := range votes {
			forward[v.CategoryID] = v
		}
		shuffled := make(map[string]Vote, n)
		for _, i := range rng.Perm(n) {
			shuffled[votes[i].CategoryID] = votes[i]
		}

		return Aggregate(forward) == Aggregate(shuffled)
	}
	assert.NoError(t, quick.Check(property, &quick.Config{MaxCount: 200}))
}

func TestSeverityWeightsAndBands(t *testing.T) {
	assert.Equal(t, 90.0, SeverityCritical.Weight())
	assert.Equal(t, SeverityCritical, SeverityForScore(80))
	assert.Equal(t, SeverityHigh, SeverityForScore(60))
	assert.Equal(t, SeverityMedium, SeverityForScore(30))
	assert.Equal(t, SeverityLow, SeverityForScore(29.9))
}
