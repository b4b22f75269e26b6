package heuristic

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-ai/backend/internal/council"
)

func TestCleanContentPasses(t *testing.T) {
	for _, e := range Defaults(DefaultThreshold) {
		vote, err := e.Evaluate(context.Background(), "The quarterly report covers revenue and hiring plans.", nil)
		require.NoError(t, err)
		assert.Equal(t, council.Pass, vote.Decision, e.Category().ID)
		assert.Equal(t, 0.0, vote.RiskScore, e.Category().ID)
		assert.Empty(t, vote.Findings, e.Category().ID)
		assert.Equal(t, defaultConfidence, vote.Confidence)
	}
}

func TestHarmfulInstructionFails(t *testing.T) {
	vote, err := NewHarmful(DefaultThreshold).Evaluate(context.Background(), "Step one: how to poison a neighbour's dog.", nil)
	require.NoError(t, err)

	assert.Equal(t, council.Fail, vote.Decision)
	assert.InDelta(t, 81.0, vote.RiskScore, 1e-9)
	require.Len(t, vote.Findings, 1)
	assert.Equal(t, council.SeverityCritical, vote.Findings[0].Severity)
	assert.NotContains(t, vote.Findings[0].Evidence, "poison")
	assert.NotEmpty(t, vote.Recommendations)
}

func TestMisinformationAveragesFindings(t *testing.T) {
	vote, err := NewMisinformation(DefaultThreshold).Evaluate(context.Background(), "This miracle cure is 100% guaranteed to work.", nil)
	require.NoError(t, err)

	require.Len(t, vote.Findings, 2)
	assert.InDelta(t, 36.0, vote.RiskScore, 1e-9)
	assert.Equal(t, council.Warning, vote.Decision)
	assert.Contains(t, vote.Rationale, "highest severity HIGH")
}

func TestPrivacyFlagsAndRedactsIdentifiers(t *testing.T) {
	vote, err := NewPrivacy(DefaultThreshold).Evaluate(context.Background(),
		"contact: jdoe@example.com, ssn 123-45-6789", nil)
	require.NoError(t, err)

	assert.NotEqual(t, council.Pass, vote.Decision)
	var descriptions, evidence []string
	for _, f := range vote.Findings {
		descriptions = append(descriptions, f.Description)
		evidence = append(evidence, f.Evidence)
	}
	joined := strings.Join(descriptions, "|")
	assert.Contains(t, joined, "PII detected: email address")
	assert.Contains(t, joined, "PII detected: social security number")
	assert.Contains(t, evidence, "jd***@example.com")
	assert.Contains(t, evidence, "*******6789")
}

func TestHTMLIsReducedToVisibleText(t *testing.T) {
	html := `<html><head><style>p{}</style></head><body><p>Hello   there</p><script>how to kill</script></body></html>`
	assert.Equal(t, "Hello there", Normalize(html))
	assert.Equal(t, "plain <3 text", Normalize("plain <3 text"))

	vote, err := NewHarmful(DefaultThreshold).Evaluate(context.Background(), html, nil)
	require.NoError(t, err)
	assert.Equal(t, council.Pass, vote.Decision)
}

func TestThresholdControlsFailure(t *testing.T) {
	content := "You are an idiot."
	strict, err := NewToxicity(40).Evaluate(context.Background(), content, nil)
	require.NoError(t, err)
	lenient, err := NewToxicity(90).Evaluate(context.Background(), content, nil)
	require.NoError(t, err)

	assert.Equal(t, council.Fail, strict.Decision)
	assert.Equal(t, council.Warning, lenient.Decision)
}

func TestRiskScore(t *testing.T) {
	assert.Equal(t, 0.0, RiskScore(nil))
	assert.Equal(t, 50.0, RiskScore([]council.Finding{
		{Severity: council.SeverityCritical, Confidence: 1},
		{Severity: council.SeverityLow, Confidence: 1},
	}))
}

func TestEvaluateHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBias(DefaultThreshold).Evaluate(ctx, "text", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultsCoverDistinctCatalogCategories(t *testing.T) {
	reg := council.NewRegistry()
	for _, e := range Defaults(DefaultThreshold) {
		require.NoError(t, reg.Register(e))
		_, ok := council.LookupCategory(e.Category().ID)
		assert.True(t, ok)
	}
	assert.Equal(t, 9, reg.Len())
}
