package heuristic

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/council-ai/backend/internal/council"
)

const (
	DefaultThreshold  = 70.0
	warningFloor      = 30.0
	defaultConfidence = 0.85
)

type Rule struct {
	Description string
	Pattern     *regexp.Regexp
	Severity    council.Severity
	Confidence  float64
	// Redact hides the matched text in the finding's evidence.
	Redact bool
}

type Keyword struct {
	Term       string
	Severity   council.Severity
	Confidence float64
}

// Detector adds findings that plain patterns cannot express.
type Detector func(text string) []council.Finding

// Module is a pattern-based judge for one risk category.
type Module struct {
	category        council.Category
	rules           []Rule
	keywords        []Keyword
	detectors       []Detector
	recommendations []string
	threshold       float64
	confidence      float64
}

func (m *Module) Category() council.Category {
	return m.category
}

func (m *Module) Evaluate(ctx context.Context, content string, _ map[string]any) (council.Vote, error) {
	if err := ctx.Err(); err != nil {
		return council.Vote{}, err
	}

	text := Normalize(content)
	findings := m.scan(text)
	risk := RiskScore(findings)

	vote := council.Vote{
		CategoryID:   m.category.ID,
		CategoryName: m.category.Name,
		Confidence:   m.confidence,
		RiskScore:    risk,
		Findings:     findings,
	}
	switch {
	case risk >= m.threshold:
		vote.Decision = council.Fail
	case risk >= warningFloor:
		vote.Decision = council.Warning
	default:
		vote.Decision = council.Pass
	}

	if len(findings) == 0 {
		vote.Rationale = fmt.Sprintf("No %s risks detected.", strings.ToLower(m.category.Name))
		return vote, nil
	}
	vote.Rationale = fmt.Sprintf("%d finding(s), highest severity %s, risk score %.1f (%s band).",
		len(findings), highest(findings), risk, council.SeverityForScore(risk))
	vote.Recommendations = append([]string(nil), m.recommendations...)
	return vote, nil
}

func (m *Module) scan(text string) []council.Finding {
	findings := []council.Finding{}

	for _, r := range m.rules {
		loc := r.Pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		count := len(r.Pattern.FindAllStringIndex(text, -1))
		evidence := text[loc[0]:loc[1]]
		if r.Redact {
			evidence = redact(evidence)
		}
		findings = append(findings, council.Finding{
			Description: fmt.Sprintf("%s (%d occurrence(s))", r.Description, count),
			Severity:    r.Severity,
			Location:    fmt.Sprintf("offset %d", loc[0]),
			Evidence:    truncate(evidence, 120),
			Confidence:  r.Confidence,
		})
	}

	lower := strings.ToLower(text)
	for _, k := range m.keywords {
		if i := strings.Index(lower, k.Term); i >= 0 {
			findings = append(findings, council.Finding{
				Description: fmt.Sprintf("Sensitive keyword detected: %q", k.Term),
				Severity:    k.Severity,
				Location:    fmt.Sprintf("offset %d", i),
				Evidence:    k.Term,
				Confidence:  k.Confidence,
			})
		}
	}

	for _, d := range m.detectors {
		findings = append(findings, d(text)...)
	}
	return findings
}

// RiskScore is the mean of severity weight times confidence over all
// findings, capped at 100.
func RiskScore(findings []council.Finding) float64 {
	if len(findings) == 0 {
		return 0
	}
	var total float64
	for _, f := range findings {
		total += f.Severity.Weight() * f.Confidence
	}
	return math.Min(total/float64(len(findings)), 100)
}

func highest(findings []council.Finding) council.Severity {
	best := council.SeverityLow
	for _, f := range findings {
		if f.Severity.Weight() > best.Weight() {
			best = f.Severity
		}
	}
	return best
}

var (
	markupPattern     = regexp.MustCompile(`(?is)<(html|body|div|p|span|script|style|a|br)\b`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Normalize turns HTML submissions into visible text; plain text passes
// through unchanged.
func Normalize(content string) string {
	if !markupPattern.MatchString(content) {
		return content
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	doc.Find("script, style, noscript").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})
	text := whitespacePattern.ReplaceAllString(doc.Text(), " ")
	return strings.TrimSpace(text)
}

func redact(s string) string {
	if at := strings.IndexByte(s, '@'); at > 0 {
		keep := 2
		if at < keep {
			keep = at
		}
		return s[:keep] + "***" + s[at:]
	}
	if len(s) > 4 {
		return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
	}
	return "***"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
