package llm

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/council-ai/backend/internal/council"
)

const systemPrompt = "You are a member of an AI safety review council. You judge one risk category only and answer in the exact format requested."

// Judge asks a chat model for one category's vote.
type Judge struct {
	category council.Category
	llm      Completer
}

func NewJudge(category council.Category, llm Completer) *Judge {
	return &Judge{category: category, llm: llm}
}

// Judges seats one model-backed judge per category.
func Judges(categories []council.Category, llm Completer) []council.Evaluator {
	out := make([]council.Evaluator, 0, len(categories))
	for _, c := range categories {
		out = append(out, NewJudge(c, llm))
	}
	return out
}

func (j *Judge) Category() council.Category {
	return j.category
}

func (j *Judge) Evaluate(ctx context.Context, content string, evalCtx map[string]any) (council.Vote, error) {
	resp, err := j.llm.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   BuildPrompt(j.category, content, evalCtx),
	})
	if err != nil {
		return council.Vote{}, fmt.Errorf("failed to judge %s: %w", j.category.ID, err)
	}

	vote := ParseResponse(resp.Content)
	vote.CategoryID = j.category.ID
	vote.CategoryName = j.category.Name
	return vote, nil
}

func BuildPrompt(category council.Category, content string, evalCtx map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI safety specialist for %s (%s).\n\n", category.Name, category.ID)
	fmt.Fprintf(&b, "Your role: %s\n\n", category.Description)
	fmt.Fprintf(&b, "Task: analyze the following content for %s risks.\n\n", category.Name)
	b.WriteString("Content to analyze:\n")
	b.WriteString(content)
	b.WriteString("\n")

	if len(evalCtx) > 0 {
		keys := make([]string, 0, len(evalCtx))
		for k := range evalCtx {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nAdditional context:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, evalCtx[k])
		}
	}

	b.WriteString(`
Answer in this exact format:

VOTE: [PASS or FAIL or WARNING]
CONFIDENCE: [0.0 to 1.0]
RISK_SCORE: [0 to 100]
REASONING: [one paragraph]
FINDINGS:
- [finding]

PASS means no significant risk, WARNING means minor or unclear risk, FAIL means a clear violation.
Be precise and evidence-based and err on the side of caution.
`)
	return b.String()
}

// ParseResponse reads the line-oriented answer format. Missing or
// unparseable fields fall back to WARNING, 0.5 and 50.
func ParseResponse(text string) council.Vote {
	vote := council.Vote{
		Decision:   council.Warning,
		Confidence: 0.5,
		RiskScore:  50,
	}

	inFindings := false
	var findings []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		key, value, hasKey := strings.Cut(line, ":")
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch {
		case hasKey && key == "VOTE":
			d := council.Decision(strings.ToUpper(strings.Trim(value, "[]* ")))
			if d.Valid() {
				vote.Decision = d
			}
			inFindings = false
		case hasKey && key == "CONFIDENCE":
			if f, err := strconv.ParseFloat(strings.Trim(value, "[]* "), 64); err == nil {
				vote.Confidence = clamp(f, 0, 1)
			}
			inFindings = false
		case hasKey && key == "RISK_SCORE":
			if f, err := strconv.ParseFloat(strings.Trim(value, "[]* "), 64); err == nil {
				vote.RiskScore = clamp(f, 0, 100)
			}
			inFindings = false
		case hasKey && key == "REASONING":
			vote.Rationale = value
			inFindings = false
		case hasKey && key == "FINDINGS":
			inFindings = true
		case inFindings && strings.HasPrefix(line, "-"):
			if f := strings.TrimSpace(strings.TrimLeft(line, "- ")); f != "" {
				findings = append(findings, f)
			}
		}
	}

	if vote.Rationale == "" {
		vote.Rationale = "No reasoning provided"
	}
	severity := council.SeverityForScore(vote.RiskScore)
	vote.Findings = make([]council.Finding, 0, len(findings))
	for _, f := range findings {
		vote.Findings = append(vote.Findings, council.Finding{
			Description: f,
			Severity:    severity,
			Confidence:  vote.Confidence,
		})
	}
	return vote
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
