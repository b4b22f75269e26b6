package heuristic

import (
	"fmt"
	"regexp"

	"github.com/jdkato/prose/v2"

	"github.com/council-ai/backend/internal/council"
)

var contactPII = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`),
}

func NewPrivacy(threshold float64) *Module {
	m := newModule("TC260-02", threshold)
	m.rules = []Rule{
		redacted(rule("PII detected: email address", `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, council.SeverityHigh, 0.95)),
		redacted(rule("PII detected: phone number", `\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`, council.SeverityHigh, 0.90)),
		redacted(rule("PII detected: social security number", `\b\d{3}-\d{2}-\d{4}\b`, council.SeverityCritical, 0.95)),
		redacted(rule("PII detected: payment card number", `\b(?:4\d{12}(?:\d{3})?|5[1-5]\d{14}|3[47]\d{13}|6(?:011|5\d{2})\d{12})\b`, council.SeverityCritical, 0.95)),
		redacted(rule("PII detected: date of birth", `\b(?:0?[1-9]|1[0-2])[-/](?:0?[1-9]|[12]\d|3[01])[-/](?:19|20)\d{2}\b`, council.SeverityHigh, 0.80)),
		rule("Collection without consent", `(?i)\b(collect|share|sell|track)\w*\b.{0,60}\b(without|no)\s+(consent|permission|authorization|knowledge)\b`, council.SeverityCritical, 0.85),
		rule("Data subject rights restricted", `(?i)\bno\s+(right|option)\s+to\s+(delete|remove|erase|access)\b`, council.SeverityHigh, 0.80),
	}
	m.keywords = []Keyword{
		{Term: "password", Severity: council.SeverityMedium, Confidence: 0.75},
		{Term: "api key", Severity: council.SeverityMedium, Confidence: 0.75},
		{Term: "private key", Severity: council.SeverityMedium, Confidence: 0.75},
		{Term: "medical record", Severity: council.SeverityMedium, Confidence: 0.75},
		{Term: "bank account", Severity: council.SeverityMedium, Confidence: 0.75},
		{Term: "social security", Severity: council.SeverityMedium, Confidence: 0.75},
	}
	m.detectors = []Detector{identifiedPerson}
	m.recommendations = []string{
		"Redact personal identifiers before sharing content.",
		"Obtain and record consent for any personal data processing.",
	}
	return m
}

// identifiedPerson flags named people appearing next to contact details.
// Entity extraction only runs when contact PII is present.
func identifiedPerson(text string) []council.Finding {
	hasContact := false
	for _, p := range contactPII {
		if p.MatchString(text) {
			hasContact = true
			break
		}
	}
	if !hasContact {
		return nil
	}

	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil
	}

	var people, places int
	for _, ent := range doc.Entities() {
		switch ent.Label {
		case "PERSON":
			people++
		case "GPE":
			places++
		}
	}
	if people == 0 {
		return nil
	}

	findings := []council.Finding{{
		Description: fmt.Sprintf("Named individual(s) linked to contact details (%d person entities)", people),
		Severity:    council.SeverityHigh,
		Evidence:    "[REDACTED - identified person]",
		Confidence:  0.70,
	}}
	if places > 0 {
		findings = append(findings, council.Finding{
			Description: "Identified person linked to a location",
			Severity:    council.SeverityMedium,
			Evidence:    "[REDACTED - location]",
			Confidence:  0.65,
		})
	}
	return findings
}
