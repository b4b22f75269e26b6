package ledger

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	//go:embed schemas/verdict_summary.json
	verdictSummarySchemaJSON string

	//go:embed schemas/feedback_record.json
	feedbackRecordSchemaJSON string

	verdictSummarySchema = mustSchema(verdictSummarySchemaJSON)
	feedbackRecordSchema = mustSchema(feedbackRecordSchemaJSON)
)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded schema: %v", err))
	}
	return schema
}

func ValidateSummary(s VerdictSummary) error {
	return validateAgainst(verdictSummarySchema, s)
}

func ValidateFeedback(f FeedbackRecord) error {
	return validateAgainst(feedbackRecordSchema, f)
}

func validateAgainst(schema *gojsonschema.Schema, doc any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrMalformedRecord, strings.Join(msgs, "; "))
}
