package council

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnknownCategory  = errors.New("unknown category")
	ErrEvaluatorTimeout = errors.New("evaluator timed out")
	ErrEvaluatorFailure = errors.New("evaluator failed")
	ErrDuplicateJudge   = errors.New("category already has a registered evaluator")
)
