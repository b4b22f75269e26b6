package ledger

import "errors"

var (
	ErrMalformedRecord = errors.New("malformed ledger record")
	ErrMiningAborted   = errors.New("mining aborted")
	ErrEntryNotFound   = errors.New("ledger entry not found")
)
