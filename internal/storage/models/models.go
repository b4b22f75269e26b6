package models

import "time"

// LedgerBlock is the header of a sealed ledger entry, without its payload.
type LedgerBlock struct {
	Index        int64
	Hash         string
	PreviousHash string
	Kind         string
	Nonce        uint64
	RecordCount  int
	SealedAt     time.Time
}

type VerificationRecord struct {
	ID           int
	SubjectID    string
	EntryIndex   int64
	ContentHash  string
	ActorID      string
	Decision     string
	RiskScore    float64
	Confidence   float64
	Categories   []string
	FailCount    int
	WarningCount int
	PassCount    int
	RecordedAt   time.Time
}

type FeedbackRecord struct {
	FeedbackID         string
	SubjectID          string
	EntryIndex         int64
	CategoryID         string
	FeedbackType       string
	ActorID            string
	CorrectedVerdict   string
	CorrectedRiskScore *float64
	Notes              string
	CreatedAt          time.Time
}
