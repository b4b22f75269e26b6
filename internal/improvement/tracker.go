package improvement

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/council-ai/backend/internal/council"
	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/internal/metrics"
	"github.com/council-ai/backend/pkg/logger"
)

const DefaultRetrainThreshold = 100

// FeedbackLedger is the part of the ledger the tracker writes to.
type FeedbackLedger interface {
	AppendFeedback(ctx context.Context, rec ledger.FeedbackRecord) (ledger.Entry, error)
}

// SignalSink receives retraining signals for an external training pipeline.
type SignalSink interface {
	Publish(ctx context.Context, signal RetrainingSignal) error
}

type Correction struct {
	Verdict   *council.Decision
	RiskScore *float64
	Notes     string
}

type RetrainingSignal struct {
	CategoryID     string    `json:"category_id"`
	ExampleCount   int       `json:"example_count"`
	CorrectedCount int       `json:"corrected_count"`
	Timestamp      time.Time `json:"timestamp"`
}

type CategoryStats struct {
	CategoryID        string    `json:"category_id"`
	TotalFeedback     int       `json:"total_feedback"`
	Correct           int       `json:"correct"`
	Incorrect         int       `json:"incorrect"`
	FalsePositives    int       `json:"false_positives"`
	FalseNegatives    int       `json:"false_negatives"`
	SeverityTooHigh   int       `json:"severity_too_high"`
	SeverityTooLow    int       `json:"severity_too_low"`
	CorrectedExamples int       `json:"corrected_examples"`
	Accuracy          float64   `json:"accuracy"`
	FalsePositiveRate float64   `json:"false_positive_rate"`
	FalseNegativeRate float64   `json:"false_negative_rate"`
	LastFeedbackAt    time.Time `json:"last_feedback_at"`
}

type TrainingExample struct {
	FeedbackID         string              `json:"feedback_id"`
	SubjectID          string              `json:"subject_id"`
	CategoryID         string              `json:"category_id"`
	Kind               ledger.FeedbackKind `json:"feedback_type"`
	CorrectedVerdict   council.Decision    `json:"corrected_vote"`
	CorrectedRiskScore *float64            `json:"corrected_risk_score,omitempty"`
	Notes              string              `json:"notes,omitempty"`
	EntryIndex         int64               `json:"block_index"`
}

type FeedbackResult struct {
	Record     ledger.FeedbackRecord `json:"feedback"`
	EntryIndex int64                 `json:"block_index"`
	EntryHash  string                `json:"block_hash"`
	Stats      CategoryStats         `json:"stats"`
	Signal     *RetrainingSignal     `json:"retraining_signal,omitempty"`
}

type Report struct {
	GeneratedAt     time.Time       `json:"timestamp"`
	TotalFeedback   int             `json:"total_feedback"`
	OverallAccuracy float64         `json:"overall_accuracy"`
	Categories      []CategoryStats `json:"categories"`
	SignalsEmitted  int             `json:"signals_emitted"`
	Threshold       int             `json:"retrain_threshold"`
}

type Options struct {
	Threshold int
	Sink      SignalSink
	// KnownCategory rejects feedback for categories no evaluator covers.
	KnownCategory func(id string) bool
	Logger        *zap.Logger
}

type Tracker struct {
	ledger    FeedbackLedger
	sink      SignalSink
	threshold int
	known     func(string) bool
	logger    *zap.Logger

	mu       sync.RWMutex
	stats    map[string]*CategoryStats
	examples map[string][]TrainingExample
	signals  int
}

func NewTracker(l FeedbackLedger, opts Options) *Tracker {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultRetrainThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("improvement")
	}
	return &Tracker{
		ledger:    l,
		sink:      opts.Sink,
		threshold: opts.Threshold,
		known:     opts.KnownCategory,
		logger:    opts.Logger,
		stats:     make(map[string]*CategoryStats),
		examples:  make(map[string][]TrainingExample),
	}
}

// RecordFeedback ledgers one piece of feedback, then updates the category's
// running stats. A signal is emitted each time the category's total reaches
// a multiple of the threshold.
func (t *Tracker) RecordFeedback(ctx context.Context, subjectID, categoryID string, kind ledger.FeedbackKind, actorID string, correction *Correction) (*FeedbackResult, error) {
	subjectID = strings.TrimSpace(subjectID)
	categoryID = strings.TrimSpace(categoryID)
	actorID = strings.TrimSpace(actorID)
	switch {
	case subjectID == "":
		return nil, fmt.Errorf("%w: verification id is required", council.ErrInvalidInput)
	case categoryID == "":
		return nil, fmt.Errorf("%w: category id is required", council.ErrInvalidInput)
	case actorID == "":
		return nil, fmt.Errorf("%w: user id is required", council.ErrInvalidInput)
	case !kind.Valid():
		return nil, fmt.Errorf("%w: unknown feedback type %q", council.ErrInvalidInput, kind)
	}
	if t.known != nil && !t.known(categoryID) {
		return nil, fmt.Errorf("%w: %s", council.ErrUnknownCategory, categoryID)
	}

	rec := ledger.FeedbackRecord{
		SubjectID:  subjectID,
		CategoryID: categoryID,
		Kind:       kind,
		ActorID:    actorID,
	}
	if correction != nil {
		if correction.Verdict != nil && !correction.Verdict.Valid() {
			return nil, fmt.Errorf("%w: unknown corrected vote %q", council.ErrInvalidInput, *correction.Verdict)
		}
		rec.CorrectedVerdict = correction.Verdict
		rec.CorrectedRiskScore = correction.RiskScore
		rec.Notes = correction.Notes
	}

	entry, err := t.ledger.AppendFeedback(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to record feedback: %w", err)
	}
	sealed := *entry.Payload.Feedback

	t.mu.Lock()
	stats := t.apply(sealed, entry.Index)
	var signal *RetrainingSignal
	if stats.TotalFeedback%t.threshold == 0 {
		signal = &RetrainingSignal{
			CategoryID:     categoryID,
			ExampleCount:   stats.TotalFeedback,
			CorrectedCount: stats.CorrectedExamples,
			Timestamp:      sealed.Timestamp,
		}
		t.signals++
	}
	t.mu.Unlock()

	metrics.FeedbackTotal.WithLabelValues(categoryID, string(kind)).Inc()
	metrics.CategoryAccuracy.WithLabelValues(categoryID).Set(stats.Accuracy)

	t.logger.Info("Feedback recorded",
		zap.String("subject_id", subjectID),
		zap.String("category", categoryID),
		zap.String("kind", string(kind)),
		zap.Int64("entry_index", entry.Index),
		zap.Int("total_feedback", stats.TotalFeedback),
		zap.Float64("accuracy", stats.Accuracy))

	if signal != nil {
		t.emit(ctx, *signal)
	}

	return &FeedbackResult{
		Record:     sealed,
		EntryIndex: entry.Index,
		EntryHash:  entry.Hash,
		Stats:      stats,
		Signal:     signal,
	}, nil
}

// emit never fails the feedback call; the feedback is already ledgered.
func (t *Tracker) emit(ctx context.Context, signal RetrainingSignal) {
	metrics.RetrainingSignals.WithLabelValues(signal.CategoryID).Inc()
	t.logger.Info("Retraining threshold reached",
		zap.String("category", signal.CategoryID),
		zap.Int("example_count", signal.ExampleCount),
		zap.Int("corrected_count", signal.CorrectedCount))

	if t.sink == nil {
		return
	}
	if err := t.sink.Publish(ctx, signal); err != nil {
		t.logger.Error("Failed to publish retraining signal",
			zap.String("category", signal.CategoryID),
			zap.Error(err))
	}
}

// apply folds one sealed record into the stats. Callers hold t.mu.
func (t *Tracker) apply(rec ledger.FeedbackRecord, entryIndex int64) CategoryStats {
	s, ok := t.stats[rec.CategoryID]
	if !ok {
		s = &CategoryStats{CategoryID: rec.CategoryID}
		t.stats[rec.CategoryID] = s
	}

	s.TotalFeedback++
	switch rec.Kind {
	case ledger.FeedbackCorrect:
		s.Correct++
	case ledger.FeedbackIncorrect:
		s.Incorrect++
	case ledger.FeedbackFalsePositive:
		s.FalsePositives++
	case ledger.FeedbackFalseNegative:
		s.FalseNegatives++
	case ledger.FeedbackSeverityTooHigh:
		s.SeverityTooHigh++
	case ledger.FeedbackSeverityTooLow:
		s.SeverityTooLow++
	}
	total := float64(s.TotalFeedback)
	s.Accuracy = float64(s.Correct) / total
	s.FalsePositiveRate = float64(s.FalsePositives) / total
	s.FalseNegativeRate = float64(s.FalseNegatives) / total
	if rec.Timestamp.After(s.LastFeedbackAt) {
		s.LastFeedbackAt = rec.Timestamp
	}

	if rec.CorrectedVerdict != nil {
		s.CorrectedExamples++
		t.examples[rec.CategoryID] = append(t.examples[rec.CategoryID], TrainingExample{
			FeedbackID:         rec.FeedbackID,
			SubjectID:          rec.SubjectID,
			CategoryID:         rec.CategoryID,
			Kind:               rec.Kind,
			CorrectedVerdict:   *rec.CorrectedVerdict,
			CorrectedRiskScore: rec.CorrectedRiskScore,
			Notes:              rec.Notes,
			EntryIndex:         entryIndex,
		})
	}
	return *s
}

// Replay rebuilds the stats from sealed ledger entries without emitting
// signals. It replaces whatever the tracker held before.
func (t *Tracker) Replay(entries []ledger.Entry) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats = make(map[string]*CategoryStats)
	t.examples = make(map[string][]TrainingExample)
	n := 0
	for _, e := range entries {
		if e.Payload.Kind != ledger.KindFeedback || e.Payload.Feedback == nil {
			continue
		}
		t.apply(*e.Payload.Feedback, e.Index)
		n++
	}
	for id, s := range t.stats {
		metrics.CategoryAccuracy.WithLabelValues(id).Set(s.Accuracy)
	}
	return n
}

func (t *Tracker) Stats(categoryID string) CategoryStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.stats[categoryID]; ok {
		return *s
	}
	return CategoryStats{CategoryID: categoryID}
}

// TrainingExamples returns the most recent corrected examples, oldest first.
func (t *Tracker) TrainingExamples(categoryID string, limit int) []TrainingExample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	all := t.examples[categoryID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]TrainingExample(nil), all...)
}

func (t *Tracker) Report() Report {
	t.mu.RLock()
	defer t.mu.RUnlock()

	report := Report{
		GeneratedAt:    time.Now().UTC(),
		Categories:     make([]CategoryStats, 0, len(t.stats)),
		SignalsEmitted: t.signals,
		Threshold:      t.threshold,
	}
	for _, s := range t.stats {
		report.Categories = append(report.Categories, *s)
	}
	sort.Slice(report.Categories, func(i, j int) bool {
		return report.Categories[i].CategoryID < report.Categories[j].CategoryID
	})

	var accuracySum float64
	for _, s := range report.Categories {
		report.TotalFeedback += s.TotalFeedback
		accuracySum += s.Accuracy
	}
	if len(report.Categories) > 0 {
		report.OverallAccuracy = accuracySum / float64(len(report.Categories))
	}
	return report
}
