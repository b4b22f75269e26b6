package council

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/council-ai/backend/internal/metrics"
	"github.com/council-ai/backend/pkg/logger"
	"github.com/council-ai/backend/pkg/utils"
)

const (
	DefaultWidth   = 8
	DefaultTimeout = 30 * time.Second
)

type Options struct {
	Width   int
	Timeout time.Duration
	Logger  *zap.Logger
}

type Request struct {
	SubjectID  string
	Content    string
	Context    map[string]any
	Categories []string
}

type Aggregator struct {
	registry *Registry
	width    int
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewAggregator(registry *Registry, opts Options) *Aggregator {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("council")
	}
	return &Aggregator{
		registry: registry,
		width:    opts.Width,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

func (a *Aggregator) Registry() *Registry {
	return a.registry
}

// Resolve validates a category selection and returns it deduplicated and
// sorted. An empty selection means every registered category.
func (a *Aggregator) Resolve(categories []string) ([]string, error) {
	if len(categories) == 0 {
		ids := a.registry.IDs()
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: no evaluators registered", ErrInvalidInput)
		}
		return ids, nil
	}

	seen := make(map[string]struct{}, len(categories))
	ids := make([]string, 0, len(categories))
	for _, raw := range categories {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, fmt.Errorf("%w: empty category id", ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		if !a.registry.Has(id) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, id)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *Aggregator) Evaluate(ctx context.Context, req Request) (*Verdict, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content is empty", ErrInvalidInput)
	}
	ids, err := a.Resolve(req.Categories)
	if err != nil {
		return nil, err
	}

	subjectID := req.SubjectID
	if subjectID == "" {
		subjectID = NewSubjectID()
	}

	start := a.now()
	votes := make([]Vote, len(ids))

	var g errgroup.Group
	g.SetLimit(a.width)
	for i, id := range ids {
		i, id := i, id
		evaluator, _ := a.registry.Get(id)
		g.Go(func() error {
			votes[i] = a.invoke(ctx, evaluator, req.Content, copyContext(req.Context))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		metrics.EvaluationsTotal.WithLabelValues("cancelled").Inc()
		return nil, err
	}

	byCategory := make(map[string]Vote, len(votes))
	for _, v := range votes {
		byCategory[v.CategoryID] = v
	}
	res := Aggregate(byCategory)
	elapsed := a.now().Sub(start)

	verdict := &Verdict{
		SubjectID:   subjectID,
		ContentHash: utils.ContentHash(req.Content),
		Decision:    res.Decision,
		Confidence:  res.Confidence,
		RiskScore:   res.RiskScore,
		Votes:       byCategory,
		Counts:      res.Counts,
		Summary:     res.Summary,
		CreatedAt:   start.UTC(),
		Duration:    elapsed,
	}

	metrics.EvaluationsTotal.WithLabelValues("success").Inc()
	metrics.EvaluationDuration.WithLabelValues(string(res.Decision)).Observe(elapsed.Seconds())
	metrics.VerdictConfidence.Observe(res.Confidence)

	a.logger.Info("Council evaluation completed",
		zap.String("subject_id", subjectID),
		zap.String("decision", string(res.Decision)),
		zap.Float64("risk_score", res.RiskScore),
		zap.Float64("confidence", res.Confidence),
		zap.Int("categories", len(ids)),
		zap.Int("fallbacks", len(verdict.FallbackCategories())),
		zap.Duration("duration", elapsed))

	return verdict, nil
}

type outcome struct {
	vote Vote
	err  error
}

// invoke runs one evaluator under the per-task deadline. The call happens on
// its own goroutine so a judge that ignores ctx cannot stall the fan-in.
func (a *Aggregator) invoke(ctx context.Context, e Evaluator, content string, evalCtx map[string]any) Vote {
	category := e.Category()
	tctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: panic: %v", ErrEvaluatorFailure, r)}
			}
		}()
		v, err := e.Evaluate(tctx, content, evalCtx)
		done <- outcome{vote: v, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-tctx.Done():
		out.err = tctx.Err()
	}
	elapsed := time.Since(start)
	metrics.EvaluatorDuration.WithLabelValues(category.ID).Observe(elapsed.Seconds())

	if out.err == nil {
		out.err = checkVote(out.vote)
	}
	if out.err != nil {
		cause, reason := classify(out.err)
		metrics.EvaluatorFailures.WithLabelValues(category.ID, reason).Inc()
		a.logger.Warn("Evaluator failed, substituting fallback vote",
			zap.String("category", category.ID),
			zap.String("reason", reason),
			zap.Error(out.err))
		return FallbackVote(category, cause, elapsed)
	}

	v := out.vote
	v.CategoryID = category.ID
	if v.CategoryName == "" {
		v.CategoryName = category.Name
	}
	v.Confidence = clamp(v.Confidence, 0, 1)
	v.RiskScore = clamp(v.RiskScore, 0, 100)
	v.Duration = elapsed
	v.Fallback = false
	return v
}

func classify(err error) (error, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrEvaluatorTimeout):
		return ErrEvaluatorTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return err, "cancelled"
	case errors.Is(err, ErrEvaluatorFailure):
		return err, "failure"
	default:
		return fmt.Errorf("%w: %v", ErrEvaluatorFailure, err), "failure"
	}
}

func checkVote(v Vote) error {
	if !v.Decision.Valid() {
		return fmt.Errorf("%w: invalid decision %q", ErrEvaluatorFailure, v.Decision)
	}
	if math.IsNaN(v.Confidence) || math.IsNaN(v.RiskScore) {
		return fmt.Errorf("%w: vote has NaN score", ErrEvaluatorFailure)
	}
	return nil
}

// FallbackVote is the vote recorded for a judge that failed or timed out.
func FallbackVote(category Category, cause error, elapsed time.Duration) Vote {
	return Vote{
		CategoryID:   category.ID,
		CategoryName: category.Name,
		Decision:     Warning,
		Confidence:   0.0,
		RiskScore:    noEvidenceRiskScore,
		Rationale:    "evaluation failed: " + cause.Error(),
		Findings:     []Finding{},
		Duration:     elapsed,
		Fallback:     true,
	}
}

func NewSubjectID() string {
	return "ver_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func copyContext(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
