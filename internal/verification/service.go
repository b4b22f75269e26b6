package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/council-ai/backend/internal/council"
	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/internal/metrics"
	"github.com/council-ai/backend/pkg/logger"
	"github.com/council-ai/backend/pkg/utils"
)

// VerdictCache is an optional lookaside cache keyed by content, category set
// and evaluation context.
type VerdictCache interface {
	GetVerdict(ctx context.Context, key string) (*council.Verdict, error)
	SetVerdict(ctx context.Context, key string, v *council.Verdict) error
}

// DecisionCounter is implemented by caches that also keep served-decision tallies.
type DecisionCounter interface {
	IncrementDecision(ctx context.Context, d council.Decision) error
}

type PendingLedger interface {
	AppendPending(s ledger.VerdictSummary) (ledger.PendingRecord, error)
}

type Trigger interface {
	Trigger()
}

type Request struct {
	SubjectID  string
	ActorID    string
	Content    string
	Categories []string
	Context    map[string]any
	Metadata   map[string]string
}

type Result struct {
	Verdict *council.Verdict      `json:"verdict"`
	Pending ledger.PendingRecord `json:"pending"`
	Cached  bool                  `json:"cached"`
}

type Service struct {
	aggregator *council.Aggregator
	ledger     PendingLedger
	miner      Trigger
	cache      VerdictCache
	logger     *zap.Logger
}

func NewService(aggregator *council.Aggregator, l PendingLedger, miner Trigger, cache VerdictCache) *Service {
	return &Service{
		aggregator: aggregator,
		ledger:     l,
		miner:      miner,
		cache:      cache,
		logger:     logger.Named("verification"),
	}
}

// Verify runs the council on content, queues the verdict summary for the
// ledger and asks the miner to seal it in the background.
func (s *Service) Verify(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content is empty", council.ErrInvalidInput)
	}
	categories, err := s.aggregator.Resolve(req.Categories)
	if err != nil {
		return nil, err
	}

	key, keyed := cacheKey(utils.ContentHash(req.Content), categories, req.Context)
	var verdict *council.Verdict
	cached := false
	if keyed {
		verdict, cached = s.lookup(ctx, key)
	}
	if cached {
		verdict.SubjectID = req.SubjectID
		if verdict.SubjectID == "" {
			verdict.SubjectID = council.NewSubjectID()
		}
		verdict.CreatedAt = time.Now().UTC()
	} else {
		verdict, err = s.aggregator.Evaluate(ctx, council.Request{
			SubjectID:  req.SubjectID,
			Content:    req.Content,
			Context:    req.Context,
			Categories: categories,
		})
		if err != nil {
			return nil, err
		}
		if keyed {
			s.store(ctx, key, verdict)
		}
	}

	pending, err := s.ledger.AppendPending(ledger.SummarizeVerdict(verdict, req.ActorID, req.Metadata))
	if err != nil {
		return nil, fmt.Errorf("failed to queue verdict for ledger: %w", err)
	}
	if s.miner != nil {
		s.miner.Trigger()
	}
	if counter, ok := s.cache.(DecisionCounter); ok {
		if err := counter.IncrementDecision(ctx, verdict.Decision); err != nil {
			s.logger.Warn("Decision counter update failed", zap.Error(err))
		}
	}

	s.logger.Info("Verification recorded",
		zap.String("subject_id", verdict.SubjectID),
		zap.String("decision", string(verdict.Decision)),
		zap.Bool("cached", cached),
		zap.Int("pending_position", pending.Position))

	return &Result{Verdict: verdict, Pending: pending, Cached: cached}, nil
}

func (s *Service) Categories() []council.Category {
	return s.aggregator.Registry().Categories()
}

func (s *Service) HasCategory(id string) bool {
	return s.aggregator.Registry().Has(id)
}

func (s *Service) lookup(ctx context.Context, key string) (*council.Verdict, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, err := s.cache.GetVerdict(ctx, key)
	if err != nil {
		s.logger.Warn("Verdict cache read failed", zap.Error(err))
		metrics.CacheMisses.WithLabelValues("verdict").Inc()
		return nil, false
	}
	if v == nil {
		metrics.CacheMisses.WithLabelValues("verdict").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("verdict").Inc()
	return v, true
}

// store skips verdicts carrying fallback votes so a judge that failed once
// is asked again on the next request.
func (s *Service) store(ctx context.Context, key string, v *council.Verdict) {
	if s.cache == nil {
		return
	}
	if fallbacks := v.FallbackCategories(); len(fallbacks) > 0 {
		s.logger.Debug("Degraded verdict not cached", zap.Strings("fallback", fallbacks))
		return
	}
	if err := s.cache.SetVerdict(ctx, key, v); err != nil {
		s.logger.Warn("Verdict cache write failed", zap.Error(err))
	}
}

// cacheKey reports false when the evaluation context cannot be encoded; such
// requests bypass the cache. encoding/json writes map keys sorted, so equal
// contexts give equal keys.
func cacheKey(contentHash string, categories []string, evalCtx map[string]any) (string, bool) {
	contextDigest := "none"
	if len(evalCtx) > 0 {
		raw, err := json.Marshal(evalCtx)
		if err != nil {
			return "", false
		}
		contextDigest = utils.ContentHash(string(raw))[:16]
	}
	return "verdict:" + contentHash + ":" + utils.ContentHash(utils.SetKey(categories))[:16] + ":" + contextDigest, true
}
