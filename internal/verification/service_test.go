package verification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-ai/backend/internal/council"
	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/internal/ledger/index"
)

type countingTrigger struct {
	mu    sync.Mutex
	count int
}

func (c *countingTrigger) Trigger() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

type memoryCache struct {
	mu        sync.Mutex
	entries   map[string]council.Verdict
	decisions map[council.Decision]int
}

func (m *memoryCache) IncrementDecision(_ context.Context, d council.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decisions == nil {
		m.decisions = map[council.Decision]int{}
	}
	m.decisions[d]++
	return nil
}

func (m *memoryCache) GetVerdict(_ context.Context, key string) (*council.Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *memoryCache) SetVerdict(_ context.Context, key string, v *council.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = *v
	return nil
}

func judge(id string, d council.Decision, confidence, risk float64) council.Evaluator {
	return council.NewFuncEvaluator(council.Category{ID: id, Name: id}, func(context.Context, string, map[string]any) (council.Vote, error) {
		return council.Vote{Decision: d, Confidence: confidence, RiskScore: risk}, nil
	})
}

func setup(t *testing.T, cache VerdictCache, evaluators ...council.Evaluator) (*Service, *ledger.Ledger, *countingTrigger) {
	t.Helper()
	reg := council.NewRegistry()
	reg.MustRegister(evaluators...)
	agg := council.NewAggregator(reg, council.Options{Timeout: 50 * time.Millisecond})

	l, err := ledger.New(ledger.Options{Difficulty: 2})
	require.NoError(t, err)
	trigger := &countingTrigger{}
	return NewService(agg, l, trigger, cache), l, trigger
}

func TestVerifyEndToEnd(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := council.NewFuncEvaluator(council.Category{ID: "C", Name: "C"}, func(context.Context, string, map[string]any) (council.Vote, error) {
		<-release
		return council.Vote{Decision: council.Pass, Confidence: 1}, nil
	})

	svc, l, trigger := setup(t, nil,
		judge("A", council.Fail, 0.9, 90),
		judge("B", council.Pass, 0.8, 20),
		slow,
	)
	idx := index.New(l)
	l.Subscribe(idx.Apply)

	res, err := svc.Verify(context.Background(), Request{
		SubjectID: "req-1",
		ActorID:   "alice",
		Content:   "Buy now, the cure is guaranteed.",
	})
	require.NoError(t, err)

	v := res.Verdict
	assert.Equal(t, council.Fail, v.Votes["A"].Decision)
	assert.Equal(t, council.Pass, v.Votes["B"].Decision)
	assert.True(t, v.Votes["C"].Fallback)
	assert.Equal(t, council.Warning, v.Votes["C"].Decision)
	assert.Equal(t, 1, v.Counts.Fail)
	assert.Equal(t, 3, v.Counts.Total())
	assert.Equal(t, council.Fail, v.Decision)
	assert.Equal(t, 1, trigger.count)
	assert.Equal(t, 1, l.PendingCount())

	entry, err := l.Seal(context.Background())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, l.IsValid())

	summary, ok := idx.Latest("req-1")
	require.True(t, ok)
	assert.Equal(t, council.Fail, summary.Decision)
	assert.Equal(t, []string{"A", "B", "C"}, summary.CategoriesTested)
	assert.Equal(t, v.ContentHash, summary.ContentHash)
	assert.Len(t, idx.ByActor("alice"), 1)
}

func TestVerifyRejectsBadRequests(t *testing.T) {
	svc, l, trigger := setup(t, nil, judge("A", council.Pass, 0.9, 10))

	_, err := svc.Verify(context.Background(), Request{Content: " "})
	assert.ErrorIs(t, err, council.ErrInvalidInput)
	_, err = svc.Verify(context.Background(), Request{Content: "x", Categories: []string{"Z"}})
	assert.ErrorIs(t, err, council.ErrUnknownCategory)

	assert.Equal(t, 0, l.PendingCount())
	assert.Equal(t, 0, trigger.count)
}

func TestVerifyUsesCacheForSameContentAndCategories(t *testing.T) {
	calls := 0
	counting := council.NewFuncEvaluator(council.Category{ID: "A", Name: "A"}, func(context.Context, string, map[string]any) (council.Vote, error) {
		calls++
		return council.Vote{Decision: council.Pass, Confidence: 0.9, RiskScore: 10}, nil
	})
	cache := &memoryCache{entries: map[string]council.Verdict{}}
	svc, l, _ := setup(t, cache, counting, judge("B", council.Pass, 0.9, 10))

	first, err := svc.Verify(context.Background(), Request{Content: "hello", Categories: []string{"A"}})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Verify(context.Background(), Request{SubjectID: "again", Content: "hello", Categories: []string{"A"}})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "again", second.Verdict.SubjectID)
	assert.Equal(t, first.Verdict.Decision, second.Verdict.Decision)
	assert.Equal(t, 1, calls)

	_, err = svc.Verify(context.Background(), Request{Content: "hello", Categories: []string{"A", "B"}})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	assert.Equal(t, 3, l.PendingCount())
	assert.Equal(t, 3, cache.decisions[council.Pass])
}

func TestCachedVerdictsAreScopedToEvaluationContext(t *testing.T) {
	var calls atomic.Int32
	audience := council.NewFuncEvaluator(council.Category{ID: "A", Name: "A"}, func(_ context.Context, _ string, evalCtx map[string]any) (council.Vote, error) {
		calls.Add(1)
		if evalCtx["audience"] == "children" {
			return council.Vote{Decision: council.Fail, Confidence: 0.9, RiskScore: 85}, nil
		}
		return council.Vote{Decision: council.Pass, Confidence: 0.9, RiskScore: 10}, nil
	})
	cache := &memoryCache{entries: map[string]council.Verdict{}}
	svc, _, _ := setup(t, cache, audience)

	verify := func(aud string) *Result {
		res, err := svc.Verify(context.Background(), Request{
			Content: "story",
			Context: map[string]any{"audience": aud, "locale": "en"},
		})
		require.NoError(t, err)
		return res
	}

	adults := verify("adults")
	assert.Equal(t, council.Pass, adults.Verdict.Decision)

	children := verify("children")
	assert.False(t, children.Cached)
	assert.Equal(t, council.Fail, children.Verdict.Decision)

	again := verify("adults")
	assert.True(t, again.Cached)
	assert.Equal(t, council.Pass, again.Verdict.Decision)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDegradedVerdictIsNotCached(t *testing.T) {
	var calls atomic.Int32
	flaky := council.NewFuncEvaluator(council.Category{ID: "A", Name: "A"}, func(context.Context, string, map[string]any) (council.Vote, error) {
		if calls.Add(1) == 1 {
			return council.Vote{}, errors.New("model endpoint unavailable")
		}
		return council.Vote{Decision: council.Pass, Confidence: 0.9, RiskScore: 10}, nil
	})
	cache := &memoryCache{entries: map[string]council.Verdict{}}
	svc, _, _ := setup(t, cache, flaky)

	first, err := svc.Verify(context.Background(), Request{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, council.Warning, first.Verdict.Decision)
	assert.Equal(t, []string{"A"}, first.Verdict.FallbackCategories())
	assert.Empty(t, cache.entries)

	second, err := svc.Verify(context.Background(), Request{Content: "hello"})
	require.NoError(t, err)
	assert.False(t, second.Cached)
	assert.Equal(t, council.Pass, second.Verdict.Decision)
	assert.Empty(t, second.Verdict.FallbackCategories())

	third, err := svc.Verify(context.Background(), Request{Content: "hello"})
	require.NoError(t, err)
	assert.True(t, third.Cached)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUnencodableContextBypassesCache(t *testing.T) {
	cache := &memoryCache{entries: map[string]council.Verdict{}}
	svc, _, _ := setup(t, cache, judge("A", council.Pass, 0.9, 10))

	req := Request{Content: "hello", Context: map[string]any{"callback": func() {}}}
	for i := 0; i < 2; i++ {
		res, err := svc.Verify(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, res.Cached)
	}
	assert.Empty(t, cache.entries)
}

func TestCacheKeyIgnoresContextKeyOrder(t *testing.T) {
	a, ok := cacheKey("h", []string{"B", "A"}, map[string]any{"x": 1, "y": "z"})
	require.True(t, ok)
	b, ok := cacheKey("h", []string{"A", "B"}, map[string]any{"y": "z", "x": 1})
	require.True(t, ok)
	assert.Equal(t, a, b)

	bare, ok := cacheKey("h", []string{"A", "B"}, nil)
	require.True(t, ok)
	assert.NotEqual(t, a, bare)
}
