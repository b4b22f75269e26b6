package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-ai/backend/internal/council"
	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/pkg/utils"
)

func summary(subject, actor string) ledger.VerdictSummary {
	return ledger.VerdictSummary{
		SubjectID:        subject,
		ContentHash:      utils.ContentHash(subject),
		ActorID:          actor,
		Decision:         council.Pass,
		RiskScore:        10,
		Confidence:       0.9,
		CategoriesTested: []string{"TC260-01"},
		Counts:           council.VoteCounts{Pass: 1},
	}
}

func seal(t *testing.T, l *ledger.Ledger, summaries ...ledger.VerdictSummary) {
	t.Helper()
	for _, s := range summaries {
		_, err := l.AppendPending(s)
		require.NoError(t, err)
	}
	_, err := l.Seal(context.Background())
	require.NoError(t, err)
}

func TestIndexFollowsLedgerIncrementally(t *testing.T) {
	l, err := ledger.New(ledger.Options{Difficulty: 1})
	require.NoError(t, err)
	idx := New(l)
	l.Subscribe(idx.Apply)

	seal(t, l, summary("s1", "alice"), summary("s2", "bob"))
	_, err = l.AppendFeedback(context.Background(), ledger.FeedbackRecord{
		SubjectID:  "s1",
		CategoryID: "TC260-01",
		Kind:       ledger.FeedbackIncorrect,
		ActorID:    "carol",
	})
	require.NoError(t, err)
	seal(t, l, summary("s1", "alice"))

	history := idx.HistoryFor("s1")
	require.Len(t, history, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{history[0].EntryIndex, history[1].EntryIndex, history[2].EntryIndex})
	assert.NotNil(t, history[0].Verification)
	assert.NotNil(t, history[1].Feedback)
	assert.Equal(t, ledger.KindFeedback, history[1].Kind)

	assert.Len(t, idx.ByActor("alice"), 2)
	assert.Len(t, idx.ByActor("carol"), 1)
	assert.Empty(t, idx.ByActor("nobody"))
	assert.Equal(t, int64(4), idx.Len())

	latest, ok := idx.Latest("s1")
	require.True(t, ok)
	assert.Equal(t, "alice", latest.ActorID)
}

func TestIndexRebuildsAfterMissedEntry(t *testing.T) {
	l, err := ledger.New(ledger.Options{Difficulty: 1})
	require.NoError(t, err)
	idx := New(l)

	// sealed without the subscription, so the index misses entry 1
	seal(t, l, summary("s1", "alice"))
	l.Subscribe(idx.Apply)
	seal(t, l, summary("s2", "alice"))

	assert.Len(t, idx.ByActor("alice"), 2)
	assert.Len(t, idx.HistoryFor("s1"), 1)
	assert.Equal(t, int64(3), idx.Len())
}

func TestIndexResultsAreCopies(t *testing.T) {
	l, err := ledger.New(ledger.Options{Difficulty: 1})
	require.NoError(t, err)
	seal(t, l, summary("s1", "alice"))
	idx := New(l)

	first := idx.HistoryFor("s1")
	first[0].EntryHash = "changed"
	assert.NotEqual(t, "changed", idx.HistoryFor("s1")[0].EntryHash)
}

type scriptedSource struct {
	entries  []ledger.Entry
	onExport func()
}

func (s *scriptedSource) ExportAll() []ledger.Entry {
	out := s.entries
	if f := s.onExport; f != nil {
		s.onExport = nil
		f()
	}
	return out
}

func TestRebuildKeepsEntryAppliedDuringSnapshot(t *testing.T) {
	l, err := ledger.New(ledger.Options{Difficulty: 1})
	require.NoError(t, err)
	seal(t, l, summary("s1", "alice"))
	seal(t, l, summary("s2", "alice"))
	seal(t, l, summary("s3", "alice"))
	all := l.ExportAll()
	require.Len(t, all, 4)

	src := &scriptedSource{entries: all[:2]}
	idx := New(src)
	idx.Apply(all[3])

	src.entries = all[:3]
	applied := make(chan struct{})
	src.onExport = func() {
		go func() {
			idx.Apply(all[3])
			close(applied)
		}()
	}
	idx.Rebuild()
	<-applied

	assert.Equal(t, int64(4), idx.Len())
	assert.Len(t, idx.HistoryFor("s3"), 1)
	assert.Len(t, idx.ByActor("alice"), 3)
}
