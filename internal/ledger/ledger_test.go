package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-ai/backend/internal/council"
	"github.com/council-ai/backend/pkg/utils"
)

func summary(subject string) VerdictSummary {
	return VerdictSummary{
		SubjectID:        subject,
		ContentHash:      utils.ContentHash("content for " + subject),
		ActorID:          "user-1",
		Decision:         council.Warning,
		RiskScore:        42.5,
		Confidence:       0.7,
		CategoriesTested: []string{"TC260-01", "TC260-02"},
		Counts:           council.VoteCounts{Warning: 1, Pass: 1},
		Metadata:         map[string]string{"source": "test"},
	}
}

func feedback(subject string, kind FeedbackKind) FeedbackRecord {
	return FeedbackRecord{
		SubjectID:  subject,
		CategoryID: "TC260-01",
		Kind:       kind,
		ActorID:    "reviewer-1",
	}
}

func newLedger(t *testing.T, difficulty int) *Ledger {
	t.Helper()
	l, err := New(Options{Difficulty: difficulty})
	require.NoError(t, err)
	return l
}

func sealN(t *testing.T, l *Ledger, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := l.AppendPending(summary(fmt.Sprintf("subj-%d", i)))
		require.NoError(t, err)
		entry, err := l.Seal(context.Background())
		require.NoError(t, err)
		require.NotNil(t, entry)
	}
}

func TestNewLedgerMinesGenesis(t *testing.T) {
	l := newLedger(t, 2)

	entries := l.ExportAll()
	require.Len(t, entries, 1)
	g := entries[0]
	assert.Equal(t, int64(0), g.Index)
	assert.Equal(t, GenesisPreviousHash, g.PreviousHash)
	assert.Equal(t, KindGenesis, g.Payload.Kind)
	assert.True(t, MeetsDifficulty(g.Hash, 2))
	assert.True(t, l.IsValid())
}

func TestSealWithNothingPendingIsNoop(t *testing.T) {
	l := newLedger(t, 1)
	entry, err := l.Seal(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, 1, l.Height())
}

func TestSealBatchesPendingSummaries(t *testing.T) {
	l := newLedger(t, 2)
	for _, s := range []string{"a", "b", "c"} {
		rec, err := l.AppendPending(summary(s))
		require.NoError(t, err)
		assert.Equal(t, s, rec.SubjectID)
	}
	assert.Equal(t, 3, l.PendingCount())

	entry, err := l.Seal(context.Background())
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, int64(1), entry.Index)
	assert.Equal(t, KindVerifications, entry.Payload.Kind)
	assert.Len(t, entry.Payload.Verifications, 3)
	assert.Equal(t, l.ExportAll()[0].Hash, entry.PreviousHash)
	assert.Equal(t, 0, l.PendingCount())
	assert.True(t, l.IsValid())
}

func TestAppendPendingRejectsMalformedSummary(t *testing.T) {
	l := newLedger(t, 1)

	bad := summary("x")
	bad.ContentHash = "not-a-digest"
	_, err := l.AppendPending(bad)
	assert.ErrorIs(t, err, ErrMalformedRecord)

	bad = summary("")
	_, err = l.AppendPending(bad)
	assert.ErrorIs(t, err, ErrMalformedRecord)

	bad = summary("x")
	bad.RiskScore = 140
	_, err = l.AppendPending(bad)
	assert.ErrorIs(t, err, ErrMalformedRecord)

	assert.Equal(t, 0, l.PendingCount())
}

func TestAppendFeedbackSealsImmediately(t *testing.T) {
	l := newLedger(t, 2)
	corrected := council.Fail
	rec := feedback("subj-1", FeedbackFalseNegative)
	rec.CorrectedVerdict = &corrected

	entry, err := l.AppendFeedback(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Index)
	require.NotNil(t, entry.Payload.Feedback)
	assert.NotEmpty(t, entry.Payload.Feedback.FeedbackID)
	assert.Equal(t, council.Fail, *entry.Payload.Feedback.CorrectedVerdict)
	assert.True(t, l.IsValid())

	_, err = l.AppendFeedback(context.Background(), feedback("subj-1", "MAYBE"))
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestEverySealedEntryMeetsDifficulty(t *testing.T) {
	l := newLedger(t, 3)
	sealN(t, l, 3)
	_, err := l.AppendFeedback(context.Background(), feedback("subj-0", FeedbackCorrect))
	require.NoError(t, err)

	for _, e := range l.ExportAll() {
		assert.True(t, MeetsDifficulty(e.Hash, 3), "entry %d hash %s", e.Index, e.Hash)
	}
}

func TestValidationDetectsTampering(t *testing.T) {
	l := newLedger(t, 2)
	sealN(t, l, 4)
	require.True(t, l.IsValid())

	tests := []struct {
		name   string
		tamper func(entries []Entry)
	}{
		{"payload field", func(e []Entry) { e[2].Payload.Verifications[0].RiskScore = 1 }},
		{"payload subject", func(e []Entry) { e[3].Payload.Verifications[0].SubjectID = "subj-X" }},
		{"stored hash", func(e []Entry) {
			b := []byte(e[1].Hash)
			b[len(b)-1] ^= 1
			e[1].Hash = string(b)
		}},
		{"previous hash", func(e []Entry) { e[4].PreviousHash = e[2].Hash }},
		{"swapped entries", func(e []Entry) { e[2], e[3] = e[3], e[2] }},
		{"timestamp", func(e []Entry) { e[1].Timestamp = e[1].Timestamp.Add(time.Second) }},
		{"genesis payload", func(e []Entry) { e[0].Payload.Genesis.Message = "rewritten" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := l.ExportAll()
			tt.tamper(entries)
			report := ValidateEntries(entries, l.Difficulty())
			assert.False(t, report.Valid)
			assert.NotEmpty(t, report.Reason)
		})
	}

	assert.True(t, l.IsValid(), "exported copies must not alias the chain")
}

func TestExportAllIsIdempotent(t *testing.T) {
	l := newLedger(t, 1)
	sealN(t, l, 2)

	first := l.ExportAll()
	second := l.ExportAll()
	assert.Equal(t, first, second)

	first[1].Payload.Verifications[0].Metadata["source"] = "mutated"
	assert.Equal(t, "test", l.ExportAll()[1].Payload.Verifications[0].Metadata["source"])
}

func TestSealAbortKeepsBatchPending(t *testing.T) {
	l := newLedger(t, 2)
	_, err := l.AppendPending(summary("a"))
	require.NoError(t, err)
	_, err = l.AppendPending(summary("b"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entry, err := l.Seal(ctx)
	assert.ErrorIs(t, err, ErrMiningAborted)
	assert.Nil(t, entry)
	assert.Equal(t, 2, l.PendingCount())
	assert.Equal(t, 1, l.Height())

	entry, err = l.Seal(context.Background())
	require.NoError(t, err)
	require.NotNil(t, entry)
	subjects := []string{entry.Payload.Verifications[0].SubjectID, entry.Payload.Verifications[1].SubjectID}
	assert.Equal(t, []string{"a", "b"}, subjects)
}

func TestSealReminesWhenTipAdvances(t *testing.T) {
	l := newLedger(t, 2)
	_, err := l.AppendPending(summary("a"))
	require.NoError(t, err)

	fired := false
	var feedbackErr error
	l.afterMine = func() {
		if fired {
			return
		}
		fired = true
		_, feedbackErr = l.AppendFeedback(context.Background(), feedback("a", FeedbackCorrect))
	}

	entry, err := l.Seal(context.Background())
	require.NoError(t, err)
	require.NoError(t, feedbackErr)

	entries := l.ExportAll()
	require.Len(t, entries, 3)
	assert.Equal(t, KindFeedback, entries[1].Payload.Kind)
	assert.Equal(t, int64(2), entry.Index)
	assert.Equal(t, entries[1].Hash, entry.PreviousHash)
	assert.True(t, l.IsValid())
}

func TestConcurrentWritersKeepChainValid(t *testing.T) {
	l := newLedger(t, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subject := fmt.Sprintf("subj-%d", i)
			_, err := l.AppendPending(summary(subject))
			assert.NoError(t, err)
			_, err = l.Seal(context.Background())
			assert.NoError(t, err)
			_, err = l.AppendFeedback(context.Background(), feedback(subject, FeedbackCorrect))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stats := l.Stats()
	assert.True(t, stats.Valid)
	assert.Equal(t, 8, stats.Verifications)
	assert.Equal(t, 8, stats.Feedback)
	assert.Equal(t, 0, stats.Pending)
}

func TestSubscribersSeeEntriesInOrder(t *testing.T) {
	l := newLedger(t, 1)
	var seen []int64
	var mu sync.Mutex
	l.Subscribe(func(e Entry) {
		mu.Lock()
		seen = append(seen, e.Index)
		mu.Unlock()
	})

	sealN(t, l, 3)
	_, err := l.AppendFeedback(context.Background(), feedback("subj-0", FeedbackIncorrect))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3, 4}, seen)
}

func TestLevelDBStoreReload(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenLevelDB(dir)
	require.NoError(t, err)
	l, err := New(Options{Difficulty: 2, Store: store})
	require.NoError(t, err)
	sealN(t, l, 2)
	_, err = l.AppendFeedback(context.Background(), feedback("subj-1", FeedbackFalsePositive))
	require.NoError(t, err)
	before := l.ExportAll()
	height, err := store.Height()
	require.NoError(t, err)
	assert.Equal(t, int64(4), height)
	require.NoError(t, store.Close())

	store, err = OpenLevelDB(dir)
	require.NoError(t, err)
	defer store.Close()

	// configured difficulty differs; the stored chain keeps its own
	reloaded, err := New(Options{Difficulty: 1, Store: store})
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Difficulty())

	after := reloaded.ExportAll()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Hash, after[i].Hash)
	}
	assert.True(t, reloaded.IsValid())

	sealN(t, reloaded, 1)
	assert.Equal(t, 5, reloaded.Height())
	assert.True(t, reloaded.IsValid())
}

func TestSealedChainsValidateAndDetectAnyPayloadChange(t *testing.T) {
	property := func(seed int64) bool {
		rng := rand.New(rand.NewSource(seed))
		l, err := New(Options{Difficulty: 1})
		if err != nil {
			return false
		}
		n := rng.Intn(4) + 1
		for i := 0; i < n; i++ {
			s := summary(fmt.Sprintf("s-%d-%d", seed, i))
			s.RiskScore = float64(rng.Intn(10001)) / 100
			s.Confidence = rng.Float64()
			if _, err := l.AppendPending(s); err != nil {
				return false
			}
			if rng.Intn(2) == 0 {
				if _, err := l.Seal(context.Background()); err != nil {
					return false
				}
			}
		}
		if _, err := l.Seal(context.Background()); err != nil {
			return false
		}
		if !l.IsValid() {
			return false
		}

		entries := l.ExportAll()
		target := 1 + rng.Intn(len(entries)-1)
		row := rng.Intn(len(entries[target].Payload.Verifications))
		entries[target].Payload.Verifications[row].Confidence += 0.001
		return !ValidateEntries(entries, 1).Valid
	}
	assert.NoError(t, quick.Check(property, &quick.Config{MaxCount: 50}))
}

func TestHashPreimageIsStable(t *testing.T) {
	e := Entry{
		Index:        7,
		Timestamp:    time.Date(2024, 1, 2, 3, 4, 5, 600, time.FixedZone("X", 3600)),
		Payload:      Payload{Kind: KindGenesis, Genesis: &GenesisRecord{Message: "<root> & co", Difficulty: 2}},
		PreviousHash: "abc",
		Nonce:        42,
	}
	body, err := e.preimage()
	require.NoError(t, err)
	assert.Equal(t,
		`{"index":7,"payload":{"genesis":{"difficulty":2,"message":"<root> & co"},"kind":"GENESIS"},"previous_hash":"abc","timestamp":"2024-01-02T02:04:05.0000006Z"}`,
		string(body))

	h1, err := e.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, hashWithNonce(body, 42), h1)
}

func TestRunningHooksDoNotBlockReaders(t *testing.T) {
	l := newLedger(t, 1)

	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	l.Subscribe(func(e Entry) {
		assert.GreaterOrEqual(t, l.Height(), int(e.Index)+1)
		entered <- struct{}{}
		<-release
	})

	errs := make(chan error, 2)
	for _, subject := range []string{"a", "b"} {
		go func(subject string) {
			_, err := l.AppendFeedback(context.Background(), feedback(subject, FeedbackCorrect))
			errs <- err
		}(subject)
	}
	<-entered

	read := make(chan Stats, 1)
	go func() { read <- l.Stats() }()
	select {
	case s := <-read:
		assert.GreaterOrEqual(t, s.TotalEntries, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("reader blocked behind a running hook")
	}

	close(release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, 3, l.Height())
	assert.True(t, l.IsValid())
}
