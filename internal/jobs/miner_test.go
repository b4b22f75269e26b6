package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-ai/backend/internal/council"
	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/pkg/utils"
)

func pending(t *testing.T, l *ledger.Ledger, subject string) {
	t.Helper()
	_, err := l.AppendPending(ledger.VerdictSummary{
		SubjectID:        subject,
		ContentHash:      utils.ContentHash(subject),
		Decision:         council.Pass,
		RiskScore:        5,
		Confidence:       0.9,
		CategoriesTested: []string{"TC260-01"},
		Counts:           council.VoteCounts{Pass: 1},
	})
	require.NoError(t, err)
}

func TestMinerSealsOnTrigger(t *testing.T) {
	l, err := ledger.New(ledger.Options{Difficulty: 1})
	require.NoError(t, err)
	m := NewMiner(l, MinerConfig{Interval: time.Hour})
	m.Start(context.Background())
	defer m.Stop()

	pending(t, l, "a")
	pending(t, l, "b")
	m.Trigger()
	m.Trigger()

	assert.Eventually(t, func() bool { return l.PendingCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, l.Stats().Verifications)
	assert.True(t, l.IsValid())
}

func TestMinerSweepsWithoutTrigger(t *testing.T) {
	l, err := ledger.New(ledger.Options{Difficulty: 1})
	require.NoError(t, err)
	m := NewMiner(l, MinerConfig{Interval: 20 * time.Millisecond})
	m.Start(context.Background())
	defer m.Stop()

	pending(t, l, "a")
	assert.Eventually(t, func() bool { return l.Height() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestMinerDrainsOnStop(t *testing.T) {
	l, err := ledger.New(ledger.Options{Difficulty: 1})
	require.NoError(t, err)
	m := NewMiner(l, MinerConfig{Interval: time.Hour})
	m.Start(context.Background())

	pending(t, l, "a")
	m.Stop()

	assert.Equal(t, 0, l.PendingCount())
	assert.Equal(t, 2, l.Height())
}

func TestStopWithoutStart(t *testing.T) {
	l, err := ledger.New(ledger.Options{Difficulty: 1})
	require.NoError(t, err)
	m := NewMiner(l, MinerConfig{})

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Start")
	}
}

type flakySealer struct {
	mu       sync.Mutex
	aborts   int
	attempts int
}

func (f *flakySealer) Seal(context.Context) (*ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.aborts {
		return nil, fmt.Errorf("attempt %d: %w", f.attempts, ledger.ErrMiningAborted)
	}
	return &ledger.Entry{Index: 1}, nil
}

func (f *flakySealer) PendingCount() int { return 1 }

func TestSealNowRetriesAbortedAttempts(t *testing.T) {
	s := &flakySealer{aborts: 2}
	m := NewMiner(s, MinerConfig{MaxAttempts: 3})
	m.retry.InitialDelay = time.Millisecond

	entry, err := m.SealNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Index)
	assert.Equal(t, 3, s.attempts)

	s = &flakySealer{aborts: 5}
	m = NewMiner(s, MinerConfig{MaxAttempts: 2})
	m.retry.InitialDelay = time.Millisecond
	_, err = m.SealNow(context.Background())
	assert.ErrorIs(t, err, ledger.ErrMiningAborted)
	assert.Equal(t, 2, s.attempts)
}
