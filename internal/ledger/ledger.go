package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/council-ai/backend/internal/metrics"
	"github.com/council-ai/backend/pkg/logger"
)

const DefaultDifficulty = 2

type Options struct {
	Difficulty int
	// Store is optional; without one the chain lives in memory only.
	Store  Store
	Logger *zap.Logger
}

type Stats struct {
	TotalEntries  int       `json:"total_blocks"`
	Verifications int       `json:"total_verifications"`
	Feedback      int       `json:"total_feedback"`
	Pending       int       `json:"pending_verifications"`
	Valid         bool      `json:"chain_valid"`
	Difficulty    int       `json:"difficulty"`
	TipIndex      int64     `json:"latest_block_index"`
	TipHash       string    `json:"latest_block_hash"`
	GenesisTime   time.Time `json:"genesis_time"`
}

// Ledger is a single-writer, hash-linked log of sealed entries. Mining runs
// outside the write lock on a claimed batch; the lock is only held to link
// the mined entry onto the tip.
type Ledger struct {
	mu       sync.RWMutex
	chain    []Entry
	pending  []VerdictSummary
	inFlight int
	hooks    []func(Entry)

	// held from linking through hook delivery so hooks observe entries in
	// index order; always taken before mu
	notifyMu sync.Mutex

	difficulty int
	store      Store
	logger     *zap.Logger
	now        func() time.Time

	// afterMine runs between mining and linking; tests use it to move the tip.
	afterMine func()
}

func New(opts Options) (*Ledger, error) {
	if opts.Difficulty < 0 {
		return nil, fmt.Errorf("invalid difficulty %d", opts.Difficulty)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("ledger")
	}

	l := &Ledger{
		difficulty: opts.Difficulty,
		store:      opts.Store,
		logger:     opts.Logger,
		now:        time.Now,
	}

	if l.store != nil {
		entries, err := l.store.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load ledger: %w", err)
		}
		if len(entries) > 0 {
			l.restore(entries)
			return l, nil
		}
	}

	if err := l.createGenesis(); err != nil {
		return nil, err
	}
	return l, nil
}

// restore adopts a persisted chain. The difficulty recorded at genesis wins
// over the configured one, since every stored entry was mined against it.
func (l *Ledger) restore(entries []Entry) {
	if g := entries[0].Payload.Genesis; g != nil && g.Difficulty != l.difficulty {
		l.logger.Warn("Stored ledger difficulty differs from configuration, keeping stored value",
			zap.Int("stored", g.Difficulty),
			zap.Int("configured", l.difficulty))
		l.difficulty = g.Difficulty
	}
	l.chain = entries

	report := ValidateEntries(entries, l.difficulty)
	setChainValid(report.Valid)
	if !report.Valid {
		l.logger.Warn("Loaded ledger failed integrity check",
			zap.Int64("failed_index", report.FailedIndex),
			zap.String("reason", report.Reason))
	}
	l.logger.Info("Ledger loaded",
		zap.Int("entries", len(entries)),
		zap.Int("difficulty", l.difficulty))
}

func (l *Ledger) createGenesis() error {
	genesis := Entry{
		Index:     0,
		Timestamp: l.now().UTC(),
		Payload: Payload{
			Kind:    KindGenesis,
			Genesis: &GenesisRecord{Message: "Council verification ledger genesis", Difficulty: l.difficulty},
		},
		PreviousHash: GenesisPreviousHash,
	}
	if err := Mine(context.Background(), &genesis, l.difficulty); err != nil {
		return fmt.Errorf("failed to mine genesis entry: %w", err)
	}
	if l.store != nil {
		if err := l.store.Append(genesis); err != nil {
			return fmt.Errorf("failed to persist genesis entry: %w", err)
		}
	}
	l.chain = []Entry{genesis}
	setChainValid(true)
	metrics.LedgerEntries.WithLabelValues(string(KindGenesis)).Inc()

	l.logger.Info("Genesis entry created", zap.String("hash", genesis.Hash))
	return nil
}

// Subscribe registers fn to receive every entry linked after this call.
// Hooks run synchronously in index order with no ledger lock held. They may
// read the ledger but must not write to it.
func (l *Ledger) Subscribe(fn func(Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, fn)
}

func (l *Ledger) AppendPending(s VerdictSummary) (PendingRecord, error) {
	s = s.clone()
	if s.RecordedAt.IsZero() {
		s.RecordedAt = l.now()
	}
	s.RecordedAt = s.RecordedAt.UTC()
	if err := ValidateSummary(s); err != nil {
		return PendingRecord{}, err
	}

	l.mu.Lock()
	l.pending = append(l.pending, s)
	rec := PendingRecord{
		SubjectID: s.SubjectID,
		Position:  l.inFlight + len(l.pending),
		QueuedAt:  s.RecordedAt,
	}
	size := l.inFlight + len(l.pending)
	l.mu.Unlock()

	metrics.PendingSize.Set(float64(size))
	return rec, nil
}

// Seal mines every pending summary into one entry. It returns nil, nil when
// nothing is pending. If ctx ends first the batch goes back to the front of
// the pending queue and ErrMiningAborted is returned.
func (l *Ledger) Seal(ctx context.Context) (*Entry, error) {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return nil, nil
	}
	batch := l.pending
	l.pending = nil
	l.inFlight += len(batch)
	l.mu.Unlock()

	entry, err := l.commit(ctx, Payload{Kind: KindVerifications, Verifications: batch})

	l.mu.Lock()
	l.inFlight -= len(batch)
	if err != nil {
		restored := make([]VerdictSummary, 0, len(batch)+len(l.pending))
		restored = append(restored, batch...)
		l.pending = append(restored, l.pending...)
	}
	size := l.inFlight + len(l.pending)
	l.mu.Unlock()
	metrics.PendingSize.Set(float64(size))

	if err != nil {
		if errors.Is(err, ErrMiningAborted) {
			metrics.MiningAborts.Inc()
		}
		l.logger.Warn("Seal failed, batch kept pending", zap.Int("records", len(batch)), zap.Error(err))
		return nil, err
	}
	return &entry, nil
}

// AppendFeedback seals a single feedback record into its own entry.
func (l *Ledger) AppendFeedback(ctx context.Context, rec FeedbackRecord) (Entry, error) {
	rec = rec.clone()
	if rec.FeedbackID == "" {
		rec.FeedbackID = "fb_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if err := ValidateFeedback(rec); err != nil {
		return Entry{}, err
	}
	return l.commit(ctx, Payload{Kind: KindFeedback, Feedback: &rec})
}

// commit mines a draft against the current tip and links it. If another
// commit advanced the tip while mining, the draft is rebuilt and mined again.
func (l *Ledger) commit(ctx context.Context, payload Payload) (Entry, error) {
	for attempt := 1; ; attempt++ {
		l.mu.RLock()
		tip := l.chain[len(l.chain)-1]
		l.mu.RUnlock()

		draft := Entry{
			Index:        tip.Index + 1,
			Timestamp:    l.now().UTC(),
			Payload:      payload,
			PreviousHash: tip.Hash,
		}

		start := time.Now()
		if err := Mine(ctx, &draft, l.difficulty); err != nil {
			return Entry{}, err
		}
		metrics.MiningDuration.WithLabelValues(string(payload.Kind)).Observe(time.Since(start).Seconds())

		if l.afterMine != nil {
			l.afterMine()
		}

		// notifyMu before mu: the next committer waits for these hooks
		// without holding mu, so readers are never stalled behind them.
		l.notifyMu.Lock()
		l.mu.Lock()
		if l.chain[len(l.chain)-1].Hash != draft.PreviousHash {
			l.mu.Unlock()
			l.notifyMu.Unlock()
			l.logger.Debug("Chain tip advanced during mining, re-mining",
				zap.Int64("draft_index", draft.Index),
				zap.Int("attempt", attempt))
			continue
		}
		if l.store != nil {
			if err := l.store.Append(draft); err != nil {
				l.mu.Unlock()
				l.notifyMu.Unlock()
				return Entry{}, fmt.Errorf("failed to persist entry %d: %w", draft.Index, err)
			}
		}
		l.chain = append(l.chain, draft)
		hooks := l.hooks
		l.mu.Unlock()

		for _, h := range hooks {
			h(draft.Clone())
		}
		l.notifyMu.Unlock()

		metrics.LedgerEntries.WithLabelValues(string(payload.Kind)).Inc()
		l.logger.Info("Ledger entry sealed",
			zap.Int64("index", draft.Index),
			zap.String("kind", string(payload.Kind)),
			zap.String("hash", draft.Hash),
			zap.Uint64("nonce", draft.Nonce))
		return draft.Clone(), nil
	}
}

func (l *Ledger) snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[:len(l.chain):len(l.chain)]
}

// ExportAll returns deep copies of every sealed entry in index order.
func (l *Ledger) ExportAll() []Entry {
	chain := l.snapshot()
	out := make([]Entry, len(chain))
	for i, e := range chain {
		out[i] = e.Clone()
	}
	return out
}

func (l *Ledger) Entry(index int64) (Entry, error) {
	chain := l.snapshot()
	if index < 0 || index >= int64(len(chain)) {
		return Entry{}, fmt.Errorf("%w: %d", ErrEntryNotFound, index)
	}
	return chain[index].Clone(), nil
}

func (l *Ledger) Validate() ValidationReport {
	report := ValidateEntries(l.snapshot(), l.difficulty)
	setChainValid(report.Valid)
	if !report.Valid {
		l.logger.Error("Ledger integrity check failed",
			zap.Int64("failed_index", report.FailedIndex),
			zap.String("reason", report.Reason))
	}
	return report
}

func (l *Ledger) IsValid() bool {
	return l.Validate().Valid
}

func (l *Ledger) Difficulty() int {
	return l.difficulty
}

func (l *Ledger) Height() int {
	return len(l.snapshot())
}

func (l *Ledger) Tip() Entry {
	chain := l.snapshot()
	return chain[len(chain)-1].Clone()
}

func (l *Ledger) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inFlight + len(l.pending)
}

func (l *Ledger) Stats() Stats {
	chain := l.snapshot()
	stats := Stats{
		TotalEntries: len(chain),
		Pending:      l.PendingCount(),
		Difficulty:   l.difficulty,
		TipIndex:     chain[len(chain)-1].Index,
		TipHash:      chain[len(chain)-1].Hash,
		GenesisTime:  chain[0].Timestamp,
	}
	for _, e := range chain {
		switch e.Payload.Kind {
		case KindVerifications:
			stats.Verifications += len(e.Payload.Verifications)
		case KindFeedback:
			stats.Feedback++
		}
	}
	stats.Valid = ValidateEntries(chain, l.difficulty).Valid
	return stats
}

func setChainValid(valid bool) {
	if valid {
		metrics.ChainValid.Set(1)
		return
	}
	metrics.ChainValid.Set(0)
}
