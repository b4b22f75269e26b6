package index

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/pkg/logger"
)

// Source is the authoritative chain the index is derived from.
type Source interface {
	ExportAll() []ledger.Entry
}

type Record struct {
	EntryIndex   int64                  `json:"block_index"`
	EntryHash    string                 `json:"block_hash"`
	Timestamp    time.Time              `json:"timestamp"`
	Kind         ledger.Kind            `json:"kind"`
	Verification *ledger.VerdictSummary `json:"verification,omitempty"`
	Feedback     *ledger.FeedbackRecord `json:"feedback,omitempty"`
}

// Index groups ledger records by subject and actor. It is updated per
// sealed entry and falls back to a full rebuild when it misses one.
type Index struct {
	mu        sync.RWMutex
	source    Source
	bySubject map[string][]Record
	byActor   map[string][]Record
	next      int64
	stale     bool
	logger    *zap.Logger
}

func New(source Source) *Index {
	idx := &Index{
		source: source,
		logger: logger.Named("ledger-index"),
	}
	idx.Rebuild()
	return idx
}

// Rebuild re-derives the index from the source. The snapshot is taken under
// the index lock so an entry applied concurrently is either in the snapshot
// or applied right after it.
func (idx *Index) Rebuild() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entries := idx.source.ExportAll()
	idx.bySubject = make(map[string][]Record)
	idx.byActor = make(map[string][]Record)
	idx.next = 0
	for _, e := range entries {
		idx.add(e)
	}
	idx.stale = false
	idx.logger.Debug("Ledger index rebuilt", zap.Int("entries", len(entries)))
}

// Apply indexes one newly sealed entry. Suitable as a ledger subscriber.
func (idx *Index) Apply(e ledger.Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.stale {
		return
	}
	if e.Index < idx.next {
		return
	}
	if e.Index > idx.next {
		idx.logger.Warn("Ledger index missed entries, marking stale",
			zap.Int64("expected", idx.next),
			zap.Int64("got", e.Index))
		idx.stale = true
		return
	}
	idx.add(e)
}

func (idx *Index) add(e ledger.Entry) {
	idx.next = e.Index + 1
	switch e.Payload.Kind {
	case ledger.KindVerifications:
		for i := range e.Payload.Verifications {
			s := e.Payload.Verifications[i]
			rec := Record{
				EntryIndex:   e.Index,
				EntryHash:    e.Hash,
				Timestamp:    e.Timestamp,
				Kind:         e.Payload.Kind,
				Verification: &s,
			}
			idx.bySubject[s.SubjectID] = append(idx.bySubject[s.SubjectID], rec)
			if s.ActorID != "" {
				idx.byActor[s.ActorID] = append(idx.byActor[s.ActorID], rec)
			}
		}
	case ledger.KindFeedback:
		f := *e.Payload.Feedback
		rec := Record{
			EntryIndex: e.Index,
			EntryHash:  e.Hash,
			Timestamp:  e.Timestamp,
			Kind:       e.Payload.Kind,
			Feedback:   &f,
		}
		idx.bySubject[f.SubjectID] = append(idx.bySubject[f.SubjectID], rec)
		idx.byActor[f.ActorID] = append(idx.byActor[f.ActorID], rec)
	}
}

func (idx *Index) ensureFresh() {
	idx.mu.RLock()
	stale := idx.stale
	idx.mu.RUnlock()
	if stale {
		idx.Rebuild()
	}
}

// HistoryFor returns every record about a subject, ordered by entry index.
func (idx *Index) HistoryFor(subjectID string) []Record {
	idx.ensureFresh()
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]Record(nil), idx.bySubject[subjectID]...)
}

func (idx *Index) BySubject(subjectID string) []Record {
	return idx.HistoryFor(subjectID)
}

func (idx *Index) ByActor(actorID string) []Record {
	idx.ensureFresh()
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]Record(nil), idx.byActor[actorID]...)
}

// Latest returns the most recent verification recorded for a subject.
func (idx *Index) Latest(subjectID string) (*ledger.VerdictSummary, bool) {
	history := idx.HistoryFor(subjectID)
	for i := len(history) - 1; i >= 0; i-- {
		if v := history[i].Verification; v != nil {
			return v, true
		}
	}
	return nil, false
}

func (idx *Index) Len() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.next
}
