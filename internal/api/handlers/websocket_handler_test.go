package handlers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-ai/backend/internal/ledger"
)

func TestStreamFansOutCopies(t *testing.T) {
	s := NewLedgerStream(func() ledger.Entry { return ledger.Entry{} })
	a := s.subscribe()
	b := s.subscribe()
	require.Equal(t, 2, s.Clients())

	entry := ledger.Entry{Index: 3, Hash: "00ab", Payload: ledger.Payload{Kind: ledger.KindVerifications,
		Verifications: []ledger.VerdictSummary{{SubjectID: "ver_1"}}}}
	s.Publish(entry)

	got := <-a
	assert.Equal(t, int64(3), got.Index)
	got.Payload.Verifications[0].SubjectID = "changed"
	assert.Equal(t, "ver_1", (<-b).Payload.Verifications[0].SubjectID)

	s.unsubscribe(a)
	s.unsubscribe(a)
	assert.Equal(t, 1, s.Clients())
}

func TestStreamDropsSlowClients(t *testing.T) {
	s := NewLedgerStream(func() ledger.Entry { return ledger.Entry{} })
	slow := s.subscribe()

	for i := 0; i <= streamBuffer; i++ {
		s.Publish(ledger.Entry{Index: int64(i)})
	}
	assert.Equal(t, 0, s.Clients())

	n := 0
	for range slow {
		n++
	}
	assert.Equal(t, streamBuffer, n)
}

type recordingWriter struct {
	sent   []streamMessage
	failOn string
}

func (w *recordingWriter) WriteJSON(v any) error {
	msg := v.(streamMessage)
	if msg.Type == w.failOn {
		return errors.New("connection reset")
	}
	w.sent = append(w.sent, msg)
	return nil
}

func TestPumpForwardsEntriesThenReportsDrop(t *testing.T) {
	ch := make(chan ledger.Entry, 2)
	ch <- ledger.Entry{Index: 1}
	ch <- ledger.Entry{Index: 2}
	close(ch)

	w := &recordingWriter{}
	err := pump(w, ch, make(chan struct{}))
	assert.ErrorIs(t, err, errStreamDropped)
	require.Len(t, w.sent, 3)
	assert.Equal(t, int64(2), w.sent[1].Entry.Index)
	assert.Equal(t, "error", w.sent[2].Type)
	assert.NotEmpty(t, w.sent[2].Reason)
}

func TestPumpSurfacesDropNoticeWriteFailure(t *testing.T) {
	ch := make(chan ledger.Entry)
	close(ch)

	err := pump(&recordingWriter{failOn: "error"}, ch, make(chan struct{}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, errStreamDropped)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPumpStopsOnEntryWriteFailureAndClientClose(t *testing.T) {
	ch := make(chan ledger.Entry, 1)
	ch <- ledger.Entry{Index: 7}
	err := pump(&recordingWriter{failOn: "entry"}, ch, make(chan struct{}))
	assert.ErrorContains(t, err, "entry 7")

	closed := make(chan struct{})
	close(closed)
	assert.NoError(t, pump(&recordingWriter{}, make(chan ledger.Entry), closed))
}
