package handlers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/pkg/logger"
)

const streamBuffer = 32

var errStreamDropped = errors.New("ledger stream client dropped for falling behind")

type streamMessage struct {
	Type   string        `json:"type"`
	Entry  *ledger.Entry `json:"entry,omitempty"`
	Tip    int64         `json:"tip_index,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

type jsonWriter interface {
	WriteJSON(v any) error
}

// LedgerStream pushes every sealed entry to connected websocket clients.
// Publish runs inside a ledger hook, so it never blocks: a client whose
// buffer is full is disconnected.
type LedgerStream struct {
	mu      sync.Mutex
	clients map[chan ledger.Entry]struct{}
	tip     func() ledger.Entry
}

func NewLedgerStream(tip func() ledger.Entry) *LedgerStream {
	return &LedgerStream{
		clients: make(map[chan ledger.Entry]struct{}),
		tip:     tip,
	}
}

func (s *LedgerStream) Publish(e ledger.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.clients {
		select {
		case ch <- e.Clone():
		default:
			logger.Warn("Dropping slow ledger stream client", zap.Int64("index", e.Index))
			delete(s.clients, ch)
			close(ch)
		}
	}
}

func (s *LedgerStream) subscribe() chan ledger.Entry {
	ch := make(chan ledger.Entry, streamBuffer)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *LedgerStream) unsubscribe(ch chan ledger.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[ch]; ok {
		delete(s.clients, ch)
		close(ch)
	}
}

func (s *LedgerStream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Upgrade only lets websocket handshakes through to Handler.
func (s *LedgerStream) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *LedgerStream) Handler() fiber.Handler {
	return websocket.New(s.serve)
}

func (s *LedgerStream) serve(c *websocket.Conn) {
	ch := s.subscribe()
	logger.Info("Ledger stream client connected", zap.Int("clients", s.Clients()))

	defer func() {
		s.unsubscribe(ch)
		c.Close()
		logger.Info("Ledger stream client disconnected")
	}()

	if err := c.WriteJSON(streamMessage{Type: "hello", Tip: s.tip().Index}); err != nil {
		logger.Debug("Ledger stream hello failed", zap.Error(err))
		return
	}

	// the client sends nothing; reading detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := pump(c, ch, closed); err != nil {
		logger.Warn("Ledger stream ended", zap.Error(err))
	}
}

// pump forwards entries from ch until the client goes away or the stream
// drops it. A clean client close returns nil.
func pump(w jsonWriter, ch <-chan ledger.Entry, closed <-chan struct{}) error {
	for {
		select {
		case <-closed:
			return nil
		case e, ok := <-ch:
			if !ok {
				if err := w.WriteJSON(streamMessage{Type: "error", Reason: errStreamDropped.Error()}); err != nil {
					return fmt.Errorf("failed to notify dropped client: %w", err)
				}
				return errStreamDropped
			}
			if err := w.WriteJSON(streamMessage{Type: "entry", Entry: &e}); err != nil {
				return fmt.Errorf("failed to write entry %d: %w", e.Index, err)
			}
		}
	}
}
