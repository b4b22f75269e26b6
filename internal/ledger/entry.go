package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GenesisPreviousHash is the fixed previous hash of entry 0.
const GenesisPreviousHash = "0"

const abortCheckInterval = 1024

type Entry struct {
	Index        int64     `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	Payload      Payload   `json:"payload"`
	PreviousHash string    `json:"previous_hash"`
	Nonce        uint64    `json:"nonce"`
	Hash         string    `json:"hash"`
}

func (e Entry) Clone() Entry {
	c := e
	c.Payload = e.Payload.clone()
	return c
}

type hashHeader struct {
	Index        int64   `json:"index"`
	Timestamp    string  `json:"timestamp"`
	Payload      Payload `json:"payload"`
	PreviousHash string  `json:"previous_hash"`
}

// preimage is everything the hash covers except the nonce.
func (e *Entry) preimage() ([]byte, error) {
	return canonicalJSON(hashHeader{
		Index:        e.Index,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:      e.Payload,
		PreviousHash: e.PreviousHash,
	})
}

func (e *Entry) ComputeHash() (string, error) {
	body, err := e.preimage()
	if err != nil {
		return "", err
	}
	return hashWithNonce(body, e.Nonce), nil
}

func hashWithNonce(body []byte, nonce uint64) string {
	h := sha256.New()
	h.Write(body)
	h.Write([]byte("|nonce="))
	h.Write(strconv.AppendUint(nil, nonce, 10))
	return hex.EncodeToString(h.Sum(nil))
}

func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	return len(hash) >= difficulty && strings.Count(hash[:difficulty], "0") == difficulty
}

// Mine searches nonces from zero until the entry hash meets the difficulty.
// The context is polled every abortCheckInterval attempts.
func Mine(ctx context.Context, e *Entry, difficulty int) error {
	body, err := e.preimage()
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	for nonce := uint64(0); ; nonce++ {
		if nonce%abortCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrMiningAborted, err)
			}
		}
		hash := hashWithNonce(body, nonce)
		if MeetsDifficulty(hash, difficulty) {
			e.Nonce = nonce
			e.Hash = hash
			return nil
		}
	}
}

// canonicalJSON re-encodes v with sorted object keys, no HTML escaping and
// numbers preserved as written.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}
