package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/council-ai/backend/internal/ledger"
	"github.com/council-ai/backend/internal/pdca"
	"github.com/council-ai/backend/internal/storage/models"
	"github.com/council-ai/backend/pkg/logger"
)

// Client mirrors sealed ledger entries into relational tables for queries
// the in-memory index does not serve. The ledger stays authoritative.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		entry_index INTEGER PRIMARY KEY,
		hash TEXT NOT NULL UNIQUE,
		previous_hash TEXT NOT NULL,
		kind TEXT NOT NULL,
		nonce INTEGER NOT NULL,
		record_count INTEGER NOT NULL,
		sealed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_kind ON ledger_entries(kind);

	CREATE TABLE IF NOT EXISTS verifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id TEXT NOT NULL,
		entry_index INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		actor_id TEXT,
		decision TEXT NOT NULL,
		risk_score REAL NOT NULL,
		confidence REAL NOT NULL,
		categories TEXT NOT NULL,
		fail_count INTEGER NOT NULL,
		warning_count INTEGER NOT NULL,
		pass_count INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL,
		FOREIGN KEY (entry_index) REFERENCES ledger_entries(entry_index) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_verifications_subject ON verifications(subject_id);
	CREATE INDEX IF NOT EXISTS idx_verifications_actor ON verifications(actor_id);
	CREATE INDEX IF NOT EXISTS idx_verifications_decision ON verifications(decision);

	CREATE TABLE IF NOT EXISTS feedback (
		feedback_id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		entry_index INTEGER NOT NULL,
		category_id TEXT NOT NULL,
		feedback_type TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		corrected_verdict TEXT,
		corrected_risk_score REAL,
		notes TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (entry_index) REFERENCES ledger_entries(entry_index) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_subject ON feedback(subject_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_category ON feedback(category_id);

	CREATE TABLE IF NOT EXISTS pdca_cycles (
		cycle_id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		project_name TEXT NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pdca_actor ON pdca_cycles(actor_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// ApplyEntry mirrors one sealed entry. Applying an entry twice is a no-op.
func (c *Client) ApplyEntry(e ledger.Entry) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO ledger_entries (entry_index, hash, previous_hash, kind, nonce, record_count, sealed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Index,
		e.Hash,
		e.PreviousHash,
		string(e.Payload.Kind),
		int64(e.Nonce),
		recordCount(e.Payload),
		e.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	for _, s := range e.Payload.Verifications {
		if err := insertVerification(tx, e.Index, s); err != nil {
			return err
		}
	}
	if e.Payload.Feedback != nil {
		if err := insertFeedback(tx, e.Index, *e.Payload.Feedback); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entry %d: %w", e.Index, err)
	}

	logger.Debug("Ledger entry mirrored",
		zap.Int64("index", e.Index),
		zap.String("kind", string(e.Payload.Kind)),
	)
	return nil
}

// Reconcile brings the mirror in line with entries, the full ledger in
// index order. A mirror that diverges from the ledger is rebuilt.
func (c *Client) Reconcile(entries []ledger.Entry) (int, error) {
	height, err := c.LedgerHeight()
	if err != nil {
		return 0, err
	}

	if height > 0 {
		var tipHash string
		err := c.db.QueryRow(`SELECT hash FROM ledger_entries WHERE entry_index = ?`, height-1).Scan(&tipHash)
		if err != nil {
			return 0, fmt.Errorf("failed to read mirror tip: %w", err)
		}
		if height > int64(len(entries)) || entries[height-1].Hash != tipHash {
			logger.Warn("SQLite mirror diverged from ledger, rebuilding",
				zap.Int64("mirror_height", height),
				zap.Int("ledger_height", len(entries)),
			)
			if err := c.truncate(); err != nil {
				return 0, err
			}
			height = 0
		}
	}

	applied := 0
	for _, e := range entries[height:] {
		if err := c.ApplyEntry(e); err != nil {
			return applied, err
		}
		applied++
	}

	logger.Info("SQLite mirror reconciled", zap.Int("applied", applied), zap.Int("height", len(entries)))
	return applied, nil
}

// Subscriber adapts ApplyEntry to a ledger hook. Failures are logged and
// repaired by the next Reconcile.
func (c *Client) Subscriber() func(ledger.Entry) {
	return func(e ledger.Entry) {
		if err := c.ApplyEntry(e); err != nil {
			logger.Warn("Failed to mirror ledger entry", zap.Int64("index", e.Index), zap.Error(err))
		}
	}
}

// LedgerHeight is one past the highest mirrored index, 0 when empty.
func (c *Client) LedgerHeight() (int64, error) {
	var max sql.NullInt64
	if err := c.db.QueryRow(`SELECT MAX(entry_index) FROM ledger_entries`).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to get ledger height: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64 + 1, nil
}

func (c *Client) GetBlock(index int64) (*models.LedgerBlock, error) {
	var b models.LedgerBlock
	var nonce, sealedAt int64
	err := c.db.QueryRow(
		`SELECT entry_index, hash, previous_hash, kind, nonce, record_count, sealed_at FROM ledger_entries WHERE entry_index = ?`,
		index,
	).Scan(&b.Index, &b.Hash, &b.PreviousHash, &b.Kind, &nonce, &b.RecordCount, &sealedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("block %d: %w", index, ledger.ErrEntryNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	b.Nonce = uint64(nonce)
	b.SealedAt = time.Unix(0, sealedAt).UTC()
	return &b, nil
}

func (c *Client) VerdictsByActor(actorID string, limit int) ([]models.VerificationRecord, error) {
	query := `
		SELECT id, subject_id, entry_index, content_hash, actor_id, decision, risk_score, confidence,
			categories, fail_count, warning_count, pass_count, recorded_at
		FROM verifications
		WHERE actor_id = ?
		ORDER BY entry_index DESC, id DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get verifications: %w", err)
	}
	defer rows.Close()

	records := []models.VerificationRecord{}
	for rows.Next() {
		var r models.VerificationRecord
		var categoriesJSON string
		var recordedAt int64

		err := rows.Scan(&r.ID, &r.SubjectID, &r.EntryIndex, &r.ContentHash, &r.ActorID, &r.Decision,
			&r.RiskScore, &r.Confidence, &categoriesJSON, &r.FailCount, &r.WarningCount, &r.PassCount, &recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(categoriesJSON), &r.Categories); err != nil {
			return nil, fmt.Errorf("failed to decode categories: %w", err)
		}
		r.RecordedAt = time.Unix(0, recordedAt).UTC()
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) FeedbackForSubject(subjectID string) ([]models.FeedbackRecord, error) {
	query := `
		SELECT feedback_id, subject_id, entry_index, category_id, feedback_type, actor_id,
			corrected_verdict, corrected_risk_score, notes, created_at
		FROM feedback
		WHERE subject_id = ?
		ORDER BY entry_index ASC
	`

	rows, err := c.db.Query(query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	defer rows.Close()

	records := []models.FeedbackRecord{}
	for rows.Next() {
		var f models.FeedbackRecord
		var corrected, notes sql.NullString
		var score sql.NullFloat64
		var createdAt int64

		err := rows.Scan(&f.FeedbackID, &f.SubjectID, &f.EntryIndex, &f.CategoryID, &f.FeedbackType,
			&f.ActorID, &corrected, &score, &notes, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		f.CorrectedVerdict = corrected.String
		f.Notes = notes.String
		if score.Valid {
			s := score.Float64
			f.CorrectedRiskScore = &s
		}
		f.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, f)
	}

	return records, rows.Err()
}

func insertVerification(tx *sql.Tx, entryIndex int64, s ledger.VerdictSummary) error {
	categories, err := json.Marshal(s.CategoriesTested)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO verifications (subject_id, entry_index, content_hash, actor_id, decision, risk_score,
			confidence, categories, fail_count, warning_count, pass_count, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SubjectID,
		entryIndex,
		s.ContentHash,
		s.ActorID,
		string(s.Decision),
		s.RiskScore,
		s.Confidence,
		string(categories),
		s.Counts.Fail,
		s.Counts.Warning,
		s.Counts.Pass,
		s.RecordedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert verification: %w", err)
	}
	return nil
}

func insertFeedback(tx *sql.Tx, entryIndex int64, f ledger.FeedbackRecord) error {
	var corrected sql.NullString
	if f.CorrectedVerdict != nil {
		corrected = sql.NullString{String: string(*f.CorrectedVerdict), Valid: true}
	}
	var score sql.NullFloat64
	if f.CorrectedRiskScore != nil {
		score = sql.NullFloat64{Float64: *f.CorrectedRiskScore, Valid: true}
	}

	_, err := tx.Exec(
		`INSERT INTO feedback (feedback_id, subject_id, entry_index, category_id, feedback_type, actor_id,
			corrected_verdict, corrected_risk_score, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FeedbackID,
		f.SubjectID,
		entryIndex,
		f.CategoryID,
		string(f.Kind),
		f.ActorID,
		corrected,
		score,
		f.Notes,
		f.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// SaveCycle upserts a PDCA cycle. Cycles are not ledger-derived, so the
// mirror rebuild in Reconcile leaves them alone.
func (c *Client) SaveCycle(cycle *pdca.Cycle) error {
	body, err := json.Marshal(cycle)
	if err != nil {
		return fmt.Errorf("failed to encode cycle: %w", err)
	}
	_, err = c.db.Exec(
		`INSERT INTO pdca_cycles (cycle_id, actor_id, project_name, phase, status, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cycle_id) DO UPDATE SET
			phase = excluded.phase,
			status = excluded.status,
			body = excluded.body,
			updated_at = excluded.updated_at`,
		cycle.ID,
		cycle.ActorID,
		cycle.ProjectName,
		string(cycle.Phase),
		string(cycle.Status),
		string(body),
		cycle.CreatedAt.UnixNano(),
		cycle.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save cycle %s: %w", cycle.ID, err)
	}
	return nil
}

func (c *Client) LoadCycles() ([]*pdca.Cycle, error) {
	rows, err := c.db.Query(`SELECT body FROM pdca_cycles ORDER BY created_at ASC, cycle_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycles: %w", err)
	}
	defer rows.Close()

	cycles := []*pdca.Cycle{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var cycle pdca.Cycle
		if err := json.Unmarshal([]byte(body), &cycle); err != nil {
			return nil, fmt.Errorf("failed to decode cycle: %w", err)
		}
		cycles = append(cycles, &cycle)
	}
	return cycles, rows.Err()
}

func (c *Client) truncate() error {
	for _, table := range []string{"feedback", "verifications", "ledger_entries"} {
		if _, err := c.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}

func recordCount(p ledger.Payload) int {
	switch p.Kind {
	case ledger.KindVerifications:
		return len(p.Verifications)
	default:
		return 1
	}
}
