package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/inbox-triage/internal/core"
	"go.uber.org/zap"
)

// SQLiteStore is the default persistent implementation of the engine's
// ports, backed by a single SQLite database. Sender profile updates run
// inside a transaction so the read-modify-write is one critical section.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database and ensures the schema.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// Profile updates are serialized read-modify-writes.
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func createSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sender_profiles (
			sender TEXT PRIMARY KEY,
			total_seen INTEGER NOT NULL,
			important_seen INTEGER NOT NULL,
			archived_seen INTEGER NOT NULL,
			trashed_seen INTEGER NOT NULL,
			spam_seen INTEGER NOT NULL,
			corrections INTEGER NOT NULL,
			reputation REAL NOT NULL,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feedback_ledger (
			fingerprint TEXT PRIMARY KEY,
			features TEXT NOT NULL,
			prediction TEXT,
			was_important INTEGER NOT NULL,
			was_spam INTEGER,
			submitted_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS model_versions (
			version INTEGER PRIMARY KEY,
			payload TEXT NOT NULL,
			trained_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS active_model (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS action_log (
			fingerprint TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			action TEXT NOT NULL,
			features TEXT NOT NULL,
			prediction TEXT,
			processed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_action_log_sender ON action_log(sender)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Get returns the sender's profile, or a fresh neutral one if unseen.
func (s *SQLiteStore) Get(ctx context.Context, sender string) (*core.SenderProfile, error) {
	p, err := s.queryProfile(ctx, s.db, sender)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return core.NewSenderProfile(sender), nil
	}
	return p, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) queryProfile(ctx context.Context, q querier, sender string) (*core.SenderProfile, error) {
	var p core.SenderProfile
	var firstSeen, lastSeen string
	err := q.QueryRowContext(ctx, `
		SELECT sender, total_seen, important_seen, archived_seen, trashed_seen,
		       spam_seen, corrections, reputation, first_seen, last_seen
		FROM sender_profiles WHERE sender = ?
	`, sender).Scan(&p.Sender, &p.TotalSeen, &p.ImportantSeen, &p.ArchivedSeen,
		&p.TrashedSeen, &p.SpamSeen, &p.Corrections, &p.Reputation, &firstSeen, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sender profile: %w", err)
	}
	if p.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
		return nil, fmt.Errorf("failed to parse first_seen: %w", err)
	}
	if p.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
		return nil, fmt.Errorf("failed to parse last_seen: %w", err)
	}
	return &p, nil
}

// updateProfile runs a pure profile update inside one transaction.
func (s *SQLiteStore) updateProfile(ctx context.Context, sender string, apply func(core.SenderProfile) core.SenderProfile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := s.queryProfile(ctx, tx, sender)
	if err != nil {
		return err
	}
	if p == nil {
		p = core.NewSenderProfile(sender)
	}
	updated := apply(*p)

	_, err = tx.ExecContext(ctx, `
		REPLACE INTO sender_profiles (sender, total_seen, important_seen, archived_seen,
			trashed_seen, spam_seen, corrections, reputation, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, updated.Sender, updated.TotalSeen, updated.ImportantSeen, updated.ArchivedSeen,
		updated.TrashedSeen, updated.SpamSeen, updated.Corrections, updated.Reputation,
		updated.FirstSeen.Format(time.RFC3339Nano), updated.LastSeen.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write sender profile: %w", err)
	}
	return tx.Commit()
}

// RecordAction applies one processed-message update to the sender's profile.
func (s *SQLiteStore) RecordAction(ctx context.Context, sender string, action core.Action, at time.Time) error {
	return s.updateProfile(ctx, sender, func(p core.SenderProfile) core.SenderProfile {
		return core.ApplyAction(p, action, at)
	})
}

// RecordFeedback applies one user correction to the sender's profile.
func (s *SQLiteStore) RecordFeedback(ctx context.Context, sender string, wasImportant bool, at time.Time) error {
	return s.updateProfile(ctx, sender, func(p core.SenderProfile) core.SenderProfile {
		return core.ApplyFeedback(p, wasImportant, at)
	})
}

// CountSenders returns the number of distinct senders seen.
func (s *SQLiteStore) CountSenders(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sender_profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count senders: %w", err)
	}
	return n, nil
}

// Upsert stores a feedback record, replacing any prior one for the same
// fingerprint.
func (s *SQLiteStore) Upsert(ctx context.Context, rec *core.FeedbackRecord) error {
	features, err := json.Marshal(rec.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	prediction, err := marshalPrediction(rec.Prediction)
	if err != nil {
		return err
	}
	var wasSpam sql.NullBool
	if rec.WasSpam != nil {
		wasSpam = sql.NullBool{Bool: *rec.WasSpam, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		REPLACE INTO feedback_ledger (fingerprint, features, prediction, was_important, was_spam, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Fingerprint, string(features), prediction, rec.WasImportant, wasSpam,
		rec.SubmittedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write feedback record: %w", err)
	}
	return nil
}

// All returns every feedback record in the ledger.
func (s *SQLiteStore) All(ctx context.Context) ([]*core.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, features, prediction, was_important, was_spam, submitted_at
		FROM feedback_ledger
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback ledger: %w", err)
	}
	defer rows.Close()

	var records []*core.FeedbackRecord
	for rows.Next() {
		var rec core.FeedbackRecord
		var features string
		var prediction sql.NullString
		var wasSpam sql.NullBool
		var submittedAt string
		if err := rows.Scan(&rec.Fingerprint, &features, &prediction, &rec.WasImportant, &wasSpam, &submittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback record: %w", err)
		}
		if err := json.Unmarshal([]byte(features), &rec.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features for %s: %w", rec.Fingerprint, err)
		}
		if rec.Prediction, err = unmarshalPrediction(prediction); err != nil {
			return nil, fmt.Errorf("failed to decode prediction for %s: %w", rec.Fingerprint, err)
		}
		if wasSpam.Valid {
			rec.WasSpam = &wasSpam.Bool
		}
		if rec.SubmittedAt, err = time.Parse(time.RFC3339Nano, submittedAt); err != nil {
			return nil, fmt.Errorf("failed to parse submitted_at: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Count returns the ledger size.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback_ledger`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return n, nil
}

// Save writes one model version. The active pointer is untouched, so a
// crash here never activates a half-written model.
func (s *SQLiteStore) Save(ctx context.Context, m *core.ClassifierModel) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		REPLACE INTO model_versions (version, payload, trained_at) VALUES (?, ?, ?)
	`, m.Version, string(payload), m.TrainedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write model version %d: %w", m.Version, err)
	}
	return nil
}

// SetActive moves the active-version pointer.
func (s *SQLiteStore) SetActive(ctx context.Context, version int64) error {
	_, err := s.db.ExecContext(ctx, `
		REPLACE INTO active_model (id, version) VALUES (1, ?)
	`, version)
	if err != nil {
		return fmt.Errorf("failed to set active model version: %w", err)
	}
	return nil
}

// Active returns the active model, or nil if none has been trained.
func (s *SQLiteStore) Active(ctx context.Context) (*core.ClassifierModel, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM active_model WHERE id = 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active model pointer: %w", err)
	}
	m, err := s.Load(ctx, version)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("active pointer references missing model version %d", version)
	}
	return m, nil
}

// Load returns one retained model version, or nil if unknown.
func (s *SQLiteStore) Load(ctx context.Context, version int64) (*core.ClassifierModel, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM model_versions WHERE version = ?`, version).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query model version %d: %w", version, err)
	}
	var m core.ClassifierModel
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("failed to decode model version %d: %w", version, err)
	}
	return &m, nil
}

// Find returns the action record for a fingerprint, or nil.
func (s *SQLiteStore) Find(ctx context.Context, fingerprint string) (*core.ActionRecord, error) {
	var rec core.ActionRecord
	var features string
	var prediction sql.NullString
	var processedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, sender, action, features, prediction, processed_at
		FROM action_log WHERE fingerprint = ?
	`, fingerprint).Scan(&rec.Fingerprint, &rec.Sender, (*string)(&rec.Action), &features, &prediction, &processedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query action log: %w", err)
	}
	if err := json.Unmarshal([]byte(features), &rec.Features); err != nil {
		return nil, fmt.Errorf("failed to decode features for %s: %w", fingerprint, err)
	}
	if rec.Prediction, err = unmarshalPrediction(prediction); err != nil {
		return nil, fmt.Errorf("failed to decode prediction for %s: %w", fingerprint, err)
	}
	if rec.ProcessedAt, err = time.Parse(time.RFC3339Nano, processedAt); err != nil {
		return nil, fmt.Errorf("failed to parse processed_at: %w", err)
	}
	return &rec, nil
}

// Record stores the outcome of one processed message.
func (s *SQLiteStore) Record(ctx context.Context, rec *core.ActionRecord) error {
	features, err := json.Marshal(rec.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	prediction, err := marshalPrediction(rec.Prediction)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		REPLACE INTO action_log (fingerprint, sender, action, features, prediction, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Fingerprint, rec.Sender, string(rec.Action), string(features), prediction,
		rec.ProcessedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write action record: %w", err)
	}
	return nil
}

// CountsByAction tallies recorded actions.
func (s *SQLiteStore) CountsByAction(ctx context.Context) (map[core.Action]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT action, COUNT(*) FROM action_log GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}
	defer rows.Close()

	counts := make(map[core.Action]int64, len(core.Actions))
	for rows.Next() {
		var action string
		var n int64
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		counts[core.Action(action)] = n
	}
	return counts, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close SQLite store", zap.Error(err))
		return err
	}
	return nil
}

func marshalPrediction(p *core.Prediction) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode prediction: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalPrediction(s sql.NullString) (*core.Prediction, error) {
	if !s.Valid {
		return nil, nil
	}
	var p core.Prediction
	if err := json.Unmarshal([]byte(s.String), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
