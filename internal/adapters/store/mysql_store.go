package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/mikey/inbox-triage/internal/core"
	"go.uber.org/zap"
)

// MySQLStore is a MySQL implementation of the engine's persistence ports,
// for deployments that already run a database server. Timestamps are stored
// as RFC 3339 strings so behavior matches the SQLite store exactly.
type MySQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLStore connects to MySQL and ensures the schema.
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sender_profiles (
			sender VARCHAR(255) PRIMARY KEY,
			total_seen BIGINT NOT NULL,
			important_seen BIGINT NOT NULL,
			archived_seen BIGINT NOT NULL,
			trashed_seen BIGINT NOT NULL,
			spam_seen BIGINT NOT NULL,
			corrections BIGINT NOT NULL,
			reputation DOUBLE NOT NULL,
			first_seen VARCHAR(64) NOT NULL,
			last_seen VARCHAR(64) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feedback_ledger (
			fingerprint VARCHAR(255) PRIMARY KEY,
			features TEXT NOT NULL,
			prediction TEXT,
			was_important BOOLEAN NOT NULL,
			was_spam BOOLEAN,
			submitted_at VARCHAR(64) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS model_versions (
			version BIGINT PRIMARY KEY,
			payload TEXT NOT NULL,
			trained_at VARCHAR(64) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS active_model (
			id TINYINT PRIMARY KEY,
			version BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS action_log (
			fingerprint VARCHAR(255) PRIMARY KEY,
			sender VARCHAR(255) NOT NULL,
			action VARCHAR(32) NOT NULL,
			features TEXT NOT NULL,
			prediction TEXT,
			processed_at VARCHAR(64) NOT NULL,
			INDEX idx_action_log_sender (sender)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &MySQLStore{db: db, logger: logger}, nil
}

// Get returns the sender's profile, or a fresh neutral one if unseen.
func (s *MySQLStore) Get(ctx context.Context, sender string) (*core.SenderProfile, error) {
	p, err := s.queryProfile(ctx, s.db, sender)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return core.NewSenderProfile(sender), nil
	}
	return p, nil
}

func (s *MySQLStore) queryProfile(ctx context.Context, q querier, sender string) (*core.SenderProfile, error) {
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

func (s *MySQLStore) updateProfile(ctx context.Context, sender string, apply func(core.SenderProfile) core.SenderProfile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// FOR UPDATE pins the row so concurrent feedback and batch updates to
	// one sender serialize instead of losing increments.
	var p core.SenderProfile
	var firstSeen, lastSeen string
	err = tx.QueryRowContext(ctx, `
		SELECT sender, total_seen, important_seen, archived_seen, trashed_seen,
		       spam_seen, corrections, reputation, first_seen, last_seen
		FROM sender_profiles WHERE sender = ? FOR UPDATE
	`, sender).Scan(&p.Sender, &p.TotalSeen, &p.ImportantSeen, &p.ArchivedSeen,
		&p.TrashedSeen, &p.SpamSeen, &p.Corrections, &p.Reputation, &firstSeen, &lastSeen)
	switch {
	case err == sql.ErrNoRows:
		p = *core.NewSenderProfile(sender)
	case err != nil:
		return fmt.Errorf("failed to query sender profile: %w", err)
	default:
		if p.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
			return fmt.Errorf("failed to parse first_seen: %w", err)
		}
		if p.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
			return fmt.Errorf("failed to parse last_seen: %w", err)
		}
	}
	updated := apply(p)

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
func (s *MySQLStore) RecordAction(ctx context.Context, sender string, action core.Action, at time.Time) error {
	return s.updateProfile(ctx, sender, func(p core.SenderProfile) core.SenderProfile {
		return core.ApplyAction(p, action, at)
	})
}

// RecordFeedback applies one user correction to the sender's profile.
func (s *MySQLStore) RecordFeedback(ctx context.Context, sender string, wasImportant bool, at time.Time) error {
	return s.updateProfile(ctx, sender, func(p core.SenderProfile) core.SenderProfile {
		return core.ApplyFeedback(p, wasImportant, at)
	})
}

// CountSenders returns the number of distinct senders seen.
func (s *MySQLStore) CountSenders(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sender_profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count senders: %w", err)
	}
	return n, nil
}

// Upsert stores a feedback record, replacing any prior one for the same
// fingerprint.
func (s *MySQLStore) Upsert(ctx context.Context, rec *core.FeedbackRecord) error {
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
func (s *MySQLStore) All(ctx context.Context) ([]*core.FeedbackRecord, error) {
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
func (s *MySQLStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback_ledger`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return n, nil
}

// Save writes one model version without touching the active pointer.
func (s *MySQLStore) Save(ctx context.Context, m *core.ClassifierModel) error {
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
func (s *MySQLStore) SetActive(ctx context.Context, version int64) error {
	_, err := s.db.ExecContext(ctx, `REPLACE INTO active_model (id, version) VALUES (1, ?)`, version)
	if err != nil {
		return fmt.Errorf("failed to set active model version: %w", err)
	}
	return nil
}

// Active returns the active model, or nil if none has been trained.
func (s *MySQLStore) Active(ctx context.Context) (*core.ClassifierModel, error) {
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
func (s *MySQLStore) Load(ctx context.Context, version int64) (*core.ClassifierModel, error) {
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
func (s *MySQLStore) Find(ctx context.Context, fingerprint string) (*core.ActionRecord, error) {
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
func (s *MySQLStore) Record(ctx context.Context, rec *core.ActionRecord) error {
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
func (s *MySQLStore) CountsByAction(ctx context.Context) (map[core.Action]int64, error) {
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
func (s *MySQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close MySQL store", zap.Error(err))
		return err
	}
	return nil
}
