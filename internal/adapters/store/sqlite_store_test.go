package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/inbox-triage/internal/core"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "triage.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSenderProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 12, 0, 0, 123456789, time.UTC)

	// Unseen senders come back neutral.
	fresh, err := s.Get(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, core.NeutralReputation, fresh.Reputation)
	assert.Equal(t, int64(0), fresh.TotalSeen)

	require.NoError(t, s.RecordAction(ctx, "a@example.com", core.ActionMarkImportant, at))
	require.NoError(t, s.RecordAction(ctx, "a@example.com", core.ActionArchive, at.Add(time.Hour)))

	p, err := s.Get(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.TotalSeen)
	assert.Equal(t, int64(1), p.ImportantSeen)
	assert.Equal(t, int64(1), p.ArchivedSeen)
	assert.True(t, p.FirstSeen.Equal(at))
	assert.True(t, p.LastSeen.Equal(at.Add(time.Hour)))
	assert.Greater(t, p.Reputation, core.NeutralReputation)

	count, err := s.CountSenders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "reads never create profiles")
}

func TestRecordFeedbackUpdatesProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordFeedback(ctx, "a@example.com", true, at))

	p, err := s.Get(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Corrections)
	assert.Greater(t, p.Reputation, core.NeutralReputation)
}

func TestFeedbackLedgerReplacesByFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	spam := true
	first := &core.FeedbackRecord{
		Fingerprint:  "msg-1",
		Features:     core.FeatureVector{0.5, 1},
		Prediction:   &core.Prediction{Importance: 0.2, Spam: 0.7, ModelVersion: 3},
		WasImportant: false,
		WasSpam:      &spam,
		SubmittedAt:  at,
	}
	require.NoError(t, s.Upsert(ctx, first))

	second := &core.FeedbackRecord{
		Fingerprint:  "msg-1",
		Features:     first.Features,
		WasImportant: true,
		SubmittedAt:  at.Add(time.Hour),
	}
	require.NoError(t, s.Upsert(ctx, second))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	records, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.True(t, rec.WasImportant)
	assert.Nil(t, rec.WasSpam, "replacement clears the prior spam verdict")
	assert.Nil(t, rec.Prediction)
	assert.Equal(t, first.Features, rec.Features)
	assert.True(t, rec.SubmittedAt.Equal(at.Add(time.Hour)))
}

func TestModelVersionsAndActivePointer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active, err := s.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, active, "no active model before first train")

	v1 := &core.ClassifierModel{
		Version:      1,
		ShapeVersion: core.FeatureShapeVersion,
		SampleCount:  20,
		TrainedAt:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Metric:       0.85,
	}
	v1.ImportanceWeights[0] = 1.5
	require.NoError(t, s.Save(ctx, v1))

	// Saved but not yet activated.
	active, err = s.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, s.SetActive(ctx, 1))
	active, err = s.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, int64(1), active.Version)
	assert.Equal(t, 0.85, active.Metric)
	assert.Equal(t, 1.5, active.ImportanceWeights[0])

	v2 := &core.ClassifierModel{Version: 2, ShapeVersion: core.FeatureShapeVersion, Metric: 0.9}
	require.NoError(t, s.Save(ctx, v2))
	require.NoError(t, s.SetActive(ctx, 2))

	active, err = s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), active.Version)

	// Superseded versions stay loadable for rollback.
	old, err := s.Load(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, 0.85, old.Metric)

	missing, err := s.Load(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestActionLogRoundTripAndCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	found, err := s.Find(ctx, "msg-1")
	require.NoError(t, err)
	assert.Nil(t, found)

	rec := &core.ActionRecord{
		Fingerprint: "msg-1",
		Sender:      "a@example.com",
		Action:      core.ActionArchive,
		Features:    core.FeatureVector{0.5},
		Prediction:  &core.Prediction{Importance: 0.3, Spam: 0.1, ModelVersion: 2},
		ProcessedAt: at,
	}
	require.NoError(t, s.Record(ctx, rec))
	require.NoError(t, s.Record(ctx, &core.ActionRecord{
		Fingerprint: "msg-2",
		Sender:      "b@example.com",
		Action:      core.ActionMarkSpam,
		ProcessedAt: at,
	}))

	found, err = s.Find(ctx, "msg-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, core.ActionArchive, found.Action)
	assert.Equal(t, rec.Features, found.Features)
	require.NotNil(t, found.Prediction)
	assert.Equal(t, int64(2), found.Prediction.ModelVersion)
	assert.True(t, found.ProcessedAt.Equal(at))

	counts, err := s.CountsByAction(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[core.ActionArchive])
	assert.Equal(t, int64(1), counts[core.ActionMarkSpam])
}
