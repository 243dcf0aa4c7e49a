package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore implements every persistence port with plain maps.
type fakeStore struct {
	profiles      map[string]SenderProfile
	feedback      map[string]*FeedbackRecord
	models        map[int64]*ClassifierModel
	activeVersion int64
	actions       map[string]*ActionRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: make(map[string]SenderProfile),
		feedback: make(map[string]*FeedbackRecord),
		models:   make(map[int64]*ClassifierModel),
		actions:  make(map[string]*ActionRecord),
	}
}

func (f *fakeStore) Get(ctx context.Context, sender string) (*SenderProfile, error) {
	if p, ok := f.profiles[sender]; ok {
		copied := p
		return &copied, nil
	}
	return NewSenderProfile(sender), nil
}

func (f *fakeStore) RecordAction(ctx context.Context, sender string, action Action, at time.Time) error {
	p, ok := f.profiles[sender]
	if !ok {
		p = *NewSenderProfile(sender)
	}
	f.profiles[sender] = ApplyAction(p, action, at)
	return nil
}

func (f *fakeStore) RecordFeedback(ctx context.Context, sender string, wasImportant bool, at time.Time) error {
	p, ok := f.profiles[sender]
	if !ok {
		p = *NewSenderProfile(sender)
	}
	f.profiles[sender] = ApplyFeedback(p, wasImportant, at)
	return nil
}

func (f *fakeStore) CountSenders(ctx context.Context) (int64, error) {
	return int64(len(f.profiles)), nil
}

func (f *fakeStore) Upsert(ctx context.Context, rec *FeedbackRecord) error {
	copied := *rec
	f.feedback[rec.Fingerprint] = &copied
	return nil
}

func (f *fakeStore) All(ctx context.Context) ([]*FeedbackRecord, error) {
	records := make([]*FeedbackRecord, 0, len(f.feedback))
	for _, rec := range f.feedback {
		copied := *rec
		records = append(records, &copied)
	}
	return records, nil
}

func (f *fakeStore) Count(ctx context.Context) (int64, error) {
	return int64(len(f.feedback)), nil
}

func (f *fakeStore) Save(ctx context.Context, m *ClassifierModel) error {
	copied := *m
	f.models[m.Version] = &copied
	return nil
}

func (f *fakeStore) SetActive(ctx context.Context, version int64) error {
	f.activeVersion = version
	return nil
}

func (f *fakeStore) Active(ctx context.Context) (*ClassifierModel, error) {
	if m, ok := f.models[f.activeVersion]; ok {
		copied := *m
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeStore) Load(ctx context.Context, version int64) (*ClassifierModel, error) {
	if m, ok := f.models[version]; ok {
		copied := *m
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeStore) Find(ctx context.Context, fingerprint string) (*ActionRecord, error) {
	if rec, ok := f.actions[fingerprint]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeStore) Record(ctx context.Context, rec *ActionRecord) error {
	copied := *rec
	f.actions[rec.Fingerprint] = &copied
	return nil
}

func (f *fakeStore) CountsByAction(ctx context.Context) (map[Action]int64, error) {
	counts := make(map[Action]int64)
	for _, rec := range f.actions {
		counts[rec.Action]++
	}
	return counts, nil
}

// fakeMailbox records applied actions and can fail selected fingerprints.
type fakeMailbox struct {
	unread  []*Message
	applied []string
	fail    map[string]bool
}

func (f *fakeMailbox) ListUnread(ctx context.Context) ([]*Message, error) {
	return f.unread, nil
}

func (f *fakeMailbox) ApplyAction(ctx context.Context, fingerprint string, action Action) error {
	if f.fail[fingerprint] {
		return fmt.Errorf("mailbox unavailable")
	}
	f.applied = append(f.applied, fingerprint)
	return nil
}

func newTestService(t *testing.T, store *fakeStore, mailbox *fakeMailbox) *TriageService {
	t.Helper()
	logger := zap.NewNop()
	extractor := NewExtractor(512)
	classifier := NewClassifier(logger)
	retrainer := NewRetrainController(store, store, classifier, DefaultRetrainPolicy(), logger)
	decider := NewDecisionEngine(DefaultThresholds(), extractor, nil, logger)
	service, err := NewTriageService(store, store, store, store, mailbox,
		extractor, classifier, retrainer, decider, logger)
	require.NoError(t, err)
	return service
}

func testMessage(fingerprint, sender string) *Message {
	return &Message{
		Fingerprint:    fingerprint,
		Sender:         sender,
		SenderDomain:   "example.com",
		Subject:        "meeting notes",
		Body:           "see you tomorrow at the standup",
		SentAt:         time.Date(2024, 3, 12, 9, 30, 0, 0, time.UTC),
		RecipientCount: 1,
	}
}

func TestProcessBatchIdempotent(t *testing.T) {
	store := newFakeStore()
	mailbox := &fakeMailbox{}
	service := newTestService(t, store, mailbox)
	ctx := context.Background()

	msgs := []*Message{
		testMessage("msg-1", "alice@example.com"),
		testMessage("msg-2", "bob@example.com"),
	}

	first, err := service.ProcessBatch(ctx, msgs)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, r := range first {
		assert.Equal(t, StatusProcessed, r.Status)
	}
	assert.Len(t, mailbox.applied, 2)

	second, err := service.ProcessBatch(ctx, msgs)
	require.NoError(t, err)
	require.Len(t, second, 2)
	for i, r := range second {
		assert.Equal(t, StatusSkipped, r.Status)
		assert.Equal(t, first[i].Action, r.Action, "recorded action must not change on reprocessing")
	}
	assert.Len(t, mailbox.applied, 2, "no duplicate emissions on the second run")

	// Sender history reflects each message exactly once.
	profile, err := store.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), profile.TotalSeen)
}

func TestProcessBatchEmissionFailureIsRetriable(t *testing.T) {
	store := newFakeStore()
	mailbox := &fakeMailbox{fail: map[string]bool{"msg-2": true}}
	service := newTestService(t, store, mailbox)
	ctx := context.Background()

	msgs := []*Message{
		testMessage("msg-1", "alice@example.com"),
		testMessage("msg-2", "bob@example.com"),
		testMessage("msg-3", "carol@example.com"),
	}

	results, err := service.ProcessBatch(ctx, msgs)
	require.NoError(t, err)
	require.Len(t, results, 3, "one failed emission must not abort the batch")
	assert.Equal(t, StatusProcessed, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.Contains(t, results[1].Reason, "emission")
	assert.Equal(t, StatusProcessed, results[2].Status)

	// The failed message was not recorded as applied.
	rec, err := store.Find(ctx, "msg-2")
	require.NoError(t, err)
	assert.Nil(t, rec)
	profile, err := store.Get(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Zero(t, profile.TotalSeen)

	// A later batch retries it.
	mailbox.fail = nil
	retry, err := service.ProcessBatch(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, retry[0].Status)
	assert.Equal(t, StatusProcessed, retry[1].Status)
}

func TestProcessBatchSkipsUnextractableMessage(t *testing.T) {
	store := newFakeStore()
	mailbox := &fakeMailbox{}
	service := newTestService(t, store, mailbox)

	broken := testMessage("msg-1", "alice@example.com")
	broken.Sender = ""
	results, err := service.ProcessBatch(context.Background(), []*Message{
		broken,
		testMessage("msg-2", "bob@example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Reason, "extraction")
	assert.Equal(t, StatusProcessed, results[1].Status)
	assert.Equal(t, []string{"msg-2"}, mailbox.applied)
}

func TestProcessBatchRejectedWhileBusy(t *testing.T) {
	store := newFakeStore()
	service := newTestService(t, store, &fakeMailbox{})

	service.runMu.Lock()
	defer service.runMu.Unlock()

	_, err := service.ProcessBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = service.Retrain(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
}

func TestSubmitFeedbackUnknownMessage(t *testing.T) {
	store := newFakeStore()
	service := newTestService(t, store, &fakeMailbox{})

	err := service.SubmitFeedback(context.Background(), "never-seen", true, nil)
	var rejected *FeedbackRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonUnknownMessage, rejected.Reason)
	assert.Empty(t, store.profiles, "rejected feedback must not touch sender history")
	assert.Empty(t, store.feedback)
}

func TestSubmitFeedbackReplacesPriorRecord(t *testing.T) {
	store := newFakeStore()
	service := newTestService(t, store, &fakeMailbox{})
	ctx := context.Background()

	_, err := service.ProcessBatch(ctx, []*Message{testMessage("msg-1", "alice@example.com")})
	require.NoError(t, err)

	require.NoError(t, service.SubmitFeedback(ctx, "msg-1", false, nil))
	wasSpam := true
	require.NoError(t, service.SubmitFeedback(ctx, "msg-1", true, &wasSpam))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "a later submission replaces, not duplicates")
	assert.True(t, store.feedback["msg-1"].WasImportant)
	require.NotNil(t, store.feedback["msg-1"].WasSpam)
	assert.True(t, *store.feedback["msg-1"].WasSpam)

	profile, err := store.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), profile.Corrections)
}

func TestRetrainThroughServiceActivatesModel(t *testing.T) {
	store := newFakeStore()
	service := newTestService(t, store, &fakeMailbox{})
	ctx := context.Background()

	// Process and correct 20 messages with cleanly separable features:
	// favorable senders are important, the rest are not.
	for i := 0; i < 20; i++ {
		sender := fmt.Sprintf("sender-%d@example.com", i)
		important := i%2 == 0
		if important {
			store.profiles[sender] = SenderProfile{Sender: sender, Reputation: 1.0}
		} else {
			store.profiles[sender] = SenderProfile{Sender: sender, Reputation: 0.0}
		}
		msg := testMessage(fmt.Sprintf("msg-%02d", i), sender)
		_, err := service.ProcessBatch(ctx, []*Message{msg})
		require.NoError(t, err)
		require.NoError(t, service.SubmitFeedback(ctx, msg.Fingerprint, important, nil))
	}

	model, err := service.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), model.Version)

	stats, err := service.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ActiveModelVersion)
	assert.Zero(t, stats.FeedbackSinceLastRetrain)

	// Predictions now carry the active version.
	results, err := service.ProcessBatch(ctx, []*Message{testMessage("msg-new", "sender-0@example.com")})
	require.NoError(t, err)
	require.NotNil(t, results[0].Prediction)
	assert.Equal(t, int64(1), results[0].Prediction.ModelVersion)
}

func TestStatsCountsByAction(t *testing.T) {
	store := newFakeStore()
	service := newTestService(t, store, &fakeMailbox{})
	ctx := context.Background()

	newsletter := testMessage("msg-news", "promo@shop.example")
	newsletter.HasUnsubscribe = true
	store.profiles["promo@shop.example"] = SenderProfile{Sender: "promo@shop.example", Reputation: 0.1}

	_, err := service.ProcessBatch(ctx, []*Message{
		testMessage("msg-1", "alice@example.com"),
		newsletter,
	})
	require.NoError(t, err)

	stats, err := service.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalProcessed)
	assert.Equal(t, int64(1), stats.CountsByAction[ActionArchive])
	assert.Equal(t, int64(1), stats.CountsByAction[ActionTrash])
	assert.Equal(t, int64(2), stats.DistinctSenders)
}

func TestServiceStartupRejectsShapeMismatch(t *testing.T) {
	store := newFakeStore()
	store.models[1] = &ClassifierModel{Version: 1, ShapeVersion: FeatureShapeVersion + 1}
	store.activeVersion = 1

	logger := zap.NewNop()
	extractor := NewExtractor(512)
	classifier := NewClassifier(logger)
	retrainer := NewRetrainController(store, store, classifier, DefaultRetrainPolicy(), logger)
	decider := NewDecisionEngine(DefaultThresholds(), extractor, nil, logger)
	_, err := NewTriageService(store, store, store, store, &fakeMailbox{},
		extractor, classifier, retrainer, decider, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature shape")
}
