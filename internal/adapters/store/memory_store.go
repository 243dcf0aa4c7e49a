package store

import (
	"context"
	"sync"
	"time"

	"github.com/mikey/inbox-triage/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of the engine's persistence
// ports, used for tests and throwaway runs. The store mutex doubles as the
// per-sender critical section for profile read-modify-writes.
type MemoryStore struct {
	mu            sync.RWMutex
	profiles      map[string]core.SenderProfile
	feedback      map[string]*core.FeedbackRecord
	models        map[int64]*core.ClassifierModel
	activeVersion int64
	actions       map[string]*core.ActionRecord
	logger        *zap.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]core.SenderProfile),
		feedback: make(map[string]*core.FeedbackRecord),
		models:   make(map[int64]*core.ClassifierModel),
		actions:  make(map[string]*core.ActionRecord),
		logger:   logger,
	}
}

// Get returns the sender's profile, or a fresh neutral one if unseen.
func (s *MemoryStore) Get(ctx context.Context, sender string) (*core.SenderProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[sender]; ok {
		copied := p
		return &copied, nil
	}
	return core.NewSenderProfile(sender), nil
}

// RecordAction applies one processed-message update under the store lock.
func (s *MemoryStore) RecordAction(ctx context.Context, sender string, action core.Action, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[sender]
	if !ok {
		p = *core.NewSenderProfile(sender)
	}
	s.profiles[sender] = core.ApplyAction(p, action, at)
	return nil
}

// RecordFeedback applies one user correction under the store lock.
func (s *MemoryStore) RecordFeedback(ctx context.Context, sender string, wasImportant bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[sender]
	if !ok {
		p = *core.NewSenderProfile(sender)
	}
	s.profiles[sender] = core.ApplyFeedback(p, wasImportant, at)
	return nil
}

// CountSenders returns the number of distinct senders seen.
func (s *MemoryStore) CountSenders(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.profiles)), nil
}

// Upsert stores a feedback record, replacing any prior record for the same
// fingerprint.
func (s *MemoryStore) Upsert(ctx context.Context, rec *core.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.feedback[rec.Fingerprint] = &copied
	return nil
}

// All returns every feedback record.
func (s *MemoryStore) All(ctx context.Context) ([]*core.FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*core.FeedbackRecord, 0, len(s.feedback))
	for _, rec := range s.feedback {
		copied := *rec
		records = append(records, &copied)
	}
	return records, nil
}

// Count returns the ledger size.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.feedback)), nil
}

// Save stores a model version.
func (s *MemoryStore) Save(ctx context.Context, m *core.ClassifierModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *m
	s.models[m.Version] = &copied
	return nil
}

// SetActive moves the active-version pointer.
func (s *MemoryStore) SetActive(ctx context.Context, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeVersion = version
	return nil
}

// Active returns the active model, or nil if none has been trained.
func (s *MemoryStore) Active(ctx context.Context) (*core.ClassifierModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeVersion == 0 {
		return nil, nil
	}
	if m, ok := s.models[s.activeVersion]; ok {
		copied := *m
		return &copied, nil
	}
	return nil, nil
}

// Load returns one model version, or nil if unknown.
func (s *MemoryStore) Load(ctx context.Context, version int64) (*core.ClassifierModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.models[version]; ok {
		copied := *m
		return &copied, nil
	}
	return nil, nil
}

// Find returns the action record for a fingerprint, or nil.
func (s *MemoryStore) Find(ctx context.Context, fingerprint string) (*core.ActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.actions[fingerprint]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, nil
}

// Record stores the outcome of one processed message.
func (s *MemoryStore) Record(ctx context.Context, rec *core.ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.actions[rec.Fingerprint] = &copied
	return nil
}

// CountsByAction tallies recorded actions.
func (s *MemoryStore) CountsByAction(ctx context.Context) (map[core.Action]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[core.Action]int64, len(core.Actions))
	for _, rec := range s.actions {
		counts[rec.Action]++
	}
	return counts, nil
}
