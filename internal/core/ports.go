package core

import (
	"context"
	"time"
)

// SenderHistory is the persistent per-sender interaction store.
type SenderHistory interface {
	// Get returns the profile for a sender, or a fresh neutral profile if
	// the sender has never been seen. It never fails for unknown senders.
	Get(ctx context.Context, sender string) (*SenderProfile, error)

	// RecordAction applies one processed-message update to the sender's
	// profile. The read-modify-write is a single critical section.
	RecordAction(ctx context.Context, sender string, action Action, at time.Time) error

	// RecordFeedback applies one user correction to the sender's profile.
	RecordFeedback(ctx context.Context, sender string, wasImportant bool, at time.Time) error

	// CountSenders returns the number of distinct senders seen so far.
	CountSenders(ctx context.Context) (int64, error)
}

// FeedbackLedger stores user corrections keyed by message fingerprint.
// Upserting an existing fingerprint replaces the prior record.
type FeedbackLedger interface {
	Upsert(ctx context.Context, rec *FeedbackRecord) error
	All(ctx context.Context) ([]*FeedbackRecord, error)
	Count(ctx context.Context) (int64, error)
}

// ModelStore persists versioned classifier artifacts. The active-version
// pointer is stored separately and moved only after the artifact it names
// has been fully written.
type ModelStore interface {
	Save(ctx context.Context, m *ClassifierModel) error
	SetActive(ctx context.Context, version int64) error
	// Active returns the active model, or nil if none has been trained.
	Active(ctx context.Context) (*ClassifierModel, error)
	// Load returns one retained version, or nil if unknown.
	Load(ctx context.Context, version int64) (*ClassifierModel, error)
}

// ActionLog records the outcome of every processed message.
type ActionLog interface {
	// Find returns the record for a fingerprint, or nil if the message has
	// never been processed.
	Find(ctx context.Context, fingerprint string) (*ActionRecord, error)
	Record(ctx context.Context, rec *ActionRecord) error
	CountsByAction(ctx context.Context) (map[Action]int64, error)
}

// Store bundles the engine's persistence ports behind one backend.
type Store interface {
	SenderHistory
	FeedbackLedger
	ModelStore
	ActionLog
}

// MailboxClient is the consumed mailbox collaborator. Listing, label
// application, and any retry policy beyond a single attempt belong to the
// implementation behind this port.
type MailboxClient interface {
	ListUnread(ctx context.Context) ([]*Message, error)
	ApplyAction(ctx context.Context, fingerprint string, action Action) error
}
