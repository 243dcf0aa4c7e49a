package core

import (
	"time"
)

// Action is the mailbox action chosen for a processed message.
type Action string

const (
	ActionMarkImportant Action = "mark_important"
	ActionArchive       Action = "archive"
	ActionTrash         Action = "trash"
	ActionMarkSpam      Action = "mark_spam"
)

// Actions lists every action in a stable order, used for stats and schema checks.
var Actions = []Action{ActionMarkImportant, ActionArchive, ActionTrash, ActionMarkSpam}

// Message is an immutable snapshot of one email at processing time.
// It is produced by the mailbox collaborator; the engine never mutates it.
type Message struct {
	Fingerprint    string
	Sender         string
	SenderDomain   string
	Subject        string
	Body           string
	HasUnsubscribe bool
	SentAt         time.Time
	RecipientCount int
}

// SenderProfile holds per-sender interaction statistics.
// Action counters are non-decreasing and always sum to TotalSeen.
type SenderProfile struct {
	Sender        string
	TotalSeen     int64
	ImportantSeen int64
	ArchivedSeen  int64
	TrashedSeen   int64
	SpamSeen      int64
	Corrections   int64
	Reputation    float64
	FirstSeen     time.Time
	LastSeen      time.Time
}

// NeutralReputation is the reputation assigned to a never-seen sender.
const NeutralReputation = 0.5

// NewSenderProfile returns a fresh neutral profile for an unseen sender.
func NewSenderProfile(sender string) *SenderProfile {
	return &SenderProfile{
		Sender:     sender,
		Reputation: NeutralReputation,
	}
}

// reputationAlpha controls how quickly reputation tracks recent behavior.
const reputationAlpha = 0.3

// favorability maps an action to the reputation target it pulls toward.
func favorability(action Action) float64 {
	switch action {
	case ActionMarkImportant:
		return 1.0
	case ActionArchive:
		return 0.5
	case ActionTrash:
		return 0.2
	case ActionMarkSpam:
		return 0.0
	default:
		return NeutralReputation
	}
}

// ApplyAction returns the profile after one processed message.
// Pure: callers apply it inside their per-sender critical section.
func ApplyAction(p SenderProfile, action Action, at time.Time) SenderProfile {
	p.TotalSeen++
	switch action {
	case ActionMarkImportant:
		p.ImportantSeen++
	case ActionArchive:
		p.ArchivedSeen++
	case ActionTrash:
		p.TrashedSeen++
	case ActionMarkSpam:
		p.SpamSeen++
	}
	p.Reputation = clamp01(p.Reputation + reputationAlpha*(favorability(action)-p.Reputation))
	if p.FirstSeen.IsZero() {
		p.FirstSeen = at
	}
	p.LastSeen = at
	return p
}

// ApplyFeedback returns the profile after one user correction.
// A single feedback event nudges reputation without resetting it.
func ApplyFeedback(p SenderProfile, wasImportant bool, at time.Time) SenderProfile {
	p.Corrections++
	target := 0.25
	if wasImportant {
		target = 1.0
	}
	p.Reputation = clamp01(p.Reputation + reputationAlpha*(target-p.Reputation))
	p.LastSeen = at
	return p
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FeatureShapeVersion identifies the layout of FeatureVector. A layout change
// requires a new version and invalidates models trained on the old shape.
const FeatureShapeVersion = 1

// FeatureCount is the fixed length of every feature vector.
const FeatureCount = 16

// FeatureVector is a fixed-shape numeric view of one message plus the
// sender profile snapshot it was extracted against.
type FeatureVector [FeatureCount]float64

// Prediction is the classifier output for one message.
type Prediction struct {
	Importance   float64
	Spam         float64
	ModelVersion int64
}

// FeedbackRecord is one user correction, keyed by message fingerprint.
// A later submission for the same fingerprint replaces the earlier record.
type FeedbackRecord struct {
	Fingerprint  string
	Features     FeatureVector
	Prediction   *Prediction
	WasImportant bool
	WasSpam      *bool
	SubmittedAt  time.Time
}

// ClassifierModel is one immutable versioned model artifact.
type ClassifierModel struct {
	Version           int64
	ShapeVersion      int
	ImportanceWeights [FeatureCount]float64
	ImportanceBias    float64
	SpamWeights       [FeatureCount]float64
	SpamBias          float64
	SampleCount       int64
	TrainedAt         time.Time
	Metric            float64
}

// ActionRecord is the persisted outcome for one processed message. Its
// presence makes reprocessing idempotent and carries the vector and
// prediction that feedback submission later refers back to.
type ActionRecord struct {
	Fingerprint string
	Sender      string
	Action      Action
	Features    FeatureVector
	Prediction  *Prediction
	ProcessedAt time.Time
}

// ResultStatus says what happened to one message within a batch.
type ResultStatus string

const (
	StatusProcessed ResultStatus = "processed"
	StatusSkipped   ResultStatus = "skipped"
	StatusFailed    ResultStatus = "failed"
)

// BatchResult is the per-message outcome of ProcessBatch. Every input
// message appears exactly once; nothing is silently dropped.
type BatchResult struct {
	Fingerprint string
	Status      ResultStatus
	Action      Action
	Prediction  *Prediction
	Reason      string
}

// Stats is the engine-level summary exposed to the presentation layer.
type Stats struct {
	TotalProcessed           int64
	CountsByAction           map[Action]int64
	DistinctSenders          int64
	FeedbackSinceLastRetrain int64
	ActiveModelVersion       int64
	ActiveModelMetric        float64
}
