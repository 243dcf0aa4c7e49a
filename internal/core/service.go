package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// TriageService is the single entry point for processing batches, accepting
// feedback, retraining, and reporting stats. ProcessBatch and Retrain share
// a try-lock: a concurrent invocation is rejected with ErrBusy immediately
// rather than queued, so a slow batch never stacks work.
type TriageService struct {
	history    SenderHistory
	ledger     FeedbackLedger
	actions    ActionLog
	mailbox    MailboxClient
	extractor  *Extractor
	classifier *Classifier
	retrainer  *RetrainController
	decider    *DecisionEngine
	logger     *zap.Logger

	runMu sync.Mutex
	now   func() time.Time
}

// NewTriageService wires the engine together and restores the active model
// from the store. An unreadable model store is a startup-blocking error.
func NewTriageService(
	history SenderHistory,
	ledger FeedbackLedger,
	models ModelStore,
	actions ActionLog,
	mailbox MailboxClient,
	extractor *Extractor,
	classifier *Classifier,
	retrainer *RetrainController,
	decider *DecisionEngine,
	logger *zap.Logger,
) (*TriageService, error) {
	active, err := models.Active(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to load active model: %w", err)
	}
	if active != nil {
		if active.ShapeVersion != FeatureShapeVersion {
			return nil, fmt.Errorf("active model version %d has feature shape %d, engine expects %d",
				active.Version, active.ShapeVersion, FeatureShapeVersion)
		}
		classifier.SetActive(active)
	} else {
		logger.Info("No trained model found, starting with heuristic-only decisions")
	}

	return &TriageService{
		history:    history,
		ledger:     ledger,
		actions:    actions,
		mailbox:    mailbox,
		extractor:  extractor,
		classifier: classifier,
		retrainer:  retrainer,
		decider:    decider,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// ProcessUnread lists unread messages from the mailbox collaborator and
// processes them as one batch.
func (s *TriageService) ProcessUnread(ctx context.Context) ([]BatchResult, error) {
	msgs, err := s.mailbox.ListUnread(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}
	return s.ProcessBatch(ctx, msgs)
}

// ProcessBatch classifies each message in input order, emits the chosen
// action to the mailbox, and records the outcome. Per-message failures are
// isolated: they are reported in the result and never abort the batch.
// Already-processed fingerprints are skipped without re-emission.
func (s *TriageService) ProcessBatch(ctx context.Context, msgs []*Message) ([]BatchResult, error) {
	if !s.runMu.TryLock() {
		return nil, ErrBusy
	}
	defer s.runMu.Unlock()

	batchID := ulid.Make().String()
	// One model version for the whole batch, even if a retrain activates a
	// newer one while we run.
	model := s.classifier.ActiveModel()
	s.logger.Info("Processing batch",
		zap.String("batch_id", batchID),
		zap.Int("messages", len(msgs)),
		zap.Int64("model_version", modelVersion(model)))

	results := make([]BatchResult, 0, len(msgs))
	for _, msg := range msgs {
		results = append(results, s.processOne(ctx, msg, model, batchID))
	}
	return results, nil
}

func (s *TriageService) processOne(ctx context.Context, msg *Message, model *ClassifierModel, batchID string) BatchResult {
	existing, err := s.actions.Find(ctx, msg.Fingerprint)
	if err != nil {
		s.logger.Error("Failed to read action log",
			zap.String("batch_id", batchID),
			zap.String("fingerprint", msg.Fingerprint),
			zap.Error(err))
		return failed(msg.Fingerprint, "action log read: "+err.Error())
	}
	if existing != nil {
		return BatchResult{
			Fingerprint: msg.Fingerprint,
			Status:      StatusSkipped,
			Action:      existing.Action,
			Prediction:  existing.Prediction,
			Reason:      "already processed",
		}
	}

	profile, err := s.history.Get(ctx, msg.Sender)
	if err != nil {
		s.logger.Error("Failed to read sender history",
			zap.String("batch_id", batchID),
			zap.String("sender", msg.Sender),
			zap.Error(err))
		return failed(msg.Fingerprint, "sender history read: "+err.Error())
	}

	features, err := s.extractor.Extract(msg, profile)
	if err != nil {
		s.logger.Warn("Skipping unextractable message",
			zap.String("batch_id", batchID),
			zap.String("fingerprint", msg.Fingerprint),
			zap.Error(err))
		return failed(msg.Fingerprint, "extraction: "+err.Error())
	}

	var pred *Prediction
	if model != nil {
		pred = model.Predict(features)
	}
	action := s.decider.Decide(msg, pred, profile)

	// Emit before recording: an action that never reached the mailbox must
	// not be recorded as applied, so the message is retried next batch.
	if err := s.mailbox.ApplyAction(ctx, msg.Fingerprint, action); err != nil {
		s.logger.Warn("Failed to apply action to mailbox",
			zap.String("batch_id", batchID),
			zap.String("fingerprint", msg.Fingerprint),
			zap.String("action", string(action)),
			zap.Error(err))
		return failed(msg.Fingerprint, "emission: "+err.Error())
	}

	at := s.now()
	if err := s.history.RecordAction(ctx, msg.Sender, action, at); err != nil {
		s.logger.Error("Failed to update sender history",
			zap.String("batch_id", batchID),
			zap.String("sender", msg.Sender),
			zap.Error(err))
		return failed(msg.Fingerprint, "sender history write: "+err.Error())
	}
	if err := s.actions.Record(ctx, &ActionRecord{
		Fingerprint: msg.Fingerprint,
		Sender:      msg.Sender,
		Action:      action,
		Features:    features,
		Prediction:  pred,
		ProcessedAt: at,
	}); err != nil {
		s.logger.Error("Failed to record action",
			zap.String("batch_id", batchID),
			zap.String("fingerprint", msg.Fingerprint),
			zap.Error(err))
		return failed(msg.Fingerprint, "action log write: "+err.Error())
	}

	s.logger.Debug("Processed message",
		zap.String("batch_id", batchID),
		zap.String("fingerprint", msg.Fingerprint),
		zap.String("sender", msg.Sender),
		zap.String("action", string(action)))
	return BatchResult{
		Fingerprint: msg.Fingerprint,
		Status:      StatusProcessed,
		Action:      action,
		Prediction:  pred,
	}
}

// SubmitFeedback records a user correction for a previously processed
// message. Feedback for a fingerprint this engine never processed is
// rejected and leaves all state untouched.
func (s *TriageService) SubmitFeedback(ctx context.Context, fingerprint string, wasImportant bool, wasSpam *bool) error {
	rec, err := s.actions.Find(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to look up processed message: %w", err)
	}
	if rec == nil {
		return &FeedbackRejectedError{Reason: ReasonUnknownMessage, Fingerprint: fingerprint}
	}

	at := s.now()
	if err := s.ledger.Upsert(ctx, &FeedbackRecord{
		Fingerprint:  fingerprint,
		Features:     rec.Features,
		Prediction:   rec.Prediction,
		WasImportant: wasImportant,
		WasSpam:      wasSpam,
		SubmittedAt:  at,
	}); err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}
	if err := s.history.RecordFeedback(ctx, rec.Sender, wasImportant, at); err != nil {
		return fmt.Errorf("failed to update sender history: %w", err)
	}

	s.logger.Info("Recorded feedback",
		zap.String("fingerprint", fingerprint),
		zap.Bool("was_important", wasImportant))
	return nil
}

// Retrain manually triggers the retraining controller. It shares the busy
// lock with ProcessBatch.
func (s *TriageService) Retrain(ctx context.Context) (*ClassifierModel, error) {
	if !s.runMu.TryLock() {
		return nil, ErrBusy
	}
	defer s.runMu.Unlock()
	return s.retrainer.Retrain(ctx)
}

// Stats summarizes engine state for the presentation layer.
func (s *TriageService) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.actions.CountsByAction(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	ledgerSize, err := s.ledger.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count feedback: %w", err)
	}
	senders, err := s.history.CountSenders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count senders: %w", err)
	}

	stats := &Stats{
		TotalProcessed:           total,
		CountsByAction:           counts,
		DistinctSenders:          senders,
		FeedbackSinceLastRetrain: ledgerSize,
	}
	if active := s.classifier.ActiveModel(); active != nil {
		stats.ActiveModelVersion = active.Version
		stats.ActiveModelMetric = active.Metric
		stats.FeedbackSinceLastRetrain = ledgerSize - active.SampleCount
	}
	return stats, nil
}

func failed(fingerprint, reason string) BatchResult {
	return BatchResult{Fingerprint: fingerprint, Status: StatusFailed, Reason: reason}
}

func modelVersion(m *ClassifierModel) int64 {
	if m == nil {
		return 0
	}
	return m.Version
}
