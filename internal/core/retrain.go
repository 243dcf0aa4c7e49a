package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// RetrainPolicy holds the knobs governing when a retrain attempt is allowed
// and when a candidate model may replace the active one.
type RetrainPolicy struct {
	// MinFeedback is the number of ledger records that must accumulate
	// since the active model was trained before a retrain is attempted.
	MinFeedback int
	// Tolerance is how much worse (absolute accuracy) a candidate's
	// validation metric may be than the active model's and still be
	// accepted. A tie always passes.
	Tolerance float64
	// HoldoutEvery holds out every Nth ledger record for validation.
	HoldoutEvery int
	Epochs       int
	LearningRate float64
}

// DefaultRetrainPolicy mirrors the documented configuration defaults.
func DefaultRetrainPolicy() RetrainPolicy {
	return RetrainPolicy{
		MinFeedback:  20,
		Tolerance:    0.02,
		HoldoutEvery: 5,
		Epochs:       200,
		LearningRate: 0.5,
	}
}

// RetrainController turns accumulated feedback into new model versions.
// A candidate becomes active only after its artifact is fully persisted and
// it clears the regression check against the active model's metric.
type RetrainController struct {
	ledger     FeedbackLedger
	models     ModelStore
	classifier *Classifier
	policy     RetrainPolicy
	logger     *zap.Logger
	now        func() time.Time
}

// NewRetrainController creates a retrain controller.
func NewRetrainController(
	ledger FeedbackLedger,
	models ModelStore,
	classifier *Classifier,
	policy RetrainPolicy,
	logger *zap.Logger,
) *RetrainController {
	return &RetrainController{
		ledger:     ledger,
		models:     models,
		classifier: classifier,
		policy:     policy,
		logger:     logger,
		now:        time.Now,
	}
}

// CanRetrain reports whether enough feedback has accumulated since the
// active model was trained. Pure predicate over the ledger size.
func (rc *RetrainController) CanRetrain(ledgerSize int64, active *ClassifierModel) bool {
	var trainedOn int64
	if active != nil {
		trainedOn = active.SampleCount
	}
	return ledgerSize-trainedOn >= int64(rc.policy.MinFeedback)
}

// Retrain trains a candidate on the full ledger, validates it on a held-out
// split, and activates it if it does not regress. On rejection the previous
// model remains active and the error reports why.
func (rc *RetrainController) Retrain(ctx context.Context) (*ClassifierModel, error) {
	records, err := rc.ledger.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback ledger: %w", err)
	}

	active := rc.classifier.ActiveModel()
	if !rc.CanRetrain(int64(len(records)), active) {
		return nil, &RetrainRejectedError{
			Reason: ReasonInsufficientSamples,
			Detail: fmt.Sprintf("need %d new feedback records", rc.policy.MinFeedback),
		}
	}

	// Fingerprint order makes the held-out split independent of ledger
	// insertion order.
	sort.Slice(records, func(i, j int) bool {
		return records[i].Fingerprint < records[j].Fingerprint
	})

	trainRecs, validateRecs := rc.split(records)
	candidate := rc.train(trainRecs)
	candidate.Metric = rc.validate(candidate, validateRecs)
	candidate.SampleCount = int64(len(records))
	candidate.TrainedAt = rc.now()
	if active != nil {
		candidate.Version = active.Version + 1
	} else {
		candidate.Version = 1
	}

	if active != nil && candidate.Metric < active.Metric-rc.policy.Tolerance {
		rc.logger.Warn("Rejected candidate model",
			zap.Int64("candidate_version", candidate.Version),
			zap.Float64("candidate_metric", candidate.Metric),
			zap.Float64("active_metric", active.Metric))
		return nil, &RetrainRejectedError{
			Reason: ReasonRegressionDetected,
			Detail: fmt.Sprintf("candidate %.4f vs active %.4f", candidate.Metric, active.Metric),
		}
	}

	// Persist the artifact before moving the active pointer so a crash in
	// between never leaves the pointer naming an unwritten version.
	if err := rc.models.Save(ctx, candidate); err != nil {
		return nil, fmt.Errorf("failed to save model version %d: %w", candidate.Version, err)
	}
	if err := rc.models.SetActive(ctx, candidate.Version); err != nil {
		return nil, fmt.Errorf("failed to activate model version %d: %w", candidate.Version, err)
	}
	rc.classifier.SetActive(candidate)

	rc.logger.Info("Retrained classifier",
		zap.Int64("version", candidate.Version),
		zap.Int("training_samples", len(trainRecs)),
		zap.Int("validation_samples", len(validateRecs)),
		zap.Float64("metric", candidate.Metric))
	return candidate, nil
}

// split holds out every Nth record for validation. With too few records to
// populate a holdout, validation falls back to the training set.
func (rc *RetrainController) split(records []*FeedbackRecord) (train, validate []*FeedbackRecord) {
	for i, rec := range records {
		if (i+1)%rc.policy.HoldoutEvery == 0 {
			validate = append(validate, rec)
		} else {
			train = append(train, rec)
		}
	}
	if len(validate) == 0 {
		validate = train
	}
	return train, validate
}

func (rc *RetrainController) train(records []*FeedbackRecord) *ClassifierModel {
	vecs := make([]FeatureVector, len(records))
	importance := make([]float64, len(records))
	spam := make([]float64, len(records))
	for i, rec := range records {
		vecs[i] = rec.Features
		if rec.WasImportant {
			importance[i] = 1
		}
		// Feedback without an explicit spam verdict counts as not-spam:
		// the user looked at the message and corrected only importance.
		if rec.WasSpam != nil && *rec.WasSpam {
			spam[i] = 1
		}
	}

	m := &ClassifierModel{ShapeVersion: FeatureShapeVersion}
	m.ImportanceWeights, m.ImportanceBias = trainHead(vecs, importance, rc.policy.Epochs, rc.policy.LearningRate)
	m.SpamWeights, m.SpamBias = trainHead(vecs, spam, rc.policy.Epochs, rc.policy.LearningRate)
	return m
}

// validate scores the importance head on the held-out records. Importance
// is the label every feedback record carries, so it gates acceptance.
func (rc *RetrainController) validate(m *ClassifierModel, records []*FeedbackRecord) float64 {
	vecs := make([]FeatureVector, len(records))
	labels := make([]float64, len(records))
	for i, rec := range records {
		vecs[i] = rec.Features
		if rec.WasImportant {
			labels[i] = 1
		}
	}
	return headAccuracy(m.ImportanceWeights, m.ImportanceBias, vecs, labels)
}
