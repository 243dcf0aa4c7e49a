package core

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a ProcessBatch or Retrain call arrives while
	// another is already running. Callers should retry later.
	ErrBusy = errors.New("engine busy")

	// ErrNoModel is returned by Predict before any model has been trained.
	ErrNoModel = errors.New("no trained model")
)

// RetrainReason says why a retrain attempt was rejected.
type RetrainReason string

const (
	ReasonInsufficientSamples RetrainReason = "insufficient_samples"
	ReasonRegressionDetected  RetrainReason = "regression_detected"
)

// RetrainRejectedError is returned when a retrain attempt does not produce
// a new active model. The previously active model remains in place.
type RetrainRejectedError struct {
	Reason RetrainReason
	Detail string
}

func (e *RetrainRejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("retrain rejected: %s", e.Reason)
	}
	return fmt.Sprintf("retrain rejected: %s: %s", e.Reason, e.Detail)
}

// FeedbackReason says why a feedback submission was rejected.
type FeedbackReason string

const (
	ReasonUnknownMessage FeedbackReason = "unknown_message"
)

// FeedbackRejectedError is returned when feedback cannot be accepted.
type FeedbackRejectedError struct {
	Reason      FeedbackReason
	Fingerprint string
}

func (e *FeedbackRejectedError) Error() string {
	return fmt.Sprintf("feedback rejected for %q: %s", e.Fingerprint, e.Reason)
}
