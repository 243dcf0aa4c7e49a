package core

import (
	"go.uber.org/zap"
)

// Thresholds are the recognized decision-policy options.
type Thresholds struct {
	// Important is the importance score at or above which a message is
	// marked important.
	Important float64
	// Spam is the spam score at or above which a message routes to spam.
	Spam float64
	// NewsletterCeiling is the importance score below which a detected
	// newsletter is trashed rather than archived.
	NewsletterCeiling float64
	// HeuristicSpam is the cold-start phrase-score spam threshold.
	HeuristicSpam float64
	// ReputationProxy is the cold-start sender reputation at or above
	// which a message is treated as important.
	ReputationProxy float64
}

// DefaultThresholds mirrors the documented configuration defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Important:         0.55,
		Spam:              0.8,
		NewsletterCeiling: 0.4,
		HeuristicSpam:     0.3,
		ReputationProxy:   0.75,
	}
}

// Whitelist reports whether a sender's domain is trusted. Spam routing is
// suppressed for whitelisted senders.
type Whitelist interface {
	IsWhitelisted(sender string) bool
}

// DecisionEngine maps classifier output and deterministic heuristics onto a
// single mailbox action. The priority order is a policy choice: spam routing
// always dominates importance routing so spam is never surfaced as
// important, and spam routes to MARK_SPAM, never TRASH.
type DecisionEngine struct {
	thresholds Thresholds
	extractor  *Extractor
	whitelist  Whitelist
	logger     *zap.Logger
}

// NewDecisionEngine creates a decision engine. whitelist may be nil.
func NewDecisionEngine(thresholds Thresholds, extractor *Extractor, whitelist Whitelist, logger *zap.Logger) *DecisionEngine {
	return &DecisionEngine{
		thresholds: thresholds,
		extractor:  extractor,
		whitelist:  whitelist,
		logger:     logger,
	}
}

// Decide picks the action for one message. pred is nil during cold start,
// when decisions fall back to heuristics only.
func (d *DecisionEngine) Decide(msg *Message, pred *Prediction, profile *SenderProfile) Action {
	if d.isSpam(msg, pred) && !d.isWhitelisted(msg.Sender) {
		return ActionMarkSpam
	}

	importance := d.importanceSignal(pred, profile)
	if d.isImportant(pred, profile) {
		return ActionMarkImportant
	}

	if msg.HasUnsubscribe && importance < d.thresholds.NewsletterCeiling {
		return ActionTrash
	}

	return ActionArchive
}

func (d *DecisionEngine) isSpam(msg *Message, pred *Prediction) bool {
	if pred != nil {
		return pred.Spam >= d.thresholds.Spam
	}
	score := d.extractor.HeuristicSpamScore(msg)
	if score >= d.thresholds.HeuristicSpam {
		d.logger.Debug("Heuristic spam signal",
			zap.String("fingerprint", msg.Fingerprint),
			zap.Float64("score", score))
		return true
	}
	return false
}

func (d *DecisionEngine) isImportant(pred *Prediction, profile *SenderProfile) bool {
	if pred != nil {
		return pred.Importance >= d.thresholds.Important
	}
	return profile.Reputation >= d.thresholds.ReputationProxy
}

// importanceSignal is the score the newsletter rule compares against the
// ceiling: the model's importance score, or sender reputation at cold start.
func (d *DecisionEngine) importanceSignal(pred *Prediction, profile *SenderProfile) float64 {
	if pred != nil {
		return pred.Importance
	}
	return profile.Reputation
}

func (d *DecisionEngine) isWhitelisted(sender string) bool {
	return d.whitelist != nil && d.whitelist.IsWhitelisted(sender)
}
