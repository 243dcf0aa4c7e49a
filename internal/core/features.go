package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/mikey/inbox-triage/internal/utils"
)

// spamPhrases are coarse body/subject signals. Matching runs against the
// normalized, budget-truncated text so results do not depend on how much
// trailing content a message carries.
var spamPhrases = []string{
	"you ve won", "congratulations you won", "lottery winner",
	"million dollars", "inheritance", "wire transfer",
	"bank details", "urgent business", "forex", "investment opportunity",
	"unclaimed", "hot singles", "meet singles", "enlargement", "viagra",
	"pharmacy", "pills", "discount meds", "casino", "betting", "gambling",
}

// Positions within FeatureVector, shape version 1.
const (
	featReputation = iota
	featVolume
	featImportantRatio
	featArchivedRatio
	featTrashedRatio
	featSpamRatio
	featCorrectionRatio
	featUnsubscribe
	featHourOfDay
	featDayOfWeek
	featRecipients
	featSubjectLen
	featBodyLen
	featSubjectSpam
	featBodySpam
	featUrgency
)

// Extractor converts a message plus a sender profile snapshot into a
// fixed-shape feature vector. Extraction is a pure function of its inputs:
// time features come from the message timestamp, never the wall clock.
type Extractor struct {
	tokenizer *utils.Tokenizer
}

// NewExtractor creates an extractor with the given body token budget.
func NewExtractor(tokenBudget int) *Extractor {
	return &Extractor{tokenizer: utils.NewTokenizer(tokenBudget)}
}

// Extract derives the feature vector for one message. It fails only for
// structurally unusable messages (missing fingerprint or sender).
func (e *Extractor) Extract(msg *Message, profile *SenderProfile) (FeatureVector, error) {
	var v FeatureVector
	if msg.Fingerprint == "" {
		return v, fmt.Errorf("message has no fingerprint")
	}
	if msg.Sender == "" {
		return v, fmt.Errorf("message %s has no sender", msg.Fingerprint)
	}

	v[featReputation] = profile.Reputation
	v[featVolume] = volumeBucket(profile.TotalSeen)
	if profile.TotalSeen > 0 {
		total := float64(profile.TotalSeen)
		v[featImportantRatio] = float64(profile.ImportantSeen) / total
		v[featArchivedRatio] = float64(profile.ArchivedSeen) / total
		v[featTrashedRatio] = float64(profile.TrashedSeen) / total
		v[featSpamRatio] = float64(profile.SpamSeen) / total
		v[featCorrectionRatio] = clamp01(float64(profile.Corrections) / total)
	}
	if msg.HasUnsubscribe {
		v[featUnsubscribe] = 1
	}

	sent := msg.SentAt.UTC()
	v[featHourOfDay] = float64(sent.Hour()) / 23.0
	v[featDayOfWeek] = float64(sent.Weekday()) / 6.0
	v[featRecipients] = recipientBucket(msg.RecipientCount)

	subject := e.tokenizer.TruncatedText(msg.Subject)
	body := e.tokenizer.TruncatedText(msg.Body)
	v[featSubjectLen] = lengthBucket(len(strings.Fields(subject)))
	v[featBodyLen] = lengthBucket(len(strings.Fields(body)))
	if countPhrases(subject) > 0 {
		v[featSubjectSpam] = 1
	}
	if countPhrases(body) > 0 {
		v[featBodySpam] = 1
	}
	v[featUrgency] = urgencySignal(msg.Subject)

	return v, nil
}

// HeuristicSpamScore is the cold-start spam signal used before any model
// exists: each matched phrase adds 0.2, capped at 1.0.
func (e *Extractor) HeuristicSpamScore(msg *Message) float64 {
	text := e.tokenizer.TruncatedText(msg.Subject) + " " + e.tokenizer.TruncatedText(msg.Body)
	score := 0.2 * float64(countPhrases(text))
	return math.Min(score, 1.0)
}

func countPhrases(normalized string) int {
	n := 0
	for _, phrase := range spamPhrases {
		if strings.Contains(normalized, phrase) {
			n++
		}
	}
	return n
}

// volumeBucket compresses total-seen into [0,1] on a log scale; ~1000
// messages from one sender saturates the bucket.
func volumeBucket(totalSeen int64) float64 {
	return clamp01(math.Log2(1+float64(totalSeen)) / 10.0)
}

func recipientBucket(count int) float64 {
	switch {
	case count <= 1:
		return 0
	case count <= 5:
		return 0.5
	default:
		return 1
	}
}

// lengthBucket maps a token count to a coarse [0,1] size signal.
func lengthBucket(tokens int) float64 {
	switch {
	case tokens == 0:
		return 0
	case tokens <= 8:
		return 0.25
	case tokens <= 64:
		return 0.5
	case tokens <= 256:
		return 0.75
	default:
		return 1
	}
}

// urgencySignal flags shouty subjects: all-caps words or stacked
// exclamation marks.
func urgencySignal(subject string) float64 {
	if strings.Contains(subject, "!!") {
		return 1
	}
	for _, word := range strings.Fields(subject) {
		if len(word) >= 4 && word == strings.ToUpper(word) && word != strings.ToLower(word) {
			return 1
		}
	}
	return 0
}
