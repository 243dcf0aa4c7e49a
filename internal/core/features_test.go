package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractIsDeterministic(t *testing.T) {
	extractor := NewExtractor(512)
	msg := &Message{
		Fingerprint:    "msg-1",
		Sender:         "news@letters.example.com",
		SenderDomain:   "letters.example.com",
		Subject:        "Weekly digest",
		Body:           "Here is what happened this week.",
		HasUnsubscribe: true,
		SentAt:         time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC),
		RecipientCount: 40,
	}
	profile := &SenderProfile{
		Sender:       msg.Sender,
		TotalSeen:    10,
		ArchivedSeen: 8,
		TrashedSeen:  2,
		Corrections:  1,
		Reputation:   0.4,
	}

	first, err := extractor.Extract(msg, profile)
	require.NoError(t, err)
	second, err := extractor.Extract(msg, profile)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 0.4, first[featReputation])
	assert.Equal(t, 0.8, first[featArchivedRatio])
	assert.Equal(t, 0.2, first[featTrashedRatio])
	assert.Equal(t, 0.1, first[featCorrectionRatio])
	assert.Equal(t, 1.0, first[featUnsubscribe])
	assert.Equal(t, 1.0, first[featRecipients])
}

func TestExtractTimeFeaturesComeFromMessage(t *testing.T) {
	extractor := NewExtractor(512)
	msg := &Message{
		Fingerprint: "msg-1",
		Sender:      "a@example.com",
		// Tuesday, 23:00 UTC.
		SentAt:         time.Date(2024, 6, 4, 23, 15, 0, 0, time.UTC),
		RecipientCount: 1,
	}

	v, err := extractor.Extract(msg, NewSenderProfile(msg.Sender))
	require.NoError(t, err)
	assert.Equal(t, 1.0, v[featHourOfDay])
	assert.InDelta(t, 2.0/6.0, v[featDayOfWeek], 1e-9)
}

func TestExtractFailsWithoutFingerprintOrSender(t *testing.T) {
	extractor := NewExtractor(512)
	sent := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := extractor.Extract(&Message{Sender: "a@example.com", SentAt: sent},
		NewSenderProfile("a@example.com"))
	assert.Error(t, err)

	_, err = extractor.Extract(&Message{Fingerprint: "msg-1", SentAt: sent},
		NewSenderProfile(""))
	assert.Error(t, err)
}

func TestExtractIgnoresTextBeyondTokenBudget(t *testing.T) {
	extractor := NewExtractor(16)
	base := strings.Repeat("word ", 16)
	sent := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	short := &Message{
		Fingerprint: "msg-a", Sender: "a@example.com",
		Body: base, SentAt: sent, RecipientCount: 1,
	}
	long := &Message{
		Fingerprint: "msg-a", Sender: "a@example.com",
		Body: base + "viagra casino lottery winner", SentAt: sent, RecipientCount: 1,
	}

	profile := NewSenderProfile("a@example.com")
	vShort, err := extractor.Extract(short, profile)
	require.NoError(t, err)
	vLong, err := extractor.Extract(long, profile)
	require.NoError(t, err)

	// Spam phrases past the budget must not leak into the features.
	assert.Equal(t, vShort, vLong)
	assert.Equal(t, 0.0, vLong[featBodySpam])
}

func TestExtractNormalizesCaseAndPunctuation(t *testing.T) {
	extractor := NewExtractor(512)
	sent := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := &Message{
		Fingerprint: "msg-1", Sender: "a@example.com",
		Subject: "You've WON the LOTTERY, winner!",
		SentAt:  sent, RecipientCount: 1,
	}

	v, err := extractor.Extract(msg, NewSenderProfile(msg.Sender))
	require.NoError(t, err)
	assert.Equal(t, 1.0, v[featSubjectSpam])
	assert.Equal(t, 1.0, v[featUrgency], "all-caps word flags urgency")
}

func TestHeuristicSpamScoreCapsAtOne(t *testing.T) {
	extractor := NewExtractor(512)

	clean := &Message{Subject: "lunch tomorrow?", Body: "see you at noon"}
	assert.Equal(t, 0.0, extractor.HeuristicSpamScore(clean))

	one := &Message{Subject: "casino night", Body: "bring friends"}
	assert.InDelta(t, 0.2, extractor.HeuristicSpamScore(one), 1e-9)

	many := &Message{
		Subject: "lottery winner unclaimed million dollars",
		Body:    "wire transfer bank details urgent business casino viagra pharmacy",
	}
	assert.Equal(t, 1.0, extractor.HeuristicSpamScore(many))
}

func TestVolumeBucketGrowsAndSaturates(t *testing.T) {
	assert.Equal(t, 0.0, volumeBucket(0))
	assert.Greater(t, volumeBucket(10), volumeBucket(1))
	assert.Greater(t, volumeBucket(100), volumeBucket(10))
	assert.Equal(t, 1.0, volumeBucket(5000))
}
