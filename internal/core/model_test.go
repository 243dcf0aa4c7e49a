package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyActionCountersSumToTotalSeen(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p := *NewSenderProfile("a@example.com")

	for i, action := range []Action{
		ActionArchive, ActionMarkImportant, ActionArchive,
		ActionTrash, ActionMarkSpam, ActionMarkImportant,
	} {
		p = ApplyAction(p, action, at.Add(time.Duration(i)*time.Hour))
	}

	assert.Equal(t, int64(6), p.TotalSeen)
	sum := p.ImportantSeen + p.ArchivedSeen + p.TrashedSeen + p.SpamSeen
	assert.Equal(t, p.TotalSeen, sum)
	assert.Equal(t, int64(2), p.ImportantSeen)
	assert.Equal(t, int64(2), p.ArchivedSeen)
	assert.Equal(t, int64(1), p.TrashedSeen)
	assert.Equal(t, int64(1), p.SpamSeen)
	assert.Equal(t, at, p.FirstSeen)
	assert.Equal(t, at.Add(5*time.Hour), p.LastSeen)
}

func TestReputationStaysInUnitInterval(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	p := *NewSenderProfile("good@example.com")
	for i := 0; i < 50; i++ {
		p = ApplyAction(p, ActionMarkImportant, at)
		assert.LessOrEqual(t, p.Reputation, 1.0)
	}
	assert.Greater(t, p.Reputation, 0.99, "sustained importance converges toward 1")

	q := *NewSenderProfile("bad@example.com")
	for i := 0; i < 50; i++ {
		q = ApplyAction(q, ActionMarkSpam, at)
		assert.GreaterOrEqual(t, q.Reputation, 0.0)
	}
	assert.Less(t, q.Reputation, 0.01, "sustained spam converges toward 0")
}

func TestReputationMovesTowardActionTarget(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p := *NewSenderProfile("a@example.com")

	up := ApplyAction(p, ActionMarkImportant, at)
	assert.Greater(t, up.Reputation, p.Reputation)

	down := ApplyAction(p, ActionTrash, at)
	assert.Less(t, down.Reputation, p.Reputation)

	// Archive pulls toward neutral, so a neutral profile stays put.
	flat := ApplyAction(p, ActionArchive, at)
	assert.Equal(t, p.Reputation, flat.Reputation)
}

func TestApplyFeedbackNudgesWithoutResetting(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p := *NewSenderProfile("a@example.com")
	for i := 0; i < 10; i++ {
		p = ApplyAction(p, ActionMarkSpam, at)
	}
	low := p.Reputation

	corrected := ApplyFeedback(p, true, at.Add(time.Hour))
	assert.Equal(t, int64(1), corrected.Corrections)
	assert.Greater(t, corrected.Reputation, low)
	assert.Less(t, corrected.Reputation, 1.0, "one correction must not saturate reputation")
	assert.Equal(t, p.TotalSeen, corrected.TotalSeen, "feedback is not a sighting")

	negative := ApplyFeedback(*NewSenderProfile("b@example.com"), false, at)
	assert.Less(t, negative.Reputation, NeutralReputation)
}
