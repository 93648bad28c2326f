package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gamewatch/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func snapshotAt(price, discount float64) *models.PriceSnapshot {
	return &models.PriceSnapshot{
		GameName:        "Hollow Knight",
		Region:          "US",
		Platform:        models.PlatformWindows,
		ObservedAt:      time.Now(),
		CurrentPrice:    price,
		ListPrice:       100,
		DiscountPercent: discount,
		Currency:        "USD",
	}
}

// applyOutcome mirrors what the scheduler persists after a cycle whose
// notification (if any) succeeded.
func applyOutcome(w *models.Watch, snap *models.PriceSnapshot, out Outcome) {
	price := snap.CurrentPrice
	w.LastPrice = &price
	satisfied := out.Satisfied
	w.LastOutcome = &satisfied
	if out.Newly {
		now := time.Now()
		value := out.Value
		w.LastNotifiedAt = &now
		w.NotifiedValue = &value
	}
}

func TestAllTimeLowSequence(t *testing.T) {
	w := &models.Watch{ID: 1, GameName: "Hollow Knight", CriteriaType: models.CriteriaAllTimeLow}

	// First observation seeds history only.
	out := Evaluate(w, snapshotAt(50, 0), nil)
	assert.False(t, out.Satisfied)
	assert.False(t, out.Newly)
	applyOutcome(w, snapshotAt(50, 0), out)

	// 40 beats the prior low of 50.
	out = Evaluate(w, snapshotAt(40, 0), floatPtr(50))
	assert.True(t, out.Satisfied)
	assert.True(t, out.Newly)
	applyOutcome(w, snapshotAt(40, 0), out)

	// 45 is above the prior low of 40.
	out = Evaluate(w, snapshotAt(45, 0), floatPtr(40))
	assert.False(t, out.Satisfied)
	assert.False(t, out.Newly)
	applyOutcome(w, snapshotAt(45, 0), out)

	// 30 is a new low again.
	out = Evaluate(w, snapshotAt(30, 0), floatPtr(40))
	assert.True(t, out.Satisfied)
	assert.True(t, out.Newly)
}

func TestAllTimeLowEqualPriceDoesNotSatisfy(t *testing.T) {
	w := &models.Watch{ID: 1, CriteriaType: models.CriteriaAllTimeLow}
	out := Evaluate(w, snapshotAt(40, 0), floatPtr(40))
	assert.False(t, out.Satisfied)
}

func TestDiscountThreshold(t *testing.T) {
	w := &models.Watch{ID: 1, CriteriaType: models.CriteriaDiscount, CriteriaValue: floatPtr(25)}

	out := Evaluate(w, snapshotAt(75.1, 24.9), nil)
	assert.False(t, out.Satisfied)

	out = Evaluate(w, snapshotAt(75, 25.0), nil)
	assert.True(t, out.Satisfied)
	assert.True(t, out.Newly)
	assert.Equal(t, 25.0, out.Value)
}

func TestDiscountDeepeningAtSamePriceNotifiesAgain(t *testing.T) {
	w := &models.Watch{ID: 1, CriteriaType: models.CriteriaDiscount, CriteriaValue: floatPtr(50)}

	out := Evaluate(w, snapshotAt(19, 52.5), nil)
	assert.True(t, out.Satisfied)
	assert.True(t, out.Newly)
	applyOutcome(w, snapshotAt(19, 52.5), out)

	// Same discount next cycle: no new notification.
	out = Evaluate(w, snapshotAt(19, 52.5), nil)
	assert.True(t, out.Satisfied)
	assert.False(t, out.Newly)
	applyOutcome(w, snapshotAt(19, 52.5), out)

	// The list price rose, so the discount deepened at an unchanged
	// current price. That is an improvement of the watched value.
	out = Evaluate(w, snapshotAt(19, 76.25), nil)
	assert.True(t, out.Satisfied)
	assert.True(t, out.Newly)
}

func TestLowerThanNotifiesOncePerDrop(t *testing.T) {
	w := &models.Watch{ID: 1, GameName: "Celeste", CriteriaType: models.CriteriaLowerThan, CriteriaValue: floatPtr(20)}

	// Above target: nothing.
	out := Evaluate(w, snapshotAt(25, 0), nil)
	assert.False(t, out.Satisfied)
	applyOutcome(w, snapshotAt(25, 0), out)

	// First drop below target notifies.
	out = Evaluate(w, snapshotAt(18, 0), nil)
	assert.True(t, out.Satisfied)
	assert.True(t, out.Newly)
	applyOutcome(w, snapshotAt(18, 0), out)

	// Same price next cycle: still satisfied, no new notification.
	out = Evaluate(w, snapshotAt(18, 0), nil)
	assert.True(t, out.Satisfied)
	assert.False(t, out.Newly)
	applyOutcome(w, snapshotAt(18, 0), out)

	// Strict improvement notifies again.
	out = Evaluate(w, snapshotAt(15, 0), nil)
	assert.True(t, out.Satisfied)
	assert.True(t, out.Newly)
	applyOutcome(w, snapshotAt(15, 0), out)

	// Back above target resets the edge.
	out = Evaluate(w, snapshotAt(22, 0), nil)
	assert.False(t, out.Satisfied)
	applyOutcome(w, snapshotAt(22, 0), out)

	// Dropping below target again notifies even though 19 > the last
	// notified price of 15: the transition is what matters.
	out = Evaluate(w, snapshotAt(19, 0), nil)
	assert.True(t, out.Satisfied)
	assert.True(t, out.Newly)
}

func TestLowerThanBoundaryIsInclusive(t *testing.T) {
	w := &models.Watch{ID: 1, CriteriaType: models.CriteriaLowerThan, CriteriaValue: floatPtr(20)}
	out := Evaluate(w, snapshotAt(20, 0), nil)
	assert.True(t, out.Satisfied)
}

func TestFailedNotificationIsReannounced(t *testing.T) {
	w := &models.Watch{ID: 1, CriteriaType: models.CriteriaLowerThan, CriteriaValue: floatPtr(20)}

	out := Evaluate(w, snapshotAt(18, 0), nil)
	assert.True(t, out.Newly)

	// Emission failed: the scheduler stores the outcome as not satisfied
	// and leaves the notified markers untouched.
	price := 18.0
	stored := false
	w.LastPrice = &price
	w.LastOutcome = &stored

	out = Evaluate(w, snapshotAt(18, 0), nil)
	assert.True(t, out.Newly, "unsent alert must be announced again")
}
