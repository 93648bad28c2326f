package services

import (
	"gamewatch/internal/models"
)

// Outcome is the result of evaluating one watch against a new snapshot.
// Satisfied reports whether the condition holds; Newly reports whether a
// notification should actually go out this cycle.
type Outcome struct {
	Satisfied bool
	Newly     bool
	Reason    string
	Value     float64
}

// Evaluate decides whether a watch's condition is satisfied by the new
// snapshot, and whether it is newly satisfied. priorLow is the lowest price
// observed for the watch's game reference before this snapshot, nil when no
// history exists.
//
// A watch that stays satisfied across cycles does not re-notify: Newly is
// set only when the condition was false (or unknown) on the previous cycle,
// or when the satisfying value has strictly improved since the last
// successful notification. Improvement is judged on the criteria's own
// value: a lower price for all_time_low and lower_than, a deeper discount
// for discount.
func Evaluate(w *models.Watch, snap *models.PriceSnapshot, priorLow *float64) Outcome {
	out := Outcome{Reason: w.CriteriaType}

	switch w.CriteriaType {
	case models.CriteriaAllTimeLow:
		// The first observation only seeds history; there is no prior
		// reference point to beat, so it never satisfies.
		out.Satisfied = priorLow != nil && snap.CurrentPrice < *priorLow
		out.Value = snap.CurrentPrice
	case models.CriteriaDiscount:
		if w.CriteriaValue != nil {
			out.Satisfied = snap.DiscountPercent >= *w.CriteriaValue
		}
		out.Value = snap.DiscountPercent
	case models.CriteriaLowerThan:
		if w.CriteriaValue != nil {
			out.Satisfied = snap.CurrentPrice <= *w.CriteriaValue
		}
		out.Value = snap.CurrentPrice
	}

	if !out.Satisfied {
		return out
	}

	wasSatisfied := w.LastOutcome != nil && *w.LastOutcome
	improved := false
	if w.NotifiedValue != nil {
		if w.CriteriaType == models.CriteriaDiscount {
			improved = out.Value > *w.NotifiedValue
		} else {
			improved = out.Value < *w.NotifiedValue
		}
	}
	out.Newly = !wasSatisfied || improved
	return out
}
