package services

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"gamewatch/internal/models"
)

// Notifier delivers one alert for a newly satisfied watch. A returned error
// means the alert was not delivered; the caller must not mark the watch as
// notified so the condition can be re-announced on a later cycle.
type Notifier interface {
	Notify(rec *models.Notification) error
}

// BuildNotification renders the alert record for a newly satisfied watch.
// The same record is broadcast to sinks and persisted for auditing.
func BuildNotification(w *models.Watch, snap *models.PriceSnapshot, out Outcome) *models.Notification {
	var message string
	switch w.CriteriaType {
	case models.CriteriaAllTimeLow:
		message = fmt.Sprintf("%s is at a new all-time low of %.2f %s on %s (%s)",
			w.GameName, snap.CurrentPrice, snap.Currency, w.Platform, snap.StoreName)
	case models.CriteriaDiscount:
		message = fmt.Sprintf("%s is %.0f%% off: now %.2f %s on %s (%s)",
			w.GameName, snap.DiscountPercent, snap.CurrentPrice, snap.Currency, w.Platform, snap.StoreName)
	case models.CriteriaLowerThan:
		target := 0.0
		if w.CriteriaValue != nil {
			target = *w.CriteriaValue
		}
		message = fmt.Sprintf("%s dropped below your target of %.2f: now %.2f %s on %s (%s)",
			w.GameName, target, snap.CurrentPrice, snap.Currency, w.Platform, snap.StoreName)
	}

	return &models.Notification{
		ID:        uuid.NewString(),
		WatchID:   w.ID,
		OwnerRef:  w.OwnerRef,
		Reason:    w.CriteriaType,
		Value:     out.Value,
		Price:     snap.CurrentPrice,
		Currency:  snap.Currency,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

// LogNotifier writes alerts to the operational log. It never fails, which
// makes it the fallback sink when no live channel is configured.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(rec *models.Notification) error {
	n.logger.Printf("ALERT watch=%d owner=%s %s", rec.WatchID, rec.OwnerRef, rec.Message)
	return nil
}

// MultiNotifier fans an alert out to several sinks. Emission counts as
// successful if at least one sink accepted it.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(rec *models.Notification) error {
	var lastErr error
	delivered := false
	for _, n := range m {
		if err := n.Notify(rec); err != nil {
			lastErr = err
			continue
		}
		delivered = true
	}
	if !delivered && lastErr != nil {
		return lastErr
	}
	return nil
}
