// Package store implements durable CRUD over watches, price snapshots and
// notification records. All per-watch mutations done by the evaluation cycle
// go through single transactions so a crash cannot leave a snapshot saved
// with the schedule not advanced, or vice versa.
package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"gamewatch/internal/models"
	"gamewatch/internal/schedule"
)

// claimTTL bounds how long a claimed watch stays invisible to ListDue.
// A cycle that dies without committing is reclaimable after this.
const claimTTL = 10 * time.Minute

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// validateWatch checks enum values, the cron expression and the target
// value rules before a watch is written.
func validateWatch(w *models.Watch) error {
	if strings.TrimSpace(w.GameName) == "" {
		return fmt.Errorf("%w: game name is required", ErrValidation)
	}
	if !models.ValidPlatform(w.Platform) {
		return fmt.Errorf("%w: unknown platform %q", ErrValidation, w.Platform)
	}
	if !models.ValidCriteriaType(w.CriteriaType) {
		return fmt.Errorf("%w: unknown criteria type %q", ErrValidation, w.CriteriaType)
	}
	if len(w.Region) != 2 || w.Region != strings.ToUpper(w.Region) {
		return fmt.Errorf("%w: region must be a two-letter ISO country code, got %q", ErrValidation, w.Region)
	}
	if err := schedule.Validate(w.Schedule); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	switch w.CriteriaType {
	case models.CriteriaLowerThan:
		if w.CriteriaValue == nil {
			return fmt.Errorf("%w: criteria value is required as a target price for %s", ErrValidation, w.CriteriaType)
		}
	case models.CriteriaDiscount:
		if w.CriteriaValue == nil {
			return fmt.Errorf("%w: criteria value is required as a discount percentage for %s", ErrValidation, w.CriteriaType)
		}
	case models.CriteriaAllTimeLow:
		if w.CriteriaValue != nil {
			return fmt.Errorf("%w: %s watches take no criteria value", ErrValidation, w.CriteriaType)
		}
	}
	return nil
}

// Create validates the watch, computes its first due time from the cron
// expression and persists it. The assigned id is written back into w.
func (s *Store) Create(w *models.Watch) error {
	if err := validateWatch(w); err != nil {
		return err
	}
	cr, err := schedule.Parse(w.Schedule)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	w.NextRunAt = cr.Next(time.Now())
	if err := s.db.Create(w).Error; err != nil {
		return fmt.Errorf("create watch: %w", err)
	}
	return nil
}

func (s *Store) Get(id uint) (*models.Watch, error) {
	var w models.Watch
	err := s.db.First(&w, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get watch %d: %w", id, err)
	}
	return &w, nil
}

// GetByName returns all watches whose game name matches, case-insensitive.
func (s *Store) GetByName(gameName string) ([]models.Watch, error) {
	var watches []models.Watch
	err := s.db.Where("LOWER(game_name) = LOWER(?)", gameName).Order("id asc").Find(&watches).Error
	if err != nil {
		return nil, fmt.Errorf("get watches by name %q: %w", gameName, err)
	}
	return watches, nil
}

// Resolve maps an identifier, either a numeric watch id or a game name, to
// a single watch. A name matching more than one watch fails with
// ErrAmbiguousReference.
func (s *Store) Resolve(identifier string) (*models.Watch, error) {
	if id, err := strconv.ParseUint(identifier, 10, 32); err == nil {
		return s.Get(uint(id))
	}
	watches, err := s.GetByName(identifier)
	if err != nil {
		return nil, err
	}
	switch len(watches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return &watches[0], nil
	default:
		return nil, fmt.Errorf("%w: %d watches match game name %q", ErrAmbiguousReference, len(watches), identifier)
	}
}

// UpdateFields holds the optional fields of an update; nil means unchanged.
type UpdateFields struct {
	Region        *string
	Platform      *string
	CriteriaType  *string
	CriteriaValue *float64
	Schedule      *string
	OwnerRef      *string
}

// Update applies the given fields to a watch. When the schedule changes the
// next due time is recomputed from the new expression. When the condition
// or the observed series changes (criteria, region, platform), the per-watch
// evaluation state is cleared so the next cycle starts fresh instead of
// suppressing the new condition's first satisfaction with stale markers.
func (s *Store) Update(id uint, fields UpdateFields) (*models.Watch, error) {
	w, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	resetState := false
	if fields.Region != nil {
		resetState = resetState || *fields.Region != w.Region
		w.Region = *fields.Region
	}
	if fields.Platform != nil {
		resetState = resetState || *fields.Platform != w.Platform
		w.Platform = *fields.Platform
	}
	if fields.CriteriaType != nil {
		resetState = resetState || *fields.CriteriaType != w.CriteriaType
		w.CriteriaType = *fields.CriteriaType
		if *fields.CriteriaType == models.CriteriaAllTimeLow {
			w.CriteriaValue = nil
		}
	}
	if fields.CriteriaValue != nil {
		resetState = resetState || w.CriteriaValue == nil || *w.CriteriaValue != *fields.CriteriaValue
		w.CriteriaValue = fields.CriteriaValue
	}
	if fields.OwnerRef != nil {
		w.OwnerRef = *fields.OwnerRef
	}
	scheduleChanged := fields.Schedule != nil && *fields.Schedule != w.Schedule
	if fields.Schedule != nil {
		w.Schedule = *fields.Schedule
	}
	if err := validateWatch(w); err != nil {
		return nil, err
	}
	if scheduleChanged {
		cr, err := schedule.Parse(w.Schedule)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		w.NextRunAt = cr.Next(time.Now())
	}

	// Write only the caller-editable columns. Scheduler-owned state
	// (next_run_at, claimed_at, evaluation markers) read above may be
	// stale relative to a concurrently committing cycle and must not be
	// written back.
	updates := map[string]interface{}{
		"region":         w.Region,
		"platform":       w.Platform,
		"criteria_type":  w.CriteriaType,
		"criteria_value": w.CriteriaValue,
		"schedule":       w.Schedule,
		"owner_ref":      w.OwnerRef,
	}
	if scheduleChanged {
		updates["next_run_at"] = w.NextRunAt
	}
	if resetState {
		updates["last_price"] = nil
		updates["last_outcome"] = nil
		updates["notified_value"] = nil
		updates["last_notified_at"] = nil
		w.LastPrice = nil
		w.LastOutcome = nil
		w.NotifiedValue = nil
		w.LastNotifiedAt = nil
	}
	if err := s.db.Model(&models.Watch{}).Where("id = ?", w.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update watch %d: %w", id, err)
	}
	return w, nil
}

// Delete removes the watch the identifier resolves to. It reports whether a
// watch was actually deleted; an unknown identifier is not an error.
func (s *Store) Delete(identifier string) (bool, error) {
	w, err := s.Resolve(identifier)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.db.Delete(&models.Watch{}, w.ID).Error; err != nil {
		return false, fmt.Errorf("delete watch %d: %w", w.ID, err)
	}
	return true, nil
}

// List returns all watches ordered by id.
func (s *Store) List() ([]models.Watch, error) {
	var watches []models.Watch
	if err := s.db.Order("id asc").Find(&watches).Error; err != nil {
		return nil, fmt.Errorf("list watches: %w", err)
	}
	return watches, nil
}

// GameNames returns the distinct game names being watched.
func (s *Store) GameNames() ([]string, error) {
	var names []string
	err := s.db.Model(&models.Watch{}).Distinct("game_name").Order("game_name asc").Pluck("game_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("list game names: %w", err)
	}
	return names, nil
}

// ListDue returns watches due at asOf, earliest first, and atomically marks
// them claimed so a concurrent scan cannot pick up the same watch. Claims
// left behind by a dead cycle expire after claimTTL.
func (s *Store) ListDue(asOf time.Time, limit int) ([]models.Watch, error) {
	var due []models.Watch
	cutoff := asOf.Add(-claimTTL)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		q := tx.Where("next_run_at <= ? AND (claimed_at IS NULL OR claimed_at < ?)", asOf, cutoff).
			Order("next_run_at asc")
		if limit > 0 {
			q = q.Limit(limit)
		}
		if err := q.Find(&due).Error; err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		ids := make([]uint, len(due))
		for i := range due {
			ids[i] = due[i].ID
		}
		if err := tx.Model(&models.Watch{}).Where("id IN ?", ids).Update("claimed_at", asOf).Error; err != nil {
			return err
		}
		claimed := asOf
		for i := range due {
			due[i].ClaimedAt = &claimed
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list due watches: %w", err)
	}
	return due, nil
}

// ReleaseClaim clears the in-flight marker without touching anything else.
func (s *Store) ReleaseClaim(watchID uint) error {
	err := s.db.Model(&models.Watch{}).Where("id = ?", watchID).Update("claimed_at", nil).Error
	if err != nil {
		return fmt.Errorf("release claim on watch %d: %w", watchID, err)
	}
	return nil
}

// AdvanceSchedule moves a watch to its next due time and releases its claim.
// Used when a cycle ends without price data; the next cron tick is the retry.
func (s *Store) AdvanceSchedule(watchID uint, next time.Time) error {
	err := s.db.Model(&models.Watch{}).Where("id = ?", watchID).Updates(map[string]interface{}{
		"next_run_at": next,
		"claimed_at":  nil,
	}).Error
	if err != nil {
		return fmt.Errorf("advance schedule for watch %d: %w", watchID, err)
	}
	return nil
}

// CycleOutcome is everything one evaluation cycle persists for a watch.
type CycleOutcome struct {
	Snapshot    *models.PriceSnapshot
	NextRunAt   time.Time
	LastPrice   *float64
	LastOutcome *bool

	// Set only when a notification was successfully emitted this cycle.
	// NotifiedValue is the criteria's satisfying value at emission time.
	Notified      bool
	NotifiedAt    time.Time
	NotifiedValue *float64
	Notification  *models.Notification
}

// CommitCycle persists a completed evaluation cycle as one atomic unit:
// snapshot append, schedule advance, evaluation state, claim release and,
// when a notification went out, the notified markers and audit record.
func (s *Store) CommitCycle(watchID uint, out CycleOutcome) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if out.Snapshot != nil {
			if err := tx.Create(out.Snapshot).Error; err != nil {
				return err
			}
		}
		updates := map[string]interface{}{
			"next_run_at":  out.NextRunAt,
			"claimed_at":   nil,
			"last_price":   out.LastPrice,
			"last_outcome": out.LastOutcome,
		}
		if out.Notified {
			updates["last_notified_at"] = out.NotifiedAt
			updates["notified_value"] = out.NotifiedValue
		}
		res := tx.Model(&models.Watch{}).Where("id = ?", watchID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Watch deleted mid-cycle; drop the rest of the write.
			return gorm.ErrRecordNotFound
		}
		if out.Notified && out.Notification != nil {
			if err := tx.Create(out.Notification).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("commit cycle for watch %d: %w", watchID, err)
	}
	return nil
}

// AppendSnapshot inserts one snapshot outside an evaluation cycle.
func (s *Store) AppendSnapshot(snap *models.PriceSnapshot) error {
	if err := s.db.Create(snap).Error; err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

// History returns up to limit snapshots for a game reference, most recent
// first.
func (s *Store) History(ref models.GameRef, limit int) ([]models.PriceSnapshot, error) {
	var snaps []models.PriceSnapshot
	q := s.refQuery(ref).Order("observed_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("history for %s/%s/%s: %w", ref.GameName, ref.Region, ref.Platform, err)
	}
	return snaps, nil
}

// AllTimeLow returns the snapshot with the minimum observed price for a
// game reference, or ErrNotFound when no history exists.
func (s *Store) AllTimeLow(ref models.GameRef) (*models.PriceSnapshot, error) {
	var snap models.PriceSnapshot
	err := s.refQuery(ref).Order("current_price asc").Order("observed_at asc").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("all-time low for %s/%s/%s: %w", ref.GameName, ref.Region, ref.Platform, err)
	}
	return &snap, nil
}

// LowestPrice returns the minimum price ever observed for a game reference,
// or nil when no history exists. This is the O(1) input the evaluator uses
// instead of scanning full history each cycle.
func (s *Store) LowestPrice(ref models.GameRef) (*float64, error) {
	snap, err := s.AllTimeLow(ref)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap.CurrentPrice, nil
}

func (s *Store) refQuery(ref models.GameRef) *gorm.DB {
	return s.db.Model(&models.PriceSnapshot{}).
		Where("LOWER(game_name) = LOWER(?) AND region = ? AND platform = ?", ref.GameName, ref.Region, ref.Platform)
}

// Notifications returns the most recent notification records for a watch.
func (s *Store) Notifications(watchID uint, limit int) ([]models.Notification, error) {
	var recs []models.Notification
	q := s.db.Where("watch_id = ?", watchID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("notifications for watch %d: %w", watchID, err)
	}
	return recs, nil
}
