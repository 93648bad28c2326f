package store

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gamewatch/internal/database"
	"gamewatch/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func testStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return New(db), db
}

func validWatch() *models.Watch {
	return &models.Watch{
		GameName:      "Hollow Knight",
		Region:        "US",
		Platform:      models.PlatformWindows,
		CriteriaType:  models.CriteriaLowerThan,
		CriteriaValue: floatPtr(10),
		Schedule:      "0 * * * *",
		OwnerRef:      "user:42",
	}
}

func TestCreateValidation(t *testing.T) {
	st, _ := testStore(t)

	cases := []struct {
		name   string
		mutate func(*models.Watch)
	}{
		{"empty game name", func(w *models.Watch) { w.GameName = " " }},
		{"bad cron", func(w *models.Watch) { w.Schedule = "every tuesday" }},
		{"four-field cron", func(w *models.Watch) { w.Schedule = "* * * *" }},
		{"unknown platform", func(w *models.Watch) { w.Platform = "Amiga" }},
		{"unknown criteria", func(w *models.Watch) { w.CriteriaType = "cheaper" }},
		{"lower_than without value", func(w *models.Watch) { w.CriteriaValue = nil }},
		{"bad region", func(w *models.Watch) { w.Region = "usa" }},
		{"all_time_low with value", func(w *models.Watch) {
			w.CriteriaType = models.CriteriaAllTimeLow
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := validWatch()
			tc.mutate(w)
			err := st.Create(w)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateComputesNextRun(t *testing.T) {
	st, _ := testStore(t)

	w := validWatch()
	w.Schedule = "* * * * *"
	before := time.Now()
	require.NoError(t, st.Create(w))

	assert.NotZero(t, w.ID)
	assert.True(t, w.NextRunAt.After(before))
	assert.WithinDuration(t, before, w.NextRunAt, 2*time.Minute)
}

func TestResolve(t *testing.T) {
	st, _ := testStore(t)

	w := validWatch()
	require.NoError(t, st.Create(w))

	byID, err := st.Resolve(fmt.Sprintf("%d", w.ID))
	require.NoError(t, err)
	assert.Equal(t, w.ID, byID.ID)

	byName, err := st.Resolve("hollow knight")
	require.NoError(t, err)
	assert.Equal(t, w.ID, byName.ID)

	_, err = st.Resolve("Unknown Game")
	assert.ErrorIs(t, err, ErrNotFound)

	// A second watch on the same game makes the name ambiguous.
	second := validWatch()
	second.CriteriaType = models.CriteriaAllTimeLow
	second.CriteriaValue = nil
	require.NoError(t, st.Create(second))

	_, err = st.Resolve("Hollow Knight")
	assert.ErrorIs(t, err, ErrAmbiguousReference)
}

func TestUpdateRecomputesNextRunOnScheduleChange(t *testing.T) {
	st, _ := testStore(t)

	w := validWatch()
	w.Schedule = "0 0 1 1 *" // once a year
	require.NoError(t, st.Create(w))
	original := w.NextRunAt

	// Updating an unrelated field leaves the due time alone.
	updated, err := st.Update(w.ID, UpdateFields{CriteriaValue: floatPtr(5)})
	require.NoError(t, err)
	assert.WithinDuration(t, original, updated.NextRunAt, time.Second)
	assert.Equal(t, 5.0, *updated.CriteriaValue)

	// Changing the schedule recomputes it.
	newSchedule := "* * * * *"
	updated, err = st.Update(w.ID, UpdateFields{Schedule: &newSchedule})
	require.NoError(t, err)
	assert.True(t, updated.NextRunAt.Before(original))
	assert.WithinDuration(t, time.Now(), updated.NextRunAt, 2*time.Minute)
}

func TestUpdateValidation(t *testing.T) {
	st, _ := testStore(t)

	w := validWatch()
	require.NoError(t, st.Create(w))

	badPlatform := "Dreamcast"
	_, err := st.Update(w.ID, UpdateFields{Platform: &badPlatform})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = st.Update(9999, UpdateFields{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func commitNotifiedCycle(t *testing.T, st *Store, w *models.Watch, price float64, recID string) {
	t.Helper()
	satisfied := true
	require.NoError(t, st.CommitCycle(w.ID, CycleOutcome{
		Snapshot: &models.PriceSnapshot{
			GameName:     w.GameName,
			Region:       w.Region,
			Platform:     w.Platform,
			ObservedAt:   time.Now(),
			CurrentPrice: price,
		},
		NextRunAt:     time.Now().Add(time.Hour),
		LastPrice:     floatPtr(price),
		LastOutcome:   &satisfied,
		Notified:      true,
		NotifiedAt:    time.Now(),
		NotifiedValue: floatPtr(price),
		Notification: &models.Notification{
			ID:      recID,
			WatchID: w.ID,
			Reason:  w.CriteriaType,
			Price:   price,
		},
	}))
}

func TestUpdateCriteriaClearsEvaluationState(t *testing.T) {
	st, _ := testStore(t)

	w := validWatch()
	require.NoError(t, st.Create(w))
	commitNotifiedCycle(t, st, w, 18, "rec-1")

	criteria := models.CriteriaDiscount
	updated, err := st.Update(w.ID, UpdateFields{
		CriteriaType:  &criteria,
		CriteriaValue: floatPtr(50),
	})
	require.NoError(t, err)
	assert.Nil(t, updated.LastPrice)
	assert.Nil(t, updated.LastOutcome)
	assert.Nil(t, updated.NotifiedValue)
	assert.Nil(t, updated.LastNotifiedAt)

	got, err := st.Get(w.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastPrice)
	assert.Nil(t, got.LastOutcome)
	assert.Nil(t, got.NotifiedValue)
	assert.Nil(t, got.LastNotifiedAt)

	// An unrelated change keeps the state.
	commitNotifiedCycle(t, st, w, 18, "rec-2")
	owner := "user:7"
	updated, err = st.Update(w.ID, UpdateFields{OwnerRef: &owner})
	require.NoError(t, err)
	assert.NotNil(t, updated.LastOutcome)
	assert.NotNil(t, updated.NotifiedValue)
	assert.NotNil(t, updated.LastNotifiedAt)
}

func TestUpdateLeavesSchedulerStateAlone(t *testing.T) {
	st, db := testStore(t)

	w := validWatch()
	require.NoError(t, st.Create(w))
	commitNotifiedCycle(t, st, w, 18, "rec-1")
	before, err := st.Get(w.ID)
	require.NoError(t, err)

	// A cycle is in flight for this watch.
	require.NoError(t, db.Model(&models.Watch{}).Where("id = ?", w.ID).
		Update("claimed_at", time.Now()).Error)

	owner := "user:7"
	_, err = st.Update(w.ID, UpdateFields{OwnerRef: &owner})
	require.NoError(t, err)

	got, err := st.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, "user:7", got.OwnerRef)
	assert.WithinDuration(t, before.NextRunAt, got.NextRunAt, time.Second)
	assert.NotNil(t, got.ClaimedAt)
	assert.True(t, *got.LastOutcome)
	assert.Equal(t, 18.0, *got.NotifiedValue)
	assert.NotNil(t, got.LastNotifiedAt)
}

func TestDelete(t *testing.T) {
	st, _ := testStore(t)

	w := validWatch()
	require.NoError(t, st.Create(w))

	deleted, err := st.Delete("Hollow Knight")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = st.Delete("Hollow Knight")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestListDueClaimsAtomically(t *testing.T) {
	st, db := testStore(t)

	early := validWatch()
	late := validWatch()
	late.GameName = "Celeste"
	require.NoError(t, st.Create(early))
	require.NoError(t, st.Create(late))

	now := time.Now()
	require.NoError(t, db.Model(&models.Watch{}).Where("id = ?", early.ID).
		Update("next_run_at", now.Add(-2*time.Hour)).Error)
	require.NoError(t, db.Model(&models.Watch{}).Where("id = ?", late.ID).
		Update("next_run_at", now.Add(-1*time.Hour)).Error)

	due, err := st.ListDue(now, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	// Earliest due time first.
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, late.ID, due[1].ID)

	// A concurrent scan sees nothing: both watches are claimed.
	again, err := st.ListDue(now, 0)
	require.NoError(t, err)
	assert.Empty(t, again)

	// Stale claims become reclaimable.
	stale, err := st.ListDue(now.Add(claimTTL+time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, stale, 2)
}

func TestReleaseClaim(t *testing.T) {
	st, db := testStore(t)

	w := validWatch()
	require.NoError(t, st.Create(w))
	now := time.Now()
	require.NoError(t, db.Model(&models.Watch{}).Where("id = ?", w.ID).
		Update("next_run_at", now.Add(-time.Hour)).Error)

	due, err := st.ListDue(now, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, st.ReleaseClaim(w.ID))
	due, err = st.ListDue(now, 0)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestAdvanceSchedule(t *testing.T) {
	st, db := testStore(t)

	w := validWatch()
	require.NoError(t, st.Create(w))
	now := time.Now()
	require.NoError(t, db.Model(&models.Watch{}).Where("id = ?", w.ID).
		Update("next_run_at", now.Add(-time.Hour)).Error)
	_, err := st.ListDue(now, 0)
	require.NoError(t, err)

	next := now.Add(time.Hour)
	require.NoError(t, st.AdvanceSchedule(w.ID, next))

	got, err := st.Get(w.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, next, got.NextRunAt, time.Second)
	assert.Nil(t, got.ClaimedAt)
	assert.Nil(t, got.LastNotifiedAt)
}

func TestCommitCycle(t *testing.T) {
	st, _ := testStore(t)

	w := validWatch()
	require.NoError(t, st.Create(w))

	snap := &models.PriceSnapshot{
		GameName:     w.GameName,
		Region:       w.Region,
		Platform:     w.Platform,
		ObservedAt:   time.Now(),
		CurrentPrice: 8,
		ListPrice:    20,
		Currency:     "USD",
		IsAllTimeLow: true,
	}
	next := time.Now().Add(time.Hour)
	notifiedAt := time.Now()
	satisfied := true

	err := st.CommitCycle(w.ID, CycleOutcome{
		Snapshot:      snap,
		NextRunAt:     next,
		LastPrice:     floatPtr(8),
		LastOutcome:   &satisfied,
		Notified:      true,
		NotifiedAt:    notifiedAt,
		NotifiedValue: floatPtr(8),
		Notification: &models.Notification{
			ID:      "11111111-1111-1111-1111-111111111111",
			WatchID: w.ID,
			Reason:  w.CriteriaType,
			Price:   8,
		},
	})
	require.NoError(t, err)

	got, err := st.Get(w.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, next, got.NextRunAt, time.Second)
	assert.Nil(t, got.ClaimedAt)
	assert.Equal(t, 8.0, *got.LastPrice)
	assert.True(t, *got.LastOutcome)
	assert.Equal(t, 8.0, *got.NotifiedValue)
	require.NotNil(t, got.LastNotifiedAt)

	history, err := st.History(w.Ref(), 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	recs, err := st.Notifications(w.ID, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCommitCycleForDeletedWatchRollsBack(t *testing.T) {
	st, _ := testStore(t)

	w := validWatch()
	require.NoError(t, st.Create(w))
	ref := w.Ref()
	_, err := st.Delete(fmt.Sprintf("%d", w.ID))
	require.NoError(t, err)

	satisfied := false
	err = st.CommitCycle(w.ID, CycleOutcome{
		Snapshot: &models.PriceSnapshot{
			GameName: ref.GameName, Region: ref.Region, Platform: ref.Platform,
			ObservedAt: time.Now(), CurrentPrice: 8,
		},
		NextRunAt:   time.Now().Add(time.Hour),
		LastPrice:   floatPtr(8),
		LastOutcome: &satisfied,
	})
	assert.ErrorIs(t, err, ErrNotFound)

	// The snapshot write rolled back with the watch update.
	history, err := st.History(ref, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHistoryAndAllTimeLow(t *testing.T) {
	st, _ := testStore(t)
	ref := models.GameRef{GameName: "Hades", Region: "US", Platform: models.PlatformWindows}

	low, err := st.LowestPrice(ref)
	require.NoError(t, err)
	assert.Nil(t, low)

	_, err = st.AllTimeLow(ref)
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC)
	for i, price := range []float64{25, 12, 18} {
		require.NoError(t, st.AppendSnapshot(&models.PriceSnapshot{
			GameName:     ref.GameName,
			Region:       ref.Region,
			Platform:     ref.Platform,
			ObservedAt:   base.Add(time.Duration(i) * 24 * time.Hour),
			CurrentPrice: price,
		}))
	}

	history, err := st.History(ref, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	// Most recent first.
	assert.Equal(t, 18.0, history[0].CurrentPrice)
	assert.Equal(t, 25.0, history[2].CurrentPrice)

	limited, err := st.History(ref, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	atl, err := st.AllTimeLow(ref)
	require.NoError(t, err)
	assert.Equal(t, 12.0, atl.CurrentPrice)

	low, err = st.LowestPrice(ref)
	require.NoError(t, err)
	require.NotNil(t, low)
	assert.Equal(t, 12.0, *low)

	// Snapshots from another platform do not leak in.
	other := ref
	other.Platform = models.PlatformSwitch
	otherHistory, err := st.History(other, 0)
	require.NoError(t, err)
	assert.Empty(t, otherHistory)
}

func TestGameNames(t *testing.T) {
	st, _ := testStore(t)

	first := validWatch()
	second := validWatch()
	second.GameName = "Celeste"
	third := validWatch()
	third.CriteriaType = models.CriteriaAllTimeLow
	third.CriteriaValue = nil
	require.NoError(t, st.Create(first))
	require.NoError(t, st.Create(second))
	require.NoError(t, st.Create(third))

	names, err := st.GameNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"Celeste", "Hollow Knight"}, names)
}
