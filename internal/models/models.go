package models

import (
	"time"
)

// Platform values accepted for a watch.
const (
	PlatformWindows = "Windows"
	PlatformMacOS   = "MacOS"
	PlatformPS5     = "PS5"
	PlatformXbox    = "Xbox"
	PlatformSwitch  = "Switch"
)

// Criteria types for a watch.
const (
	CriteriaAllTimeLow = "all_time_low"
	CriteriaDiscount   = "discount"
	CriteriaLowerThan  = "lower_than"
)

// ValidPlatform reports whether p is a recognized platform value.
func ValidPlatform(p string) bool {
	switch p {
	case PlatformWindows, PlatformMacOS, PlatformPS5, PlatformXbox, PlatformSwitch:
		return true
	}
	return false
}

// ValidCriteriaType reports whether c is a recognized criteria type.
func ValidCriteriaType(c string) bool {
	switch c {
	case CriteriaAllTimeLow, CriteriaDiscount, CriteriaLowerThan:
		return true
	}
	return false
}

// GameRef identifies the price series a watch observes.
type GameRef struct {
	GameName string `json:"game_name"`
	Region   string `json:"region"`
	Platform string `json:"platform"`
}

// Watch is a standing price subscription. NextRunAt is always derived from
// Schedule by the scheduler, never hand-edited. LastPrice, LastOutcome and
// NotifiedValue carry the per-watch evaluation state used to suppress
// repeated notifications without re-scanning the full snapshot history.
type Watch struct {
	ID            uint     `json:"id" gorm:"primaryKey"`
	GameName      string   `json:"game_name" gorm:"index;not null"`
	Region        string   `json:"region" gorm:"not null;default:'US'"`
	Platform      string   `json:"platform" gorm:"not null"`
	CriteriaType  string   `json:"criteria_type" gorm:"not null"`
	CriteriaValue *float64 `json:"criteria_value"`
	Schedule      string   `json:"schedule" gorm:"not null"`
	OwnerRef      string   `json:"owner_ref"`

	NextRunAt      time.Time  `json:"next_run_at" gorm:"index;not null"`
	LastNotifiedAt *time.Time `json:"last_notified_at"`

	// Evaluation state from the previous cycle. NotifiedValue holds the
	// criteria's satisfying value at the last successful notification:
	// the price for all_time_low and lower_than, the discount percentage
	// for discount.
	LastPrice     *float64 `json:"last_price"`
	LastOutcome   *bool    `json:"last_outcome"`
	NotifiedValue *float64 `json:"notified_value"`

	// Set while an evaluation cycle is in flight for this watch.
	ClaimedAt *time.Time `json:"-" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ref returns the game reference this watch observes.
func (w *Watch) Ref() GameRef {
	return GameRef{GameName: w.GameName, Region: w.Region, Platform: w.Platform}
}

// PriceSnapshot is one observed price record for a game reference.
// Snapshots are append-only; history is never mutated after insertion.
type PriceSnapshot struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	GameName string `json:"game_name" gorm:"index;not null"`
	Region   string `json:"region" gorm:"not null"`
	Platform string `json:"platform" gorm:"not null"`

	ObservedAt      time.Time `json:"observed_at" gorm:"index;not null"`
	CurrentPrice    float64   `json:"current_price"`
	ListPrice       float64   `json:"list_price"`
	DiscountPercent float64   `json:"discount_percent"`
	Currency        string    `json:"currency" gorm:"default:'USD'"`
	StoreName       string    `json:"store_name"`
	StoreURL        string    `json:"store_url"`
	IsAllTimeLow    bool      `json:"is_all_time_low"`

	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the game reference this snapshot belongs to.
func (s *PriceSnapshot) Ref() GameRef {
	return GameRef{GameName: s.GameName, Region: s.Region, Platform: s.Platform}
}

// Notification records one emitted alert for auditing.
type Notification struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	WatchID   uint      `json:"watch_id" gorm:"index;not null"`
	OwnerRef  string    `json:"owner_ref"`
	Reason    string    `json:"reason" gorm:"not null"`
	Value     float64   `json:"value"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
