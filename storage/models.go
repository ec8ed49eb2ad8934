package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PeriodStatus tracks a settlement window through its lifecycle.
type PeriodStatus string

// Settlement lifecycle states. A window is implicitly open until the engine
// first touches it; processing and paid are never re-entered from outside the
// engine, failed may be retried.
const (
	PeriodOpen       PeriodStatus = "open"
	PeriodProcessing PeriodStatus = "processing"
	PeriodPaid       PeriodStatus = "paid"
	PeriodFailed     PeriodStatus = "failed"
)

// ScoreRecord is the durable per-address gameplay record. Address is the
// natural key, lowercase-normalized by the store.
type ScoreRecord struct {
	Address      string `gorm:"primaryKey;size:64"`
	ProfileName  string `gorm:"size:64"`
	Email        string `gorm:"size:128"`
	HighestScore int64  `gorm:"not null;index"`
	LastScore    int64  `gorm:"not null"`
	GamesPlayed  int64  `gorm:"not null"`
	Level        int    `gorm:"not null;default:1"`
	CreatedAt    time.Time
	LastUpdated  time.Time
}

// VerifiedPlay stores one accepted replay submission. ReplayHash carries the
// uniqueness constraint that enforces at-most-once acceptance of identical
// replay content system-wide.
type VerifiedPlay struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID     string    `gorm:"size:128;index"`
	Address       string    `gorm:"size:64;index"`
	ReplayHash    string    `gorm:"size:64;uniqueIndex"`
	Score         int64     `gorm:"not null"`
	SurvivalTicks float64   `gorm:"not null"`
	RawReplay     []byte    `gorm:"type:blob"`
	CreatedAt     time.Time
}

// ProfileName maps a normalized display name to its owning address. A name
// has at most one owner and an address holds at most one name.
type ProfileName struct {
	Name      string `gorm:"primaryKey;size:64"`
	Address   string `gorm:"size:64;uniqueIndex"`
	CreatedAt time.Time
}

// PeriodRecord is the auditable outcome of one settlement window.
type PeriodRecord struct {
	PeriodIndex int64        `gorm:"primaryKey;autoIncrement:false"`
	Status      PeriodStatus `gorm:"size:16;not null"`
	TxHash      string       `gorm:"size:80"`
	Payouts     []byte       `gorm:"type:blob"`
	Error       string       `gorm:"type:text"`
	UpdatedAt   time.Time
}

// Payout is one winner entry materialized into PeriodRecord.Payouts.
type Payout struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ScoreRecord{},
		&VerifiedPlay{},
		&ProfileName{},
		&PeriodRecord{},
	)
}
