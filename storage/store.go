package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrNameTaken is returned when a profile name is owned by another address.
	ErrNameTaken = errors.New("storage: profile name taken")
	// ErrDuplicatePlay is returned when a replay hash was already recorded.
	ErrDuplicatePlay = errors.New("storage: duplicate replay")
)

// Store wraps the durable tables behind typed operations so callers can
// pattern-match on error kinds instead of driver messages.
type Store struct {
	db *gorm.DB
}

// Open connects to the database selected by the DSN: anything that looks like
// a Postgres URL gets the postgres driver, everything else is treated as a
// SQLite path. The schema is migrated on open.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	trimmed := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"), strings.HasPrefix(trimmed, "host="):
		dialector = postgres.Open(trimmed)
	default:
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %q: %w", trimmed, err)
	}
	return NewStore(db)
}

// NewStore migrates the schema against an existing connection.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NormalizeAddress lowercases and trims an address so it can serve as the
// natural key for score records.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// NormalizeName canonicalizes a profile name for the uniqueness index.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ScoreUpdate carries the fields applied to a score record by one accepted
// submission. Optional fields are nil when the caller did not supply them.
type ScoreUpdate struct {
	Address     string
	Score       int64
	ProfileName *string
	Email       *string
	Level       *int
}

// ApplyScore upserts the score record for an accepted submission:
// GamesPlayed increments once, LastScore is replaced, HighestScore never
// decreases, Level is clamped to >= 1, and a supplied profile name is claimed
// through the name index inside the same transaction.
func (s *Store) ApplyScore(ctx context.Context, upd ScoreUpdate) (ScoreRecord, error) {
	var out ScoreRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = applyScore(tx, upd)
		return err
	})
	if err != nil {
		return ScoreRecord{}, err
	}
	return out, nil
}

// CommitPlay persists an accepted replay and its score update atomically: a
// failure in either leaves neither row behind, so a rejected submission never
// burns the replay hash.
func (s *Store) CommitPlay(ctx context.Context, play *VerifiedPlay, upd ScoreUpdate) (ScoreRecord, error) {
	var out ScoreRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := recordPlay(tx, play); err != nil {
			return err
		}
		var err error
		out, err = applyScore(tx, upd)
		return err
	})
	if err != nil {
		return ScoreRecord{}, err
	}
	return out, nil
}

func applyScore(tx *gorm.DB, upd ScoreUpdate) (ScoreRecord, error) {
	address := NormalizeAddress(upd.Address)
	if address == "" {
		return ScoreRecord{}, fmt.Errorf("storage: address required")
	}
	now := time.Now().UTC()
	var rec ScoreRecord
	err := tx.Where("address = ?", address).First(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rec = ScoreRecord{Address: address, Level: 1, CreatedAt: now}
	case err != nil:
		return ScoreRecord{}, err
	}
	rec.GamesPlayed++
	rec.LastScore = upd.Score
	if upd.Score > rec.HighestScore {
		rec.HighestScore = upd.Score
	}
	if upd.Email != nil {
		rec.Email = strings.TrimSpace(*upd.Email)
	}
	if upd.Level != nil {
		level := *upd.Level
		if level < 1 {
			level = 1
		}
		rec.Level = level
	}
	if rec.Level < 1 {
		rec.Level = 1
	}
	if upd.ProfileName != nil {
		name := strings.TrimSpace(*upd.ProfileName)
		if name != "" {
			if err := claimName(tx, address, name, now); err != nil {
				return ScoreRecord{}, err
			}
			rec.ProfileName = name
		}
	}
	rec.LastUpdated = now
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		UpdateAll: true,
	}).Create(&rec).Error; err != nil {
		return ScoreRecord{}, err
	}
	return rec, nil
}

// claimName installs the normalized-name -> address mapping, releasing any
// previous name held by the address first so the swap is atomic with respect
// to the surrounding transaction.
func claimName(tx *gorm.DB, address, rawName string, now time.Time) error {
	normalized := NormalizeName(rawName)
	var existing ProfileName
	err := tx.Where("name = ?", normalized).First(&existing).Error
	switch {
	case err == nil:
		if existing.Address != address {
			return ErrNameTaken
		}
		return nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}
	if err := tx.Where("address = ?", address).Delete(&ProfileName{}).Error; err != nil {
		return err
	}
	if err := tx.Create(&ProfileName{Name: normalized, Address: address, CreatedAt: now}).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrNameTaken
		}
		return err
	}
	return nil
}

// SetProfileName renames an address, creating an empty score record when the
// address has never submitted a play.
func (s *Store) SetProfileName(ctx context.Context, address, name string) error {
	address = NormalizeAddress(address)
	trimmed := strings.TrimSpace(name)
	if address == "" || trimmed == "" {
		return fmt.Errorf("storage: address and name required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := claimName(tx, address, trimmed, now); err != nil {
			return err
		}
		var rec ScoreRecord
		err := tx.Where("address = ?", address).First(&rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = ScoreRecord{Address: address, Level: 1, CreatedAt: now}
		case err != nil:
			return err
		}
		rec.ProfileName = trimmed
		rec.LastUpdated = now
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			UpdateAll: true,
		}).Create(&rec).Error
	})
}

// RecordPlay inserts an accepted replay row. The unique hash column turns a
// concurrent duplicate into ErrDuplicatePlay.
func (s *Store) RecordPlay(ctx context.Context, play *VerifiedPlay) error {
	return recordPlay(s.db.WithContext(ctx), play)
}

func recordPlay(tx *gorm.DB, play *VerifiedPlay) error {
	if play == nil {
		return fmt.Errorf("storage: play required")
	}
	if play.ID == uuid.Nil {
		play.ID = uuid.New()
	}
	play.Address = NormalizeAddress(play.Address)
	if play.CreatedAt.IsZero() {
		play.CreatedAt = time.Now().UTC()
	}
	if err := tx.Create(play).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicatePlay
		}
		return err
	}
	return nil
}

// NameAvailable reports whether the normalized name is free for the given
// address to claim: nil when unowned or already owned by that address,
// ErrNameTaken when another address holds it. Callers use it to reject a
// conflicting claim before consuming other resources; the transactional
// claim inside the write path remains the authority under races.
func (s *Store) NameAvailable(ctx context.Context, address, name string) error {
	normalized := NormalizeName(name)
	if normalized == "" {
		return nil
	}
	var existing ProfileName
	err := s.db.WithContext(ctx).Where("name = ?", normalized).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil
	case err != nil:
		return err
	}
	if existing.Address != NormalizeAddress(address) {
		return ErrNameTaken
	}
	return nil
}

// HasReplay reports whether a replay hash has already been accepted.
func (s *Store) HasReplay(ctx context.Context, hash string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&VerifiedPlay{}).Where("replay_hash = ?", hash).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Score fetches the record for one address.
func (s *Store) Score(ctx context.Context, address string) (ScoreRecord, error) {
	var rec ScoreRecord
	err := s.db.WithContext(ctx).Where("address = ?", NormalizeAddress(address)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ScoreRecord{}, ErrNotFound
	}
	if err != nil {
		return ScoreRecord{}, err
	}
	return rec, nil
}

// ListScores returns every score record in insertion order. Leaderboard ties
// are broken by this order via a stable sort downstream.
func (s *Store) ListScores(ctx context.Context) ([]ScoreRecord, error) {
	var records []ScoreRecord
	if err := s.db.WithContext(ctx).Order("created_at asc, address asc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Period fetches the settlement record for one window.
func (s *Store) Period(ctx context.Context, index int64) (PeriodRecord, error) {
	var rec PeriodRecord
	err := s.db.WithContext(ctx).Where("period_index = ?", index).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PeriodRecord{}, ErrNotFound
	}
	if err != nil {
		return PeriodRecord{}, err
	}
	return rec, nil
}

// SavePeriod upserts a settlement record.
func (s *Store) SavePeriod(ctx context.Context, rec PeriodRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "period_index"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

// RecentPeriods lists settlement records newest-first for audit endpoints.
func (s *Store) RecentPeriods(ctx context.Context, limit int) ([]PeriodRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []PeriodRecord
	if err := s.db.WithContext(ctx).Order("period_index desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
