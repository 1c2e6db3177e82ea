package database

import (
	"errors"
	"time"

	"github.com/songarden/square-api/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationClearUnplayedTimestamps = "2024-01-15_clear_unplayed_best_score_timestamps"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationClearUnplayedTimestamps, apply: clearUnplayedTimestamps},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Early revisions stamped best_score_at at registration; ranking treats the
// empty string as "never played", so clear the stale stamps.
func clearUnplayedTimestamps(db *gorm.DB) error {
	return db.Model(&users.User{}).
		Where("best_score = 0 AND best_score_at <> ''").
		Update("best_score_at", "").Error
}
