package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/monolith/backend/internal/monolith"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSingleActiveOccupant = "2026-10-01_single_active_occupant"
	migrationSeedGenesisOccupant  = "2026-10-01_seed_genesis_occupant"
)

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
		{name: migrationSingleActiveOccupant, apply: enforceSingleActiveOccupant},
		{name: migrationSeedGenesisOccupant, apply: seedGenesisOccupant},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// enforceSingleActiveOccupant backs the single-baton rule with a partial unique index.
func enforceSingleActiveOccupant(db *gorm.DB) error {
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_monolith_history_single_active ON monolith_history (active) WHERE active = true`).Error
}

func seedGenesisOccupant(db *gorm.DB) error {
	var count int64
	if err := db.Model(&monolith.Occupant{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	genesis := monolith.GenesisOccupant()
	return db.Create(&genesis).Error
}
