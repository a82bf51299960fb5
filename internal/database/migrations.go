package database

import (
	"log"
	"lora-runner/internal/database/versions/migration_0"
	"lora-runner/internal/database/versions/migration_1"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func GetMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID:      "0",
			Migrate: migration_0.Migration,
		},
		{
			ID:       "1",
			Migrate:  migration_1.Migration,
			Rollback: migration_1.Rollback,
		},
	})

	migrator.InitSchema(func(txn *gorm.DB) error {
		// Run when no previous migration is recorded: create the latest
		// schema directly instead of replaying every version.
		log.Println("clean database detected, running full schema initialization")

		return txn.AutoMigrate(&TaskRow{}, &ModelRow{}, &UploadRecordRow{})
	})

	return migrator
}
