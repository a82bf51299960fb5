package migration_1

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

type Task struct {
	Id          string `gorm:"primaryKey"`
	TrainingLog sql.NullString
}

func (Task) TableName() string {
	return "tasks"
}

// Migration adds the failure reason column written when a training run fails.
func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&Task{}, "TrainingLog"); err != nil {
		return fmt.Errorf("error adding TrainingLog column: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&Task{}, "TrainingLog"); err != nil {
		return fmt.Errorf("error dropping TrainingLog column: %w", err)
	}
	return nil
}
