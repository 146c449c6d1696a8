package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addDeadLetterMaxAttempts() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_add_dead_letter_max_attempts",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`ALTER TABLE dead_letter_items ADD COLUMN IF NOT EXISTS max_attempts integer NOT NULL DEFAULT 3`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`ALTER TABLE dead_letter_items DROP COLUMN IF EXISTS max_attempts`,
			})
		},
	}
}
