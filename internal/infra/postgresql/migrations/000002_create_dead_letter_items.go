package migrations

import (
	"github.com/Foodshareclub/foodshare-web-sub000/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createDeadLetterItemsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_dead_letter_items",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeadLetterModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_dead_letter_unreviewed ON dead_letter_items (moved_at) WHERE reviewed_at IS NULL`,
				`CREATE INDEX IF NOT EXISTS idx_dead_letter_queue_item ON dead_letter_items (queue_item_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeadLetterModel{})
		},
	}
}
