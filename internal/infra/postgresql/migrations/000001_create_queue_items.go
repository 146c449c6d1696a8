package migrations

import (
	"github.com/Foodshareclub/foodshare-web-sub000/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createQueueItemsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_queue_items",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.QueueItemModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_queue_items_due ON queue_items (created_at) WHERE status = 'queued'`,
				`CREATE INDEX IF NOT EXISTS idx_queue_items_next_retry ON queue_items (next_retry_at) WHERE status = 'queued'`,
				`CREATE INDEX IF NOT EXISTS idx_queue_items_claimed ON queue_items (claimed_at) WHERE status = 'processing'`,
				`CREATE INDEX IF NOT EXISTS idx_queue_items_completed ON queue_items (updated_at) WHERE status = 'completed'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.QueueItemModel{})
		},
	}
}
