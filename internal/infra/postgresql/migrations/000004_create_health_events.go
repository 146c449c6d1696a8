package migrations

import (
	"github.com/Foodshareclub/foodshare-web-sub000/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createHealthEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_health_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.HealthEventModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_health_events_created ON health_events (created_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_health_events_provider ON health_events (provider, created_at DESC) WHERE provider IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.HealthEventModel{})
		},
	}
}
