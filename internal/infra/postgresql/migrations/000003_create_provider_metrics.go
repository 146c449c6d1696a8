package migrations

import (
	"github.com/Foodshareclub/foodshare-web-sub000/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createProviderMetricsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_provider_metrics",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ProviderMetricsModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ProviderMetricsModel{})
		},
	}
}
