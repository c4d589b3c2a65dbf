package bootstrap

import (
	"pevi-platform/pkg/config"
	"pevi-platform/services/activity"
	"pevi-platform/services/campaign"
	"pevi-platform/services/donation"
	"pevi-platform/services/escrow"
	"pevi-platform/services/milestone"
	"pevi-platform/services/notify"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	config *config.Config
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, config: p.Config}
}

// Migrate brings the schema up to date on start.
func (s *Service) Migrate() error {
	err := s.db.AutoMigrate(
		&campaign.Campaign{},
		&milestone.Milestone{},
		&activity.Activity{},
		&activity.Award{},
		&donation.Donation{},
		&escrow.ReleaseCheckpoint{},
		&notify.Notification{},
	)
	if err != nil {
		zap.L().Error("❌ failed to migrate schema", zap.Error(err))
		return err
	}

	zap.L().Info("✅ schema migrated")
	return nil
}
