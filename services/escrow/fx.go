package escrow

import (
	"pevi-platform/pkg/config"
	"pevi-platform/services/activity"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("escrow.service",
	fx.Provide(
		provideLease,
		provideGate,
		NewService,
		NewFlow,
	),
	fx.Invoke(registerRoutes),
)

func provideLease(rdb *redis.Client, cfg *config.Config) Lease {
	return NewLease(rdb, cfg.Release.LeaseTTL)
}

func provideGate(svc *activity.Service) ReleaseGate {
	return svc
}

func registerRoutes(r *gin.Engine, s *Service) {
	r.POST("/v1/campaigns/:id/escrow/release", s.PrepareRelease)
	r.POST("/v1/campaigns/:id/escrow/submit", s.SubmitRelease)
	r.PATCH("/v1/campaigns/:id/escrow", s.SyncEscrow)
	r.GET("/v1/campaigns/:id/escrow", s.GetEscrowStatus)
}
