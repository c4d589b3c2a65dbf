package donation

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("donation.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *gin.Engine, s *Service) {
	r.POST("/v1/campaigns/:id/donations", s.Fund)
	r.GET("/v1/campaigns/:id/donations", s.ListDonations)
	r.POST("/v1/donations/:id/confirm", s.Confirm)
}
