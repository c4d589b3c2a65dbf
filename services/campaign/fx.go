package campaign

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("campaign.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *gin.Engine, s *Service) {
	v1 := r.Group("/v1/campaigns")
	v1.POST("", s.CreateCampaign)
	v1.GET("", s.ListCampaigns)
	v1.GET("/:id", s.GetCampaign)
	v1.PATCH("/:id", s.UpdateCampaign)
}
