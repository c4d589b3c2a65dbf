package milestone

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("milestone.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *gin.Engine, s *Service) {
	r.POST("/v1/campaigns/:id/milestones", s.CreateMilestone)
	r.GET("/v1/campaigns/:id/milestones", s.ListMilestones)
	r.GET("/v1/milestones/:id", s.GetMilestone)
	r.PATCH("/v1/milestones/:id", s.UpdateMilestone)
}
