package activity

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("activity.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *gin.Engine, s *Service) {
	r.POST("/v1/milestones/:id/activities", s.CreateActivity)
	r.GET("/v1/milestones/:id/activities", s.ListActivities)
	r.POST("/v1/activities/:id/evidence", s.SubmitEvidence)
	r.POST("/v1/activities/:id/attest", s.Attest)
	r.POST("/v1/activities/:id/evaluate", s.Evaluate)
	r.POST("/v1/activities/:id/verify", s.Verify)
}
