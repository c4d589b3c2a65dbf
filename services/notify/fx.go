package notify

import (
	peviasynq "pevi-platform/pkg/asynq"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("notify.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

var TaskModule = fx.Module("task.notify",
	fx.Provide(NewTask),
	fx.Invoke(registerHandlers),
)

func registerRoutes(r *gin.Engine, s *Service) {
	r.GET("/v1/notifications", s.ListNotifications)
	r.POST("/v1/notifications/:id/read", s.MarkRead)
}

func registerHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(peviasynq.NotifyStatusTask, t.HandleNotifyStatusTask)
}
