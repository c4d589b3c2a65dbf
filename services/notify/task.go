package notify

import (
	"context"
	"encoding/json"
	"fmt"

	peviasynq "pevi-platform/pkg/asynq"
	"pevi-platform/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Task struct {
	db   *gorm.DB
	node *snowflake.Node

	notification repository.Repository[Notification]
}

type TaskParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
}

func NewTask(p TaskParams) *Task {
	return &Task{
		db:           p.DB,
		node:         p.Node,
		notification: repository.ProvideStore[Notification](p.DB),
	}
}

// HandleNotifyStatusTask persists one notification record per status event.
func (s *Task) HandleNotifyStatusTask(ctx context.Context, t *asynq.Task) error {
	var payload peviasynq.NotifyStatusPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("recipient_id", payload.RecipientID),
		zap.String("kind", payload.Kind),
	)

	if payload.RecipientID == "" {
		zapLog.Warn("dropping notification without recipient")
		return nil
	}

	if err := s.notification.Create(ctx, &Notification{
		NotificationID: s.node.Generate().String(),
		RecipientID:    payload.RecipientID,
		Kind:           payload.Kind,
		EntityID:       payload.EntityID,
		Body:           payload.Body,
	}); err != nil {
		zapLog.Error("failed to persist notification", zap.Error(err))
		return err
	}

	zapLog.Info("notification persisted")
	return nil
}
