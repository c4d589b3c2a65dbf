package notify

import (
	"net/http"
	"time"

	"pevi-platform/pkg/db/option"
	"pevi-platform/pkg/errutil"
	"pevi-platform/pkg/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB

	notification repository.Repository[Notification]
}

type ServiceParams struct {
	fx.In

	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		notification: repository.ProvideStore[Notification](p.DB),
	}
}

func (s *Service) ListNotifications(c *gin.Context) {
	recipientID := c.Query("recipient_id")
	if recipientID == "" {
		c.Error(errutil.ValidationFailed("recipient_id is required"))
		return
	}

	notifications, err := s.notification.Find(c.Request.Context(),
		&Notification{RecipientID: recipientID},
		option.WithOrder("created_at DESC"),
		option.WithLimit(100),
	)
	if err != nil {
		c.Error(errutil.Internal("failed to list notifications", errutil.WithErr(err)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (s *Service) MarkRead(c *gin.Context) {
	n, err := s.notification.FindOne(c.Request.Context(), &Notification{NotificationID: c.Param("id")})
	if err != nil {
		c.Error(errutil.Internal("failed to load notification", errutil.WithErr(err)))
		return
	}
	if n == nil {
		c.Error(errutil.NotFound("notification not found"))
		return
	}

	if n.ReadAt == nil {
		now := time.Now().UTC()
		if err := s.notification.Update(c.Request.Context(), n.NotificationID, map[string]any{
			"read_at": now,
		}); err != nil {
			c.Error(errutil.Internal("failed to mark notification read", errutil.WithErr(err)))
			return
		}
		n.ReadAt = &now
	}

	c.JSON(http.StatusOK, n)
}
