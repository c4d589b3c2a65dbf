package asynq

const (
	NotifyStatusTask = "notify:status"
)

type NotifyStatusPayload struct {
	RecipientID string // user or organization the notification targets
	Kind        string // campaign_completed, activity_evaluated, ...
	EntityID    string
	Body        string
}
