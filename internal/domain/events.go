package domain

import (
	"context"
	"time"
)

// EventKind — тип события жизненного цикла фаната.
type EventKind string

const (
	// EventFanOnline — фанат появился онлайн.
	EventFanOnline EventKind = "fan_online"
	// EventFanOffline — фанат ушёл в офлайн.
	EventFanOffline EventKind = "fan_offline"
	// EventContentPublished — автор опубликовал новый контент.
	EventContentPublished EventKind = "content_published"
	// EventMessageReceived — от фаната пришло сообщение.
	EventMessageReceived EventKind = "message_received"
)

// LifecycleEvent — событие, запускающее триггеры планировщика.
type LifecycleEvent struct {
	ID          string    `json:"event_id,omitempty"`
	Kind        EventKind `json:"kind"`
	CreatorID   string    `json:"creator_id"`
	FanID       string    `json:"fan_id,omitempty"`
	MediaID     string    `json:"media_id,omitempty"`
	MessageText string    `json:"message_text,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EventAckFunc подтверждает обработку события или запрашивает повторную доставку.
type EventAckFunc func(success bool) error

// EventQueue — очередь событий жизненного цикла.
type EventQueue interface {
	Enqueue(ctx context.Context, event LifecycleEvent) error
	Receive(ctx context.Context) (LifecycleEvent, EventAckFunc, error)
}
