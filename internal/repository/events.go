package repository

import (
	"context"

	"collaborative-codehub/internal/domain"
)

// EventPublisher 把已提交的房间事件发布到外部事件流。
type EventPublisher interface {
	Publish(ctx context.Context, event domain.RoomEvent) error
}

// NopPublisher 在未配置事件流时使用。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.RoomEvent) error { return nil }
