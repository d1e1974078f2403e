package repository

import (
	"context"

	"collaborative-codehub/internal/domain"
)

// RoomStore 是房间共享状态的文档存储：按房间订阅/通知，按字段原子更新。
// 实现必须保证：每次写入只改动给定的叶子路径，并且每个订阅者看到的
// 快照版本严格递增。
type RoomStore interface {
	// Create 写入一个新的 RoomRecord。ID 已存在时返回 ErrDuplicateEntry。
	Create(ctx context.Context, record *domain.RoomRecord) error

	// Get 读取房间当前快照。房间不存在返回 ErrRoomNotFound。
	Get(ctx context.Context, roomID string) (*domain.Snapshot, error)

	// Update 原子地写入一组叶子路径并通知订阅者，返回新版本号。
	// 房间不存在时返回 ErrRoomNotFound，不会隐式创建房间。
	Update(ctx context.Context, roomID string, fields domain.Fields) (uint64, error)

	// AddParticipant 在 uid 尚不存在时写入参与者条目。
	// 重复或并发调用只有一次生效，其余返回 added=false。
	AddParticipant(ctx context.Context, roomID, uid string, p domain.Participant) (added bool, err error)

	// Subscribe 打开对房间的持续订阅。首个事件是当前快照。
	Subscribe(ctx context.Context, roomID string) (RoomSubscription, error)

	// Delete 删除房间记录。核心逻辑从不调用。
	Delete(ctx context.Context, roomID string) error
}

// RoomEvent 是订阅通道上的一个事件：要么是快照，要么是终止错误。
type RoomEvent struct {
	Snapshot *domain.Snapshot
	Err      error
}

// RoomSubscription 是一个活动订阅。Close 可以重复调用。
type RoomSubscription interface {
	Events() <-chan RoomEvent
	Close() error
}
