package repository

import (
	"context"
	"time"

	"collaborative-codehub/internal/domain"
)

// RoomRepository 定义了房间目录 (数据库) 的存储和检索操作。
type RoomRepository interface {
	// FindByID 根据房间 ID 查找房间，不存在返回 ErrRoomNotFound。
	FindByID(ctx context.Context, id string) (*domain.Room, error)

	// Save 保存房间信息。重复 ID 返回 ErrDuplicateEntry。
	Save(ctx context.Context, room *domain.Room) error

	// UpdateArchive 写入房间当前代码的归档副本并刷新 LastActive。
	UpdateArchive(ctx context.Context, id string, code, language string, lastActive time.Time) error

	// FindAllActive 根据一组房间 ID 查询房间列表。
	FindAllActive(ctx context.Context, roomIDs []string) ([]domain.Room, error)
}
