package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"collaborative-codehub/internal/domain"
	"collaborative-codehub/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// FindByID 实现根据房间 ID 查找房间
func (r *GormRoomRepository) FindByID(ctx context.Context, id string) (*domain.Room, error) {
	var roomData domain.Room
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&roomData).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by id %s: %w", id, err)
	}
	return &roomData, nil
}

// Save 插入新房间。ID 由调用方生成，重复时返回 ErrDuplicateEntry。
func (r *GormRoomRepository) Save(ctx context.Context, roomData *domain.Room) error {
	err := r.db.WithContext(ctx).Create(roomData).Error
	if err != nil {
		if dup := asDuplicate(err); dup != nil {
			return dup
		}
		return fmt.Errorf("gorm: save room (id: %s, host: %s): %w", roomData.ID, roomData.HostID, err)
	}
	return nil
}

// UpdateArchive 只更新归档相关的列。
func (r *GormRoomRepository) UpdateArchive(ctx context.Context, id string, code, language string, lastActive time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.Room{}).Where("id = ?", id).Updates(map[string]interface{}{
		"archived_code":     code,
		"archived_language": language,
		"last_active":       lastActive,
	})
	if result.Error != nil {
		return fmt.Errorf("gorm: update archive for room %s: %w", id, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	// MySQL 对值未变化的行返回 0，需要区分"不存在"
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("gorm: count room %s: %w", id, err)
	}
	if count == 0 {
		return repository.ErrRoomNotFound
	}
	return nil
}

// FindAllActive 实现根据 ID 列表批量获取房间信息
func (r *GormRoomRepository) FindAllActive(ctx context.Context, roomIDs []string) ([]domain.Room, error) {
	var rooms []domain.Room
	if len(roomIDs) == 0 {
		return rooms, nil // 避免空的 IN 查询，直接返回空 slice
	}
	err := r.db.WithContext(ctx).Where("id IN ?", roomIDs).Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find active rooms by ids: %w", err)
	}
	return rooms, nil
}
