package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"collaborative-codehub/internal/domain"
	"collaborative-codehub/internal/repository"
)

// GormUserRepository 是身份提供方账户表的 GORM 实现。
// 用户名按小写存储和查找，空邮箱存为 NULL，不占用唯一索引。
type GormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	if db == nil {
		panic("database connection cannot be nil for GormUserRepository")
	}
	return &GormUserRepository{db: db}
}

// normalizeUsername 统一用户名，注册和登录使用同一形式。
func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// profileColumns 是已有账户可以修改的列。
func profileColumns(user *domain.User) map[string]interface{} {
	cols := map[string]interface{}{
		"display_name": user.DisplayName,
		"password":     user.Password,
		"email":        nil,
	}
	if user.Email != "" {
		cols["email"] = user.Email
	}
	return cols
}

// FindByUsername 按规范化后的用户名查找账户，用于注册查重和登录。
func (r *GormUserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	name := normalizeUsername(username)
	var user domain.User
	err := r.db.WithContext(ctx).Where("username = ?", name).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrUserNotFound
		}
		return nil, fmt.Errorf("gorm: find user %q: %w", name, err)
	}
	return &user, nil
}

// FindByID 查找账户。会话身份里的 uid 就是这里的主键。
func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Take(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrUserNotFound
		}
		return nil, fmt.Errorf("gorm: find user %d: %w", id, err)
	}
	return &user, nil
}

// Save 新账户 (ID 为 0) 执行 INSERT；已有账户只更新显示名、邮箱和密码，
// 用户名创建后不可修改。用户名或邮箱冲突返回 ErrDuplicateEntry。
func (r *GormUserRepository) Save(ctx context.Context, user *domain.User) error {
	user.Username = normalizeUsername(user.Username)
	user.Email = normalizeEmail(user.Email)

	db := r.db.WithContext(ctx)
	var err error
	if user.ID == 0 {
		err = db.Create(user).Error
	} else {
		err = db.Model(user).Updates(profileColumns(user)).Error
	}
	if err != nil {
		if dup := asDuplicate(err); dup != nil {
			return dup
		}
		return fmt.Errorf("gorm: save user %q: %w", user.Username, err)
	}
	return nil
}
