package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"collaborative-codehub/internal/domain"
)

// MigrateDB 迁移目录数据库。返回错误以便调用者知道迁移是否成功。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	if err := migrateUsersTable(db); err != nil {
		return fmt.Errorf("failed to migrate users table: %w", err)
	}
	if err := migrateRoomsTable(db); err != nil {
		return fmt.Errorf("failed to migrate rooms table: %w", err)
	}
	logrus.Info("Database migration completed successfully")
	return nil
}

// migrateUsersTable 依赖 domain.User 上的索引标签 (varchar(191) 以适配 utf8mb4 索引长度)。
func migrateUsersTable(db *gorm.DB) error {
	existed := db.Migrator().HasTable(&domain.User{})
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		logrus.Errorf("Failed to auto-migrate users table: %v", err)
		return err
	}
	if existed {
		logrus.Info("Users table schema checked/updated successfully")
	} else {
		logrus.Info("Users table created successfully")
	}
	return nil
}

// migrateRoomsTable 创建或更新 rooms 表。旧版本的整数主键表无法原地升级。
func migrateRoomsTable(db *gorm.DB) error {
	m := db.Migrator()
	if m.HasTable(&domain.Room{}) && !m.HasColumn(&domain.Room{}, "HostID") {
		return fmt.Errorf("rooms table has an incompatible legacy schema (no host_id column); migrate it manually")
	}
	existed := m.HasTable(&domain.Room{})
	if err := db.AutoMigrate(&domain.Room{}); err != nil {
		logrus.Errorf("Failed to auto-migrate rooms table: %v", err)
		return err
	}
	if existed {
		logrus.Info("Rooms table schema checked/updated successfully")
	} else {
		logrus.Info("Rooms table created successfully")
	}
	return nil
}
