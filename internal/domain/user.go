// Package domain 定义了应用程序中使用的数据结构。
package domain

import (
	"strconv"
	"time"
)

// User 表示身份提供方中的一个账户。
type User struct {
	ID          uint      `gorm:"primaryKey"`                                           // 用户唯一标识符 (主键)
	Username    string    `gorm:"type:varchar(191);uniqueIndex:idx_username;not null"`  // 登录名，小写存储
	DisplayName string    `gorm:"type:varchar(191)"`                                    // 房间中显示的名字
	Password    string    `gorm:"type:text;not null"`                                   // 哈希后的密码
	Email       string    `gorm:"type:varchar(191);uniqueIndex:idx_email;default:null"` // 空值存为 NULL
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Identity 是当前会话的身份：稳定 uid、显示名和邮箱。
type Identity struct {
	UID   string `json:"uid"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Identity 把账户转换为会话身份。
func (u *User) Identity() Identity {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return Identity{UID: strconv.FormatUint(uint64(u.ID), 10), Name: name, Email: u.Email}
}

// DisplayLabel 返回用于 executedBy 等字段的展示名：优先显示名，其次邮箱。
func (i Identity) DisplayLabel() string {
	if i.Name != "" {
		return i.Name
	}
	if i.Email != "" {
		return i.Email
	}
	return i.UID
}
