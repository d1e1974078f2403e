package domain

import (
	"errors"
	"fmt"
	"time"
)

// Room 是房间目录记录 (MySQL)，保存房间的元数据和归档副本。
// 实时协作状态不在这里，而在 RoomRecord (文档存储) 中。
type Room struct {
	ID               string    `gorm:"primaryKey;size:36"`         // 房间 ID (UUID)
	Title            string    `gorm:"size:191;not null"`          // 房间标题
	Description      string    `gorm:"type:text"`                  // 房间描述
	HostID           string    `gorm:"index;size:64;not null"`     // 创建者 uid
	ArchivedCode     string    `gorm:"type:mediumtext"`            // 最近一次归档的代码
	ArchivedLanguage string    `gorm:"size:32"`                    // 最近一次归档的语言
	CreatedAt        time.Time `gorm:"autoCreateTime"`             // 创建时间
	LastActive       time.Time `gorm:"index"`                      // 最后活跃时间
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`             // 更新时间
}

// 参与者角色
const (
	RoleHost        = "host"
	RoleParticipant = "participant"
)

// Participant 是房间中的一个参与者，按 uid 存放在 RoomRecord.Participants 中。
type Participant struct {
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	JoinedAt time.Time `json:"joinedAt"`
	Role     string    `json:"role"`
	Muted    bool      `json:"muted"`
}

// Execution 是最近一次运行结果，每次运行整体覆盖，不累积历史。
type Execution struct {
	Output     string    `json:"output"`
	ExecutedBy string    `json:"executedBy"`
	Timestamp  time.Time `json:"timestamp"`
	Language   string    `json:"language"`
}

// RoomRecord 是文档存储中一个房间的共享状态快照。
type RoomRecord struct {
	ID              string                 `json:"id"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	HostID          string                 `json:"hostId"`
	CurrentEditor   string                 `json:"currentEditor"`
	Participants    map[string]Participant `json:"participants"`
	CurrentCode     string                 `json:"currentCode"`
	CurrentLanguage string                 `json:"currentLanguage"`
	LastExecution   *Execution             `json:"lastExecution,omitempty"`
	LastUpdated     time.Time              `json:"lastUpdated"`
	LastUpdatedBy   string                 `json:"lastUpdatedBy"`
}

// Snapshot 是某一版本下的完整 RoomRecord。版本号单调递增。
type Snapshot struct {
	Version uint64      `json:"version"`
	Record  *RoomRecord `json:"record"`
}

var (
	ErrMissingHost     = errors.New("room record has no host")
	ErrEditorNotListed = errors.New("current editor is not a participant")
)

// NewRoomRecord 构造房间创建时的初始记录：host 即为当前编辑者。
func NewRoomRecord(id, title, description string, host Identity, language string, now time.Time) *RoomRecord {
	return &RoomRecord{
		ID:          id,
		Title:       title,
		Description: description,
		HostID:      host.UID,
		// 默认编辑权属于 host
		CurrentEditor: host.UID,
		Participants: map[string]Participant{
			host.UID: NewParticipant(host, RoleHost, now),
		},
		CurrentCode:     LanguageTemplate(language),
		CurrentLanguage: language,
		LastUpdated:     now,
		LastUpdatedBy:   host.UID,
	}
}

// NewParticipant 根据身份信息生成参与者条目。
func NewParticipant(id Identity, role string, now time.Time) Participant {
	return Participant{
		Name:     id.Name,
		Email:    id.Email,
		JoinedAt: now,
		Role:     role,
		Muted:    false,
	}
}

// Validate 检查 RoomRecord 的不变量。
// currentEditor 为空只允许出现在首次分配之前。
func (r *RoomRecord) Validate() error {
	if r.HostID == "" {
		return ErrMissingHost
	}
	if r.CurrentEditor != "" {
		if _, ok := r.Participants[r.CurrentEditor]; !ok {
			return fmt.Errorf("%w: %s", ErrEditorNotListed, r.CurrentEditor)
		}
	}
	return nil
}

// HasParticipant 判断 uid 是否已在房间中。
func (r *RoomRecord) HasParticipant(uid string) bool {
	_, ok := r.Participants[uid]
	return ok
}

// IsHost 判断 uid 是否为房主。
func (r *RoomRecord) IsHost(uid string) bool {
	return uid != "" && uid == r.HostID
}

// IsCurrentEditor 判断 uid 是否持有编辑权。
func (r *RoomRecord) IsCurrentEditor(uid string) bool {
	return uid != "" && uid == r.CurrentEditor
}

// Clone 返回深拷贝，供订阅者安全持有。
func (r *RoomRecord) Clone() *RoomRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Participants = make(map[string]Participant, len(r.Participants))
	for uid, p := range r.Participants {
		out.Participants[uid] = p
	}
	if r.LastExecution != nil {
		exec := *r.LastExecution
		out.LastExecution = &exec
	}
	return &out
}
