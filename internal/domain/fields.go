package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RoomRecord 在文档存储中的字段路径。
// 局部更新只写列出的叶子路径，不触碰兄弟子树。
const (
	FieldTitle           = "title"
	FieldDescription     = "description"
	FieldHostID          = "hostId"
	FieldCurrentEditor   = "currentEditor"
	FieldCurrentCode     = "currentCode"
	FieldCurrentLanguage = "currentLanguage"
	FieldLastUpdated     = "lastUpdated"
	FieldLastUpdatedBy   = "lastUpdatedBy"

	participantsPrefix = "participants."
	executionPrefix    = "lastExecution."

	FieldExecutionOutput     = executionPrefix + "output"
	FieldExecutionExecutedBy = executionPrefix + "executedBy"
	FieldExecutionTimestamp  = executionPrefix + "timestamp"
	FieldExecutionLanguage   = executionPrefix + "language"
)

// 参与者子字段
const (
	ParticipantName     = "name"
	ParticipantEmail    = "email"
	ParticipantJoinedAt = "joinedAt"
	ParticipantRole     = "role"
	ParticipantMuted    = "muted"
)

// ParticipantField 返回 participants.<uid>.<leaf> 路径。
func ParticipantField(uid, leaf string) string {
	return participantsPrefix + uid + "." + leaf
}

// Fields 是扁平化后的 RoomRecord：路径 -> 字符串值。
type Fields map[string]string

// FormatTime 统一时间编码。
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// ParticipantFields 返回一个参与者全部叶子路径。
func ParticipantFields(uid string, p Participant) Fields {
	return Fields{
		ParticipantField(uid, ParticipantName):     p.Name,
		ParticipantField(uid, ParticipantEmail):    p.Email,
		ParticipantField(uid, ParticipantJoinedAt): FormatTime(p.JoinedAt),
		ParticipantField(uid, ParticipantRole):     p.Role,
		ParticipantField(uid, ParticipantMuted):    strconv.FormatBool(p.Muted),
	}
}

// ExecutionFields 返回 lastExecution 的全部叶子，整体替换时一起写入。
func ExecutionFields(e Execution) Fields {
	return Fields{
		FieldExecutionOutput:     e.Output,
		FieldExecutionExecutedBy: e.ExecutedBy,
		FieldExecutionTimestamp:  FormatTime(e.Timestamp),
		FieldExecutionLanguage:   e.Language,
	}
}

// Flatten 把 RoomRecord 展开为字段路径。
func (r *RoomRecord) Flatten() Fields {
	f := Fields{
		FieldTitle:           r.Title,
		FieldDescription:     r.Description,
		FieldHostID:          r.HostID,
		FieldCurrentEditor:   r.CurrentEditor,
		FieldCurrentCode:     r.CurrentCode,
		FieldCurrentLanguage: r.CurrentLanguage,
		FieldLastUpdated:     FormatTime(r.LastUpdated),
		FieldLastUpdatedBy:   r.LastUpdatedBy,
	}
	for uid, p := range r.Participants {
		for k, v := range ParticipantFields(uid, p) {
			f[k] = v
		}
	}
	if r.LastExecution != nil {
		for k, v := range ExecutionFields(*r.LastExecution) {
			f[k] = v
		}
	}
	return f
}

// Unflatten 从字段路径还原 RoomRecord。未知路径被忽略。
func Unflatten(id string, f Fields) (*RoomRecord, error) {
	r := &RoomRecord{
		ID:              id,
		Title:           f[FieldTitle],
		Description:     f[FieldDescription],
		HostID:          f[FieldHostID],
		CurrentEditor:   f[FieldCurrentEditor],
		CurrentCode:     f[FieldCurrentCode],
		CurrentLanguage: f[FieldCurrentLanguage],
		LastUpdatedBy:   f[FieldLastUpdatedBy],
		Participants:    make(map[string]Participant),
	}
	var err error
	if r.LastUpdated, err = parseTime(f[FieldLastUpdated]); err != nil {
		return nil, fmt.Errorf("decode %s: %w", FieldLastUpdated, err)
	}

	var exec Execution
	hasExec := false
	for path, value := range f {
		switch {
		case strings.HasPrefix(path, participantsPrefix):
			rest := strings.TrimPrefix(path, participantsPrefix)
			dot := strings.LastIndex(rest, ".")
			if dot <= 0 {
				continue
			}
			uid, leaf := rest[:dot], rest[dot+1:]
			p := r.Participants[uid]
			switch leaf {
			case ParticipantName:
				p.Name = value
			case ParticipantEmail:
				p.Email = value
			case ParticipantRole:
				p.Role = value
			case ParticipantJoinedAt:
				if p.JoinedAt, err = parseTime(value); err != nil {
					return nil, fmt.Errorf("decode %s: %w", path, err)
				}
			case ParticipantMuted:
				if p.Muted, err = strconv.ParseBool(value); err != nil {
					return nil, fmt.Errorf("decode %s: %w", path, err)
				}
			default:
				continue
			}
			r.Participants[uid] = p
		case strings.HasPrefix(path, executionPrefix):
			hasExec = true
			switch path {
			case FieldExecutionOutput:
				exec.Output = value
			case FieldExecutionExecutedBy:
				exec.ExecutedBy = value
			case FieldExecutionLanguage:
				exec.Language = value
			case FieldExecutionTimestamp:
				if exec.Timestamp, err = parseTime(value); err != nil {
					return nil, fmt.Errorf("decode %s: %w", path, err)
				}
			}
		}
	}
	if hasExec {
		r.LastExecution = &exec
	}
	return r, nil
}
