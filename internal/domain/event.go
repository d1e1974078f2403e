package domain

import "time"

// 房间事件类型，只在写入成功提交后产生。
const (
	EventEditorTransferred  = "editor.transferred"
	EventParticipantMuted   = "participant.muted"
	EventParticipantJoined  = "participant.joined"
	EventExecutionCompleted = "execution.completed"
	EventRoomCreated        = "room.created"
)

// RoomEvent 是发往外部事件流的一条记录。
type RoomEvent struct {
	Type      string            `json:"type"`
	RoomID    string            `json:"room_id"`
	ActorUID  string            `json:"actor_uid"`
	TargetUID string            `json:"target_uid,omitempty"`
	Version   uint64            `json:"version"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
