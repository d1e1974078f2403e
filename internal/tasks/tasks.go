package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeRoomArchive      = "room:archive"       // 归档单个房间的当前代码
	TypeRoomArchiveSweep = "room:archive_sweep" // 周期性归档所有活跃房间
)

// ArchiveSweepSpec 是周期归档任务的调度表达式。
const ArchiveSweepSpec = "@every 5m"

// RoomArchivePayload 定义了房间归档任务的数据结构
type RoomArchivePayload struct {
	RoomID string `json:"room_id"`
}

// NewRoomArchiveTask 创建一个新的房间归档任务
func NewRoomArchiveTask(roomID string) (*asynq.Task, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is required for %s", TypeRoomArchive)
	}
	payloadBytes, err := json.Marshal(RoomArchivePayload{RoomID: roomID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoomArchive, payloadBytes, asynq.MaxRetry(3), asynq.Timeout(30*time.Second)), nil
}

// ParseRoomArchivePayload 解析归档任务的 payload。
func ParseRoomArchivePayload(payload []byte) (RoomArchivePayload, error) {
	var p RoomArchivePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, err
	}
	if p.RoomID == "" {
		return p, fmt.Errorf("missing room_id")
	}
	return p, nil
}

// NewArchiveSweepTask 创建周期归档任务，payload 为空。
func NewArchiveSweepTask() *asynq.Task {
	return asynq.NewTask(TypeRoomArchiveSweep, nil)
}

// taskEnqueuer 抽象 asynq.Client，便于测试。
type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer 把房间归档请求放入任务队列。
type Enqueuer struct {
	client taskEnqueuer
}

// NewEnqueuer 创建 Enqueuer 实例。
func NewEnqueuer(client *asynq.Client) *Enqueuer {
	if client == nil {
		panic("asynq client cannot be nil for Enqueuer")
	}
	return &Enqueuer{client: client}
}

// EnqueueArchive 入队一个归档任务。同一房间一分钟内只保留一个。
func (e *Enqueuer) EnqueueArchive(ctx context.Context, roomID string) error {
	task, err := NewRoomArchiveTask(roomID)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.Unique(time.Minute)); err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue %s for room %s: %w", TypeRoomArchive, roomID, err)
	}
	return nil
}
