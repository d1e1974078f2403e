package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collaborative-codehub/internal/service"
	"collaborative-codehub/internal/tasks"
)

// RoomArchiver 是归档处理器依赖的服务接口 (由 service.RoomService 实现)。
type RoomArchiver interface {
	ArchiveRoom(ctx context.Context, roomID string) error
	ArchiveRooms(ctx context.Context, roomIDs []string) int
}

// RoomArchiveHandler 处理单个房间的归档任务
type RoomArchiveHandler struct {
	archiver RoomArchiver
}

// NewRoomArchiveHandler 创建 Handler 实例
func NewRoomArchiveHandler(archiver RoomArchiver) *RoomArchiveHandler {
	if archiver == nil {
		panic("RoomArchiver cannot be nil for RoomArchiveHandler")
	}
	return &RoomArchiveHandler{archiver: archiver}
}

// taskLogger 构造带任务信息的日志上下文。测试中构造的任务没有 ResultWriter。
func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
}

// ProcessTask 实现 asynq.Handler 接口
func (h *RoomArchiveHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	payload, err := tasks.ParseRoomArchivePayload(t.Payload())
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("room_id", payload.RoomID)

	if err := h.archiver.ArchiveRoom(ctx, payload.RoomID); err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			// 房间已不存在，重试没有意义
			logCtx.Warn("Room no longer exists, skipping archive")
			return fmt.Errorf("room %s not found: %w", payload.RoomID, asynq.SkipRetry)
		}
		logCtx.WithError(err).Error("Failed to archive room")
		return fmt.Errorf("failed to archive room %s: %w", payload.RoomID, err)
	}

	logCtx.Info("Room archive task processed successfully")
	return nil
}
