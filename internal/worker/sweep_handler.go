package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// ActiveRoomLister 返回本进程中仍有活跃会话的房间 (由 hub.Hub 实现)。
type ActiveRoomLister interface {
	GetActiveRoomIDs() []string
}

// ArchiveSweepHandler 处理周期性的归档任务
type ArchiveSweepHandler struct {
	rooms    ActiveRoomLister
	archiver RoomArchiver
}

// NewArchiveSweepHandler 创建 Handler 实例
func NewArchiveSweepHandler(rooms ActiveRoomLister, archiver RoomArchiver) *ArchiveSweepHandler {
	if rooms == nil {
		panic("ActiveRoomLister cannot be nil for ArchiveSweepHandler")
	}
	if archiver == nil {
		panic("RoomArchiver cannot be nil for ArchiveSweepHandler")
	}
	return &ArchiveSweepHandler{rooms: rooms, archiver: archiver}
}

// ProcessTask 实现 asynq.Handler 接口。单个房间失败不会让整个周期任务失败。
func (h *ArchiveSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	activeRoomIDs := h.rooms.GetActiveRoomIDs()
	if len(activeRoomIDs) == 0 {
		logCtx.Debug("No active rooms found, skipping archive sweep.")
		return nil
	}

	// 使用带有超时的 context，避免任务卡死
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	archived := h.archiver.ArchiveRooms(sweepCtx, activeRoomIDs)

	if archived < len(activeRoomIDs) {
		logCtx.Errorf("Archive sweep completed with %d failures out of %d rooms.", len(activeRoomIDs)-archived, len(activeRoomIDs))
		return nil
	}
	logCtx.Infof("Archive sweep archived %d active rooms.", archived)
	return nil
}
