package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-codehub/internal/domain"
	"collaborative-codehub/internal/repository"
)

// AuthorityManager 处理编辑权转移和静音。只有房主可以调用。
// 权限判断基于调用方持有的最近快照，存储层不做二次校验。
type AuthorityManager struct {
	store  repository.RoomStore
	events repository.EventPublisher
	now    func() time.Time
}

// NewAuthorityManager 创建 AuthorityManager 实例。events 可以为 nil。
func NewAuthorityManager(store repository.RoomStore, events repository.EventPublisher) *AuthorityManager {
	if store == nil {
		panic("RoomStore cannot be nil for AuthorityManager")
	}
	if events == nil {
		events = repository.NopPublisher{}
	}
	return &AuthorityManager{store: store, events: events, now: time.Now}
}

// TransferEditor 把编辑权交给 targetUID。目标必须已在参与者列表中。
func (m *AuthorityManager) TransferEditor(ctx context.Context, room *domain.RoomRecord, actingUID, targetUID string) error {
	if room == nil {
		return ErrRoomNotFound
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": room.ID, "user_id": actingUID, "target_uid": targetUID, "operation": "transfer_editor"})

	if !room.IsHost(actingUID) {
		logCtx.Warn("Rejected editor transfer from non-host")
		return ErrPermissionDenied
	}
	if !room.HasParticipant(targetUID) {
		logCtx.Warn("Rejected editor transfer to unknown participant")
		return ErrNotParticipant
	}
	if room.CurrentEditor == targetUID {
		logCtx.Debug("Target already holds editor authority")
		return nil
	}

	now := m.now()
	version, err := m.store.Update(ctx, room.ID, domain.Fields{
		domain.FieldCurrentEditor: targetUID,
		domain.FieldLastUpdated:   domain.FormatTime(now),
		domain.FieldLastUpdatedBy: actingUID,
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to write editor transfer")
		return fmt.Errorf("transfer editor: %w", mapStoreError(err))
	}
	logCtx.WithField("version", version).Info("Editor authority transferred")

	publishEvent(ctx, m.events, domain.RoomEvent{
		Type:      domain.EventEditorTransferred,
		RoomID:    room.ID,
		ActorUID:  actingUID,
		TargetUID: targetUID,
		Version:   version,
		Timestamp: now,
	})
	return nil
}

// SetMuted 更新单个参与者的 muted 标记，只写这一个叶子。重复调用结果相同。
// 静音只是提示性的，不会阻止任何写入。
func (m *AuthorityManager) SetMuted(ctx context.Context, room *domain.RoomRecord, actingUID, targetUID string, muted bool) error {
	if room == nil {
		return ErrRoomNotFound
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": room.ID, "user_id": actingUID, "target_uid": targetUID, "muted": muted, "operation": "set_muted"})

	if !room.IsHost(actingUID) {
		logCtx.Warn("Rejected mute change from non-host")
		return ErrPermissionDenied
	}
	if !room.HasParticipant(targetUID) {
		return ErrNotParticipant
	}

	version, err := m.store.Update(ctx, room.ID, domain.Fields{
		domain.ParticipantField(targetUID, domain.ParticipantMuted): strconv.FormatBool(muted),
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to write mute flag")
		return fmt.Errorf("set muted: %w", mapStoreError(err))
	}
	logCtx.WithField("version", version).Info("Participant mute flag updated")

	publishEvent(ctx, m.events, domain.RoomEvent{
		Type:      domain.EventParticipantMuted,
		RoomID:    room.ID,
		ActorUID:  actingUID,
		TargetUID: targetUID,
		Version:   version,
		Data:      map[string]string{"muted": strconv.FormatBool(muted)},
		Timestamp: m.now(),
	})
	return nil
}

// publishEvent 发布已提交的房间事件。失败只记录日志，不影响已完成的写入。
func publishEvent(ctx context.Context, pub repository.EventPublisher, ev domain.RoomEvent) {
	if err := pub.Publish(ctx, ev); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": ev.RoomID, "event": ev.Type}).Warn("Failed to publish room event")
	}
}
