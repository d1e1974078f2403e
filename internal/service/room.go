package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"collaborative-codehub/internal/domain"
	"collaborative-codehub/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RoomService 负责房间目录：创建房间、查询元数据和归档当前代码。
type RoomService struct {
	roomRepo repository.RoomRepository
	store    repository.RoomStore
	events   repository.EventPublisher
	now      func() time.Time
}

// NewRoomService 创建 RoomService 实例。events 可以为 nil。
func NewRoomService(roomRepo repository.RoomRepository, store repository.RoomStore, events repository.EventPublisher) *RoomService {
	if roomRepo == nil || store == nil {
		panic("RoomRepository and RoomStore cannot be nil for RoomService")
	}
	if events == nil {
		events = repository.NopPublisher{}
	}
	return &RoomService{roomRepo: roomRepo, store: store, events: events, now: time.Now}
}

// CreateRoom 创建目录记录和共享房间记录：创建者是房主，也是初始编辑者。
// language 为空时使用默认语言。
func (s *RoomService) CreateRoom(ctx context.Context, creator domain.Identity, title, description, language string) (*domain.Room, error) {
	logCtx := logrus.WithField("creator_id", creator.UID)

	title = strings.TrimSpace(title)
	if creator.UID == "" || title == "" {
		return nil, fmt.Errorf("%w: room title is required", ErrInvalidInput)
	}
	if language == "" {
		language = domain.DefaultLanguage
	}
	if _, ok := domain.LookupLanguage(language); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	now := s.now()
	room := &domain.Room{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		HostID:      creator.UID,
		LastActive:  now,
	}
	logCtx = logCtx.WithField("room_id", room.ID)

	if err := s.roomRepo.Save(ctx, room); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// uuid 冲突，理论上不应发生
			logCtx.WithError(err).Error("Failed to save new room due to duplicate entry")
			return nil, ErrInternalServer
		}
		logCtx.WithError(err).Error("Failed to save new room to database")
		return nil, ErrInternalServer
	}

	record := domain.NewRoomRecord(room.ID, room.Title, room.Description, creator, language, now)
	if err := s.store.Create(ctx, record); err != nil {
		logCtx.WithError(err).Error("Failed to create shared room record")
		return nil, ErrInternalServer
	}

	publishEvent(ctx, s.events, domain.RoomEvent{
		Type:      domain.EventRoomCreated,
		RoomID:    room.ID,
		ActorUID:  creator.UID,
		Version:   1,
		Data:      map[string]string{"language": language},
		Timestamp: now,
	})
	logCtx.Info("Room created successfully")
	return room, nil
}

// FindRoomByID 查询房间目录记录。
func (s *RoomService) FindRoomByID(ctx context.Context, roomID string) (*domain.Room, error) {
	logCtx := logrus.WithField("room_id", roomID)
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Warn("FindRoomByID: Room not found")
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("FindRoomByID: Repository error")
		return nil, ErrInternalServer
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// ArchiveRoom 把共享记录中的当前代码复制到目录记录。只读共享记录，从不写它。
func (s *RoomService) ArchiveRoom(ctx context.Context, roomID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "archive"})
	snap, err := s.store.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("read room %s for archive: %w", roomID, err)
	}
	rec := snap.Record
	lastActive := rec.LastUpdated
	if lastActive.IsZero() {
		lastActive = s.now()
	}
	if err := s.roomRepo.UpdateArchive(ctx, roomID, rec.CurrentCode, rec.CurrentLanguage, lastActive); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("archive room %s: %w", roomID, err)
	}
	logCtx.WithField("version", snap.Version).Debug("Room archived")
	return nil
}

// ArchiveRooms 依次归档多个房间，返回成功数量。单个失败不影响其他房间。
func (s *RoomService) ArchiveRooms(ctx context.Context, roomIDs []string) int {
	archived := 0
	for _, id := range roomIDs {
		if err := s.ArchiveRoom(ctx, id); err != nil {
			logrus.WithError(err).WithField("room_id", id).Warn("Failed to archive room")
			continue
		}
		archived++
	}
	return archived
}
