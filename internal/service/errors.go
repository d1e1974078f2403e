package service

import (
	"errors"

	"collaborative-codehub/internal/repository"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrRoomNotFound         = errors.New("room not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRegistrationFailed   = errors.New("registration failed: username or email already exists")
	ErrInternalServer       = errors.New("internal server error")
	ErrInvalidInput         = errors.New("invalid input")

	// 房间内操作
	ErrPermissionDenied    = errors.New("permission denied")
	ErrNotParticipant      = errors.New("target is not a participant of this room")
	ErrEmptyCode           = errors.New("code is empty")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrExecutionFailed     = errors.New("code execution failed")
	ErrSessionClosed       = errors.New("room session is closed")
	ErrSubscriptionEnded   = errors.New("room subscription ended")
)

// mapStoreError 把仓库层错误映射为服务层错误，未知错误原样返回 (已被包装过)。
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrRoomNotFound):
		return ErrRoomNotFound
	default:
		return err
	}
}
