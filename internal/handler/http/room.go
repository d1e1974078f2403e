package http

import (
	"net/http"
	"time"

	"collaborative-codehub/internal/domain"
	"collaborative-codehub/internal/middleware"
	"collaborative-codehub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RoomHandler 封装了与房间目录相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	return &RoomHandler{roomService: roomService}
}

// CreateRoomRequest 定义创建房间的请求体
type CreateRoomRequest struct {
	Title       string `json:"title" binding:"required,max=191"`
	Description string `json:"description"`
	Language    string `json:"language"`
}

// RoomResponse 是房间目录记录的对外形状
type RoomResponse struct {
	RoomID           string    `json:"room_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	HostID           string    `json:"host_id"`
	ArchivedLanguage string    `json:"archived_language,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	LastActive       time.Time `json:"last_active"`
}

func newRoomResponse(r *domain.Room) RoomResponse {
	return RoomResponse{
		RoomID:           r.ID,
		Title:            r.Title,
		Description:      r.Description,
		HostID:           r.HostID,
		ArchivedLanguage: r.ArchivedLanguage,
		CreatedAt:        r.CreatedAt,
		LastActive:       r.LastActive,
	}
}

// CreateRoom 处理创建新房间的请求，创建者成为房主和初始编辑者
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	creator, ok := middleware.CurrentIdentity(c)
	if !ok {
		logrus.Warn("Handler.CreateRoom: Identity not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), creator, req.Title, req.Description, req.Language)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, newRoomResponse(room))
}

// GetRoom 返回房间目录元数据
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.roomService.FindRoomByID(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, newRoomResponse(room))
}

// ListLanguages 返回支持的语言 (按标识排序)
func (h *RoomHandler) ListLanguages(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, gin.H{"languages": domain.Languages()})
}
