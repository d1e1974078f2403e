package http

import (
	"errors"
	"net/http"

	"collaborative-codehub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RunHandler 直接把一段代码交给执行后端，不经过房间。
type RunHandler struct {
	dispatcher *service.ExecutionDispatcher
}

// NewRunHandler 创建 RunHandler 实例
func NewRunHandler(dispatcher *service.ExecutionDispatcher) *RunHandler {
	return &RunHandler{dispatcher: dispatcher}
}

// RunRequest 定义 /api/run 的请求体
type RunRequest struct {
	SourceCode string `json:"source_code" binding:"required"`
	LanguageID int    `json:"language_id" binding:"required"`
	Stdin      string `json:"stdin"`
}

// RunResponse 定义 /api/run 的响应体
type RunResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error"`
	Status  string `json:"status,omitempty"`
}

// Run 处理 POST /api/run
func (h *RunHandler) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.Run: Invalid input format")
		c.JSON(http.StatusBadRequest, RunResponse{Success: false, Error: "Invalid input"})
		return
	}

	out, err := h.dispatcher.Evaluate(c.Request.Context(), req.SourceCode, req.LanguageID, req.Stdin)
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedLanguage) {
			c.JSON(http.StatusBadRequest, RunResponse{Success: false, Error: err.Error()})
			return
		}
		logrus.WithError(err).WithField("language_id", req.LanguageID).Error("Handler.Run: Execution backend failed")
		c.JSON(http.StatusInternalServerError, RunResponse{Success: false, Error: "Failed to execute code"})
		return
	}

	c.JSON(http.StatusOK, RunResponse{
		Success: true,
		Output:  out.Output,
		Error:   out.Error,
		Status:  out.Status,
	})
}
