package dto

// 客户端 WebSocket 消息类型
const (
	MessageEdit     = "edit"
	MessageLanguage = "language"
	MessageTransfer = "transfer"
	MessageMute     = "mute"
	MessageRun      = "run"
	MessageError    = "error"
)

// InboundMessage 表示从客户端 WebSocket 消息中接收的一条意图。
// edit 携带完整缓冲 code；language 携带 language；transfer/mute 携带 target。
type InboundMessage struct {
	Type     string `json:"type"`
	Code     string `json:"code,omitempty"`
	Language string `json:"language,omitempty"`
	Target   string `json:"target,omitempty"`
	Muted    bool   `json:"muted,omitempty"`
	Stdin    string `json:"stdin,omitempty"`
}

// ErrorFrame 是只发给单个客户端的协议错误
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
