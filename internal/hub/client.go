package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"collaborative-codehub/internal/dto"
	"collaborative-codehub/internal/service"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var errUnknownMessage = errors.New("unknown message type")

// Client 代表一个连接到 Hub 的 WebSocket 客户端，持有自己的房间会话。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *service.RoomSession
	send    chan []byte // 用于向此客户端发送消息的缓冲通道

	forwardDone chan struct{}
	releaseOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, session *service.RoomSession) *Client {
	c := &Client{
		hub:         hub,
		conn:        conn,
		session:     session,
		send:        make(chan []byte, 256),
		forwardDone: make(chan struct{}),
	}
	go c.forwardEvents()
	return c
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"user_id": c.UserID(), "room_id": c.RoomID()})
}

// forwardEvents 把会话事件编码后放入 send 通道，会话关闭后退出。
func (c *Client) forwardEvents() {
	defer close(c.forwardDone)
	for ev := range c.session.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			c.logger().WithError(err).Error("Failed to marshal session event")
			continue
		}
		select {
		case c.send <- data:
		default:
			c.logger().WithField("event_type", ev.Type).Warn("Client send channel full, dropping session event")
		}
	}
}

// release 关闭会话并在转发结束后关闭 send 通道，之后 WritePump 会退出。
func (c *Client) release() {
	c.releaseOnce.Do(func() {
		c.session.Close()
		<-c.forwardDone
		close(c.send)
	})
}

// abort 用于注册失败的客户端。
func (c *Client) abort() {
	c.release()
	c.CloseConn()
}

// ReadPump 读取客户端消息并交给会话处理。
// 它在自己的 goroutine 中运行。
func (c *Client) ReadPump() {
	defer func() {
		unregisterMsg := HubMessage{Type: "unregister", Client: c, RoomID: c.RoomID(), UserID: c.UserID()}
		select {
		case c.hub.messageChan <- unregisterMsg:
		case <-time.After(1 * time.Second):
			c.logger().Warn("Timeout sending unregister message to Hub channel")
			go c.release()
		}
		c.conn.Close()
		c.logger().Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logger().Debug("WebSocket connection closed normally or read error")
			}
			break
		}
		if messageType != websocket.TextMessage {
			c.logger().Debugf("Received non-text message type: %d", messageType)
			continue
		}

		if err := c.dispatch(message); err != nil {
			if errors.Is(err, service.ErrSessionClosed) {
				break
			}
			c.logger().WithError(err).Debug("Rejected client message")
			c.sendError(err.Error())
		}
	}
}

// dispatch 把一条原始消息转换为会话调用。
func (c *Client) dispatch(raw []byte) error {
	var msg dto.InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	switch msg.Type {
	case dto.MessageEdit:
		return c.session.Edit(msg.Code)
	case dto.MessageLanguage:
		return c.session.ChangeLanguage(msg.Language)
	case dto.MessageTransfer:
		return c.session.TransferEditor(msg.Target)
	case dto.MessageMute:
		return c.session.SetMuted(msg.Target, msg.Muted)
	case dto.MessageRun:
		return c.session.Run(msg.Stdin)
	default:
		return fmt.Errorf("%w: %q", errUnknownMessage, msg.Type)
	}
}

// sendError 只能在 ReadPump 中调用。send 只由 release 关闭，而 release
// 只在 ReadPump 退出之后 (注销或超时路径) 或 Run 之前 (abort) 调用。
// 如需在读循环运行期间释放客户端，应先关闭连接让 ReadPump 退出。
func (c *Client) sendError(message string) {
	data, err := json.Marshal(dto.ErrorFrame{Type: dto.MessageError, Message: message})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger().Warn("Client send channel full, dropping error frame")
	}
}

// WritePump 将消息从 send 通道泵送到 WebSocket 连接。
// 它在自己的 goroutine 中运行。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger().Info("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道在释放时被关闭
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger().WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger().WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}

func (c *Client) RoomID() string { return c.session.RoomID() }
func (c *Client) UserID() string { return c.session.Identity().UID }
func (c *Client) CloseConn()     { c.conn.Close() }
