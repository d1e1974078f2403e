package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"collaborative-codehub/internal/domain"
	"collaborative-codehub/internal/service"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// 整个代码缓冲随 edit 消息发送，需要较大的上限
	maxMessageSize = 64 * 1024

	// 归档任务入队的超时
	archiveEnqueueTimeout = 5 * time.Second
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type   string // "register", "unregister"
	RoomID string
	UserID string
	Client *Client
}

// SessionOpener 为一个连接打开房间会话。
type SessionOpener func(ctx context.Context, roomID string, identity domain.Identity) *service.RoomSession

// Archiver 在房间的最后一个连接离开时安排归档。
type Archiver interface {
	EnqueueArchive(ctx context.Context, roomID string) error
}

// Hub 维护活跃客户端集合。每个客户端持有自己的房间会话，
// 房间内的同步通过共享记录完成，Hub 只负责连接的登记和释放。
type Hub struct {
	messageChan chan HubMessage

	// map[roomID]map[*Client]bool
	rooms   map[string]map[*Client]bool
	roomsMu sync.RWMutex

	openSession SessionOpener
	archiver    Archiver

	releases sync.WaitGroup // 进行中的 releaseClient
}

// NewHub 创建 Hub。archiver 可以为 nil，此时房间变空时不安排归档。
func NewHub(openSession SessionOpener, archiver Archiver) *Hub {
	if openSession == nil {
		panic("SessionOpener cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		rooms:       make(map[string]map[*Client]bool),
		openSession: openSession,
		archiver:    archiver,
	}
}

// Run 启动 Hub 的主事件处理循环。
// 它应该在一个单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for msg := range h.messageChan {
		switch msg.Type {
		case "register":
			h.registerClient(msg.Client)
		case "unregister":
			h.unregisterClient(msg.Client)
		default:
			log.Warnf("Hub: Received unknown message type: %s from user %s in room %s", msg.Type, msg.UserID, msg.RoomID)
		}
	}
	log.Info("Hub is shutting down...")
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	roomID := client.RoomID()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"user_id": client.UserID(),
		"action":  "registerClient",
	})

	h.roomsMu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
		logCtx.Info("Client list created for new room")
	}
	h.rooms[roomID][client] = true
	h.roomsMu.Unlock()
	logCtx.Info("Client registered to Hub")
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	roomID := client.RoomID()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"user_id": client.UserID(),
		"action":  "unregisterClient",
	})

	roomEmpty := false
	h.roomsMu.Lock()
	if roomClients, ok := h.rooms[roomID]; ok {
		delete(roomClients, client)
		if len(roomClients) == 0 {
			delete(h.rooms, roomID)
			roomEmpty = true
			logCtx.Info("Room empty, removed from Hub")
		}
	} else {
		logCtx.Warn("Room not found during client unregister")
	}
	h.roomsMu.Unlock()

	// 会话关闭会冲刷未写入的缓冲，不能阻塞 Hub 主循环
	h.releases.Add(1)
	go h.releaseClient(client, roomEmpty)
	logCtx.Info("Client unregistered from Hub")
}

// releaseClient 关闭会话，等待事件转发结束后再关闭 send 通道。
// 归档在会话冲刷之后入队，保证读到最后一次写入。
func (h *Hub) releaseClient(client *Client, roomEmpty bool) {
	defer h.releases.Done()
	client.release()
	if !roomEmpty || h.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveEnqueueTimeout)
	defer cancel()
	if err := h.archiver.EnqueueArchive(ctx, client.RoomID()); err != nil {
		logrus.WithError(err).WithField("room_id", client.RoomID()).Warn("Hub: Failed to enqueue room archive")
	}
}

// --- 公共方法 ---

// NewClient 为已升级的连接创建客户端并打开它的房间会话。
func (h *Hub) NewClient(conn *websocket.Conn, roomID string, identity domain.Identity) *Client {
	session := h.openSession(context.Background(), roomID, identity)
	return newClient(h, conn, session)
}

// queueMessage 将消息放入 Hub 的处理队列 (非阻塞)。注销消息只由 ReadPump 发出。
// 返回 true 如果消息成功入队，false 如果队列已满。
func (h *Hub) queueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"message_type": msg.Type,
			"room_id":      msg.RoomID,
			"user_id":      msg.UserID,
		}).Warn("Hub message channel full, dropping message")
		return false
	}
}

// Register 把客户端加入 Hub 并启动它的读写循环。队列已满时关闭客户端并返回 false。
func (h *Hub) Register(client *Client) bool {
	ok := h.queueMessage(HubMessage{
		Type:   "register",
		Client: client,
		RoomID: client.RoomID(),
		UserID: client.UserID(),
	})
	if !ok {
		client.abort()
		return false
	}
	client.Run()
	return true
}

// GetActiveRoomIDs 返回当前至少有一个连接的房间。
func (h *Hub) GetActiveRoomIDs() []string {
	h.roomsMu.RLock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	h.roomsMu.RUnlock()
	sort.Strings(ids)
	return ids
}

// ClientCount 返回房间当前的连接数。
func (h *Hub) ClientCount(roomID string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[roomID])
}

// CloseAll 关闭所有连接。读循环退出后客户端照常注销，未写入的缓冲会被冲刷。
func (h *Hub) CloseAll() {
	h.roomsMu.RLock()
	clients := make([]*Client, 0)
	for _, roomClients := range h.rooms {
		for c := range roomClients {
			clients = append(clients, c)
		}
	}
	h.roomsMu.RUnlock()

	for _, c := range clients {
		c.CloseConn()
	}
}

// Drain 等待所有连接注销并释放完毕，或者 ctx 到期。通常在 CloseAll 之后调用。
func (h *Hub) Drain(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for len(h.GetActiveRoomIDs()) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	done := make(chan struct{})
	go func() {
		h.releases.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
