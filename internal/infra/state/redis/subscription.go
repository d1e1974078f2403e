package redisstate

import (
	"context"
	"errors"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"collaborative-codehub/internal/repository"
)

// ErrSubscriptionClosed 表示底层 Pub/Sub 连接被意外关闭。
var ErrSubscriptionClosed = errors.New("redis: room subscription closed")

// roomSubscription 把频道上的版本通知转换为完整快照事件。
type roomSubscription struct {
	store    *RedisRoomStore
	roomID   string
	pubsub   *redis.PubSub
	messages <-chan *redis.Message
	events   chan repository.RoomEvent
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

func (s *roomSubscription) Events() <-chan repository.RoomEvent { return s.events }

// Close 取消订阅并等待后台 goroutine 退出。可以重复调用。
func (s *roomSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
		<-s.done
	})
	return err
}

func (s *roomSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	logCtx := logrus.WithFields(logrus.Fields{"room_id": s.roomID, "component": "room_subscription"})

	var lastVersion uint64
	// emit 读取最新快照，只发送比上次更新的版本
	emit := func() bool {
		snap, err := s.store.Get(ctx, s.roomID)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			s.send(ctx, repository.RoomEvent{Err: err})
			return false
		}
		if lastVersion != 0 && snap.Version <= lastVersion {
			logCtx.Debugf("Dropping stale snapshot version %d (last %d)", snap.Version, lastVersion)
			return true
		}
		lastVersion = snap.Version
		return s.send(ctx, repository.RoomEvent{Snapshot: snap})
	}

	if !emit() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-s.messages:
			if !ok {
				if ctx.Err() == nil {
					logCtx.Warn("Pub/Sub channel closed unexpectedly")
					s.send(ctx, repository.RoomEvent{Err: ErrSubscriptionClosed})
				}
				return
			}
			if !emit() {
				return
			}
		}
	}
}

func (s *roomSubscription) send(ctx context.Context, ev repository.RoomEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
