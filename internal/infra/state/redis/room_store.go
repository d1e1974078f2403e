package redisstate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	// 导入 Redis 客户端库
	"github.com/go-redis/redis/v8"

	"collaborative-codehub/internal/domain"
	"collaborative-codehub/internal/repository"
)

// RedisRoomStore 是 RoomStore 接口的 Redis 实现。
// 每个房间是一个 Hash (字段为扁平化路径)，外加一个版本计数器和一个 Pub/Sub 频道。
// 所有写入都通过 Lua 脚本完成：写字段、递增版本、发布版本号在一次原子操作内。
type RedisRoomStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRoomStore 创建 RedisRoomStore 实例
func NewRedisRoomStore(client *redis.Client, keyPrefix string) *RedisRoomStore {
	if client == nil {
		panic("redis client cannot be nil for RedisRoomStore")
	}
	if keyPrefix == "" {
		keyPrefix = "ch:" // 默认前缀 "ch:" (codehub)
	}
	return &RedisRoomStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// --- Key Generation Helpers ---
func (r *RedisRoomStore) roomDocKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:doc", r.keyPrefix, roomID)
}

func (r *RedisRoomStore) roomVersionKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:version", r.keyPrefix, roomID)
}

func (r *RedisRoomStore) roomPubSubChannel(roomID string) string {
	return fmt.Sprintf("%sroom:%s:pubsub", r.keyPrefix, roomID)
}

// --- Lua Scripts ---

// KEYS[1]=doc KEYS[2]=version ARGV[1]=channel ARGV[2..]=field/value 对
// 返回 -1 表示房间不存在，否则返回新版本号。
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
for i = 2, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
local v = redis.call('INCR', KEYS[2])
redis.call('PUBLISH', ARGV[1], tostring(v))
return v
`)

// ARGV[2]=存在性标记字段，其余同 updateScript。
// 返回 -1 房间不存在，0 参与者已存在，>0 为新版本号。
var addParticipantScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HEXISTS', KEYS[1], ARGV[2]) == 1 then
	return 0
end
for i = 3, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
local v = redis.call('INCR', KEYS[2])
redis.call('PUBLISH', ARGV[1], tostring(v))
return v
`)

// 返回 0 表示房间已存在，否则返回新版本号。
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
for i = 2, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
local v = redis.call('INCR', KEYS[2])
redis.call('PUBLISH', ARGV[1], tostring(v))
return v
`)

// fieldArgs 把字段展开成脚本参数，按路径排序保证写入顺序稳定。
func fieldArgs(head []interface{}, fields domain.Fields) []interface{} {
	paths := make([]string, 0, len(fields))
	for path := range fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	args := make([]interface{}, 0, len(head)+2*len(paths))
	args = append(args, head...)
	for _, path := range paths {
		args = append(args, path, fields[path])
	}
	return args
}

// --- RoomStore Interface Implementation ---

// Create 写入新的 RoomRecord。
func (r *RedisRoomStore) Create(ctx context.Context, record *domain.RoomRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("redis: cannot create room without id")
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("redis: invalid room record %s: %w", record.ID, err)
	}
	keys := []string{r.roomDocKey(record.ID), r.roomVersionKey(record.ID)}
	args := fieldArgs([]interface{}{r.roomPubSubChannel(record.ID)}, record.Flatten())
	v, err := createScript.Run(ctx, r.client, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("redis: failed to create room %s: %w", record.ID, err)
	}
	if v == 0 {
		return repository.ErrDuplicateEntry
	}
	return nil
}

// Get 读取房间当前快照 (Hash 与版本号在一个事务内读取)。
func (r *RedisRoomStore) Get(ctx context.Context, roomID string) (*domain.Snapshot, error) {
	docKey := r.roomDocKey(roomID)
	var hashCmd *redis.StringStringMapCmd
	var versionCmd *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hashCmd = pipe.HGetAll(ctx, docKey)
		versionCmd = pipe.Get(ctx, r.roomVersionKey(roomID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: failed to read room %s from %s: %w", roomID, docKey, err)
	}
	fields, err := hashCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read room hash %s: %w", docKey, err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrRoomNotFound
	}
	var version uint64
	if versionStr, verr := versionCmd.Result(); verr == nil {
		version, err = strconv.ParseUint(versionStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: failed to parse version '%s' for room %s: %w", versionStr, roomID, err)
		}
	}
	record, err := domain.Unflatten(roomID, domain.Fields(fields))
	if err != nil {
		return nil, fmt.Errorf("redis: failed to decode room %s: %w", roomID, err)
	}
	return &domain.Snapshot{Version: version, Record: record}, nil
}

// Update 原子地写入叶子路径。
func (r *RedisRoomStore) Update(ctx context.Context, roomID string, fields domain.Fields) (uint64, error) {
	if len(fields) == 0 {
		return 0, fmt.Errorf("redis: empty update for room %s", roomID)
	}
	keys := []string{r.roomDocKey(roomID), r.roomVersionKey(roomID)}
	args := fieldArgs([]interface{}{r.roomPubSubChannel(roomID)}, fields)
	v, err := updateScript.Run(ctx, r.client, keys, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis: failed to update room %s: %w", roomID, err)
	}
	if v < 0 {
		return 0, repository.ErrRoomNotFound
	}
	return uint64(v), nil
}

// AddParticipant 幂等地加入参与者。以 joinedAt 叶子作为存在性标记，
// 同一 uid 的并发加入落在同一组子键上，只有第一次生效。
func (r *RedisRoomStore) AddParticipant(ctx context.Context, roomID, uid string, p domain.Participant) (bool, error) {
	if uid == "" {
		return false, fmt.Errorf("redis: cannot add participant without uid")
	}
	keys := []string{r.roomDocKey(roomID), r.roomVersionKey(roomID)}
	marker := domain.ParticipantField(uid, domain.ParticipantJoinedAt)
	args := fieldArgs([]interface{}{r.roomPubSubChannel(roomID), marker}, domain.ParticipantFields(uid, p))
	v, err := addParticipantScript.Run(ctx, r.client, keys, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: failed to add participant %s to room %s: %w", uid, roomID, err)
	}
	switch {
	case v < 0:
		return false, repository.ErrRoomNotFound
	case v == 0:
		return false, nil
	default:
		return true, nil
	}
}

// Delete 删除房间文档并通知订阅者。版本计数器保留，保证重建后版本仍然递增。
func (r *RedisRoomStore) Delete(ctx context.Context, roomID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.roomDocKey(roomID))
	pipe.Publish(ctx, r.roomPubSubChannel(roomID), "deleted")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to delete room %s: %w", roomID, err)
	}
	return nil
}

// Subscribe 订阅房间频道。先确认订阅成功，再读取初始快照，保证不丢失其间的写入。
func (r *RedisRoomStore) Subscribe(ctx context.Context, roomID string) (repository.RoomSubscription, error) {
	channel := r.roomPubSubChannel(roomID)
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: failed to subscribe to %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &roomSubscription{
		store:    r,
		roomID:   roomID,
		pubsub:   pubsub,
		messages: pubsub.Channel(),
		events:   make(chan repository.RoomEvent, 16),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go sub.run(subCtx)
	return sub, nil
}
