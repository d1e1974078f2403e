// Package kafkaevents 把房间事件发布到 Kafka 主题，按房间 ID 分区以保持同一房间内的顺序。
package kafkaevents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"collaborative-codehub/internal/domain"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// DefaultTopic 是房间事件的默认主题
const DefaultTopic = "codehub.room-events"

// Config 是生产者配置
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
	Username string // 非空时启用 SASL/PLAIN
	Password string
}

// NewSaramaConfig 构造同步生产者需要的 sarama 配置
func NewSaramaConfig(cfg Config) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}

	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Successes = true // SyncProducer 必须开启
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Timeout = 5 * time.Second

	if cfg.Username != "" && cfg.Password != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sc.Net.SASL.User = cfg.Username
		sc.Net.SASL.Password = cfg.Password
		sc.Net.SASL.Handshake = true
	}
	return sc
}

// Publisher 实现 repository.EventPublisher
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher 连接 broker 并创建发布者
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewPublisherWithProducer(producer, cfg.Topic), nil
}

// NewPublisherWithProducer 使用已有的生产者，topic 为空时使用 DefaultTopic
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{producer: producer, topic: topic}
}

// Publish 同步发送一条事件，key 为房间 ID
func (p *Publisher) Publish(ctx context.Context, event domain.RoomEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal room event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.RoomID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
		Timestamp: event.Timestamp,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send room event %s: %w", event.Type, err)
	}
	logrus.WithFields(logrus.Fields{
		"room_id":    event.RoomID,
		"event_type": event.Type,
		"partition":  partition,
		"offset":     offset,
	}).Debug("Room event published")
	return nil
}

// Close 关闭底层生产者
func (p *Publisher) Close() error {
	return p.producer.Close()
}
