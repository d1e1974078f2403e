package kafkaevents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-codehub/internal/domain"
)

func TestPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewSaramaConfig(Config{}))
	event := domain.RoomEvent{
		Type:      domain.EventEditorTransferred,
		RoomID:    "room-1",
		ActorUID:  "host",
		TargetUID: "guest",
		Version:   4,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != DefaultTopic {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "room-1" {
			return errors.New("message must be keyed by room id")
		}
		raw, _ := msg.Value.Encode()
		var got domain.RoomEvent
		if err := json.Unmarshal(raw, &got); err != nil {
			return err
		}
		if got.TargetUID != "guest" || got.Version != 4 {
			return errors.New("payload mismatch")
		}
		return nil
	})

	p := NewPublisherWithProducer(producer, "")
	require.NoError(t, p.Publish(context.Background(), event))
	require.NoError(t, p.Close())
}

func TestPublisher_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewSaramaConfig(Config{}))
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisherWithProducer(producer, "events")
	err := p.Publish(context.Background(), domain.RoomEvent{Type: domain.EventRoomCreated, RoomID: "r"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestPublisher_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewSaramaConfig(Config{}))
	p := NewPublisherWithProducer(producer, "events")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, domain.RoomEvent{RoomID: "r"}), context.Canceled)
	require.NoError(t, p.Close())
}

func TestNewSaramaConfig_SASL(t *testing.T) {
	sc := NewSaramaConfig(Config{Username: "u", Password: "p", ClientID: "codehub"})
	assert.True(t, sc.Net.SASL.Enable)
	assert.Equal(t, "codehub", sc.ClientID)
	assert.True(t, sc.Producer.Return.Successes)

	_, err := NewPublisher(Config{})
	assert.Error(t, err)
}
