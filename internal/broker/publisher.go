package broker

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// HeaderMessageID carries a ULID unique to each publish attempt.
const HeaderMessageID = "message_id"

// Publisher ensures a topic, then sends to it.
type Publisher struct {
	topics   TopicEnsurer
	producer Producer
	logger   *zap.Logger
}

func NewPublisher(topics TopicEnsurer, producer Producer, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{topics: topics, producer: producer, logger: logger}
}

// Publish delivers payload to topic under key and returns the stored
// position once the broker acknowledges it.
func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte, headers ...Header) (Position, error) {
	if p.topics != nil {
		if err := p.topics.Ensure(ctx, topic); err != nil {
			return Position{}, err
		}
	}

	hdrs := make([]Header, 0, len(headers)+1)
	hdrs = append(hdrs, headers...)
	hdrs = append(hdrs, Header{Key: HeaderMessageID, Value: []byte(ulid.Make().String())})

	msg := Message{Topic: topic, Key: key, Value: payload, Headers: hdrs}
	pos, err := p.producer.Send(ctx, msg)
	if err != nil {
		return Position{}, fmt.Errorf("deliver to %s: %w", topic, err)
	}

	p.logger.Debug("message delivered",
		zap.String("topic", pos.Topic),
		zap.Int32("partition", pos.Partition),
		zap.Int64("offset", pos.Offset),
		zap.String("key", key),
	)
	return pos, nil
}
