package broker

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// kafkaClient is the subset of *kafka.Producer used for delivery.
type kafkaClient interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// KafkaProducer sends messages with confluent-kafka-go and waits for each
// delivery report.
type KafkaProducer struct {
	client         kafkaClient
	flushTimeoutMs int
	logger         *zap.Logger
}

// NewKafkaProducer creates a producer from a librdkafka property map.
func NewKafkaProducer(props map[string]string, logger *zap.Logger) (*KafkaProducer, *kafka.AdminClient, error) {
	cfg := kafka.ConfigMap{}
	for k, v := range props {
		cfg[k] = v
	}
	producer, err := kafka.NewProducer(&cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	admin, err := kafka.NewAdminClientFromProducer(producer)
	if err != nil {
		producer.Close()
		return nil, nil, fmt.Errorf("create kafka admin client: %w", err)
	}
	return newKafkaProducer(producer, logger), admin, nil
}

func newKafkaProducer(client kafkaClient, logger *zap.Logger) *KafkaProducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &KafkaProducer{
		client:         client,
		flushTimeoutMs: 15_000,
		logger:         logger,
	}
	go p.handleEvents()
	return p
}

// handleEvents drains client-level events. Per-message reports go to the
// delivery channel passed to Produce, so only errors arrive here.
func (p *KafkaProducer) handleEvents() {
	for event := range p.client.Events() {
		switch e := event.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				p.logger.Warn("kafka delivery failed", zap.Error(e.TopicPartition.Error))
			}
		case kafka.Error:
			p.logger.Warn("kafka producer error", zap.Error(e), zap.Bool("fatal", e.IsFatal()))
		}
	}
}

func (p *KafkaProducer) Send(ctx context.Context, msg Message) (Position, error) {
	topic := msg.Topic
	km := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.Key),
		Value:          msg.Value,
	}
	for _, h := range msg.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: h.Key, Value: h.Value})
	}

	// Buffered so a report arriving after ctx is done never blocks librdkafka.
	delivery := make(chan kafka.Event, 1)
	if err := p.client.Produce(km, delivery); err != nil {
		return Position{}, err
	}

	select {
	case <-ctx.Done():
		return Position{}, ctx.Err()
	case event := <-delivery:
		report, ok := event.(*kafka.Message)
		if !ok {
			return Position{}, fmt.Errorf("unexpected delivery event type: %T", event)
		}
		if report.TopicPartition.Error != nil {
			return Position{}, report.TopicPartition.Error
		}
		pos := Position{
			Partition: report.TopicPartition.Partition,
			Offset:    int64(report.TopicPartition.Offset),
		}
		if report.TopicPartition.Topic != nil {
			pos.Topic = *report.TopicPartition.Topic
		}
		return pos, nil
	}
}

// Close flushes outstanding messages and releases the client.
func (p *KafkaProducer) Close() {
	if remaining := p.client.Flush(p.flushTimeoutMs); remaining > 0 {
		p.logger.Warn("kafka flush left undelivered messages", zap.Int("remaining", remaining))
	}
	p.client.Close()
}
