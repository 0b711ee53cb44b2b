package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Admin is the subset of kafka.AdminClient the provisioner needs.
type Admin interface {
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
}

// ProvisionConfig controls on-demand topic creation.
type ProvisionConfig struct {
	Enabled         bool
	Partitions      int
	Replication     int
	MetadataTimeout time.Duration
}

// Provisioner creates missing topics on first use. Concurrent calls for one
// topic share a single metadata lookup, and topics seen to exist are not
// looked up again.
type Provisioner struct {
	admin  Admin
	cfg    ProvisionConfig
	logger *zap.Logger

	known sync.Map
	group singleflight.Group
}

func NewProvisioner(admin Admin, cfg ProvisionConfig, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.Replication <= 0 {
		cfg.Replication = 1
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = time.Second
	}
	return &Provisioner{admin: admin, cfg: cfg, logger: logger}
}

// Ensure returns nil when topic exists, was created, or its existence could
// not be determined. Only a failed creation is an error.
func (p *Provisioner) Ensure(ctx context.Context, topic string) error {
	if !p.cfg.Enabled || p.admin == nil {
		return nil
	}
	if _, ok := p.known.Load(topic); ok {
		return nil
	}
	_, err, _ := p.group.Do(topic, func() (any, error) {
		return nil, p.ensure(ctx, topic)
	})
	return err
}

func (p *Provisioner) ensure(ctx context.Context, topic string) error {
	md, err := p.admin.GetMetadata(nil, true, int(p.cfg.MetadataTimeout/time.Millisecond))
	if err != nil {
		p.logger.Warn("could not fetch kafka metadata", zap.Error(err), zap.String("topic", topic))
		return nil
	}
	if _, ok := md.Topics[topic]; ok {
		p.known.Store(topic, struct{}{})
		return nil
	}

	results, err := p.admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     p.cfg.Partitions,
		ReplicationFactor: p.cfg.Replication,
	}})
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, res := range results {
		switch res.Error.Code() {
		case kafka.ErrNoError:
			p.logger.Info("kafka created new topic",
				zap.String("topic", res.Topic),
				zap.Int("partitions", p.cfg.Partitions),
				zap.Int("replication", p.cfg.Replication),
			)
		case kafka.ErrTopicAlreadyExists:
			p.logger.Debug("topic already exists", zap.String("topic", res.Topic))
		default:
			return fmt.Errorf("create topic %s: %w", res.Topic, res.Error)
		}
	}

	p.known.Store(topic, struct{}{})
	return nil
}
