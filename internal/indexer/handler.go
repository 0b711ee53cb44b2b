package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nearEventStreamer/internal/broker"
	"nearEventStreamer/internal/enrich"
	"nearEventStreamer/internal/jsoncodec"
	"nearEventStreamer/internal/metrics"
	"nearEventStreamer/internal/model"
)

// EventPublisher delivers one payload to one topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte, headers ...broker.Header) (broker.Position, error)
}

// EventEnricher turns an event into flattened copies carrying metadata.
type EventEnricher interface {
	Enrich(ctx context.Context, e model.Event) ([]model.Event, error)
}

// HandlerConfig names the topics events are routed to.
type HandlerConfig struct {
	TopicPrefix string
	AllTopic    string
}

// BlockHandler extracts, filters and publishes the events of one block.
type BlockHandler struct {
	cfg       HandlerConfig
	extractor *Extractor
	filter    *ContractFilter
	publisher EventPublisher
	enricher  EventEnricher
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewBlockHandler wires a handler. enricher may be nil to skip the metadata
// route.
func NewBlockHandler(
	cfg HandlerConfig,
	extractor *Extractor,
	filter *ContractFilter,
	publisher EventPublisher,
	enricher EventEnricher,
	logger *zap.Logger,
	m *metrics.Metrics,
) *BlockHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if filter == nil {
		filter = NewContractFilter(nil, nil)
	}
	if cfg.AllTopic == "" {
		cfg.AllTopic = cfg.TopicPrefix + "_all"
	}
	return &BlockHandler{
		cfg:       cfg,
		extractor: extractor,
		filter:    filter,
		publisher: publisher,
		enricher:  enricher,
		logger:    logger,
		metrics:   m,
	}
}

// Handle publishes every event of msg. Events are handled one after another;
// the first event that fails fails the block.
func (h *BlockHandler) Handle(ctx context.Context, msg model.StreamerMessage) error {
	height := msg.Block.Header.Height
	h.logger.Debug("block", zap.Uint64("height", height))

	extracted := h.extractor.Extract(msg)
	events := h.filter.Apply(extracted)
	h.metrics.EventsFiltered(len(extracted) - len(events))

	for _, e := range events {
		if err := h.publishEvent(ctx, e); err != nil {
			return fmt.Errorf("block %d: %w", height, err)
		}
	}
	return nil
}

// publishEvent runs the all, per-event and metadata routes concurrently. A
// failing route does not cancel its siblings.
func (h *BlockHandler) publishEvent(ctx context.Context, e model.Event) error {
	payload, err := jsoncodec.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.DefaultKey(), err)
	}
	topic := e.Topic(h.cfg.TopicPrefix)

	var g errgroup.Group
	g.Go(func() error {
		return h.send(ctx, metrics.RouteAll, h.cfg.AllTopic, e, payload)
	})
	g.Go(func() error {
		return h.send(ctx, metrics.RouteEvent, topic, e, payload)
	})
	g.Go(func() error {
		return h.publishEnriched(ctx, enrich.MetadataTopic(topic), e)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	h.logger.Debug("sent event to kafka",
		zap.String("topic", topic),
		zap.String("key", e.Key()),
		zap.String("receipt_id", receiptID(e)),
	)
	return nil
}

func (h *BlockHandler) publishEnriched(ctx context.Context, topic string, e model.Event) error {
	if h.enricher == nil {
		return nil
	}
	enriched, err := h.enricher.Enrich(ctx, e)
	if err != nil {
		h.metrics.PublishFailed(metrics.RouteMetadata)
		return fmt.Errorf("enrich %s: %w", e.DefaultKey(), err)
	}

	var g errgroup.Group
	for _, ee := range enriched {
		ee := ee
		g.Go(func() error {
			payload, err := jsoncodec.Marshal(ee)
			if err != nil {
				return fmt.Errorf("encode enriched event %s: %w", ee.DefaultKey(), err)
			}
			return h.send(ctx, metrics.RouteMetadata, topic, ee, payload)
		})
	}
	return g.Wait()
}

func (h *BlockHandler) send(ctx context.Context, route, topic string, e model.Event, payload []byte) error {
	_, err := h.publisher.Publish(ctx, topic, e.Key(), payload,
		broker.Header{Key: "standard", Value: []byte(e.Standard)},
		broker.Header{Key: "event", Value: []byte(e.Event)},
	)
	if err != nil {
		h.metrics.PublishFailed(route)
		return err
	}
	h.metrics.Published(route)
	return nil
}

func receiptID(e model.Event) string {
	if e.EmitInfo == nil {
		return ""
	}
	return e.EmitInfo.ReceiptID
}
