package indexer

import (
	"strings"

	"go.uber.org/zap"

	"nearEventStreamer/internal/jsoncodec"
	"nearEventStreamer/internal/metrics"
	"nearEventStreamer/internal/model"
)

// EventLogPrefix marks a log line carrying a NEP-297 event.
const EventLogPrefix = "EVENT_JSON:"

// Extractor pulls events out of execution outcome logs.
type Extractor struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewExtractor(logger *zap.Logger, m *metrics.Metrics) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger, metrics: m}
}

// Extract returns the block's events in shard, outcome, then log order.
// Malformed event lines are logged and skipped.
func (x *Extractor) Extract(msg model.StreamerMessage) []model.Event {
	var events []model.Event
	header := msg.Block.Header
	for _, shard := range msg.Shards {
		for _, outcome := range shard.ReceiptExecutionOutcomes {
			info := buildEmitInfo(header, shard.ShardID, outcome)
			events = append(events, x.extractLogs(info, outcome.ExecutionOutcome.Outcome.Logs)...)
		}
	}
	x.metrics.EventsExtracted(len(events))
	return events
}

func (x *Extractor) extractLogs(info model.EmitInfo, logs []string) []model.Event {
	var events []model.Event
	for _, untrimmed := range logs {
		line := strings.TrimSpace(untrimmed)
		if !strings.HasPrefix(line, EventLogPrefix) {
			continue
		}

		var e model.Event
		body := strings.TrimSpace(line[len(EventLogPrefix):])
		if err := jsoncodec.Unmarshal([]byte(body), &e); err != nil {
			x.metrics.MalformedEvent()
			x.logger.Warn("event log does not match NEP-297, skipping",
				zap.Error(err),
				zap.String("log", untrimmed),
				zap.String("receipt_id", info.ReceiptID),
				zap.Uint64("block_height", info.BlockHeight),
			)
			continue
		}
		events = append(events, e.WithEmitInfo(info))
	}
	return events
}

func buildEmitInfo(header model.BlockHeader, shardID uint64, outcome model.ExecutionOutcomeWithReceipt) model.EmitInfo {
	return model.EmitInfo{
		ReceiptID:         outcome.Receipt.ReceiptID,
		BlockHeight:       header.Height,
		BlockTimestamp:    header.Timestamp,
		ShardID:           shardID,
		ContractAccountID: outcome.Receipt.ReceiverID,
	}
}
