package indexer

import (
	"context"
	"errors"
	"sync"

	"nearEventStreamer/internal/broker"
	"nearEventStreamer/internal/model"
)

const nftMintLog = `EVENT_JSON:{"standard":"nep171","version":"1.0.0","event":"nft_mint","data":[{"owner_id":"alice.near","token_ids":["1"]}]}`

type testOutcome struct {
	receiver string
	receipt  string
	logs     []string
}

func block(height uint64, shards ...[]testOutcome) model.StreamerMessage {
	msg := model.StreamerMessage{Block: model.BlockView{Header: model.BlockHeader{Height: height, Timestamp: height * 1000}}}
	for i, outcomes := range shards {
		shard := model.IndexerShard{ShardID: uint64(i)}
		for _, o := range outcomes {
			shard.ReceiptExecutionOutcomes = append(shard.ReceiptExecutionOutcomes, model.ExecutionOutcomeWithReceipt{
				ExecutionOutcome: model.ExecutionOutcomeWithID{Outcome: model.ExecutionOutcome{Logs: o.logs}},
				Receipt:          model.ReceiptView{ReceiverID: o.receiver, ReceiptID: o.receipt},
			})
		}
		msg.Shards = append(msg.Shards, shard)
	}
	return msg
}

type published struct {
	Topic   string
	Key     string
	Payload []byte
}

type fakePublisher struct {
	mu     sync.Mutex
	sent   []published
	failOn map[string]error
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, payload []byte, _ ...broker.Header) (broker.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failOn[topic]; err != nil {
		return broker.Position{}, err
	}
	p.sent = append(p.sent, published{Topic: topic, Key: key, Payload: payload})
	return broker.Position{Topic: topic, Offset: int64(len(p.sent))}, nil
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, s := range p.sent {
		out = append(out, s.Topic)
	}
	return out
}

func (p *fakePublisher) byTopic(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, s := range p.sent {
		if s.Topic == topic {
			out = append(out, s)
		}
	}
	return out
}

var errDelivery = errors.New("broker rejected message")
