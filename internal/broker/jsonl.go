package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"nearEventStreamer/internal/jsoncodec"
)

// JSONLProducer appends every message to a JSONL file instead of a broker.
// Offsets count per topic from zero.
type JSONLProducer struct {
	path string

	mu      sync.Mutex
	offsets map[string]int64
}

type jsonlRecord struct {
	Topic   string            `json:"topic"`
	Offset  int64             `json:"offset"`
	Key     string            `json:"key"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload json.RawMessage   `json:"payload"`
}

func NewJSONLProducer(path string) *JSONLProducer {
	return &JSONLProducer{path: path, offsets: make(map[string]int64)}
}

func (p *JSONLProducer) Send(ctx context.Context, msg Message) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	if !json.Valid(msg.Value) {
		return Position{}, fmt.Errorf("payload for %s is not valid JSON", msg.Topic)
	}

	dir := filepath.Dir(p.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Position{}, fmt.Errorf("create output dir: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	record := jsonlRecord{
		Topic:   msg.Topic,
		Offset:  p.offsets[msg.Topic],
		Key:     msg.Key,
		Payload: msg.Value,
	}
	if len(msg.Headers) > 0 {
		record.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			record.Headers[h.Key] = string(h.Value)
		}
	}

	file, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Position{}, fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := jsoncodec.Encode(writer, record); err != nil {
		return Position{}, fmt.Errorf("write message: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return Position{}, fmt.Errorf("flush output: %w", err)
	}

	p.offsets[msg.Topic]++
	return Position{Topic: msg.Topic, Partition: 0, Offset: record.Offset}, nil
}

func (p *JSONLProducer) Close() {}
