package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"nearEventStreamer/internal/jsoncodec"
	"nearEventStreamer/internal/model"
)

const maxLineSize = 64 << 20

// JSONL replays blocks written one StreamerMessage per line.
type JSONL struct {
	r           io.Reader
	startHeight uint64
	logger      *zap.Logger
}

// OpenJSONL opens path for replay, or stdin when path is "-". The returned
// close func releases the file.
func OpenJSONL(path string, startHeight uint64, logger *zap.Logger) (*JSONL, func() error, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("jsonl source needs an input path")
	}
	if path == "-" {
		return NewJSONL(os.Stdin, startHeight, logger), func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return NewJSONL(f, startHeight, logger), f.Close, nil
}

func NewJSONL(r io.Reader, startHeight uint64, logger *zap.Logger) *JSONL {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONL{r: r, startHeight: startHeight, logger: logger}
}

// Stream sends every block at or above the start height. A line that is not
// a block fails the stream.
func (j *JSONL) Stream(ctx context.Context, out chan<- model.StreamerMessage) error {
	defer close(out)

	scanner := bufio.NewScanner(j.r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var msg model.StreamerMessage
		if err := jsoncodec.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("line %d: decode block: %w", line, err)
		}
		if msg.Block.Header.Height < j.startHeight {
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read blocks: %w", err)
	}
	j.logger.Info("jsonl source exhausted", zap.Int("lines", line))
	return nil
}
