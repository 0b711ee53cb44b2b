// Package source produces blocks for the driver, either from the NEAR Lake
// S3 bucket or from a JSONL replay file.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nearEventStreamer/internal/jsoncodec"
	"nearEventStreamer/internal/model"
)

const (
	DefaultLakeBucket = "near-lake-data-mainnet"

	heightKeyWidth = 12
	listPageSize   = 100
)

// S3API is the subset of the S3 client the lake source calls.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type LakeConfig struct {
	Bucket       string
	StartHeight  uint64
	PollInterval time.Duration
}

// Lake streams blocks from a NEAR Lake bucket. Every block lives under a
// zero padded height prefix holding block.json and one shard_<n>.json per
// chunk.
type Lake struct {
	cfg    LakeConfig
	client S3API
	logger *zap.Logger
}

// NewS3Client loads the default AWS credential chain for region.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func NewLake(cfg LakeConfig, client S3API, logger *zap.Logger) *Lake {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultLakeBucket
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Lake{cfg: cfg, client: client, logger: logger}
}

// Stream sends blocks from the start height onwards until ctx is done or a
// read fails. When the bucket has no newer block it polls.
func (l *Lake) Stream(ctx context.Context, out chan<- model.StreamerMessage) error {
	defer close(out)

	// "<height>/" sorts after "<height>", so the start height is listed.
	startAfter := heightKey(l.cfg.StartHeight)

	for {
		heights, err := l.listHeights(ctx, startAfter)
		if err != nil {
			return err
		}
		if len(heights) == 0 {
			if err := sleep(ctx, l.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}

		for _, height := range heights {
			startAfter = heightKey(height + 1)
			if height < l.cfg.StartHeight {
				continue
			}
			msg, err := l.fetchBlock(ctx, height)
			if err != nil {
				return err
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (l *Lake) listHeights(ctx context.Context, startAfter string) ([]uint64, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:       aws.String(l.cfg.Bucket),
		Delimiter:    aws.String("/"),
		MaxKeys:      aws.Int32(listPageSize),
		StartAfter:   aws.String(startAfter),
		RequestPayer: types.RequestPayerRequester,
	}

	resp, err := l.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("list %s after %q: %w", l.cfg.Bucket, startAfter, err)
	}

	heights := make([]uint64, 0, len(resp.CommonPrefixes))
	for _, p := range resp.CommonPrefixes {
		prefix := strings.TrimSuffix(aws.ToString(p.Prefix), "/")
		height, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			l.logger.Warn("unexpected lake prefix, skipping", zap.String("prefix", prefix))
			continue
		}
		heights = append(heights, height)
	}
	return heights, nil
}

func (l *Lake) fetchBlock(ctx context.Context, height uint64) (model.StreamerMessage, error) {
	prefix := heightKey(height)

	var msg model.StreamerMessage
	if err := l.getJSON(ctx, prefix+"/block.json", &msg.Block); err != nil {
		return model.StreamerMessage{}, fmt.Errorf("block %d: %w", height, err)
	}

	msg.Shards = make([]model.IndexerShard, len(msg.Block.Chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i := range msg.Shards {
		i := i
		g.Go(func() error {
			key := fmt.Sprintf("%s/shard_%d.json", prefix, i)
			return l.getJSON(gctx, key, &msg.Shards[i])
		})
	}
	if err := g.Wait(); err != nil {
		return model.StreamerMessage{}, fmt.Errorf("block %d: %w", height, err)
	}

	l.logger.Debug("fetched lake block", zap.Uint64("height", height), zap.Int("shards", len(msg.Shards)))
	return msg, nil
}

func (l *Lake) getJSON(ctx context.Context, key string, v any) error {
	resp, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket:       aws.String(l.cfg.Bucket),
		Key:          aws.String(key),
		RequestPayer: types.RequestPayerRequester,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("get %s: %s: %w", key, apiErr.ErrorCode(), err)
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := jsoncodec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func heightKey(height uint64) string {
	return fmt.Sprintf("%0*d", heightKeyWidth, height)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
