package source

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearEventStreamer/internal/model"
)

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]string
	lists   []string
	payers  []types.RequestPayer
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string]string{}}
}

func (b *fakeBucket) putBlock(height uint64, shards int) {
	prefix := heightKey(height)
	chunks := make([]string, shards)
	for i := range chunks {
		chunks[i] = fmt.Sprintf(`{"chunk_hash":"c%d","shard_id":%d}`, i, i)
		b.objects[fmt.Sprintf("%s/shard_%d.json", prefix, i)] = fmt.Sprintf(
			`{"shard_id":%d,"receipt_execution_outcomes":[{"execution_outcome":{"outcome":{"logs":["log-%d-%d"]}},"receipt":{"receiver_id":"a.near","receipt_id":"r%d"}}]}`,
			i, height, i, i)
	}
	b.objects[prefix+"/block.json"] = fmt.Sprintf(
		`{"author":"v.near","header":{"height":%d,"hash":"h%d","timestamp":%d},"chunks":[%s]}`,
		height, height, height*10, strings.Join(chunks, ","))
}

func (b *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	after := aws.ToString(in.StartAfter)
	b.lists = append(b.lists, after)
	b.payers = append(b.payers, in.RequestPayer)

	seen := map[string]bool{}
	var prefixes []string
	for key := range b.objects {
		prefix := key[:strings.Index(key, "/")+1]
		if prefix <= after || seen[prefix] {
			continue
		}
		seen[prefix] = true
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	if limit := int(aws.ToInt32(in.MaxKeys)); limit > 0 && len(prefixes) > limit {
		prefixes = prefixes[:limit]
	}

	out := &s3.ListObjectsV2Output{}
	for _, p := range prefixes {
		out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(p)})
	}
	return out, nil
}

func (b *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payers = append(b.payers, in.RequestPayer)
	body, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "The specified key does not exist."}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func collect(t *testing.T, src interface {
	Stream(context.Context, chan<- model.StreamerMessage) error
}, want int) ([]model.StreamerMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := make(chan model.StreamerMessage)
	errCh := make(chan error, 1)
	go func() { errCh <- src.Stream(ctx, out) }()

	var got []model.StreamerMessage
	for msg := range out {
		got = append(got, msg)
		if len(got) == want {
			cancel()
		}
	}
	return got, <-errCh
}

func TestLakeStreamsFromStartHeight(t *testing.T) {
	bucket := newFakeBucket()
	bucket.putBlock(99, 1)
	bucket.putBlock(100, 3)
	bucket.putBlock(102, 2)

	lake := NewLake(LakeConfig{Bucket: "test", StartHeight: 100, PollInterval: time.Millisecond}, bucket, nil)
	got, err := collect(t, lake, 2)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 2)

	assert.EqualValues(t, 100, got[0].Block.Header.Height)
	assert.EqualValues(t, 102, got[1].Block.Header.Height)
	require.Len(t, got[0].Shards, 3)
	for i, shard := range got[0].Shards {
		assert.EqualValues(t, i, shard.ShardID, "shards keep chunk order")
		assert.Equal(t, []string{fmt.Sprintf("log-100-%d", i)},
			shard.ReceiptExecutionOutcomes[0].ExecutionOutcome.Outcome.Logs)
	}

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	assert.Equal(t, "000000000100", bucket.lists[0])
	assert.Equal(t, "000000000103", bucket.lists[1])
	for _, p := range bucket.payers {
		assert.Equal(t, types.RequestPayerRequester, p)
	}
}

func TestLakePollsUntilNewBlocks(t *testing.T) {
	bucket := newFakeBucket()
	lake := NewLake(LakeConfig{Bucket: "test", StartHeight: 5, PollInterval: 5 * time.Millisecond}, bucket, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		bucket.mu.Lock()
		bucket.putBlock(5, 1)
		bucket.mu.Unlock()
	}()

	got, err := collect(t, lake, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 1)
	assert.EqualValues(t, 5, got[0].Block.Header.Height)
}

func TestLakeMissingShardFails(t *testing.T) {
	bucket := newFakeBucket()
	bucket.putBlock(7, 2)
	delete(bucket.objects, "000000000007/shard_1.json")

	lake := NewLake(LakeConfig{Bucket: "test"}, bucket, nil)
	got, err := collect(t, lake, 1)
	require.Error(t, err)
	assert.Empty(t, got)
	assert.Contains(t, err.Error(), "block 7")
	assert.Contains(t, err.Error(), "NoSuchKey")
}

func TestHeightKey(t *testing.T) {
	assert.Equal(t, "000000000000", heightKey(0))
	assert.Equal(t, "000123456789", heightKey(123456789))
}
