package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type MockAdmin struct {
	mock.Mock
}

func (m *MockAdmin) GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error) {
	args := m.Called(topic, allTopics, timeoutMs)
	md, _ := args.Get(0).(*kafka.Metadata)
	return md, args.Error(1)
}

func (m *MockAdmin) CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error) {
	args := m.Called(ctx, topics)
	res, _ := args.Get(0).([]kafka.TopicResult)
	return res, args.Error(1)
}

func metadataWith(topics ...string) *kafka.Metadata {
	md := &kafka.Metadata{Topics: make(map[string]kafka.TopicMetadata)}
	for _, topic := range topics {
		md.Topics[topic] = kafka.TopicMetadata{Topic: topic}
	}
	return md
}

func enabledConfig() ProvisionConfig {
	return ProvisionConfig{Enabled: true, Partitions: 3, Replication: 2, MetadataTimeout: time.Second}
}

func TestEnsureDisabledIsNoop(t *testing.T) {
	admin := &MockAdmin{}
	p := NewProvisioner(admin, ProvisionConfig{}, nil)

	require.NoError(t, p.Ensure(context.Background(), "near_events_all"))
	admin.AssertNotCalled(t, "GetMetadata", mock.Anything, mock.Anything, mock.Anything)
}

func TestEnsureExistingTopic(t *testing.T) {
	admin := &MockAdmin{}
	admin.On("GetMetadata", (*string)(nil), true, 1000).Return(metadataWith("a", "b"), nil).Once()
	p := NewProvisioner(admin, enabledConfig(), nil)

	require.NoError(t, p.Ensure(context.Background(), "b"))
	require.NoError(t, p.Ensure(context.Background(), "b"))
	admin.AssertExpectations(t)
	admin.AssertNotCalled(t, "CreateTopics", mock.Anything, mock.Anything)
}

func TestEnsureMetadataFailureIsBestEffort(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	admin := &MockAdmin{}
	admin.On("GetMetadata", (*string)(nil), true, 1000).Return(nil, errors.New("broker down"))
	p := NewProvisioner(admin, enabledConfig(), zap.New(core))

	require.NoError(t, p.Ensure(context.Background(), "t"))
	admin.AssertNotCalled(t, "CreateTopics", mock.Anything, mock.Anything)
	require.Equal(t, 1, logs.FilterMessage("could not fetch kafka metadata").Len())

	// nothing was learned, so the next call asks again
	require.NoError(t, p.Ensure(context.Background(), "t"))
	admin.AssertNumberOfCalls(t, "GetMetadata", 2)
}

func TestEnsureCreatesMissingTopicOnce(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	admin := &MockAdmin{}
	admin.On("GetMetadata", (*string)(nil), true, 1000).Return(metadataWith("other"), nil)
	admin.On("CreateTopics", mock.Anything, []kafka.TopicSpecification{{
		Topic: "near.nep171.nft_mint", NumPartitions: 3, ReplicationFactor: 2,
	}}).Return([]kafka.TopicResult{{Topic: "near.nep171.nft_mint", Error: kafka.NewError(kafka.ErrNoError, "", false)}}, nil).Once()
	p := NewProvisioner(admin, enabledConfig(), zap.New(core))

	require.NoError(t, p.Ensure(context.Background(), "near.nep171.nft_mint"))
	require.NoError(t, p.Ensure(context.Background(), "near.nep171.nft_mint"))

	admin.AssertNumberOfCalls(t, "CreateTopics", 1)
	assert.Equal(t, 1, logs.FilterMessage("kafka created new topic").Len())
}

func TestEnsureAlreadyExistsIsSuccess(t *testing.T) {
	admin := &MockAdmin{}
	admin.On("GetMetadata", (*string)(nil), true, 1000).Return(metadataWith(), nil)
	admin.On("CreateTopics", mock.Anything, mock.Anything).
		Return([]kafka.TopicResult{{Topic: "t", Error: kafka.NewError(kafka.ErrTopicAlreadyExists, "exists", false)}}, nil)
	p := NewProvisioner(admin, enabledConfig(), nil)

	require.NoError(t, p.Ensure(context.Background(), "t"))
}

func TestEnsureCreationFailurePropagates(t *testing.T) {
	admin := &MockAdmin{}
	admin.On("GetMetadata", (*string)(nil), true, 1000).Return(metadataWith(), nil)
	admin.On("CreateTopics", mock.Anything, mock.Anything).
		Return([]kafka.TopicResult{{Topic: "t", Error: kafka.NewError(kafka.ErrInvalidReplicationFactor, "bad rf", false)}}, nil)
	p := NewProvisioner(admin, enabledConfig(), nil)

	err := p.Ensure(context.Background(), "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create topic t")

	admin.On("CreateTopics", mock.Anything, mock.Anything).Unset()
	admin.On("CreateTopics", mock.Anything, mock.Anything).Return(nil, errors.New("request timed out"))
	require.Error(t, p.Ensure(context.Background(), "t"))
}

func TestEnsureConcurrentCallersShareCreation(t *testing.T) {
	admin := &MockAdmin{}
	release := make(chan time.Time)
	admin.On("GetMetadata", (*string)(nil), true, 1000).
		WaitUntil(release).
		Return(metadataWith(), nil)
	admin.On("CreateTopics", mock.Anything, mock.Anything).
		Return([]kafka.TopicResult{{Topic: "t", Error: kafka.NewError(kafka.ErrNoError, "", false)}}, nil)
	p := NewProvisioner(admin, enabledConfig(), nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Ensure(context.Background(), "t")
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	created := 0
	for _, call := range admin.Calls {
		if call.Method == "CreateTopics" {
			created++
		}
	}
	assert.LessOrEqual(t, created, 1)
}
