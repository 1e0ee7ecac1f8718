package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"researchhub/backend/internal/store"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(av map[string]types.AttributeValue) string {
	pk := av["PK"].(*types.AttributeValueMemberS).Value
	sk := av["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	s := store.NewDynamoStore(fake, "partitions")

	_, ok, err := s.Get(ctx, store.ConnectionsKey("u1"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, store.ConnectionsKey("u1"), []byte(`[{"peerId":"u2"}]`)))

	blob, ok, err := s.Get(ctx, store.ConnectionsKey("u1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[{"peerId":"u2"}]`, string(blob))

	_, stored := fake.items["PARTITION#connections:u1|DOC"]
	assert.True(t, stored)
}

func TestDynamoStoreSurfacesClientErrors(t *testing.T) {
	fake := newFakeDynamo()
	fake.err = errors.New("throttled")
	s := store.NewDynamoStore(fake, "partitions")

	_, _, err := s.Get(context.Background(), "k")
	assert.ErrorContains(t, err, "throttled")
	assert.Error(t, s.Put(context.Background(), "k", []byte(`[]`)))
}
