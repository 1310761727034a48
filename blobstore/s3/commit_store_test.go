package s3

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/eventtable/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDDB keeps commit items in memory and honors attribute_not_exists.
type fakeDDB struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	// stale makes Query report one version less than stored, simulating a
	// writer that lost the race.
	stale bool
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	uri := in.Item["base_uri"].(*types.AttributeValueMemberS).Value
	version := in.Item["version"].(*types.AttributeValueMemberN).Value
	key := uri + ":" + version
	if aws.ToString(in.ConditionExpression) == "attribute_not_exists(version)" {
		if _, ok := f.items[key]; ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	uri := in.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value
	var (
		best    map[string]types.AttributeValue
		bestVer uint64
	)
	for _, item := range f.items {
		if item["base_uri"].(*types.AttributeValueMemberS).Value != uri {
			continue
		}
		v, _ := strconv.ParseUint(item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
		if f.stale && v == uint64(len(f.items)) {
			continue
		}
		if best == nil || v > bestVer {
			best, bestVer = item, v
		}
	}
	if best == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{best}}, nil
}

func TestCommitStore(t *testing.T) {
	ctx := context.Background()
	inner := blobstore.NewMemoryStore()
	ddb := newFakeDDB()
	store := NewCommitStore(inner, ddb, "commits", "s3://bucket/cp")

	_, err := store.Open(ctx, CurrentBlob)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Put(ctx, "cp/000001/manifest", []byte("m1")))
	require.NoError(t, store.Put(ctx, CurrentBlob, []byte("cp/000001")))
	require.NoError(t, store.Put(ctx, CurrentBlob, []byte("cp/000002")))

	v, err := store.Version(ctx, CurrentBlob)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	data, err := blobstore.ReadAll(ctx, store, CurrentBlob)
	require.NoError(t, err)
	assert.Equal(t, "cp/000002", string(data))

	// CURRENT never reaches the wrapped store.
	_, err = inner.Open(ctx, CurrentBlob)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	data, err = blobstore.ReadAll(ctx, store, "cp/000001/manifest")
	require.NoError(t, err)
	assert.Equal(t, "m1", string(data))

	// Pointer blobs under a prefix are versioned independently.
	require.NoError(t, store.Put(ctx, "team/CURRENT", []byte("team/000001")))
	v, err = store.Version(ctx, "team/CURRENT")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	require.NoError(t, store.Delete(ctx, CurrentBlob))
	v, err = store.Version(ctx, CurrentBlob)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestCommitStoreConcurrentModification(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB()
	store := NewCommitStore(blobstore.NewMemoryStore(), ddb, "commits", "s3://bucket/cp")

	require.NoError(t, store.Put(ctx, CurrentBlob, []byte("cp/000001")))

	ddb.stale = true
	err := store.Put(ctx, CurrentBlob, []byte("cp/000002"))
	assert.ErrorIs(t, err, ErrConcurrentModification)
}
