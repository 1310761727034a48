package s3

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/eventtable/blobstore"
)

// CurrentBlob is the base name of the pointer blobs that CommitStore serves
// from DynamoDB.
const CurrentBlob = "CURRENT"

// ErrConcurrentModification is returned when another writer committed the
// same version first.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// CommitStore wraps a blob store and keeps the CURRENT pointer in DynamoDB.
//
// Every Put of a blob named CURRENT (at any path) appends version n+1 with a
// conditional write, so two writers racing on the same version cannot both
// succeed. All other blobs go to the wrapped store.
//
// Table schema:
//   - Partition key: base_uri (S), the base URI joined with the blob name
//   - Sort key: version (N)
//
//	aws dynamodb create-table \
//	  --table-name eventtable-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	blobstore.BlobStore
	ddb       DDBClient
	tableName string
	baseURI   string
}

var _ blobstore.BlobStore = (*CommitStore)(nil)

// NewCommitStore creates a commit store. baseURI identifies the checkpoint
// location and is used as partition key.
func NewCommitStore(store blobstore.BlobStore, ddb DDBClient, tableName, baseURI string) *CommitStore {
	return &CommitStore{
		BlobStore: store,
		ddb:       ddb,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open serves CURRENT from the latest committed version.
func (s *CommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if !isCurrent(name) {
		return s.BlobStore.Open(ctx, name)
	}
	version, pointer, err := s.latest(ctx, name)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	store := blobstore.NewMemoryStore()
	if err := store.Put(ctx, name, []byte(pointer)); err != nil {
		return nil, err
	}
	return store.Open(ctx, name)
}

// Put commits CURRENT as a new version; other blobs are passed through.
func (s *CommitStore) Put(ctx context.Context, name string, data []byte) error {
	if !isCurrent(name) {
		return s.BlobStore.Put(ctx, name, data)
	}
	return s.commit(ctx, name, string(data))
}

// Delete ignores CURRENT; the commit log is append-only.
func (s *CommitStore) Delete(ctx context.Context, name string) error {
	if isCurrent(name) {
		return nil
	}
	return s.BlobStore.Delete(ctx, name)
}

// Version returns the latest committed version of the pointer blob name, 0 if none.
func (s *CommitStore) Version(ctx context.Context, name string) (uint64, error) {
	v, _, err := s.latest(ctx, name)
	return v, err
}

func isCurrent(name string) bool { return path.Base(name) == CurrentBlob }

func (s *CommitStore) partitionKey(name string) string {
	return strings.TrimSuffix(s.baseURI, "/") + "/" + name
}

func (s *CommitStore) latest(ctx context.Context, name string) (uint64, string, error) {
	resp, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.partitionKey(name)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commit log: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("commit log: invalid version attribute")
	}
	pointerAttr, ok := item["pointer"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("commit log: invalid pointer attribute")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("commit log: parse version: %w", err)
	}
	return version, pointerAttr.Value, nil
}

func (s *CommitStore) commit(ctx context.Context, name, pointer string) error {
	current, _, err := s.latest(ctx, name)
	if err != nil {
		return err
	}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.partitionKey(name)},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(current+1, 10)},
			"pointer":  &types.AttributeValueMemberS{Value: pointer},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit version %d: %w", current+1, err)
	}
	return nil
}
