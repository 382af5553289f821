package notary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mmynk/splitledger/internal/ledger"
)

// DynamoDB caps a transactional write at 100 items.
const maxDynamoTransactItems = 100

// DynamoAPI is the subset of the DynamoDB client the backend needs.
type DynamoAPI interface {
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

type consumedItem struct {
	Ref        string `dynamodbav:"ref"`
	ConsumedBy string `dynamodbav:"consumed_by"`
	ConsumedAt string `dynamodbav:"consumed_at"`
}

// DynamoBackend keeps consumed refs in a DynamoDB table keyed by "ref".
type DynamoBackend struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

var _ Backend = (*DynamoBackend)(nil)

// NewDynamoBackend creates a backend writing to table.
func NewDynamoBackend(client DynamoAPI, table string) *DynamoBackend {
	return &DynamoBackend{client: client, table: table, now: time.Now}
}

// DynamoOptions configures NewDynamoClient.
type DynamoOptions struct {
	Region   string
	Endpoint string // optional, e.g. http://localhost:8000 for DynamoDB Local
}

// NewDynamoClient builds a DynamoDB client. With an explicit endpoint the
// client uses static placeholder credentials, which DynamoDB Local accepts.
func NewDynamoClient(ctx context.Context, opts DynamoOptions) (*dynamodb.Client, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

// Commit implements Backend. Each ref is a conditional put that succeeds only
// if the ref is new or already owned by txID; the transaction cancels as a
// whole otherwise.
func (b *DynamoBackend) Commit(ctx context.Context, txID string, refs []ledger.StateRef) error {
	if len(refs) == 0 {
		return nil
	}
	if len(refs) > maxDynamoTransactItems {
		return fmt.Errorf("%w: %d inputs exceed the limit of %d", ErrInvalidRequest, len(refs), maxDynamoTransactItems)
	}

	now := b.now().UTC().Format(time.RFC3339Nano)
	items := make([]types.TransactWriteItem, 0, len(refs))
	for _, r := range refs {
		av, err := attributevalue.MarshalMap(consumedItem{
			Ref:        r.String(),
			ConsumedBy: txID,
			ConsumedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal consumed ref: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(b.table),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(#ref) OR #by = :tx"),
				ExpressionAttributeNames: map[string]string{
					"#ref": "ref",
					"#by":  "consumed_by",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":tx": &types.AttributeValueMemberS{Value: txID},
				},
			},
		})
	}

	_, err := b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err == nil {
		return nil
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		var conflicts []ledger.StateRef
		for i, reason := range canceled.CancellationReasons {
			if i < len(refs) && aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				conflicts = append(conflicts, refs[i])
			}
		}
		if len(conflicts) > 0 {
			return &ConflictError{TxID: txID, Refs: conflicts}
		}
	}
	return fmt.Errorf("failed to commit consumed refs: %w", err)
}
