package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"semantic-chat/internal/domain"
)

// maxTransactItems is the DynamoDB limit on items per TransactWriteItems call.
const maxTransactItems = 100

// WriteOp is one item write inside a partition-scoped transaction. The set of
// implementations is closed: PutMessage, UpdateSessionTokens, and the
// package-internal delete used by the cascade.
type WriteOp interface {
	partitionKey() string
	transactItem(tableName string) types.TransactWriteItem
	// conflictErr is returned when this op's condition fails.
	conflictErr() error
}

// PutMessage replaces a drafted message with its completed form. The write is
// conditioned on the draft still existing in drafted status.
type PutMessage struct {
	Message domain.Message
}

func (op PutMessage) partitionKey() string { return op.Message.PK }

func (op PutMessage) transactItem(tableName string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:                aws.String(tableName),
			Item:                     messageItem(op.Message),
			ConditionExpression:      aws.String("attribute_exists(PK) AND #status = :drafted"),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":drafted": &types.AttributeValueMemberS{Value: domain.StatusDrafted},
			},
		},
	}
}

func (op PutMessage) conflictErr() error {
	return fmt.Errorf("message %q is not a draft: %w", op.Message.ID, domain.ErrNotFound)
}

// UpdateSessionTokens sets the cumulative token counter of a session and bumps
// its version, provided the stored version equals ExpectedVersion.
type UpdateSessionTokens struct {
	SessionID       string
	Tokens          int
	ExpectedVersion int64
}

func (op UpdateSessionTokens) partitionKey() string { return convPK(op.SessionID) }

func (op UpdateSessionTokens) transactItem(tableName string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: aws.String(tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: convPK(op.SessionID)},
				"SK": &types.AttributeValueMemberS{Value: skMeta},
			},
			UpdateExpression:    aws.String("SET #tokens = :tokens, #version = :next"),
			ConditionExpression: aws.String("#version = :expected"),
			ExpressionAttributeNames: map[string]string{
				"#tokens":  "tokens",
				"#version": "version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":tokens":   numAttr(int64(op.Tokens)),
				":next":     numAttr(op.ExpectedVersion + 1),
				":expected": numAttr(op.ExpectedVersion),
			},
		},
	}
}

func (op UpdateSessionTokens) conflictErr() error {
	return fmt.Errorf("session %q changed since version %d: %w", op.SessionID, op.ExpectedVersion, domain.ErrConflict)
}

type deleteItem itemKey

func (op deleteItem) partitionKey() string { return op.pk }

func (op deleteItem) transactItem(tableName string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: op.pk},
				"SK": &types.AttributeValueMemberS{Value: op.sk},
			},
		},
	}
}

func (op deleteItem) conflictErr() error {
	return fmt.Errorf("delete %s/%s: %w", op.pk, op.sk, domain.ErrConflict)
}

// ExecuteBatch applies ops in a single transaction. All ops must target the same
// partition; a mixed batch is rejected before anything is sent.
func (c *Client) ExecuteBatch(ctx context.Context, ops ...WriteOp) error {
	if len(ops) == 0 {
		return errors.New("repository: ExecuteBatch: no operations")
	}
	if len(ops) > maxTransactItems {
		return fmt.Errorf("repository: ExecuteBatch: %d operations exceeds limit of %d", len(ops), maxTransactItems)
	}
	pk := ops[0].partitionKey()
	if pk == "" {
		return errors.New("repository: ExecuteBatch: partition key is required")
	}
	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		if op.partitionKey() != pk {
			return fmt.Errorf("repository: ExecuteBatch: all items must share partition %q, got %q", pk, op.partitionKey())
		}
		items = append(items, op.transactItem(c.tableName))
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		if mapped := canceledReason(err, ops); mapped != nil {
			return fmt.Errorf("repository: ExecuteBatch: %w", mapped)
		}
		return fmt.Errorf("repository: ExecuteBatch: %w", err)
	}
	return nil
}

// canceledReason maps a failed condition inside a canceled transaction to the
// error of the op that caused it.
func canceledReason(err error, ops []WriteOp) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil
	}
	for i, reason := range tce.CancellationReasons {
		if i >= len(ops) {
			break
		}
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return ops[i].conflictErr()
		}
	}
	return nil
}
