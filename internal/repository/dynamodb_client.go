package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"semantic-chat/internal/domain"
)

const (
	pkPrefixConv = "CONV#"
	skPrefixMsg  = "MSG#"
	skMeta       = "META#"

	// sortKeyTime is fixed width so sort keys compare in time order.
	sortKeyTime = "2006-01-02T15:04:05.000000000Z"

	entitySession = "session"
	entityMessage = "message"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a single DynamoDB table holding sessions, their messages and
// the semantic cache. Every item of a session shares the partition key
// CONV#<sessionID>; cache entries live under CACHE#.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// convPK returns the DynamoDB partition key for a session.
func convPK(sessionID string) string {
	return pkPrefixConv + sessionID
}

// msgSK returns the sort key for a message. The timestamp prefix keeps a
// partition query in chronological order; the id breaks ties.
func msgSK(ts time.Time, id string) string {
	return skPrefixMsg + ts.UTC().Format(sortKeyTime) + "#" + id
}

// withKeys fills in the PK and SK of msg from its session id, timestamp and
// id when they are not already set.
func withKeys(msg domain.Message) (domain.Message, error) {
	if msg.PK == "" && msg.SessionID != "" {
		msg.PK = convPK(msg.SessionID)
	}
	if msg.SK == "" && msg.ID != "" && !msg.Timestamp.IsZero() {
		msg.SK = msgSK(msg.Timestamp, msg.ID)
	}
	if msg.PK == "" || msg.SK == "" {
		return domain.Message{}, errors.New("message PK and SK are required")
	}
	return msg, nil
}

// InsertSession creates the META# item of a new session.
func (c *Client) InsertSession(ctx context.Context, s domain.Session) error {
	if s.ID == "" {
		return errors.New("repository: InsertSession: session id is required")
	}
	s.PK, s.SK = convPK(s.ID), skMeta
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                sessionItem(s),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("repository: InsertSession %q: %w", s.ID, domain.ErrConflict)
		}
		return fmt.Errorf("repository: InsertSession: %w", err)
	}
	return nil
}

// GetSession reads the META# item of a session with a strongly consistent read.
func (c *Client) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Session{}, fmt.Errorf("repository: GetSession %q: %w", sessionID, domain.ErrNotFound)
	}
	s, err := itemToSession(out.Item)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: GetSession decode: %w", err)
	}
	return s, nil
}

// ListSessions scans every META# item in the table, oldest first.
func (c *Client) ListSessions(ctx context.Context) ([]domain.Session, error) {
	var (
		sessions []domain.Session
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(c.tableName),
			FilterExpression: aws.String("SK = :meta"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":meta": &types.AttributeValueMemberS{Value: skMeta},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ListSessions scan: %w", err)
		}
		for _, item := range out.Items {
			s, err := itemToSession(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListSessions decode: %w", err)
			}
			sessions = append(sessions, s)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// RenameSession updates only the name attribute, leaving the token counter
// and version untouched.
func (c *Client) RenameSession(ctx context.Context, sessionID, name string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:         aws.String("SET #name = :name"),
		ConditionExpression:      aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{"#name": "name"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: name},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("repository: RenameSession %q: %w", sessionID, domain.ErrNotFound)
		}
		return fmt.Errorf("repository: RenameSession: %w", err)
	}
	return nil
}

// ListMessages queries all MSG# items of a session in chronological order.
// Reads are strongly consistent so a just-inserted draft is always visible.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var (
		msgs     []domain.Message
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: convPK(sessionID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return msgs, nil
}

// InsertMessage persists a new drafted message record.
func (c *Client) InsertMessage(ctx context.Context, msg domain.Message) error {
	msg, err := withKeys(msg)
	if err != nil {
		return fmt.Errorf("repository: InsertMessage: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: InsertMessage: %w", err)
	}
	return nil
}

// SaveTurn writes the completed message and the session token counter in one
// transaction. The session write only succeeds if its stored version still
// equals s.Version; otherwise domain.ErrConflict is returned and nothing is
// written.
func (c *Client) SaveTurn(ctx context.Context, msg domain.Message, s domain.Session) error {
	msg, err := withKeys(msg)
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	if s.ID == "" {
		return errors.New("repository: SaveTurn: session id is required")
	}
	err = c.ExecuteBatch(ctx,
		PutMessage{Message: msg},
		UpdateSessionTokens{SessionID: s.ID, Tokens: s.Tokens, ExpectedVersion: s.Version},
	)
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// DeleteSessionAndMessages removes the session and every message in its
// partition. Partitions of up to maxTransactItems items are removed in a
// single transaction. Larger ones are removed in chunks with the META# item
// last, so an interrupted delete leaves the session listed and can be rerun.
func (c *Client) DeleteSessionAndMessages(ctx context.Context, sessionID string) error {
	keys, err := c.keysOf(ctx, convPK(sessionID))
	if err != nil {
		return fmt.Errorf("repository: DeleteSessionAndMessages: %w", err)
	}
	if len(keys) == 0 {
		return fmt.Errorf("repository: DeleteSessionAndMessages %q: %w", sessionID, domain.ErrNotFound)
	}
	// META# sorts before MSG#; move it to the end.
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].sk != skMeta && keys[j].sk == skMeta
	})

	ops := make([]WriteOp, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, deleteItem(k))
	}
	for start := 0; start < len(ops); start += maxTransactItems {
		end := min(start+maxTransactItems, len(ops))
		if err := c.ExecuteBatch(ctx, ops[start:end]...); err != nil {
			return fmt.Errorf("repository: DeleteSessionAndMessages: %w", err)
		}
	}
	return nil
}

type itemKey struct {
	pk string
	sk string
}

// keysOf returns the key of every item in partition pk.
func (c *Client) keysOf(ctx context.Context, pk string) ([]itemKey, error) {
	var (
		keys     []itemKey
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pk},
			},
			ProjectionExpression: aws.String("PK, SK"),
			ConsistentRead:       aws.Bool(true),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query partition keys: %w", err)
		}
		for _, item := range out.Items {
			itemPK, err := strAttr(item, "PK")
			if err != nil {
				return nil, err
			}
			sk, err := strAttr(item, "SK")
			if err != nil {
				return nil, err
			}
			keys = append(keys, itemKey{pk: itemPK, sk: sk})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return keys, nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// itemToSession converts a DynamoDB attribute map to a Session.
func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Session{}, err
	}
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Session{}, err
	}
	name, _ := strAttr(item, "name") // allow empty
	tokens, err := intAttr(item, "tokens")
	if err != nil {
		return domain.Session{}, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return domain.Session{}, err
	}
	created, _ := timeAttr(item, "createdAt")

	return domain.Session{
		PK:        pk,
		SK:        skMeta,
		ID:        id,
		Name:      name,
		Tokens:    tokens,
		Version:   int64(version),
		CreatedAt: created,
	}, nil
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Message{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Message{}, err
	}
	prompt, err := strAttr(item, "prompt")
	if err != nil {
		return domain.Message{}, err
	}
	id, _ := strAttr(item, "id")
	sessionID, _ := strAttr(item, "sessionId")
	completion, _ := strAttr(item, "completion") // allow empty
	status, _ := strAttr(item, "status")
	promptTokens, _ := intAttr(item, "promptTokens")
	completionTokens, _ := intAttr(item, "completionTokens")
	ts, _ := timeAttr(item, "timestamp")
	cacheHit, _ := boolAttr(item, "cacheHit")

	return domain.Message{
		PK:               pk,
		SK:               sk,
		ID:               id,
		SessionID:        sessionID,
		Timestamp:        ts,
		Prompt:           prompt,
		PromptTokens:     promptTokens,
		Completion:       completion,
		CompletionTokens: completionTokens,
		Status:           status,
		CacheHit:         cacheHit,
	}, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":               &types.AttributeValueMemberS{Value: msg.PK},
		"SK":               &types.AttributeValueMemberS{Value: msg.SK},
		"entityType":       &types.AttributeValueMemberS{Value: entityMessage},
		"id":               &types.AttributeValueMemberS{Value: msg.ID},
		"sessionId":        &types.AttributeValueMemberS{Value: msg.SessionID},
		"timestamp":        &types.AttributeValueMemberS{Value: msg.Timestamp.UTC().Format(time.RFC3339Nano)},
		"prompt":           &types.AttributeValueMemberS{Value: msg.Prompt},
		"promptTokens":     numAttr(int64(msg.PromptTokens)),
		"completion":       &types.AttributeValueMemberS{Value: msg.Completion},
		"completionTokens": numAttr(int64(msg.CompletionTokens)),
		"status":           &types.AttributeValueMemberS{Value: msg.Status},
		"cacheHit":         &types.AttributeValueMemberBOOL{Value: msg.CacheHit},
	}
}

func sessionItem(s domain.Session) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: s.PK},
		"SK":         &types.AttributeValueMemberS{Value: s.SK},
		"entityType": &types.AttributeValueMemberS{Value: entitySession},
		"id":         &types.AttributeValueMemberS{Value: s.ID},
		"name":       &types.AttributeValueMemberS{Value: s.Name},
		"tokens":     numAttr(int64(s.Tokens)),
		"version":    numAttr(s.Version),
		"createdAt":  &types.AttributeValueMemberS{Value: s.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
}

func numAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) (bool, error) {
	v, ok := item[key]
	if !ok {
		return false, fmt.Errorf("repository: missing attribute %q", key)
	}
	b, ok := v.(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, fmt.Errorf("repository: attribute %q is not a bool", key)
	}
	return b.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}
