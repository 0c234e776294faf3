package repository

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"semantic-chat/internal/domain"
)

// Cache entries share one partition so they can be listed with a Query and
// cleared with the same chunked transactions as a session delete.
const (
	pkCache       = "CACHE#"
	skPrefixEntry = "ENTRY#"
	entityCache   = "cache"

	// ttlAttr holds the expiry in epoch seconds for DynamoDB TTL. TTL deletes
	// lazily, so reads still filter on expiresAt.
	ttlAttr = "ttl"
)

func entrySK(id string) string {
	return skPrefixEntry + id
}

// PutCacheEntry stores entry, replacing any entry with the same id.
func (c *Client) PutCacheEntry(ctx context.Context, entry domain.CacheEntry) error {
	if entry.ID == "" {
		return errors.New("repository: PutCacheEntry: entry id is required")
	}
	if entry.ExpiresAt.IsZero() {
		return errors.New("repository: PutCacheEntry: expiry is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      cacheItem(entry),
	})
	if err != nil {
		return fmt.Errorf("repository: PutCacheEntry: %w", err)
	}
	return nil
}

// ListCacheEntries returns every cache entry that has not expired at now.
func (c *Client) ListCacheEntries(ctx context.Context, now time.Time) ([]domain.CacheEntry, error) {
	var (
		entries  []domain.CacheEntry
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			FilterExpression:       aws.String("#ttl >= :now"),
			ExpressionAttributeNames: map[string]string{
				"#ttl": ttlAttr,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":  &types.AttributeValueMemberS{Value: pkCache},
				":now": numAttr(now.Unix()),
			},
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ListCacheEntries query: %w", err)
		}
		for _, item := range out.Items {
			e, err := itemToCacheEntry(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListCacheEntries decode: %w", err)
			}
			// ttl has second precision; expiresAt decides.
			if !now.Before(e.ExpiresAt) {
				continue
			}
			entries = append(entries, e)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return entries, nil
}

// DeleteAllCacheEntries removes every cache entry, expired ones included.
// Clearing an empty cache is a no-op.
func (c *Client) DeleteAllCacheEntries(ctx context.Context) error {
	keys, err := c.keysOf(ctx, pkCache)
	if err != nil {
		return fmt.Errorf("repository: DeleteAllCacheEntries: %w", err)
	}
	ops := make([]WriteOp, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, deleteItem(k))
	}
	for start := 0; start < len(ops); start += maxTransactItems {
		end := min(start+maxTransactItems, len(ops))
		if err := c.ExecuteBatch(ctx, ops[start:end]...); err != nil {
			return fmt.Errorf("repository: DeleteAllCacheEntries: %w", err)
		}
	}
	return nil
}

func cacheItem(e domain.CacheEntry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: pkCache},
		"SK":         &types.AttributeValueMemberS{Value: entrySK(e.ID)},
		"entityType": &types.AttributeValueMemberS{Value: entityCache},
		"id":         &types.AttributeValueMemberS{Value: e.ID},
		"vector":     &types.AttributeValueMemberB{Value: encodeVector(e.Vector)},
		"prompts":    &types.AttributeValueMemberS{Value: e.Prompts},
		"completion": &types.AttributeValueMemberS{Value: e.Completion},
		"expiresAt":  &types.AttributeValueMemberS{Value: e.ExpiresAt.UTC().Format(time.RFC3339Nano)},
		ttlAttr:      numAttr(e.ExpiresAt.Unix()),
	}
}

func itemToCacheEntry(item map[string]types.AttributeValue) (domain.CacheEntry, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.CacheEntry{}, err
	}
	id, ok := strings.CutPrefix(sk, skPrefixEntry)
	if !ok || id == "" {
		return domain.CacheEntry{}, fmt.Errorf("repository: %q is not a cache entry key", sk)
	}
	raw, ok := item["vector"].(*types.AttributeValueMemberB)
	if !ok {
		return domain.CacheEntry{}, errors.New(`repository: attribute "vector" is missing or not binary`)
	}
	vec, err := decodeVector(raw.Value)
	if err != nil {
		return domain.CacheEntry{}, err
	}
	expiresAt, err := timeAttr(item, "expiresAt")
	if err != nil {
		return domain.CacheEntry{}, err
	}
	prompts, _ := strAttr(item, "prompts")
	completion, _ := strAttr(item, "completion")
	return domain.CacheEntry{
		ID:         id,
		Vector:     vec,
		Prompts:    prompts,
		Completion: completion,
		ExpiresAt:  expiresAt,
	}, nil
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("repository: vector of %d bytes is not a float32 array", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
