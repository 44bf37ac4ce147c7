package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// BatchOp is one unconditional put or delete of a batch write. Exactly one of
// Put and Delete is set.
type BatchOp struct {
	Put    any
	Delete Key
}

// BackoffFunc returns the wait before retry attempt n (starting at 1).
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff returns a capped exponential backoff with full jitter.
func ExponentialBackoff(base time.Duration, multiplier float64, limit time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		factor := 1.0
		for i := 0; i < attempt; i++ {
			factor *= multiplier
		}
		d := time.Duration(float64(base) * factor)
		if d > limit {
			d = limit
		}
		if d <= 0 {
			return 0
		}
		return time.Duration(rand.Int64N(int64(d)))
	}
}

// DefaultBackoff waits up to 50ms, 100ms, 200ms, ... capped at 2s.
var DefaultBackoff = ExponentialBackoff(50*time.Millisecond, 2.0, 2*time.Second)

// BatchWrite applies ops to table in chunks of the configured batch size.
// Unprocessed items are resent with backoff until the retry limit; chunks are
// written in order and the call stops at the first chunk that cannot finish.
func (c *Client) BatchWrite(ctx context.Context, table string, ops []BatchOp) error {
	reqs := make([]types.WriteRequest, 0, len(ops))
	for i, op := range ops {
		req, err := op.writeRequest()
		if err != nil {
			return fmt.Errorf("store: BatchWriteItem %s op %d: %w", table, i, err)
		}
		reqs = append(reqs, req)
	}
	for start := 0; start < len(reqs); start += c.batchSize {
		end := min(start+c.batchSize, len(reqs))
		if err := c.writeChunk(ctx, table, reqs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) writeChunk(ctx context.Context, table string, pending []types.WriteRequest) error {
	for attempt := 0; ; attempt++ {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{table: pending},
		})
		if err != nil {
			return opError("BatchWriteItem", table, err)
		}
		if out == nil || len(out.UnprocessedItems[table]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems[table]
		if attempt >= c.maxRetries {
			return &OpError{
				Op:    "BatchWriteItem",
				Table: table,
				Err:   fmt.Errorf("%d items unprocessed after %d retries", len(pending), attempt),
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff(attempt + 1)):
		}
	}
}

func (op BatchOp) writeRequest() (types.WriteRequest, error) {
	switch {
	case op.Put != nil && op.Delete != nil:
		return types.WriteRequest{}, fmt.Errorf("both put and delete set")
	case op.Put != nil:
		item, err := attributevalue.MarshalMap(op.Put)
		if err != nil {
			return types.WriteRequest{}, fmt.Errorf("marshal: %w", err)
		}
		return types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}, nil
	case op.Delete != nil:
		return types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: op.Delete}}, nil
	}
	return types.WriteRequest{}, fmt.Errorf("empty batch op")
}
