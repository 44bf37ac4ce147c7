package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// MaxBatchWrite is the BatchWriteItem item limit.
	MaxBatchWrite = 25
	// MaxTransactItems is the TransactWriteItems item limit.
	MaxTransactItems = 100

	defaultMaxBatchRetries = 5
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability; *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Key is a primary key attribute map.
type Key map[string]types.AttributeValue

// StringKey builds a key of two string attributes.
func StringKey(pkName, pk, skName, sk string) Key {
	return Key{
		pkName: &types.AttributeValueMemberS{Value: pk},
		skName: &types.AttributeValueMemberS{Value: sk},
	}
}

// Put writes Item (any struct with dynamodbav tags). Condition is optional.
type Put struct {
	Table     string
	Item      any
	Condition expression.ConditionBuilder
}

// Update applies an update expression to the item at Key. Condition is optional.
type Update struct {
	Table     string
	Key       Key
	Update    expression.UpdateBuilder
	Condition expression.ConditionBuilder
}

// Delete removes the item at Key. Deleting an absent item is not an error.
type Delete struct {
	Table     string
	Key       Key
	Condition expression.ConditionBuilder
}

// Query selects every item of one partition of a table or index.
type Query struct {
	Table          string
	Index          string
	PartitionKey   string
	PartitionValue string
	Filter         expression.ConditionBuilder
	Descending     bool
	// ConsistentRead asks for a strongly consistent read. It is ignored for
	// index queries, which only support eventual consistency.
	ConsistentRead bool
}

// Client wraps the DynamoDB operations used by the repositories.
type Client struct {
	api        dynamodbAPI
	batchSize  int
	maxRetries int
	backoff    BackoffFunc
}

type Option func(*Client)

// WithBatchSize caps the number of items per BatchWriteItem call.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 && n <= MaxBatchWrite {
			c.batchSize = n
		}
	}
}

// WithMaxBatchRetries bounds how often unprocessed batch items are resent.
func WithMaxBatchRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff replaces the wait between batch retries.
func WithBackoff(fn BackoffFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.backoff = fn
		}
	}
}

// New creates a new store Client.
func New(api dynamodbAPI, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("store: api must not be nil")
	}
	c := &Client{
		api:        api,
		batchSize:  MaxBatchWrite,
		maxRetries: defaultMaxBatchRetries,
		backoff:    DefaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get reads one item with strong consistency into out. It returns
// ErrNotFound when the key does not exist.
func (c *Client) Get(ctx context.Context, table string, key Key, out any) error {
	res, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return opError("GetItem", table, err)
	}
	if res == nil || len(res.Item) == 0 {
		return ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("store: GetItem %s unmarshal: %w", table, err)
	}
	return nil
}

// Put writes an item. A failed condition yields a *ConditionError.
func (c *Client) Put(ctx context.Context, p Put) error {
	in, err := p.input()
	if err != nil {
		return err
	}
	if _, err := c.api.PutItem(ctx, in); err != nil {
		return opError("PutItem", p.Table, err)
	}
	return nil
}

// Update applies u and decodes the updated item into out when out is non-nil.
// A failed condition yields a *ConditionError carrying the current item.
func (c *Client) Update(ctx context.Context, u Update, out any) error {
	in, err := u.input()
	if err != nil {
		return err
	}
	in.ReturnValues = types.ReturnValueAllNew
	res, err := c.api.UpdateItem(ctx, in)
	if err != nil {
		return opError("UpdateItem", u.Table, err)
	}
	if out == nil || res == nil {
		return nil
	}
	if err := attributevalue.UnmarshalMap(res.Attributes, out); err != nil {
		return fmt.Errorf("store: UpdateItem %s unmarshal: %w", u.Table, err)
	}
	return nil
}

// Delete removes one item.
func (c *Client) Delete(ctx context.Context, d Delete) error {
	in, err := d.input()
	if err != nil {
		return err
	}
	if _, err := c.api.DeleteItem(ctx, in); err != nil {
		return opError("DeleteItem", d.Table, err)
	}
	return nil
}

// Query reads every page of q and unmarshals the items into out, which must
// be a pointer to a slice.
func (c *Client) Query(ctx context.Context, q Query, out any) error {
	b := expression.NewBuilder().
		WithKeyCondition(expression.Key(q.PartitionKey).Equal(expression.Value(q.PartitionValue)))
	if q.Filter.IsSet() {
		b = b.WithFilter(q.Filter)
	}
	expr, err := b.Build()
	if err != nil {
		return fmt.Errorf("store: Query %s build expression: %w", q.Table, err)
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(q.Table),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(!q.Descending),
	}
	if q.Index != "" {
		in.IndexName = aws.String(q.Index)
	} else {
		in.ConsistentRead = aws.Bool(q.ConsistentRead)
	}

	var items []map[string]types.AttributeValue
	pages := dynamodb.NewQueryPaginator(c.api, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return opError("Query", q.Table, err)
		}
		items = append(items, page.Items...)
	}
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("store: Query %s unmarshal: %w", q.Table, err)
	}
	return nil
}

func (p Put) input() (*dynamodb.PutItemInput, error) {
	item, err := attributevalue.MarshalMap(p.Item)
	if err != nil {
		return nil, fmt.Errorf("store: PutItem %s marshal: %w", p.Table, err)
	}
	in := &dynamodb.PutItemInput{TableName: aws.String(p.Table), Item: item}
	if p.Condition.IsSet() {
		expr, err := expression.NewBuilder().WithCondition(p.Condition).Build()
		if err != nil {
			return nil, fmt.Errorf("store: PutItem %s build expression: %w", p.Table, err)
		}
		in.ConditionExpression = expr.Condition()
		in.ExpressionAttributeNames = expr.Names()
		in.ExpressionAttributeValues = expr.Values()
		in.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	}
	return in, nil
}

func (u Update) input() (*dynamodb.UpdateItemInput, error) {
	b := expression.NewBuilder().WithUpdate(u.Update)
	if u.Condition.IsSet() {
		b = b.WithCondition(u.Condition)
	}
	expr, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("store: UpdateItem %s build expression: %w", u.Table, err)
	}
	in := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(u.Table),
		Key:                       u.Key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if u.Condition.IsSet() {
		in.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	}
	return in, nil
}

func (d Delete) input() (*dynamodb.DeleteItemInput, error) {
	in := &dynamodb.DeleteItemInput{TableName: aws.String(d.Table), Key: d.Key}
	if d.Condition.IsSet() {
		expr, err := expression.NewBuilder().WithCondition(d.Condition).Build()
		if err != nil {
			return nil, fmt.Errorf("store: DeleteItem %s build expression: %w", d.Table, err)
		}
		in.ConditionExpression = expr.Condition()
		in.ExpressionAttributeNames = expr.Names()
		in.ExpressionAttributeValues = expr.Values()
	}
	return in, nil
}

// FormatTime renders t the way every timestamp attribute is stored, so that
// string comparison in sort keys follows time order.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}
