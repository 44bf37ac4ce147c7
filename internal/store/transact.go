package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TxItem is one write of a transaction. Exactly one field is set.
type TxItem struct {
	Put    *Put
	Update *Update
	Delete *Delete
}

// TransactWrite commits items atomically. When any condition fails the whole
// transaction is rolled back and a *TxCanceledError is returned whose Reasons
// line up with items.
func (c *Client) TransactWrite(ctx context.Context, items []TxItem) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) > MaxTransactItems {
		return fmt.Errorf("store: TransactWriteItems: %d items exceeds limit of %d", len(items), MaxTransactItems)
	}
	tx := make([]types.TransactWriteItem, 0, len(items))
	for i, it := range items {
		w, err := it.transactItem()
		if err != nil {
			return fmt.Errorf("store: TransactWriteItems item %d: %w", i, err)
		}
		tx = append(tx, w)
	}
	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tx}); err != nil {
		return opError("TransactWriteItems", "", err)
	}
	return nil
}

func (it TxItem) transactItem() (types.TransactWriteItem, error) {
	switch {
	case it.Put != nil:
		in, err := it.Put.input()
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                           in.TableName,
			Item:                                in.Item,
			ConditionExpression:                 in.ConditionExpression,
			ExpressionAttributeNames:            in.ExpressionAttributeNames,
			ExpressionAttributeValues:           in.ExpressionAttributeValues,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		}}, nil
	case it.Update != nil:
		in, err := it.Update.input()
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                           in.TableName,
			Key:                                 in.Key,
			UpdateExpression:                    in.UpdateExpression,
			ConditionExpression:                 in.ConditionExpression,
			ExpressionAttributeNames:            in.ExpressionAttributeNames,
			ExpressionAttributeValues:           in.ExpressionAttributeValues,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		}}, nil
	case it.Delete != nil:
		in, err := it.Delete.input()
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 aws.String(it.Delete.Table),
			Key:                       in.Key,
			ConditionExpression:       in.ConditionExpression,
			ExpressionAttributeNames:  in.ExpressionAttributeNames,
			ExpressionAttributeValues: in.ExpressionAttributeValues,
		}}, nil
	}
	return types.TransactWriteItem{}, fmt.Errorf("empty transaction item")
}
