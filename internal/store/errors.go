package store

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrNotFound        = errors.New("store: item not found")
	ErrConditionFailed = errors.New("store: condition check failed")
)

// OpError wraps a failed DynamoDB call.
type OpError struct {
	Op    string
	Table string
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient (throttling, internal
// errors, transaction conflicts) and the call may be repeated with backoff.
func (e *OpError) Retryable() bool {
	var (
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
		conflict   *types.TransactionConflictException
		inProgress *types.TransactionInProgressException
	)
	switch {
	case errors.As(e.Err, &throughput), errors.As(e.Err, &limit), errors.As(e.Err, &internal),
		errors.As(e.Err, &conflict), errors.As(e.Err, &inProgress):
		return true
	}
	var tx *TxCanceledError
	if errors.As(e.Err, &tx) {
		return tx.conflicted()
	}
	return false
}

// ConditionError reports a failed condition on a single-item write. Item is
// the stored item at the time of the check, empty if the key did not exist.
type ConditionError struct {
	Table string
	Item  map[string]types.AttributeValue
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("store: condition check failed on %s", e.Table)
}

func (e *ConditionError) Is(target error) bool { return target == ErrConditionFailed }

// Existed reports whether an item was present when the condition failed.
func (e *ConditionError) Existed() bool { return len(e.Item) > 0 }

// Decode unmarshals the stored item into out.
func (e *ConditionError) Decode(out any) error {
	return attributevalue.UnmarshalMap(e.Item, out)
}

// TxReason is the outcome of one item of a cancelled transaction.
type TxReason struct {
	Code string
	Item map[string]types.AttributeValue
}

// TxCanceledError reports a cancelled TransactWriteItems call. Reasons has one
// entry per submitted item, in order.
type TxCanceledError struct {
	Reasons []TxReason
}

func (e *TxCanceledError) Error() string {
	return fmt.Sprintf("store: transaction cancelled: failed items %v", e.FailedConditions())
}

func (e *TxCanceledError) Is(target error) bool {
	return target == ErrConditionFailed && len(e.FailedConditions()) > 0
}

// FailedConditions lists the indexes of items whose condition check failed.
func (e *TxCanceledError) FailedConditions() []int {
	var idx []int
	for i, r := range e.Reasons {
		if r.Code == "ConditionalCheckFailed" {
			idx = append(idx, i)
		}
	}
	return idx
}

// ConditionFailedAt reports whether item i failed its condition, returning
// the stored item when one existed.
func (e *TxCanceledError) ConditionFailedAt(i int) (map[string]types.AttributeValue, bool) {
	if i < 0 || i >= len(e.Reasons) || e.Reasons[i].Code != "ConditionalCheckFailed" {
		return nil, false
	}
	return e.Reasons[i].Item, true
}

func (e *TxCanceledError) conflicted() bool {
	for _, r := range e.Reasons {
		if r.Code == "TransactionConflict" || r.Code == "ThrottlingError" {
			return true
		}
	}
	return false
}

// opError converts SDK failures to the store's error types.
func opError(op, table string, err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return &ConditionError{Table: table, Item: ccf.Item}
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		tx := &TxCanceledError{Reasons: make([]TxReason, 0, len(canceled.CancellationReasons))}
		for _, r := range canceled.CancellationReasons {
			reason := TxReason{Item: r.Item}
			if r.Code != nil {
				reason.Code = *r.Code
			}
			tx.Reasons = append(tx.Reasons, reason)
		}
		if len(tx.FailedConditions()) > 0 {
			return tx
		}
		return &OpError{Op: op, Table: table, Err: tx}
	}
	return &OpError{Op: op, Table: table, Err: err}
}
