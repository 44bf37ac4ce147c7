package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"therapy-service/internal/config"
	"therapy-service/internal/store"
)

// fakeDynamo is an in-memory DynamoDB that understands the expressions the
// repositories build: equality, attribute_exists and attribute_not_exists
// joined by AND, plus SET and REMOVE updates. Calls are serialised, which
// gives the same per-item atomicity as the real service.
type fakeDynamo struct {
	mu      sync.Mutex
	tables  map[string]*fakeTable
	indexes map[string]fakeKeySchema

	txErr error // returned by the next TransactWriteItems call

	txCalls    int
	batchCalls int
	lastTx     *dynamodb.TransactWriteItemsInput
	lastQuery  *dynamodb.QueryInput
}

type fakeKeySchema struct{ pk, sk string }

type fakeTable struct {
	fakeKeySchema
	items map[string]map[string]types.AttributeValue
}

var (
	eqExpr        = regexp.MustCompile(`(#\w+) = (:\w+)`)
	existsExpr    = regexp.MustCompile(`attribute_exists\s*\((#\w+)\)`)
	notExistsExpr = regexp.MustCompile(`attribute_not_exists\s*\((#\w+)\)`)
	removeClause  = regexp.MustCompile(`REMOVE ([#\w, ]+)`)
	nameRef       = regexp.MustCompile(`#\w+`)
)

func testTables() config.Tables {
	return config.Tables{
		MappingRequests:       "mapping-requests",
		JournalAccessRequests: "journal-requests",
		AppointmentRequests:   "appointment-requests",
		MappedTherapists:      "mapped-therapists",
		SessionSlots:          "session-slots",
		Sessions:              "sessions",
	}
}

func testIndexes() config.Indexes {
	return config.Indexes{
		RequestCounterparty: "CounterpartyIndex",
		TherapistClients:    "TherapistClientIndex",
		ClientSessions:      "ClientSessionsIndex",
	}
}

func newFakeDynamo() *fakeDynamo {
	t := testTables()
	request := fakeKeySchema{attrOwnerID, attrRequestID}
	f := &fakeDynamo{
		tables: map[string]*fakeTable{},
		indexes: map[string]fakeKeySchema{
			"CounterpartyIndex":    {attrCounterpartyID, "createdAt"},
			"TherapistClientIndex": {attrTherapistID, "mappedAt"},
			"ClientSessionsIndex":  {attrSessionClientID, "date"},
		},
	}
	for name, schema := range map[string]fakeKeySchema{
		t.MappingRequests:       request,
		t.JournalAccessRequests: request,
		t.AppointmentRequests:   request,
		t.MappedTherapists:      {attrClientID, attrTherapistID},
		t.SessionSlots:          {attrTherapistID, attrSlotID},
		t.Sessions:              {attrTherapistID, attrSessionID},
	} {
		f.tables[name] = &fakeTable{fakeKeySchema: schema, items: map[string]map[string]types.AttributeValue{}}
	}
	return f
}

// fakeRepos wires every repository to one fakeDynamo.
type fakeRepos struct {
	db        *fakeDynamo
	requests  *RequestRepository
	relations *RelationRepository
	slots     *SlotRepository
	sessions  *SessionRepository
}

func newFakeRepos(t *testing.T, opts ...store.Option) fakeRepos {
	t.Helper()
	db := newFakeDynamo()
	s, err := store.New(db, append([]store.Option{store.WithBackoff(func(int) time.Duration { return 0 })}, opts...)...)
	require.NoError(t, err)

	reqs, err := NewRequestRepository(s, testTables(), testIndexes())
	require.NoError(t, err)
	rels, err := NewRelationRepository(s, testTables(), testIndexes())
	require.NoError(t, err)
	slots, err := NewSlotRepository(s, testTables())
	require.NoError(t, err)
	sessions, err := NewSessionRepository(s, testTables(), testIndexes())
	require.NoError(t, err)
	return fakeRepos{db: db, requests: reqs, relations: rels, slots: slots, sessions: sessions}
}

// fixClock pins timeNow and makes newUUID return id-01, id-02, ...
func fixClock(t *testing.T, at time.Time) {
	t.Helper()
	prevNow, prevID := timeNow, newUUID
	var mu sync.Mutex
	n := 0
	timeNow = func() time.Time { return at }
	newUUID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%02d", n)
	}
	t.Cleanup(func() { timeNow, newUUID = prevNow, prevID })
}

func (f *fakeDynamo) count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table].items)
}

func (f *fakeDynamo) raw(table string, key store.Key) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	tbl := f.tables[table]
	return tbl.items[tbl.id(key)]
}

func (t *fakeTable) id(item map[string]types.AttributeValue) string {
	return str(item[t.pk]) + "\x00" + str(item[t.sk])
}

func str(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func sameValue(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	}
	return false
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func holds(expr *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) bool {
	if expr == nil {
		return true
	}
	for _, m := range eqExpr.FindAllStringSubmatch(*expr, -1) {
		got, ok := item[names[m[1]]]
		if !ok || !sameValue(got, values[m[2]]) {
			return false
		}
	}
	for _, m := range existsExpr.FindAllStringSubmatch(*expr, -1) {
		if _, ok := item[names[m[1]]]; !ok {
			return false
		}
	}
	for _, m := range notExistsExpr.FindAllStringSubmatch(*expr, -1) {
		if _, ok := item[names[m[1]]]; ok {
			return false
		}
	}
	return true
}

func applyUpdate(item map[string]types.AttributeValue, expr *string, names map[string]string, values map[string]types.AttributeValue) {
	if expr == nil {
		return
	}
	if m := removeClause.FindStringSubmatch(*expr); m != nil {
		for _, ref := range nameRef.FindAllString(m[1], -1) {
			delete(item, names[ref])
		}
	}
	for _, m := range eqExpr.FindAllStringSubmatch(*expr, -1) {
		item[names[m[1]]] = values[m[2]]
	}
}

func (f *fakeDynamo) table(name *string) (*fakeTable, error) {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("no table " + aws.ToString(name))}
	}
	return t, nil
}

func conditionFailed(old map[string]types.AttributeValue) error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed"), Item: copyItem(old)}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: copyItem(t.items[t.id(in.Key)])}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	old := t.items[t.id(in.Item)]
	if !holds(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, old) {
		return nil, conditionFailed(old)
	}
	t.items[t.id(in.Item)] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	id := t.id(in.Key)
	old := t.items[id]
	if !holds(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, old) {
		return nil, conditionFailed(old)
	}
	next := copyItem(old)
	if next == nil {
		next = copyItem(in.Key)
	}
	applyUpdate(next, in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	t.items[id] = next
	return &dynamodb.UpdateItemOutput{Attributes: copyItem(next)}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	old := t.items[t.id(in.Key)]
	if !holds(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, old) {
		return nil, conditionFailed(old)
	}
	delete(t.items, t.id(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

// Query returns every match in one page, ordered by the index (or table)
// sort key.
func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = in
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	schema := t.fakeKeySchema
	if in.IndexName != nil {
		s, ok := f.indexes[*in.IndexName]
		if !ok {
			return nil, errors.New("ValidationException: unknown index " + *in.IndexName)
		}
		schema = s
	}

	var items []map[string]types.AttributeValue
	for _, item := range t.items {
		if _, ok := item[schema.pk]; !ok {
			continue
		}
		if _, ok := item[schema.sk]; !ok {
			continue
		}
		if !holds(in.KeyConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, item) {
			continue
		}
		if !holds(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, item) {
			continue
		}
		items = append(items, copyItem(item))
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := str(items[i][schema.sk]), str(items[j][schema.sk])
		if in.ScanIndexForward != nil && !*in.ScanIndexForward {
			return a > b
		}
		return a < b
	})
	return &dynamodb.QueryOutput{Items: items, Count: int32(len(items))}, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	for name, reqs := range in.RequestItems {
		if len(reqs) > store.MaxBatchWrite {
			return nil, errors.New("ValidationException: too many items in batch")
		}
		t, err := f.table(aws.String(name))
		if err != nil {
			return nil, err
		}
		for _, r := range reqs {
			switch {
			case r.PutRequest != nil:
				t.items[t.id(r.PutRequest.Item)] = copyItem(r.PutRequest.Item)
			case r.DeleteRequest != nil:
				delete(t.items, t.id(r.DeleteRequest.Key))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

type fakeTxOp struct {
	table  *fakeTable
	id     string
	key    map[string]types.AttributeValue
	cond   *string
	names  map[string]string
	values map[string]types.AttributeValue
	apply  func(old map[string]types.AttributeValue) map[string]types.AttributeValue
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	f.lastTx = in
	if f.txErr != nil {
		err := f.txErr
		f.txErr = nil
		return nil, err
	}
	if len(in.TransactItems) > store.MaxTransactItems {
		return nil, errors.New("ValidationException: too many transaction items")
	}

	ops := make([]fakeTxOp, 0, len(in.TransactItems))
	seen := map[string]bool{}
	for _, ti := range in.TransactItems {
		var op fakeTxOp
		var tableName *string
		switch {
		case ti.Put != nil:
			p := ti.Put
			tableName, op.key, op.cond, op.names, op.values = p.TableName, p.Item, p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues
			op.apply = func(map[string]types.AttributeValue) map[string]types.AttributeValue { return copyItem(p.Item) }
		case ti.Update != nil:
			u := ti.Update
			tableName, op.key, op.cond, op.names, op.values = u.TableName, u.Key, u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues
			op.apply = func(old map[string]types.AttributeValue) map[string]types.AttributeValue {
				next := copyItem(old)
				if next == nil {
					next = copyItem(u.Key)
				}
				applyUpdate(next, u.UpdateExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
				return next
			}
		case ti.Delete != nil:
			d := ti.Delete
			tableName, op.key, op.cond, op.names, op.values = d.TableName, d.Key, d.ConditionExpression, d.ExpressionAttributeNames, d.ExpressionAttributeValues
			op.apply = func(map[string]types.AttributeValue) map[string]types.AttributeValue { return nil }
		default:
			return nil, errors.New("ValidationException: empty transaction item")
		}
		t, err := f.table(tableName)
		if err != nil {
			return nil, err
		}
		op.table, op.id = t, t.id(op.key)
		if seen[aws.ToString(tableName)+op.id] {
			return nil, errors.New("ValidationException: multiple operations on one item")
		}
		seen[aws.ToString(tableName)+op.id] = true
		ops = append(ops, op)
	}

	reasons := make([]types.CancellationReason, len(ops))
	failed := false
	for i, op := range ops {
		old := op.table.items[op.id]
		if holds(op.cond, op.names, op.values, old) {
			reasons[i] = types.CancellationReason{Code: aws.String("None")}
			continue
		}
		failed = true
		reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed"), Item: copyItem(old)}
	}
	if failed {
		return nil, &types.TransactionCanceledException{Message: aws.String("Transaction cancelled"), CancellationReasons: reasons}
	}
	for _, op := range ops {
		if next := op.apply(op.table.items[op.id]); next != nil {
			op.table.items[op.id] = next
		} else {
			delete(op.table.items, op.id)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
