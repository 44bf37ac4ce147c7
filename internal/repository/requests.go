package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"therapy-service/internal/config"
	"therapy-service/internal/domain"
	"therapy-service/internal/store"
)

// Overridden in tests.
var (
	newUUID = func() string { return uuid.NewString() }
	timeNow = time.Now
)

// RequestRepository persists mapping, journal-access and appointment
// requests, one table per kind, sharing a counterparty index name.
type RequestRepository struct {
	store   *store.Client
	tables  map[domain.Kind]string
	index   string
	effects effectWriter
}

// NewRequestRepository creates a RequestRepository.
func NewRequestRepository(s *store.Client, tables config.Tables, indexes config.Indexes) (*RequestRepository, error) {
	if s == nil {
		return nil, errors.New("repository: store must not be nil")
	}
	r := &RequestRepository{
		store: s,
		tables: map[domain.Kind]string{
			domain.KindMapping:       tables.MappingRequests,
			domain.KindJournalAccess: tables.JournalAccessRequests,
			domain.KindAppointment:   tables.AppointmentRequests,
		},
		index:   indexes.RequestCounterparty,
		effects: effectWriter{tables: tables},
	}
	for kind, table := range r.tables {
		if strings.TrimSpace(table) == "" {
			return nil, fmt.Errorf("repository: %s request table must not be empty", kind)
		}
	}
	if strings.TrimSpace(r.index) == "" {
		return nil, errors.New("repository: counterparty index must not be empty")
	}
	return r, nil
}

func (r *RequestRepository) table(kind domain.Kind) (string, error) {
	t, ok := r.tables[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown request kind %q", domain.ErrValidation, kind)
	}
	return t, nil
}

// Create stores a new Pending request together with effects in one
// transaction. Mapping and journal-access requests also claim the pair's
// pending guard, so a second pending request for the same pair conflicts.
// Reusing an idempotency key for the same pair returns the stored request.
func (r *RequestRepository) Create(ctx context.Context, in domain.NewRequest, effects ...domain.SideEffect) (domain.Request, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("repository: Create: %w", err)
	}
	table, err := r.table(in.Kind)
	if err != nil {
		return nil, fmt.Errorf("repository: Create: %w", err)
	}
	id := strings.TrimSpace(in.IdempotencyKey)
	if id == "" {
		id = newUUID()
	}
	if strings.HasPrefix(id, guardPrefix) {
		return nil, fmt.Errorf("repository: Create: %w: request id must not start with %s", domain.ErrValidation, guardPrefix)
	}

	req := in.Build(id, timeNow())
	notExists := expression.AttributeNotExists(expression.Name(attrRequestID))
	items := []store.TxItem{{Put: &store.Put{Table: table, Item: toRequestItem(req), Condition: notExists}}}
	if in.Kind.UniquePerPair() {
		items = append(items, store.TxItem{Put: &store.Put{
			Table:     table,
			Item:      guardItem(in.OwnerKey, in.CounterpartyID, id),
			Condition: notExists,
		}})
	}
	offset := len(items)
	fx, err := r.effects.items(effects)
	if err != nil {
		return nil, err
	}
	items = append(items, fx...)

	err = r.store.TransactWrite(ctx, items)
	if err == nil {
		return req, nil
	}
	var tx *store.TxCanceledError
	if !errors.As(err, &tx) {
		return nil, fmt.Errorf("repository: Create %s: %w", in.Kind, err)
	}
	if stored, failed := tx.ConditionFailedAt(0); failed {
		return r.replay(in, stored)
	}
	if in.Kind.UniquePerPair() {
		if _, failed := tx.ConditionFailedAt(1); failed {
			return nil, fmt.Errorf("repository: Create: %w: a pending %s request already exists for %s and %s",
				domain.ErrConflict, in.Kind, in.OwnerKey, in.CounterpartyID)
		}
	}
	if ferr := effectFailure(effects, tx, offset); ferr != nil {
		return nil, fmt.Errorf("repository: Create: %w", ferr)
	}
	return nil, fmt.Errorf("repository: Create %s: %w", in.Kind, err)
}

// replay resolves a create whose request id already exists.
func (r *RequestRepository) replay(in domain.NewRequest, stored map[string]types.AttributeValue) (domain.Request, error) {
	var it requestItem
	if err := attributevalue.UnmarshalMap(stored, &it); err != nil {
		return nil, fmt.Errorf("repository: Create: decode existing request: %w", err)
	}
	same := !it.isGuard() &&
		it.Kind == string(in.Kind) &&
		it.OwnerID == in.OwnerKey &&
		it.CounterpartyID == in.CounterpartyID &&
		(in.Slot == nil || it.SlotID == in.Slot.SlotID)
	if !same {
		return nil, fmt.Errorf("repository: Create: %w: request id %s is already in use", domain.ErrConflict, it.RequestID)
	}
	return it.toDomain(in.Kind)
}

// Get reads one request.
func (r *RequestRepository) Get(ctx context.Context, kind domain.Kind, ownerKey, requestID string) (domain.Request, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, fmt.Errorf("repository: Get: %w", err)
	}
	if strings.TrimSpace(ownerKey) == "" || strings.TrimSpace(requestID) == "" {
		return nil, fmt.Errorf("repository: Get: %w: owner key and request id are required", domain.ErrValidation)
	}
	notFound := fmt.Errorf("repository: Get: %w: %s request %s", domain.ErrNotFound, kind, requestID)
	if strings.HasPrefix(requestID, guardPrefix) {
		return nil, notFound
	}

	var it requestItem
	if err := r.store.Get(ctx, table, requestKey(ownerKey, requestID), &it); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound
		}
		return nil, fmt.Errorf("repository: Get: %w", err)
	}
	if it.isGuard() {
		return nil, notFound
	}
	return it.toDomain(kind)
}

// FindPendingByCounterparty returns the oldest Pending request of kind between
// counterpartyID and ownerKey.
func (r *RequestRepository) FindPendingByCounterparty(ctx context.Context, kind domain.Kind, counterpartyID, ownerKey string) (domain.Request, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, fmt.Errorf("repository: FindPending: %w", err)
	}
	if strings.TrimSpace(counterpartyID) == "" || strings.TrimSpace(ownerKey) == "" {
		return nil, fmt.Errorf("repository: FindPending: %w: counterparty and owner are required", domain.ErrValidation)
	}

	if kind.UniquePerPair() {
		return r.findByGuard(ctx, kind, table, counterpartyID, ownerKey)
	}

	var items []requestItem
	err = r.store.Query(ctx, store.Query{
		Table:          table,
		Index:          r.index,
		PartitionKey:   attrCounterpartyID,
		PartitionValue: counterpartyID,
		Filter: expression.Name(attrOwnerID).Equal(expression.Value(ownerKey)).
			And(expression.Name(attrStatus).Equal(expression.Value(string(domain.StatusPending)))),
	}, &items)
	if err != nil {
		return nil, fmt.Errorf("repository: FindPending: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("repository: FindPending: %w: no pending %s request between %s and %s",
			domain.ErrNotFound, kind, ownerKey, counterpartyID)
	}
	return items[0].toDomain(kind)
}

// findByGuard resolves the pair's pending request through its guard item.
// The guard exists exactly while the request is Pending and both reads are
// strongly consistent, so a request decided a moment ago is never returned.
func (r *RequestRepository) findByGuard(ctx context.Context, kind domain.Kind, table, counterpartyID, ownerKey string) (domain.Request, error) {
	notFound := fmt.Errorf("repository: FindPending: %w: no pending %s request between %s and %s",
		domain.ErrNotFound, kind, ownerKey, counterpartyID)

	var guard requestItem
	if err := r.store.Get(ctx, table, guardKey(ownerKey, counterpartyID), &guard); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound
		}
		return nil, fmt.Errorf("repository: FindPending: %w", err)
	}
	if guard.PendingRequestID == "" {
		return nil, notFound
	}
	req, err := r.Get(ctx, kind, ownerKey, guard.PendingRequestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, notFound
		}
		return nil, fmt.Errorf("repository: FindPending: %w", err)
	}
	if req.Status() != domain.StatusPending {
		return nil, notFound
	}
	return req, nil
}

// ListByOwner returns the owner's requests in sort-key order. An empty status
// returns every status.
func (r *RequestRepository) ListByOwner(ctx context.Context, kind domain.Kind, ownerKey string, status domain.Status) ([]domain.Request, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, fmt.Errorf("repository: ListByOwner: %w", err)
	}
	if strings.TrimSpace(ownerKey) == "" {
		return nil, fmt.Errorf("repository: ListByOwner: %w: owner key is required", domain.ErrValidation)
	}

	// Guards carry no status, so both filters exclude them.
	filter := expression.AttributeExists(expression.Name(attrStatus))
	if status != "" {
		filter = expression.Name(attrStatus).Equal(expression.Value(string(status)))
	}
	var items []requestItem
	err = r.store.Query(ctx, store.Query{
		Table:          table,
		PartitionKey:   attrOwnerID,
		PartitionValue: ownerKey,
		Filter:         filter,
		ConsistentRead: true,
	}, &items)
	if err != nil {
		return nil, fmt.Errorf("repository: ListByOwner: %w", err)
	}

	out := make([]domain.Request, 0, len(items))
	for _, it := range items {
		req, err := it.toDomain(kind)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// Transition moves req from Pending to status `to` with a compare-and-set on
// the stored status, committing effects in the same transaction. The pending
// guard of the pair is released with it. On success req is updated in place.
func (r *RequestRepository) Transition(ctx context.Context, req domain.Request, to domain.Status, effects ...domain.SideEffect) error {
	if req == nil {
		return fmt.Errorf("repository: Transition: %w: request is required", domain.ErrValidation)
	}
	if to != domain.StatusApproved && to != domain.StatusRejected {
		return fmt.Errorf("repository: Transition: %w: cannot transition to %q", domain.ErrValidation, to)
	}
	h := req.Header()
	if h.State != domain.StatusPending {
		return fmt.Errorf("repository: Transition: %w: request %s is already %s", domain.ErrInvalidState, h.RequestID, h.State)
	}
	table, err := r.table(req.Kind())
	if err != nil {
		return fmt.Errorf("repository: Transition: %w", err)
	}

	now := timeNow().UTC()
	items := []store.TxItem{{Update: &store.Update{
		Table: table,
		Key:   requestKey(h.OwnerKey, h.RequestID),
		Update: expression.
			Set(expression.Name(attrStatus), expression.Value(string(to))).
			Set(expression.Name(attrDecidedAt), expression.Value(store.FormatTime(now))),
		Condition: expression.Name(attrStatus).Equal(expression.Value(string(domain.StatusPending))),
	}}}
	if req.Kind().UniquePerPair() {
		items = append(items, store.TxItem{Delete: &store.Delete{Table: table, Key: guardKey(h.OwnerKey, h.CounterpartyID)}})
	}
	offset := len(items)
	fx, err := r.effects.items(effects)
	if err != nil {
		return err
	}
	items = append(items, fx...)

	if err := r.store.TransactWrite(ctx, items); err != nil {
		var tx *store.TxCanceledError
		if !errors.As(err, &tx) {
			return fmt.Errorf("repository: Transition: %w", err)
		}
		if stored, failed := tx.ConditionFailedAt(0); failed {
			return transitionConflict(h.RequestID, stored)
		}
		if ferr := effectFailure(effects, tx, offset); ferr != nil {
			return fmt.Errorf("repository: Transition: %w", ferr)
		}
		return fmt.Errorf("repository: Transition: %w", err)
	}
	return req.Transition(to, now)
}

func transitionConflict(requestID string, stored map[string]types.AttributeValue) error {
	if len(stored) == 0 {
		return fmt.Errorf("repository: Transition: %w: request %s", domain.ErrNotFound, requestID)
	}
	var it requestItem
	if err := attributevalue.UnmarshalMap(stored, &it); err != nil {
		return fmt.Errorf("repository: Transition: decode request %s: %w", requestID, err)
	}
	return fmt.Errorf("repository: Transition: %w: request %s is already %s", domain.ErrInvalidState, requestID, it.Status)
}
