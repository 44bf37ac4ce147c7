package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"therapy-service/internal/config"
	"therapy-service/internal/domain"
	"therapy-service/internal/store"
)

// RelationRepository stores confirmed therapist-client relations keyed by
// (ClientId, TherapistId), with an index by therapist.
type RelationRepository struct {
	store *store.Client
	table string
	index string
}

// NewRelationRepository creates a RelationRepository.
func NewRelationRepository(s *store.Client, tables config.Tables, indexes config.Indexes) (*RelationRepository, error) {
	if s == nil {
		return nil, errors.New("repository: store must not be nil")
	}
	if strings.TrimSpace(tables.MappedTherapists) == "" {
		return nil, errors.New("repository: relation table must not be empty")
	}
	if strings.TrimSpace(indexes.TherapistClients) == "" {
		return nil, errors.New("repository: therapist index must not be empty")
	}
	return &RelationRepository{store: s, table: tables.MappedTherapists, index: indexes.TherapistClients}, nil
}

func validatePair(clientID, therapistID string) error {
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(therapistID) == "" {
		return fmt.Errorf("%w: client id and therapist id are required", domain.ErrValidation)
	}
	return nil
}

// Create upserts the relation. Repeating it only refreshes mappedAt.
func (r *RelationRepository) Create(ctx context.Context, clientID, therapistID string) (domain.Relation, error) {
	if err := validatePair(clientID, therapistID); err != nil {
		return domain.Relation{}, fmt.Errorf("repository: CreateRelation: %w", err)
	}
	rel := domain.Relation{ClientID: clientID, TherapistID: therapistID, MappedAt: timeNow().UTC()}
	if err := r.store.Put(ctx, store.Put{Table: r.table, Item: toRelationItem(rel)}); err != nil {
		return domain.Relation{}, fmt.Errorf("repository: CreateRelation: %w", err)
	}
	return rel, nil
}

// Delete removes the relation. Removing an absent relation succeeds.
func (r *RelationRepository) Delete(ctx context.Context, clientID, therapistID string) error {
	if err := validatePair(clientID, therapistID); err != nil {
		return fmt.Errorf("repository: DeleteRelation: %w", err)
	}
	if err := r.store.Delete(ctx, store.Delete{Table: r.table, Key: relationKey(clientID, therapistID)}); err != nil {
		return fmt.Errorf("repository: DeleteRelation: %w", err)
	}
	return nil
}

func (r *RelationRepository) ListByClient(ctx context.Context, clientID string) ([]domain.Relation, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("repository: ListByClient: %w: client id is required", domain.ErrValidation)
	}
	return r.list(ctx, store.Query{Table: r.table, PartitionKey: attrClientID, PartitionValue: clientID, ConsistentRead: true})
}

func (r *RelationRepository) ListByTherapist(ctx context.Context, therapistID string) ([]domain.Relation, error) {
	if strings.TrimSpace(therapistID) == "" {
		return nil, fmt.Errorf("repository: ListByTherapist: %w: therapist id is required", domain.ErrValidation)
	}
	return r.list(ctx, store.Query{Table: r.table, Index: r.index, PartitionKey: attrTherapistID, PartitionValue: therapistID})
}

func (r *RelationRepository) list(ctx context.Context, q store.Query) ([]domain.Relation, error) {
	var items []relationItem
	if err := r.store.Query(ctx, q, &items); err != nil {
		return nil, fmt.Errorf("repository: list relations: %w", err)
	}
	out := make([]domain.Relation, 0, len(items))
	for _, it := range items {
		rel, err := it.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

// RebuildForClient makes the client's relations exactly therapistIDs by
// removing and adding only the difference. A difference that fits one
// transaction is applied atomically. Larger ones run removals before
// additions in batches, so an interrupted rebuild never grants a therapist
// outside the target set.
func (r *RelationRepository) RebuildForClient(ctx context.Context, clientID string, therapistIDs []string) (domain.RelationDelta, error) {
	if strings.TrimSpace(clientID) == "" {
		return domain.RelationDelta{}, fmt.Errorf("repository: Rebuild: %w: client id is required", domain.ErrValidation)
	}
	target := make(map[string]struct{}, len(therapistIDs))
	for _, id := range therapistIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return domain.RelationDelta{}, fmt.Errorf("repository: Rebuild: %w: therapist ids must not be empty", domain.ErrValidation)
		}
		target[id] = struct{}{}
	}

	current, err := r.ListByClient(ctx, clientID)
	if err != nil {
		return domain.RelationDelta{}, fmt.Errorf("repository: Rebuild: %w", err)
	}
	var res domain.RelationDelta
	existing := make(map[string]struct{}, len(current))
	for _, rel := range current {
		existing[rel.TherapistID] = struct{}{}
		if _, keep := target[rel.TherapistID]; !keep {
			res.Removed = append(res.Removed, rel.TherapistID)
		}
	}
	for id := range target {
		if _, ok := existing[id]; !ok {
			res.Added = append(res.Added, id)
		}
	}
	slices.Sort(res.Added)
	slices.Sort(res.Removed)

	if len(res.Added)+len(res.Removed) == 0 {
		return res, nil
	}
	now := timeNow().UTC()
	if len(res.Added)+len(res.Removed) <= store.MaxTransactItems {
		items := make([]store.TxItem, 0, len(res.Added)+len(res.Removed))
		for _, id := range res.Removed {
			items = append(items, store.TxItem{Delete: &store.Delete{Table: r.table, Key: relationKey(clientID, id)}})
		}
		for _, id := range res.Added {
			rel := domain.Relation{ClientID: clientID, TherapistID: id, MappedAt: now}
			items = append(items, store.TxItem{Put: &store.Put{Table: r.table, Item: toRelationItem(rel)}})
		}
		if err := r.store.TransactWrite(ctx, items); err != nil {
			return domain.RelationDelta{}, fmt.Errorf("repository: Rebuild: %w", err)
		}
		return res, nil
	}

	removals := make([]store.BatchOp, 0, len(res.Removed))
	for _, id := range res.Removed {
		removals = append(removals, store.BatchOp{Delete: relationKey(clientID, id)})
	}
	if err := r.store.BatchWrite(ctx, r.table, removals); err != nil {
		return domain.RelationDelta{}, fmt.Errorf("repository: Rebuild removals: %w", err)
	}
	additions := make([]store.BatchOp, 0, len(res.Added))
	for _, id := range res.Added {
		additions = append(additions, store.BatchOp{Put: toRelationItem(domain.Relation{ClientID: clientID, TherapistID: id, MappedAt: now})})
	}
	if err := r.store.BatchWrite(ctx, r.table, additions); err != nil {
		return domain.RelationDelta{}, fmt.Errorf("repository: Rebuild additions: %w", err)
	}
	return res, nil
}
