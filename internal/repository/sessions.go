package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"therapy-service/internal/config"
	"therapy-service/internal/domain"
	"therapy-service/internal/store"
)

// SessionRepository reads and edits sessions. Sessions are only created by
// appointment approval, through a CreateSession side effect.
type SessionRepository struct {
	store *store.Client
	table string
	index string
}

// NewSessionRepository creates a SessionRepository.
func NewSessionRepository(s *store.Client, tables config.Tables, indexes config.Indexes) (*SessionRepository, error) {
	if s == nil {
		return nil, errors.New("repository: store must not be nil")
	}
	if strings.TrimSpace(tables.Sessions) == "" {
		return nil, errors.New("repository: session table must not be empty")
	}
	if strings.TrimSpace(indexes.ClientSessions) == "" {
		return nil, errors.New("repository: client session index must not be empty")
	}
	return &SessionRepository{store: s, table: tables.Sessions, index: indexes.ClientSessions}, nil
}

func (r *SessionRepository) Get(ctx context.Context, therapistID, sessionID string) (domain.Session, error) {
	if strings.TrimSpace(therapistID) == "" || strings.TrimSpace(sessionID) == "" {
		return domain.Session{}, fmt.Errorf("repository: GetSession: %w: therapist id and session id are required", domain.ErrValidation)
	}
	var it sessionItem
	if err := r.store.Get(ctx, r.table, sessionKey(therapistID, sessionID), &it); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, fmt.Errorf("repository: GetSession: %w: session %s", domain.ErrNotFound, sessionID)
		}
		return domain.Session{}, fmt.Errorf("repository: GetSession: %w", err)
	}
	return it.toDomain(), nil
}

// ListByClient returns the client's sessions ordered by date.
func (r *SessionRepository) ListByClient(ctx context.Context, clientID string) ([]domain.Session, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("repository: ListSessions: %w: client id is required", domain.ErrValidation)
	}
	var items []sessionItem
	err := r.store.Query(ctx, store.Query{
		Table:          r.table,
		Index:          r.index,
		PartitionKey:   attrSessionClientID,
		PartitionValue: clientID,
	}, &items)
	if err != nil {
		return nil, fmt.Errorf("repository: ListSessions: %w", err)
	}
	out := make([]domain.Session, 0, len(items))
	for _, it := range items {
		out = append(out, it.toDomain())
	}
	return out, nil
}

// Update applies the non-nil fields of patch to an existing session.
func (r *SessionRepository) Update(ctx context.Context, therapistID, sessionID string, patch domain.SessionPatch) (domain.Session, error) {
	if strings.TrimSpace(therapistID) == "" || strings.TrimSpace(sessionID) == "" {
		return domain.Session{}, fmt.Errorf("repository: UpdateSession: %w: therapist id and session id are required", domain.ErrValidation)
	}
	if patch.Empty() {
		return domain.Session{}, fmt.Errorf("repository: UpdateSession: %w: nothing to update", domain.ErrValidation)
	}
	if patch.Status != nil && strings.TrimSpace(*patch.Status) == "" {
		return domain.Session{}, fmt.Errorf("repository: UpdateSession: %w: status must not be empty", domain.ErrValidation)
	}

	var ub expression.UpdateBuilder
	if patch.Status != nil {
		ub = ub.Set(expression.Name(attrStatus), expression.Value(*patch.Status))
	}
	if patch.SharedNotes != nil {
		ub = ub.Set(expression.Name(attrSharedNotes), expression.Value(*patch.SharedNotes))
	}
	if patch.PrivateNotes != nil {
		ub = ub.Set(expression.Name(attrPrivateNotes), expression.Value(*patch.PrivateNotes))
	}

	var it sessionItem
	err := r.store.Update(ctx, store.Update{
		Table:     r.table,
		Key:       sessionKey(therapistID, sessionID),
		Update:    ub,
		Condition: expression.AttributeExists(expression.Name(attrSessionID)),
	}, &it)
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return domain.Session{}, fmt.Errorf("repository: UpdateSession: %w: session %s", domain.ErrNotFound, sessionID)
		}
		return domain.Session{}, fmt.Errorf("repository: UpdateSession: %w", err)
	}
	return it.toDomain(), nil
}

// Delete removes a session. Deleting an absent session succeeds.
func (r *SessionRepository) Delete(ctx context.Context, therapistID, sessionID string) error {
	if strings.TrimSpace(therapistID) == "" || strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("repository: DeleteSession: %w: therapist id and session id are required", domain.ErrValidation)
	}
	if err := r.store.Delete(ctx, store.Delete{Table: r.table, Key: sessionKey(therapistID, sessionID)}); err != nil {
		return fmt.Errorf("repository: DeleteSession: %w", err)
	}
	return nil
}
