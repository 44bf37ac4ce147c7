package usecase

import (
	"context"

	"therapy-service/internal/domain"
)

// RequestJournalAccess records a therapist's request to read a client's
// journal.
func (s *WorkflowService) RequestJournalAccess(ctx context.Context, therapistID, clientID, idempotencyKey string) (*domain.JournalAccessRequest, error) {
	req, err := s.requests.Create(ctx, domain.NewRequest{
		Kind:           domain.KindJournalAccess,
		OwnerKey:       clientID,
		CounterpartyID: therapistID,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, classify("journal_access_request", err)
	}
	s.metrics.RequestCreated(string(domain.KindJournalAccess))
	return req.(*domain.JournalAccessRequest), nil
}

// DecideJournalAccess approves or rejects a pending journal-access request.
// Approval grants access through the same relation a mapping creates.
func (s *WorkflowService) DecideJournalAccess(ctx context.Context, clientID, therapistID string, in DecisionInput) (*domain.JournalAccessRequest, error) {
	decision, err := parseDecision(in.Decision)
	if err != nil {
		return nil, err
	}
	req, err := s.pending(ctx, domain.KindJournalAccess, clientID, therapistID, in.RequestID, "journal_access_request")
	if err != nil {
		return nil, err
	}
	var effects []domain.SideEffect
	if decision == domain.DecisionApprove {
		effects = append(effects, domain.CreateRelation{Relation: domain.Relation{
			ClientID:    clientID,
			TherapistID: therapistID,
			MappedAt:    s.now().UTC(),
		}})
	}
	if err := s.decide(ctx, req, decision, "journal_access_request", effects...); err != nil {
		return nil, err
	}
	return req.(*domain.JournalAccessRequest), nil
}

// ListJournalAccessRequests returns the client's journal-access requests.
// Without a status filter only Pending requests are listed.
func (s *WorkflowService) ListJournalAccessRequests(ctx context.Context, clientID, status string) ([]domain.Request, error) {
	filter, err := parseStatusFilter(status)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		filter = domain.StatusPending
	}
	reqs, err := s.requests.ListByOwner(ctx, domain.KindJournalAccess, clientID, filter)
	if err != nil {
		return nil, classify("journal_access_request", err)
	}
	return reqs, nil
}

// UpdateJournalPermissions replaces the set of therapists related to the
// client. An empty list revokes everyone.
func (s *WorkflowService) UpdateJournalPermissions(ctx context.Context, clientID string, therapistIDs []string) (domain.RelationDelta, error) {
	delta, err := s.relations.RebuildForClient(ctx, clientID, therapistIDs)
	if err != nil {
		return domain.RelationDelta{}, classify("journal_permissions", err)
	}
	s.metrics.RelationsRebuilt(len(delta.Added), len(delta.Removed))
	return delta, nil
}
