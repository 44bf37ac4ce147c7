package usecase

import (
	"context"

	"therapy-service/internal/domain"
)

// RequestMapping records a therapist's request to be mapped to a client. The
// client owns the request and decides it.
func (s *WorkflowService) RequestMapping(ctx context.Context, therapistID, clientID, idempotencyKey string) (*domain.MappingRequest, error) {
	req, err := s.requests.Create(ctx, domain.NewRequest{
		Kind:           domain.KindMapping,
		OwnerKey:       clientID,
		CounterpartyID: therapistID,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, classify("mapping_request", err)
	}
	s.metrics.RequestCreated(string(domain.KindMapping))
	return req.(*domain.MappingRequest), nil
}

// DecideMapping approves or rejects the client's pending mapping request from
// therapistID. Approval creates the relation in the same write.
func (s *WorkflowService) DecideMapping(ctx context.Context, clientID, therapistID string, in DecisionInput) (*domain.MappingRequest, error) {
	decision, err := parseDecision(in.Decision)
	if err != nil {
		return nil, err
	}
	req, err := s.pending(ctx, domain.KindMapping, clientID, therapistID, in.RequestID, "mapping_request")
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
	if err := s.decide(ctx, req, decision, "mapping_request", effects...); err != nil {
		return nil, err
	}
	return req.(*domain.MappingRequest), nil
}

// RemoveMapping revokes the relation directly. Removing a relation that does
// not exist succeeds.
func (s *WorkflowService) RemoveMapping(ctx context.Context, clientID, therapistID string) error {
	if err := s.relations.Delete(ctx, clientID, therapistID); err != nil {
		return classify("mapping", err)
	}
	return nil
}

// ListMappingRequests returns the client's mapping requests, optionally
// filtered by status.
func (s *WorkflowService) ListMappingRequests(ctx context.Context, clientID, status string) ([]domain.Request, error) {
	filter, err := parseStatusFilter(status)
	if err != nil {
		return nil, err
	}
	reqs, err := s.requests.ListByOwner(ctx, domain.KindMapping, clientID, filter)
	if err != nil {
		return nil, classify("mapping_request", err)
	}
	return reqs, nil
}

func (s *WorkflowService) ListMappedTherapists(ctx context.Context, clientID string) ([]domain.Relation, error) {
	rels, err := s.relations.ListByClient(ctx, clientID)
	if err != nil {
		return nil, classify("mapping", err)
	}
	return rels, nil
}

func (s *WorkflowService) ListMappedClients(ctx context.Context, therapistID string) ([]domain.Relation, error) {
	rels, err := s.relations.ListByTherapist(ctx, therapistID)
	if err != nil {
		return nil, classify("mapping", err)
	}
	return rels, nil
}
