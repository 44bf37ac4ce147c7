package usecase

import (
	"context"

	"therapy-service/internal/domain"
)

func (s *WorkflowService) GetSession(ctx context.Context, therapistID, sessionID string) (domain.Session, error) {
	sess, err := s.sessions.Get(ctx, therapistID, sessionID)
	if err != nil {
		return domain.Session{}, classify("session", err)
	}
	return sess, nil
}

// UpdateSession changes status and notes of a session. Only the fields set in
// patch are written.
func (s *WorkflowService) UpdateSession(ctx context.Context, therapistID, sessionID string, patch domain.SessionPatch) (domain.Session, error) {
	sess, err := s.sessions.Update(ctx, therapistID, sessionID, patch)
	if err != nil {
		return domain.Session{}, classify("session", err)
	}
	return sess, nil
}

func (s *WorkflowService) DeleteSession(ctx context.Context, therapistID, sessionID string) error {
	if err := s.sessions.Delete(ctx, therapistID, sessionID); err != nil {
		return classify("session", err)
	}
	return nil
}

func (s *WorkflowService) ListClientSessions(ctx context.Context, clientID string) ([]domain.Session, error) {
	sessions, err := s.sessions.ListByClient(ctx, clientID)
	if err != nil {
		return nil, classify("session", err)
	}
	return sessions, nil
}
