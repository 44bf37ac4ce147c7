package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"therapy-service/internal/domain"
)

type RequestStore interface {
	Create(ctx context.Context, in domain.NewRequest, effects ...domain.SideEffect) (domain.Request, error)
	Get(ctx context.Context, kind domain.Kind, ownerKey, requestID string) (domain.Request, error)
	FindPendingByCounterparty(ctx context.Context, kind domain.Kind, counterpartyID, ownerKey string) (domain.Request, error)
	ListByOwner(ctx context.Context, kind domain.Kind, ownerKey string, status domain.Status) ([]domain.Request, error)
	Transition(ctx context.Context, req domain.Request, to domain.Status, effects ...domain.SideEffect) error
}

type RelationStore interface {
	Delete(ctx context.Context, clientID, therapistID string) error
	ListByClient(ctx context.Context, clientID string) ([]domain.Relation, error)
	ListByTherapist(ctx context.Context, therapistID string) ([]domain.Relation, error)
	RebuildForClient(ctx context.Context, clientID string, therapistIDs []string) (domain.RelationDelta, error)
}

type SlotStore interface {
	Create(ctx context.Context, therapistID, date, start, end string) (domain.Slot, error)
	Get(ctx context.Context, therapistID, slotID string) (domain.Slot, error)
	IsBookable(slot domain.Slot) bool
	ListAvailable(ctx context.Context, therapistID string) ([]domain.Slot, error)
}

type SessionStore interface {
	Get(ctx context.Context, therapistID, sessionID string) (domain.Session, error)
	ListByClient(ctx context.Context, clientID string) ([]domain.Session, error)
	Update(ctx context.Context, therapistID, sessionID string, patch domain.SessionPatch) (domain.Session, error)
	Delete(ctx context.Context, therapistID, sessionID string) error
}

// Metrics receives workflow counters. kind and status are the domain values
// as strings.
type Metrics interface {
	RequestCreated(kind string)
	RequestDecided(kind, status string)
	RelationsRebuilt(added, removed int)
}

type nopMetrics struct{}

func (nopMetrics) RequestCreated(string)         {}
func (nopMetrics) RequestDecided(string, string) {}
func (nopMetrics) RelationsRebuilt(int, int)     {}

// WorkflowService runs the mapping, journal-access and appointment workflows
// and the slot and session operations around them.
type WorkflowService struct {
	requests  RequestStore
	relations RelationStore
	slots     SlotStore
	sessions  SessionStore
	metrics   Metrics
	now       func() time.Time
}

type Option func(*WorkflowService)

func WithMetrics(m Metrics) Option {
	return func(s *WorkflowService) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *WorkflowService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewWorkflowService(requests RequestStore, relations RelationStore, slots SlotStore, sessions SessionStore, opts ...Option) (*WorkflowService, error) {
	if requests == nil {
		return nil, errors.New("usecase: request store must not be nil")
	}
	if relations == nil {
		return nil, errors.New("usecase: relation store must not be nil")
	}
	if slots == nil {
		return nil, errors.New("usecase: slot store must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	s := &WorkflowService{
		requests:  requests,
		relations: relations,
		slots:     slots,
		sessions:  sessions,
		metrics:   nopMetrics{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DecisionInput is the deciding party's answer. RequestID is optional for
// mapping and journal-access decisions; without it the pending request of
// the pair is used.
type DecisionInput struct {
	Decision  string
	RequestID string
}

// pending loads the request a decision applies to. When the pair has no
// pending request but has decided ones, the result is an INVALID_STATE error
// rather than NOT_FOUND, because the request exists and was already decided.
func (s *WorkflowService) pending(ctx context.Context, kind domain.Kind, ownerKey, counterpartyID, requestID, subject string) (domain.Request, error) {
	if strings.TrimSpace(ownerKey) == "" || strings.TrimSpace(counterpartyID) == "" {
		return nil, newError(ErrorInvalidInput, "missing_"+subject+"_party", nil)
	}
	if requestID = strings.TrimSpace(requestID); requestID != "" {
		req, err := s.requests.Get(ctx, kind, ownerKey, requestID)
		if err != nil {
			return nil, classify(subject, err)
		}
		if req.Header().CounterpartyID != counterpartyID {
			return nil, newError(ErrorNotFound, subject+"_not_found", nil)
		}
		return req, nil
	}

	req, err := s.requests.FindPendingByCounterparty(ctx, kind, counterpartyID, ownerKey)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, classify(subject, err)
	}
	all, lerr := s.requests.ListByOwner(ctx, kind, ownerKey, "")
	if lerr != nil {
		return nil, classify(subject, lerr)
	}
	for _, r := range all {
		if r.Header().CounterpartyID == counterpartyID {
			return nil, newError(ErrorInvalidState, subject+"_already_decided", err)
		}
	}
	return nil, classify(subject, err)
}

func (s *WorkflowService) decide(ctx context.Context, req domain.Request, decision domain.Decision, subject string, effects ...domain.SideEffect) error {
	to := decision.Status()
	if err := s.requests.Transition(ctx, req, to, effects...); err != nil {
		return classify(subject, err)
	}
	s.metrics.RequestDecided(string(req.Kind()), string(to))
	return nil
}

func parseDecision(raw string) (domain.Decision, error) {
	d, err := domain.ParseDecision(raw)
	if err != nil {
		return "", newError(ErrorInvalidInput, "invalid_decision", err)
	}
	return d, nil
}

// parseStatusFilter turns an optional query value into a status filter.
func parseStatusFilter(raw string) (domain.Status, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	st, err := domain.ParseStatus(raw)
	if err != nil {
		return "", newError(ErrorInvalidInput, "invalid_status_filter", err)
	}
	return st, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
