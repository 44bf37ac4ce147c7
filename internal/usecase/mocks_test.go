package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"therapy-service/internal/domain"
)

var testNow = time.Date(2024, 5, 20, 8, 30, 0, 0, time.UTC)

// world is the shared in-memory state behind the mock stores. Side effects are
// checked first and applied only if all of them can be, like a transaction.
type world struct {
	mu        sync.Mutex
	requests  map[string]domain.Request
	order     []string
	relations map[[2]string]domain.Relation
	slots     map[[2]string]domain.Slot
	sessions  map[[2]string]domain.Session

	err         error // returned by every store call when set
	transitions int
}

func newWorld() *world {
	return &world{
		requests:  map[string]domain.Request{},
		relations: map[[2]string]domain.Relation{},
		slots:     map[[2]string]domain.Slot{},
		sessions:  map[[2]string]domain.Session{},
	}
}

func requestKey(kind domain.Kind, owner, id string) string {
	return string(kind) + "/" + owner + "/" + id
}

func clone(r domain.Request) domain.Request {
	switch v := r.(type) {
	case *domain.MappingRequest:
		c := *v
		return &c
	case *domain.JournalAccessRequest:
		c := *v
		return &c
	case *domain.AppointmentRequest:
		c := *v
		return &c
	}
	panic(fmt.Sprintf("unexpected request %T", r))
}

func (w *world) check(effects []domain.SideEffect) error {
	for _, e := range effects {
		switch e := e.(type) {
		case domain.ReserveSlot:
			slot, ok := w.slots[[2]string{e.TherapistID, e.SlotID}]
			if !ok {
				return fmt.Errorf("%w: slot %s", domain.ErrNotFound, e.SlotID)
			}
			if slot.Status != domain.SlotAvailable {
				return fmt.Errorf("%w: slot %s is not available", domain.ErrConflict, e.SlotID)
			}
		case domain.ReleaseSlot:
			if w.slots[[2]string{e.TherapistID, e.SlotID}].HeldBy != e.Holder {
				return fmt.Errorf("%w: slot %s not held", domain.ErrConflict, e.SlotID)
			}
		case domain.CreateSession:
			if _, ok := w.sessions[[2]string{e.Session.TherapistID, e.Session.SessionID}]; ok {
				return fmt.Errorf("%w: session exists", domain.ErrConflict)
			}
		}
	}
	return nil
}

func (w *world) apply(effects []domain.SideEffect) {
	for _, e := range effects {
		switch e := e.(type) {
		case domain.CreateRelation:
			w.relations[[2]string{e.Relation.ClientID, e.Relation.TherapistID}] = e.Relation
		case domain.CreateSession:
			w.sessions[[2]string{e.Session.TherapistID, e.Session.SessionID}] = e.Session
		case domain.ReserveSlot:
			k := [2]string{e.TherapistID, e.SlotID}
			slot := w.slots[k]
			slot.Status, slot.HeldBy = domain.SlotBooked, e.Holder
			w.slots[k] = slot
		case domain.ReleaseSlot:
			k := [2]string{e.TherapistID, e.SlotID}
			slot := w.slots[k]
			slot.Status, slot.HeldBy = domain.SlotAvailable, ""
			w.slots[k] = slot
		}
	}
}

type mockRequests struct{ w *world }

func (m mockRequests) Create(_ context.Context, in domain.NewRequest, effects ...domain.SideEffect) (domain.Request, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if m.w.err != nil {
		return nil, m.w.err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	id := in.IdempotencyKey
	if id == "" {
		id = fmt.Sprintf("req-%d", len(m.w.order)+1)
	}
	key := requestKey(in.Kind, in.OwnerKey, id)
	if existing, ok := m.w.requests[key]; ok {
		if existing.Header().CounterpartyID != in.CounterpartyID {
			return nil, fmt.Errorf("%w: id in use", domain.ErrConflict)
		}
		return clone(existing), nil
	}
	if in.Kind.UniquePerPair() {
		for _, r := range m.w.requests {
			h := r.Header()
			if r.Kind() == in.Kind && h.OwnerKey == in.OwnerKey && h.CounterpartyID == in.CounterpartyID && r.Status() == domain.StatusPending {
				return nil, fmt.Errorf("%w: pending request exists", domain.ErrConflict)
			}
		}
	}
	if err := m.w.check(effects); err != nil {
		return nil, err
	}
	m.w.apply(effects)
	req := in.Build(id, testNow)
	m.w.requests[key] = clone(req)
	m.w.order = append(m.w.order, key)
	return req, nil
}

func (m mockRequests) Get(_ context.Context, kind domain.Kind, owner, id string) (domain.Request, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if m.w.err != nil {
		return nil, m.w.err
	}
	r, ok := m.w.requests[requestKey(kind, owner, id)]
	if !ok {
		return nil, fmt.Errorf("%w: request %s", domain.ErrNotFound, id)
	}
	return clone(r), nil
}

func (m mockRequests) FindPendingByCounterparty(_ context.Context, kind domain.Kind, counterparty, owner string) (domain.Request, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if m.w.err != nil {
		return nil, m.w.err
	}
	for _, key := range m.w.order {
		r := m.w.requests[key]
		h := r.Header()
		if r.Kind() == kind && h.OwnerKey == owner && h.CounterpartyID == counterparty && r.Status() == domain.StatusPending {
			return clone(r), nil
		}
	}
	return nil, fmt.Errorf("%w: no pending request", domain.ErrNotFound)
}

func (m mockRequests) ListByOwner(_ context.Context, kind domain.Kind, owner string, status domain.Status) ([]domain.Request, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if m.w.err != nil {
		return nil, m.w.err
	}
	var out []domain.Request
	for _, key := range m.w.order {
		r := m.w.requests[key]
		if r.Kind() == kind && r.Header().OwnerKey == owner && (status == "" || r.Status() == status) {
			out = append(out, clone(r))
		}
	}
	return out, nil
}

func (m mockRequests) Transition(_ context.Context, req domain.Request, to domain.Status, effects ...domain.SideEffect) error {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if m.w.err != nil {
		return m.w.err
	}
	h := req.Header()
	stored, ok := m.w.requests[requestKey(req.Kind(), h.OwnerKey, h.RequestID)]
	if !ok {
		return fmt.Errorf("%w: request %s", domain.ErrNotFound, h.RequestID)
	}
	if stored.Status() != domain.StatusPending {
		return fmt.Errorf("%w: request %s is %s", domain.ErrInvalidState, h.RequestID, stored.Status())
	}
	if err := m.w.check(effects); err != nil {
		return err
	}
	m.w.apply(effects)
	m.w.transitions++
	if err := stored.Transition(to, testNow); err != nil {
		return err
	}
	return req.Transition(to, testNow)
}

type mockRelations struct{ w *world }

func (m mockRelations) Delete(_ context.Context, clientID, therapistID string) error {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if m.w.err != nil {
		return m.w.err
	}
	delete(m.w.relations, [2]string{clientID, therapistID})
	return nil
}

func (m mockRelations) list(match func(domain.Relation) bool) []domain.Relation {
	var out []domain.Relation
	for _, rel := range m.w.relations {
		if match(rel) {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClientID+out[i].TherapistID < out[j].ClientID+out[j].TherapistID
	})
	return out
}

func (m mockRelations) ListByClient(_ context.Context, clientID string) ([]domain.Relation, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if m.w.err != nil {
		return nil, m.w.err
	}
	return m.list(func(r domain.Relation) bool { return r.ClientID == clientID }), nil
}

func (m mockRelations) ListByTherapist(_ context.Context, therapistID string) ([]domain.Relation, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if m.w.err != nil {
		return nil, m.w.err
	}
	return m.list(func(r domain.Relation) bool { return r.TherapistID == therapistID }), nil
}

func (m mockRelations) RebuildForClient(_ context.Context, clientID string, therapistIDs []string) (domain.RelationDelta, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if m.w.err != nil {
		return domain.RelationDelta{}, m.w.err
	}
	if clientID == "" {
		return domain.RelationDelta{}, fmt.Errorf("%w: client id is required", domain.ErrValidation)
	}
	target := map[string]bool{}
	for _, id := range therapistIDs {
		target[id] = true
	}
	var delta domain.RelationDelta
	for k := range m.w.relations {
		if k[0] == clientID && !target[k[1]] {
			delete(m.w.relations, k)
			delta.Removed = append(delta.Removed, k[1])
		}
	}
	for id := range target {
		k := [2]string{clientID, id}
		if _, ok := m.w.relations[k]; !ok {
			m.w.relations[k] = domain.Relation{ClientID: clientID, TherapistID: id, MappedAt: testNow}
			delta.Added = append(delta.Added, id)
		}
	}
	return delta, nil
}

type mockSlots struct{ w *world }

func (m mockSlots) Create(_ context.Context, therapistID, date, start, end string) (domain.Slot, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if date == "" || start == "" || end == "" {
		return domain.Slot{}, fmt.Errorf("%w: slot fields required", domain.ErrValidation)
	}
	slot := domain.Slot{
		TherapistID: therapistID,
		SlotID:      fmt.Sprintf("slot-%d", len(m.w.slots)+1),
		Status:      domain.SlotAvailable,
		Date:        date,
		StartTime:   start,
		EndTime:     end,
	}
	m.w.slots[[2]string{therapistID, slot.SlotID}] = slot
	return slot, nil
}

func (m mockSlots) Get(_ context.Context, therapistID, slotID string) (domain.Slot, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if m.w.err != nil {
		return domain.Slot{}, m.w.err
	}
	slot, ok := m.w.slots[[2]string{therapistID, slotID}]
	if !ok {
		return domain.Slot{}, fmt.Errorf("%w: slot %s", domain.ErrNotFound, slotID)
	}
	return slot, nil
}

func (m mockSlots) IsBookable(slot domain.Slot) bool { return slot.Bookable() }

func (m mockSlots) ListAvailable(_ context.Context, therapistID string) ([]domain.Slot, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	var out []domain.Slot
	for k, s := range m.w.slots {
		if k[0] == therapistID && s.Bookable() {
			out = append(out, s)
		}
	}
	return out, nil
}

type mockSessions struct{ w *world }

func (m mockSessions) Get(_ context.Context, therapistID, sessionID string) (domain.Session, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	s, ok := m.w.sessions[[2]string{therapistID, sessionID}]
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	return s, nil
}

func (m mockSessions) ListByClient(_ context.Context, clientID string) ([]domain.Session, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	var out []domain.Session
	for _, s := range m.w.sessions {
		if s.ClientID == clientID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m mockSessions) Update(_ context.Context, therapistID, sessionID string, patch domain.SessionPatch) (domain.Session, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if patch.Empty() {
		return domain.Session{}, fmt.Errorf("%w: nothing to update", domain.ErrValidation)
	}
	k := [2]string{therapistID, sessionID}
	s, ok := m.w.sessions[k]
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	if patch.Status != nil {
		s.Status = *patch.Status
	}
	if patch.SharedNotes != nil {
		s.SharedNotes = *patch.SharedNotes
	}
	if patch.PrivateNotes != nil {
		s.PrivateNotes = *patch.PrivateNotes
	}
	m.w.sessions[k] = s
	return s, nil
}

func (m mockSessions) Delete(_ context.Context, therapistID, sessionID string) error {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	delete(m.w.sessions, [2]string{therapistID, sessionID})
	return nil
}

type mockMetrics struct {
	mu      sync.Mutex
	created map[string]int
	decided map[string]int
	added   int
	removed int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{created: map[string]int{}, decided: map[string]int{}}
}

func (m *mockMetrics) RequestCreated(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created[kind]++
}

func (m *mockMetrics) RequestDecided(kind, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decided[kind+"/"+status]++
}

func (m *mockMetrics) RelationsRebuilt(added, removed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added += added
	m.removed += removed
}

func newTestService(t *testing.T) (*WorkflowService, *world, *mockMetrics) {
	t.Helper()
	w := newWorld()
	m := newMockMetrics()
	svc, err := NewWorkflowService(mockRequests{w}, mockRelations{w}, mockSlots{w}, mockSessions{w},
		WithMetrics(m), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return svc, w, m
}

func requireCode(t *testing.T, err error, code ErrorCode) *Error {
	t.Helper()
	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, code, ue.Code, ue.Error())
	return ue
}
