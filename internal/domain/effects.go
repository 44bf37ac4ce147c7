package domain

// SideEffect is a write that must commit atomically with a request write.
// The repository layer turns each effect into one transactional item.
type SideEffect interface {
	sideEffect()
}

// CreateRelation upserts the therapist-client relation.
type CreateRelation struct {
	Relation Relation
}

// CreateSession inserts a session; it fails if the session id already exists.
type CreateSession struct {
	Session Session
}

// ReserveSlot books an available slot for the holding request.
type ReserveSlot struct {
	TherapistID string
	SlotID      string
	Holder      string
}

// ReleaseSlot returns a slot held by Holder to Available.
type ReleaseSlot struct {
	TherapistID string
	SlotID      string
	Holder      string
}

func (CreateRelation) sideEffect() {}
func (CreateSession) sideEffect()  {}
func (ReserveSlot) sideEffect()    {}
func (ReleaseSlot) sideEffect()    {}
