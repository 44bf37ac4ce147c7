package repository

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"therapy-service/internal/config"
	"therapy-service/internal/domain"
	"therapy-service/internal/store"
)

// effectWriter turns domain side effects into transaction items against the
// configured tables.
type effectWriter struct {
	tables config.Tables
}

func (w effectWriter) items(effects []domain.SideEffect) ([]store.TxItem, error) {
	out := make([]store.TxItem, 0, len(effects))
	for _, e := range effects {
		it, err := w.item(e)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (w effectWriter) item(e domain.SideEffect) (store.TxItem, error) {
	switch e := e.(type) {
	case domain.CreateRelation:
		return store.TxItem{Put: &store.Put{
			Table: w.tables.MappedTherapists,
			Item:  toRelationItem(e.Relation),
		}}, nil
	case domain.CreateSession:
		return store.TxItem{Put: &store.Put{
			Table:     w.tables.Sessions,
			Item:      toSessionItem(e.Session),
			Condition: expression.AttributeNotExists(expression.Name(attrSessionID)),
		}}, nil
	case domain.ReserveSlot:
		u := reserveUpdate(w.tables.SessionSlots, e)
		return store.TxItem{Update: &u}, nil
	case domain.ReleaseSlot:
		u := releaseUpdate(w.tables.SessionSlots, e)
		return store.TxItem{Update: &u}, nil
	}
	return store.TxItem{}, fmt.Errorf("repository: unsupported side effect %T", e)
}

// reserveUpdate books a slot that is currently Available. A missing slot
// fails the same condition.
func reserveUpdate(table string, e domain.ReserveSlot) store.Update {
	return store.Update{
		Table: table,
		Key:   slotKey(e.TherapistID, e.SlotID),
		Update: expression.
			Set(expression.Name(attrStatus), expression.Value(string(domain.SlotBooked))).
			Set(expression.Name(attrHeldBy), expression.Value(e.Holder)),
		Condition: expression.Name(attrStatus).Equal(expression.Value(string(domain.SlotAvailable))),
	}
}

// releaseUpdate frees a slot, but only for the request that holds it.
func releaseUpdate(table string, e domain.ReleaseSlot) store.Update {
	return store.Update{
		Table: table,
		Key:   slotKey(e.TherapistID, e.SlotID),
		Update: expression.
			Set(expression.Name(attrStatus), expression.Value(string(domain.SlotAvailable))).
			Remove(expression.Name(attrHeldBy)),
		Condition: expression.Name(attrHeldBy).Equal(expression.Value(e.Holder)),
	}
}

// effectFailure explains a cancelled transaction in terms of the first side
// effect whose condition failed. effects start at item offset.
func effectFailure(effects []domain.SideEffect, tx *store.TxCanceledError, offset int) error {
	for i, e := range effects {
		stored, failed := tx.ConditionFailedAt(offset + i)
		if !failed {
			continue
		}
		switch e := e.(type) {
		case domain.ReserveSlot:
			if len(stored) == 0 {
				return fmt.Errorf("%w: slot %s", domain.ErrNotFound, e.SlotID)
			}
			return fmt.Errorf("%w: slot %s is not available", domain.ErrConflict, e.SlotID)
		case domain.ReleaseSlot:
			return fmt.Errorf("%w: slot %s is not held by request %s", domain.ErrConflict, e.SlotID, e.Holder)
		case domain.CreateSession:
			return fmt.Errorf("%w: session %s already exists", domain.ErrConflict, e.Session.SessionID)
		default:
			return fmt.Errorf("%w: %T failed its condition", domain.ErrConflict, e)
		}
	}
	return nil
}
