package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"therapy-service/internal/config"
	"therapy-service/internal/domain"
	"therapy-service/internal/store"
)

const (
	slotDateLayout = "2006-01-02"
	slotTimeLayout = "15:04"
)

// SlotRepository manages therapist slots. Every status change is a
// single-item conditional update, so two callers can never both hold a slot.
type SlotRepository struct {
	store *store.Client
	table string
}

// NewSlotRepository creates a SlotRepository.
func NewSlotRepository(s *store.Client, tables config.Tables) (*SlotRepository, error) {
	if s == nil {
		return nil, errors.New("repository: store must not be nil")
	}
	if strings.TrimSpace(tables.SessionSlots) == "" {
		return nil, errors.New("repository: slot table must not be empty")
	}
	return &SlotRepository{store: s, table: tables.SessionSlots}, nil
}

// Create publishes a new Available slot. date is YYYY-MM-DD and the times are
// HH:MM with end after start.
func (r *SlotRepository) Create(ctx context.Context, therapistID, date, start, end string) (domain.Slot, error) {
	if strings.TrimSpace(therapistID) == "" {
		return domain.Slot{}, fmt.Errorf("repository: CreateSlot: %w: therapist id is required", domain.ErrValidation)
	}
	if _, err := time.Parse(slotDateLayout, date); err != nil {
		return domain.Slot{}, fmt.Errorf("repository: CreateSlot: %w: date %q is not YYYY-MM-DD", domain.ErrValidation, date)
	}
	from, err := time.Parse(slotTimeLayout, start)
	if err != nil {
		return domain.Slot{}, fmt.Errorf("repository: CreateSlot: %w: startTime %q is not HH:MM", domain.ErrValidation, start)
	}
	to, err := time.Parse(slotTimeLayout, end)
	if err != nil {
		return domain.Slot{}, fmt.Errorf("repository: CreateSlot: %w: endTime %q is not HH:MM", domain.ErrValidation, end)
	}
	if !to.After(from) {
		return domain.Slot{}, fmt.Errorf("repository: CreateSlot: %w: endTime must be after startTime", domain.ErrValidation)
	}

	slot := domain.Slot{
		TherapistID: therapistID,
		SlotID:      newUUID(),
		Status:      domain.SlotAvailable,
		Date:        date,
		StartTime:   start,
		EndTime:     end,
	}
	err = r.store.Put(ctx, store.Put{
		Table:     r.table,
		Item:      toSlotItem(slot),
		Condition: expression.AttributeNotExists(expression.Name(attrSlotID)),
	})
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return domain.Slot{}, fmt.Errorf("repository: CreateSlot: %w: slot %s already exists", domain.ErrConflict, slot.SlotID)
		}
		return domain.Slot{}, fmt.Errorf("repository: CreateSlot: %w", err)
	}
	return slot, nil
}

func (r *SlotRepository) Get(ctx context.Context, therapistID, slotID string) (domain.Slot, error) {
	if strings.TrimSpace(therapistID) == "" || strings.TrimSpace(slotID) == "" {
		return domain.Slot{}, fmt.Errorf("repository: GetSlot: %w: therapist id and slot id are required", domain.ErrValidation)
	}
	var it slotItem
	if err := r.store.Get(ctx, r.table, slotKey(therapistID, slotID), &it); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Slot{}, fmt.Errorf("repository: GetSlot: %w: slot %s", domain.ErrNotFound, slotID)
		}
		return domain.Slot{}, fmt.Errorf("repository: GetSlot: %w", err)
	}
	return it.toDomain(), nil
}

// IsBookable reports whether slot can be reserved right now.
func (r *SlotRepository) IsBookable(slot domain.Slot) bool {
	return slot.Bookable()
}

// Reserve books the slot for holder. Reserving again for the same holder
// returns the slot unchanged.
func (r *SlotRepository) Reserve(ctx context.Context, therapistID, slotID, holder string) (domain.Slot, error) {
	if strings.TrimSpace(holder) == "" {
		return domain.Slot{}, fmt.Errorf("repository: Reserve: %w: holder is required", domain.ErrValidation)
	}
	var it slotItem
	err := r.store.Update(ctx, reserveUpdate(r.table, domain.ReserveSlot{TherapistID: therapistID, SlotID: slotID, Holder: holder}), &it)
	if err == nil {
		return it.toDomain(), nil
	}
	var condErr *store.ConditionError
	if !errors.As(err, &condErr) {
		return domain.Slot{}, fmt.Errorf("repository: Reserve: %w", err)
	}
	if !condErr.Existed() {
		return domain.Slot{}, fmt.Errorf("repository: Reserve: %w: slot %s", domain.ErrNotFound, slotID)
	}
	if err := condErr.Decode(&it); err != nil {
		return domain.Slot{}, fmt.Errorf("repository: Reserve: decode slot: %w", err)
	}
	if it.HeldBy == holder {
		return it.toDomain(), nil
	}
	return domain.Slot{}, fmt.Errorf("repository: Reserve: %w: slot %s is %s", domain.ErrConflict, slotID, it.Status)
}

// Release returns a slot held by holder to Available. Releasing a slot that
// is already Available succeeds.
func (r *SlotRepository) Release(ctx context.Context, therapistID, slotID, holder string) (domain.Slot, error) {
	if strings.TrimSpace(holder) == "" {
		return domain.Slot{}, fmt.Errorf("repository: Release: %w: holder is required", domain.ErrValidation)
	}
	var it slotItem
	err := r.store.Update(ctx, releaseUpdate(r.table, domain.ReleaseSlot{TherapistID: therapistID, SlotID: slotID, Holder: holder}), &it)
	if err == nil {
		return it.toDomain(), nil
	}
	var condErr *store.ConditionError
	if !errors.As(err, &condErr) {
		return domain.Slot{}, fmt.Errorf("repository: Release: %w", err)
	}
	if !condErr.Existed() {
		return domain.Slot{}, fmt.Errorf("repository: Release: %w: slot %s", domain.ErrNotFound, slotID)
	}
	if err := condErr.Decode(&it); err != nil {
		return domain.Slot{}, fmt.Errorf("repository: Release: decode slot: %w", err)
	}
	if domain.SlotStatus(it.Status) == domain.SlotAvailable {
		return it.toDomain(), nil
	}
	return domain.Slot{}, fmt.Errorf("repository: Release: %w: slot %s is held by another request", domain.ErrConflict, slotID)
}

// ListAvailable returns the therapist's Available slots.
func (r *SlotRepository) ListAvailable(ctx context.Context, therapistID string) ([]domain.Slot, error) {
	if strings.TrimSpace(therapistID) == "" {
		return nil, fmt.Errorf("repository: ListAvailable: %w: therapist id is required", domain.ErrValidation)
	}
	var items []slotItem
	err := r.store.Query(ctx, store.Query{
		Table:          r.table,
		PartitionKey:   attrTherapistID,
		PartitionValue: therapistID,
		Filter:         expression.Name(attrStatus).Equal(expression.Value(string(domain.SlotAvailable))),
	}, &items)
	if err != nil {
		return nil, fmt.Errorf("repository: ListAvailable: %w", err)
	}
	out := make([]domain.Slot, 0, len(items))
	for _, it := range items {
		out = append(out, it.toDomain())
	}
	return out, nil
}
