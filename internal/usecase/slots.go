package usecase

import (
	"context"

	"therapy-service/internal/domain"
)

type SlotInput struct {
	Date      string
	StartTime string
	EndTime   string
}

func (s *WorkflowService) CreateSlot(ctx context.Context, therapistID string, in SlotInput) (domain.Slot, error) {
	slot, err := s.slots.Create(ctx, therapistID, in.Date, in.StartTime, in.EndTime)
	if err != nil {
		return domain.Slot{}, classify("slot", err)
	}
	return slot, nil
}

func (s *WorkflowService) ListAvailableSlots(ctx context.Context, therapistID string) ([]domain.Slot, error) {
	slots, err := s.slots.ListAvailable(ctx, therapistID)
	if err != nil {
		return nil, classify("slot", err)
	}
	return slots, nil
}
