package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/internal/platform/db"
	"github.com/clinic/booking/pkg/apperrors"
	"github.com/clinic/booking/pkg/timeofday"
)

// CreateSlot adds a hand-placed slot to one of the caller's windows. The
// slot must fit inside the window's consulting period.
func (s *Service) CreateSlot(ctx context.Context, id auth.Identity, in ManualSlotInput) (*Slot, error) {
	if !id.IsDoctor() {
		return nil, apperrors.Forbidden("this action is restricted to doctors")
	}
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	start := timeofday.MustParse(in.StartTime)
	end := timeofday.MustParse(in.EndTime)

	var slot *Slot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		doctor, err := s.doctorFor(ctx, id)
		if err != nil {
			return err
		}
		w, err := s.windows.GetByID(ctx, in.AvailabilityID)
		if err != nil {
			return lookupErr(err, "Availability", in.AvailabilityID.String())
		}
		if w.DoctorID != doctor.ID {
			return apperrors.Forbidden("this availability belongs to another doctor")
		}
		if err := checkContainment(w, start, end); err != nil {
			return err
		}

		limit := in.PatientLimit
		if limit == 0 {
			if limit, err = defaultPatientLimit(doctor); err != nil {
				return err
			}
		}

		dayOfWeek := RecurringDay
		if w.Date != nil {
			dayOfWeek = w.Date.Weekday().String()
		}
		windowID := w.ID
		sl := &Slot{
			ID:             uuid.New(),
			DoctorID:       doctor.ID,
			AvailabilityID: &windowID,
			Date:           w.Date,
			DayOfWeek:      dayOfWeek,
			StartTime:      start,
			EndTime:        end,
			IsAvailable:    true,
			PatientLimit:   limit,
		}
		if err := s.slots.Create(ctx, sl); err != nil {
			return db.Classify(err, "failed to create slot")
		}
		slot = sl
		return nil
	})
	if err != nil {
		err = db.Classify(err, "failed to create slot")
		s.logFailure(err, "create_slot")
		return nil, err
	}

	s.logger.Info().Str("slot_id", slot.ID.String()).
		Str("start_time", slot.StartTime.String()).
		Str("end_time", slot.EndTime.String()).
		Msg("slot created")
	return slot, nil
}

// UpdateSlot moves a slot's start and end times. Omitted fields keep their
// current value.
func (s *Service) UpdateSlot(ctx context.Context, id auth.Identity, slotID uuid.UUID, in SlotUpdateInput) (*Slot, error) {
	if !id.IsDoctor() {
		return nil, apperrors.Forbidden("this action is restricted to doctors")
	}
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}

	var slot *Slot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		target, err := s.lockForMutation(ctx, id, slotID, "edit")
		if err != nil {
			return err
		}

		start, end := target.StartTime, target.EndTime
		if in.StartTime != nil {
			if start, err = timeofday.Parse(*in.StartTime); err != nil {
				return apperrors.Invalid("start_time: "+err.Error(), nil)
			}
		}
		if in.EndTime != nil {
			if end, err = timeofday.Parse(*in.EndTime); err != nil {
				return apperrors.Invalid("end_time: "+err.Error(), nil)
			}
		}

		var w *AvailabilityWindow
		if target.AvailabilityID != nil {
			if w, err = s.windows.GetByID(ctx, *target.AvailabilityID); err != nil {
				return lookupErr(err, "Availability", target.AvailabilityID.String())
			}
		}
		if err := checkContainment(w, start, end); err != nil {
			return err
		}

		target.StartTime, target.EndTime = start, end
		if err := s.slots.UpdateTimes(ctx, target); err != nil {
			return lookupErr(err, "Slot", slotID.String())
		}
		slot = target
		return nil
	})
	if err != nil {
		err = db.Classify(err, "failed to update slot")
		s.logFailure(err, "update_slot")
		return nil, err
	}

	s.logger.Info().Str("slot_id", slot.ID.String()).
		Str("start_time", slot.StartTime.String()).
		Str("end_time", slot.EndTime.String()).
		Msg("slot updated")
	return slot, nil
}

func (s *Service) DeleteSlot(ctx context.Context, id auth.Identity, slotID uuid.UUID) error {
	if !id.IsDoctor() {
		return apperrors.Forbidden("this action is restricted to doctors")
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.lockForMutation(ctx, id, slotID, "delete"); err != nil {
			return err
		}
		if err := s.slots.Delete(ctx, slotID); err != nil {
			return lookupErr(err, "Slot", slotID.String())
		}
		return nil
	})
	if err != nil {
		err = db.Classify(err, "failed to delete slot")
		s.logFailure(err, "delete_slot")
		return err
	}

	s.logger.Info().Str("slot_id", slotID.String()).Msg("slot deleted")
	return nil
}

// lockForMutation checks the caller owns the slot, then locks the slot and
// every sibling in its window and refuses while any of them holds a
// booking. It returns the target as read under the lock.
func (s *Service) lockForMutation(ctx context.Context, id auth.Identity, slotID uuid.UUID, action string) (*Slot, error) {
	doctor, err := s.doctorFor(ctx, id)
	if err != nil {
		return nil, err
	}
	current, err := s.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, lookupErr(err, "Slot", slotID.String())
	}
	if current.DoctorID != doctor.ID {
		return nil, apperrors.Forbidden("this slot belongs to another doctor")
	}

	if current.AvailabilityID == nil {
		if err := s.slots.LockByID(ctx, slotID); err != nil {
			return nil, lookupErr(err, "Slot", slotID.String())
		}
		target, err := s.slots.GetByID(ctx, slotID)
		if err != nil {
			return nil, lookupErr(err, "Slot", slotID.String())
		}
		if target.BookedCount > 0 {
			return nil, apperrors.Conflict(fmt.Sprintf(
				"cannot %s slot: it holds %d active booking(s)", action, target.BookedCount))
		}
		return target, nil
	}

	siblings, err := s.slots.LockByAvailability(ctx, *current.AvailabilityID)
	if err != nil {
		return nil, db.Classify(err, "failed to lock slots")
	}
	var target *Slot
	for _, sl := range siblings {
		if sl.ID == slotID {
			target = sl
		}
	}
	if target == nil {
		return nil, apperrors.NotFoundWithID("Slot", slotID.String())
	}
	if booked := bookedTotal(siblings); booked > 0 {
		return nil, apperrors.Conflict(fmt.Sprintf(
			"cannot %s slot: slots in the same availability hold %d active booking(s)", action, booked))
	}
	return target, nil
}
