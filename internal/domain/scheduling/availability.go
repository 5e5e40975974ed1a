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

// CreateAvailability stores a new window for the calling doctor together
// with the slots generated from it, in one transaction.
func (s *Service) CreateAvailability(ctx context.Context, id auth.Identity, in AvailabilityInput) (*AvailabilityResult, error) {
	if !id.IsDoctor() {
		return nil, apperrors.Forbidden("this action is restricted to doctors")
	}
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}

	w := &AvailabilityWindow{
		ID:              uuid.New(),
		Type:            WindowType(in.Type),
		ConsultingStart: timeofday.MustParse(in.ConsultingStartTime),
		ConsultingEnd:   timeofday.MustParse(in.ConsultingEndTime),
		Session:         in.Session,
	}
	switch w.Type {
	case WindowCustomDate:
		date, err := ParseDate(in.Date)
		if err != nil {
			return nil, apperrors.Invalid(err.Error(), nil)
		}
		if date.Before(s.today()) {
			return nil, apperrors.Invalid(fmt.Sprintf("date %s is in the past", date), nil)
		}
		w.Date = &date
	case WindowRecurring:
		w.Weekdays = normalizeWeekdays(in.Weekdays)
	}

	var slots []*Slot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		doctor, err := s.doctorFor(ctx, id)
		if err != nil {
			return err
		}
		w.DoctorID = doctor.ID

		slots, err = GenerateSlots(doctor, w)
		if err != nil {
			return err
		}
		if len(slots) == 0 {
			return apperrors.Invalid(fmt.Sprintf(
				"the consulting period %s-%s is shorter than the slot duration of %d minutes",
				w.ConsultingStart, w.ConsultingEnd, doctor.SlotDuration), nil)
		}

		if err := s.windows.Create(ctx, w); err != nil {
			return db.Classify(err, "failed to create availability")
		}
		if err := s.slots.CreateBatch(ctx, slots); err != nil {
			return db.Classify(err, "failed to create slots")
		}
		return nil
	})
	if err != nil {
		err = db.Classify(err, "failed to create availability")
		s.logFailure(err, "create_availability")
		return nil, err
	}

	s.logger.Info().
		Str("availability_id", w.ID.String()).
		Str("doctor_id", w.DoctorID.String()).
		Str("session", w.Session).
		Int("slots", len(slots)).
		Msg("availability created")
	return &AvailabilityResult{
		Message: fmt.Sprintf("Availability created with %d slots", len(slots)),
		Window:  w,
		Slots:   slots,
	}, nil
}

func (s *Service) ListAvailability(ctx context.Context, id auth.Identity) ([]*AvailabilityWindow, error) {
	doctor, err := s.doctorFor(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.windows.ListByDoctor(ctx, doctor.ID)
	if err != nil {
		return nil, db.Classify(err, "failed to list availability")
	}
	return items, nil
}

// DeleteAvailability removes one of the caller's windows and, through the
// cascade, its slots. It refuses while any slot of the window is booked.
func (s *Service) DeleteAvailability(ctx context.Context, id auth.Identity, windowID uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		doctor, err := s.doctorFor(ctx, id)
		if err != nil {
			return err
		}
		w, err := s.windows.GetByID(ctx, windowID)
		if err != nil {
			return lookupErr(err, "Availability", windowID.String())
		}
		if w.DoctorID != doctor.ID {
			return apperrors.Forbidden("this availability belongs to another doctor")
		}

		siblings, err := s.slots.LockByAvailability(ctx, w.ID)
		if err != nil {
			return db.Classify(err, "failed to lock slots")
		}
		if booked := bookedTotal(siblings); booked > 0 {
			return apperrors.Conflict(fmt.Sprintf(
				"cannot delete availability: its slots hold %d active booking(s)", booked))
		}

		if err := s.windows.Delete(ctx, w.ID); err != nil {
			return lookupErr(err, "Availability", windowID.String())
		}
		return nil
	})
	if err != nil {
		err = db.Classify(err, "failed to delete availability")
		s.logFailure(err, "delete_availability")
		return err
	}

	s.logger.Info().Str("availability_id", windowID.String()).Msg("availability deleted")
	return nil
}

func bookedTotal(slots []*Slot) int {
	total := 0
	for _, sl := range slots {
		total += sl.BookedCount
	}
	return total
}
