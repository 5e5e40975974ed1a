package scheduling

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/internal/platform/db"
	"github.com/clinic/booking/internal/platform/events"
	"github.com/clinic/booking/pkg/apperrors"
)

const (
	msgCancelled        = "Appointment cancelled successfully"
	msgAlreadyCancelled = "Appointment is already cancelled"
)

// Cancel cancels an appointment on behalf of its patient or its doctor and
// hands the place back to the slot.
//
// The appointment row is locked before the slot row, the same order every
// other writer uses, so a cancel and a booking on one slot serialize.
// Cancelling an already cancelled appointment succeeds without touching the
// slot again.
func (s *Service) Cancel(ctx context.Context, id auth.Identity, appointmentID uuid.UUID) (*CancelResult, error) {
	var (
		appt      *Appointment
		slot      *Slot
		unchanged bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.appointments.LockByID(ctx, appointmentID)
		if err != nil {
			return lookupErr(err, "Appointment", appointmentID.String())
		}
		if locked.SlotID != nil {
			if err := s.slots.LockByID(ctx, *locked.SlotID); err != nil && !db.IsNoRows(err) {
				return db.Classify(err, "failed to lock slot")
			}
		}

		rel, err := s.appointments.GetWithRelations(ctx, appointmentID)
		if err != nil {
			if db.IsNoRows(err) {
				return apperrors.Internal("appointment or its parties vanished after the row was locked", err)
			}
			return db.Classify(err, "failed to load appointment")
		}

		switch rel.Status {
		case StatusCancelled:
			unchanged = true
			return nil
		case StatusCompleted:
			return apperrors.Forbidden("a completed appointment cannot be cancelled")
		}

		if !mayCancel(id, rel) {
			return apperrors.Forbidden("only the patient or the doctor of this appointment can cancel it")
		}

		if err := s.appointments.UpdateStatus(ctx, rel.ID, StatusCancelled); err != nil {
			return db.Classify(err, "failed to cancel appointment")
		}
		rel.Status = StatusCancelled

		if rel.Slot != nil {
			rel.Slot.release()
			if err := s.slots.UpdateOccupancy(ctx, rel.Slot); err != nil {
				return db.Classify(err, "failed to release slot")
			}
		}

		appt, slot = &rel.Appointment, rel.Slot
		return nil
	})
	if err != nil {
		err = db.Classify(err, "failed to cancel appointment")
		s.logFailure(err, "cancel")
		return nil, err
	}

	if unchanged {
		s.logger.Debug().Str("appointment_id", appointmentID.String()).Msg("appointment already cancelled")
		return &CancelResult{Message: msgAlreadyCancelled}, nil
	}

	ev := s.logger.Info().Str("appointment_id", appt.ID.String()).Str("cancelled_by", string(id.Role))
	if slot != nil {
		ev = ev.Str("slot_id", slot.ID.String()).Int("booked_count", slot.BookedCount)
	}
	ev.Msg("appointment cancelled")
	s.publish(ctx, appointmentEvent(events.AppointmentCancelled, appt, slot))
	return &CancelResult{Message: msgCancelled}, nil
}

func mayCancel(id auth.Identity, a *AppointmentWithRelations) bool {
	switch {
	case id.IsPatient():
		return a.Patient != nil && a.Patient.UserID == id.UserID
	case id.IsDoctor():
		return a.Doctor != nil && a.Doctor.UserID == id.UserID
	default:
		return false
	}
}
