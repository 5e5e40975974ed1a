package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/internal/platform/db"
	"github.com/clinic/booking/internal/platform/events"
	"github.com/clinic/booking/pkg/apperrors"
	"github.com/clinic/booking/pkg/timeofday"
)

// Book reserves a place in slotID for the calling patient.
//
// The slot row is locked first and stays locked until commit, so concurrent
// bookers of one slot run one after another and each sees the occupancy
// left by the previous one. Every rule is checked before the first write;
// any error rolls the whole booking back.
func (s *Service) Book(ctx context.Context, id auth.Identity, slotID uuid.UUID) (*Appointment, error) {
	if !id.IsPatient() {
		return nil, apperrors.Forbidden("only patients can book appointments")
	}

	var (
		appt *Appointment
		slot *Slot
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.slots.LockByID(ctx, slotID); err != nil {
			return lookupErr(err, "Slot", slotID.String())
		}

		rel, err := s.slots.GetWithRelations(ctx, slotID)
		if err != nil {
			if db.IsNoRows(err) {
				return apperrors.Internal("slot or its doctor vanished after the slot was locked", err)
			}
			return db.Classify(err, "failed to load slot")
		}
		doctor := rel.Doctor
		if doctor == nil {
			return apperrors.Internal(fmt.Sprintf("slot %s has no doctor", slotID), nil)
		}
		// Date and session are copied from the window; a slot without one
		// cannot produce a well-formed appointment.
		if rel.Window == nil {
			return apperrors.Internal(fmt.Sprintf("slot %s has no availability window", slotID), nil)
		}

		patient, err := s.patientFor(ctx, id)
		if err != nil {
			return err
		}

		if err := s.checkBookingWindow(doctor); err != nil {
			return err
		}

		if !rel.IsAvailable {
			return apperrors.Conflict("this slot is no longer available")
		}

		session := rel.Session()
		dup, err := s.appointments.HasActiveInSession(ctx, patient.ID, doctor.ID, rel.Date, session)
		if err != nil {
			return db.Classify(err, "failed to check existing appointments")
		}
		if dup {
			return apperrors.Conflict(fmt.Sprintf(
				"you already have an appointment with Dr. %s in the %q session on %s",
				doctor.FullName(), session, describeDate(rel.Date)))
		}

		adm, err := PolicyFor(doctor.ScheduleType).Admit(&rel.Slot, doctor.ConsultingTime)
		if err != nil {
			return err
		}

		rel.BookedCount = adm.BookedCount
		rel.IsAvailable = adm.IsAvailable
		if err := s.slots.UpdateOccupancy(ctx, &rel.Slot); err != nil {
			return db.Classify(err, "failed to update slot occupancy")
		}

		slotRef := rel.ID
		a := &Appointment{
			ID:            uuid.New(),
			DoctorID:      doctor.ID,
			PatientID:     patient.ID,
			SlotID:        &slotRef,
			Date:          rel.Date,
			Session:       session,
			ReportingTime: adm.ReportingTime,
			Status:        StatusScheduled,
		}
		if err := s.appointments.Create(ctx, a); err != nil {
			return db.Classify(err, "failed to create appointment")
		}

		appt, slot = a, &rel.Slot
		return nil
	})
	if err != nil {
		err = db.Classify(err, "failed to book slot")
		s.logFailure(err, "book")
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", slot.ID.String()).
		Str("reporting_time", appt.ReportingTime.String()).
		Int("booked_count", slot.BookedCount).
		Int("patient_limit", slot.PatientLimit).
		Msg("appointment booked")
	s.publish(ctx, appointmentEvent(events.AppointmentBooked, appt, slot))
	return appt, nil
}

// checkBookingWindow enforces the doctor's daily booking hours against the
// clinic wall clock. The start is inclusive and the end exclusive; a window
// whose start is after its end runs past midnight. Nothing is enforced unless both bounds are set.
func (s *Service) checkBookingWindow(d *Doctor) error {
	start, end, ok := d.BookingWindow()
	if !ok {
		return nil
	}
	now := timeofday.Of(s.clinicNow())
	if timeofday.Within(now, start, end) {
		return nil
	}
	return apperrors.Forbidden(fmt.Sprintf(
		"bookings for Dr. %s are accepted only between %s and %s", d.FullName(), start, end))
}

func describeDate(d *Date) string {
	if d == nil {
		return "the recurring schedule"
	}
	return d.String()
}
