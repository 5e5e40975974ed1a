package scheduling

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/clinic/booking/pkg/apperrors"
	"github.com/clinic/booking/pkg/timeofday"
)

// GenerateSlots splits the window's consulting period into back-to-back
// slots of the doctor's slot duration. A trailing interval shorter than
// the duration is dropped. Slots are returned in start order and are not
// persisted.
func GenerateSlots(doctor *Doctor, w *AvailabilityWindow) ([]*Slot, error) {
	if doctor.SlotDuration < MinSlotDuration {
		return nil, apperrors.Invalid(
			fmt.Sprintf("slot_duration must be at least %d minutes, got %d", MinSlotDuration, doctor.SlotDuration), nil)
	}
	if !w.ConsultingStart.Before(w.ConsultingEnd) {
		return nil, apperrors.Invalid("consulting_end_time must be after consulting_start_time", nil)
	}

	limit, err := defaultPatientLimit(doctor)
	if err != nil {
		return nil, err
	}

	dayOfWeek := RecurringDay
	if w.Date != nil {
		dayOfWeek = w.Date.Weekday().String()
	}
	windowID := w.ID

	var slots []*Slot
	for start := w.ConsultingStart; ; {
		end, ok := start.Add(doctor.SlotDuration)
		if !ok || end.After(w.ConsultingEnd) {
			break
		}
		slots = append(slots, &Slot{
			ID:             uuid.New(),
			DoctorID:       doctor.ID,
			AvailabilityID: &windowID,
			Date:           w.Date,
			DayOfWeek:      dayOfWeek,
			StartTime:      start,
			EndTime:        end,
			IsAvailable:    true,
			BookedCount:    0,
			PatientLimit:   limit,
		})
		start = end
	}
	return slots, nil
}

// defaultPatientLimit is the capacity a new slot gets under the doctor's
// scheduling policy.
func defaultPatientLimit(doctor *Doctor) (int, error) {
	if doctor.ScheduleType != ScheduleWave {
		return 1, nil
	}
	if doctor.WaveLimit < 1 {
		return 0, apperrors.Invalid("wave_limit must be at least 1 for wave scheduling", nil)
	}
	return doctor.WaveLimit, nil
}

// PreviewSlots runs the generator on ad hoc parameters without a stored
// doctor or window.
func PreviewSlots(start, end string, duration int, scheduleType ScheduleType, waveLimit int) ([]*Slot, error) {
	s, err := timeofday.Parse(start)
	if err != nil {
		return nil, apperrors.Invalid(err.Error(), nil)
	}
	e, err := timeofday.Parse(end)
	if err != nil {
		return nil, apperrors.Invalid(err.Error(), nil)
	}
	doctor := &Doctor{ScheduleType: scheduleType, SlotDuration: duration, WaveLimit: waveLimit}
	return GenerateSlots(doctor, &AvailabilityWindow{ConsultingStart: s, ConsultingEnd: e})
}

// checkContainment verifies start < end and that the interval lies inside
// the window's consulting period, naming the violated bound.
func checkContainment(w *AvailabilityWindow, start, end timeofday.Clock) error {
	if !start.Before(end) {
		return apperrors.Invalid(fmt.Sprintf("start_time %s must be before end_time %s", start, end), nil)
	}
	if w == nil || timeofday.Contains(w.ConsultingStart, w.ConsultingEnd, start, end) {
		return nil
	}
	if start.Before(w.ConsultingStart) {
		return apperrors.Invalid(fmt.Sprintf(
			"start_time %s is before the window's consulting_start_time %s", start, w.ConsultingStart), nil)
	}
	return apperrors.Invalid(fmt.Sprintf(
		"end_time %s is after the window's consulting_end_time %s", end, w.ConsultingEnd), nil)
}
