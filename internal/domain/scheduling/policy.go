package scheduling

import (
	"fmt"

	"github.com/clinic/booking/pkg/apperrors"
	"github.com/clinic/booking/pkg/timeofday"
)

// Admission is the outcome of admitting one more patient to a slot.
type Admission struct {
	BookedCount   int
	IsAvailable   bool
	ReportingTime timeofday.Clock
}

// Policy decides capacity, new occupancy and the patient's reporting time.
// Admit must be called with the slot row locked.
type Policy interface {
	Admit(slot *Slot, consultingTime int) (Admission, error)
}

// StreamPolicy allows one active visit per slot. A booking sets the count
// to one and closes the slot, whatever its patient limit.
type StreamPolicy struct{}

func (StreamPolicy) Admit(slot *Slot, _ int) (Admission, error) {
	if err := checkCapacity(slot); err != nil {
		return Admission{}, err
	}
	return Admission{BookedCount: 1, IsAvailable: false, ReportingTime: slot.StartTime}, nil
}

// WavePolicy admits up to PatientLimit patients and staggers their
// reporting times by the consulting time: the k-th patient reports at
// start + (k-1)*consultingTime.
type WavePolicy struct{}

func (WavePolicy) Admit(slot *Slot, consultingTime int) (Admission, error) {
	if err := checkCapacity(slot); err != nil {
		return Admission{}, err
	}
	k := slot.BookedCount + 1
	rt, ok := slot.StartTime.Add((k - 1) * consultingTime)
	if !ok {
		return Admission{}, apperrors.Conflict(fmt.Sprintf(
			"the slot starting at %s cannot take another patient before midnight", slot.StartTime))
	}
	return Admission{BookedCount: k, IsAvailable: k < slot.PatientLimit, ReportingTime: rt}, nil
}

func checkCapacity(slot *Slot) error {
	if slot.BookedCount >= slot.PatientLimit {
		return apperrors.Conflict("this slot is fully booked")
	}
	return nil
}

func PolicyFor(t ScheduleType) Policy {
	if t == ScheduleWave {
		return WavePolicy{}
	}
	return StreamPolicy{}
}

// release undoes one booking: the slot reopens and the count drops by one,
// never below zero.
func (s *Slot) release() {
	if !s.IsAvailable {
		s.IsAvailable = true
	}
	if s.BookedCount > 0 {
		s.BookedCount--
	}
}
