package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinic/booking/pkg/timeofday"
)

type ScheduleType string

const (
	ScheduleStream ScheduleType = "stream"
	ScheduleWave   ScheduleType = "wave"
)

type WindowType string

const (
	WindowCustomDate WindowType = "custom_date"
	WindowRecurring  WindowType = "recurring"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// RecurringDay is the day_of_week of slots generated from a window that has
// weekdays instead of a concrete date.
const RecurringDay = "Recurring"

const (
	MinSlotDuration   = 5
	MinConsultingTime = 5
)

// Doctor is the scheduling profile of a doctor. UserID links it to the
// identity provider.
type Doctor struct {
	ID               uuid.UUID    `json:"id"`
	UserID           string       `json:"user_id"`
	FirstName        string       `json:"first_name"`
	LastName         string       `json:"last_name"`
	Specialization   string       `json:"specialization"`
	ScheduleType     ScheduleType `json:"schedule_type"`
	SlotDuration     int          `json:"slot_duration"`
	ConsultingTime   int          `json:"consulting_time"`
	WaveLimit        int          `json:"wave_limit"`
	BookingStartTime *string      `json:"booking_start_time,omitempty"`
	BookingEndTime   *string      `json:"booking_end_time,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (d *Doctor) FullName() string {
	return d.FirstName + " " + d.LastName
}

// BookingWindow returns the daily period during which patients may book.
// ok is false unless both bounds are set and well formed.
func (d *Doctor) BookingWindow() (start, end timeofday.Clock, ok bool) {
	if d.BookingStartTime == nil || d.BookingEndTime == nil {
		return 0, 0, false
	}
	start, err := timeofday.Parse(*d.BookingStartTime)
	if err != nil {
		return 0, 0, false
	}
	end, err = timeofday.Parse(*d.BookingEndTime)
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}

type Patient struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AvailabilityWindow declares a consulting period on one date or on a set
// of recurring weekdays. Exactly one of Date and Weekdays is set.
type AvailabilityWindow struct {
	ID              uuid.UUID       `json:"id"`
	DoctorID        uuid.UUID       `json:"doctor_id"`
	Type            WindowType      `json:"type"`
	Date            *Date           `json:"date,omitempty"`
	Weekdays        []string        `json:"weekdays,omitempty"`
	ConsultingStart timeofday.Clock `json:"consulting_start_time"`
	ConsultingEnd   timeofday.Clock `json:"consulting_end_time"`
	Session         string          `json:"session"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Slot is a bookable interval. BookedCount never exceeds PatientLimit.
type Slot struct {
	ID             uuid.UUID       `json:"id"`
	DoctorID       uuid.UUID       `json:"doctor_id"`
	AvailabilityID *uuid.UUID      `json:"availability_id"`
	Date           *Date           `json:"date"`
	DayOfWeek      string          `json:"day_of_week"`
	StartTime      timeofday.Clock `json:"start_time"`
	EndTime        timeofday.Clock `json:"end_time"`
	IsAvailable    bool            `json:"is_available"`
	BookedCount    int             `json:"booked_count"`
	PatientLimit   int             `json:"patient_limit"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SlotWithRelations is a slot loaded together with its doctor and, unless
// it predates availability windows, its window.
type SlotWithRelations struct {
	Slot
	Doctor *Doctor             `json:"doctor"`
	Window *AvailabilityWindow `json:"availability,omitempty"`
}

// Session returns the session label frozen onto appointments booked
// against this slot.
func (s *SlotWithRelations) Session() string {
	if s.Window == nil {
		return ""
	}
	return s.Window.Session
}

// Appointment copies Date and Session from the slot at booking time; later
// edits to the slot or window do not change them.
type Appointment struct {
	ID            uuid.UUID         `json:"id"`
	DoctorID      uuid.UUID         `json:"doctor_id"`
	PatientID     uuid.UUID         `json:"patient_id"`
	SlotID        *uuid.UUID        `json:"slot_id"`
	Date          *Date             `json:"date"`
	Session       string            `json:"session"`
	ReportingTime timeofday.Clock   `json:"reporting_time"`
	Status        AppointmentStatus `json:"status"`
	Reason        *string           `json:"reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type AppointmentWithRelations struct {
	Appointment
	Doctor  *Doctor  `json:"doctor"`
	Patient *Patient `json:"patient"`
	Slot    *Slot    `json:"slot,omitempty"`
}

type DoctorFilter struct {
	Name           string
	Specialization string
}

type AvailabilityResult struct {
	Message string              `json:"message"`
	Window  *AvailabilityWindow `json:"availability"`
	Slots   []*Slot             `json:"slots"`
}

type CancelResult struct {
	Message string `json:"message"`
}
