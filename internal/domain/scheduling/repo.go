package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// Transactor runs fn inside one database transaction carried by ctx.
// Repositories called with that ctx join the transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Lookups of a single row return db.ErrNotFound or pgx.ErrNoRows when the
// row does not exist; callers test with db.IsNoRows.

type DoctorRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByUserID(ctx context.Context, userID string) (*Doctor, error)
	UpdateScheduleConfig(ctx context.Context, d *Doctor) error
	List(ctx context.Context, f DoctorFilter) ([]*Doctor, error)
}

type PatientRepository interface {
	GetByUserID(ctx context.Context, userID string) (*Patient, error)
}

type AvailabilityRepository interface {
	Create(ctx context.Context, w *AvailabilityWindow) error
	GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*AvailabilityWindow, error)
	// Delete removes the window; its slots go with it.
	Delete(ctx context.Context, id uuid.UUID) error
}

type SlotRepository interface {
	Create(ctx context.Context, s *Slot) error
	CreateBatch(ctx context.Context, slots []*Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// GetWithRelations loads the slot with its doctor and window.
	GetWithRelations(ctx context.Context, id uuid.UUID) (*SlotWithRelations, error)
	// LockByID takes an exclusive row lock on the slot for the rest of the
	// transaction. It reads no columns.
	LockByID(ctx context.Context, id uuid.UUID) error
	// LockByAvailability locks every slot of the window in id order and
	// returns them as read under the lock.
	LockByAvailability(ctx context.Context, availabilityID uuid.UUID) ([]*Slot, error)
	UpdateOccupancy(ctx context.Context, s *Slot) error
	UpdateTimes(ctx context.Context, s *Slot) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListOpen returns available slots of a doctor dated from onward, plus
	// undated recurring slots, ordered by date then start time.
	ListOpen(ctx context.Context, doctorID uuid.UUID, from Date, limit, offset int) ([]*Slot, int, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	// LockByID reads the appointment under an exclusive row lock.
	LockByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetWithRelations(ctx context.Context, id uuid.UUID) (*AppointmentWithRelations, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) error
	// HasActiveInSession reports whether the patient holds a non-cancelled
	// appointment with the doctor on date (nil matches nil) in session.
	HasActiveInSession(ctx context.Context, patientID, doctorID uuid.UUID, date *Date, session string) (bool, error)
	ListUpcomingByPatient(ctx context.Context, patientID uuid.UUID, from Date) ([]*AppointmentWithRelations, error)
	ListUpcomingByDoctor(ctx context.Context, doctorID uuid.UUID, from Date) ([]*AppointmentWithRelations, error)
}
