package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/internal/platform/db"
	"github.com/clinic/booking/internal/platform/events"
	"github.com/clinic/booking/pkg/apperrors"
	"github.com/clinic/booking/pkg/pagination"
	"github.com/clinic/booking/pkg/timeofday"
)

const publishTimeout = 5 * time.Second

// Repositories bundles the stores the service depends on.
type Repositories struct {
	Doctors      DoctorRepository
	Patients     PatientRepository
	Availability AvailabilityRepository
	Slots        SlotRepository
	Appointments AppointmentRepository
}

// NewPGRepositories wires the Postgres implementations on one pool.
func NewPGRepositories(pool db.Querier) Repositories {
	return Repositories{
		Doctors:      NewDoctorRepoPG(pool),
		Patients:     NewPatientRepoPG(pool),
		Availability: NewAvailabilityRepoPG(pool),
		Slots:        NewSlotRepoPG(pool),
		Appointments: NewAppointmentRepoPG(pool),
	}
}

type Service struct {
	tx           Transactor
	doctors      DoctorRepository
	patients     PatientRepository
	windows      AvailabilityRepository
	slots        SlotRepository
	appointments AppointmentRepository

	publisher events.Publisher
	validator *Validator
	logger    zerolog.Logger
	now       func() time.Time
	loc       *time.Location
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithValidator(v *Validator) Option { return func(s *Service) { s.validator = v } }

// WithClock replaces the wall clock used for the booking window and "today".
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLocation sets the clinic's reference time zone.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func NewService(tx Transactor, repos Repositories, opts ...Option) *Service {
	s := &Service{
		tx:           tx,
		doctors:      repos.Doctors,
		patients:     repos.Patients,
		windows:      repos.Availability,
		slots:        repos.Slots,
		appointments: repos.Appointments,
		publisher:    events.NopPublisher{},
		logger:       zerolog.Nop(),
		now:          time.Now,
		loc:          time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		s.validator = NewValidator()
	}
	return s
}

// clinicNow is the current wall-clock time in the clinic's zone.
func (s *Service) clinicNow() time.Time { return s.now().In(s.loc) }

func (s *Service) today() Date { return DateOf(s.clinicNow()) }

// lookupErr maps a single-row lookup failure to NotFound or a classified
// persistence error. id may be empty.
func lookupErr(err error, resource, id string) error {
	if db.IsNoRows(err) {
		if id == "" {
			return apperrors.NotFound(resource)
		}
		return apperrors.NotFoundWithID(resource, id)
	}
	return db.Classify(err, "failed to load "+strings.ToLower(resource))
}

// doctorFor resolves the doctor profile of a caller holding the doctor role.
func (s *Service) doctorFor(ctx context.Context, id auth.Identity) (*Doctor, error) {
	if !id.IsDoctor() {
		return nil, apperrors.Forbidden("this action is restricted to doctors")
	}
	d, err := s.doctors.GetByUserID(ctx, id.UserID)
	if err != nil {
		return nil, lookupErr(err, "Doctor profile", "")
	}
	return d, nil
}

func (s *Service) patientFor(ctx context.Context, id auth.Identity) (*Patient, error) {
	if !id.IsPatient() {
		return nil, apperrors.Forbidden("this action is restricted to patients")
	}
	p, err := s.patients.GetByUserID(ctx, id.UserID)
	if err != nil {
		return nil, lookupErr(err, "Patient profile", "")
	}
	return p, nil
}

// logFailure records a rejected or failed operation. Business rule
// rejections are expected traffic and stay at debug level.
func (s *Service) logFailure(err error, op string) {
	ev := s.logger.Debug()
	if apperrors.Is(err, apperrors.KindInternal) {
		ev = s.logger.Error()
	}
	ev.Err(err).Str("op", op).Str("kind", string(apperrors.KindOf(err))).Msg("scheduling operation rejected")
}

// publish delivers e after the transaction has committed. Failures are
// logged and never undo the committed change.
func (s *Service) publish(ctx context.Context, e events.Event) {
	e.ID = uuid.New()
	e.OccurredAt = s.now().UTC()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn().Err(err).
			Str("event_type", string(e.Type)).
			Str("appointment_id", e.AppointmentID.String()).
			Msg("failed to publish appointment event")
	}
}

func appointmentEvent(t events.Type, a *Appointment, slot *Slot) events.Event {
	e := events.Event{
		Type:          t,
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		Status:        string(a.Status),
		Session:       a.Session,
		ReportingTime: a.ReportingTime.String(),
	}
	if a.Date != nil {
		e.Date = a.Date.String()
	}
	if slot != nil {
		e.SlotID = slot.ID
		e.BookedCount = slot.BookedCount
	}
	return e
}

// -- Doctor profile --

// UpdateScheduleConfig applies a partial update to the caller's scheduling
// profile. Existing slots keep the capacity they were created with.
func (s *Service) UpdateScheduleConfig(ctx context.Context, id auth.Identity, in ScheduleConfigInput) (*Doctor, error) {
	if !id.IsDoctor() {
		return nil, apperrors.Forbidden("this action is restricted to doctors")
	}
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}

	var doctor *Doctor
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.doctorFor(ctx, id)
		if err != nil {
			return err
		}
		if in.ScheduleType != nil {
			d.ScheduleType = ScheduleType(*in.ScheduleType)
		}
		if in.SlotDuration != nil {
			d.SlotDuration = *in.SlotDuration
		}
		if in.ConsultingTime != nil {
			d.ConsultingTime = *in.ConsultingTime
		}
		if in.WaveLimit != nil {
			d.WaveLimit = *in.WaveLimit
		}
		if in.BookingStartTime != nil {
			d.BookingStartTime = canonicalBookingTime(*in.BookingStartTime)
		}
		if in.BookingEndTime != nil {
			d.BookingEndTime = canonicalBookingTime(*in.BookingEndTime)
		}
		if err := s.doctors.UpdateScheduleConfig(ctx, d); err != nil {
			return db.Classify(err, "failed to update schedule configuration")
		}
		doctor = d
		return nil
	})
	if err != nil {
		err = db.Classify(err, "failed to update schedule configuration")
		s.logFailure(err, "update_schedule_config")
		return nil, err
	}

	s.logger.Info().Str("doctor_id", doctor.ID.String()).
		Str("schedule_type", string(doctor.ScheduleType)).
		Int("slot_duration", doctor.SlotDuration).
		Msg("schedule configuration updated")
	return doctor, nil
}

// canonicalBookingTime zero-pads a validated HH:MM value; "" clears it.
func canonicalBookingTime(v string) *string {
	if v == "" {
		return nil
	}
	c, err := timeofday.Parse(v)
	if err != nil {
		return &v
	}
	out := c.String()
	return &out
}

func (s *Service) ListDoctors(ctx context.Context, f DoctorFilter) ([]*Doctor, error) {
	items, err := s.doctors.List(ctx, f)
	if err != nil {
		return nil, db.Classify(err, "failed to list doctors")
	}
	return items, nil
}

func (s *Service) GetDoctor(ctx context.Context, doctorID uuid.UUID) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, doctorID)
	if err != nil {
		return nil, lookupErr(err, "Doctor", doctorID.String())
	}
	return d, nil
}

// ListOpenSlots pages through a doctor's bookable slots from today on.
func (s *Service) ListOpenSlots(ctx context.Context, doctorID uuid.UUID, p pagination.Params) ([]*Slot, int, error) {
	if _, err := s.GetDoctor(ctx, doctorID); err != nil {
		return nil, 0, err
	}
	items, total, err := s.slots.ListOpen(ctx, doctorID, s.today(), p.Limit, p.Offset)
	if err != nil {
		return nil, 0, db.Classify(err, "failed to list slots")
	}
	return items, total, nil
}

// -- Appointment views --

func (s *Service) ListPatientAppointments(ctx context.Context, id auth.Identity) ([]*AppointmentWithRelations, error) {
	p, err := s.patientFor(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.appointments.ListUpcomingByPatient(ctx, p.ID, s.today())
	if err != nil {
		return nil, db.Classify(err, "failed to list appointments")
	}
	return items, nil
}

func (s *Service) ListDoctorAppointments(ctx context.Context, id auth.Identity) ([]*AppointmentWithRelations, error) {
	d, err := s.doctorFor(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.appointments.ListUpcomingByDoctor(ctx, d.ID, s.today())
	if err != nil {
		return nil, db.Classify(err, "failed to list appointments")
	}
	return items, nil
}
