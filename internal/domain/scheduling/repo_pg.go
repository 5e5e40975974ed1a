package scheduling

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/clinic/booking/internal/platform/db"
	"github.com/clinic/booking/pkg/timeofday"
)

// columns renders a column list, optionally qualified by a table alias.
func columns(alias string, cols []string) string {
	if alias == "" {
		return strings.Join(cols, ", ")
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

func parseClock(s string) (timeofday.Clock, error) {
	c, err := timeofday.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("stored time of day: %w", err)
	}
	return c, nil
}

// =========== Doctor Repository ===========

var doctorCols = []string{"id", "user_id", "first_name", "last_name", "specialization",
	"schedule_type", "slot_duration", "consulting_time", "wave_limit",
	"booking_start_time", "booking_end_time", "created_at", "updated_at"}

func doctorDest(d *Doctor) []any {
	return []any{&d.ID, &d.UserID, &d.FirstName, &d.LastName, &d.Specialization,
		&d.ScheduleType, &d.SlotDuration, &d.ConsultingTime, &d.WaveLimit,
		&d.BookingStartTime, &d.BookingEndTime, &d.CreatedAt, &d.UpdatedAt}
}

type doctorRepoPG struct{ pool db.Querier }

func NewDoctorRepoPG(pool db.Querier) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *doctorRepoPG) getBy(ctx context.Context, column string, arg any) (*Doctor, error) {
	var d Doctor
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+columns("", doctorCols)+` FROM doctors WHERE `+column+` = $1`, arg).Scan(doctorDest(&d)...)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return r.getBy(ctx, "id", id)
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID string) (*Doctor, error) {
	return r.getBy(ctx, "user_id", userID)
}

func (r *doctorRepoPG) UpdateScheduleConfig(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctors SET schedule_type=$2, slot_duration=$3, consulting_time=$4, wave_limit=$5,
			booking_start_time=$6, booking_end_time=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.ScheduleType, d.SlotDuration, d.ConsultingTime, d.WaveLimit,
		d.BookingStartTime, d.BookingEndTime).Scan(&d.UpdatedAt)
	return err
}

func (r *doctorRepoPG) List(ctx context.Context, f DoctorFilter) ([]*Doctor, error) {
	query := `SELECT ` + columns("", doctorCols) + ` FROM doctors WHERE 1=1`
	var args []any
	idx := 1

	if f.Name != "" {
		query += fmt.Sprintf(` AND (first_name || ' ' || last_name) ILIKE $%d`, idx)
		args = append(args, "%"+f.Name+"%")
		idx++
	}
	if f.Specialization != "" {
		query += fmt.Sprintf(` AND specialization ILIKE $%d`, idx)
		args = append(args, "%"+f.Specialization+"%")
	}
	query += ` ORDER BY last_name, first_name, id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(doctorDest(&d)...); err != nil {
			return nil, err
		}
		items = append(items, &d)
	}
	return items, rows.Err()
}

// =========== Patient Repository ===========

var patientCols = []string{"id", "user_id", "first_name", "last_name", "created_at", "updated_at"}

func patientDest(p *Patient) []any {
	return []any{&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.CreatedAt, &p.UpdatedAt}
}

type patientRepoPG struct{ pool db.Querier }

func NewPatientRepoPG(pool db.Querier) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID string) (*Patient, error) {
	var p Patient
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+columns("", patientCols)+` FROM patients WHERE user_id = $1`, userID).Scan(patientDest(&p)...)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// =========== Availability Repository ===========

var windowCols = []string{"id", "doctor_id", "type", "date", "weekdays",
	"consulting_start_time", "consulting_end_time", "session", "created_at", "updated_at"}

// windowRecord holds the columns that need conversion after Scan.
type windowRecord struct {
	w          AvailabilityWindow
	date       pgtype.Date
	start, end string
}

func (rec *windowRecord) dest() []any {
	w := &rec.w
	return []any{&w.ID, &w.DoctorID, &w.Type, &rec.date, &w.Weekdays,
		&rec.start, &rec.end, &w.Session, &w.CreatedAt, &w.UpdatedAt}
}

func (rec *windowRecord) window() (*AvailabilityWindow, error) {
	w := rec.w
	var err error
	if w.ConsultingStart, err = parseClock(rec.start); err != nil {
		return nil, err
	}
	if w.ConsultingEnd, err = parseClock(rec.end); err != nil {
		return nil, err
	}
	w.Date = dateFromPG(rec.date)
	return &w, nil
}

type availabilityRepoPG struct{ pool db.Querier }

func NewAvailabilityRepoPG(pool db.Querier) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

func (r *availabilityRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *availabilityRepoPG) Create(ctx context.Context, w *AvailabilityWindow) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	var weekdays []string
	if len(w.Weekdays) > 0 {
		weekdays = w.Weekdays
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_availabilities (id, doctor_id, type, date, weekdays,
			consulting_start_time, consulting_end_time, session)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		w.ID, w.DoctorID, w.Type, dateToPG(w.Date), weekdays,
		w.ConsultingStart.String(), w.ConsultingEnd.String(), w.Session,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
}

func (r *availabilityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	var rec windowRecord
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+columns("", windowCols)+` FROM doctor_availabilities WHERE id = $1`, id).Scan(rec.dest()...)
	if err != nil {
		return nil, err
	}
	return rec.window()
}

func (r *availabilityRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*AvailabilityWindow, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+columns("", windowCols)+` FROM doctor_availabilities
		WHERE doctor_id = $1
		ORDER BY date NULLS LAST, consulting_start_time, id`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AvailabilityWindow
	for rows.Next() {
		var rec windowRecord
		if err := rows.Scan(rec.dest()...); err != nil {
			return nil, err
		}
		w, err := rec.window()
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

func (r *availabilityRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_availabilities WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// =========== Slot Repository ===========

var slotCols = []string{"id", "doctor_id", "availability_id", "date", "day_of_week",
	"start_time", "end_time", "is_available", "booked_count", "patient_limit",
	"created_at", "updated_at"}

type slotRecord struct {
	s          Slot
	date       pgtype.Date
	start, end string
}

func (rec *slotRecord) dest() []any {
	s := &rec.s
	return []any{&s.ID, &s.DoctorID, &s.AvailabilityID, &rec.date, &s.DayOfWeek,
		&rec.start, &rec.end, &s.IsAvailable, &s.BookedCount, &s.PatientLimit,
		&s.CreatedAt, &s.UpdatedAt}
}

func (rec *slotRecord) slot() (*Slot, error) {
	s := rec.s
	var err error
	if s.StartTime, err = parseClock(rec.start); err != nil {
		return nil, err
	}
	if s.EndTime, err = parseClock(rec.end); err != nil {
		return nil, err
	}
	s.Date = dateFromPG(rec.date)
	return &s, nil
}

func collectSlots(rows pgx.Rows) ([]*Slot, error) {
	defer rows.Close()
	var items []*Slot
	for rows.Next() {
		var rec slotRecord
		if err := rows.Scan(rec.dest()...); err != nil {
			return nil, err
		}
		s, err := rec.slot()
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

type slotRepoPG struct {
	pool    db.Querier
	windows AvailabilityRepository
}

func NewSlotRepoPG(pool db.Querier) SlotRepository {
	return &slotRepoPG{pool: pool, windows: NewAvailabilityRepoPG(pool)}
}

func (r *slotRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const insertSlotSQL = `
	INSERT INTO doctor_time_slots (id, doctor_id, availability_id, date, day_of_week,
		start_time, end_time, is_available, booked_count, patient_limit)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	RETURNING created_at, updated_at`

func slotArgs(s *Slot) []any {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return []any{s.ID, s.DoctorID, s.AvailabilityID, dateToPG(s.Date), s.DayOfWeek,
		s.StartTime.String(), s.EndTime.String(), s.IsAvailable, s.BookedCount, s.PatientLimit}
}

func (r *slotRepoPG) Create(ctx context.Context, s *Slot) error {
	return r.conn(ctx).QueryRow(ctx, insertSlotSQL, slotArgs(s)...).Scan(&s.CreatedAt, &s.UpdatedAt)
}

// CreateBatch inserts all slots in one round trip.
func (r *slotRepoPG) CreateBatch(ctx context.Context, slots []*Slot) error {
	if len(slots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range slots {
		batch.Queue(insertSlotSQL, slotArgs(s)...)
	}
	br := r.conn(ctx).SendBatch(ctx, batch)
	for _, s := range slots {
		if err := br.QueryRow().Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert slot %s-%s: %w", s.StartTime, s.EndTime, err)
		}
	}
	return br.Close()
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	var rec slotRecord
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+columns("", slotCols)+` FROM doctor_time_slots WHERE id = $1`, id).Scan(rec.dest()...)
	if err != nil {
		return nil, err
	}
	return rec.slot()
}

func (r *slotRepoPG) GetWithRelations(ctx context.Context, id uuid.UUID) (*SlotWithRelations, error) {
	var rec slotRecord
	var doc Doctor
	dest := append(rec.dest(), doctorDest(&doc)...)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT `+columns("s", slotCols)+`, `+columns("d", doctorCols)+`
		FROM doctor_time_slots s
		JOIN doctors d ON d.id = s.doctor_id
		WHERE s.id = $1`, id).Scan(dest...)
	if err != nil {
		return nil, err
	}
	s, err := rec.slot()
	if err != nil {
		return nil, err
	}
	out := &SlotWithRelations{Slot: *s, Doctor: &doc}
	if s.AvailabilityID != nil {
		w, err := r.windows.GetByID(ctx, *s.AvailabilityID)
		if err != nil {
			return nil, fmt.Errorf("load availability %s: %w", *s.AvailabilityID, err)
		}
		out.Window = w
	}
	return out, nil
}

func (r *slotRepoPG) LockByID(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	return r.conn(ctx).QueryRow(ctx,
		`SELECT id FROM doctor_time_slots WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
}

func (r *slotRepoPG) LockByAvailability(ctx context.Context, availabilityID uuid.UUID) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+columns("", slotCols)+` FROM doctor_time_slots
		WHERE availability_id = $1
		ORDER BY id
		FOR UPDATE`, availabilityID)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *slotRepoPG) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *slotRepoPG) UpdateOccupancy(ctx context.Context, s *Slot) error {
	return r.exec(ctx, `UPDATE doctor_time_slots SET booked_count=$2, is_available=$3, updated_at=NOW()
		WHERE id = $1`, s.ID, s.BookedCount, s.IsAvailable)
}

func (r *slotRepoPG) UpdateTimes(ctx context.Context, s *Slot) error {
	return r.exec(ctx, `UPDATE doctor_time_slots SET start_time=$2, end_time=$3, updated_at=NOW()
		WHERE id = $1`, s.ID, s.StartTime.String(), s.EndTime.String())
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `DELETE FROM doctor_time_slots WHERE id = $1`, id)
}

func (r *slotRepoPG) ListOpen(ctx context.Context, doctorID uuid.UUID, from Date, limit, offset int) ([]*Slot, int, error) {
	const where = ` FROM doctor_time_slots
		WHERE doctor_id = $1 AND is_available AND (date IS NULL OR date >= $2)`
	fromPG := dateToPG(&from)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+where, doctorID, fromPG).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+columns("", slotCols)+where+`
		ORDER BY date NULLS LAST, start_time, id
		LIMIT $3 OFFSET $4`, doctorID, fromPG, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectSlots(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// =========== Appointment Repository ===========

var appointmentCols = []string{"id", "doctor_id", "patient_id", "slot_id", "date", "session",
	"reporting_time", "status", "reason", "created_at", "updated_at"}

type appointmentRecord struct {
	a             Appointment
	date          pgtype.Date
	reportingTime string
}

func (rec *appointmentRecord) dest() []any {
	a := &rec.a
	return []any{&a.ID, &a.DoctorID, &a.PatientID, &a.SlotID, &rec.date, &a.Session,
		&rec.reportingTime, &a.Status, &a.Reason, &a.CreatedAt, &a.UpdatedAt}
}

func (rec *appointmentRecord) appointment() (*Appointment, error) {
	a := rec.a
	var err error
	if a.ReportingTime, err = parseClock(rec.reportingTime); err != nil {
		return nil, err
	}
	a.Date = dateFromPG(rec.date)
	return &a, nil
}

type appointmentRepoPG struct {
	pool  db.Querier
	slots SlotRepository
}

func NewAppointmentRepoPG(pool db.Querier) AppointmentRepository {
	return &appointmentRepoPG{pool: pool, slots: NewSlotRepoPG(pool)}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, slot_id, date, session,
			reporting_time, status, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		a.ID, a.DoctorID, a.PatientID, a.SlotID, dateToPG(a.Date), a.Session,
		a.ReportingTime.String(), a.Status, a.Reason,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) LockByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var rec appointmentRecord
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+columns("", appointmentCols)+` FROM appointments WHERE id = $1 FOR UPDATE`, id).Scan(rec.dest()...)
	if err != nil {
		return nil, err
	}
	return rec.appointment()
}

const appointmentJoin = ` FROM appointments a
	JOIN doctors d ON d.id = a.doctor_id
	JOIN patients p ON p.id = a.patient_id`

var appointmentWithPartiesCols = columns("a", appointmentCols) + ", " +
	columns("d", doctorCols) + ", " + columns("p", patientCols)

func scanAppointmentWithParties(row pgx.Row) (*AppointmentWithRelations, error) {
	var rec appointmentRecord
	var doc Doctor
	var pat Patient
	dest := append(rec.dest(), doctorDest(&doc)...)
	dest = append(dest, patientDest(&pat)...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	a, err := rec.appointment()
	if err != nil {
		return nil, err
	}
	return &AppointmentWithRelations{Appointment: *a, Doctor: &doc, Patient: &pat}, nil
}

func (r *appointmentRepoPG) GetWithRelations(ctx context.Context, id uuid.UUID) (*AppointmentWithRelations, error) {
	out, err := scanAppointmentWithParties(r.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentWithPartiesCols+appointmentJoin+` WHERE a.id = $1`, id))
	if err != nil {
		return nil, err
	}
	if out.SlotID != nil {
		slot, err := r.slots.GetByID(ctx, *out.SlotID)
		if err != nil && !db.IsNoRows(err) {
			return nil, fmt.Errorf("load slot %s: %w", *out.SlotID, err)
		}
		out.Slot = slot
	}
	return out, nil
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointments SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) HasActiveInSession(ctx context.Context, patientID, doctorID uuid.UUID, date *Date, session string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE patient_id = $1 AND doctor_id = $2
				AND date IS NOT DISTINCT FROM $3
				AND session = $4
				AND status <> 'cancelled'
		)`, patientID, doctorID, dateToPG(date), session).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) listUpcoming(ctx context.Context, column string, id uuid.UUID, from Date) ([]*AppointmentWithRelations, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+appointmentWithPartiesCols+appointmentJoin+`
		WHERE a.`+column+` = $1 AND (a.date IS NULL OR a.date >= $2)
		ORDER BY a.date NULLS LAST, a.reporting_time, a.id`, id, dateToPG(&from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AppointmentWithRelations
	for rows.Next() {
		item, err := scanAppointmentWithParties(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) ListUpcomingByPatient(ctx context.Context, patientID uuid.UUID, from Date) ([]*AppointmentWithRelations, error) {
	return r.listUpcoming(ctx, "patient_id", patientID, from)
}

func (r *appointmentRepoPG) ListUpcomingByDoctor(ctx context.Context, doctorID uuid.UUID, from Date) ([]*AppointmentWithRelations, error) {
	return r.listUpcoming(ctx, "doctor_id", doctorID, from)
}
