package scheduling

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/booking/internal/platform/db"
	"github.com/clinic/booking/internal/platform/events"
)

// -- In-memory store --
//
// memStore behaves like the Postgres schema for the purposes of the
// service: rows are copied in and out, LockBy* take exclusive per-row locks
// held until the surrounding transaction ends, and a failed transaction
// undoes its writes.

type memStore struct {
	mu       sync.Mutex
	doctors  map[uuid.UUID]*Doctor
	patients map[uuid.UUID]*Patient
	windows  map[uuid.UUID]*AvailabilityWindow
	slots    map[uuid.UUID]*Slot
	appts    map[uuid.UUID]*Appointment
	rowLocks map[uuid.UUID]*sync.Mutex

	// failCreateAppointment makes Appointments.Create fail once set.
	failCreateAppointment error
}

func newMemStore() *memStore {
	return &memStore{
		doctors:  make(map[uuid.UUID]*Doctor),
		patients: make(map[uuid.UUID]*Patient),
		windows:  make(map[uuid.UUID]*AvailabilityWindow),
		slots:    make(map[uuid.UUID]*Slot),
		appts:    make(map[uuid.UUID]*Appointment),
		rowLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *memStore) repositories() Repositories {
	return Repositories{
		Doctors:      memDoctors{m},
		Patients:     memPatients{m},
		Availability: memWindows{m},
		Slots:        memSlots{m},
		Appointments: memAppointments{m},
	}
}

type memTx struct {
	held map[uuid.UUID]*sync.Mutex
	undo []func()
}

type memTxKey struct{}

func txOf(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txOf(ctx) != nil {
		return fn(ctx)
	}
	tx := &memTx{held: make(map[uuid.UUID]*sync.Mutex)}
	defer func() {
		if p := recover(); p != nil {
			m.rollback(tx)
			panic(p)
		}
		if err != nil {
			m.rollback(tx)
		}
		for _, l := range tx.held {
			l.Unlock()
		}
	}()
	return fn(context.WithValue(ctx, memTxKey{}, tx))
}

func (m *memStore) rollback(tx *memTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

// lockRow blocks until the row lock is free. Outside a transaction it is a
// no-op, matching FOR UPDATE in autocommit mode.
func (m *memStore) lockRow(ctx context.Context, id uuid.UUID) {
	tx := txOf(ctx)
	if tx == nil {
		return
	}
	if _, ok := tx.held[id]; ok {
		return
	}
	m.mu.Lock()
	l, ok := m.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.rowLocks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	tx.held[id] = l
}

// record registers an undo step. Callers hold m.mu.
func (m *memStore) record(ctx context.Context, fn func()) {
	if tx := txOf(ctx); tx != nil {
		tx.undo = append(tx.undo, fn)
	}
}

func putRow[T any](m *memStore, ctx context.Context, rows map[uuid.UUID]*T, id uuid.UUID, row *T) {
	prev, existed := rows[id]
	m.record(ctx, func() {
		if existed {
			rows[id] = prev
		} else {
			delete(rows, id)
		}
	})
	rows[id] = row
}

func deleteRow[T any](m *memStore, ctx context.Context, rows map[uuid.UUID]*T, id uuid.UUID) {
	prev, existed := rows[id]
	if !existed {
		return
	}
	m.record(ctx, func() { rows[id] = prev })
	delete(rows, id)
}

func copyOf[T any](v *T) *T {
	c := *v
	return &c
}

// snapshot reads a slot outside any transaction, for assertions.
func (m *memStore) slot(id uuid.UUID) *Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[id]; ok {
		return copyOf(s)
	}
	return nil
}

func (m *memStore) appointment(id uuid.UUID) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.appts[id]; ok {
		return copyOf(a)
	}
	return nil
}

func (m *memStore) appointmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appts)
}

// -- seeding --

func (m *memStore) addDoctor(d *Doctor) *Doctor {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.UserID == "" {
		d.UserID = "doc-" + d.ID.String()[:8]
	}
	if d.ScheduleType == "" {
		d.ScheduleType = ScheduleStream
	}
	if d.SlotDuration == 0 {
		d.SlotDuration = 10
	}
	if d.ConsultingTime == 0 {
		d.ConsultingTime = 10
	}
	if d.WaveLimit == 0 {
		d.WaveLimit = 3
	}
	m.mu.Lock()
	m.doctors[d.ID] = copyOf(d)
	m.mu.Unlock()
	return d
}

func (m *memStore) addPatient(userID string) *Patient {
	p := &Patient{ID: uuid.New(), UserID: userID, FirstName: "Pat", LastName: userID}
	m.mu.Lock()
	m.patients[p.ID] = copyOf(p)
	m.mu.Unlock()
	return p
}

func (m *memStore) addWindow(w *AvailabilityWindow) *AvailabilityWindow {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	m.mu.Lock()
	m.windows[w.ID] = copyOf(w)
	m.mu.Unlock()
	return w
}

func (m *memStore) addSlot(s *Slot) *Slot {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.mu.Lock()
	m.slots[s.ID] = copyOf(s)
	m.mu.Unlock()
	return s
}

func (m *memStore) setStatus(id uuid.UUID, st AppointmentStatus) {
	m.mu.Lock()
	m.appts[id].Status = st
	m.mu.Unlock()
}

// -- Doctors --

type memDoctors struct{ m *memStore }

func (r memDoctors) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.doctors[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return copyOf(d), nil
}

func (r memDoctors) GetByUserID(_ context.Context, userID string) (*Doctor, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, d := range r.m.doctors {
		if d.UserID == userID {
			return copyOf(d), nil
		}
	}
	return nil, db.ErrNotFound
}

func (r memDoctors) UpdateScheduleConfig(ctx context.Context, d *Doctor) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.doctors[d.ID]; !ok {
		return db.ErrNotFound
	}
	d.UpdatedAt = time.Now()
	putRow(r.m, ctx, r.m.doctors, d.ID, copyOf(d))
	return nil
}

func (r memDoctors) List(_ context.Context, f DoctorFilter) ([]*Doctor, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*Doctor
	for _, d := range r.m.doctors {
		if f.Name != "" && !containsFold(d.FullName(), f.Name) {
			continue
		}
		if f.Specialization != "" && !containsFold(d.Specialization, f.Specialization) {
			continue
		}
		out = append(out, copyOf(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastName < out[j].LastName })
	return out, nil
}

func containsFold(s, sub string) bool {
	return bytes.Contains(bytes.ToLower([]byte(s)), bytes.ToLower([]byte(sub)))
}

// -- Patients --

type memPatients struct{ m *memStore }

func (r memPatients) GetByUserID(_ context.Context, userID string) (*Patient, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, p := range r.m.patients {
		if p.UserID == userID {
			return copyOf(p), nil
		}
	}
	return nil, db.ErrNotFound
}

// -- Availability --

type memWindows struct{ m *memStore }

func (r memWindows) Create(ctx context.Context, w *AvailabilityWindow) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.CreatedAt, w.UpdatedAt = time.Now(), time.Now()
	putRow(r.m, ctx, r.m.windows, w.ID, copyOf(w))
	return nil
}

func (r memWindows) GetByID(_ context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	w, ok := r.m.windows[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return copyOf(w), nil
}

func (r memWindows) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*AvailabilityWindow, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*AvailabilityWindow
	for _, w := range r.m.windows {
		if w.DoctorID == doctorID {
			out = append(out, copyOf(w))
		}
	}
	return out, nil
}

func (r memWindows) Delete(ctx context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.windows[id]; !ok {
		return db.ErrNotFound
	}
	deleteRow(r.m, ctx, r.m.windows, id)
	for sid, s := range r.m.slots {
		if s.AvailabilityID != nil && *s.AvailabilityID == id {
			r.m.deleteSlotLocked(ctx, sid)
		}
	}
	return nil
}

// deleteSlotLocked removes a slot and detaches its appointments, as the
// ON DELETE SET NULL foreign key does. Callers hold m.mu.
func (m *memStore) deleteSlotLocked(ctx context.Context, id uuid.UUID) {
	deleteRow(m, ctx, m.slots, id)
	for aid, a := range m.appts {
		if a.SlotID != nil && *a.SlotID == id {
			detached := copyOf(a)
			detached.SlotID = nil
			putRow(m, ctx, m.appts, aid, detached)
		}
	}
}

// -- Slots --

type memSlots struct{ m *memStore }

func (r memSlots) Create(ctx context.Context, s *Slot) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt, s.UpdatedAt = time.Now(), time.Now()
	putRow(r.m, ctx, r.m.slots, s.ID, copyOf(s))
	return nil
}

func (r memSlots) CreateBatch(ctx context.Context, slots []*Slot) error {
	for _, s := range slots {
		if err := r.Create(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r memSlots) GetByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.slots[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return copyOf(s), nil
}

func (r memSlots) GetWithRelations(_ context.Context, id uuid.UUID) (*SlotWithRelations, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.slots[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	d, ok := r.m.doctors[s.DoctorID]
	if !ok {
		return nil, db.ErrNotFound
	}
	out := &SlotWithRelations{Slot: *s, Doctor: copyOf(d)}
	if s.AvailabilityID != nil {
		if w, ok := r.m.windows[*s.AvailabilityID]; ok {
			out.Window = copyOf(w)
		}
	}
	return out, nil
}

func (r memSlots) LockByID(ctx context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	_, ok := r.m.slots[id]
	r.m.mu.Unlock()
	if !ok {
		return db.ErrNotFound
	}
	r.m.lockRow(ctx, id)
	return nil
}

func (r memSlots) LockByAvailability(ctx context.Context, availabilityID uuid.UUID) ([]*Slot, error) {
	r.m.mu.Lock()
	var ids []uuid.UUID
	for id, s := range r.m.slots {
		if s.AvailabilityID != nil && *s.AvailabilityID == availabilityID {
			ids = append(ids, id)
		}
	}
	r.m.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	for _, id := range ids {
		r.m.lockRow(ctx, id)
	}

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*Slot
	for _, id := range ids {
		if s, ok := r.m.slots[id]; ok {
			out = append(out, copyOf(s))
		}
	}
	return out, nil
}

func (r memSlots) update(ctx context.Context, id uuid.UUID, mutate func(*Slot)) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.slots[id]
	if !ok {
		return db.ErrNotFound
	}
	next := copyOf(cur)
	mutate(next)
	if next.BookedCount < 0 || next.BookedCount > next.PatientLimit {
		return errors.New("check constraint: booked_count out of range")
	}
	next.UpdatedAt = time.Now()
	putRow(r.m, ctx, r.m.slots, id, next)
	return nil
}

func (r memSlots) UpdateOccupancy(ctx context.Context, s *Slot) error {
	return r.update(ctx, s.ID, func(n *Slot) {
		n.BookedCount, n.IsAvailable = s.BookedCount, s.IsAvailable
	})
}

func (r memSlots) UpdateTimes(ctx context.Context, s *Slot) error {
	return r.update(ctx, s.ID, func(n *Slot) {
		n.StartTime, n.EndTime = s.StartTime, s.EndTime
	})
}

func (r memSlots) Delete(ctx context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.slots[id]; !ok {
		return db.ErrNotFound
	}
	r.m.deleteSlotLocked(ctx, id)
	return nil
}

func (r memSlots) ListOpen(_ context.Context, doctorID uuid.UUID, from Date, limit, offset int) ([]*Slot, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var all []*Slot
	for _, s := range r.m.slots {
		if s.DoctorID != doctorID || !s.IsAvailable {
			continue
		}
		if s.Date != nil && s.Date.Before(from) {
			continue
		}
		all = append(all, copyOf(s))
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !sameDate(a.Date, b.Date) {
			if a.Date == nil || b.Date == nil {
				return b.Date == nil
			}
			return a.Date.Before(*b.Date)
		}
		return a.StartTime < b.StartTime
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// -- Appointments --

type memAppointments struct{ m *memStore }

func (r memAppointments) Create(ctx context.Context, a *Appointment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failCreateAppointment != nil {
		return r.m.failCreateAppointment
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt, a.UpdatedAt = time.Now(), time.Now()
	putRow(r.m, ctx, r.m.appts, a.ID, copyOf(a))
	return nil
}

func (r memAppointments) LockByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.m.mu.Lock()
	_, ok := r.m.appts[id]
	r.m.mu.Unlock()
	if !ok {
		return nil, db.ErrNotFound
	}
	r.m.lockRow(ctx, id)

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.appts[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return copyOf(a), nil
}

func (r memAppointments) GetWithRelations(_ context.Context, id uuid.UUID) (*AppointmentWithRelations, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.withRelationsLocked(id)
}

func (m *memStore) withRelationsLocked(id uuid.UUID) (*AppointmentWithRelations, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	d, okD := m.doctors[a.DoctorID]
	p, okP := m.patients[a.PatientID]
	if !okD || !okP {
		return nil, db.ErrNotFound
	}
	out := &AppointmentWithRelations{Appointment: *a, Doctor: copyOf(d), Patient: copyOf(p)}
	if a.SlotID != nil {
		if s, ok := m.slots[*a.SlotID]; ok {
			out.Slot = copyOf(s)
		}
	}
	return out, nil
}

func (r memAppointments) UpdateStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.appts[id]
	if !ok {
		return db.ErrNotFound
	}
	next := copyOf(cur)
	next.Status = status
	putRow(r.m, ctx, r.m.appts, id, next)
	return nil
}

func (r memAppointments) HasActiveInSession(_ context.Context, patientID, doctorID uuid.UUID, date *Date, session string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.appts {
		if a.PatientID == patientID && a.DoctorID == doctorID && a.Session == session &&
			sameDate(a.Date, date) && a.Status != StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (r memAppointments) listUpcoming(match func(*Appointment) bool, from Date) []*AppointmentWithRelations {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*AppointmentWithRelations
	for id, a := range r.m.appts {
		if !match(a) || (a.Date != nil && a.Date.Before(from)) {
			continue
		}
		if rel, err := r.m.withRelationsLocked(id); err == nil {
			rel.Slot = nil
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportingTime < out[j].ReportingTime })
	return out
}

func (r memAppointments) ListUpcomingByPatient(_ context.Context, patientID uuid.UUID, from Date) ([]*AppointmentWithRelations, error) {
	return r.listUpcoming(func(a *Appointment) bool { return a.PatientID == patientID }, from), nil
}

func (r memAppointments) ListUpcomingByDoctor(_ context.Context, doctorID uuid.UUID, from Date) ([]*AppointmentWithRelations, error) {
	return r.listUpcoming(func(a *Appointment) bool { return a.DoctorID == doctorID }, from), nil
}

// -- Publisher --

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}
