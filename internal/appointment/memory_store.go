package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/outbox"
	"github.com/hackgods/booking-engine/internal/scheduling"
)

const memoryOutboxMaxAttempts = 5

var errClientNotFound = errors.New("client not found")

type memScheduleKey struct {
	tenantID uuid.UUID
	scope    string
	weekday  time.Weekday
}

type memHolidayKey struct {
	tenantID uuid.UUID
	date     string
}

type memEvent struct {
	ev        outbox.Event
	delivered bool
	lastErr   string
}

// MemoryStore is a process-local Store. It applies the same no-overlap rule as
// the Postgres exclusion constraint, so it can stand in for the database in
// tests and single-instance demos.
type MemoryStore struct {
	mu           sync.Mutex
	schedules    map[memScheduleKey]scheduling.WorkSchedule
	holidays     map[memHolidayKey][]scheduling.Holiday
	services     map[uuid.UUID]ServiceDef
	extras       map[uuid.UUID]Extra
	clients      map[uuid.UUID]Client
	appointments map[uuid.UUID]*Appointment
	events       []*memEvent
	nextEventID  int64
	visitErr     error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedules:    make(map[memScheduleKey]scheduling.WorkSchedule),
		holidays:     make(map[memHolidayKey][]scheduling.Holiday),
		services:     make(map[uuid.UUID]ServiceDef),
		extras:       make(map[uuid.UUID]Extra),
		clients:      make(map[uuid.UUID]Client),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (m *MemoryStore) PutWorkSchedule(ws scheduling.WorkSchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[memScheduleKey{ws.TenantID, ws.Scope.String(), ws.Weekday}] = ws
}

// PutHoliday adds h to its date, replacing a holiday with the same ID.
func (m *MemoryStore) PutHoliday(h scheduling.Holiday) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memHolidayKey{h.TenantID, scheduling.DateKey(h.Date)}
	for i, existing := range m.holidays[key] {
		if existing.ID == h.ID {
			m.holidays[key][i] = h
			return
		}
	}
	m.holidays[key] = append(m.holidays[key], h)
}

func (m *MemoryStore) PutService(s ServiceDef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = s
}

func (m *MemoryStore) PutExtra(e Extra) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extras[e.ID] = e
}

func (m *MemoryStore) PutClient(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
}

func (m *MemoryStore) Client(id uuid.UUID) (Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	return c, ok
}

// FailVisitUpdates makes IncrementClientVisits return err until called with nil.
func (m *MemoryStore) FailVisitUpdates(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visitErr = err
}

// Appointments returns copies of every stored appointment ordered by date and start.
func (m *MemoryStore) Appointments() []Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Appointment, 0, len(m.appointments))
	for _, a := range m.appointments {
		out = append(out, *m.hydrate(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

// Events returns every outbox event written so far, delivered or not.
func (m *MemoryStore) Events() []outbox.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]outbox.Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.ev)
	}
	return out
}

func (m *MemoryStore) GetWorkSchedule(ctx context.Context, tenantID uuid.UUID, scope scheduling.Scope, weekday time.Weekday) (*scheduling.WorkSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.schedules[memScheduleKey{tenantID, scope.String(), weekday}]
	if !ok {
		return nil, scheduling.ErrScheduleNotFound
	}
	return &ws, nil
}

func (m *MemoryStore) ListHolidays(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]scheduling.Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]scheduling.Holiday(nil), m.holidays[memHolidayKey{tenantID, scheduling.DateKey(date)}]...), nil
}

func (m *MemoryStore) ListActiveBookings(ctx context.Context, tenantID, employeeID uuid.UUID, date time.Time, excludeID *uuid.UUID) ([]scheduling.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []scheduling.Booking
	for _, a := range m.appointments {
		if !sameDay(a, tenantID, employeeID, date) || !a.Status.Active() {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		out = append(out, scheduling.Booking{
			AppointmentID: a.ID,
			ClientName:    m.clients[a.ClientID].Name,
			Interval:      a.Interval(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interval.Start < out[j].Interval.Start })
	return out, nil
}

func (m *MemoryStore) GetService(ctx context.Context, tenantID, id uuid.UUID) (*ServiceDef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.services[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

func (m *MemoryStore) ListExtras(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Extra, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Extra
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		e, ok := m.extras[id]
		if !ok || seen[id] || e.TenantID != tenantID || !e.Active {
			continue
		}
		seen[id] = true
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) GetAppointment(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrAppointmentNotFound
	}
	return m.hydrate(a), nil
}

func (m *MemoryStore) IncrementClientVisits(ctx context.Context, tenantID, clientID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.visitErr != nil {
		return m.visitErr
	}
	c, ok := m.clients[clientID]
	if !ok || c.TenantID != tenantID {
		return errClientNotFound
	}
	now := time.Now()
	c.VisitCount++
	c.LastVisitAt = &now
	m.clients[clientID] = c
	return nil
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m, extras: make(map[uuid.UUID][]AppointmentExtra)}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// DispatchBatch lets an outbox.Relay drain the in-memory outbox.
func (m *MemoryStore) DispatchBatch(ctx context.Context, limit int, handle func(ctx context.Context, ev outbox.Event) error) (outbox.BatchResult, error) {
	m.mu.Lock()
	var due []*memEvent
	for _, e := range m.events {
		if len(due) == limit {
			break
		}
		if !e.delivered && e.ev.Attempts < memoryOutboxMaxAttempts {
			due = append(due, e)
		}
	}
	m.mu.Unlock()

	var res outbox.BatchResult
	for _, e := range due {
		err := handle(ctx, e.ev)

		m.mu.Lock()
		e.ev.Attempts++
		if err != nil {
			e.lastErr = err.Error()
			res.Failed++
		} else {
			e.delivered = true
			res.Delivered++
		}
		m.mu.Unlock()
	}
	return res, nil
}

func (m *MemoryStore) hydrate(a *Appointment) *Appointment {
	c := a.clone()
	c.ClientName = m.clients[a.ClientID].Name
	return c
}

func sameDay(a *Appointment, tenantID, employeeID uuid.UUID, date time.Time) bool {
	return a.TenantID == tenantID && a.EmployeeID == employeeID && scheduling.DateKey(a.Date) == scheduling.DateKey(date)
}

// memTx stages writes and applies them in commit. It runs with the store
// mutex held.
type memTx struct {
	store   *MemoryStore
	upserts []*Appointment
	extras  map[uuid.UUID][]AppointmentExtra
	events  []outbox.Event
}

func (tx *memTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	if _, exists := tx.store.appointments[a.ID]; exists {
		return fmt.Errorf("appointment %s already exists", a.ID)
	}
	tx.upserts = append(tx.upserts, a.clone())
	return nil
}

func (tx *memTx) UpdateAppointment(ctx context.Context, a *Appointment, readAt time.Time) error {
	existing, ok := tx.store.appointments[a.ID]
	if !ok || existing.TenantID != a.TenantID {
		return ErrAppointmentNotFound
	}
	if !existing.UpdatedAt.Equal(readAt) {
		return ErrAppointmentChanged
	}
	tx.upserts = append(tx.upserts, a.clone())
	return nil
}

func (tx *memTx) ReplaceExtras(ctx context.Context, appointmentID uuid.UUID, extras []AppointmentExtra) error {
	tx.extras[appointmentID] = append([]AppointmentExtra(nil), extras...)
	return nil
}

func (tx *memTx) InsertEvents(ctx context.Context, events ...outbox.Event) error {
	tx.events = append(tx.events, events...)
	return nil
}

func (tx *memTx) commit() error {
	m := tx.store

	for _, a := range tx.upserts {
		if !a.Status.Active() {
			continue
		}
		for _, other := range m.appointments {
			if other.ID == a.ID || !other.Status.Active() || !sameDay(other, a.TenantID, a.EmployeeID, a.Date) {
				continue
			}
			if other.Interval().Overlaps(a.Interval()) {
				return ErrBookingOverlap
			}
		}
	}

	for _, a := range tx.upserts {
		stored := a.clone()
		stored.ClientName = ""
		if prev, ok := m.appointments[a.ID]; ok {
			stored.Extras = prev.Extras
		} else {
			stored.Extras = nil
		}
		m.appointments[a.ID] = stored
	}
	for id, extras := range tx.extras {
		if a, ok := m.appointments[id]; ok {
			a.Extras = extras
		}
	}
	for _, ev := range tx.events {
		m.nextEventID++
		ev.ID = m.nextEventID
		ev.CreatedAt = time.Now()
		m.events = append(m.events, &memEvent{ev: ev})
	}
	return nil
}
