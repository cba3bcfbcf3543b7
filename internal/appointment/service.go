package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/outbox"
	redisclient "github.com/hackgods/booking-engine/internal/redis"
	"github.com/hackgods/booking-engine/internal/scheduling"
)

// Notification event types.
const (
	EventBooked      = "BOOKED"
	EventConfirmed   = "CONFIRMED"
	EventCanceled    = "CANCELED"
	EventRescheduled = "RESCHEDULED"
	EventCompleted   = "COMPLETED"
)

var statusEvents = map[Status]string{
	StatusConfirmed:   EventConfirmed,
	StatusCanceled:    EventCanceled,
	StatusRescheduled: EventRescheduled,
	StatusCompleted:   EventCompleted,
}

// SlotCache memoizes slot enumeration and is told when a day changes.
type SlotCache interface {
	GenerateSlots(ctx context.Context, q scheduling.SlotQuery) ([]scheduling.TimeSlot, error)
	Invalidate(tenantID, employeeID uuid.UUID, date time.Time)
}

type Service struct {
	store    Store
	engine   *scheduling.Engine
	locker   redisclient.Locker
	logger   *zap.Logger
	slots    SlotCache
	channels []string
	now      func() time.Time
}

func NewService(store Store, engine *scheduling.Engine, locker redisclient.Locker, cfg config.Config, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		engine:   engine,
		locker:   locker,
		logger:   logger.Named("appointment"),
		channels: cfg.NotifyChannels,
		now:      time.Now,
	}
}

// UseSlotCache routes slot lookups through c and invalidates it on every write.
func (s *Service) UseSlotCache(c SlotCache) {
	s.slots = c
}

func lockKey(tenantID, employeeID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("schedule:%s:%s:%s", tenantID, employeeID, scheduling.DateKey(date))
}

// appointmentLockKey is always taken before any schedule lock.
func appointmentLockKey(tenantID, id uuid.UUID) string {
	return fmt.Sprintf("appointment:%s:%s", tenantID, id)
}

func dateOnly(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// Create books a new appointment. The availability check and the insert run
// under the per employee-day lock so two requests cannot both pass the check.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, req CreateRequest) (*Appointment, error) {
	if tenantID == uuid.Nil || req.ClientID == uuid.Nil || req.EmployeeID == uuid.Nil || req.ServiceID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant, client, employee and service are required", ErrInvalidRequest)
	}
	if req.Date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidRequest)
	}

	svc, err := s.loadService(ctx, tenantID, req.ServiceID)
	if err != nil {
		return nil, err
	}

	duration := svc.BookedMinutes()
	end, err := req.StartTime.AddMinutes(duration)
	if err != nil {
		return nil, slotUnavailable(scheduling.ReasonOutsideHours)
	}

	now := s.now()
	appt := &Appointment{
		ID:            uuid.New(),
		TenantID:      tenantID,
		ClientID:      req.ClientID,
		EmployeeID:    req.EmployeeID,
		ServiceID:     req.ServiceID,
		Date:          dateOnly(req.Date),
		StartTime:     req.StartTime,
		EndTime:       end,
		Duration:      duration,
		Price:         svc.Price,
		Status:        StatusConfirmed,
		PaymentStatus: PaymentPending,
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if svc.RequiresConfirm {
		appt.Status = StatusPending
	} else {
		appt.ConfirmedAt = &now
	}

	appt.Extras, err = s.snapshotExtras(ctx, tenantID, appt.ID, req.Extras)
	if err != nil {
		return nil, err
	}

	events, err := s.events(appt, EventBooked, nil)
	if err != nil {
		return nil, err
	}

	err = s.locker.WithLock(ctx, lockKey(tenantID, appt.EmployeeID, appt.Date), func(lockCtx context.Context) error {
		if err := s.ensureAvailable(lockCtx, appt, nil); err != nil {
			return err
		}
		return s.store.WithinTx(lockCtx, func(tx Tx) error {
			if err := tx.InsertAppointment(lockCtx, appt); err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}
			if len(appt.Extras) > 0 {
				if err := tx.ReplaceExtras(lockCtx, appt.ID, appt.Extras); err != nil {
					return fmt.Errorf("insert extras: %w", err)
				}
			}
			if err := tx.InsertEvents(lockCtx, events...); err != nil {
				return fmt.Errorf("insert outbox events: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, mapWriteError(err)
	}

	if err := s.store.IncrementClientVisits(ctx, tenantID, appt.ClientID); err != nil {
		s.logger.Warn("failed to update client visit counters",
			zap.Stringer("client_id", appt.ClientID),
			zap.Stringer("appointment_id", appt.ID),
			zap.Error(err),
		)
	}
	s.invalidate(appt)

	s.logger.Info("appointment booked",
		zap.Stringer("appointment_id", appt.ID),
		zap.Stringer("tenant_id", tenantID),
		zap.Stringer("employee_id", appt.EmployeeID),
		zap.String("date", scheduling.DateKey(appt.Date)),
		zap.Stringer("slot", appt.Interval()),
		zap.String("status", string(appt.Status)),
	)

	return appt, nil
}

// Update applies a partial change. Every update holds the appointment's lock
// and decides on a copy read under it, so concurrent updates of one
// appointment serialize. Moving the appointment in time, to another employee
// or to another service also takes the lock of the target day and re-runs the
// availability check, excluding the appointment itself.
func (s *Service) Update(ctx context.Context, tenantID, id uuid.UUID, req UpdateRequest, actor string) (*Appointment, error) {
	if req.Status != nil && !req.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, *req.Status)
	}
	if req.PaymentStatus != nil && !req.PaymentStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", ErrInvalidRequest, *req.PaymentStatus)
	}

	var (
		current, next *Appointment
		reschedule    bool
	)
	err := s.locker.WithLock(ctx, appointmentLockKey(tenantID, id), func(lockCtx context.Context) error {
		var err error
		current, err = s.Get(lockCtx, tenantID, id)
		if err != nil {
			return err
		}

		var events []outbox.Event
		next, reschedule, events, err = s.prepareUpdate(lockCtx, current, req, actor)
		if err != nil {
			return err
		}

		write := func(ctx context.Context) error {
			if reschedule && next.Status.Active() {
				if err := s.ensureAvailable(ctx, next, &next.ID); err != nil {
					return err
				}
			}
			return s.store.WithinTx(ctx, func(tx Tx) error {
				if err := tx.UpdateAppointment(ctx, next, current.UpdatedAt); err != nil {
					return fmt.Errorf("update appointment: %w", err)
				}
				if req.Extras != nil {
					if err := tx.ReplaceExtras(ctx, next.ID, next.Extras); err != nil {
						return fmt.Errorf("replace extras: %w", err)
					}
				}
				if err := tx.InsertEvents(ctx, events...); err != nil {
					return fmt.Errorf("insert outbox events: %w", err)
				}
				return nil
			})
		}

		if reschedule {
			return s.locker.WithLock(lockCtx, lockKey(tenantID, next.EmployeeID, next.Date), write)
		}
		return write(lockCtx)
	})
	if err != nil {
		return nil, mapWriteError(err)
	}

	s.invalidate(current)
	if reschedule {
		s.invalidate(next)
	}

	s.logger.Info("appointment updated",
		zap.Stringer("appointment_id", next.ID),
		zap.String("previous_status", string(current.Status)),
		zap.String("status", string(next.Status)),
		zap.Bool("rescheduled", reschedule),
	)

	return next, nil
}

// prepareUpdate applies req to a copy of current and builds the outbox events.
// It reports whether the appointment moves in time, employee or service.
func (s *Service) prepareUpdate(ctx context.Context, current *Appointment, req UpdateRequest, actor string) (*Appointment, bool, []outbox.Event, error) {
	next := current.clone()
	now := s.now()

	statusChanged := req.Status != nil && *req.Status != current.Status
	if statusChanged {
		if current.Status.Terminal() {
			return nil, false, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current.Status, *req.Status)
		}
		next.Status = *req.Status
		switch next.Status {
		case StatusConfirmed:
			next.ConfirmedAt = &now
		case StatusCompleted:
			next.CompletedAt = &now
			if req.PaymentStatus == nil {
				next.PaymentStatus = PaymentPaid
			}
		case StatusCanceled:
			next.CanceledAt = &now
			if actor != "" {
				next.CanceledBy = &actor
			}
			next.CancelReason = req.CancelReason
		}
	}
	if req.PaymentStatus != nil {
		next.PaymentStatus = *req.PaymentStatus
	}
	if req.Notes != nil {
		next.Notes = *req.Notes
	}

	reschedule := applySchedule(next, req)
	if reschedule {
		if current.Status.Terminal() {
			return nil, false, nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidStatusTransition, current.Status)
		}
		svc, err := s.loadService(ctx, current.TenantID, next.ServiceID)
		if err != nil {
			return nil, false, nil, err
		}
		next.Duration = svc.BookedMinutes()
		end, err := next.StartTime.AddMinutes(next.Duration)
		if err != nil {
			return nil, false, nil, slotUnavailable(scheduling.ReasonOutsideHours)
		}
		next.EndTime = end
		if next.ServiceID != current.ServiceID {
			next.Price = svc.Price
		}
	}

	if req.Extras != nil {
		extras, err := s.snapshotExtras(ctx, current.TenantID, next.ID, *req.Extras)
		if err != nil {
			return nil, false, nil, err
		}
		next.Extras = extras
	}
	next.UpdatedAt = now

	eventType := ""
	if statusChanged {
		eventType = statusEvents[next.Status]
	}
	previous := string(current.Status)
	events, err := s.events(next, eventType, &previous)
	if err != nil {
		return nil, false, nil, err
	}
	return next, reschedule, events, nil
}

// Cancel is Update with status CANCELED.
func (s *Service) Cancel(ctx context.Context, tenantID, id uuid.UUID, reason, actor string) (*Appointment, error) {
	status := StatusCanceled
	req := UpdateRequest{Status: &status}
	if reason != "" {
		req.CancelReason = &reason
	}
	return s.Update(ctx, tenantID, id, req, actor)
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) CheckAvailability(ctx context.Context, q scheduling.AvailabilityQuery) (scheduling.Availability, error) {
	return s.engine.CheckAvailability(ctx, q)
}

type SlotsQuery struct {
	TenantID   uuid.UUID
	EmployeeID uuid.UUID
	Date       time.Time
	// ServiceID, when set, takes precedence over Duration.
	ServiceID *uuid.UUID
	Duration  int
	Interval  int
}

func (s *Service) Slots(ctx context.Context, q SlotsQuery) ([]scheduling.TimeSlot, error) {
	duration := q.Duration
	if q.ServiceID != nil {
		svc, err := s.loadService(ctx, q.TenantID, *q.ServiceID)
		if err != nil {
			return nil, err
		}
		duration = svc.BookedMinutes()
	}
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration or service_id is required", ErrInvalidRequest)
	}

	sq := scheduling.SlotQuery{
		TenantID:        q.TenantID,
		EmployeeID:      q.EmployeeID,
		Date:            dateOnly(q.Date),
		ServiceDuration: duration,
		Interval:        q.Interval,
	}
	if s.slots != nil {
		return s.slots.GenerateSlots(ctx, sq)
	}
	return s.engine.GenerateSlots(ctx, sq)
}

func (s *Service) loadService(ctx context.Context, tenantID, id uuid.UUID) (*ServiceDef, error) {
	svc, err := s.store.GetService(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load service: %w", err)
	}
	if !svc.Active {
		return nil, ErrServiceNotFound
	}
	if svc.BookedMinutes() <= 0 {
		return nil, fmt.Errorf("%w: service %s has no duration", ErrInvalidRequest, svc.ID)
	}
	return svc, nil
}

func (s *Service) ensureAvailable(ctx context.Context, a *Appointment, exclude *uuid.UUID) error {
	res, err := s.engine.CheckAvailability(ctx, scheduling.AvailabilityQuery{
		TenantID:             a.TenantID,
		EmployeeID:           a.EmployeeID,
		Date:                 a.Date,
		Start:                a.StartTime,
		Duration:             a.Duration,
		ExcludeAppointmentID: exclude,
	})
	if err != nil {
		return fmt.Errorf("check availability: %w", err)
	}
	if !res.Available {
		return slotUnavailable(res.Reason)
	}
	return nil
}

// snapshotExtras copies current master prices. Unknown or inactive extras are
// skipped and quantities below one count as one.
func (s *Service) snapshotExtras(ctx context.Context, tenantID, appointmentID uuid.UUID, reqs []ExtraRequest) ([]AppointmentExtra, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ExtraID)
	}
	found, err := s.store.ListExtras(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("load extras: %w", err)
	}
	byID := make(map[uuid.UUID]Extra, len(found))
	for _, e := range found {
		if e.Active {
			byID[e.ID] = e
		}
	}

	out := make([]AppointmentExtra, 0, len(reqs))
	for _, r := range reqs {
		e, ok := byID[r.ExtraID]
		if !ok {
			s.logger.Debug("skipping unknown extra", zap.Stringer("extra_id", r.ExtraID))
			continue
		}
		qty := r.Quantity
		if qty < 1 {
			qty = 1
		}
		out = append(out, AppointmentExtra{
			ID:            uuid.New(),
			AppointmentID: appointmentID,
			ExtraID:       e.ID,
			Name:          e.Name,
			UnitPrice:     e.Price,
			Quantity:      qty,
			Total:         e.Price.Mul(decimal.NewFromInt(int64(qty))),
		})
	}
	return out, nil
}

// events builds one notification per configured channel (none when eventType is
// empty) and the webhook.
func (s *Service) events(a *Appointment, eventType string, previousStatus *string) ([]outbox.Event, error) {
	var out []outbox.Event
	if eventType != "" {
		for _, ch := range s.channels {
			ev, err := outbox.NewNotificationEvent(a.TenantID, a.ID, eventType, ch)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
	}
	ev, err := outbox.NewWebhookEvent(a.TenantID, a.ID, previousStatus)
	if err != nil {
		return nil, err
	}
	return append(out, ev), nil
}

func (s *Service) invalidate(a *Appointment) {
	if s.slots != nil {
		s.slots.Invalidate(a.TenantID, a.EmployeeID, a.Date)
	}
}

// applySchedule copies the scheduling fields of req onto a and reports whether
// any of them changed.
func applySchedule(a *Appointment, req UpdateRequest) bool {
	changed := false
	if req.EmployeeID != nil && *req.EmployeeID != a.EmployeeID {
		a.EmployeeID = *req.EmployeeID
		changed = true
	}
	if req.ServiceID != nil && *req.ServiceID != a.ServiceID {
		a.ServiceID = *req.ServiceID
		changed = true
	}
	if req.Date != nil && !dateOnly(*req.Date).Equal(a.Date) {
		a.Date = dateOnly(*req.Date)
		changed = true
	}
	if req.StartTime != nil && *req.StartTime != a.StartTime {
		a.StartTime = *req.StartTime
		changed = true
	}
	return changed
}

func mapWriteError(err error) error {
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrSlotBeingBooked
	case errors.Is(err, ErrBookingOverlap):
		return slotUnavailable("conflicts with another appointment")
	}
	return err
}
