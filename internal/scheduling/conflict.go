package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ReasonNotWorking      = "employee does not work this day"
	ReasonOutsideHours    = "outside working hours"
	ReasonBreak           = "conflicts with break"
	reasonHolidayPrefix   = "holiday: "
	reasonConflictPattern = "conflicts with appointment for %s at %s"
)

var ErrInvalidDuration = errors.New("duration must be positive")

type AvailabilityQuery struct {
	TenantID             uuid.UUID
	EmployeeID           uuid.UUID
	Date                 time.Time
	Start                TimeOfDay
	Duration             int
	ExcludeAppointmentID *uuid.UUID
}

type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

func unavailable(reason string) Availability {
	return Availability{Reason: reason}
}

// Engine answers availability questions for one tenant's employees.
type Engine struct {
	store    Store
	resolver *Resolver
	policy   SlotPolicy
	logger   *zap.Logger
}

func NewEngine(store Store, policy SlotPolicy, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		resolver: NewResolver(store),
		policy:   policy.withDefaults(),
		logger:   logger.Named("scheduling"),
	}
}

func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// CheckAvailability runs the checks in a fixed order and returns the first
// failing reason.
func (e *Engine) CheckAvailability(ctx context.Context, q AvailabilityQuery) (Availability, error) {
	if q.Duration <= 0 {
		return Availability{}, ErrInvalidDuration
	}

	emp, err := e.resolver.Resolve(ctx, q.TenantID, EmployeeScope(q.EmployeeID), q.Date)
	if err != nil {
		return Availability{}, err
	}
	if !emp.Exists || !emp.IsWorking || emp.Window == nil {
		return unavailable(ReasonNotWorking), nil
	}

	candidate, err := NewInterval(q.Start, q.Duration)
	if err != nil {
		if errors.Is(err, ErrDayOverflow) {
			return unavailable(ReasonOutsideHours), nil
		}
		return Availability{}, err
	}
	if !candidate.Within(*emp.Window) {
		return unavailable(ReasonOutsideHours), nil
	}
	if emp.Break != nil && candidate.Overlaps(*emp.Break) {
		return unavailable(ReasonBreak), nil
	}

	holiday, err := e.resolver.ResolveHoliday(ctx, q.TenantID, q.Date)
	if err != nil {
		return Availability{}, err
	}
	if name, blocked := holiday.Blocking(candidate); blocked {
		return unavailable(reasonHolidayPrefix + name), nil
	}

	bookings, err := e.store.ListActiveBookings(ctx, q.TenantID, q.EmployeeID, q.Date, q.ExcludeAppointmentID)
	if err != nil {
		return Availability{}, fmt.Errorf("list bookings: %w", err)
	}
	if b, ok := firstOverlap(candidate, bookings); ok {
		e.logger.Debug("slot conflicts with existing appointment",
			zap.Stringer("employee_id", q.EmployeeID),
			zap.String("date", DateKey(q.Date)),
			zap.Stringer("candidate", candidate),
			zap.Stringer("appointment_id", b.AppointmentID),
		)
		return unavailable(fmt.Sprintf(reasonConflictPattern, b.ClientName, b.Interval.Start)), nil
	}

	return Availability{Available: true}, nil
}

func firstOverlap(candidate Interval, bookings []Booking) (Booking, bool) {
	for _, b := range bookings {
		if candidate.Overlaps(b.Interval) {
			return b, true
		}
	}
	return Booking{}, false
}
