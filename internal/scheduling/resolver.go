package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	ErrScheduleNotFound = errors.New("work schedule not found")
)

// Store is the read side the engine needs. A missing work schedule is
// ErrScheduleNotFound.
type Store interface {
	GetWorkSchedule(ctx context.Context, tenantID uuid.UUID, scope Scope, weekday time.Weekday) (*WorkSchedule, error)
	// ListHolidays returns every holiday of the tenant on date, possibly none.
	ListHolidays(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]Holiday, error)

	// ListActiveBookings excludes CANCELED and NO_SHOW appointments and, when
	// excludeID is non-nil, that appointment.
	ListActiveBookings(ctx context.Context, tenantID, employeeID uuid.UUID, date time.Time, excludeID *uuid.UUID) ([]Booking, error)
}

type Resolution struct {
	Exists    bool
	IsWorking bool
	Window    *Interval
	Break     *Interval
}

// HolidayBlock merges the holidays of one date. Name is the full-day holiday
// when one closes the date.
type HolidayBlock struct {
	Name    string
	FullDay bool
	Partial []PartialHoliday
}

type PartialHoliday struct {
	Name   string
	Window Interval
}

// Blocking returns the name of the first holiday that removes iv from the
// bookable day.
func (h *HolidayBlock) Blocking(iv Interval) (string, bool) {
	if h == nil {
		return "", false
	}
	if h.FullDay {
		return h.Name, true
	}
	for _, p := range h.Partial {
		if p.Window.Overlaps(iv) {
			return p.Name, true
		}
	}
	return "", false
}

func (h *HolidayBlock) Blocks(iv Interval) bool {
	_, ok := h.Blocking(iv)
	return ok
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve finds the effective working window for scope on date.
func (r *Resolver) Resolve(ctx context.Context, tenantID uuid.UUID, scope Scope, date time.Time) (Resolution, error) {
	ws, err := r.store.GetWorkSchedule(ctx, tenantID, scope, date.Weekday())
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return Resolution{}, nil
		}
		return Resolution{}, fmt.Errorf("load %s schedule: %w", scope, err)
	}

	res := Resolution{Exists: true, IsWorking: ws.IsWorking}
	if !ws.IsWorking {
		return res, nil
	}

	res.Window = &Interval{Start: ws.Start, End: ws.End}
	if ws.BreakStart != nil && ws.BreakEnd != nil && *ws.BreakStart < *ws.BreakEnd {
		res.Break = &Interval{Start: *ws.BreakStart, End: *ws.BreakEnd}
	}
	return res, nil
}

// ResolveHoliday returns nil when date is an ordinary day. A full-day holiday
// shadows any partial ones on the same date.
func (r *Resolver) ResolveHoliday(ctx context.Context, tenantID uuid.UUID, date time.Time) (*HolidayBlock, error) {
	holidays, err := r.store.ListHolidays(ctx, tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("load holidays: %w", err)
	}

	block := &HolidayBlock{}
	for _, h := range holidays {
		if h.FullDay {
			return &HolidayBlock{Name: h.Name, FullDay: true}, nil
		}
		// a partial holiday without a usable window blocks nothing
		if h.Start == nil || h.End == nil || *h.Start >= *h.End {
			continue
		}
		block.Partial = append(block.Partial, PartialHoliday{
			Name:   h.Name,
			Window: Interval{Start: *h.Start, End: *h.End},
		})
	}
	if len(block.Partial) == 0 {
		return nil, nil
	}
	sort.Slice(block.Partial, func(i, j int) bool {
		return block.Partial[i].Window.Start < block.Partial[j].Window.Start
	})
	return block, nil
}
