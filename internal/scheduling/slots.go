package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultSlotInterval = 30

// SlotPolicy holds the display bounds used when enumerating a day.
type SlotPolicy struct {
	// DisplayWindow is used when the business has no schedule for the weekday.
	DisplayWindow Interval
	// DayOffWindow is offered, with warnings, when the business is closed that day.
	DayOffWindow Interval
	// PaddingStart and PaddingEnd bound the warning slots around opening hours.
	PaddingStart TimeOfDay
	PaddingEnd   TimeOfDay
	Interval     int
}

func DefaultSlotPolicy() SlotPolicy {
	return SlotPolicy{
		DisplayWindow: Interval{Start: 8 * 60, End: 20 * 60},
		DayOffWindow:  Interval{Start: 9 * 60, End: 18 * 60},
		PaddingStart:  7 * 60,
		PaddingEnd:    22 * 60,
		Interval:      DefaultSlotInterval,
	}
}

func (p SlotPolicy) withDefaults() SlotPolicy {
	def := DefaultSlotPolicy()
	if p.DisplayWindow.End <= p.DisplayWindow.Start {
		p.DisplayWindow = def.DisplayWindow
	}
	if p.DayOffWindow.End < p.DayOffWindow.Start || p.DayOffWindow == (Interval{}) {
		p.DayOffWindow = def.DayOffWindow
	}
	if p.PaddingStart == 0 && p.PaddingEnd == 0 {
		p.PaddingStart, p.PaddingEnd = def.PaddingStart, def.PaddingEnd
	}
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
	return p
}

type SlotQuery struct {
	TenantID        uuid.UUID
	EmployeeID      uuid.UUID
	Date            time.Time
	ServiceDuration int
	// Interval is the stride between candidate starts; zero uses the policy default.
	Interval int
}

// GenerateSlots enumerates the day for a booking UI. Soft policy violations are
// returned as available slots with a warning; only breaks, existing bookings and
// holidays block a slot.
func (e *Engine) GenerateSlots(ctx context.Context, q SlotQuery) ([]TimeSlot, error) {
	if q.ServiceDuration <= 0 {
		return nil, ErrInvalidDuration
	}
	step := q.Interval
	if step <= 0 {
		step = e.policy.Interval
	}

	holiday, err := e.resolver.ResolveHoliday(ctx, q.TenantID, q.Date)
	if err != nil {
		return nil, err
	}
	if holiday != nil && holiday.FullDay {
		e.logger.Debug("full-day holiday, no slots",
			zap.String("date", DateKey(q.Date)),
			zap.String("holiday", holiday.Name),
		)
		return []TimeSlot{}, nil
	}

	biz, err := e.resolver.Resolve(ctx, q.TenantID, BusinessScope(), q.Date)
	if err != nil {
		return nil, err
	}

	if biz.Exists && !biz.IsWorking {
		var slots []TimeSlot
		for t := e.policy.DayOffWindow.Start; t <= e.policy.DayOffWindow.End; t += TimeOfDay(step) {
			slots = append(slots, warningSlot(t, WarningOutsideBusinessHours))
		}
		return slots, nil
	}

	window := e.policy.DisplayWindow
	if biz.Exists && biz.Window != nil {
		window = *biz.Window
	}

	emp, err := e.resolver.Resolve(ctx, q.TenantID, EmployeeScope(q.EmployeeID), q.Date)
	if err != nil {
		return nil, err
	}

	bookings, err := e.store.ListActiveBookings(ctx, q.TenantID, q.EmployeeID, q.Date, nil)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	byTime := make(map[TimeOfDay]TimeSlot)
	for t := window.Start; t+TimeOfDay(q.ServiceDuration) <= window.End; t += TimeOfDay(step) {
		iv := Interval{Start: t, End: t + TimeOfDay(q.ServiceDuration)}
		byTime[t] = classify(iv, biz, emp, holiday, bookings)
	}

	if biz.Exists {
		for t := e.policy.PaddingStart; t < window.Start; t += TimeOfDay(step) {
			if _, ok := byTime[t]; !ok {
				byTime[t] = warningSlot(t, WarningOutsideBusinessHours)
			}
		}
		for t := window.End; t+TimeOfDay(q.ServiceDuration) <= e.policy.PaddingEnd; t += TimeOfDay(step) {
			if _, ok := byTime[t]; !ok {
				byTime[t] = warningSlot(t, WarningOutsideBusinessHours)
			}
		}
	}

	slots := make([]TimeSlot, 0, len(byTime))
	for _, s := range byTime {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Time < slots[j].Time
	})
	return slots, nil
}

func classify(iv Interval, biz, emp Resolution, holiday *HolidayBlock, bookings []Booking) TimeSlot {
	if biz.Break != nil && iv.Overlaps(*biz.Break) {
		return blockedSlot(iv.Start)
	}
	if _, ok := firstOverlap(iv, bookings); ok {
		return blockedSlot(iv.Start)
	}
	if holiday.Blocks(iv) {
		return blockedSlot(iv.Start)
	}
	if !emp.Exists || !emp.IsWorking || emp.Window == nil {
		return warningSlot(iv.Start, WarningNoEmployeeSchedule)
	}
	if !iv.Within(*emp.Window) || (emp.Break != nil && iv.Overlaps(*emp.Break)) {
		return warningSlot(iv.Start, WarningNoEmployeeSchedule)
	}
	return availableSlot(iv.Start)
}
