package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/booking-engine/internal/scheduling"
)

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusConfirmed   Status = "CONFIRMED"
	StatusCompleted   Status = "COMPLETED"
	StatusCanceled    Status = "CANCELED"
	StatusNoShow      Status = "NO_SHOW"
	StatusRescheduled Status = "RESCHEDULED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCanceled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

// Active appointments occupy time on the employee's calendar.
func (s Status) Active() bool {
	return s != StatusCanceled && s != StatusNoShow
}

// Terminal appointments accept no further status changes.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusNoShow
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

func (p PaymentStatus) Valid() bool {
	return p == PaymentPending || p == PaymentPaid || p == PaymentRefunded
}

// ServiceDef is a bookable service. Duration and buffers are minutes.
type ServiceDef struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Name            string
	Duration        int
	BufferBefore    int
	BufferAfter     int
	Price           decimal.Decimal
	RequiresConfirm bool
	Active          bool
}

// BookedMinutes is the length the service occupies on the calendar.
func (s ServiceDef) BookedMinutes() int {
	return s.Duration + s.BufferBefore + s.BufferAfter
}

type Extra struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	Price    decimal.Decimal
	Active   bool
}

// AppointmentExtra freezes the extra's name and price at booking time.
type AppointmentExtra struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	ExtraID       uuid.UUID
	Name          string
	UnitPrice     decimal.Decimal
	Quantity      int
	Total         decimal.Decimal
}

type Client struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Name        string
	VisitCount  int
	LastVisitAt *time.Time
}

type Appointment struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	ClientID      uuid.UUID
	ClientName    string
	EmployeeID    uuid.UUID
	ServiceID     uuid.UUID
	Date          time.Time
	StartTime     scheduling.TimeOfDay
	EndTime       scheduling.TimeOfDay
	Duration      int
	Price         decimal.Decimal
	Status        Status
	PaymentStatus PaymentStatus
	Notes         string
	ConfirmedAt   *time.Time
	CompletedAt   *time.Time
	CanceledAt    *time.Time
	CanceledBy    *string
	CancelReason  *string
	Extras        []AppointmentExtra
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a *Appointment) Interval() scheduling.Interval {
	return scheduling.Interval{Start: a.StartTime, End: a.EndTime}
}

// Total is the frozen service price plus frozen extras.
func (a *Appointment) Total() decimal.Decimal {
	total := a.Price
	for _, e := range a.Extras {
		total = total.Add(e.Total)
	}
	return total
}

func (a *Appointment) clone() *Appointment {
	c := *a
	c.Extras = append([]AppointmentExtra(nil), a.Extras...)
	return &c
}

type ExtraRequest struct {
	ExtraID  uuid.UUID
	Quantity int
}

type CreateRequest struct {
	ClientID   uuid.UUID
	EmployeeID uuid.UUID
	ServiceID  uuid.UUID
	Date       time.Time
	StartTime  scheduling.TimeOfDay
	Notes      string
	Extras     []ExtraRequest
}

// UpdateRequest is a partial update; nil fields are left unchanged. A non-nil
// Extras replaces the whole extras list.
type UpdateRequest struct {
	EmployeeID    *uuid.UUID
	ServiceID     *uuid.UUID
	Date          *time.Time
	StartTime     *scheduling.TimeOfDay
	Status        *Status
	PaymentStatus *PaymentStatus
	Notes         *string
	CancelReason  *string
	Extras        *[]ExtraRequest
}
