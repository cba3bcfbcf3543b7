package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Scope says whether a WorkSchedule is the business-wide default or belongs to one employee.
type Scope struct {
	employeeID uuid.UUID
	employee   bool
}

func BusinessScope() Scope {
	return Scope{}
}

func EmployeeScope(id uuid.UUID) Scope {
	return Scope{employeeID: id, employee: true}
}

func (s Scope) IsBusiness() bool {
	return !s.employee
}

// EmployeeID returns the employee id and true for an employee scope.
func (s Scope) EmployeeID() (uuid.UUID, bool) {
	return s.employeeID, s.employee
}

func (s Scope) String() string {
	if s.employee {
		return "employee:" + s.employeeID.String()
	}
	return "business"
}

type WorkSchedule struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Scope      Scope
	Weekday    time.Weekday
	IsWorking  bool
	Start      TimeOfDay
	End        TimeOfDay
	BreakStart *TimeOfDay
	BreakEnd   *TimeOfDay
}

type Holiday struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Date     time.Time
	Name     string
	FullDay  bool
	Start    *TimeOfDay
	End      *TimeOfDay
}

// Booking is the part of an active appointment the conflict detector needs.
type Booking struct {
	AppointmentID uuid.UUID
	ClientName    string
	Interval      Interval
}

type Warning string

const (
	WarningNoEmployeeSchedule   Warning = "NO_EMPLOYEE_SCHEDULE"
	WarningOutsideBusinessHours Warning = "OUTSIDE_BUSINESS_HOURS"
)

var warningMessages = map[Warning]string{
	WarningNoEmployeeSchedule:   "The employee has no working hours configured for this time",
	WarningOutsideBusinessHours: "This time is outside the business opening hours",
}

type TimeSlot struct {
	Time           TimeOfDay `json:"time"`
	Available      bool      `json:"available"`
	Warning        Warning   `json:"warning,omitempty"`
	WarningMessage string    `json:"warningMessage,omitempty"`
}

func availableSlot(t TimeOfDay) TimeSlot {
	return TimeSlot{Time: t, Available: true}
}

func blockedSlot(t TimeOfDay) TimeSlot {
	return TimeSlot{Time: t}
}

func warningSlot(t TimeOfDay, w Warning) TimeSlot {
	return TimeSlot{Time: t, Available: true, Warning: w, WarningMessage: warningMessages[w]}
}

// DateKey formats a calendar date the way it is used in lock and cache keys.
func DateKey(d time.Time) string {
	return d.Format(time.DateOnly)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, s)
}
