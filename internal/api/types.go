package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/booking-engine/internal/appointment"
	"github.com/hackgods/booking-engine/internal/scheduling"
)

type ExtraRequest struct {
	ExtraID  string `json:"extra_id"`
	Quantity int    `json:"quantity"`
}

type CreateAppointmentRequest struct {
	ClientID   string                `json:"client_id"`
	EmployeeID string                `json:"employee_id"`
	ServiceID  string                `json:"service_id"`
	Date       string                `json:"date"`
	StartTime  *scheduling.TimeOfDay `json:"start_time"`
	Notes      string                `json:"notes"`
	Extras     []ExtraRequest        `json:"extras"`
}

// UpdateAppointmentRequest fields are optional; extras, when present, replace the list.
type UpdateAppointmentRequest struct {
	EmployeeID    *string               `json:"employee_id"`
	ServiceID     *string               `json:"service_id"`
	Date          *string               `json:"date"`
	StartTime     *scheduling.TimeOfDay `json:"start_time"`
	Status        *string               `json:"status"`
	PaymentStatus *string               `json:"payment_status"`
	Notes         *string               `json:"notes"`
	CancelReason  *string               `json:"cancel_reason"`
	Extras        *[]ExtraRequest       `json:"extras"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type AvailabilityRequest struct {
	EmployeeID           string                `json:"employee_id"`
	Date                 string                `json:"date"`
	StartTime            *scheduling.TimeOfDay `json:"start_time"`
	Duration             int                   `json:"duration"`
	ExcludeAppointmentID *string               `json:"exclude_appointment_id"`
}

type SlotsResponse struct {
	EmployeeID uuid.UUID             `json:"employee_id"`
	Date       string                `json:"date"`
	Slots      []scheduling.TimeSlot `json:"slots"`
}

type ExtraResponse struct {
	ExtraID   uuid.UUID       `json:"extra_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
}

type AppointmentResponse struct {
	ID            uuid.UUID            `json:"id"`
	ClientID      uuid.UUID            `json:"client_id"`
	ClientName    string               `json:"client_name,omitempty"`
	EmployeeID    uuid.UUID            `json:"employee_id"`
	ServiceID     uuid.UUID            `json:"service_id"`
	Date          string               `json:"date"`
	StartTime     scheduling.TimeOfDay `json:"start_time"`
	EndTime       scheduling.TimeOfDay `json:"end_time"`
	Duration      int                  `json:"duration"`
	Price         decimal.Decimal      `json:"price"`
	Total         decimal.Decimal      `json:"total"`
	Status        string               `json:"status"`
	PaymentStatus string               `json:"payment_status"`
	Notes         string               `json:"notes,omitempty"`
	ConfirmedAt   *time.Time           `json:"confirmed_at,omitempty"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
	CanceledAt    *time.Time           `json:"canceled_at,omitempty"`
	CanceledBy    *string              `json:"canceled_by,omitempty"`
	CancelReason  *string              `json:"cancel_reason,omitempty"`
	Extras        []ExtraResponse      `json:"extras"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	extras := make([]ExtraResponse, 0, len(a.Extras))
	for _, e := range a.Extras {
		extras = append(extras, ExtraResponse{
			ExtraID:   e.ExtraID,
			Name:      e.Name,
			UnitPrice: e.UnitPrice,
			Quantity:  e.Quantity,
			Total:     e.Total,
		})
	}
	return AppointmentResponse{
		ID:            a.ID,
		ClientID:      a.ClientID,
		ClientName:    a.ClientName,
		EmployeeID:    a.EmployeeID,
		ServiceID:     a.ServiceID,
		Date:          scheduling.DateKey(a.Date),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Duration:      a.Duration,
		Price:         a.Price,
		Total:         a.Total(),
		Status:        string(a.Status),
		PaymentStatus: string(a.PaymentStatus),
		Notes:         a.Notes,
		ConfirmedAt:   a.ConfirmedAt,
		CompletedAt:   a.CompletedAt,
		CanceledAt:    a.CanceledAt,
		CanceledBy:    a.CanceledBy,
		CancelReason:  a.CancelReason,
		Extras:        extras,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
