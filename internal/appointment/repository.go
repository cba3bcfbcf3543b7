package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/outbox"
	"github.com/hackgods/booking-engine/internal/scheduling"
)

// Store contains all persistence the booking service needs. The scheduling
// reads are embedded so one backend serves both the engine and the service.
type Store interface {
	scheduling.Store

	GetService(ctx context.Context, tenantID, id uuid.UUID) (*ServiceDef, error)
	// ListExtras returns the active extras among ids; unknown ids are omitted.
	ListExtras(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Extra, error)
	GetAppointment(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error)
	IncrementClientVisits(ctx context.Context, tenantID, clientID uuid.UUID) error

	// WithinTx runs fn in one transaction; any error rolls everything back.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of a booking transaction.
type Tx interface {
	InsertAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointment writes a only if the stored row still carries
	// readAt as its updated_at; otherwise it returns ErrAppointmentChanged.
	UpdateAppointment(ctx context.Context, a *Appointment, readAt time.Time) error
	ReplaceExtras(ctx context.Context, appointmentID uuid.UUID, extras []AppointmentExtra) error
	InsertEvents(ctx context.Context, events ...outbox.Event) error
}
