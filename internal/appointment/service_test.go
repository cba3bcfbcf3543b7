package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/outbox"
	redisclient "github.com/hackgods/booking-engine/internal/redis"
	"github.com/hackgods/booking-engine/internal/scheduling"
)

var (
	tenantID   = uuid.MustParse("6f1c3f5e-7a52-4c59-9c1e-1f5a2b7d9e01")
	employeeID = uuid.MustParse("0b9d0d7e-3c4f-4b8a-a5f1-8f2e6c1d4a10")
	clientID   = uuid.MustParse("a3e2b1c0-1111-4a4a-8b8b-000000000001")
	haircutID  = uuid.MustParse("5e4d3c2b-2222-4b4b-9c9c-000000000002")
	colorID    = uuid.MustParse("5e4d3c2b-3333-4c4c-9d9d-000000000003")
	washID     = uuid.MustParse("7f6e5d4c-4444-4d4d-8e8e-000000000004")
	// 2026-03-02 is a Monday.
	monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

func tod(s string) scheduling.TimeOfDay {
	return scheduling.MustParseTimeOfDay(s)
}

func todPtr(s string) *scheduling.TimeOfDay {
	t := tod(s)
	return &t
}

func newFixtureStore() *MemoryStore {
	st := NewMemoryStore()
	st.PutWorkSchedule(scheduling.WorkSchedule{
		TenantID:   tenantID,
		Scope:      scheduling.EmployeeScope(employeeID),
		Weekday:    time.Monday,
		IsWorking:  true,
		Start:      tod("09:00"),
		End:        tod("17:00"),
		BreakStart: todPtr("12:00"),
		BreakEnd:   todPtr("13:00"),
	})
	st.PutClient(Client{ID: clientID, TenantID: tenantID, Name: "Ana Souza"})
	st.PutService(ServiceDef{
		ID: haircutID, TenantID: tenantID, Name: "Haircut",
		Duration: 30, Price: decimal.RequireFromString("50.00"), Active: true,
	})
	st.PutService(ServiceDef{
		ID: colorID, TenantID: tenantID, Name: "Color",
		Duration: 45, BufferAfter: 15, Price: decimal.RequireFromString("120.00"),
		RequiresConfirm: true, Active: true,
	})
	st.PutExtra(Extra{ID: washID, TenantID: tenantID, Name: "Wash", Price: decimal.RequireFromString("10.00"), Active: true})
	return st
}

func newTestService(st *MemoryStore) *Service {
	engine := scheduling.NewEngine(st, scheduling.DefaultSlotPolicy(), zap.NewNop())
	cfg := config.Config{NotifyChannels: []string{"email", "sms"}}
	return NewService(st, engine, redisclient.NewLocalLocker(), cfg, zap.NewNop())
}

func book(t *testing.T, svc *Service, serviceID uuid.UUID, start string) *Appointment {
	t.Helper()
	appt, err := svc.Create(context.Background(), tenantID, CreateRequest{
		ClientID:   clientID,
		EmployeeID: employeeID,
		ServiceID:  serviceID,
		Date:       monday,
		StartTime:  tod(start),
	})
	if err != nil {
		t.Fatalf("Create at %s: %v", start, err)
	}
	return appt
}

func TestCreate_ConfirmsImmediately(t *testing.T) {
	st := newFixtureStore()
	svc := newTestService(st)

	appt := book(t, svc, haircutID, "10:00")

	if appt.Status != StatusConfirmed || appt.ConfirmedAt == nil {
		t.Fatalf("expected CONFIRMED with ConfirmedAt, got %s / %v", appt.Status, appt.ConfirmedAt)
	}
	if appt.EndTime != tod("10:30") || appt.Duration != 30 {
		t.Fatalf("unexpected interval %s (%d min)", appt.Interval(), appt.Duration)
	}
	if !appt.Price.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("expected frozen price 50, got %s", appt.Price)
	}
	if appt.PaymentStatus != PaymentPending {
		t.Fatalf("expected payment PENDING, got %s", appt.PaymentStatus)
	}

	c, _ := st.Client(clientID)
	if c.VisitCount != 1 || c.LastVisitAt == nil {
		t.Fatalf("expected visit counters to be updated, got %+v", c)
	}
}

func TestCreate_RequiresConfirmation(t *testing.T) {
	svc := newTestService(newFixtureStore())

	appt := book(t, svc, colorID, "14:00")
	if appt.Status != StatusPending || appt.ConfirmedAt != nil {
		t.Fatalf("expected PENDING without ConfirmedAt, got %s / %v", appt.Status, appt.ConfirmedAt)
	}
	// duration includes the cleanup buffer
	if appt.EndTime != tod("15:00") {
		t.Fatalf("expected end 15:00, got %s", appt.EndTime)
	}
}

func TestCreate_WritesOutboxEvents(t *testing.T) {
	st := newFixtureStore()
	appt := book(t, newTestService(st), haircutID, "10:00")

	events := st.Events()
	if len(events) != 3 {
		t.Fatalf("expected 2 notifications and 1 webhook, got %d events", len(events))
	}
	channels := map[string]bool{}
	for _, ev := range events {
		if ev.AppointmentID != appt.ID {
			t.Fatalf("event for wrong appointment: %+v", ev)
		}
		switch ev.Kind {
		case outbox.KindNotification:
			var p outbox.NotificationPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.EventType != EventBooked {
				t.Fatalf("expected BOOKED notification, got %s", p.EventType)
			}
			channels[p.Channel] = true
		case outbox.KindWebhook:
			var p outbox.WebhookPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.PreviousStatus != nil {
				t.Fatalf("webhook on create must have no previous status, got %q", *p.PreviousStatus)
			}
		}
	}
	if !channels["email"] || !channels["sms"] {
		t.Fatalf("expected one notification per channel, got %v", channels)
	}
}

func TestCreate_RejectsOverlap(t *testing.T) {
	svc := newTestService(newFixtureStore())
	book(t, svc, haircutID, "10:00")

	_, err := svc.Create(context.Background(), tenantID, CreateRequest{
		ClientID: clientID, EmployeeID: employeeID, ServiceID: haircutID, Date: monday, StartTime: tod("10:15"),
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	var sue *SlotUnavailableError
	if !errors.As(err, &sue) || !strings.Contains(sue.Reason, "Ana Souza") {
		t.Fatalf("expected reason naming the client, got %v", err)
	}

	// back-to-back is fine
	book(t, svc, haircutID, "10:30")
}

func TestCreate_Validation(t *testing.T) {
	st := newFixtureStore()
	st.PutService(ServiceDef{ID: uuid.New(), TenantID: tenantID, Name: "Retired", Duration: 30, Active: false})
	svc := newTestService(st)

	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"missing client", CreateRequest{EmployeeID: employeeID, ServiceID: haircutID, Date: monday}, ErrInvalidRequest},
		{"missing date", CreateRequest{ClientID: clientID, EmployeeID: employeeID, ServiceID: haircutID}, ErrInvalidRequest},
		{"unknown service", CreateRequest{ClientID: clientID, EmployeeID: employeeID, ServiceID: uuid.New(), Date: monday, StartTime: tod("10:00")}, ErrServiceNotFound},
		{"past midnight", CreateRequest{ClientID: clientID, EmployeeID: employeeID, ServiceID: haircutID, Date: monday, StartTime: tod("23:45")}, ErrSlotUnavailable},
		{"outside hours", CreateRequest{ClientID: clientID, EmployeeID: employeeID, ServiceID: haircutID, Date: monday, StartTime: tod("08:00")}, ErrSlotUnavailable},
		{"during break", CreateRequest{ClientID: clientID, EmployeeID: employeeID, ServiceID: haircutID, Date: monday, StartTime: tod("12:15")}, ErrSlotUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tenantID, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if len(st.Appointments()) != 0 {
		t.Fatal("rejected requests must not store anything")
	}
}

func TestCreate_InactiveService(t *testing.T) {
	st := newFixtureStore()
	retired := uuid.New()
	st.PutService(ServiceDef{ID: retired, TenantID: tenantID, Name: "Retired", Duration: 30, Active: false})

	_, err := newTestService(st).Create(context.Background(), tenantID, CreateRequest{
		ClientID: clientID, EmployeeID: employeeID, ServiceID: retired, Date: monday, StartTime: tod("10:00"),
	})
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestCreate_FreezesExtraPrices(t *testing.T) {
	st := newFixtureStore()
	svc := newTestService(st)

	appt, err := svc.Create(context.Background(), tenantID, CreateRequest{
		ClientID: clientID, EmployeeID: employeeID, ServiceID: haircutID, Date: monday, StartTime: tod("10:00"),
		Extras: []ExtraRequest{
			{ExtraID: washID, Quantity: 2},
			{ExtraID: uuid.New(), Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(appt.Extras) != 1 {
		t.Fatalf("expected the unknown extra to be skipped, got %d extras", len(appt.Extras))
	}

	st.PutExtra(Extra{ID: washID, TenantID: tenantID, Name: "Wash", Price: decimal.RequireFromString("99.00"), Active: true})

	stored, err := svc.Get(context.Background(), tenantID, appt.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.Extras) != 1 {
		t.Fatalf("expected one stored extra, got %d", len(stored.Extras))
	}
	ex := stored.Extras[0]
	if !ex.UnitPrice.Equal(decimal.RequireFromString("10")) || !ex.Total.Equal(decimal.RequireFromString("20")) || ex.Quantity != 2 {
		t.Fatalf("extra snapshot changed with the master price: %+v", ex)
	}
	if !stored.Total().Equal(decimal.RequireFromString("70")) {
		t.Fatalf("expected total 70, got %s", stored.Total())
	}
}

func TestCreate_ZeroQuantityCountsAsOne(t *testing.T) {
	svc := newTestService(newFixtureStore())

	appt, err := svc.Create(context.Background(), tenantID, CreateRequest{
		ClientID: clientID, EmployeeID: employeeID, ServiceID: haircutID, Date: monday, StartTime: tod("10:00"),
		Extras: []ExtraRequest{{ExtraID: washID}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if appt.Extras[0].Quantity != 1 || !appt.Extras[0].Total.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("unexpected extra %+v", appt.Extras[0])
	}
}

func TestCreate_VisitCounterFailureIsBestEffort(t *testing.T) {
	st := newFixtureStore()
	st.FailVisitUpdates(errors.New("clients table locked"))

	appt := book(t, newTestService(st), haircutID, "10:00")
	if _, err := st.GetAppointment(context.Background(), tenantID, appt.ID); err != nil {
		t.Fatalf("booking must be kept when the counter update fails: %v", err)
	}
}

func TestCreate_ConcurrentRequestsBookOnce(t *testing.T) {
	st := newFixtureStore()
	svc := newTestService(st)

	const workers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(context.Background(), tenantID, CreateRequest{
				ClientID: clientID, EmployeeID: employeeID, ServiceID: haircutID, Date: monday, StartTime: tod("15:00"),
			})
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrSlotBeingBooked):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one booking, got %d", succeeded)
	}
	if n := len(st.Appointments()); n != 1 {
		t.Fatalf("expected one stored appointment, got %d", n)
	}
}

func TestUpdate_FailedRescheduleLeavesOriginal(t *testing.T) {
	svc := newTestService(newFixtureStore())
	book(t, svc, haircutID, "10:00")
	second := book(t, svc, haircutID, "11:00")

	_, err := svc.Update(context.Background(), tenantID, second.ID, UpdateRequest{StartTime: todPtr("10:00")}, "staff")
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	stored, err := svc.Get(context.Background(), tenantID, second.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.StartTime != tod("11:00") || stored.EndTime != tod("11:30") {
		t.Fatalf("original appointment changed: %s", stored.Interval())
	}
}

func TestUpdate_RescheduleOverlappingOwnSlot(t *testing.T) {
	svc := newTestService(newFixtureStore())
	appt := book(t, svc, haircutID, "10:00")

	moved, err := svc.Update(context.Background(), tenantID, appt.ID, UpdateRequest{StartTime: todPtr("10:15")}, "staff")
	if err != nil {
		t.Fatalf("moving within its own slot must not conflict with itself: %v", err)
	}
	if moved.EndTime != tod("10:45") {
		t.Fatalf("expected end 10:45, got %s", moved.EndTime)
	}
}

func TestUpdate_ChangingServiceRepricesAndResizes(t *testing.T) {
	svc := newTestService(newFixtureStore())
	appt := book(t, svc, haircutID, "10:00")

	updated, err := svc.Update(context.Background(), tenantID, appt.ID, UpdateRequest{ServiceID: &colorID}, "staff")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Duration != 60 || updated.EndTime != tod("11:00") {
		t.Fatalf("expected 60 minutes ending 11:00, got %d / %s", updated.Duration, updated.EndTime)
	}
	if !updated.Price.Equal(decimal.RequireFromString("120")) {
		t.Fatalf("expected new service price, got %s", updated.Price)
	}
}

func TestUpdate_StatusCompanionFields(t *testing.T) {
	st := newFixtureStore()
	svc := newTestService(st)
	appt := book(t, svc, colorID, "14:00")

	confirmed := StatusConfirmed
	got, err := svc.Update(context.Background(), tenantID, appt.ID, UpdateRequest{Status: &confirmed}, "staff")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.ConfirmedAt == nil {
		t.Fatal("expected ConfirmedAt to be set")
	}

	completed := StatusCompleted
	got, err = svc.Update(context.Background(), tenantID, appt.ID, UpdateRequest{Status: &completed}, "staff")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.CompletedAt == nil || got.PaymentStatus != PaymentPaid {
		t.Fatalf("expected CompletedAt and PAID, got %v / %s", got.CompletedAt, got.PaymentStatus)
	}

	var sawCompleted bool
	for _, ev := range st.Events() {
		if ev.Kind != outbox.KindNotification {
			continue
		}
		var p outbox.NotificationPayload
		_ = json.Unmarshal(ev.Payload, &p)
		if p.EventType == EventCompleted {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Fatal("expected a COMPLETED notification")
	}
}

func TestUpdate_CompletedKeepsExplicitPaymentStatus(t *testing.T) {
	svc := newTestService(newFixtureStore())
	appt := book(t, svc, haircutID, "10:00")

	completed, refunded := StatusCompleted, PaymentRefunded
	got, err := svc.Update(context.Background(), tenantID, appt.ID, UpdateRequest{Status: &completed, PaymentStatus: &refunded}, "staff")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.PaymentStatus != PaymentRefunded {
		t.Fatalf("expected REFUNDED, got %s", got.PaymentStatus)
	}
}

func TestUpdate_WebhookCarriesPreviousStatus(t *testing.T) {
	st := newFixtureStore()
	svc := newTestService(st)
	appt := book(t, svc, haircutID, "10:00")

	notes := "prefers scissors"
	if _, err := svc.Update(context.Background(), tenantID, appt.ID, UpdateRequest{Notes: &notes}, "staff"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	events := st.Events()
	last := events[len(events)-1]
	if last.Kind != outbox.KindWebhook {
		t.Fatalf("expected webhook last, got %s", last.Kind)
	}
	var p outbox.WebhookPayload
	if err := json.Unmarshal(last.Payload, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.PreviousStatus == nil || *p.PreviousStatus != string(StatusConfirmed) {
		t.Fatalf("expected previous status CONFIRMED, got %v", p.PreviousStatus)
	}
	// a notes change sends no notification
	if len(events) != 4 {
		t.Fatalf("expected 3 create events and 1 webhook, got %d", len(events))
	}
}

func TestCancel_SetsFieldsAndFreesSlot(t *testing.T) {
	svc := newTestService(newFixtureStore())
	appt := book(t, svc, haircutID, "10:00")

	canceled, err := svc.Cancel(context.Background(), tenantID, appt.ID, "client sick", "front-desk")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if canceled.Status != StatusCanceled || canceled.CanceledAt == nil {
		t.Fatalf("expected CANCELED with timestamp, got %+v", canceled)
	}
	if canceled.CanceledBy == nil || *canceled.CanceledBy != "front-desk" {
		t.Fatalf("expected CanceledBy front-desk, got %v", canceled.CanceledBy)
	}
	if canceled.CancelReason == nil || *canceled.CancelReason != "client sick" {
		t.Fatalf("expected cancel reason, got %v", canceled.CancelReason)
	}

	book(t, svc, haircutID, "10:00")
}

func TestUpdate_TerminalStatesAreFinal(t *testing.T) {
	svc := newTestService(newFixtureStore())
	appt := book(t, svc, haircutID, "10:00")

	if _, err := svc.Cancel(context.Background(), tenantID, appt.ID, "", "client"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	confirmed := StatusConfirmed
	_, err := svc.Update(context.Background(), tenantID, appt.ID, UpdateRequest{Status: &confirmed}, "staff")
	if !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("expected ErrInvalidStatusTransition, got %v", err)
	}

	_, err = svc.Update(context.Background(), tenantID, appt.ID, UpdateRequest{StartTime: todPtr("14:00")}, "staff")
	if !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("expected rescheduling a canceled appointment to fail, got %v", err)
	}

	if _, err := svc.Cancel(context.Background(), tenantID, appt.ID, "", "client"); err != nil {
		t.Fatalf("cancelling twice should be a no-op, got %v", err)
	}
}

func TestUpdate_UnknownAppointment(t *testing.T) {
	notes := "x"
	_, err := newTestService(newFixtureStore()).Update(context.Background(), tenantID, uuid.New(), UpdateRequest{Notes: &notes}, "staff")
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestUpdate_ReplacesExtras(t *testing.T) {
	svc := newTestService(newFixtureStore())
	appt, err := svc.Create(context.Background(), tenantID, CreateRequest{
		ClientID: clientID, EmployeeID: employeeID, ServiceID: haircutID, Date: monday, StartTime: tod("10:00"),
		Extras: []ExtraRequest{{ExtraID: washID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	none := []ExtraRequest{}
	if _, err := svc.Update(context.Background(), tenantID, appt.ID, UpdateRequest{Extras: &none}, "staff"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	stored, _ := svc.Get(context.Background(), tenantID, appt.ID)
	if len(stored.Extras) != 0 {
		t.Fatalf("expected extras to be cleared, got %d", len(stored.Extras))
	}
}

func TestSlots_UsesServiceDuration(t *testing.T) {
	svc := newTestService(newFixtureStore())
	book(t, svc, haircutID, "10:00")

	slots, err := svc.Slots(context.Background(), SlotsQuery{
		TenantID: tenantID, EmployeeID: employeeID, Date: monday, ServiceID: &colorID, Interval: 30,
	})
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	for _, s := range slots {
		// a 60 minute booking from 09:30 would run into the 10:00 appointment
		if s.Time == tod("09:30") && s.Available {
			t.Fatalf("09:30 must be blocked for a 60 minute service, got %+v", s)
		}
	}

	if _, err := svc.Slots(context.Background(), SlotsQuery{TenantID: tenantID, EmployeeID: employeeID, Date: monday}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without duration, got %v", err)
	}
}
