package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/appointment"
	"github.com/hackgods/booking-engine/internal/config"
	redisclient "github.com/hackgods/booking-engine/internal/redis"
	"github.com/hackgods/booking-engine/internal/scheduling"
)

var (
	tenantID   = uuid.MustParse("6f1c3f5e-7a52-4c59-9c1e-1f5a2b7d9e01")
	employeeID = uuid.MustParse("0b9d0d7e-3c4f-4b8a-a5f1-8f2e6c1d4a10")
	clientID   = uuid.MustParse("a3e2b1c0-1111-4a4a-8b8b-000000000001")
	haircutID  = uuid.MustParse("5e4d3c2b-2222-4b4b-9c9c-000000000002")
)

func newTestRouter(t *testing.T, checks ...DependencyCheck) http.Handler {
	t.Helper()

	st := appointment.NewMemoryStore()
	st.PutWorkSchedule(scheduling.WorkSchedule{
		TenantID:  tenantID,
		Scope:     scheduling.EmployeeScope(employeeID),
		Weekday:   time.Monday,
		IsWorking: true,
		Start:     scheduling.MustParseTimeOfDay("09:00"),
		End:       scheduling.MustParseTimeOfDay("12:00"),
	})
	st.PutClient(appointment.Client{ID: clientID, TenantID: tenantID, Name: "Ana Souza"})
	st.PutService(appointment.ServiceDef{
		ID: haircutID, TenantID: tenantID, Name: "Haircut",
		Duration: 30, Price: decimal.RequireFromString("50.00"), Active: true,
	})

	engine := scheduling.NewEngine(st, scheduling.DefaultSlotPolicy(), zap.NewNop())
	svc := appointment.NewService(st, engine, redisclient.NewLocalLocker(), config.Config{NotifyChannels: []string{"email"}}, zap.NewNop())

	return NewRouter(RouterConfig{
		Service: svc,
		Logger:  zap.NewNop(),
		Checks:  checks,
		Env:     "test",
		Version: "dev",
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func appointmentsPath() string {
	return "/tenants/" + tenantID.String() + "/appointments"
}

func createBody(start string) string {
	return `{"client_id":"` + clientID.String() +
		`","employee_id":"` + employeeID.String() +
		`","service_id":"` + haircutID.String() +
		`","date":"2026-03-02","start_time":"` + start + `"}`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestCreateAppointment(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, appointmentsPath(), createBody("10:00"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[AppointmentResponse](t, rec)
	if resp.Status != "CONFIRMED" || resp.EndTime.String() != "10:30" || resp.Date != "2026-03-02" {
		t.Fatalf("unexpected appointment %+v", resp)
	}

	rec = do(t, h, http.MethodGet, appointmentsPath()+"/"+resp.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", rec.Code)
	}
	if got := decode[AppointmentResponse](t, rec); got.ClientName != "Ana Souza" {
		t.Fatalf("expected client name to be resolved, got %q", got.ClientName)
	}
}

func TestCreateAppointment_Conflict(t *testing.T) {
	h := newTestRouter(t)

	if rec := do(t, h, http.MethodPost, appointmentsPath(), createBody("10:00")); rec.Code != http.StatusCreated {
		t.Fatalf("first booking failed: %d %s", rec.Code, rec.Body.String())
	}

	rec := do(t, h, http.MethodPost, appointmentsPath(), createBody("10:15"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	errResp := decode[ErrorResponse](t, rec)
	if errResp.Error != "slot_unavailable" || errResp.Details == "" {
		t.Fatalf("unexpected error body %+v", errResp)
	}
}

func TestCreateAppointment_BadInput(t *testing.T) {
	h := newTestRouter(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{`, "invalid_request_body"},
		{"malformed time", createBody("25:00"), "invalid_request_body"},
		{"bad date", strings.Replace(createBody("10:00"), "2026-03-02", "02/03/2026", 1), "invalid_date"},
		{"bad client", strings.Replace(createBody("10:00"), clientID.String(), "nope", 1), "invalid_client_id"},
		{"missing start time", strings.Replace(createBody("10:00"), `,"start_time":"10:00"`, "", 1), "invalid_request"},
		{"null start time", strings.Replace(createBody("10:00"), `"10:00"`, "null", 1), "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, appointmentsPath(), tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if got := decode[ErrorResponse](t, rec).Error; got != tt.code {
				t.Fatalf("expected %s, got %s", tt.code, got)
			}
		})
	}
}

func TestGetAppointment_NotFound(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, appointmentsPath()+"/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancelThenUpdate(t *testing.T) {
	h := newTestRouter(t)

	created := decode[AppointmentResponse](t, do(t, h, http.MethodPost, appointmentsPath(), createBody("09:00")))
	path := appointmentsPath() + "/" + created.ID.String()

	req := httptest.NewRequest(http.MethodPost, path+"/cancel", strings.NewReader(`{"reason":"sick"}`))
	req.Header.Set(actorHeader, "client")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on cancel, got %d: %s", rec.Code, rec.Body.String())
	}
	canceled := decode[AppointmentResponse](t, rec)
	if canceled.Status != "CANCELED" || canceled.CanceledBy == nil || *canceled.CanceledBy != "client" {
		t.Fatalf("unexpected canceled appointment %+v", canceled)
	}

	rec = do(t, h, http.MethodPatch, path, `{"status":"CONFIRMED"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 leaving a terminal status, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPatch, path, `{"status":"SOMETHING"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestUpdateAppointment_Reschedule(t *testing.T) {
	h := newTestRouter(t)

	created := decode[AppointmentResponse](t, do(t, h, http.MethodPost, appointmentsPath(), createBody("09:00")))

	rec := do(t, h, http.MethodPatch, appointmentsPath()+"/"+created.ID.String(), `{"start_time":"11:00","notes":"later"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decode[AppointmentResponse](t, rec)
	if updated.StartTime.String() != "11:00" || updated.EndTime.String() != "11:30" || updated.Notes != "later" {
		t.Fatalf("unexpected update %+v", updated)
	}
}

func TestListSlots(t *testing.T) {
	h := newTestRouter(t)

	do(t, h, http.MethodPost, appointmentsPath(), createBody("10:00"))

	path := "/tenants/" + tenantID.String() + "/employees/" + employeeID.String() +
		"/slots?date=2026-03-02&service_id=" + haircutID.String()
	rec := do(t, h, http.MethodGet, path, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[SlotsResponse](t, rec)
	if len(resp.Slots) == 0 {
		t.Fatal("expected slots")
	}
	byTime := map[string]bool{}
	for _, s := range resp.Slots {
		byTime[s.Time.String()] = s.Available
	}
	if !byTime["09:00"] {
		t.Fatal("expected 09:00 to be available")
	}
	if byTime["10:00"] {
		t.Fatal("expected 10:00 to be blocked by the booking")
	}
}

func TestListSlots_RequiresDuration(t *testing.T) {
	h := newTestRouter(t)

	path := "/tenants/" + tenantID.String() + "/employees/" + employeeID.String() + "/slots?date=2026-03-02"
	if rec := do(t, h, http.MethodGet, path, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, path+"&duration=-5", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative duration, got %d", rec.Code)
	}
}

func TestCheckAvailability(t *testing.T) {
	h := newTestRouter(t)
	path := "/tenants/" + tenantID.String() + "/availability"

	body := `{"employee_id":"` + employeeID.String() + `","date":"2026-03-02","start_time":"11:45","duration":30}`
	rec := do(t, h, http.MethodPost, path, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	av := decode[scheduling.Availability](t, rec)
	if av.Available || av.Reason != scheduling.ReasonOutsideHours {
		t.Fatalf("expected outside hours, got %+v", av)
	}

	body = `{"employee_id":"` + employeeID.String() + `","date":"2026-03-02","start_time":"10:00","duration":0}`
	if rec := do(t, h, http.MethodPost, path, body); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero duration, got %d", rec.Code)
	}

	body = `{"employee_id":"` + employeeID.String() + `","date":"2026-03-02","duration":30}`
	rec = do(t, h, http.MethodPost, path, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without start_time, got %d", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec).Error; got != "invalid_request" {
		t.Fatalf("expected invalid_request, got %s", got)
	}
}

func TestReadiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name   string
		checks []DependencyCheck
		code   int
		status string
	}{
		{"no dependencies", nil, http.StatusOK, "ok"},
		{"all up", []DependencyCheck{{Name: "postgres", Critical: true, Ping: ok}}, http.StatusOK, "ok"},
		{"optional down", []DependencyCheck{
			{Name: "postgres", Critical: true, Ping: ok},
			{Name: "redis", Ping: down},
		}, http.StatusOK, "degraded"},
		{"critical down", []DependencyCheck{
			{Name: "postgres", Critical: true, Ping: down},
			{Name: "redis", Ping: ok},
		}, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestRouter(t, tt.checks...), http.MethodGet, "/health/ready", "")
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rec.Code)
			}
			if got := decode[ReadinessResponse](t, rec).Status; got != tt.status {
				t.Fatalf("expected %s, got %s", tt.status, got)
			}
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}
