package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/appointment"
	"github.com/hackgods/booking-engine/internal/scheduling"
)

const actorHeader = "X-Actor"

func listSlotsHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := uuidParam(w, r, "tenantID", "invalid_tenant_id")
		if !ok {
			return
		}
		employeeID, ok := uuidParam(w, r, "employeeID", "invalid_employee_id")
		if !ok {
			return
		}

		q := r.URL.Query()
		date, err := scheduling.ParseDate(q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		sq := appointment.SlotsQuery{
			TenantID:   tenantID,
			EmployeeID: employeeID,
			Date:       date,
		}
		if v := q.Get("service_id"); v != "" {
			serviceID, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
				return
			}
			sq.ServiceID = &serviceID
		}
		if sq.Duration, ok = intQuery(w, q.Get("duration"), "invalid_duration"); !ok {
			return
		}
		if sq.Interval, ok = intQuery(w, q.Get("interval"), "invalid_interval"); !ok {
			return
		}

		slots, err := svc.Slots(r.Context(), sq)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		if slots == nil {
			slots = []scheduling.TimeSlot{}
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			EmployeeID: employeeID,
			Date:       scheduling.DateKey(date),
			Slots:      slots,
		})
	}
}

func checkAvailabilityHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := uuidParam(w, r, "tenantID", "invalid_tenant_id")
		if !ok {
			return
		}

		var req AvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		employeeID, err := uuid.Parse(req.EmployeeID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_employee_id", "employee_id must be a valid UUID")
			return
		}
		date, err := scheduling.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		if req.StartTime == nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "start_time is required")
			return
		}

		query := scheduling.AvailabilityQuery{
			TenantID:   tenantID,
			EmployeeID: employeeID,
			Date:       date,
			Start:      *req.StartTime,
			Duration:   req.Duration,
		}
		if req.ExcludeAppointmentID != nil {
			exclude, err := uuid.Parse(*req.ExcludeAppointmentID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_appointment_id", "exclude_appointment_id must be a valid UUID")
				return
			}
			query.ExcludeAppointmentID = &exclude
		}

		availability, err := svc.CheckAvailability(r.Context(), query)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, availability)
	}
}

func createAppointmentHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := uuidParam(w, r, "tenantID", "invalid_tenant_id")
		if !ok {
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		clientID, err := uuid.Parse(req.ClientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_client_id", "client_id must be a valid UUID")
			return
		}
		employeeID, err := uuid.Parse(req.EmployeeID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_employee_id", "employee_id must be a valid UUID")
			return
		}
		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}
		date, err := scheduling.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		if req.StartTime == nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "start_time is required")
			return
		}
		extras, err := parseExtras(req.Extras)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_extra_id", err.Error())
			return
		}

		appt, err := svc.Create(r.Context(), tenantID, appointment.CreateRequest{
			ClientID:   clientID,
			EmployeeID: employeeID,
			ServiceID:  serviceID,
			Date:       date,
			StartTime:  *req.StartTime,
			Notes:      req.Notes,
			Extras:     extras,
		})
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := uuidParam(w, r, "tenantID", "invalid_tenant_id")
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), tenantID, id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateAppointmentHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := uuidParam(w, r, "tenantID", "invalid_tenant_id")
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var body UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		req, err := body.toUpdateRequest()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		appt, err := svc.Update(r.Context(), tenantID, id, req, r.Header.Get(actorHeader))
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := uuidParam(w, r, "tenantID", "invalid_tenant_id")
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		// An empty body cancels without a reason.
		var req CancelAppointmentRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
				return
			}
		}

		appt, err := svc.Cancel(r.Context(), tenantID, id, req.Reason, r.Header.Get(actorHeader))
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func (b UpdateAppointmentRequest) toUpdateRequest() (appointment.UpdateRequest, error) {
	req := appointment.UpdateRequest{
		StartTime:    b.StartTime,
		Notes:        b.Notes,
		CancelReason: b.CancelReason,
	}
	if b.EmployeeID != nil {
		id, err := uuid.Parse(*b.EmployeeID)
		if err != nil {
			return req, errors.New("employee_id must be a valid UUID")
		}
		req.EmployeeID = &id
	}
	if b.ServiceID != nil {
		id, err := uuid.Parse(*b.ServiceID)
		if err != nil {
			return req, errors.New("service_id must be a valid UUID")
		}
		req.ServiceID = &id
	}
	if b.Date != nil {
		d, err := scheduling.ParseDate(*b.Date)
		if err != nil {
			return req, errors.New("date must be YYYY-MM-DD")
		}
		req.Date = &d
	}
	if b.Status != nil {
		s := appointment.Status(*b.Status)
		req.Status = &s
	}
	if b.PaymentStatus != nil {
		p := appointment.PaymentStatus(*b.PaymentStatus)
		req.PaymentStatus = &p
	}
	if b.Extras != nil {
		extras, err := parseExtras(*b.Extras)
		if err != nil {
			return req, err
		}
		req.Extras = &extras
	}
	return req, nil
}

func parseExtras(in []ExtraRequest) ([]appointment.ExtraRequest, error) {
	out := make([]appointment.ExtraRequest, 0, len(in))
	for _, e := range in {
		id, err := uuid.Parse(e.ExtraID)
		if err != nil {
			return nil, errors.New("extra_id must be a valid UUID")
		}
		out = append(out, appointment.ExtraRequest{ExtraID: id, Quantity: e.Quantity})
	}
	return out, nil
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(w http.ResponseWriter, raw, code string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, code, "must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func handleServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var unavailable *appointment.SlotUnavailableError

	switch {
	case errors.As(err, &unavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", unavailable.Reason)
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrAppointmentChanged):
		writeError(w, http.StatusConflict, "appointment_changed", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", "")
	case errors.Is(err, appointment.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", "")
	case errors.Is(err, appointment.ErrInvalidRequest),
		errors.Is(err, scheduling.ErrInvalidDuration),
		errors.Is(err, scheduling.ErrMalformedTime),
		errors.Is(err, scheduling.ErrDayOverflow):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
