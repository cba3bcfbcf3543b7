package main

import (
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/appointment"
	"github.com/hackgods/booking-engine/internal/scheduling"
)

// loadDemoData gives the in-memory backend one tenant to book against.
func loadDemoData(st *appointment.MemoryStore, lg *zap.Logger) {
	tenantID := uuid.New()
	employeeID := uuid.New()

	open := scheduling.MustParseTimeOfDay("09:00")
	closeAt := scheduling.MustParseTimeOfDay("18:00")
	breakStart := scheduling.MustParseTimeOfDay("12:00")
	breakEnd := scheduling.MustParseTimeOfDay("13:00")

	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		working := wd != time.Sunday
		st.PutWorkSchedule(scheduling.WorkSchedule{
			ID:        uuid.New(),
			TenantID:  tenantID,
			Scope:     scheduling.BusinessScope(),
			Weekday:   wd,
			IsWorking: working,
			Start:     open,
			End:       closeAt,
		})
		st.PutWorkSchedule(scheduling.WorkSchedule{
			ID:         uuid.New(),
			TenantID:   tenantID,
			Scope:      scheduling.EmployeeScope(employeeID),
			Weekday:    wd,
			IsWorking:  working && wd != time.Saturday,
			Start:      open,
			End:        closeAt,
			BreakStart: &breakStart,
			BreakEnd:   &breakEnd,
		})
	}

	serviceIDs := make([]string, 0, 3)
	for _, d := range []int{30, 45, 60} {
		id := uuid.New()
		st.PutService(appointment.ServiceDef{
			ID:          id,
			TenantID:    tenantID,
			Name:        gofakeit.HipsterWord() + " session",
			Duration:    d,
			BufferAfter: 5,
			Price:       decimal.NewFromFloat(gofakeit.Price(20, 150)).Round(2),
			Active:      true,
		})
		serviceIDs = append(serviceIDs, id.String())
	}

	extraID := uuid.New()
	st.PutExtra(appointment.Extra{
		ID:       extraID,
		TenantID: tenantID,
		Name:     "Add-on " + gofakeit.Color(),
		Price:    decimal.NewFromFloat(gofakeit.Price(5, 25)).Round(2),
		Active:   true,
	})

	clientIDs := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		id := uuid.New()
		st.PutClient(appointment.Client{ID: id, TenantID: tenantID, Name: gofakeit.Name()})
		clientIDs = append(clientIDs, id.String())
	}

	lg.Info("demo data loaded",
		zap.Stringer("tenant_id", tenantID),
		zap.Stringer("employee_id", employeeID),
		zap.Strings("service_ids", serviceIDs),
		zap.Stringer("extra_id", extraID),
		zap.Strings("client_ids", clientIDs),
	)
}
