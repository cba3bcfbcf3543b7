package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/db"
	"github.com/hackgods/booking-engine/internal/logger"
)

type seedConfig struct {
	Tenants   int
	Employees int // per tenant
	Clients   int // per tenant
}

var serviceCatalog = []struct {
	name     string
	duration int
	buffer   int
	confirm  bool
}{
	{"Haircut", 30, 0, false},
	{"Beard trim", 20, 5, false},
	{"Coloring", 90, 15, true},
	{"Manicure", 45, 0, false},
	{"Massage", 60, 10, true},
}

func main() {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	lg, err := logger.New(os.Getenv("APP_ENV"), "info")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	cfg := seedConfig{
		Tenants:   getInt("SEED_TENANTS", 5),
		Employees: getInt("SEED_EMPLOYEES", 4),
		Clients:   getInt("SEED_CLIENTS", 500),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 0)
	if err != nil {
		lg.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool, lg); err != nil {
		lg.Fatal("migrate", zap.Error(err))
	}

	gofakeit.Seed(time.Now().UnixNano())

	for i := 0; i < cfg.Tenants; i++ {
		tenantID, err := seedTenant(context.Background(), pool, cfg)
		if err != nil {
			lg.Fatal("seed tenant", zap.Error(err))
		}
		lg.Info("tenant seeded", zap.Stringer("tenant_id", tenantID), zap.Int("n", i+1), zap.Int("of", cfg.Tenants))
	}

	lg.Info("seed complete")
}

func seedTenant(ctx context.Context, pool *pgxpool.Pool, cfg seedConfig) (uuid.UUID, error) {
	tenantID := uuid.New()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ($1, $2)`, tenantID, gofakeit.Company()); err != nil {
		return uuid.Nil, err
	}

	batch := &pgx.Batch{}

	// business hours: Mon-Sat 08:00-19:00, closed Sunday
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		batch.Queue(`
			INSERT INTO work_schedules (id, tenant_id, employee_id, weekday, is_working, start_min, end_min)
			VALUES ($1, $2, NULL, $3, $4, $5, $6)
		`, uuid.New(), tenantID, int16(wd), wd != time.Sunday, int16(8*60), int16(19*60))
	}

	for e := 0; e < cfg.Employees; e++ {
		employeeID := uuid.New()
		batch.Queue(`INSERT INTO employees (id, tenant_id, name) VALUES ($1, $2, $3)`,
			employeeID, tenantID, gofakeit.Name())

		start := int16(gofakeit.Number(8, 10) * 60)
		end := start + 8*60
		breakStart := start + 4*60
		dayOff := time.Weekday(gofakeit.Number(1, 6))
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			batch.Queue(`
				INSERT INTO work_schedules (id, tenant_id, employee_id, weekday, is_working, start_min, end_min, break_start_min, break_end_min)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, uuid.New(), tenantID, employeeID, int16(wd), wd != time.Sunday && wd != dayOff,
				start, end, breakStart, breakStart+60)
		}
	}

	for _, s := range serviceCatalog {
		price := decimal.NewFromFloat(gofakeit.Price(15, 200)).Round(2)
		batch.Queue(`
			INSERT INTO services (id, tenant_id, name, duration_min, buffer_after_min, price, requires_confirm)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
		`, uuid.New(), tenantID, s.name, s.duration, s.buffer, price.StringFixed(2), s.confirm)
	}

	for i := 0; i < 3; i++ {
		price := decimal.NewFromFloat(gofakeit.Price(3, 30)).Round(2)
		batch.Queue(`INSERT INTO extras (id, tenant_id, name, price) VALUES ($1, $2, $3, $4::numeric)`,
			uuid.New(), tenantID, gofakeit.ProductName(), price.StringFixed(2))
	}

	holiday := time.Now().AddDate(0, 0, gofakeit.Number(7, 60))
	batch.Queue(`INSERT INTO holidays (id, tenant_id, date, name, full_day) VALUES ($1, $2, $3::date, $4, TRUE)`,
		uuid.New(), tenantID, holiday.Format(time.DateOnly), "Closed for "+gofakeit.HipsterWord())

	for i := 0; i < cfg.Clients; i++ {
		batch.Queue(`INSERT INTO clients (id, tenant_id, name, email, phone) VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), tenantID, gofakeit.Name(), gofakeit.Email(), gofakeit.Phone())
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return uuid.Nil, err
	}

	return tenantID, tx.Commit(ctx)
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
