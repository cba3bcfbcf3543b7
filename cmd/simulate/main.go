package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/db"
	"github.com/hackgods/booking-engine/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ChangeRatio  float64
	ReadRatio    float64
	Days         int
	ClientLimit  int
	PostgresDSN  string
}

type tenantData struct {
	ID        uuid.UUID
	Employees []uuid.UUID
	Services  []uuid.UUID
	Clients   []uuid.UUID
}

type booked struct {
	TenantID uuid.UUID
	ID       uuid.UUID
}

type DataPool struct {
	Tenants []tenantData
	Dates   []string

	mu           sync.RWMutex
	appointments []booked
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pick := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), pick(50), pick(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking    OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
	Slots      OperationMetrics
	ReadByID   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *zap.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	lg, err := logger.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		lg.Fatal("invalid config", zap.Error(err))
	}

	lg.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("change", cfg.ChangeRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 0)
	if err != nil {
		lg.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		lg.Fatal("load data pool", zap.Error(err))
	}
	lg.Info("data pool loaded", zap.Int("tenants", len(dataPool.Tenants)), zap.Strings("dates", dataPool.Dates))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: lg,
	}

	sim.Run()
	sim.PrintReport()

	overlaps, err := countOverlaps(context.Background(), pgPool)
	if err != nil {
		lg.Fatal("overlap check", zap.Error(err))
	}
	if overlaps > 0 {
		lg.Fatal("double bookings detected", zap.Int("pairs", overlaps))
	}
	lg.Info("no double bookings detected")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ChangeRatio:  getFloat("SIM_CHANGE_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		Days:         getInt("SIM_DAYS", 3),
		ClientLimit:  getInt("SIM_CLIENT_LIMIT", 200),
		PostgresDSN:  base.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.ChangeRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ChangeRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 {
		return fmt.Errorf("SIM_DAYS must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load tenants: %w", err)
	}
	var tenantIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		tenantIDs = append(tenantIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, tid := range tenantIDs {
		t := tenantData{ID: tid}
		queries := []struct {
			sql string
			dst *[]uuid.UUID
		}{
			{`SELECT id FROM employees WHERE tenant_id = $1 AND active`, &t.Employees},
			{`SELECT id FROM services WHERE tenant_id = $1 AND active`, &t.Services},
			{`SELECT id FROM clients WHERE tenant_id = $1 LIMIT ` + strconv.Itoa(cfg.ClientLimit), &t.Clients},
		}
		for _, q := range queries {
			ids, err := loadIDs(ctx, pool, q.sql, tid)
			if err != nil {
				return nil, err
			}
			*q.dst = ids
		}
		if len(t.Employees) > 0 && len(t.Services) > 0 && len(t.Clients) > 0 {
			dp.Tenants = append(dp.Tenants, t)
		}
	}
	if len(dp.Tenants) == 0 {
		return nil, fmt.Errorf("no seeded tenants found, run cmd/seed first")
	}

	// next working days, skipping Sundays
	for d := time.Now().AddDate(0, 0, 1); len(dp.Dates) < cfg.Days; d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Sunday {
			dp.Dates = append(dp.Dates, d.Format(time.DateOnly))
		}
	}

	return dp, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, sql string, tenantID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, sql, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// countOverlaps returns the number of active appointment pairs that share
// an employee and overlap in time.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments a
		JOIN appointments b
		  ON a.tenant_id = b.tenant_id
		 AND a.employee_id = b.employee_id
		 AND a.date = b.date
		 AND a.id < b.id
		 AND a.start_min < b.end_min
		 AND b.start_min < a.end_min
		WHERE a.status NOT IN ('CANCELED', 'NO_SHOW')
		  AND b.status NOT IN ('CANCELED', 'NO_SHOW')
	`).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation")

	var g errgroup.Group
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(ctx, workerID)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.ChangeRatio:
			if rng.Intn(2) == 0 {
				s.doReschedule(ctx, rng)
			} else {
				s.doCancel(ctx, rng)
			}
		default:
			if rng.Intn(2) == 0 {
				s.doSlots(ctx, rng)
			} else {
				s.doReadByID(ctx, rng)
			}
		}
	}
}

func (s *Simulator) pickTenant(rng *rand.Rand) tenantData {
	return s.pool.Tenants[rng.Intn(len(s.pool.Tenants))]
}

func pick(rng *rand.Rand, ids []uuid.UUID) uuid.UUID {
	return ids[rng.Intn(len(ids))]
}

// randomStart returns a quarter-hour between 08:00 and 17:45; some fall
// outside working hours on purpose.
func randomStart(rng *rand.Rand) string {
	m := 8*60 + rng.Intn(40)*15
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pickTenant(rng)
	body := map[string]any{
		"client_id":   pick(rng, t.Clients).String(),
		"employee_id": pick(rng, t.Employees).String(),
		"service_id":  pick(rng, t.Services).String(),
		"date":        s.pool.Dates[rng.Intn(len(s.pool.Dates))],
		"start_time":  randomStart(rng),
	}

	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency, err := s.call(ctx, http.MethodPost, fmt.Sprintf("/tenants/%s/appointments", t.ID), body, &resp)
	if err == nil && status == http.StatusCreated && resp.ID != uuid.Nil {
		s.pool.AddAppointment(booked{TenantID: t.ID, ID: resp.ID})
	}
	s.metrics.Booking.Record(latency, status, err)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	body := map[string]any{"start_time": randomStart(rng)}
	status, latency, err := s.call(ctx, http.MethodPatch, fmt.Sprintf("/tenants/%s/appointments/%s", b.TenantID, b.ID), body, nil)
	s.metrics.Reschedule.Record(latency, status, err)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	body := map[string]any{"reason": "simulated"}
	status, latency, err := s.call(ctx, http.MethodPost, fmt.Sprintf("/tenants/%s/appointments/%s/cancel", b.TenantID, b.ID), body, nil)
	s.metrics.Cancel.Record(latency, status, err)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	t := s.pickTenant(rng)
	path := fmt.Sprintf("/tenants/%s/employees/%s/slots?date=%s&service_id=%s",
		t.ID, pick(rng, t.Employees), s.pool.Dates[rng.Intn(len(s.pool.Dates))], pick(rng, t.Services))
	status, latency, err := s.call(ctx, http.MethodGet, path, nil, nil)
	s.metrics.Slots.Record(latency, status, err)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency, err := s.call(ctx, http.MethodGet, fmt.Sprintf("/tenants/%s/appointments/%s", b.TenantID, b.ID), nil, nil)
	s.metrics.ReadByID.Record(latency, status, err)
}

func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "simulator")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
		return resp.StatusCode, latency, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, latency, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Slots", &s.metrics.Slots)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
