package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/scheduling"
)

type countingGenerator struct {
	calls int
}

func (g *countingGenerator) GenerateSlots(ctx context.Context, q scheduling.SlotQuery) ([]scheduling.TimeSlot, error) {
	g.calls++
	return []scheduling.TimeSlot{{Time: scheduling.MustParseTimeOfDay("09:00"), Available: true}}, nil
}

var (
	tenantID = uuid.New()
	employee = uuid.New()
	monday   = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

func query(date time.Time, duration int) scheduling.SlotQuery {
	return scheduling.SlotQuery{TenantID: tenantID, EmployeeID: employee, Date: date, ServiceDuration: duration, Interval: 30}
}

func TestSlotCache_HitsAndInvalidation(t *testing.T) {
	gen := &countingGenerator{}
	c := NewSlotCache(gen, 16, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.GenerateSlots(ctx, query(monday, 30)); err != nil {
			t.Fatalf("GenerateSlots: %v", err)
		}
	}
	if gen.calls != 1 {
		t.Fatalf("expected one underlying call, got %d", gen.calls)
	}

	// different duration is a different entry
	_, _ = c.GenerateSlots(ctx, query(monday, 60))
	tuesday := monday.AddDate(0, 0, 1)
	_, _ = c.GenerateSlots(ctx, query(tuesday, 30))
	if gen.calls != 3 || c.Len() != 3 {
		t.Fatalf("expected 3 entries, calls=%d len=%d", gen.calls, c.Len())
	}

	c.Invalidate(tenantID, employee, monday)
	if c.Len() != 1 {
		t.Fatalf("expected only the tuesday entry to survive, got %d", c.Len())
	}

	_, _ = c.GenerateSlots(ctx, query(monday, 30))
	if gen.calls != 4 {
		t.Fatalf("expected a miss after invalidation, got %d calls", gen.calls)
	}
}

func TestSlotCache_ReturnsCopies(t *testing.T) {
	c := NewSlotCache(&countingGenerator{}, 16, time.Minute)
	ctx := context.Background()

	first, _ := c.GenerateSlots(ctx, query(monday, 30))
	first[0].Available = false

	second, _ := c.GenerateSlots(ctx, query(monday, 30))
	if !second[0].Available {
		t.Fatal("mutating a returned slice must not change the cache")
	}
}

// gatedGenerator blocks each call until release is closed.
type gatedGenerator struct {
	started chan struct{}
	release chan struct{}
	calls   int
}

func (g *gatedGenerator) GenerateSlots(ctx context.Context, q scheduling.SlotQuery) ([]scheduling.TimeSlot, error) {
	g.calls++
	if g.calls == 1 {
		close(g.started)
		<-g.release
	}
	return []scheduling.TimeSlot{{Time: scheduling.MustParseTimeOfDay("10:00"), Available: g.calls == 1}}, nil
}

func TestSlotCache_InvalidateDuringGenerationIsNotCached(t *testing.T) {
	gen := &gatedGenerator{started: make(chan struct{}), release: make(chan struct{})}
	c := NewSlotCache(gen, 16, time.Minute)
	ctx := context.Background()

	done := make(chan []scheduling.TimeSlot)
	go func() {
		slots, _ := c.GenerateSlots(ctx, query(monday, 30))
		done <- slots
	}()

	<-gen.started
	c.Invalidate(tenantID, employee, monday)
	close(gen.release)
	<-done

	if c.Len() != 0 {
		t.Fatalf("enumeration from before the invalidation was cached, len=%d", c.Len())
	}

	slots, err := c.GenerateSlots(ctx, query(monday, 30))
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}
	if gen.calls != 2 || slots[0].Available {
		t.Fatalf("expected a fresh enumeration, calls=%d available=%v", gen.calls, slots[0].Available)
	}
}
