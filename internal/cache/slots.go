package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hackgods/booking-engine/internal/scheduling"
)

type Generator interface {
	GenerateSlots(ctx context.Context, q scheduling.SlotQuery) ([]scheduling.TimeSlot, error)
}

// SlotCache memoizes enumerated days. Booking writes invalidate their
// (tenant, employee, date); the TTL bounds staleness from schedule edits made
// outside this process.
type SlotCache struct {
	next Generator
	lru  *expirable.LRU[string, []scheduling.TimeSlot]

	// gens counts invalidations per day; an enumeration that started before
	// the latest one is returned but not stored.
	mu   sync.Mutex
	gens map[string]uint64
}

func NewSlotCache(next Generator, size int, ttl time.Duration) *SlotCache {
	if size <= 0 {
		size = 1024
	}
	return &SlotCache{
		next: next,
		lru:  expirable.NewLRU[string, []scheduling.TimeSlot](size, nil, ttl),
		gens: make(map[string]uint64),
	}
}

func dayPrefix(tenantID, employeeID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("%s:%s:%s:", tenantID, employeeID, scheduling.DateKey(date))
}

func slotKey(q scheduling.SlotQuery) string {
	return fmt.Sprintf("%s%d:%d", dayPrefix(q.TenantID, q.EmployeeID, q.Date), q.ServiceDuration, q.Interval)
}

func (c *SlotCache) GenerateSlots(ctx context.Context, q scheduling.SlotQuery) ([]scheduling.TimeSlot, error) {
	key := slotKey(q)
	if slots, ok := c.lru.Get(key); ok {
		return append([]scheduling.TimeSlot(nil), slots...), nil
	}

	day := dayPrefix(q.TenantID, q.EmployeeID, q.Date)
	c.mu.Lock()
	gen := c.gens[day]
	c.mu.Unlock()

	slots, err := c.next.GenerateSlots(ctx, q)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gens[day] == gen {
		c.lru.Add(key, append([]scheduling.TimeSlot(nil), slots...))
	}
	c.mu.Unlock()
	return slots, nil
}

// Invalidate drops every cached enumeration of the given employee day.
func (c *SlotCache) Invalidate(tenantID, employeeID uuid.UUID, date time.Time) {
	prefix := dayPrefix(tenantID, employeeID, date)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[prefix]++
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

func (c *SlotCache) Len() int {
	return c.lru.Len()
}
