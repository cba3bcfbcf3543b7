package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformedTime = errors.New("malformed time, expected HH:MM")
	ErrDayOverflow   = errors.New("time extends past end of day")
)

const (
	minutesPerDay = 24 * 60

	// EndOfDay is only valid as an exclusive interval end.
	EndOfDay TimeOfDay = minutesPerDay
)

// TimeOfDay is a tenant-local wall-clock time in minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses a 24-hour "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}

	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}

	return TimeOfDay(h*60 + m), nil
}

// MustParseTimeOfDay panics on malformed input. Intended for constants and tests.
func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// TimeOfDayFromMinutes validates a stored minute count.
func TimeOfDayFromMinutes(m int) (TimeOfDay, error) {
	if m < 0 || m > minutesPerDay {
		return 0, fmt.Errorf("%w: %d minutes", ErrMalformedTime, m)
	}
	return TimeOfDay(m), nil
}

func (t TimeOfDay) Minutes() int {
	return int(t)
}

// AddMinutes shifts t by d minutes. Results past 24:00 are rejected rather than
// wrapped into the next day.
func (t TimeOfDay) AddMinutes(d int) (TimeOfDay, error) {
	r := int(t) + d
	if r < 0 {
		return 0, fmt.Errorf("%w: %s%+d", ErrMalformedTime, t, d)
	}
	if r > minutesPerDay {
		return 0, fmt.Errorf("%w: %s + %d minutes", ErrDayOverflow, t, d)
	}
	return TimeOfDay(r), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedTime, string(data))
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
