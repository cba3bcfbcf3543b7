package scheduling

// Interval is a half-open wall-clock range [Start, End).
type Interval struct {
	Start TimeOfDay
	End   TimeOfDay
}

// NewInterval returns [start, start+duration). It fails when the range would run
// past the end of the day.
func NewInterval(start TimeOfDay, duration int) (Interval, error) {
	end, err := start.AddMinutes(duration)
	if err != nil {
		return Interval{}, err
	}
	return Interval{Start: start, End: end}, nil
}

// Overlaps reports whether the two half-open intervals share any minute.
// Touching intervals (a.End == b.Start) do not overlap.
func (a Interval) Overlaps(b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// Within reports whether a lies entirely inside outer.
func (a Interval) Within(outer Interval) bool {
	return a.Start >= outer.Start && a.End <= outer.End
}

func (a Interval) Minutes() int {
	return int(a.End - a.Start)
}

func (a Interval) String() string {
	return a.Start.String() + "-" + a.End.String()
}
