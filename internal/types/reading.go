package types

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Reading is one timestamped moisture sample.
// Value type, never mutated after Capture.
type Reading struct {
	CapturedAt time.Time
	Moisture   int32
	Seq        uint32
}

func (r Reading) Date() string { return r.CapturedAt.Format(DateLayout) }
func (r Reading) Time() string { return r.CapturedAt.Format(TimeLayout) }

func (r Reading) String() string {
	return fmt.Sprintf("Reading(seq=%d at=%s %s moisture=%d)", r.Seq, r.Date(), r.Time(), r.Moisture)
}

// ParseCapturedAt joins wire date and time back into local wall clock time.
func ParseCapturedAt(date, tim string) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+tim, time.Local)
}

// Equal compares readings at second resolution, which is all the wire carries.
func (r Reading) Equal(other Reading) bool {
	return r.Seq == other.Seq && r.Moisture == other.Moisture &&
		r.CapturedAt.Truncate(time.Second).Equal(other.CapturedAt.Truncate(time.Second))
}
