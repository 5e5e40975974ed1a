// Package timeofday represents wall-clock times of day as minutes since
// midnight. Values are exchanged as zero-padded 24-hour "HH:MM" strings.
package timeofday

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the exclusive upper bound of a Clock.
const MinutesPerDay = 24 * 60

var hhmmPattern = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

// Clock is a time of day in minutes after midnight, 0 <= Clock < MinutesPerDay.
type Clock int

// Valid reports whether s is an HH:MM string accepted by Parse.
func Valid(s string) bool {
	return hhmmPattern.MatchString(s)
}

// Parse converts "HH:MM" into a Clock. The "HH:MM:SS" form produced by
// Postgres time columns is accepted too; seconds are dropped.
func Parse(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	if len(s) == 8 && s[5] == ':' {
		if _, err := strconv.Atoi(s[6:]); err == nil {
			s = s[:5]
		}
	}
	if !hhmmPattern.MatchString(s) {
		return 0, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	h, m, _ := strings.Cut(s, ":")
	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)
	return Clock(hours*60 + minutes), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Clock {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Of returns the time of day of t in t's location, truncated to the minute.
func Of(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

// String formats c as zero-padded HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Add returns c shifted by the given number of minutes. ok is false when the
// result would leave the day in either direction.
func (c Clock) Add(minutes int) (Clock, bool) {
	n := int(c) + minutes
	if n < 0 || n >= MinutesPerDay {
		return 0, false
	}
	return Clock(n), true
}

func (c Clock) Before(o Clock) bool { return c < o }
func (c Clock) After(o Clock) bool  { return c > o }

// Within reports whether now falls in [start, end). When start is after end
// the range wraps midnight, e.g. 22:00-02:00. A Clock from Of drops seconds,
// so 09:59:59 is inside a window ending at 10:00 and 10:00:00 is not.
func Within(now, start, end Clock) bool {
	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

// Contains reports whether [start, end) lies inside [outerStart, outerEnd].
func Contains(outerStart, outerEnd, start, end Clock) bool {
	return start >= outerStart && end <= outerEnd
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
