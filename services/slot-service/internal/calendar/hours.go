package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DayHours is the opening interval [Open, Close) of one weekday.
type DayHours struct {
	Closed bool
	Open   TimeOfDay
	Close  TimeOfDay
}

func (d DayHours) String() string {
	if d.Closed {
		return "closed"
	}
	return d.Open.String() + "-" + d.Close.String()
}

// WeeklyHours is indexed by time.Weekday (Sunday = 0).
type WeeklyHours [7]DayHours

func ClosedWeek() WeeklyHours {
	var w WeeklyHours
	for i := range w {
		w[i].Closed = true
	}
	return w
}

func (w WeeklyHours) Day(wd time.Weekday) DayHours {
	return w[wd]
}

// AllClosed reports a schedule with no open day at all.
func (w WeeklyHours) AllClosed() bool {
	for _, d := range w {
		if !d.Closed {
			return false
		}
	}
	return true
}

// Text renders the schedule back to the stored weekday-name map.
func (w WeeklyHours) Text() map[string]string {
	out := make(map[string]string, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		out[strings.ToLower(wd.String())] = w[wd].String()
	}
	return out
}

// ParseWarning describes a weekday entry that was skipped while parsing.
type ParseWarning struct {
	Key   string
	Value string
	Err   error
}

func (p ParseWarning) Error() string {
	return fmt.Sprintf("opening hours %s=%q: %v", p.Key, p.Value, p.Err)
}

// ParseWeeklyHours converts stored text hours into a WeeklyHours. Entries that
// cannot be understood are reported as warnings and leave the day closed, as
// do weekdays that are absent from raw.
func ParseWeeklyHours(raw map[string]string) (WeeklyHours, []ParseWarning) {
	week := ClosedWeek()
	var warnings []ParseWarning

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := raw[key]
		wd, ok := parseWeekday(key)
		if !ok {
			warnings = append(warnings, ParseWarning{Key: key, Value: value, Err: fmt.Errorf("unknown weekday")})
			continue
		}
		day, err := ParseDayHours(value)
		if err != nil {
			warnings = append(warnings, ParseWarning{Key: key, Value: value, Err: err})
			continue
		}
		week[wd] = day
	}
	return week, warnings
}

// ParseDayHours accepts "HH:MM-HH:MM" (an en dash also works), or "closed"/"" for a closed day.
func ParseDayHours(raw string) (DayHours, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" || s == "closed" || s == "-" {
		return DayHours{Closed: true}, nil
	}
	s = strings.ReplaceAll(s, "–", "-")
	openRaw, closeRaw, ok := strings.Cut(s, "-")
	if !ok {
		return DayHours{}, fmt.Errorf("expected HH:MM-HH:MM")
	}
	open, err := ParseTimeOfDay(openRaw)
	if err != nil {
		return DayHours{}, err
	}
	closing, err := ParseTimeOfDay(closeRaw)
	if err != nil {
		return DayHours{}, err
	}
	if open == EndOfDay {
		return DayHours{}, fmt.Errorf("opening time 24:00 is not allowed")
	}
	if closing <= open {
		return DayHours{}, fmt.Errorf("closing time %s is not after opening time %s", closing, open)
	}
	return DayHours{Open: open, Close: closing}, nil
}

var weekdayNames = func() map[string]time.Weekday {
	m := make(map[string]time.Weekday, 14)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		full := strings.ToLower(wd.String())
		m[full] = wd
		m[full[:3]] = wd
	}
	return m
}()

func parseWeekday(key string) (time.Weekday, bool) {
	wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(key))]
	return wd, ok
}
