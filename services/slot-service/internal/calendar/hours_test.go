package calendar

import (
	"testing"
	"time"
)

func TestParseWeeklyHours(t *testing.T) {
	week, warnings := ParseWeeklyHours(map[string]string{
		"monday":  "09:00-17:00",
		"Tue":     "08:30–12:00",
		"sunday":  "closed",
		"holiday": "10:00-11:00",
		"friday":  "late",
	})

	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d: %v", len(warnings), warnings)
	}
	if warnings[0].Key != "friday" || warnings[1].Key != "holiday" {
		t.Fatalf("unexpected warning order: %v", warnings)
	}
	if week[time.Monday].Closed || week[time.Monday].Open != 9*60 || week[time.Monday].Close != 17*60 {
		t.Fatalf("unexpected monday: %+v", week[time.Monday])
	}
	if week[time.Tuesday].Open != 8*60+30 || week[time.Tuesday].Close != 12*60 {
		t.Fatalf("unexpected tuesday: %+v", week[time.Tuesday])
	}
	for _, wd := range []time.Weekday{time.Sunday, time.Wednesday, time.Thursday, time.Friday, time.Saturday} {
		if !week[wd].Closed {
			t.Fatalf("expected %s closed", wd)
		}
	}
}

func TestParseDayHours_Rejects(t *testing.T) {
	for _, raw := range []string{"9-17", "17:00-09:00", "09:00-09:00", "24:00-24:00", "09:60-10:00", "25:00-26:00"} {
		if _, err := ParseDayHours(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestWeeklyHours_TextRoundTrip(t *testing.T) {
	in := ClosedWeek()
	in[time.Wednesday] = DayHours{Open: MustTimeOfDay("07:15"), Close: EndOfDay}

	out, warnings := ParseWeeklyHours(in.Text())
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if in.AllClosed() || !ClosedWeek().AllClosed() {
		t.Fatalf("AllClosed mismatch")
	}
}
