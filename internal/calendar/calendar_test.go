package calendar

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestWorkingDays(t *testing.T) {
	holidays := map[string]bool{"2026-05-01": true}

	tests := []struct {
		name    string
		start   string
		end     string
		halfDay bool
		want    string
		wantErr bool
	}{
		{"single weekday", "2026-05-04", "2026-05-04", false, "1", false},
		{"full week", "2026-05-04", "2026-05-08", false, "5", false},
		{"spans weekend", "2026-05-07", "2026-05-12", false, "4", false},
		{"holiday excluded", "2026-04-27", "2026-05-01", false, "4", false},
		{"weekend only", "2026-05-09", "2026-05-10", false, "0", false},
		{"half day", "2026-05-04", "2026-05-04", true, "0.5", false},
		{"half day on weekend", "2026-05-09", "2026-05-09", true, "0", false},
		{"half day range", "2026-05-04", "2026-05-05", true, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRange(tt.start, tt.end)
			if err != nil {
				t.Fatalf("ParseRange returned error: %v", err)
			}
			got, err := WorkingDays(r, holidays, tt.halfDay)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("WorkingDays returned error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseRange_Invalid(t *testing.T) {
	tests := []struct{ start, end string }{
		{"2026-05-04", "2026-05-03"},
		{"2026-13-01", "2026-13-02"},
		{"05/04/2026", "2026-05-04"},
	}
	for _, tt := range tests {
		if _, err := ParseRange(tt.start, tt.end); err == nil {
			t.Fatalf("expected error for %s..%s", tt.start, tt.end)
		}
	}
}

func TestWorkingDays_SpanLimit(t *testing.T) {
	r, _ := ParseRange("2026-01-01", "2027-06-01")
	if _, err := WorkingDays(r, nil, false); err == nil {
		t.Fatal("expected span limit error")
	}
}

func TestWeek(t *testing.T) {
	wed := time.Date(2026, 5, 6, 15, 0, 0, 0, time.UTC)

	mon := Week(wed, WeekStartMonday)
	if FormatDate(mon.Start) != "2026-05-04" || FormatDate(mon.End) != "2026-05-10" {
		t.Fatalf("unexpected monday week %s..%s", FormatDate(mon.Start), FormatDate(mon.End))
	}
	sun := Week(wed, WeekStartSunday)
	if FormatDate(sun.Start) != "2026-05-03" || FormatDate(sun.End) != "2026-05-09" {
		t.Fatalf("unexpected sunday week %s..%s", FormatDate(sun.Start), FormatDate(sun.End))
	}
	if got := Week(time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC), WeekStartMonday); FormatDate(got.Start) != "2026-05-04" {
		t.Fatalf("expected sunday to belong to previous monday week, got %s", FormatDate(got.Start))
	}
}
