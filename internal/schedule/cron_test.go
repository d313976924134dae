package schedule

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		expr   string
		lo, hi int
		want   []int
		ok     bool
	}{
		{"*", 0, 6, []int{0, 1, 2, 3, 4, 5, 6}, true},
		{"5", 0, 59, []int{5}, true},
		{"1,3,5", 0, 59, []int{1, 3, 5}, true},
		{"5,1,5", 0, 59, []int{1, 5}, true},
		{"10-12", 0, 23, []int{10, 11, 12}, true},
		{"*/15", 0, 59, []int{0, 15, 30, 45}, true},
		{"5/20", 0, 59, []int{5, 25, 45}, true},
		{"*/5", 1, 12, []int{1, 6, 11}, true},
		{"0-3", 1, 31, []int{1, 2, 3}, true},
		{"5,70", 0, 59, []int{5}, true},
		{"1-2,*/30", 0, 59, []int{0, 1, 2, 30}, true},
		{"70", 0, 59, nil, false},
		{"3-1", 0, 59, nil, false},
		{"a", 0, 59, nil, false},
		{"", 0, 59, nil, false},
		{"*/0", 0, 59, nil, false},
		{"*/x", 0, 59, nil, false},
		{"x/2", 0, 59, nil, false},
		{"1-x", 0, 59, nil, false},
		{"1,,2", 0, 59, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, ok := ParseField(tt.expr, tt.lo, tt.hi)
			if ok != tt.ok {
				t.Fatalf("ParseField(%q) ok = %v, want %v", tt.expr, ok, tt.ok)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("ParseField(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr string
	}{
		{"* * * * *", ""},
		{"  0 8  * * 1-5 ", ""},
		{"*/10 6-22 1,15 */2 0", ""},
		{"* * * *", "expected 5 fields: minute hour day month weekday"},
		{"* * * * * *", "expected 5 fields"},
		{"", "expected 5 fields"},
		{"75 * * * *", "invalid minute(0-59): '75'"},
		{"0 24 * * *", "invalid hour(0-23): '24'"},
		{"0 0 0 * *", "invalid day(1-31): '0'"},
		{"0 0 * 13 *", "invalid month(1-12): '13'"},
		{"0 0 * * 7", "invalid weekday(0-6): '7'"},
		{"0 0 * * mon", "invalid weekday(0-6): 'mon'"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := Validate(tt.expr)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate(%q) = %v, want nil", tt.expr, err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidCron) {
				t.Fatalf("Validate(%q) = %v, want ErrInvalidCron", tt.expr, err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate(%q) = %q, want it to contain %q", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestNextRun(t *testing.T) {
	// Sunday.
	base := time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC)

	tests := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
	}{
		{"every minute", "* * * * *", base, time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)},
		{"strictly after aligned time", "* * * * *",
			time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)},
		{"later today", "30 9 * * *", base, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)},
		{"tomorrow", "30 9 * * *",
			time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC), time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)},
		{"sunday is six", "0 10 * * 6", base, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"monday is zero", "0 8 * * 0", base, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)},
		{"tuesday is one", "0 8 * * 1", base, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)},
		{"monday from midweek", "0 7 * * 0",
			time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC), time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)},
		{"working days", "30 7 * * 0-4",
			time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC), time.Date(2026, 10, 19, 7, 30, 0, 0, time.UTC)},
		{"step minutes", "*/20 * * * *", base, time.Date(2026, 3, 1, 9, 20, 0, 0, time.UTC)},
		{"next year", "0 0 1 1 *", base, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"never within horizon", "0 0 29 2 *", base, time.Time{}},
		{"impossible date", "0 0 31 2 *", base, time.Time{}},
		{"invalid", "0 0 * *", base, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRun(tt.expr, tt.after)
			if !got.Equal(tt.want) {
				t.Errorf("NextRun(%q, %v) = %v, want %v", tt.expr, tt.after, got, tt.want)
			}
		})
	}
}

func TestNextRunIsUTC(t *testing.T) {
	msk := time.FixedZone("MSK", 3*60*60)
	after := time.Date(2026, 3, 1, 12, 0, 0, 0, msk) // 09:00 UTC

	got := NextRun("30 9 * * *", after)
	want := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("NextRun() = %v, want %v", got, want)
	}
}

func TestExprString(t *testing.T) {
	e, err := Parse("0 8 * * 1-5")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if e.String() != "0 8 * * 1-5" {
		t.Errorf("String() = %q", e.String())
	}
}
