package storage

import (
	"testing"
	"time"
)

func TestPrevTradingDay(t *testing.T) {
	cases := []struct {
		name string
		day  string
		want string
	}{
		{"midweek", "2024-02-15", "2024-02-14"},
		{"monday skips weekend", "2024-02-19", "2024-02-16"},
		{"sunday rolls back to friday", "2024-02-18", "2024-02-16"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := time.Parse(DateLayout, tc.day)
			if err != nil {
				t.Fatalf("parse %s: %v", tc.day, err)
			}
			got := PrevTradingDay(d).Format(DateLayout)
			if got != tc.want {
				t.Fatalf("PrevTradingDay(%s) = %s, want %s", tc.day, got, tc.want)
			}
		})
	}
}

func TestContinuousCount(t *testing.T) {
	if got := ContinuousCount(3, true); got != 4 {
		t.Fatalf("streak extend = %d, want 4", got)
	}
	if got := ContinuousCount(3, false); got != 1 {
		t.Fatalf("streak reset = %d, want 1", got)
	}
}
