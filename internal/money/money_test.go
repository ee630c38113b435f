package money

import "testing"

func TestApplyBps(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		bps    int64
		want   int64
	}{
		{"ten percent", 150000, 1000, 15000},
		{"rounds half up", 1050, 50, 5},   // 5.25 -> 5
		{"rounds half up 2", 1100, 50, 6}, // 5.5 -> 6
		{"zero amount", 0, 1000, 0},
		{"zero rate", 150000, 0, 0},
		{"negative amount", -100, 1000, 0},
		{"full rate", 12345, 10000, 12345},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyBps(tt.amount, tt.bps); got != tt.want {
				t.Errorf("ApplyBps(%d, %d) = %d, want %d", tt.amount, tt.bps, got, tt.want)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(100, 500, 100000); got != 500 {
		t.Errorf("expected clamp up to 500, got %d", got)
	}
	if got := Clamp(200000, 0, 100000); got != 100000 {
		t.Errorf("expected clamp down to 100000, got %d", got)
	}
	if got := Clamp(200000, 0, 0); got != 200000 {
		t.Errorf("max=0 should be unbounded, got %d", got)
	}
	if got := Clamp(750, 500, 100000); got != 750 {
		t.Errorf("in-range value should pass through, got %d", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(150000, "usd"); got != "1500.00 USD" {
		t.Errorf("Format = %q", got)
	}
	if got := Format(5, "usd"); got != "0.05 USD" {
		t.Errorf("Format = %q", got)
	}
	if got := Format(-1250, "eur"); got != "-12.50 EUR" {
		t.Errorf("Format = %q", got)
	}
}
