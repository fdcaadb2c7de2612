package format

import (
	"testing"
	"time"
)

func TestBytes(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{500, "500 B"},
		{2048, "2.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
	}
	for _, c := range cases {
		if got := Bytes(c.in); got != c.want {
			t.Errorf("Bytes(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(500 * time.Millisecond); got != "500ms" {
		t.Errorf("Duration(500ms) = %q", got)
	}
	if got := Duration(90 * time.Second); got != "1m30s" {
		t.Errorf("Duration(90s) = %q, want 1m30s", got)
	}
	if got := Duration(2*time.Hour + 3*time.Minute + 4*time.Second); got != "2h3m4s" {
		t.Errorf("Duration(2h3m4s) = %q", got)
	}
}

func TestPercentage(t *testing.T) {
	if got := Percentage(0); got != zeroPercent {
		t.Errorf("Percentage(0) = %q", got)
	}
	if got := Percentage(100); got != "100%" {
		t.Errorf("Percentage(100) = %q", got)
	}
	if got := Percentage(33.33); got != "33.3%" {
		t.Errorf("Percentage(33.33) = %q", got)
	}
}

func TestLatency(t *testing.T) {
	if got := Latency(0); got != zeroLatency {
		t.Errorf("Latency(0) = %q", got)
	}
	if got := Latency(1500); got != "1.5s" {
		t.Errorf("Latency(1500) = %q", got)
	}
	if got := Latency(250); got != "250ms" {
		t.Errorf("Latency(250) = %q", got)
	}
}

func TestTimeAgo_ZeroTime(t *testing.T) {
	if got := TimeAgo(time.Time{}); got != neverChecked {
		t.Errorf("TimeAgo(zero) = %q, want %q", got, neverChecked)
	}
}

func TestTimeUntil_ZeroTime(t *testing.T) {
	if got := TimeUntil(time.Time{}); got != "unknown" {
		t.Errorf("TimeUntil(zero) = %q", got)
	}
}

func TestTimeUntil_PastIsNow(t *testing.T) {
	if got := TimeUntil(time.Now().Add(-time.Minute)); got != "now" {
		t.Errorf("TimeUntil(past) = %q, want now", got)
	}
}
