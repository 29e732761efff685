package evidence

import (
	"strings"
	"testing"
	"time"
)

func TestStampMonotonicUnderClockSkew(t *testing.T) {
	r := NewRecorder(t.TempDir(), "run1")

	times := []time.Time{
		time.UnixMilli(1000),
		time.UnixMilli(2000),
		time.UnixMilli(1500), // clock went backwards
		time.UnixMilli(3000),
	}
	i := 0
	r.now = func() time.Time {
		ts := times[i]
		i++
		return ts
	}

	var last int64
	for range times {
		ts := r.Stamp()
		if ts < last {
			t.Fatalf("timestamp went backwards: %d after %d", ts, last)
		}
		last = ts
	}
}

func TestNextScreenshotPathUnique(t *testing.T) {
	r := NewRecorder("/tmp/out", "abc")
	a := r.NextScreenshotPath()
	b := r.NextScreenshotPath()
	if a == b {
		t.Fatalf("screenshot paths must be unique, got %q twice", a)
	}
	if !strings.Contains(a, "abc") {
		t.Errorf("path should carry the run id, got %q", a)
	}
}

func TestCaptureAlwaysHasTimestamp(t *testing.T) {
	r := NewRecorder(t.TempDir(), "run1")
	s := r.Capture("", "", 0, "", "")
	if s.Timestamp == 0 {
		t.Error("snapshot must always carry a timestamp")
	}
}
