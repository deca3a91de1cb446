package pause

import "testing"

func TestQuantizationS4(t *testing.T) {
	const interval = 33_333_333
	last := int64(1_000_000_000)
	now := int64(1_050_000_000)

	got := quantize(last, now, interval)
	want := int64(1_066_666_666)
	if got != want {
		t.Fatalf("quantize = %d, want %d", got, want)
	}
}

func TestBeginEndAccumulatesOffset(t *testing.T) {
	s := New()
	s.ObserveVideoTs(0)

	if !s.Begin(1500, 1000) {
		t.Fatal("expected begin to succeed")
	}
	if s.Begin(1600, 1000) {
		t.Fatal("expected second begin to fail while pause pending")
	}
	if !s.Active() {
		t.Fatal("expected pause to be active after begin")
	}

	if !s.End(2500, 1000) {
		t.Fatal("expected end to succeed")
	}
	if s.Active() {
		t.Fatal("expected pause inactive after end")
	}
	if off := s.Offset(); off <= 0 {
		t.Fatalf("expected positive offset, got %d", off)
	}
}

func TestEndWithoutBeginFails(t *testing.T) {
	s := New()
	if s.End(10, 1000) {
		t.Fatal("expected end without begin to fail")
	}
}

func TestSkipWindow(t *testing.T) {
	s := New()
	s.ObserveVideoTs(0)
	s.Begin(100, 10)
	if s.Skip(50) {
		t.Fatal("expected no skip before pause window")
	}
	if !s.Skip(200) {
		t.Fatal("expected skip while paused and beyond tsStart")
	}
	s.End(300, 10)
	if s.Skip(10_000) {
		t.Fatal("expected no skip once pause has ended and reset")
	}
}
