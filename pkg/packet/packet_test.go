package packet

import "testing"

func TestSetDTSRecomputesUsec(t *testing.T) {
	p := &Packet{TimebaseNum: 1, TimebaseDen: 30}
	p.SetDTS(1000)

	want := int64(1000) * 1_000_000 * 1 / 30
	if p.DTSUsec != want {
		t.Fatalf("DTSUsec = %d, want %d", p.DTSUsec, want)
	}
}

func TestFrameUsec(t *testing.T) {
	p := &Packet{TimebaseNum: 1, TimebaseDen: 30}
	if got := p.FrameUsec(); got != 33333 {
		t.Fatalf("FrameUsec = %d, want 33333", got)
	}
}

func TestBufferRetainReleaseRoundTrips(t *testing.T) {
	b := NewBuffer([]byte("hello"))
	clone := b.Retain()

	if string(clone.Bytes()) != "hello" {
		t.Fatalf("unexpected bytes: %q", clone.Bytes())
	}

	b.Release()
	// Still alive via the retained reference.
	if string(clone.Bytes()) != "hello" {
		t.Fatalf("buffer released prematurely")
	}
	clone.Release()
}

func TestPacketCloneTakesOwnReference(t *testing.T) {
	p := &Packet{Data: NewBuffer([]byte("abc"))}
	cp := p.Clone()

	p.Release()
	if string(cp.Data.Bytes()) != "abc" {
		t.Fatalf("clone's buffer released along with original")
	}
	cp.Release()
}
