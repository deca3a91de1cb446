package delay

import (
	"testing"

	"github.com/voka-studio/mediaoutput/pkg/packet"
)

func vp(usec int64) *packet.Packet {
	return &packet.Packet{Type: packet.Video, DTSUsec: usec}
}

func TestPushHoldsUntilDelayElapses(t *testing.T) {
	var out []*packet.Packet
	s := New(1000, false, func(p *packet.Packet) { out = append(out, p) })

	s.Push(vp(0))
	if len(out) != 0 {
		t.Fatalf("expected nothing emitted yet, got %d", len(out))
	}

	s.Push(vp(500))
	if len(out) != 0 {
		t.Fatalf("expected nothing emitted at 500usec age, got %d", len(out))
	}

	s.Push(vp(1000))
	if len(out) != 1 || out[0].DTSUsec != 0 {
		t.Fatalf("expected the usec=0 packet to drain once 1000usec have elapsed, got %v", out)
	}

	s.Push(vp(1500))
	if len(out) != 2 || out[1].DTSUsec != 500 {
		t.Fatalf("expected the usec=500 packet to drain next, got %v", out)
	}
}

func TestDisconnectWithoutPreserveDropsBacklog(t *testing.T) {
	var out []*packet.Packet
	s := New(1000, false, func(p *packet.Packet) { out = append(out, p) })

	s.Push(vp(0))
	s.Push(vp(100))
	if s.Buffered() != 2 {
		t.Fatalf("expected 2 packets buffered, got %d", s.Buffered())
	}

	s.Disconnect()
	if s.Buffered() != 0 {
		t.Fatalf("expected backlog dropped on disconnect, got %d buffered", s.Buffered())
	}

	s.Push(vp(200))
	if s.Buffered() != 0 {
		t.Fatal("expected pushes while disconnected (no preserve) to be dropped")
	}

	s.Reconnect()
	s.Push(vp(2000))
	s.Push(vp(3000))
	if len(out) != 1 {
		t.Fatalf("expected normal draining to resume after reconnect, got %d emitted", len(out))
	}
}

func TestDisconnectWithPreserveKeepsBacklogUntilReconnect(t *testing.T) {
	var out []*packet.Packet
	s := New(1000, true, func(p *packet.Packet) { out = append(out, p) })

	s.Push(vp(0))
	s.Disconnect()
	s.Push(vp(5000))

	if len(out) != 0 {
		t.Fatalf("expected no emission while disconnected with preserve set, got %d", len(out))
	}
	if s.Buffered() != 2 {
		t.Fatalf("expected both packets preserved across disconnect, got %d buffered", s.Buffered())
	}

	s.Reconnect()
	if len(out) != 1 || out[0].DTSUsec != 0 {
		t.Fatalf("expected the aged-out packet to drain on reconnect, got %v", out)
	}
}

func TestFlushEmitsEverythingRegardlessOfAge(t *testing.T) {
	var out []*packet.Packet
	s := New(1_000_000, false, func(p *packet.Packet) { out = append(out, p) })

	s.Push(vp(0))
	s.Push(vp(10))
	s.Flush()

	if len(out) != 2 {
		t.Fatalf("expected flush to emit all buffered packets, got %d", len(out))
	}
	if s.Buffered() != 0 {
		t.Fatal("expected buffer empty after flush")
	}
}
