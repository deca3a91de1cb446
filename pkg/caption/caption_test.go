package caption

import (
	"testing"
	"time"

	"github.com/voka-studio/mediaoutput/pkg/packet"
)

func videoPacket(usec int64, data []byte) *packet.Packet {
	return &packet.Packet{Type: packet.Video, DTSUsec: usec, Data: packet.NewBuffer(data)}
}

func TestInjectSplicesSEIOntoVideoPacket(t *testing.T) {
	inj := NewInjector(0)
	inj.EnqueueText(TextCue{Text: "hello", DisplayDuration: 2 * time.Second})

	orig := []byte{0x00, 0x00, 0x00, 0x03, 0x65, 0xAA, 0xBB}
	p := videoPacket(1000, orig)

	inj.Inject(p)

	got := p.Data.Bytes()
	if len(got) <= len(orig) {
		t.Fatalf("expected spliced data to grow, got len=%d orig=%d", len(got), len(orig))
	}
	// The original NAL bytes must still be present, shifted after the new
	// length-prefixed SEI NALU.
	tail := got[len(got)-len(orig):]
	for i, b := range orig {
		if tail[i] != b {
			t.Fatalf("original NALU bytes corrupted at %d: got %x want %x", i, tail[i], b)
		}
	}
	// First 4 bytes are the AVC length prefix for the new SEI NALU.
	seiLen := int(got[0])<<24 | int(got[1])<<16 | int(got[2])<<8 | int(got[3])
	if 4+seiLen >= len(got) {
		t.Fatalf("SEI length prefix %d doesn't fit before original data", seiLen)
	}
	if got[4] != 0x06 {
		t.Fatalf("expected spliced NALU to start with SEI nal_unit_type 6, got %#x", got[4])
	}
}

func TestInjectNoOpWithNothingQueued(t *testing.T) {
	inj := NewInjector(0)
	orig := []byte{0x01, 0x02, 0x03}
	p := videoPacket(0, orig)

	inj.Inject(p)

	if len(p.Data.Bytes()) != len(orig) {
		t.Fatal("expected no splice with an empty caption queue")
	}
}

func TestInjectRespectsMinGap(t *testing.T) {
	inj := NewInjector(10_000)
	inj.EnqueueText(TextCue{Text: "a"})
	inj.EnqueueText(TextCue{Text: "b"})

	p1 := videoPacket(0, []byte{0xAA})
	inj.Inject(p1)
	if len(p1.Data.Bytes()) <= 1 {
		t.Fatal("expected first packet within the window to still get the caption")
	}

	p2 := videoPacket(5_000, []byte{0xBB})
	inj.Inject(p2)
	if len(p2.Data.Bytes()) != 1 {
		t.Fatal("expected second packet inside the min-gap window to be left untouched")
	}

	p3 := videoPacket(20_000, []byte{0xCC})
	inj.Inject(p3)
	if len(p3.Data.Bytes()) <= 1 {
		t.Fatal("expected third packet past the min-gap window to receive the queued caption")
	}
}

func TestTextModeWaitsForDisplayDuration(t *testing.T) {
	inj := NewInjector(0)
	inj.EnqueueText(TextCue{Text: "a", DisplayDuration: 2 * time.Second})
	inj.EnqueueText(TextCue{Text: "b"})

	p1 := videoPacket(10_000_000, []byte{0xAA})
	inj.Inject(p1)
	if len(p1.Data.Bytes()) <= 1 {
		t.Fatal("expected the first cue to inject")
	}

	p2 := videoPacket(11_000_000, []byte{0xBB})
	inj.Inject(p2)
	if len(p2.Data.Bytes()) != 1 {
		t.Fatal("expected the second cue to stay blocked before the first cue's display duration elapses")
	}

	p3 := videoPacket(12_000_000, []byte{0xCC})
	inj.Inject(p3)
	if len(p3.Data.Bytes()) <= 1 {
		t.Fatal("expected the second cue to inject once caption_timestamp has passed")
	}
}

func TestDrainModesAreMutuallyExclusive(t *testing.T) {
	inj := NewInjector(0)
	inj.EnqueueTriple(Triple{B1: parityByte('X'), B2: parityByte('Y')})
	inj.EnqueueText(TextCue{Text: "queued"})

	p := videoPacket(0, []byte{0xAA})
	inj.Inject(p)

	if len(inj.tripleQueue) != 0 {
		t.Fatal("expected the raw triple to be drained")
	}
	if len(inj.textQueue) != 1 {
		t.Fatal("expected the queued text cue to be left untouched while a raw triple was pending")
	}
}

func TestEnqueueTripleFiltersPaddingAndInvalidParity(t *testing.T) {
	inj := NewInjector(0)

	inj.EnqueueTriple(Triple{B1: 0x80, B2: 0x80}) // padding
	inj.EnqueueTriple(Triple{B1: 0x00, B2: 0x00}) // zero data
	inj.EnqueueTriple(Triple{B1: 0x41, B2: 0x42}) // even parity, invalid
	valid := Triple{B1: parityByte('X'), B2: parityByte('Y')}
	inj.EnqueueTriple(valid)

	if len(inj.tripleQueue) != 1 {
		t.Fatalf("expected only the valid triple to be queued, got %d", len(inj.tripleQueue))
	}
	if inj.tripleQueue[0] != valid {
		t.Fatal("expected the surviving triple to be the valid one")
	}
}
