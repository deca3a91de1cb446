// Package caption implements the caption queue and injector: text cues and
// raw CEA-708 triples are queued, packed into CEA-608/708 "cc_data"
// triples, wrapped in a user_data_registered_itu_t_t35 SEI NALU, and
// spliced onto the next outgoing video packet with an AVC length prefix.
package caption

import (
	"math/bits"
	"time"

	"github.com/voka-studio/mediaoutput/pkg/packet"
)

// Triple is one CEA-708 "cc_data" triple: a type/validity byte plus the two
// CEA-608-style data bytes it carries.
type Triple struct {
	Valid bool
	Type  uint8 // 2-bit cc_type field
	B1    byte
	B2    byte
}

// TextCue is a plain-text caption queued for display; it is expanded into
// triples (erase, write, swap-and-display) at injection time.
type TextCue struct {
	Text            string
	DisplayDuration time.Duration
}

const maxTriplesPerFrame = 31 // cc_count is a 5-bit field

// Injector accumulates queued captions and splices them onto outgoing video
// packets. One Injector belongs to exactly one output, so lastInjectUsec
// (tracking when captions were last flushed) never needs to be shared across
// outputs the way a single module-global timestamp would.
//
// Two independent gates apply before a packet receives a splice: minGapUsec
// bounds how often any injection may happen at all, and captionTimestamp
// additionally holds text mode off until the cue last displayed has run for
// its own DisplayDuration. Raw triples are only subject to the first gate.
type Injector struct {
	textQueue   []TextCue
	tripleQueue []Triple

	lastInjectUsec int64
	haveLast       bool
	minGapUsec     int64

	captionTimestamp int64
	haveCaptionTs    bool
}

// NewInjector returns an Injector that flushes queued captions onto a video
// packet no more often than minGapUsec apart, to avoid fragmenting one cue
// across every single frame.
func NewInjector(minGapUsec int64) *Injector {
	return &Injector{minGapUsec: minGapUsec}
}

// EnqueueText queues a caption cue built from plain text.
func (inj *Injector) EnqueueText(cue TextCue) {
	inj.textQueue = append(inj.textQueue, cue)
}

// EnqueueTriple queues a raw CEA-708 triple from an upstream passthrough
// source, filtering out padding and malformed bytes at the point of entry
// rather than carrying them through to the SEI payload.
func (inj *Injector) EnqueueTriple(t Triple) {
	if !keepTriple(t) {
		return
	}
	inj.tripleQueue = append(inj.tripleQueue, t)
}

// Inject implements interleave.CaptionInjector: called for every video
// packet about to leave the interleaver, it pops enough queued captions to
// fill one SEI payload and splices it in front of the packet's existing NAL
// data.
func (inj *Injector) Inject(p *packet.Packet) {
	if p == nil || p.Data == nil {
		return
	}
	frameTs := p.DTSUsec
	if inj.haveLast && frameTs-inj.lastInjectUsec < inj.minGapUsec {
		return
	}

	triples, fromText, displayUsec := inj.drain(frameTs)
	if len(triples) == 0 {
		return
	}
	inj.lastInjectUsec = frameTs
	inj.haveLast = true
	if fromText {
		inj.captionTimestamp = frameTs + displayUsec
		inj.haveCaptionTs = true
	}

	sei := buildSEINalu(triples)
	spliced := make([]byte, 0, len(sei)+p.Data.Len())
	spliced = appendNALU(spliced, sei)
	spliced = append(spliced, p.Data.Bytes()...)
	p.Data = p.Data.Realloc(spliced)
}

// drain picks one of the two caption modes for this emission and pops its
// triples: the raw CEA-708 queue when non-empty, otherwise the text queue —
// never both in the same call. A popped text cue's DisplayDuration becomes
// displayUsec, which Inject folds into captionTimestamp so the next text
// cue can't be injected before the one just shown has had its time on
// screen, regardless of how small minGapUsec is.
func (inj *Injector) drain(frameTs int64) (triples []Triple, fromText bool, displayUsec int64) {
	if len(inj.tripleQueue) > 0 {
		return inj.drainRaw(), false, 0
	}
	if len(inj.textQueue) == 0 {
		return nil, false, 0
	}
	if inj.haveCaptionTs && frameTs < inj.captionTimestamp {
		return nil, false, 0
	}

	cue := inj.textQueue[0]
	inj.textQueue = inj.textQueue[1:]
	out := textToTriples(cue.Text)
	if len(out) > maxTriplesPerFrame {
		out = out[:maxTriplesPerFrame]
	}
	return out, true, cue.DisplayDuration.Microseconds()
}

// drainRaw pops up to one frame's worth of triples from the raw CEA-708
// queue.
func (inj *Injector) drainRaw() []Triple {
	n := len(inj.tripleQueue)
	if n > maxTriplesPerFrame {
		n = maxTriplesPerFrame
	}
	out := append([]Triple(nil), inj.tripleQueue[:n]...)
	inj.tripleQueue = inj.tripleQueue[n:]
	return out
}

// keepTriple filters out triples whose cc_type low 2 bits are non-zero
// (only CEA-608 field-1 data is kept), CEA-608 padding (0x8080), all-zero
// data, and bytes whose parity bit doesn't match the expected odd parity
// over the low 7 bits: padding, zero-data, and parity-invalid bytes a
// passthrough source can hand us, and that must never reach the outgoing
// SEI payload.
func keepTriple(t Triple) bool {
	if t.Type&0x03 != 0 {
		return false
	}
	if t.B1 == 0x80 && t.B2 == 0x80 {
		return false
	}
	if t.B1 == 0 && t.B2 == 0 {
		return false
	}
	return hasOddParity(t.B1) && hasOddParity(t.B2)
}

func hasOddParity(b byte) bool {
	return bits.OnesCount8(b)%2 == 1
}

// parityByte sets the high bit of a 7-bit CEA-608 character code to give it
// odd parity, as every CEA-608 byte carries.
func parityByte(c byte) byte {
	b := c & 0x7F
	if bits.OnesCount8(b)%2 == 0 {
		b |= 0x80
	}
	return b
}

// Standard CEA-608 pop-on control codes (channel 1, field 1).
var (
	controlEraseNonDisplayed = Triple{Valid: true, Type: 0, B1: parityByte(0x14), B2: parityByte(0x2C)}
	controlEndOfCaption      = Triple{Valid: true, Type: 0, B1: parityByte(0x14), B2: parityByte(0x2F)}
)

// textToTriples builds a minimal pop-on caption: erase the non-displayed
// memory, write the text two characters per triple, then swap memories so
// it becomes visible.
func textToTriples(text string) []Triple {
	out := make([]Triple, 0, len(text)/2+2)
	out = append(out, controlEraseNonDisplayed)
	for i := 0; i < len(text); i += 2 {
		b1 := parityByte(text[i])
		b2 := byte(' ')
		if i+1 < len(text) {
			b2 = text[i+1]
		}
		out = append(out, Triple{Valid: true, B1: b1, B2: parityByte(b2)})
	}
	out = append(out, controlEndOfCaption)
	return out
}

const (
	ituT35CountryCode  = 0xB5
	ituT35ProviderCode = 0x0031
	userDataTypeCCData = 0x03
)

// buildSEINalu wraps triples in a user_data_registered_itu_t_t35 SEI message
// and returns the complete NALU bytes (header through rbsp trailing bit),
// ready for the AVC 4-byte length-prefix framing appendNALU adds.
func buildSEINalu(triples []Triple) []byte {
	payload := buildCCData(triples)

	out := make([]byte, 0, len(payload)+6)
	out = append(out, 0x06) // nal_unit_type 6: SEI
	out = append(out, 0x04) // payload_type: user_data_registered_itu_t_t35
	out = append(out, byte(len(payload)))
	out = append(out, payload...)
	out = append(out, 0x80) // rbsp_trailing_bits stop bit
	return out
}

func buildCCData(triples []Triple) []byte {
	buf := make([]byte, 0, 8+len(triples)*3)
	buf = append(buf, ituT35CountryCode)
	buf = append(buf, byte(ituT35ProviderCode>>8), byte(ituT35ProviderCode))
	buf = append(buf, "GA94"...)
	buf = append(buf, userDataTypeCCData)

	ccCount := len(triples) & 0x1F
	// process_em_data_flag(1)=1 | process_cc_data_flag(1)=1 | additional_data_flag(1)=0 | cc_count(5)
	buf = append(buf, 0xC0|byte(ccCount))
	buf = append(buf, 0xFF) // em_data / reserved marker byte

	for _, t := range triples {
		first := byte(0xF8) // reserved marker bits, all 1
		if t.Valid {
			first |= 0x04
		}
		first |= t.Type & 0x03
		buf = append(buf, first, t.B1, t.B2)
	}
	buf = append(buf, 0xFF) // trailing marker byte
	return buf
}

// appendNALU appends nalu to dst with a 4-byte big-endian length prefix,
// matching AVC length-prefixed NALU framing.
func appendNALU(dst, nalu []byte) []byte {
	length := uint32(len(nalu))
	dst = append(dst, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	return append(dst, nalu...)
}
