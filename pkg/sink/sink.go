// Package sink declares the contract the output engine drives: a pluggable
// consumer of finished packets and raw frames (a file muxer, a network
// streamer). Sinks are external collaborators; this package only types the
// boundary the core consumes.
package sink

import (
	"time"

	"github.com/voka-studio/mediaoutput/pkg/packet"
)

// Flag is a bitmask of capabilities a Sink declares at creation.
type Flag uint32

const (
	Video Flag = 1 << iota
	Audio
	Encoded
	Service
	MultiTrack
	CanPause
	ForceEncoder
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// StopCode enumerates the reasons an output stopped.
type StopCode int

const (
	Success StopCode = iota
	BadPath
	ConnectFailed
	InvalidStream
	GenericError
	Disconnected
	Unsupported
	NoSpace
	EncodeError
	HDRDisabled
)

func (c StopCode) String() string {
	switch c {
	case Success:
		return "success"
	case BadPath:
		return "bad_path"
	case ConnectFailed:
		return "connect_failed"
	case InvalidStream:
		return "invalid_stream"
	case GenericError:
		return "error"
	case Disconnected:
		return "disconnected"
	case Unsupported:
		return "unsupported"
	case NoSpace:
		return "no_space"
	case EncodeError:
		return "encode_error"
	case HDRDisabled:
		return "hdr_disabled"
	default:
		return "unknown"
	}
}

// Retryable reports whether this code alone justifies a reconnect attempt;
// only Disconnected is ("already reconnecting and code != Success" is
// handled by the caller, since it depends on state, not the code alone).
func (c StopCode) Retryable() bool { return c == Disconnected }

// RawVideoFrame is a raw (unencoded) video frame pushed by a source.
type RawVideoFrame struct {
	TimestampNs int64
	Data        []byte
	Width       int
	Height      int
}

// RawAudioFrame is a raw (unencoded) audio frame pushed by a source.
type RawAudioFrame struct {
	TimestampNs int64
	MixIdx      int
	Data        []byte
}

// Sink is implemented by the pluggable output destination. Start/Stop
// bracket an active session; PushPacket and PushRawVideo/PushRawAudio
// deliver media once active.
type Sink interface {
	Flags() Flag

	Start() error
	// Stop is given the wall-clock boundary the sink should flush up to;
	// ts == 0 means stop immediately without trying to reach a clean
	// boundary (a forced stop).
	Stop(ts time.Time)

	PushPacket(p *packet.Packet) error
	PushRawVideo(f RawVideoFrame) error
	PushRawAudio(f RawAudioFrame) error
}

// PropertyProvider is implemented by sinks that expose user-configurable
// properties and defaults; optional.
type PropertyProvider interface {
	GetProperties() map[string]any
	GetDefaults() map[string]any
}

// Instrumented is implemented by sinks that can report transfer stats;
// optional. Congestion is clamped to [0,1] by the sink.
type Instrumented interface {
	TotalBytes() uint64
	DroppedFrames() uint64
	Congestion() float64
	ConnectTimeMs() int64
}

// UpdateReady is implemented by sinks that gate configuration updates
// (optional).
type UpdateReady interface {
	IsReadyToUpdate() bool
}

// ClampCongestion enforces the [0,1] congestion contract for sinks that
// don't do it themselves.
func ClampCongestion(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
