// Package encoder declares the contract satisfied by per-track encoders:
// external collaborators that produce typed packets and can be started,
// stopped, and paired.
package encoder

import "github.com/voka-studio/mediaoutput/pkg/packet"

// Handle identifies an encoder in a caller-owned registry. Using a small
// value type instead of a shared pointer avoids the Output<->Encoder
// reference cycle this would otherwise create: the Output never holds the encoder
// itself, only the handle used to look it up.
type Handle int

// Encoder is implemented by a video or audio encoder. PacketCallback is
// invoked on the encoder's own producing thread; callers (the Data-Capture
// Hookup) must not assume serialization across encoders.
type Encoder interface {
	Start() error
	Stop()

	// SetPacketCallback installs the function invoked for each packet this
	// encoder produces. Passing nil disconnects it.
	SetPacketCallback(fn func(*packet.Packet))

	// Pair marks this encoder as paired with a counterpart of the other
	// type: the capture hookup pairs the video encoder with one unpaired
	// audio encoder before start.
	Pair(other Handle) error
	Paired() (Handle, bool)

	// WaitForVideo marks an audio encoder to buffer until the paired video
	// encoder produces its first packet at timebase zero.
	WaitForVideo(wait bool)
}

// Registry resolves handles to Encoder implementations. A real embedder
// (the UI/settings layer, out of scope here) owns the concrete registry;
// the output engine only ever asks it "give me the encoder for this
// handle".
type Registry interface {
	Lookup(h Handle) (Encoder, bool)
}
