// Package capture implements the data-capture hookup: it wires encoders
// into the terminal callback the caller supplies for an activation (or raw
// sources straight into the sink), starts/stops the underlying producers,
// and pairs audio encoders with the video encoder before a combined start.
package capture

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/voka-studio/mediaoutput/pkg/delay"
	"github.com/voka-studio/mediaoutput/pkg/encoder"
	"github.com/voka-studio/mediaoutput/pkg/outerrors"
	"github.com/voka-studio/mediaoutput/pkg/packet"
	"github.com/voka-studio/mediaoutput/pkg/sink"
)

// Terminal is the callback an activated Hookup feeds every packet through,
// satisfied by *interleave.State, a bare per-type forwarder, or anything
// else matching this shape.
type Terminal interface {
	Feed(p *packet.Packet)
}

// terminalFunc adapts a plain function to Terminal, used for the per-type
// default path (single track, no interleaving needed).
type terminalFunc func(p *packet.Packet)

func (f terminalFunc) Feed(p *packet.Packet) { f(p) }

// Config describes one activation: which encoders/raw sources are bound
// and whether the sink wants encoded or raw media.
type Config struct {
	Encoded   bool
	HasVideo  bool
	HasAudio  bool
	MultiMix  bool // sink.MultiTrack: per-mix raw audio callback instead of one mixdown
	MixerMask uint8

	VideoEncoder encoder.Handle
	AudioEncoders []encoder.Handle // index == mix/track index

	DelayUsec            int64 // 0 disables the delay buffer
	PreserveOnDisconnect bool
}

// RawSource is implemented by a raw frame producer the Hookup subscribes
// to directly (no encoder in the loop).
type RawSource interface {
	SetVideoCallback(fn func(sink.RawVideoFrame))
	SetAudioCallback(mixIdx int, fn func(sink.RawAudioFrame))
}

// Hookup owns the wiring between producers (encoders or raw sources) and a
// sink for one activation. It is not reusable across activations; create a
// fresh one from Start through Stop.
type Hookup struct {
	mu sync.Mutex

	cfg      Config
	encoders encoder.Registry
	raw      RawSource
	dst      sink.Sink
	logger   zerolog.Logger

	delayBuf *delay.State
	started  []encoder.Handle
}

// New returns a Hookup ready to Start. encoders may be nil when cfg has no
// bound encoders (a pure raw-source activation); raw may be nil
// symmetrically.
func New(cfg Config, encoders encoder.Registry, raw RawSource, dst sink.Sink, logger zerolog.Logger) *Hookup {
	return &Hookup{cfg: cfg, encoders: encoders, raw: raw, dst: dst, logger: logger.With().Str("component", "capture").Logger()}
}

// Start wraps the given terminal in a delay buffer if configured, pairs
// encoders, and starts producers. On any encoder failure
// to start, already-started encoders are stopped before returning.
func (h *Hookup) Start(terminal Terminal) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed := terminal.Feed
	if h.cfg.DelayUsec > 0 {
		h.delayBuf = delay.New(h.cfg.DelayUsec, h.cfg.PreserveOnDisconnect, feed)
		feed = h.delayBuf.Push
	}

	if h.cfg.Encoded {
		return h.startEncoded(feed)
	}
	return h.startRaw()
}

func (h *Hookup) startEncoded(feed func(*packet.Packet)) error {
	if h.encoders == nil {
		return &outerrors.InitError{Op: "capture.Start", Err: errNoEncoderRegistry}
	}

	if h.cfg.HasVideo && h.cfg.HasAudio {
		if err := h.pairEncoders(); err != nil {
			return err
		}
	}

	videoEnc, audioEncs, err := h.lookupEncoders()
	if err != nil {
		return err
	}

	var startedHandles []encoder.Handle
	fail := func(err error) error {
		for _, hdl := range startedHandles {
			if e, ok := h.encoders.Lookup(hdl); ok {
				e.Stop()
			}
		}
		return err
	}

	if videoEnc != nil {
		videoEnc.SetPacketCallback(feed)
		if err := videoEnc.Start(); err != nil {
			return fail(&outerrors.InitError{Op: "capture.Start video", Err: err})
		}
		startedHandles = append(startedHandles, h.cfg.VideoEncoder)
	}
	for i, a := range audioEncs {
		a.SetPacketCallback(feed)
		if err := a.Start(); err != nil {
			return fail(&outerrors.InitError{Op: "capture.Start audio", Err: err})
		}
		startedHandles = append(startedHandles, h.cfg.AudioEncoders[i])
	}

	h.started = startedHandles
	return nil
}

// pairEncoders implements the encoder pairing rule: the first bound audio
// encoder that is not already paired is paired with the video encoder
// before start, and that audio encoder buffers until video produces its
// first frame. Whether that audio encoder is already running is not
// checked. A video encoder that is already paired is left as it is and no
// new pairing is made.
func (h *Hookup) pairEncoders() error {
	videoEnc, ok := h.encoders.Lookup(h.cfg.VideoEncoder)
	if !ok {
		return &outerrors.InitError{Op: "capture.pairEncoders", Err: errUnknownEncoder}
	}
	if _, alreadyPaired := videoEnc.Paired(); alreadyPaired {
		return nil
	}

	for _, ah := range h.cfg.AudioEncoders {
		a, ok := h.encoders.Lookup(ah)
		if !ok {
			continue
		}
		if _, paired := a.Paired(); paired {
			continue
		}
		if err := videoEnc.Pair(ah); err != nil {
			continue
		}
		if err := a.Pair(h.cfg.VideoEncoder); err != nil {
			return &outerrors.InitError{Op: "capture.pairEncoders", Err: err}
		}
		a.WaitForVideo(true)
		return nil
	}

	// No unpaired audio encoder available to pair: fail loudly rather than
	// start video and audio unpaired, which is exactly the timestamp
	// mismatch the interleaver's alignment step exists to catch.
	return &outerrors.InitError{Op: "capture.pairEncoders", Err: errNoUnpairedAudio}
}

func (h *Hookup) lookupEncoders() (encoder.Encoder, []encoder.Encoder, error) {
	var videoEnc encoder.Encoder
	if h.cfg.HasVideo {
		e, ok := h.encoders.Lookup(h.cfg.VideoEncoder)
		if !ok {
			return nil, nil, &outerrors.InitError{Op: "capture.lookupEncoders", Err: errUnknownEncoder}
		}
		videoEnc = e
	}

	audioEncs := make([]encoder.Encoder, 0, len(h.cfg.AudioEncoders))
	if h.cfg.HasAudio {
		for _, ah := range h.cfg.AudioEncoders {
			e, ok := h.encoders.Lookup(ah)
			if !ok {
				return nil, nil, &outerrors.InitError{Op: "capture.lookupEncoders", Err: errUnknownEncoder}
			}
			audioEncs = append(audioEncs, e)
		}
	}
	return videoEnc, audioEncs, nil
}

func (h *Hookup) startRaw() error {
	if h.raw == nil {
		return &outerrors.InitError{Op: "capture.startRaw", Err: errNoRawSource}
	}
	if h.cfg.HasVideo {
		h.raw.SetVideoCallback(func(f sink.RawVideoFrame) {
			if err := h.dst.PushRawVideo(f); err != nil {
				h.logger.Warn().Err(err).Msg("raw video push failed")
			}
		})
	}
	if h.cfg.HasAudio {
		for mix := 0; mix < packet.MaxMixes; mix++ {
			if h.cfg.MixerMask&(1<<uint(mix)) == 0 {
				continue
			}
			mixIdx := mix
			if !h.cfg.MultiMix && mixIdx != 0 {
				continue
			}
			h.raw.SetAudioCallback(mixIdx, func(f sink.RawAudioFrame) {
				if err := h.dst.PushRawAudio(f); err != nil {
					h.logger.Warn().Err(err).Msg("raw audio push failed")
				}
			})
		}
	}
	return nil
}

// Stop tears down producers symmetrically to Start: stops encoders (or
// clears raw callbacks), and flushes any delay buffer backlog so nothing
// held in the delay window is silently dropped on a clean stop.
func (h *Hookup) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg.Encoded && h.encoders != nil {
		for _, hdl := range h.started {
			if e, ok := h.encoders.Lookup(hdl); ok {
				e.SetPacketCallback(nil)
				e.Stop()
			}
		}
		h.started = nil
	}
	if !h.cfg.Encoded && h.raw != nil {
		if h.cfg.HasVideo {
			h.raw.SetVideoCallback(nil)
		}
		if h.cfg.HasAudio {
			for mix := 0; mix < packet.MaxMixes; mix++ {
				h.raw.SetAudioCallback(mix, nil)
			}
		}
	}

	if h.delayBuf != nil {
		h.delayBuf.Flush()
	}
}

// Disconnect/Reconnect forward to the delay buffer, a no-op when no delay
// is configured for this activation.
func (h *Hookup) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.delayBuf != nil {
		h.delayBuf.Disconnect()
	}
}

func (h *Hookup) Reconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.delayBuf != nil {
		h.delayBuf.Reconnect()
	}
}

var (
	errNoEncoderRegistry = simpleError("no encoder registry bound")
	errNoRawSource       = simpleError("no raw source bound")
	errUnknownEncoder    = simpleError("unknown encoder handle")
	errNoUnpairedAudio   = simpleError("no inactive unpaired audio encoder available to pair with video")
)

type simpleError string

func (e simpleError) Error() string { return string(e) }
