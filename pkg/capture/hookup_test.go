package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voka-studio/mediaoutput/pkg/encoder"
	"github.com/voka-studio/mediaoutput/pkg/packet"
	"github.com/voka-studio/mediaoutput/pkg/sink"
)

type fakeEncoder struct {
	startErr error
	started  bool
	stopped  bool
	cb       func(*packet.Packet)
	pairedTo encoder.Handle
	isPaired bool
	waited   bool
}

func (e *fakeEncoder) Start() error {
	if e.startErr != nil {
		return e.startErr
	}
	e.started = true
	return nil
}
func (e *fakeEncoder) Stop()                                   { e.stopped = true }
func (e *fakeEncoder) SetPacketCallback(fn func(*packet.Packet)) { e.cb = fn }
func (e *fakeEncoder) Pair(other encoder.Handle) error {
	e.pairedTo = other
	e.isPaired = true
	return nil
}
func (e *fakeEncoder) Paired() (encoder.Handle, bool) { return e.pairedTo, e.isPaired }
func (e *fakeEncoder) WaitForVideo(wait bool)         { e.waited = wait }

type fakeRegistry struct {
	m map[encoder.Handle]*fakeEncoder
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{m: map[encoder.Handle]*fakeEncoder{}} }

func (r *fakeRegistry) Lookup(h encoder.Handle) (encoder.Encoder, bool) {
	e, ok := r.m[h]
	return e, ok
}

type fakeTerminal struct {
	fed []*packet.Packet
}

func (t *fakeTerminal) Feed(p *packet.Packet) { t.fed = append(t.fed, p) }

type fakeRawSource struct {
	videoCb func(sink.RawVideoFrame)
	audioCb map[int]func(sink.RawAudioFrame)
}

func newFakeRawSource() *fakeRawSource { return &fakeRawSource{audioCb: map[int]func(sink.RawAudioFrame){}} }

func (r *fakeRawSource) SetVideoCallback(fn func(sink.RawVideoFrame)) { r.videoCb = fn }
func (r *fakeRawSource) SetAudioCallback(mixIdx int, fn func(sink.RawAudioFrame)) {
	r.audioCb[mixIdx] = fn
}

type fakeSink struct {
	flags sink.Flag
}

func (s *fakeSink) Flags() sink.Flag                       { return s.flags }
func (s *fakeSink) Start() error                           { return nil }
func (s *fakeSink) Stop(_ time.Time)                       {}
func (s *fakeSink) PushPacket(p *packet.Packet) error       { return nil }
func (s *fakeSink) PushRawVideo(f sink.RawVideoFrame) error { return nil }
func (s *fakeSink) PushRawAudio(f sink.RawAudioFrame) error { return nil }

func TestStartEncodedPairsVideoAndAudioBeforeStart(t *testing.T) {
	reg := newFakeRegistry()
	video := &fakeEncoder{}
	audio := &fakeEncoder{}
	reg.m[1] = video
	reg.m[2] = audio

	h := New(Config{
		Encoded:       true,
		HasVideo:      true,
		HasAudio:      true,
		VideoEncoder:  1,
		AudioEncoders: []encoder.Handle{2},
	}, reg, nil, nil, zerolog.Nop())

	term := &fakeTerminal{}
	if err := h.Start(term); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !video.started || !audio.started {
		t.Fatal("expected both encoders started")
	}
	if !audio.waited {
		t.Fatal("expected audio encoder marked to wait for video")
	}
	if got, ok := video.Paired(); !ok || got != 2 {
		t.Fatalf("expected video paired with handle 2, got %v ok=%v", got, ok)
	}
	if got, ok := audio.Paired(); !ok || got != 1 {
		t.Fatalf("expected audio paired with handle 1, got %v ok=%v", got, ok)
	}
}

func TestStartEncodedFailsLoudlyWhenNoUnpairedAudioAvailable(t *testing.T) {
	reg := newFakeRegistry()
	video := &fakeEncoder{}
	audio := &fakeEncoder{isPaired: true, pairedTo: 99}
	reg.m[1] = video
	reg.m[2] = audio

	h := New(Config{
		Encoded:       true,
		HasVideo:      true,
		HasAudio:      true,
		VideoEncoder:  1,
		AudioEncoders: []encoder.Handle{2},
	}, reg, nil, nil, zerolog.Nop())

	err := h.Start(&fakeTerminal{})
	if err == nil {
		t.Fatal("expected an error when no unpaired audio encoder is available")
	}
	if video.started {
		t.Fatal("expected video encoder not to start when pairing fails")
	}
}

func TestStartEncodedStopsAlreadyStartedEncoderOnFailure(t *testing.T) {
	reg := newFakeRegistry()
	video := &fakeEncoder{}
	audio := &fakeEncoder{startErr: errors.New("device busy")}
	reg.m[1] = video
	reg.m[2] = audio

	h := New(Config{
		Encoded:       true,
		HasVideo:      true,
		HasAudio:      true,
		VideoEncoder:  1,
		AudioEncoders: []encoder.Handle{2},
	}, reg, nil, nil, zerolog.Nop())

	err := h.Start(&fakeTerminal{})
	if err == nil {
		t.Fatal("expected an error from the failing audio encoder")
	}
	if !video.started {
		t.Fatal("expected video encoder to have started before audio failed")
	}
	if !video.stopped {
		t.Fatal("expected video encoder stopped after audio failed to start")
	}
}

func TestStartWrapsTerminalInDelayBuffer(t *testing.T) {
	reg := newFakeRegistry()
	video := &fakeEncoder{}
	reg.m[1] = video

	h := New(Config{
		Encoded:      true,
		HasVideo:     true,
		VideoEncoder: 1,
		DelayUsec:    1000,
	}, reg, nil, nil, zerolog.Nop())

	term := &fakeTerminal{}
	if err := h.Start(term); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	video.cb(&packet.Packet{Type: packet.Video, DTSUsec: 0})
	if len(term.fed) != 0 {
		t.Fatal("expected the packet held in the delay buffer, not fed straight through")
	}

	video.cb(&packet.Packet{Type: packet.Video, DTSUsec: 1000})
	if len(term.fed) != 1 {
		t.Fatalf("expected the aged-out packet to reach the terminal, got %d", len(term.fed))
	}
}

func TestStopStopsEncodersAndFlushesDelayBacklog(t *testing.T) {
	reg := newFakeRegistry()
	video := &fakeEncoder{}
	reg.m[1] = video

	h := New(Config{
		Encoded:      true,
		HasVideo:     true,
		VideoEncoder: 1,
		DelayUsec:    1_000_000,
	}, reg, nil, nil, zerolog.Nop())

	term := &fakeTerminal{}
	if err := h.Start(term); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	video.cb(&packet.Packet{Type: packet.Video, DTSUsec: 0})
	if len(term.fed) != 0 {
		t.Fatal("expected packet held back by the delay window")
	}

	h.Stop()
	if !video.stopped {
		t.Fatal("expected encoder stopped")
	}
	if len(term.fed) != 1 {
		t.Fatalf("expected Stop to flush the delay backlog, got %d fed", len(term.fed))
	}
}

func TestStartRawSubscribesConfiguredMixes(t *testing.T) {
	raw := newFakeRawSource()
	dst := &fakeSink{flags: sink.Video | sink.Audio}

	h := New(Config{
		HasVideo:  true,
		HasAudio:  true,
		MixerMask: 0b0000_0011,
		MultiMix:  true,
	}, nil, raw, dst, zerolog.Nop())

	if err := h.Start(&fakeTerminal{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw.videoCb == nil {
		t.Fatal("expected video callback subscribed")
	}
	if raw.audioCb[0] == nil || raw.audioCb[1] == nil {
		t.Fatal("expected both configured mixes subscribed")
	}
	if raw.audioCb[2] != nil {
		t.Fatal("expected mix 2 (not in mask) left unsubscribed")
	}
}
