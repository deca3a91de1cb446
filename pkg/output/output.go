// Package output implements the output state machine: it orchestrates an
// output's lifecycle, owns the interleaver/delay/caption/pause machinery
// wired by pkg/capture, and drives the reconnect loop on sink failure.
// Phase is a descriptive FSM label for observability; the actual gating
// logic runs on the independent atomic flags beside it, since several of
// them can legitimately be true at once (e.g. reconnecting while still
// delay-active).
package output

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/voka-studio/mediaoutput/pkg/caption"
	"github.com/voka-studio/mediaoutput/pkg/capture"
	"github.com/voka-studio/mediaoutput/pkg/encoder"
	"github.com/voka-studio/mediaoutput/pkg/interleave"
	"github.com/voka-studio/mediaoutput/pkg/outerrors"
	"github.com/voka-studio/mediaoutput/pkg/packet"
	"github.com/voka-studio/mediaoutput/pkg/pause"
	"github.com/voka-studio/mediaoutput/pkg/reconnect"
	"github.com/voka-studio/mediaoutput/pkg/service"
	"github.com/voka-studio/mediaoutput/pkg/sink"
)

// Phase is the coarse FSM label reported to observers; see package doc for
// why the real gating lives in the atomic flags instead.
type Phase int

const (
	Idle Phase = iota
	Starting
	Active
	Stopping
	Reconnecting
	DelayedStarting
	DelayedActive
)

var phaseNames = [...]string{
	"idle", "starting", "active", "stopping",
	"reconnecting", "delayed_starting", "delayed_active",
}

func (p Phase) String() string {
	if int(p) >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// Settings holds an Output's attributes: capability flags, bound
// encoders/service, reconnect and delay parameters.
type Settings struct {
	Flags sink.Flag

	HasVideo     bool
	VideoEncoder encoder.Handle
	HasAudio     bool
	AudioEncoders []encoder.Handle

	HasService bool
	Service    service.Handle

	MixerMask uint8
	MultiMix  bool

	ReconnectMaxRetries int
	ReconnectBaseSec    float64
	ReconnectExponent   float64 // e.g. 1.5; jitter [0,0.05) is added on top
	ReconnectCapSec     float64

	DelaySec      float64
	DelayPreserve bool

	FrameIntervalNs int64 // video frame interval, for pause quantization
	MinCaptionGapUsec int64
}

func (s Settings) encoded() bool { return s.Flags.Has(sink.Encoded) }

// SinkFactory builds the concrete sink for one Output, given its settings
// and output id.
type SinkFactory func(id string, settings Settings) (sink.Sink, error)

// Output is the top-level entity this package manages.
type Output struct {
	id   string
	name string

	settings    Settings
	encoders    encoder.Registry
	services    service.Registry
	signaler    Signaler
	logger      zerolog.Logger

	mu    sync.Mutex
	valid bool
	phase Phase
	dst   sink.Sink

	active         atomic.Bool
	reconnecting   atomic.Bool
	delayActive    atomic.Bool
	delayCapturing atomic.Bool
	dataActive     atomic.Bool
	paused         atomic.Bool

	interleaver *interleave.State
	injector    *caption.Injector
	hookup      *capture.Hookup
	pauseState  *pause.State

	reconnectCtl    *reconnect.Controller
	reconnectCancel context.CancelFunc
	reconnectDone   chan struct{}

	lastError string
	stopCode  sink.StopCode

	startingFrames      uint64
	startingAudioFrames uint64
}

// New allocates an Output and calls sinkFactory to build its sink. On
// failure nothing durable has been created, so the caller just discards
// the zero value and the error.
func New(id, name string, settings Settings, encoders encoder.Registry, services service.Registry, sinkFactory SinkFactory, signaler Signaler, logger zerolog.Logger) (*Output, error) {
	logger = logger.With().Str("output", id).Logger()

	dst, err := sinkFactory(id, settings)
	if err != nil {
		return nil, &outerrors.InitError{Op: "output.New", Err: err}
	}

	o := &Output{
		id:       id,
		name:     name,
		settings: settings,
		encoders: encoders,
		services: services,
		signaler: signaler,
		logger:   logger,
		dst:      dst,
		phase:    Idle,
		valid:    true,
	}

	if settings.encoded() {
		numAudio := len(settings.AudioEncoders)
		o.injector = caption.NewInjector(settings.MinCaptionGapUsec)
		o.interleaver = interleave.New(numAudio, o.emitToNextStage, logger)
		o.interleaver.SetCaptionInjector(o.injector)
	}
	o.pauseState = pause.New()

	o.reconnectCtl = reconnect.New(reconnect.Config{
		Initial:    time.Duration(settings.ReconnectBaseSec * 1000 * float64(time.Millisecond)),
		Multiplier: settings.ReconnectExponent,
		Max:        time.Duration(settings.ReconnectCapSec * float64(time.Second)),
		MaxRetries: settings.ReconnectMaxRetries,
	})

	return o, nil
}

// Stats is a point-in-time snapshot of counters an embedder can poll for
// display (total_frames/total_audio_frames/last_error/stop_code).
type Stats struct {
	TotalFrames      uint64
	TotalAudioFrames uint64
	StartingFrames   uint64
	LastError        string
	StopCode         sink.StopCode
}

// Stats reports this output's current counters.
func (o *Output) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	video, audio := o.frameCounts()
	return Stats{
		TotalFrames:      video,
		TotalAudioFrames: audio,
		StartingFrames:   o.startingFrames,
		LastError:        o.lastError,
		StopCode:         o.stopCode,
	}
}

// Valid reports whether creation succeeded and the Output may still be
// used; a failed New leaves an Output not worth keeping around.
func (o *Output) Valid() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.valid
}

// Phase reports the current coarse lifecycle phase.
func (o *Output) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Output) emitToNextStage(p *packet.Packet) {
	if err := o.dst.PushPacket(p); err != nil {
		o.logger.Warn().Err(err).Msg("push packet failed")
		p.Release()
		return
	}
	p.Release()
}

// Start activates the service if bound, then
// either starts the sink directly or enters the delayed-start path.
func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active.Load() {
		return &outerrors.MisuseError{Op: "output.Start", Err: errAlreadyActive}
	}

	if o.settings.HasService {
		svc, ok := o.services.Lookup(o.settings.Service)
		if !ok {
			return &outerrors.MisuseError{Op: "output.Start", Err: errUnknownService}
		}
		if err := svc.Initialize(o.id); err != nil {
			return &outerrors.InitError{Op: "output.Start service.Initialize", Err: err}
		}
		if err := svc.Activate(); err != nil {
			return &outerrors.InitError{Op: "output.Start service.Activate", Err: err}
		}
	}

	o.signaler.Starting(o.id)
	o.phase = Starting

	if o.settings.encoded() && o.settings.DelaySec > 0 {
		o.phase = DelayedStarting
		return o.startSinkLocked()
	}
	return o.startActualLocked()
}

// startSinkLocked calls the sink's start and wires the hookup/delay
// pipeline, without promoting data_active/delay_capturing -- used both by
// the immediate path and by the delayed-start path before promotion.
func (o *Output) startSinkLocked() error {
	if err := o.dst.Start(); err != nil {
		o.phase = Idle
		return &outerrors.InitError{Op: "output.Start sink.Start", Err: err}
	}

	delayUsec := int64(o.settings.DelaySec * 1_000_000)
	o.hookup = capture.New(capture.Config{
		Encoded:       o.settings.encoded(),
		HasVideo:      o.settings.HasVideo,
		HasAudio:      o.settings.HasAudio,
		MultiMix:      o.settings.MultiMix,
		MixerMask:     o.settings.MixerMask,
		VideoEncoder:  o.settings.VideoEncoder,
		AudioEncoders: o.settings.AudioEncoders,
		DelayUsec:            delayUsec,
		PreserveOnDisconnect: o.settings.DelayPreserve,
	}, o.encoders, nil, o.dst, o.logger)

	if delayUsec > 0 {
		o.delayActive.Store(true)
	}

	var terminal capture.Terminal
	if o.settings.encoded() && o.settings.HasVideo && o.settings.HasAudio {
		terminal = o.interleaver
	} else {
		terminal = singleTrackTerminal{o}
	}

	if err := o.hookup.Start(terminal); err != nil {
		o.dst.Stop(time.Time{})
		o.phase = Idle
		return err
	}

	o.active.Store(true)
	return nil
}

// startActualLocked is the internal start that
// bypasses delayed-start re-entry, used both for a non-delayed Start and
// as the reconnect loop's retry body.
func (o *Output) startActualLocked() error {
	if err := o.startSinkLocked(); err != nil {
		return err
	}

	if o.settings.encoded() && o.settings.DelaySec > 0 {
		o.phase = DelayedActive
	} else {
		o.phase = Active
		o.dataActive.Store(true)
	}

	o.startingFrames, o.startingAudioFrames = o.frameCounts()
	o.signaler.Start(o.id)
	o.signaler.Activate(o.id)
	return nil
}

// frameCounts reads the interleaver's running video/audio totals (zero when
// there is no interleaver). startActualLocked stores them as the starting
// counts; Stats reports them as the current totals.
func (o *Output) frameCounts() (video, audio uint64) {
	if o.interleaver == nil {
		return 0, 0
	}
	return o.interleaver.TotalFrames.Load(), o.interleaver.TotalAudioFrames.Load()
}

// BeginDelayedCapture sets delayCapturing and dataActive on a delay-active
// output, moves it to DelayedActive and emits the start signal. It does not
// gate the delay buffer: buffered packets drain on the buffer's own aging
// rule from the moment the hookup starts, whether or not this is called.
func (o *Output) BeginDelayedCapture() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.delayActive.Load() || o.delayCapturing.Load() {
		return
	}
	o.delayCapturing.Store(true)
	o.dataActive.Store(true)
	o.phase = DelayedActive
	o.signaler.Start(o.id)
}

// Stop is a no-op if already stopping and degrades to ForceStop while
// reconnecting. Otherwise it tears down the hookup and asks the sink to
// flush to a clean boundary. No delayed stop is queued when a delay is
// active: the hookup teardown flushes the whole delay backlog to the sink
// at once, before the sink is stopped.
func (o *Output) Stop() {
	o.mu.Lock()

	if o.phase == Stopping {
		o.mu.Unlock()
		return
	}
	if o.reconnecting.Load() {
		o.mu.Unlock()
		o.ForceStop()
		return
	}

	if o.delayActive.Load() {
		// A clean stop while delayed just flushes the backlog via hookup
		// teardown below; nothing additional to queue since Go's delay
		// buffer owns its own flush-on-Stop already.
	}

	o.phase = Stopping
	o.mu.Unlock()

	o.signaler.Stopping(o.id)
	o.endDataCapture()
	o.dst.Stop(time.Now())
	o.finalizeStop(sink.Success)
}

// ForceStop is an unconditional teardown,
// cancelling any in-flight reconnect before stopping the sink at ts=0.
func (o *Output) ForceStop() {
	o.mu.Lock()
	o.phase = Stopping
	cancel := o.reconnectCancel
	done := o.reconnectDone
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		if done != nil {
			<-done
		}
	}

	if o.delayActive.Load() {
		o.delayActive.Store(false)
		o.endDataCapture()
	} else {
		o.endDataCapture()
	}
	o.dst.Stop(time.Time{})
	o.finalizeStop(sink.Success)
}

// endDataCapture tears down the hookup (stop encoders / disconnect raw
// feeds), the mirror image of the pairing done at start. It runs
// synchronously on the calling goroutine; no caller hands it to a separate
// worker, so Stop, ForceStop and SignalStop block until teardown is done.
func (o *Output) endDataCapture() {
	o.mu.Lock()
	h := o.hookup
	o.hookup = nil
	o.mu.Unlock()

	if h != nil {
		h.Stop()
	}
	o.dataActive.Store(false)
	o.signaler.Deactivate(o.id)
	o.active.Store(false)
}

func (o *Output) finalizeStop(code sink.StopCode) {
	o.mu.Lock()
	o.stopCode = code
	o.phase = Idle
	o.mu.Unlock()
	o.signaler.Stop(o.id, code, o.lastError)
}

// Pause toggles the pause state; only meaningful when the
// output can pause, is active, and the requested state differs from the
// current one.
func (o *Output) Pause(want bool) error {
	if !o.settings.Flags.Has(sink.CanPause) {
		return &outerrors.MisuseError{Op: "output.Pause", Err: errCannotPause}
	}
	if !o.active.Load() {
		return &outerrors.MisuseError{Op: "output.Pause", Err: errNotActive}
	}
	if o.paused.Load() == want {
		return nil
	}

	now := time.Now().UnixNano()
	var ok bool
	if want {
		ok = o.pauseState.Begin(now, o.settings.FrameIntervalNs)
	} else {
		ok = o.pauseState.End(now, o.settings.FrameIntervalNs)
	}
	if !ok {
		return &outerrors.MisuseError{Op: "output.Pause", Err: errPauseStateConflict}
	}

	o.paused.Store(want)
	if want {
		o.signaler.Pause(o.id)
	} else {
		o.signaler.Unpause(o.id)
	}
	return nil
}

// canReconnect reports whether a stop code justifies a reconnect attempt: retryable
// on a fresh DISCONNECTED with retries configured, or already mid-reconnect
// with any non-success code (a second sink failure while already retrying
// doesn't start a second loop, it just keeps the existing one going).
func (o *Output) canReconnect(code sink.StopCode) bool {
	if o.reconnecting.Load() {
		return code != sink.Success
	}
	return code == sink.Disconnected && o.settings.ReconnectMaxRetries > 0
}

// SignalStop is called by the sink on
// disconnect or normal completion. Retryable codes schedule a reconnect
// instead of finalizing.
func (o *Output) SignalStop(code sink.StopCode, lastError string) {
	o.mu.Lock()
	o.lastError = lastError

	if !o.canReconnect(code) {
		o.mu.Unlock()
		o.endDataCapture()
		o.dst.Stop(time.Time{})
		o.finalizeStop(code)
		return
	}

	if o.delayActive.Load() {
		o.delayCapturing.Store(false)
	}
	o.reconnecting.Store(true)
	o.phase = Reconnecting
	ctx, cancel := context.WithCancel(context.Background())
	o.reconnectCancel = cancel
	done := make(chan struct{})
	o.reconnectDone = done
	o.mu.Unlock()

	o.endDataCapture()
	o.signaler.Reconnect(o.id, int(o.settings.ReconnectBaseSec))

	go o.runReconnect(ctx, done)
}

// runReconnect drives the backoff loop via pkg/reconnect, retrying
// startActualLocked until it succeeds or
// retries are exhausted.
func (o *Output) runReconnect(ctx context.Context, done chan struct{}) {
	defer close(done)

	result := o.reconnectCtl.Run(ctx, func(attemptCtx context.Context) error {
		select {
		case <-attemptCtx.Done():
			return attemptCtx.Err()
		default:
		}
		o.mu.Lock()
		err := o.startActualLocked()
		o.mu.Unlock()
		return err
	})

	o.mu.Lock()
	o.reconnecting.Store(false)
	o.reconnectCancel = nil
	cancelled := ctx.Err() != nil
	o.mu.Unlock()

	if cancelled {
		// Whoever cancelled us (ForceStop) owns finalizing the output;
		// a cancelled wait is not a reconnect outcome worth signalling.
		return
	}

	if result == sink.Success {
		o.signaler.ReconnectSuccess(o.id)
		return
	}

	o.delayActive.Store(false)
	o.endDataCapture()
	o.finalizeStop(sink.Disconnected)
}

// singleTrackTerminal is the per-type default terminal, used when the
// output isn't carrying both video and audio through the
// interleaver (raw outputs, or an encoded output with only one track
// type).
type singleTrackTerminal struct{ o *Output }

func (t singleTrackTerminal) Feed(p *packet.Packet) {
	t.o.emitToNextStage(p)
}

var (
	errAlreadyActive      = simpleError("output already active")
	errUnknownService     = simpleError("unknown service handle")
	errCannotPause        = simpleError("output does not support pause")
	errNotActive          = simpleError("output is not active")
	errPauseStateConflict = simpleError("pause state does not allow this transition")
)

type simpleError string

func (e simpleError) Error() string { return string(e) }
