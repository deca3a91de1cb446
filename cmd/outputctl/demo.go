package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voka-studio/mediaoutput/pkg/encoder"
	"github.com/voka-studio/mediaoutput/pkg/packet"
	"github.com/voka-studio/mediaoutput/pkg/sink"
)

// demoEncoder is a synthetic packet source standing in for a real video or
// audio encoder: no capture device exists in this port (see DESIGN.md), so
// it ticks out small synthetic access units at a configured interval
// instead of encoding real frames.
type demoEncoder struct {
	kind         packet.Type
	trackIdx     int
	intervalNs   int64
	keyframeEach int // video only: every Nth frame is a keyframe

	mu     sync.Mutex
	cb     func(*packet.Packet)
	paired encoder.Handle
	hasPaired bool
	waitVideo bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	frame  int64
}

func newDemoEncoder(kind packet.Type, trackIdx int, intervalNs int64) *demoEncoder {
	return &demoEncoder{kind: kind, trackIdx: trackIdx, intervalNs: intervalNs, keyframeEach: 60}
}

func (e *demoEncoder) Start() error {
	e.mu.Lock()
	if e.stopCh != nil {
		e.mu.Unlock()
		return nil
	}
	e.stopCh = make(chan struct{})
	stop := e.stopCh
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(stop)
	return nil
}

func (e *demoEncoder) Stop() {
	e.mu.Lock()
	stop := e.stopCh
	e.stopCh = nil
	e.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	e.wg.Wait()
}

func (e *demoEncoder) run(stop chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Duration(e.intervalNs))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.emit()
		}
	}
}

func (e *demoEncoder) emit() {
	e.mu.Lock()
	cb := e.cb
	wait := e.waitVideo
	e.mu.Unlock()
	if cb == nil || wait {
		return
	}

	n := e.frame
	e.frame++

	p := &packet.Packet{
		Type:        e.kind,
		TrackIdx:    e.trackIdx,
		TimebaseNum: 1,
		TimebaseDen: 90000,
		PTS:         n * 3000,
		Priority:    0,
		Data:        packet.NewBuffer(fmt.Appendf(nil, "%s-frame-%d", e.kind, n)),
	}
	if e.kind == packet.Video {
		p.Keyframe = e.keyframeEach > 0 && n%int64(e.keyframeEach) == 0
	}
	p.SetDTS(p.PTS)
	cb(p)
}

func (e *demoEncoder) SetPacketCallback(fn func(*packet.Packet)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = fn
}

func (e *demoEncoder) Pair(other encoder.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paired, e.hasPaired = other, true
	return nil
}

func (e *demoEncoder) Paired() (encoder.Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paired, e.hasPaired
}

func (e *demoEncoder) WaitForVideo(wait bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waitVideo = wait
	if wait {
		e.frame = 0
	}
}

// demoRegistry is the in-memory encoder.Registry a standalone process can
// build at startup, since no real settings/UI layer is wired in this port.
type demoRegistry struct {
	byHandle map[encoder.Handle]encoder.Encoder
}

func newDemoRegistry() *demoRegistry {
	return &demoRegistry{byHandle: make(map[encoder.Handle]encoder.Encoder)}
}

func (r *demoRegistry) add(h encoder.Handle, e encoder.Encoder) { r.byHandle[h] = e }

func (r *demoRegistry) Lookup(h encoder.Handle) (encoder.Encoder, bool) {
	e, ok := r.byHandle[h]
	return e, ok
}

// fileSink is a minimal sink.Sink that appends each packet's payload to a
// file, framed as a 4-byte big-endian length prefix followed by the bytes
// (the same length-prefixed framing pkg/caption's appendNALU uses for the
// SEI NALU it splices in). Raw frame delivery is accepted but
// discarded; this sink only demonstrates the encoded path.
type fileSink struct {
	path  string
	flags sink.Flag
	log   zerolog.Logger

	mu sync.Mutex
	f  *os.File

	bytes   uint64
	dropped uint64
}

func newFileSink(path string, flags sink.Flag, log zerolog.Logger) *fileSink {
	return &fileSink{path: path, flags: flags, log: log}
}

func (s *fileSink) Flags() sink.Flag { return s.flags }

func (s *fileSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

func (s *fileSink) Stop(ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return
	}
	_ = s.f.Sync()
	_ = s.f.Close()
	s.f = nil
}

func (s *fileSink) PushPacket(p *packet.Packet) error {
	s.mu.Lock()
	f := s.f
	s.mu.Unlock()
	if f == nil {
		return fmt.Errorf("fileSink %s: not started", s.path)
	}

	data := p.Data.Bytes()
	var lenPrefix [4]byte
	n := len(data)
	lenPrefix[0] = byte(n >> 24)
	lenPrefix[1] = byte(n >> 16)
	lenPrefix[2] = byte(n >> 8)
	lenPrefix[3] = byte(n)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := f.Write(lenPrefix[:]); err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	s.bytes += uint64(4 + n)
	return nil
}

func (s *fileSink) PushRawVideo(f sink.RawVideoFrame) error {
	s.dropped++
	return nil
}

func (s *fileSink) PushRawAudio(f sink.RawAudioFrame) error {
	s.dropped++
	return nil
}

func (s *fileSink) TotalBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *fileSink) DroppedFrames() uint64 { return s.dropped }
func (s *fileSink) Congestion() float64   { return 0 }
func (s *fileSink) ConnectTimeMs() int64  { return 0 }
