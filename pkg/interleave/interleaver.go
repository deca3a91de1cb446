// Package interleave implements the packet interleaver: it
// aligns audio and video encoder clocks that start at arbitrary offsets,
// rebases timestamps to a common zero, and emits packets to a sink in
// strict DTS order with a video-before-audio tie-break.
//
// Feed is invoked per encoder packet on the encoder callback thread; a
// single mutex serializes callbacks from every track, held across the
// whole handler.
package interleave

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/voka-studio/mediaoutput/pkg/packet"
)

// CaptionInjector is invoked for each video packet about to be emitted, so
// it can splice an SEI payload onto the packet's buffer. Wiring
// it as an interface keeps the interleaver ignorant of caption internals.
type CaptionInjector interface {
	Inject(p *packet.Packet)
}

// State is the interleaver state: the ordered packet buffer plus
// the bookkeeping needed to decide when initialization (rebase) is
// complete.
type State struct {
	mu sync.Mutex

	numAudioTracks int
	emit           func(*packet.Packet)
	injector       CaptionInjector
	logger         zerolog.Logger
	dropLimiter    *rate.Limiter

	buf []*packet.Packet

	receivedVideo bool
	receivedAudio bool
	initialized   bool

	highestVideoUsec int64
	highestAudioUsec int64

	videoOffset  int64
	audioOffsets [packet.MaxMixes]int64

	TotalFrames      atomic.Uint64
	TotalAudioFrames atomic.Uint64
}

// New creates interleaver state for an output with the given number of
// bound audio tracks. emit delivers packets, in final DTS order, to
// whatever sits downstream (the delay buffer, or the sink directly).
func New(numAudioTracks int, emit func(*packet.Packet), logger zerolog.Logger) *State {
	if numAudioTracks > packet.MaxMixes {
		numAudioTracks = packet.MaxMixes
	}
	return &State{
		numAudioTracks: numAudioTracks,
		emit:           emit,
		logger:         logger.With().Str("component", "interleaver").Logger(),
		// One dropped-packet warning per second at most; alignment
		// failures are pruned silently but still worth a single
		// rate-limited log line rather than one per packet.
		dropLimiter: rate.NewLimiter(rate.Every(1e9), 1),
	}
}

// SetCaptionInjector installs the caption injection hook used at emit time.
func (s *State) SetCaptionInjector(inj CaptionInjector) {
	s.mu.Lock()
	s.injector = inj
	s.mu.Unlock()
}

// Feed takes ownership of pkt (the caller must not touch it again) and
// runs the full alignment algorithm: keyframe gate, rebase-or-mark-reception,
// ordered insert, high-water tracking, one-shot initialization, and
// monotonicity-guarded emission.
func (s *State) Feed(pkt *packet.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Step 2: keyframe gate. Until the first video packet arrives, only a
	// keyframe may pass; any buffered audio older than it is dropped
	// along with the frame itself.
	if pkt.Type == packet.Video && !s.receivedVideo && !pkt.Keyframe {
		s.dropAudioOlderThan(pkt.DTSUsec)
		pkt.Release()
		return
	}

	// Step 3: ownership. The interleaver is the sole owner of pkt from
	// here on — whether or not a delay buffer later takes it over is a
	// question for the downstream emit callback, not for this step; Go's
	// explicit Release()-based refcounting means no separate clone is
	// needed the way a C implementation needs one to survive the
	// producer's pool reuse.
	owned := pkt

	// Step 4: rebase in steady state, else mark reception.
	if s.initialized {
		s.rebaseOne(owned)
	} else {
		switch owned.Type {
		case packet.Video:
			s.receivedVideo = true
		case packet.Audio:
			s.receivedAudio = true
		}
	}

	// Step 5: ordered insert.
	s.buf = insertSorted(s.buf, owned)

	// Step 6: high-water marks.
	s.trackHighWater(owned)

	// Step 7: one-shot initialization transition.
	if !s.initialized && s.receivedVideo && s.receivedAudio {
		s.tryInitialize()
	}

	// Step 8: emit everything the monotonicity guard allows.
	s.emitReady()
}

func (s *State) dropAudioOlderThan(usec int64) {
	kept := s.buf[:0]
	for _, p := range s.buf {
		if p.Type == packet.Audio && p.DTSUsec < usec {
			p.Release()
			continue
		}
		kept = append(kept, p)
	}
	s.buf = kept
	if s.dropLimiter.Allow() {
		s.logger.Warn().Int64("dts_usec", usec).Msg("dropped premature audio before first video keyframe")
	}
}

func (s *State) rebaseOne(p *packet.Packet) {
	var offset int64
	switch p.Type {
	case packet.Video:
		offset = s.videoOffset
	case packet.Audio:
		offset = s.audioOffsets[p.TrackIdx]
	}
	p.PTS -= offset
	p.SetDTS(p.DTS - offset)
}

func (s *State) trackHighWater(p *packet.Packet) {
	switch p.Type {
	case packet.Video:
		if p.DTSUsec > s.highestVideoUsec {
			s.highestVideoUsec = p.DTSUsec
		}
	case packet.Audio:
		if p.DTSUsec > s.highestAudioUsec {
			s.highestAudioUsec = p.DTSUsec
		}
	}
}

func opposite(t packet.Type) packet.Type {
	if t == packet.Video {
		return packet.Audio
	}
	return packet.Video
}

// insertSorted inserts p at the leftmost position where p precedes the
// packet currently there, tie-breaking equal dts_usec so video precedes
// audio.
func insertSorted(buf []*packet.Packet, p *packet.Packet) []*packet.Packet {
	i := sort.Search(len(buf), func(i int) bool {
		cur := buf[i]
		if p.DTSUsec != cur.DTSUsec {
			return p.DTSUsec < cur.DTSUsec
		}
		return p.Type == packet.Video && cur.Type == packet.Audio
	})
	buf = append(buf, nil)
	copy(buf[i+1:], buf[i:])
	buf[i] = p
	return buf
}

// tryInitialize runs the one-shot pruning and offset-setting transition
// that rebases every track to a common zero. Until every configured audio
// track has at least one packet buffered it changes nothing but
// receivedAudio, which it clears so that the next audio packet retries.
func (s *State) tryInitialize() {
	videoIdx := indexOfFirst(s.buf, packet.Video, -1)
	if videoIdx == -1 {
		return
	}
	videoFirst := s.buf[videoIdx]

	audioFirstIdx := make([]int, s.numAudioTracks)
	for i := range audioFirstIdx {
		audioFirstIdx[i] = indexOfFirst(s.buf, packet.Audio, i)
		if audioFirstIdx[i] == -1 {
			// A bound track hasn't produced a packet yet: wait for more
			// audio before attempting initialization again.
			s.receivedAudio = false
			return
		}
	}

	lastFirstIdx := videoIdx
	// maxDiff measures how far ahead of video the earliest audio packet of
	// each track started (video_first.dts_usec - audio_first.dts_usec):
	// positive and large means that track's encoder has been producing
	// audio well before the video encoder's first keyframe, i.e. premature
	// audio that needs pruning rather than just rebasing.
	maxDiff := int64(math.MinInt64)
	for _, idx := range audioFirstIdx {
		p := s.buf[idx]
		if d := videoFirst.DTSUsec - p.DTSUsec; d > maxDiff {
			maxDiff = d
		}
		if idx > lastFirstIdx {
			lastFirstIdx = idx
		}
	}

	// discardEnd is the exclusive upper bound of the prefix to drop: buf[:discardEnd]
	// is released, buf[discardEnd:] survives. The two branches disagree on
	// whether the bounding index itself is junk or the alignment anchor:
	//
	//   - Premature audio (maxDiff > one frame): the first-per-track indices
	//     mark packets still part of the misaligned run, so the later of
	//     them is junk too ("discard everything up to and including").
	//   - Otherwise the first-per-track packets already form the best
	//     alignment pair; only whatever precedes the closer of (video_first,
	//     closest_audio) is stale ("discard up to" that index, exclusive).
	frameUsec := videoFirst.FrameUsec()
	var discardEnd int
	if maxDiff > frameUsec {
		discardEnd = lastFirstIdx + 1
	} else {
		closestIdx := -1
		var closestAbs int64
		for i, p := range s.buf {
			if p.Type != packet.Audio {
				continue
			}
			d := p.DTSUsec - videoFirst.DTSUsec
			if d < 0 {
				d = -d
			}
			if closestIdx == -1 || d < closestAbs {
				closestIdx, closestAbs = i, d
			}
		}
		discardEnd = videoIdx
		if closestIdx != -1 && closestIdx < discardEnd {
			discardEnd = closestIdx
		}
	}

	if discardEnd > len(s.buf) {
		discardEnd = len(s.buf)
	}
	for i := 0; i < discardEnd; i++ {
		s.buf[i].Release()
	}
	s.buf = append([]*packet.Packet(nil), s.buf[discardEnd:]...)

	hasVideo, hasAudio := false, false
	for _, p := range s.buf {
		switch p.Type {
		case packet.Video:
			hasVideo = true
		case packet.Audio:
			hasAudio = true
		}
	}
	if !hasVideo || !hasAudio {
		s.receivedVideo = false
		s.receivedAudio = false
		return
	}

	// Offsets are taken from the first-per-track packets that actually
	// survived pruning, not the ones used above to decide how much to
	// discard: if the original anchor got pruned as stale, rebasing against
	// it would leave the two streams at different post-rebase zero points.
	s.videoOffset = s.buf[indexOfFirst(s.buf, packet.Video, -1)].PTS
	for i := 0; i < s.numAudioTracks; i++ {
		idx := indexOfFirst(s.buf, packet.Audio, i)
		if idx == -1 {
			s.receivedVideo = false
			s.receivedAudio = false
			return
		}
		s.audioOffsets[i] = s.buf[idx].DTS
	}
	s.initialized = true

	for _, p := range s.buf {
		s.rebaseOne(p)
	}
	sort.SliceStable(s.buf, func(i, j int) bool {
		a, b := s.buf[i], s.buf[j]
		if a.DTSUsec != b.DTSUsec {
			return a.DTSUsec < b.DTSUsec
		}
		return a.Type == packet.Video && b.Type == packet.Audio
	})

	s.highestVideoUsec, s.highestAudioUsec = 0, 0
	for _, p := range s.buf {
		s.trackHighWater(p)
	}
}

func indexOfFirst(buf []*packet.Packet, t packet.Type, trackIdx int) int {
	for i, p := range buf {
		if p.Type != t {
			continue
		}
		if t == packet.Audio && p.TrackIdx != trackIdx {
			continue
		}
		return i
	}
	return -1
}

// emitReady pops and delivers head packets for as long as the buffer still
// holds a packet of the opposing type with a greater dts_usec than the head
// — the monotonicity guard: a head with no such later opposing packet stays
// buffered, since an earlier packet of the other type could still arrive.
func (s *State) emitReady() {
	if !s.initialized {
		return
	}
	for len(s.buf) > 0 {
		head := s.buf[0]
		opp := opposite(head.Type)

		guarded := false
		for _, p := range s.buf[1:] {
			if p.Type == opp && p.DTSUsec > head.DTSUsec {
				guarded = true
				break
			}
		}
		if !guarded {
			break
		}

		s.buf = s.buf[1:]
		if head.Type == packet.Video {
			s.TotalFrames.Add(1)
			if s.injector != nil && head.Priority <= 1 {
				s.injector.Inject(head)
			}
		} else {
			s.TotalAudioFrames.Add(1)
		}
		if s.emit != nil {
			s.emit(head)
		}
	}
}
