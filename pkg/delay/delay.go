// Package delay implements the delay buffer: it holds packets
// for a configured duration before handing them downstream, so an operator
// can absorb a brief stream interruption without losing frames, and decides
// what happens to the buffered backlog when the sink disconnects.
package delay

import (
	"sync"

	"github.com/voka-studio/mediaoutput/pkg/packet"
)

// State buffers packets until they are at least DelayUsec old relative to
// the newest packet seen, then emits them in arrival order.
type State struct {
	mu sync.Mutex

	delayUsec            int64
	preserveOnDisconnect bool
	emit                 func(*packet.Packet)

	buf          []*packet.Packet
	highestUsec  int64
	haveHighest  bool
	disconnected bool
}

// New creates a delay buffer that holds packets for delayUsec microseconds.
// preserveOnDisconnect controls what Disconnect does with the backlog: keep
// it (waiting out a reconnect) or drop it immediately.
func New(delayUsec int64, preserveOnDisconnect bool, emit func(*packet.Packet)) *State {
	return &State{delayUsec: delayUsec, preserveOnDisconnect: preserveOnDisconnect, emit: emit}
}

// Push buffers p and emits every packet old enough to have aged past the
// configured delay, oldest first. While disconnected and not preserving,
// pushed packets are dropped immediately rather than accumulating forever.
func (s *State) Push(p *packet.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disconnected && !s.preserveOnDisconnect {
		p.Release()
		return
	}

	if !s.haveHighest || p.DTSUsec > s.highestUsec {
		s.highestUsec = p.DTSUsec
		s.haveHighest = true
	}
	s.buf = append(s.buf, p)

	if s.disconnected {
		// Preserving: hold everything until Reconnect, don't age anything
		// out while there is nowhere to send it.
		return
	}
	s.drainLocked()
}

func (s *State) drainLocked() {
	for len(s.buf) > 0 && s.highestUsec-s.buf[0].DTSUsec >= s.delayUsec {
		head := s.buf[0]
		s.buf = s.buf[1:]
		if s.emit != nil {
			s.emit(head)
		}
	}
}

// Disconnect marks the sink unavailable. With preserveOnDisconnect the
// buffer keeps accumulating (and keeps what it already had) for a
// subsequent Reconnect to flush; otherwise the existing backlog is dropped
// and further pushes are dropped too until Reconnect.
func (s *State) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disconnected = true
	if !s.preserveOnDisconnect {
		for _, p := range s.buf {
			p.Release()
		}
		s.buf = nil
	}
}

// Reconnect resumes normal draining, releasing any backlog that is now old
// enough per the usual aging rule.
func (s *State) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disconnected = false
	s.drainLocked()
}

// Flush forces every buffered packet out regardless of age, used on a clean
// stop so nothing held in the delay window is silently lost.
func (s *State) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) > 0 {
		head := s.buf[0]
		s.buf = s.buf[1:]
		if s.emit != nil {
			s.emit(head)
		}
	}
}

// Buffered reports how many packets are currently held back.
func (s *State) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}
