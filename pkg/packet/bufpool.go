package packet

import (
	"sync"
	"sync/atomic"
)

// sizeClasses mirrors the size-classed pooling approach used for RTMP chunk
// buffers: a handful of fixed classes absorb most allocations, oversized
// requests fall back to a plain make().
var sizeClasses = []int{256, 4096, 65536, 1 << 20}

type classPool struct {
	size int
	pool *sync.Pool
}

var defaultPools = newPools()

func newPools() []classPool {
	pools := make([]classPool, len(sizeClasses))
	for i, classSize := range sizeClasses {
		size := classSize
		pools[i] = classPool{
			size: size,
			pool: &sync.Pool{
				New: func() any {
					return make([]byte, size)
				},
			},
		}
	}
	return pools
}

func getBuf(size int) []byte {
	if size <= 0 {
		return nil
	}
	for i := range defaultPools {
		class := &defaultPools[i]
		if size <= class.size {
			buf := class.pool.Get().([]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

func putBuf(buf []byte) {
	if buf == nil {
		return
	}
	capBuf := cap(buf)
	for i := range defaultPools {
		class := &defaultPools[i]
		if capBuf == class.size {
			full := buf[:class.size]
			clear(full)
			class.pool.Put(full)
			return
		}
	}
}

// Buffer is a reference-counted byte buffer backed by a size-classed pool.
// EncoderPacket.Data carries one of these so the delay buffer and the
// interleaver can move a packet without copying its payload, while the
// caption injector's SEI splice can still safely reallocate it.
type Buffer struct {
	refs atomic.Int32
	data []byte
}

// NewBuffer copies src into a freshly pooled buffer with one reference held.
func NewBuffer(src []byte) *Buffer {
	b := &Buffer{data: getBuf(len(src))}
	copy(b.data, src)
	b.refs.Store(1)
	return b
}

// Bytes returns the buffer's contents. The returned slice must not be
// retained past a Release call.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Len reports the buffer's length.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Retain increments the refcount and returns the same buffer, so a second
// holder (such as a Packet.Clone) shares the bytes instead of copying them.
func (b *Buffer) Retain() *Buffer {
	b.refs.Add(1)
	return b
}

// Release drops a reference, returning the backing array to the pool once
// the last reference is gone.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	if b.refs.Add(-1) == 0 {
		putBuf(b.data)
		b.data = nil
	}
}

// Realloc replaces a packet's buffer with a freshly pooled one holding
// data, releasing the old allocation. This is what the caption injector
// calls after splicing an SEI payload onto a packet's existing NAL data:
// the refcount itself lives in the returned Buffer's atomic field, not
// inline in the bytes, but the effect is the same: a fresh buffer with the
// new bytes, and the old one released.
func (b *Buffer) Realloc(data []byte) *Buffer {
	nb := NewBuffer(data)
	if b != nil {
		b.Release()
	}
	return nb
}
