package protocol

import "sync"

// BytePool is a pool of reusable []byte buffers, cutting GC pressure on
// the frame codec's hot path (one packet per request at minimum, one per
// move/hint/broadcast on a live game channel).
type BytePool struct {
	pool sync.Pool
}

// NewBytePool creates a pool whose buffers start at defaultCap bytes.
func NewBytePool(defaultCap int) *BytePool {
	p := &BytePool{}
	p.pool.New = func() any {
		return make([]byte, 0, defaultCap)
	}
	return p
}

// Get returns a slice of length size, reusing a pooled buffer when big
// enough.
func (p *BytePool) Get(size int) []byte {
	b := p.pool.Get().([]byte)
	if cap(b) < size {
		p.pool.Put(b)
		return make([]byte, size)
	}
	return b[:size]
}

// Put returns b to the pool for reuse.
func (p *BytePool) Put(b []byte) {
	if b == nil {
		return
	}
	p.pool.Put(b[:0])
}
