package server

import "sync"

// BufferPool hands out request buffers. Get returns nil when a buffer of the
// requested size can't be provided. Every buffer obtained from Get is handed
// back to Put exactly once.
type BufferPool interface {
	Get(size int) []byte
	Put(buf []byte)
}

type heapPool struct {
	max  int
	pool sync.Pool
}

// NewBufferPool returns a pool refusing buffers larger than max bytes. A max
// of 0 means no limit.
func NewBufferPool(max int) BufferPool {
	return &heapPool{max: max}
}

func (p *heapPool) Get(size int) []byte {
	if size <= 0 || (p.max > 0 && size > p.max) {
		return nil
	}
	if b, ok := p.pool.Get().(*[]byte); ok && cap(*b) >= size {
		return (*b)[:size]
	}
	return make([]byte, size)
}

func (p *heapPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	p.pool.Put(&buf)
}
