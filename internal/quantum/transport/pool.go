package transport

import "sync"

// receiveBufSize covers the largest datagram the wire format defines (one
// full MSS-sized data packet plus its 4-byte seq_id header).
const receiveBufSize = 1024

// bufferPool recycles receive buffers to keep Receive's hot path
// allocation-free under steady load.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, receiveBufSize)
			},
		},
	}
}

// Get returns a receiveBufSize-length buffer, reused if available.
func (p *bufferPool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns buf to the pool. Buffers of an unexpected size (never produced
// by Get, but defensive against misuse) are dropped instead of pooled.
func (p *bufferPool) Put(buf []byte) {
	if cap(buf) != receiveBufSize {
		return
	}
	p.pool.Put(buf[:receiveBufSize])
}
