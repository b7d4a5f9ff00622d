package wsconn

import "sync"

// BufferPool manages reusable byte buffers with size classes, grounded on
// the teacher's pkg/websocket/message_pool.go. The teacher's FastString and
// FastBytes unsafe.Pointer conversions are not carried forward: this
// package only ever hands buffers to encoding/json and gorilla/websocket,
// neither of which benefits from an unsafe string/[]byte aliasing trick,
// and the risk of a caller retaining an aliased buffer past a Put() is not
// worth the avoided copy.
type BufferPool struct {
	small  sync.Pool // 256 bytes
	medium sync.Pool // 1KB
	large  sync.Pool // 4KB
}

// NewBufferPool constructs an empty size-classed pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		small:  sync.Pool{New: func() interface{} { return make([]byte, 0, 256) }},
		medium: sync.Pool{New: func() interface{} { return make([]byte, 0, 1024) }},
		large:  sync.Pool{New: func() interface{} { return make([]byte, 0, 4096) }},
	}
}

// Get returns a zero-length buffer with capacity for at least size bytes.
func (p *BufferPool) Get(size int) []byte {
	switch {
	case size <= 256:
		return p.small.Get().([]byte)[:0]
	case size <= 1024:
		return p.medium.Get().([]byte)[:0]
	case size <= 4096:
		return p.large.Get().([]byte)[:0]
	default:
		return make([]byte, 0, size)
	}
}

// Put returns buf to the pool sized by its capacity, zeroing its contents first.
func (p *BufferPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	for i := range buf {
		buf[i] = 0
	}
	buf = buf[:0]

	switch cap(buf) {
	case 256:
		p.small.Put(buf) //nolint:staticcheck // size-classed pool key is capacity, not length
	case 1024:
		p.medium.Put(buf)
	case 4096:
		p.large.Put(buf)
	}
}
