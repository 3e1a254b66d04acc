package usart

import "sync/atomic"

// Power of two so wraparound is a mask.
const bufferSize = 128

const bufferMask = bufferSize - 1

// RingBuffer is the receive ring. One slot is kept free to tell full from
// empty, so it holds at most bufferSize-1 bytes.
//
// head is written only by the interrupt handler (Put) and tail only by the
// foreground (Get). Each side writes its data slot before publishing its
// index, so no lock is needed.
type RingBuffer struct {
	buf  [bufferSize]byte
	head atomic.Uint32 // write index
	tail atomic.Uint32 // read index
}

// NewRingBuffer returns an empty ring.
func NewRingBuffer() *RingBuffer {
	return &RingBuffer{}
}

// Size returns the usable capacity in bytes.
func (rb *RingBuffer) Size() int { return bufferSize - 1 }

// Used returns how many unread bytes are stored.
func (rb *RingBuffer) Used() int {
	return int((rb.head.Load() - rb.tail.Load()) & bufferMask)
}

// Full reports whether one more Put would collide with the read index.
func (rb *RingBuffer) Full() bool {
	return (rb.head.Load()+1)&bufferMask == rb.tail.Load()
}

// Put stores a byte. When the ring is full the byte is dropped and Put
// returns false; older bytes are never evicted.
func (rb *RingBuffer) Put(val byte) bool {
	h := rb.head.Load()
	next := (h + 1) & bufferMask
	if next == rb.tail.Load() {
		return false
	}
	rb.buf[h] = val     // 1) write data
	rb.head.Store(next) // 2) publish
	return true
}

// Get returns the oldest byte, or (0, false) when the ring is empty.
func (rb *RingBuffer) Get() (byte, bool) {
	t := rb.tail.Load()
	if t == rb.head.Load() {
		return 0, false
	}
	v := rb.buf[t]                      // 1) read current element
	rb.tail.Store((t + 1) & bufferMask) // 2) publish consumption
	return v, true
}
