package usart

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBuffer_FIFO(t *testing.T) {
	rb := NewRingBuffer()
	_, ok := rb.Get()
	require.False(t, ok)

	for k := 1; k <= rb.Size(); k += 42 {
		for i := 0; i < k; i++ {
			require.True(t, rb.Put(byte(i)))
		}
		require.Equal(t, k, rb.Used())
		for i := 0; i < k; i++ {
			b, ok := rb.Get()
			require.True(t, ok)
			require.Equal(t, byte(i), b)
		}
		_, ok := rb.Get()
		require.False(t, ok, "read %d on a drained ring", k+1)
	}
}

func TestRingBuffer_OverflowDropsNewest(t *testing.T) {
	rb := NewRingBuffer()
	require.Equal(t, bufferSize-1, rb.Size())

	for i := 0; i < 130; i++ {
		if i == bufferSize-1 {
			require.True(t, rb.Full(), "full before push %d", i+1)
		}
		ok := rb.Put(byte(i))
		require.Equal(t, i < bufferSize-1, ok, "push %d", i+1)
	}
	require.Equal(t, bufferSize-1, rb.Used())

	for i := 0; i < bufferSize-1; i++ {
		b, ok := rb.Get()
		require.True(t, ok)
		require.Equal(t, byte(i), b)
	}
	_, ok := rb.Get()
	require.False(t, ok)
}

func TestRingBuffer_Wraparound(t *testing.T) {
	rb := NewRingBuffer()
	var next, expect byte

	// Uneven put/get batches walk both indices across the boundary many
	// times; Full must track exactly bufferSize-1 unread entries.
	for round := 0; round < 50; round++ {
		puts := 1 + (round*37)%(bufferSize-1)
		for i := 0; i < puts; i++ {
			if rb.Used() == bufferSize-1 {
				require.True(t, rb.Full())
				require.False(t, rb.Put(next))
				break
			}
			require.False(t, rb.Full())
			require.True(t, rb.Put(next))
			next++
		}
		gets := 1 + (round*53)%(bufferSize-1)
		for i := 0; i < gets; i++ {
			b, ok := rb.Get()
			if !ok {
				require.Zero(t, rb.Used())
				break
			}
			require.Equal(t, expect, b)
			expect++
		}
		h, tl := rb.head.Load(), rb.tail.Load()
		require.True(t, h < bufferSize && tl < bufferSize, "indices %d/%d out of range", h, tl)
	}
}
