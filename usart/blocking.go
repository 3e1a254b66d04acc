package usart

import "context"

// Readable returns a coalesced notification for RX readiness. The handler
// sends on it after storing a byte; callers must re-check state after waking.
func (u *UART) Readable() <-chan struct{} { return u.notify }

// Writable returns a coalesced notification sent when a transmission has
// completed and the TX buffer is idle again.
func (u *UART) Writable() <-chan struct{} { return u.txNotify }

// WaitReadable blocks until data is buffered, ctx is done, or the UART is
// closed.
func (u *UART) WaitReadable(ctx context.Context) error {
	for {
		if u.Buffered() > 0 {
			return nil
		}
		select {
		case <-u.notify:
			// re-check; the notify is coalesced
		case <-u.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReadByteContext blocks for a single byte.
func (u *UART) ReadByteContext(ctx context.Context) (byte, error) {
	for {
		if b, ok := u.Buffer.Get(); ok {
			return b, nil
		}
		if err := u.WaitReadable(ctx); err != nil {
			return 0, err
		}
	}
}

// ReadContext blocks until at least one byte is available, then reads up
// to len(p).
func (u *UART) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if n := u.TryRead(p); n > 0 {
			return n, nil
		}
		if err := u.WaitReadable(ctx); err != nil {
			return 0, err
		}
	}
}

// WriteContext queues p as one message, waiting for any in-flight message
// to finish first. It returns once p has been accepted, not once it is on
// the wire; use Flush for that. Retries are not counted as rejects.
func (u *UART) WriteContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > u.TxBuffer.Size() {
		return 0, ErrTooLarge
	}
	for {
		if u.send(p) {
			return len(p), nil
		}
		select {
		case <-u.txNotify:
		case <-u.closed:
			return 0, ErrClosed
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Flush blocks until the TX state is idle, meaning the last queued byte has
// physically left the shift register.
func (u *UART) Flush(ctx context.Context) error {
	for u.TxBuffer.Busy() {
		select {
		case <-u.txNotify:
			if !u.TxBuffer.Busy() {
				notify(u.txNotify) // pass the edge on to any writer waiting too
			}
		case <-u.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close masks the RX interrupt and releases blocked waiters. A transmission
// already in flight still runs to completion.
func (u *UART) Close() error {
	select {
	case <-u.closed:
	default:
		close(u.closed)
	}
	u.Bus.ClearBits(RegCR1, CR1_RXNEIE)
	return nil
}
