package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// DefaultBridgeDuration is the amount of audio the bridge holds by default
const DefaultBridgeDuration = 500 * time.Millisecond

// ErrBridgeClosed is returned by Write after the bridge was closed, failed or discarded
var ErrBridgeClosed = errors.New("stream bridge is closed")

// Bridge is a bounded ring buffer joining a network producer to a real-time reader.
//
// Write blocks while the buffer is full, so a producer that outpaces playback is
// held back instead of growing memory. Read never blocks: it returns whatever
// whole frames are buffered, possibly none. One writer and one reader may use the
// bridge concurrently.
//
// The read and write cursors only ever grow; read <= write <= read+capacity holds
// at all times, so unread data is never overwritten.
type Bridge struct {
	mu        sync.Mutex
	buffer    []byte
	frameSize int
	readPos   uint64
	writePos  uint64
	closed    bool
	err       error

	// space is signalled by Read whenever it frees room for a blocked writer
	space    chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// NewBridge creates a bridge holding size bytes, delivering reads in multiples of frameSize
func NewBridge(size, frameSize int) *Bridge {
	if frameSize <= 0 {
		frameSize = 1
	}
	if size < frameSize {
		size = frameSize
	}
	return &Bridge{
		buffer:    make([]byte, size),
		frameSize: frameSize,
		space:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// NewBridgeForFormat creates a bridge holding d worth of audio in the given format
func NewBridgeForFormat(format Format, d time.Duration) *Bridge {
	if d <= 0 {
		d = DefaultBridgeDuration
	}
	return NewBridge(format.BytesFor(d), format.BytesPerFrame())
}

// Write copies all of data into the buffer, waiting for the reader to free space
// whenever the buffer is full.
// Returns the number of bytes accepted; fewer than len(data) only with an error.
func (b *Bridge) Write(ctx context.Context, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return written, ErrBridgeClosed
		}

		free := len(b.buffer) - int(b.writePos-b.readPos)
		if free > 0 {
			n := min(free, len(data)-written)
			b.copyIn(data[written : written+n])
			b.writePos += uint64(n)
			written += n
			b.mu.Unlock()
			continue
		}
		b.mu.Unlock()

		select {
		case <-b.space:
		case <-b.done:
		case <-ctx.Done():
			return written, ctx.Err()
		}
	}

	return written, nil
}

// Read copies buffered bytes into data without blocking.
//
// While the stream is open only whole frames are returned, possibly zero bytes.
// After Close the final partial frame is delivered as-is, and once the buffer is
// drained Read returns io.EOF. After Fail the failure is returned once drained.
func (b *Bridge) Read(data []byte) (int, error) {
	b.mu.Lock()

	available := int(b.writePos - b.readPos)
	if available == 0 {
		closed, err := b.closed, b.err
		b.mu.Unlock()
		if closed {
			if err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		return 0, nil
	}

	n := min(len(data), available)
	if !b.closed || n < available {
		n -= n % b.frameSize
	}
	if n == 0 {
		b.mu.Unlock()
		return 0, nil
	}

	b.copyOut(data[:n])
	b.readPos += uint64(n)
	b.mu.Unlock()

	// Wake a writer waiting for space
	select {
	case b.space <- struct{}{}:
	default:
	}

	return n, nil
}

// Close marks the end of the stream; buffered data remains readable
func (b *Bridge) Close() {
	b.finish(nil, false)
}

// Fail marks the stream as failed; buffered data remains readable and err is
// reported once it is drained
func (b *Bridge) Fail(err error) {
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	b.finish(err, false)
}

// Discard drops all buffered data and closes the bridge, releasing any blocked writer
func (b *Bridge) Discard() {
	b.finish(nil, true)
}

func (b *Bridge) finish(err error, discard bool) {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		b.err = err
	}
	if discard {
		b.readPos = b.writePos
	}
	b.mu.Unlock()

	b.doneOnce.Do(func() { close(b.done) })
}

// copyIn writes data at the write cursor, wrapping around the end of the buffer.
// Caller holds mu and has checked there is room.
func (b *Bridge) copyIn(data []byte) {
	idx := int(b.writePos % uint64(len(b.buffer)))
	n := copy(b.buffer[idx:], data)
	if n < len(data) {
		copy(b.buffer, data[n:])
	}
}

// copyOut reads len(data) bytes from the read cursor. Caller holds mu.
func (b *Bridge) copyOut(data []byte) {
	idx := int(b.readPos % uint64(len(b.buffer)))
	n := copy(data, b.buffer[idx:])
	if n < len(data) {
		copy(data[n:], b.buffer)
	}
}

// Available returns the number of bytes available to read
func (b *Bridge) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.writePos - b.readPos)
}

// Free returns the number of bytes that can be written without blocking
func (b *Bridge) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer) - int(b.writePos-b.readPos)
}

// Size returns the total size of the buffer
func (b *Bridge) Size() int {
	return len(b.buffer)
}

// FrameSize returns the read granularity in bytes
func (b *Bridge) FrameSize() int {
	return b.frameSize
}

// Written returns the total number of bytes ever written
func (b *Bridge) Written() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writePos
}

// Consumed returns the total number of bytes ever read or discarded
func (b *Bridge) Consumed() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readPos
}

// IsClosed returns true once Close, Fail or Discard was called
func (b *Bridge) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// IsFull returns true if the buffer is full
func (b *Bridge) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.writePos-b.readPos) == len(b.buffer)
}

// IsEmpty returns true if the buffer is empty
func (b *Bridge) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writePos == b.readPos
}
