package audio

import (
	"fmt"
	"time"
)

// Format describes linear PCM audio
type Format struct {
	// SampleRate is the number of frames per second (Hz)
	SampleRate uint32

	// Channels is the number of interleaved channels
	// 1 = mono (what the synthesis service produces)
	Channels uint32

	// BitDepth is the number of bits per sample
	// Only 16-bit signed little-endian is supported for playback
	BitDepth uint32
}

// DefaultFormat returns the raw PCM format produced by the synthesis service
func DefaultFormat() Format {
	return Format{
		SampleRate: 24000, // 24kHz
		Channels:   1,     // Mono
		BitDepth:   16,    // 16-bit
	}
}

// Validate checks that the format can be played back
func (f Format) Validate() error {
	if f.SampleRate == 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	if f.Channels == 0 {
		return fmt.Errorf("channel count must be positive")
	}
	if f.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth %d (only 16-bit PCM is supported)", f.BitDepth)
	}
	return nil
}

// BytesPerSample returns the size of one sample of one channel
func (f Format) BytesPerSample() int {
	return int(f.BitDepth / 8)
}

// BytesPerFrame returns the size of one frame (one sample for every channel)
func (f Format) BytesPerFrame() int {
	return f.BytesPerSample() * int(f.Channels)
}

// FramesFor returns the number of frames covering d
func (f Format) FramesFor(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// BytesFor returns the number of bytes covering d, frame aligned
func (f Format) BytesFor(d time.Duration) int {
	return f.FramesFor(d) * f.BytesPerFrame()
}

// Duration returns the playback duration of n bytes at normal rate
func (f Format) Duration(n int) time.Duration {
	frames := n / f.BytesPerFrame()
	return time.Duration(int64(frames) * int64(time.Second) / int64(f.SampleRate))
}

// String returns a human-readable representation of the format
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}
