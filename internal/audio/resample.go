package audio

import (
	"encoding/binary"
	"io"
	"math"
)

// Resampler maps a PCM stream to a playback rate by linear interpolation.
//
// A rate of 2.0 consumes two input frames per output frame, so audio plays twice
// as fast and an octave higher. This is a plain rate change, not a
// pitch-preserving time stretch. At rate 1.0 frames are copied unchanged.
//
// The fractional read position and any input frames not yet consumed carry over
// between calls, so consecutive render ticks join without clicks.
type Resampler struct {
	format  Format
	rate    float64
	phase   float64
	pending []byte
	scratch []byte
}

// NewResampler creates a resampler for 16-bit PCM in the given format
func NewResampler(format Format, rate float64) *Resampler {
	if rate <= 0 {
		rate = 1.0
	}
	return &Resampler{
		format: format,
		rate:   rate,
	}
}

// SetRate changes the playback rate from the next output frame on
func (r *Resampler) SetRate(rate float64) {
	if rate > 0 {
		r.rate = rate
	}
}

// Rate returns the current playback rate
func (r *Resampler) Rate() float64 {
	return r.rate
}

// Pending returns the number of input bytes held back for the next call
func (r *Resampler) Pending() int {
	return len(r.pending)
}

// Reset drops carried-over input and the fractional position
func (r *Resampler) Reset() {
	r.pending = r.pending[:0]
	r.phase = 0
}

// Render fills out with rate-mapped audio pulled from src without blocking.
//
// src must behave like Bridge.Read: (0, nil) means nothing is available yet and
// a non-nil error means the stream has ended. Render returns the number of bytes
// of out that carry audio, always a whole-frame prefix; the caller pads the rest.
// The source error is returned only once every buffered frame has been rendered.
func (r *Resampler) Render(out []byte, src io.Reader) (int, error) {
	fs := r.format.BytesPerFrame()
	outFrames := len(out) / fs

	if r.rate == 1.0 && len(r.pending) == 0 && r.phase == 0 {
		n, err := src.Read(out[:outFrames*fs])
		return n - n%fs, err
	}

	var srcErr error
	exhausted := false
	produced := 0
	t := r.phase

	for produced < outFrames {
		i := int(t)
		frac := t - float64(i)
		need := i + 1
		if frac > 0 {
			need = i + 2
		}

		if r.frames() < need && !exhausted {
			want := need - r.frames() + int(math.Ceil(float64(outFrames-produced)*r.rate))
			added, err := r.fill(src, want)
			if err != nil {
				srcErr = err
				exhausted = true
			} else if added == 0 {
				exhausted = true
			}
			continue
		}

		if r.frames() < need {
			// Only the interpolation partner is missing at end of stream: hold the last frame
			if srcErr != nil && r.frames() > i {
				frac = 0
			} else {
				break
			}
		}

		r.interpolate(out[produced*fs:(produced+1)*fs], i, frac)
		produced++
		t += r.rate
	}

	drop := min(int(t), r.frames())
	r.pending = append(r.pending[:0], r.pending[drop*fs:]...)
	r.phase = t - float64(drop)

	if produced < outFrames && srcErr != nil {
		r.phase = 0
		return produced * fs, srcErr
	}
	return produced * fs, nil
}

// fill appends up to want whole frames from src to pending.
// Returns the number of frames added.
func (r *Resampler) fill(src io.Reader, want int) (int, error) {
	fs := r.format.BytesPerFrame()
	if want < 1 {
		want = 1
	}
	if cap(r.scratch) < want*fs {
		r.scratch = make([]byte, want*fs)
	}
	buf := r.scratch[:want*fs]

	n, err := src.Read(buf)
	// A torn trailing frame can only arrive at end of stream and cannot be played
	n -= n % fs
	r.pending = append(r.pending, buf[:n]...)
	return n / fs, err
}

func (r *Resampler) frames() int {
	return len(r.pending) / r.format.BytesPerFrame()
}

// interpolate writes the frame at position i+frac of pending into dst
func (r *Resampler) interpolate(dst []byte, i int, frac float64) {
	fs := r.format.BytesPerFrame()
	bs := r.format.BytesPerSample()
	base := i * fs

	for c := 0; c < int(r.format.Channels); c++ {
		off := base + c*bs
		a := float64(int16(binary.LittleEndian.Uint16(r.pending[off:])))
		v := a
		if frac > 0 {
			b := float64(int16(binary.LittleEndian.Uint16(r.pending[off+fs:])))
			v = a + (b-a)*frac
		}
		binary.LittleEndian.PutUint16(dst[c*bs:], uint16(clampInt16(math.Round(v))))
	}
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
