package tts

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/emmett/murmur/internal/audio"
)

// The decoder always produces interleaved stereo 16-bit little-endian samples
const mp3FrameSize = 4

// mp3Stream decodes an mp3 byte stream into PCM of the playback format
type mp3Stream struct {
	dec    *mp3.Decoder
	format audio.Format
	carry  []byte // decoded bytes short of a whole stereo frame
}

func newMP3Stream(r io.Reader, format audio.Format) (*mp3Stream, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	if rate := dec.SampleRate(); uint32(rate) != format.SampleRate {
		return nil, &ProtocolError{
			Reason: fmt.Sprintf("mp3 sample rate %d Hz does not match playback rate %d Hz", rate, format.SampleRate),
		}
	}
	if format.Channels != 1 && format.Channels != 2 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("cannot map mp3 audio to %d channels", format.Channels)}
	}
	return &mp3Stream{dec: dec, format: format}, nil
}

// next decodes roughly size output bytes. It returns data with a nil error
// or, at the end, whatever was left together with the decoder's error.
func (m *mp3Stream) next(size int) ([]byte, error) {
	frames := size / m.format.BytesPerFrame()
	if frames < 1 {
		frames = 1
	}
	raw := make([]byte, len(m.carry)+frames*mp3FrameSize)
	copy(raw, m.carry)
	filled := len(m.carry)
	m.carry = nil

	var err error
	for filled < mp3FrameSize && err == nil {
		var n int
		n, err = m.dec.Read(raw[filled:])
		filled += n
	}

	whole := filled - filled%mp3FrameSize
	if rest := raw[whole:filled]; len(rest) > 0 && err == nil {
		m.carry = append([]byte(nil), rest...)
	}
	return m.convert(raw[:whole]), err
}

// convert maps decoded stereo frames onto the playback channel count
func (m *mp3Stream) convert(stereo []byte) []byte {
	if m.format.Channels == 2 || len(stereo) == 0 {
		return stereo
	}
	out := make([]byte, len(stereo)/2)
	for i, j := 0, 0; i+mp3FrameSize <= len(stereo); i, j = i+mp3FrameSize, j+2 {
		left := int32(int16(binary.LittleEndian.Uint16(stereo[i:])))
		right := int32(int16(binary.LittleEndian.Uint16(stereo[i+2:])))
		binary.LittleEndian.PutUint16(out[j:], uint16(int16((left+right)/2)))
	}
	return out
}
