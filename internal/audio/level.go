package audio

import (
	"encoding/binary"
	"math"
)

// Level returns the RMS energy of S16LE samples, normalised to 0.0-1.0.
// A trailing odd byte is ignored.
func Level(data []byte) float64 {
	samples := len(data) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < samples; i++ {
		sample := int16(binary.LittleEndian.Uint16(data[i*2:]))
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}
