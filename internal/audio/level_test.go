package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func samples(values ...int16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestLevel(t *testing.T) {
	assert.Zero(t, Level(nil))
	assert.Zero(t, Level([]byte{0x7f}))
	assert.Zero(t, Level(make([]byte, 64)))

	assert.InDelta(t, 0.5, Level(samples(16384, -16384, 16384, -16384)), 1e-9)
	assert.InDelta(t, 1.0, Level(samples(-32768)), 1e-9)
}
