//go:build linux || darwin

package input

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type countingStopper struct {
	calls atomic.Int32
}

func (c *countingStopper) Stop() bool {
	return c.calls.Add(1) == 1
}

func TestStopHotkey_PressStops(t *testing.T) {
	stopper := &countingStopper{}
	h := NewStopHotkey(stopper, zerolog.Nop())

	h.pressed()
	h.pressed()
	assert.Eventually(t, func() bool { return stopper.calls.Load() == 2 }, time.Second, time.Millisecond)
}
