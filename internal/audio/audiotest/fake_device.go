// Package audiotest provides an in-memory output device driven by a ticker,
// standing in for a sound card's render clock in tests.
package audiotest

import (
	"errors"
	"sync"
	"time"

	"github.com/emmett/murmur/internal/audio"
)

// FakeDevice calls the render function every Period and records what it played
type FakeDevice struct {
	Period     time.Duration
	PeriodSize int // bytes requested per render call

	mu          sync.Mutex
	trace       []byte
	renderCalls int
	running     bool
	closed      bool
	started     bool
	stopCount   int
	stoppedAt   time.Time
	stop        chan struct{}
	done        chan struct{}
	errs        chan error
}

// NewFakeDevice creates a device requesting periodFrames frames of format every period
func NewFakeDevice(format audio.Format, periodFrames int, period time.Duration) *FakeDevice {
	return &FakeDevice{
		Period:     period,
		PeriodSize: periodFrames * format.BytesPerFrame(),
		errs:       make(chan error, 1),
	}
}

// Start begins ticking
func (f *FakeDevice) Start(render audio.RenderFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return &audio.DeviceError{Op: "start", Err: errors.New("device is closed")}
	}
	if f.running {
		return &audio.DeviceError{Op: "start", Err: errors.New("device is already running")}
	}
	f.running = true
	f.started = true
	f.stop = make(chan struct{})
	f.done = make(chan struct{})

	go f.loop(render, f.stop, f.done)
	return nil
}

func (f *FakeDevice) loop(render audio.RenderFunc, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(f.Period)
	defer ticker.Stop()

	buf := make([]byte, f.PeriodSize)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			render(buf)
			f.mu.Lock()
			f.renderCalls++
			f.trace = append(f.trace, buf...)
			f.mu.Unlock()
		}
	}
}

// Stop halts the ticker; no render call runs once it returns
func (f *FakeDevice) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.stopCount++
	stop, done := f.stop, f.done
	f.mu.Unlock()

	close(stop)
	<-done

	f.mu.Lock()
	f.stoppedAt = time.Now()
	f.mu.Unlock()
	return nil
}

// Close stops the device and marks it closed
func (f *FakeDevice) Close() error {
	err := f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return err
}

// Errors returns the asynchronous failure channel
func (f *FakeDevice) Errors() <-chan error {
	return f.errs
}

// Disconnect simulates the device going away mid-stream
func (f *FakeDevice) Disconnect() {
	f.errs <- &audio.DeviceError{Op: "playback", Err: errors.New("device disconnected")}
}

// Trace returns a copy of every byte handed to the device
func (f *FakeDevice) Trace() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.trace))
	copy(out, f.trace)
	return out
}

// RenderCalls returns the number of render ticks so far
func (f *FakeDevice) RenderCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renderCalls
}

// Started reports whether Start was ever called successfully
func (f *FakeDevice) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Running reports whether the device is ticking
func (f *FakeDevice) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Closed reports whether Close was called
func (f *FakeDevice) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// StoppedAt returns when the device last stopped ticking
func (f *FakeDevice) StoppedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stoppedAt
}

// Opener hands out fake devices and remembers them
type Opener struct {
	PeriodFrames int // overrides the configured period when set
	Period       time.Duration
	Err          error // returned instead of a device when set

	mu      sync.Mutex
	devices []*FakeDevice
}

// Open satisfies audio.Opener
func (o *Opener) Open(config audio.DeviceConfig) (audio.Device, error) {
	if o.Err != nil {
		return nil, &audio.DeviceError{Op: "open", Err: o.Err}
	}
	frames := o.PeriodFrames
	if frames == 0 {
		frames = int(config.PeriodFrames)
	}
	dev := NewFakeDevice(config.Format, frames, o.Period)

	o.mu.Lock()
	o.devices = append(o.devices, dev)
	o.mu.Unlock()
	return dev, nil
}

// Devices returns every device opened so far
func (o *Opener) Devices() []*FakeDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*FakeDevice(nil), o.devices...)
}

// Last returns the most recently opened device, or nil
func (o *Opener) Last() *FakeDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.devices) == 0 {
		return nil
	}
	return o.devices[len(o.devices)-1]
}
