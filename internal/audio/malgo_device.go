package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MalgoDevice implements the Device interface using malgo playback
type MalgoDevice struct {
	config       DeviceConfig
	malgoContext *malgo.AllocatedContext
	device       *malgo.Device
	deviceID     *malgo.DeviceID
	errors       chan error

	mu       sync.Mutex
	running  bool
	closed   bool
	stopping atomic.Bool
}

// OpenMalgoDevice initializes the audio backend and resolves the configured device
func OpenMalgoDevice(config DeviceConfig) (*MalgoDevice, error) {
	if err := config.Format.Validate(); err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: fmt.Errorf("failed to initialize malgo context: %w", err)}
	}

	m := &MalgoDevice{
		config:       config,
		malgoContext: malgoCtx,
		errors:       make(chan error, 1),
	}

	if config.DeviceName != "" {
		devices, err := listDevices(malgoCtx)
		if err == nil {
			var info *DeviceInfo
			info, err = matchDevice(devices, config.DeviceName)
			if err == nil {
				id := info.id
				m.deviceID = &id
			}
		}
		if err != nil {
			m.freeContext()
			return nil, &DeviceError{Op: "open", Err: err}
		}
	}

	return m, nil
}

// Start begins playback, calling render from the driver's audio thread
func (m *MalgoDevice) Start(render RenderFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return &DeviceError{Op: "start", Err: errors.New("device is closed")}
	}
	if m.running {
		return &DeviceError{Op: "start", Err: errors.New("device is already running")}
	}

	// Configure device
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16 // 16-bit signed integer
	deviceConfig.Playback.Channels = m.config.Format.Channels
	deviceConfig.SampleRate = m.config.Format.SampleRate
	deviceConfig.PeriodSizeInFrames = m.config.PeriodFrames
	if m.deviceID != nil {
		deviceConfig.Playback.DeviceID = m.deviceID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, framecount uint32) {
			render(pOutputSample)
		},
		Stop: func() {
			if m.stopping.Load() {
				return
			}
			// The driver stopped on its own: device unplugged or backend failure
			select {
			case m.errors <- &DeviceError{Op: "playback", Err: errors.New("device stopped unexpectedly")}:
			default:
			}
		},
	}

	device, err := malgo.InitDevice(m.malgoContext.Context, deviceConfig, callbacks)
	if err != nil {
		return &DeviceError{Op: "init", Err: err}
	}

	m.stopping.Store(false)
	if err := device.Start(); err != nil {
		device.Uninit()
		return &DeviceError{Op: "start", Err: err}
	}

	m.device = device
	m.running = true
	return nil
}

// Stop halts playback; miniaudio guarantees no data callback runs after it returns
func (m *MalgoDevice) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	m.stopping.Store(true)

	err := m.device.Stop()
	m.device.Uninit()
	m.device = nil
	if err != nil {
		return &DeviceError{Op: "stop", Err: err}
	}
	return nil
}

// Close stops playback and releases the backend context
func (m *MalgoDevice) Close() error {
	err := m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return err
	}
	m.closed = true
	m.freeContext()
	return err
}

// Errors returns a channel that receives asynchronous device failures
func (m *MalgoDevice) Errors() <-chan error {
	return m.errors
}

// IsRunning returns true if playback is currently active
func (m *MalgoDevice) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *MalgoDevice) freeContext() {
	if m.malgoContext != nil {
		_ = m.malgoContext.Uninit()
		m.malgoContext.Free()
		m.malgoContext = nil
	}
}

// Opener opens an output device for a playback session
type Opener func(config DeviceConfig) (Device, error)

// OpenDevice is the Opener for the system's audio backend
func OpenDevice(config DeviceConfig) (Device, error) {
	device, err := OpenMalgoDevice(config)
	if err != nil {
		return nil, err
	}
	return device, nil
}
