package audio

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"
)

// RenderFunc is called by an output device on its own clock.
// It must fill out completely and return quickly; it must never block.
type RenderFunc func(out []byte)

// Device is an audio output device driven by a real-time render clock
type Device interface {
	// Start begins playback, calling render for every period
	Start(render RenderFunc) error

	// Stop halts playback; no render call is in progress once it returns
	Stop() error

	// Close releases the device. It is safe to call more than once.
	Close() error

	// Errors returns a channel that receives asynchronous device failures
	// such as the device being disconnected mid-stream
	Errors() <-chan error
}

// DeviceConfig holds configuration for an output device
type DeviceConfig struct {
	// Format is the PCM format written to the device
	Format Format

	// PeriodFrames is the number of frames requested per render call
	// Smaller = lower latency, higher CPU usage
	PeriodFrames uint32

	// DeviceName selects a playback device by name
	// Empty string = use default device
	DeviceName string
}

// DefaultDeviceConfig returns a configuration for the synthesis service's format
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Format:       DefaultFormat(),
		PeriodFrames: 480, // 20ms at 24kHz
		DeviceName:   "",  // Default device
	}
}

// DeviceError reports that the output device failed to open or stopped unexpectedly
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// DeviceInfo contains information about a playback device
type DeviceInfo struct {
	ID        string // Index-based identifier, stable while devices are unchanged
	Name      string // Human-readable device name
	IsDefault bool   // Whether this is the default device

	id malgo.DeviceID
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	defaultMarker := ""
	if d.IsDefault {
		defaultMarker = " [DEFAULT]"
	}
	return fmt.Sprintf("%s: %s%s", d.ID, d.Name, defaultMarker)
}

// ListDevices returns a list of all available playback devices
func ListDevices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	return listDevices(ctx)
}

func listDevices(ctx *malgo.AllocatedContext) ([]DeviceInfo, error) {
	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, DeviceInfo{
			ID:        fmt.Sprintf("playback-%d", i),
			Name:      info.Name(),
			IsDefault: info.IsDefault > 0,
			id:        info.ID,
		})
	}

	return devices, nil
}

func matchDevice(devices []DeviceInfo, name string) (*DeviceInfo, error) {
	searchName := strings.ToLower(name)
	for _, device := range devices {
		if device.ID == name || strings.Contains(strings.ToLower(device.Name), searchName) {
			return &device, nil
		}
	}

	return nil, fmt.Errorf("no playback device found matching name: %s", name)
}
