package app

import (
	"fmt"
	"io"

	"github.com/emmett/murmur/internal/audio"
)

// DeviceManager handles output device selection and listing
type DeviceManager struct {
	out  io.Writer
	list func() ([]audio.DeviceInfo, error)
}

// NewDeviceManager creates a new DeviceManager writing to out
func NewDeviceManager(out io.Writer) *DeviceManager {
	return &DeviceManager{out: out, list: audio.ListDevices}
}

// ListDevices prints all available playback devices
func (dm *DeviceManager) ListDevices() error {
	devices, err := dm.list()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	if len(devices) == 0 {
		fmt.Fprintln(dm.out, "No audio playback devices found.")
		return fmt.Errorf("no devices found")
	}

	fmt.Fprintf(dm.out, "Found %d playback device(s):\n\n", len(devices))

	for i, device := range devices {
		marker := ""
		if device.IsDefault {
			marker = " [DEFAULT]"
		}
		fmt.Fprintf(dm.out, "%d. %s%s\n", i+1, device.Name, marker)
		fmt.Fprintf(dm.out, "   ID: %s\n", device.ID)
	}

	fmt.Fprintln(dm.out)
	fmt.Fprintln(dm.out, "To use a specific device, run:")
	fmt.Fprintf(dm.out, "  murmur --device %q \"text\"\n", devices[0].Name)
	return nil
}

// SelectDevice resolves a device by name or ID; empty selects the default device
func (dm *DeviceManager) SelectDevice(deviceName string) (*audio.DeviceInfo, error) {
	devices, err := dm.list()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no audio playback devices found")
	}

	for i := range devices {
		if deviceName == "" && devices[i].IsDefault {
			return &devices[i], nil
		}
		if deviceName != "" && (devices[i].Name == deviceName || devices[i].ID == deviceName) {
			return &devices[i], nil
		}
	}
	if deviceName == "" {
		return &devices[0], nil
	}

	fmt.Fprintf(dm.out, "Device '%s' not found. Available devices:\n", deviceName)
	for i, device := range devices {
		fmt.Fprintf(dm.out, "  %d. %s\n", i+1, device.Name)
	}
	return nil, fmt.Errorf("invalid audio device specified: %s", deviceName)
}
