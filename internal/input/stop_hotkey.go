package input

import (
	"context"

	"github.com/rs/zerolog"
)

// Stopper halts whatever is playing and reports whether anything was
type Stopper interface {
	Stop() bool
}

// StopHotkey stops playback whenever a global hotkey is pressed
type StopHotkey struct {
	stopper Stopper
	manager *HotkeyManager
	logger  zerolog.Logger
}

// NewStopHotkey creates a stop hotkey bound to stopper
func NewStopHotkey(stopper Stopper, logger zerolog.Logger) *StopHotkey {
	h := &StopHotkey{stopper: stopper, logger: logger}
	h.manager = NewHotkeyManager(h.pressed)
	return h
}

// Start registers the hotkey, e.g. "ctrl+shift+s"
func (h *StopHotkey) Start(ctx context.Context, combo string) error {
	if err := h.manager.Start(ctx, combo); err != nil {
		return err
	}
	h.logger.Info().Str("hotkey", combo).Msg("Stop hotkey registered")
	return nil
}

// Close unregisters the hotkey
func (h *StopHotkey) Close() {
	h.manager.Stop()
}

func (h *StopHotkey) pressed() {
	// Stop waits for teardown; keep the listener responsive
	go func() {
		if !h.stopper.Stop() {
			h.logger.Debug().Msg("Stop hotkey pressed with nothing playing")
		}
	}()
}
