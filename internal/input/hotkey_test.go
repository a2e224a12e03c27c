//go:build linux || darwin

package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.design/x/hotkey"
)

func TestParseHotkey(t *testing.T) {
	mods, key, err := ParseHotkey("Ctrl+Shift+S")
	require.NoError(t, err)
	assert.Equal(t, []hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, mods)
	assert.Equal(t, hotkey.KeyS, key)

	mods, key, err = ParseHotkey("alt + f12")
	require.NoError(t, err)
	assert.Equal(t, []hotkey.Modifier{modAlt()}, mods)
	assert.Equal(t, hotkey.KeyF12, key)

	_, key, err = ParseHotkey("esc")
	require.NoError(t, err)
	assert.Equal(t, hotkey.KeyEscape, key)
}

func TestParseHotkey_Errors(t *testing.T) {
	for _, s := range []string{"", "ctrl+shift", "ctrl+a+b", "ctrl+pageup"} {
		_, _, err := ParseHotkey(s)
		assert.Error(t, err, s)
	}
}
