package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500*time.Millisecond, cfg.BufferDuration())
	assert.Equal(t, uint32(24000), cfg.Playback.SampleRate)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tts:
  voice: nova
  format: mp3
  timeout: 5s
playback:
  rate: 1.25
  buffer_ms: 250
log:
  level: debug
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nova", cfg.TTS.Voice)
	assert.Equal(t, "mp3", cfg.TTS.Format)
	assert.Equal(t, 5*time.Second, cfg.TTS.Timeout)
	assert.Equal(t, 1.25, cfg.Playback.Rate)
	assert.Equal(t, 250*time.Millisecond, cfg.BufferDuration())
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched values keep their defaults
	assert.Equal(t, "tts-1", cfg.TTS.Model)
	assert.Equal(t, 4096, cfg.TTS.ChunkSize)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tts: [unclosed"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTS.Format = "ogg"
	cfg.Playback.Rate = 3
	cfg.Output.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tts.format")
	assert.Contains(t, err.Error(), "playback.rate")
	assert.Contains(t, err.Error(), "output.format")
}

func TestLoadWithFallback(t *testing.T) {
	dir := t.TempDir()
	user := filepath.Join(dir, ".murmurrc")
	system := filepath.Join(dir, "system.yaml")

	cfg, err := loadWithFallback("", user, system)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	require.NoError(t, os.WriteFile(system, []byte("tts:\n  voice: onyx\n"), 0644))
	cfg, err = loadWithFallback("", user, system)
	require.NoError(t, err)
	assert.Equal(t, "onyx", cfg.TTS.Voice)

	require.NoError(t, os.WriteFile(user, []byte("tts:\n  voice: echo\n"), 0644))
	cfg, err = loadWithFallback("", user, system)
	require.NoError(t, err)
	assert.Equal(t, "echo", cfg.TTS.Voice)

	_, err = loadWithFallback(filepath.Join(dir, "nope.yaml"), user, system)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Playback.Device = "USB Speakers"

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadEnv(t *testing.T) {
	// godotenv never overrides a variable that exists, even when empty
	t.Setenv("MURMUR_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	require.NoError(t, os.Unsetenv("MURMUR_API_KEY"))
	require.NoError(t, os.Unsetenv("OPENAI_API_KEY"))

	dotenv := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("OPENAI_API_KEY=from-dotenv\n"), 0644))

	env, err := LoadEnv(dotenv)
	require.NoError(t, err)
	key, err := env.Credential()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", key)

	t.Setenv("MURMUR_API_KEY", "from-env")
	env, err = LoadEnv(dotenv)
	require.NoError(t, err)
	key, err = env.Credential()
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)
}

func TestCredentialMissing(t *testing.T) {
	_, err := Env{}.Credential()
	assert.ErrorIs(t, err, ErrNoCredential)
}
