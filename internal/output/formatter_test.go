package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/murmur/internal/player"
)

func sampleReport() Report {
	return Report{
		Index:       2,
		SessionID:   "abc",
		Text:        "hello there",
		State:       player.StateCompleted,
		BytesPlayed: 48000,
		Underruns:   1,
		Duration:    1.5,
		Timestamp:   time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter(&buf)

	require.NoError(t, f.WriteReport(sampleReport()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "completed", decoded["state"])
	assert.Equal(t, "hello there", decoded["text"])
	assert.Equal(t, 48000.0, decoded["bytes_played"])
	assert.NotContains(t, decoded, "error")
	assert.Len(t, f.GetReports(), 1)
}

func TestPlainTextFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewPlainTextFormatter(&buf)

	report := sampleReport()
	report.State = player.StateFailed
	report.Error = "tts service returned status 500"
	require.NoError(t, f.WriteReport(report))

	assert.Equal(t, "[15:04:05] #2 failed 1.50s: tts service returned status 500\n", buf.String())
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleOutput(ConsoleConfig{ShowMetadata: true, Writer: &buf})

	require.NoError(t, c.WriteReport(sampleReport()))
	assert.Equal(t, "✓ hello there (1.50s, 1 underruns)\n", buf.String())

	buf.Reset()
	require.NoError(t, c.WriteEvent("stop", "playback stopped"))
	assert.Equal(t, "[STOP] playback stopped\n", buf.String())
}

func TestNewFormatter(t *testing.T) {
	for _, format := range []string{"json", "text", "console", ""} {
		f, err := NewFormatter(format, &bytes.Buffer{})
		require.NoError(t, err, format)
		assert.NotNil(t, f)
	}
	_, err := NewFormatter("xml", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewReport(t *testing.T) {
	p, err := player.New(nil, player.Options{}, zerolog.Nop(), nil)
	require.NoError(t, err)

	session := p.NewSession()
	p.Fail(session, errors.New("rejected"))

	report := NewReport(1, "hi", session)
	assert.Equal(t, session.ID, report.SessionID)
	assert.Equal(t, player.StateFailed, report.State)
	assert.Equal(t, "rejected", report.Error)
	assert.False(t, report.Timestamp.IsZero())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
