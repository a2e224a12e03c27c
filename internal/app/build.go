package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/emmett/murmur/internal/audio"
	"github.com/emmett/murmur/internal/config"
	"github.com/emmett/murmur/internal/player"
	"github.com/emmett/murmur/internal/tts"
)

// Deps carries what the speaker needs beyond the config file
type Deps struct {
	Credential string
	Logger     zerolog.Logger
	Registerer prometheus.Registerer
	Opener     audio.Opener // nil opens the system's audio device
}

// NewSpeakerFromConfig wires the collector, the player and their metrics
func NewSpeakerFromConfig(cfg *config.Config, deps Deps) (*Speaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	format := audio.Format{SampleRate: cfg.Playback.SampleRate, Channels: 1, BitDepth: 16}

	collector := tts.NewOpenAICollector(tts.OpenAIConfig{
		BaseURL:   cfg.TTS.BaseURL,
		ChunkSize: cfg.TTS.ChunkSize,
		Format:    format,
		Timeout:   cfg.TTS.Timeout,
	}, deps.Logger)

	p, err := player.New(deps.Opener, player.Options{
		Format:         format,
		Rate:           cfg.Playback.Rate,
		BridgeCapacity: format.BytesFor(cfg.BufferDuration()),
		PeriodFrames:   cfg.Playback.PeriodFrames,
		DeviceName:     cfg.Playback.Device,
	}, deps.Logger, player.NewMetrics(deps.Registerer))
	if err != nil {
		return nil, err
	}

	return NewSpeaker(collector, p, SpeakerConfig{
		Voice:      cfg.TTS.Voice,
		Model:      cfg.TTS.Model,
		Credential: deps.Credential,
		Format:     tts.ResponseFormat(cfg.TTS.Format),
	}, deps.Logger), nil
}
