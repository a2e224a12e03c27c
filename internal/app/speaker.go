package app

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/emmett/murmur/internal/logging"
	"github.com/emmett/murmur/internal/player"
	"github.com/emmett/murmur/internal/tts"
)

const tracerName = "github.com/emmett/murmur/internal/app"

// SpeakerConfig holds the synthesis parameters shared by every utterance
type SpeakerConfig struct {
	Voice      string
	Model      string
	Credential string
	Format     tts.ResponseFormat
}

// Speaker turns text into audible speech: it opens a synthesis stream and
// plays it through the player as one session.
type Speaker struct {
	collector tts.Collector
	player    *player.Player
	config    SpeakerConfig
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// NewSpeaker creates a speaker
func NewSpeaker(collector tts.Collector, p *player.Player, config SpeakerConfig, logger zerolog.Logger) *Speaker {
	return &Speaker{
		collector: collector,
		player:    p,
		config:    config,
		tracer:    otel.Tracer(tracerName),
		logger:    logging.Component(logger, "speaker"),
	}
}

// Speak plays text with the configured voice. See SpeakWithVoice.
func (s *Speaker) Speak(ctx context.Context, text string) (*player.Session, error) {
	return s.SpeakWithVoice(ctx, text, "")
}

// SpeakWithVoice synthesises and plays text, returning once the session has
// ended. The session is returned even on error so its state can be reported.
// The session is active from the moment the request is sent, so Stop also
// cancels a request still waiting on the service. A request the service
// rejects fails the session without opening the device.
func (s *Speaker) SpeakWithVoice(ctx context.Context, text, voice string) (*player.Session, error) {
	if voice == "" {
		voice = s.config.Voice
	}

	session := s.player.NewSession()
	ctx, span := s.tracer.Start(ctx, "murmur.speak", trace.WithAttributes(
		attribute.String("session.id", session.ID),
		attribute.String("tts.voice", voice),
		attribute.Int("tts.text_length", len(text)),
	))
	defer span.End()

	runCtx, err := s.player.Begin(ctx, session)
	if err != nil {
		s.end(span, session, err)
		return session, err
	}

	stream, err := s.collector.Open(runCtx, tts.SynthesisRequest{
		Text:       text,
		Voice:      voice,
		Model:      s.config.Model,
		Credential: s.config.Credential,
		Format:     s.config.Format,
	})
	if err != nil {
		err = s.player.Fail(session, err)
		s.end(span, session, err)
		return session, err
	}
	span.AddEvent("stream opened")

	err = s.player.PlayAudioStream(runCtx, session, stream)
	s.end(span, session, err)
	return session, err
}

func (s *Speaker) end(span trace.Span, session *player.Session, err error) {
	stats := session.Stats()
	span.SetAttributes(
		attribute.String("session.state", session.State().String()),
		attribute.Int64("playback.bytes_played", int64(stats.BytesPlayed)),
		attribute.Int64("playback.underruns", int64(stats.Underruns)),
	)
	if session.State() == player.StateFailed && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Stop halts whatever is playing. It reports whether a session was active.
func (s *Speaker) Stop() bool {
	active := s.player.Active() != nil
	s.player.Stop()
	if active {
		s.logger.Info().Msg("Playback stopped")
	}
	return active
}

// Voices lists the voices the synthesis service offers
func (s *Speaker) Voices() []tts.Voice {
	return s.collector.ListVoices()
}

// Player returns the underlying player
func (s *Speaker) Player() *player.Player {
	return s.player
}
