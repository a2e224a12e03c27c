package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/murmur/internal/player"
)

type SpeakArgs struct {
	Text  string `json:"text" jsonschema:"The text to speak"`
	Voice string `json:"voice,omitempty" jsonschema:"Voice ID from list_voices; the configured voice when empty"`
}

type SpeakResult struct {
	SessionID   string  `json:"session_id"`
	State       string  `json:"state"`
	Error       string  `json:"error,omitempty"`
	BytesPlayed uint64  `json:"bytes_played"`
	Underruns   uint64  `json:"underruns"`
	Duration    float64 `json:"duration_seconds"`
}

type StopArgs struct{}

type ListVoicesArgs struct{}

func (s *Server) handleSpeak(ctx context.Context, req *sdk.CallToolRequest, args SpeakArgs) (*sdk.CallToolResult, SpeakResult, error) {
	if strings.TrimSpace(args.Text) == "" {
		return nil, SpeakResult{}, errors.New("text must not be empty")
	}

	session, err := s.speaker.SpeakWithVoice(ctx, args.Text, args.Voice)
	if session == nil {
		return nil, SpeakResult{}, fmt.Errorf("speak failed: %w", err)
	}

	stats := session.Stats()
	result := SpeakResult{
		SessionID:   session.ID,
		State:       session.State().String(),
		BytesPlayed: stats.BytesPlayed,
		Underruns:   stats.Underruns,
		Duration:    stats.Duration().Seconds(),
	}

	summary := fmt.Sprintf("Playback %s after %.2fs", result.State, result.Duration)
	if err != nil {
		result.Error = err.Error()
		summary += ": " + result.Error
	}

	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: summary}},
		IsError: session.State() == player.StateFailed,
	}, result, nil
}

func (s *Server) handleStop(ctx context.Context, req *sdk.CallToolRequest, args StopArgs) (*sdk.CallToolResult, any, error) {
	text := "Nothing was playing"
	if s.speaker.Stop() {
		text = "Playback stopped"
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: text}},
	}, nil, nil
}

func (s *Server) handleListVoices(ctx context.Context, req *sdk.CallToolRequest, args ListVoicesArgs) (*sdk.CallToolResult, any, error) {
	voices := s.speaker.Voices()

	content := []sdk.Content{
		&sdk.TextContent{Text: fmt.Sprintf("Available voices (%d):", len(voices))},
	}

	for _, voice := range voices {
		content = append(content, &sdk.TextContent{Text: fmt.Sprintf("- %s (%s, %s)", voice.ID, voice.Name, voice.Gender)})
	}

	return &sdk.CallToolResult{Content: content}, nil, nil
}
