package mcp

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/murmur/internal/player"
	"github.com/emmett/murmur/internal/tts"
)

type Config struct {
	ServerName    string
	ServerVersion string
}

// Speaker is the playback surface the tools drive
type Speaker interface {
	SpeakWithVoice(ctx context.Context, text, voice string) (*player.Session, error)
	Stop() bool
	Voices() []tts.Voice
}

type Server struct {
	config    Config
	mcpServer *sdk.Server
	speaker   Speaker
}

func NewServer(cfg Config, speaker Speaker) *Server {
	s := &Server{
		config:  cfg,
		speaker: speaker,
	}

	s.mcpServer = sdk.NewServer(&sdk.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}, nil)

	s.registerTools()

	return s
}

// Start serves MCP over stdin/stdout until ctx is cancelled or the client disconnects
func (s *Server) Start(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &sdk.StdioTransport{})
}

// Stop silences any playback still running
func (s *Server) Stop() error {
	s.speaker.Stop()
	return nil
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "speak",
		Description: "Speak text aloud on this machine's speakers. Blocks until playback ends and reports how it ended.",
	}, s.handleSpeak)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "stop",
		Description: "Stop the utterance currently playing, if any",
	}, s.handleStop)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "list_voices",
		Description: "List the voices available for speak",
	}, s.handleListVoices)
}
