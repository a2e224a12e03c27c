package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/emmett/murmur/internal/server/mcp"
)

// MCPHandler handles MCP server operations
type MCPHandler struct {
	speaker   *Speaker
	version   string
	gitCommit string
	logger    zerolog.Logger
}

// NewMCPHandler creates a new MCP handler
func NewMCPHandler(speaker *Speaker, version, gitCommit string, logger zerolog.Logger) *MCPHandler {
	return &MCPHandler{
		speaker:   speaker,
		version:   version,
		gitCommit: gitCommit,
		logger:    logger,
	}
}

// Run serves MCP on stdin/stdout until a signal arrives or the client disconnects
func (h *MCPHandler) Run() error {
	// stdout carries the protocol; everything human-readable goes to stderr
	fmt.Fprintf(os.Stderr, "Starting MCP server...\n")
	fmt.Fprintf(os.Stderr, "Version: %s (commit: %s)\n\n", h.version, h.gitCommit)

	execPath, err := os.Executable()
	if err != nil {
		execPath = "./build/murmur-mcp"
	}

	type MCPServerConfig struct {
		Command string   `json:"command"`
		Args    []string `json:"args"`
	}
	type MCPClientConfig struct {
		MCPServers map[string]MCPServerConfig `json:"mcpServers"`
	}

	clientConfig := MCPClientConfig{
		MCPServers: map[string]MCPServerConfig{
			"murmur": {Command: execPath, Args: []string{}},
		},
	}
	if configJSON, err := json.MarshalIndent(clientConfig, "", "  "); err == nil {
		fmt.Fprintf(os.Stderr, "MCP Client Configuration:\n%s\n\n", string(configJSON))
	}

	server := mcp.NewServer(mcp.Config{
		ServerName:    "murmur-mcp",
		ServerVersion: h.version,
	}, h.speaker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h.logger.Info().Msg("MCP server ready, listening on stdin/stdout")

	err = server.Start(ctx)
	if stopErr := server.Stop(); stopErr != nil {
		return fmt.Errorf("error stopping server: %w", stopErr)
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
