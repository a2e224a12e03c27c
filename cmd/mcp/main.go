package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/emmett/murmur/internal/app"
	"github.com/emmett/murmur/internal/config"
	"github.com/emmett/murmur/internal/logging"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file (default: ~/.murmurrc or /etc/murmur/config.yaml)")
	voice       = flag.String("voice", "", "Default voice for the speak tool")
	rate        = flag.Float64("rate", 0, "Playback rate multiplier (0.5-2.0)")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Murmur MCP v%s\n", Version)
		fmt.Printf("  Commit:  %s\n", GitCommit)
		fmt.Printf("  Branch:  %s\n", GitBranch)
		fmt.Printf("  Built:   %s\n", BuildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadWithFallback(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if *voice != "" {
		cfg.TTS.Voice = *voice
	}
	if *rate != 0 {
		cfg.Playback.Rate = *rate
	}

	// stdout is the protocol channel
	logger := logging.New(cfg.Log.Level, false, os.Stderr)

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if env.BaseURL != "" {
		cfg.TTS.BaseURL = env.BaseURL
	}
	credential, err := env.Credential()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	speaker, err := app.NewSpeakerFromConfig(cfg, app.Deps{
		Credential: credential,
		Logger:     logger,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	handler := app.NewMCPHandler(speaker, Version, GitCommit, logger)
	if err := handler.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
