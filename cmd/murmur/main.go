package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/emmett/murmur/internal/app"
	"github.com/emmett/murmur/internal/config"
	"github.com/emmett/murmur/internal/input"
	"github.com/emmett/murmur/internal/logging"
	"github.com/emmett/murmur/internal/output"
	"github.com/emmett/murmur/internal/player"
	"github.com/emmett/murmur/internal/tts"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file (default: ~/.murmurrc or /etc/murmur/config.yaml)")
	voice        = flag.String("voice", "", "Voice to speak with (use --list-voices to see available voices)")
	model        = flag.String("model", "", "Synthesis model")
	baseURL      = flag.String("base-url", "", "Base URL of an OpenAI-compatible speech API")
	format       = flag.String("response-format", "", "Audio format requested from the service: pcm, mp3")
	rate         = flag.Float64("rate", 0, "Playback rate multiplier (0.5-2.0)")
	bufferMS     = flag.Int("buffer-ms", 0, "Audio buffered between the network and the device, in milliseconds")
	audioDevice  = flag.String("device", "", "Audio output device name (use --list-devices to see available devices)")
	outputFormat = flag.String("format", "", "Report format: console, json, text")
	outputFile   = flag.String("output", "", "Report file (default: stdout)")
	logLevel     = flag.String("log-level", "", "Log level: debug, info, warn, error")
	metricsAddr  = flag.String("metrics", "", "Serve prometheus metrics on this address, e.g. :9090")
	trace        = flag.Bool("trace", false, "Print OpenTelemetry spans to stderr")
	stopHotkey   = flag.Bool("hotkey", false, "Register the configured global hotkey that stops playback")
	listDevices  = flag.Bool("list-devices", false, "List all available audio output devices")
	listVoices   = flag.Bool("list-voices", false, "List the voices of the synthesis service")
	showVersion  = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: murmur [flags] [text...]\n\n")
		fmt.Fprintf(os.Stderr, "Speaks the text given as arguments, or each line read from stdin.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("Murmur v%s\n", Version)
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
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Pretty, os.Stderr)

	if *listDevices {
		if err := app.NewDeviceManager(os.Stdout).ListDevices(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *listVoices {
		for _, v := range tts.OpenAIVoices() {
			fmt.Printf("%-10s %-8s %s\n", v.ID, v.Gender, v.Name)
		}
		return
	}

	if cfg.Playback.Device != "" {
		device, err := app.NewDeviceManager(os.Stderr).SelectDevice(cfg.Playback.Device)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg.Playback.Device = device.ID
	}

	if err := run(cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// applyFlags overrides config values with the flags given on the command line
func applyFlags(cfg *config.Config) {
	flagsSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		flagsSet[f.Name] = true
	})

	if flagsSet["voice"] {
		cfg.TTS.Voice = *voice
	}
	if flagsSet["model"] {
		cfg.TTS.Model = *model
	}
	if flagsSet["base-url"] {
		cfg.TTS.BaseURL = *baseURL
	}
	if flagsSet["response-format"] {
		cfg.TTS.Format = *format
	}
	if flagsSet["rate"] {
		cfg.Playback.Rate = *rate
	}
	if flagsSet["buffer-ms"] {
		cfg.Playback.BufferMS = *bufferMS
	}
	if flagsSet["device"] {
		cfg.Playback.Device = *audioDevice
	}
	if flagsSet["format"] {
		cfg.Output.Format = *outputFormat
	}
	if flagsSet["output"] {
		cfg.Output.File = *outputFile
	}
	if flagsSet["log-level"] {
		cfg.Log.Level = *logLevel
	}
	if flagsSet["metrics"] {
		cfg.Metrics.Listen = *metricsAddr
	}
	if flagsSet["trace"] {
		cfg.Trace.Enabled = *trace
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if env.BaseURL != "" && !isFlagSet("base-url") {
		cfg.TTS.BaseURL = env.BaseURL
	}
	credential, err := env.Credential()
	if err != nil {
		return err
	}

	shutdownTracing, err := app.SetupTracing(ctx, cfg.Trace.Enabled, Version, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, reg, logger)
		defer srv.Close()
	}

	speaker, err := app.NewSpeakerFromConfig(cfg, app.Deps{
		Credential: credential,
		Logger:     logger,
		Registerer: reg,
	})
	if err != nil {
		return err
	}

	if *stopHotkey && cfg.Playback.StopHotkey != "" {
		hk := input.NewStopHotkey(speaker, logger)
		if err := hk.Start(ctx, cfg.Playback.StopHotkey); err != nil {
			logger.Warn().Err(err).Msg("Stop hotkey unavailable")
		} else {
			defer hk.Close()
		}
	}

	out := io.Writer(os.Stdout)
	if cfg.Output.File != "" {
		f, err := os.Create(cfg.Output.File)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	formatter, err := output.NewFormatter(cfg.Output.Format, out)
	if err != nil {
		return err
	}
	defer formatter.Close()

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	texts := utterances(readCtx, flag.Args(), os.Stdin)
	failed := 0
	index := 0
	for text := range texts {
		if ctx.Err() != nil {
			break
		}
		index++
		session, err := speaker.Speak(ctx, text)
		if session != nil {
			_ = formatter.WriteReport(output.NewReport(index, text, session))
		}
		if err != nil && session != nil && session.State() == player.StateFailed {
			failed++
		}
		if errors.Is(err, tts.ErrMissingCredential) {
			return err
		}
	}
	_ = formatter.Flush()

	if failed > 0 {
		return fmt.Errorf("%d of %d utterances failed", failed, index)
	}
	return nil
}

// utterances yields the argument text, or one utterance per non-empty stdin
// line. The channel is closed at end of input or once ctx is done.
func utterances(ctx context.Context, args []string, stdin io.Reader) <-chan string {
	texts := make(chan string)
	send := func(text string) bool {
		select {
		case texts <- text:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(texts)
		if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
			send(strings.Join(args, " "))
			return
		}
		scanner := bufio.NewScanner(stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" && !send(line) {
				return
			}
		}
	}()
	return texts
}

func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("Serving metrics")
	return srv
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
