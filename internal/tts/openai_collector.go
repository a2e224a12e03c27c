package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/emmett/murmur/internal/audio"
)

const (
	// DefaultChunkSize is the largest chunk read from the response body at once
	DefaultChunkSize = 4096

	DefaultModel = string(openai.TTSModel1)
	DefaultVoice = string(openai.VoiceAlloy)

	maxErrorPayload = 4096
)

// ErrStreamClosed is returned by Next after the consumer closed the stream
var ErrStreamClosed = errors.New("chunk stream closed")

// OpenAIConfig configures the collector
type OpenAIConfig struct {
	// BaseURL of an OpenAI-compatible API, e.g. https://api.openai.com/v1
	BaseURL string

	// ChunkSize bounds each chunk's byte length
	ChunkSize int

	// Format is the PCM format the player expects. Decoded mp3 must match its rate.
	Format audio.Format

	// Timeout bounds connecting and receiving response headers. Zero disables it.
	Timeout time.Duration

	// HTTPClient overrides the client built from Timeout
	HTTPClient *http.Client
}

// OpenAICollector streams speech from the /audio/speech endpoint
type OpenAICollector struct {
	config OpenAIConfig
	client *http.Client
	logger zerolog.Logger
}

// NewOpenAICollector creates a collector. Each Open makes one outbound request.
func NewOpenAICollector(config OpenAIConfig, logger zerolog.Logger) *OpenAICollector {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.Format == (audio.Format{}) {
		config.Format = audio.DefaultFormat()
	}

	client := config.HTTPClient
	if client == nil {
		// The body is read for as long as the utterance lasts, so only the
		// response headers are bounded.
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: config.Timeout,
				ForceAttemptHTTP2:     true,
			},
		}
	}

	return &OpenAICollector{
		config: config,
		client: client,
		logger: logger.With().Str("component", "collector").Logger(),
	}
}

// Open issues the synthesis request and checks the response before any audio is read
func (c *OpenAICollector) Open(ctx context.Context, req SynthesisRequest) (ChunkStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Format == "" {
		req.Format = FormatPCM
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}
	if req.Voice == "" {
		req.Voice = DefaultVoice
	}

	clientConfig := openai.DefaultConfig(req.Credential)
	if c.config.BaseURL != "" {
		clientConfig.BaseURL = c.config.BaseURL
	}
	clientConfig.HTTPClient = c.client
	client := openai.NewClientWithConfig(clientConfig)

	// The stream owns this context; cancelling it aborts the connection.
	streamCtx, cancel := context.WithCancel(ctx)

	start := time.Now()
	resp, err := client.CreateSpeech(streamCtx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(req.Model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		ResponseFormat: openai.SpeechResponseFormat(req.Format),
	})
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		err = classifyError(err)
		c.logger.Warn().Err(err).Str("voice", req.Voice).Msg("Synthesis request failed")
		return nil, err
	}

	if err := checkContentType(resp.Header().Get("Content-Type")); err != nil {
		payload, _ := io.ReadAll(io.LimitReader(resp, maxErrorPayload))
		_ = resp.Close()
		cancel()
		err.Payload = string(payload)
		c.logger.Warn().Err(err).Msg("Synthesis response is not audio")
		return nil, err
	}

	c.logger.Debug().
		Str("voice", req.Voice).
		Str("format", string(req.Format)).
		Dur("latency", time.Since(start)).
		Msg("Synthesis stream opened")

	s := &speechStream{
		body:      &countingReader{r: resp},
		closer:    resp,
		cancel:    cancel,
		format:    req.Format,
		pcm:       c.config.Format,
		chunkSize: c.config.ChunkSize,
		closed:    make(chan struct{}),
	}
	return s, nil
}

// ListVoices returns the voices of the OpenAI speech API
func (c *OpenAICollector) ListVoices() []Voice {
	return OpenAIVoices()
}

// OpenAIVoices lists the built-in speech voices
func OpenAIVoices() []Voice {
	return []Voice{
		{ID: string(openai.VoiceAlloy), Name: "Alloy", Language: "multi", Gender: "neutral"},
		{ID: string(openai.VoiceEcho), Name: "Echo", Language: "multi", Gender: "male"},
		{ID: string(openai.VoiceFable), Name: "Fable", Language: "multi", Gender: "neutral"},
		{ID: string(openai.VoiceOnyx), Name: "Onyx", Language: "multi", Gender: "male"},
		{ID: string(openai.VoiceNova), Name: "Nova", Language: "multi", Gender: "female"},
		{ID: string(openai.VoiceShimmer), Name: "Shimmer", Language: "multi", Gender: "female"},
	}
}

// classifyError maps client errors onto the collector's error taxonomy
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		payload, _ := json.Marshal(apiErr)
		return &ServiceError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Payload:    string(payload),
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		se := &ServiceError{StatusCode: reqErr.HTTPStatusCode}
		if reqErr.Err != nil {
			se.Payload = reqErr.Err.Error()
		}
		return se
	}

	return &TransportError{Op: "request", Err: err}
}

// checkContentType rejects successful responses that carry a document instead of audio
func checkContentType(contentType string) *ProtocolError {
	if contentType == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return &ProtocolError{Reason: "malformed content type " + contentType, Err: err}
	}
	if strings.HasPrefix(mediaType, "text/") || mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
		return &ProtocolError{Reason: "unexpected content type " + mediaType}
	}
	return nil
}

// speechStream yields the response body as chunks
type speechStream struct {
	body      *countingReader
	closer    io.Closer
	cancel    context.CancelFunc
	format    ResponseFormat
	pcm       audio.Format
	chunkSize int

	mu      sync.Mutex
	seq     int
	decoder *mp3Stream
	err     error // terminal, returned by every later Next

	closeOnce sync.Once
	closed    chan struct{}
}

// Next returns the next chunk, io.EOF at end of stream, or the terminal error
func (s *speechStream) Next(ctx context.Context) (AudioChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return AudioChunk{}, s.err
	}
	if err := ctx.Err(); err != nil {
		return AudioChunk{}, s.terminate(err)
	}

	// A read blocked on the network is released by aborting the request
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	var (
		data []byte
		err  error
	)
	switch s.format {
	case FormatMP3:
		data, err = s.nextMP3()
	default:
		data, err = s.nextPCM()
	}

	if len(data) > 0 {
		s.seq++
		chunk := AudioChunk{Seq: s.seq, Data: data}
		if err != nil {
			// Deliver the bytes now; the error ends the next call
			s.err = s.mapReadError(ctx, err)
			s.release()
		}
		return chunk, nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return AudioChunk{}, s.terminate(s.mapReadError(ctx, err))
}

func (s *speechStream) nextPCM() ([]byte, error) {
	buf := make([]byte, s.chunkSize)
	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			return buf[:n], err
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *speechStream) nextMP3() ([]byte, error) {
	if s.decoder == nil {
		dec, err := newMP3Stream(s.body, s.pcm)
		if err != nil {
			return nil, err
		}
		s.decoder = dec
	}
	return s.decoder.next(s.chunkSize)
}

// mapReadError turns a body or decoder failure into the terminal error
func (s *speechStream) mapReadError(ctx context.Context, err error) error {
	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if errors.Is(err, io.EOF) {
		total := s.body.Total()
		switch {
		case total == 0:
			return &ProtocolError{Reason: "service ended the stream without audio"}
		case s.seq == 0:
			return &ProtocolError{Reason: fmt.Sprintf("no audio decoded from %d %s bytes", total, s.format)}
		case s.format != FormatMP3 && total%int64(s.pcm.BytesPerSample()) != 0:
			return &ProtocolError{Reason: fmt.Sprintf("stream ended mid-sample after %d bytes", total)}
		}
		return io.EOF
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		return err
	}
	if readErr := s.body.Err(); readErr != nil {
		return &TransportError{Op: "read", Err: readErr}
	}
	if s.format == FormatMP3 {
		return &ProtocolError{Reason: "undecodable mp3 stream", Err: err}
	}
	return &TransportError{Op: "read", Err: err}
}

func (s *speechStream) terminate(err error) error {
	s.err = err
	s.release()
	return err
}

// release closes the connection once the stream reached a terminal result
func (s *speechStream) release() {
	s.cancel()
	_ = s.closer.Close()
}

// Close aborts the connection. A concurrent Next returns ErrStreamClosed.
func (s *speechStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = ErrStreamClosed
	}
	return s.closer.Close()
}

// countingReader records how much was read and the last non-EOF read error
type countingReader struct {
	r     io.Reader
	total int64
	err   error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.total += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		c.err = err
	}
	return n, err
}

func (c *countingReader) Total() int64 { return c.total }

func (c *countingReader) Err() error { return c.err }
