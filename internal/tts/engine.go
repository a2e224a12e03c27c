package tts

import (
	"context"
	"errors"
	"strings"
)

// ResponseFormat is the audio encoding requested from the synthesis service
type ResponseFormat string

const (
	// FormatPCM is raw 16-bit little-endian PCM, played as it arrives
	FormatPCM ResponseFormat = "pcm"
	// FormatMP3 is decoded to PCM on the fly
	FormatMP3 ResponseFormat = "mp3"
)

var (
	ErrEmptyText         = errors.New("synthesis text is empty")
	ErrMissingCredential = errors.New("synthesis credential is missing")
)

// SynthesisRequest describes one utterance. It is used for exactly one stream.
type SynthesisRequest struct {
	Text       string
	Voice      string
	Model      string
	Credential string
	Format     ResponseFormat
}

// Validate rejects requests the service could never satisfy
func (r SynthesisRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if r.Credential == "" {
		return ErrMissingCredential
	}
	switch r.Format {
	case "", FormatPCM, FormatMP3:
	default:
		return errors.New("unsupported response format: " + string(r.Format))
	}
	return nil
}

// AudioChunk is one delivery of PCM bytes from the service.
// Chunk boundaries carry no meaning; consecutive chunks form one byte stream.
type AudioChunk struct {
	Seq  int
	Data []byte
}

// ChunkStream is a lazy, finite sequence of audio chunks.
//
// Next returns chunks in increasing Seq order and io.EOF once the service has
// signalled end of stream. After any terminal result every further call returns
// the same result; a stream cannot be restarted. Close releases the network
// connection and may be called at any time, from any goroutine.
type ChunkStream interface {
	Next(ctx context.Context) (AudioChunk, error)
	Close() error
}

// Collector opens chunk streams for synthesis requests
type Collector interface {
	// Open issues the synthesis request. Service and transport failures that
	// happen before any audio is delivered are returned here.
	Open(ctx context.Context, req SynthesisRequest) (ChunkStream, error)

	// ListVoices returns available voices
	ListVoices() []Voice
}

// Voice represents an available TTS voice
type Voice struct {
	ID       string
	Name     string
	Language string
	Gender   string
}
