package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/emmett/murmur/internal/player"
)

// Report summarises one spoken utterance
type Report struct {
	Index            int          `json:"index"`
	SessionID        string       `json:"session_id"`
	Text             string       `json:"text"`
	State            player.State `json:"state"`
	Error            string       `json:"error,omitempty"`
	BytesReceived    uint64       `json:"bytes_received"`
	BytesPlayed      uint64       `json:"bytes_played"`
	Underruns        uint64       `json:"underruns"`
	Duration         float64      `json:"duration_seconds"`
	TimeToFirstAudio float64      `json:"time_to_first_audio_seconds,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}

// NewReport builds the report for a finished session
func NewReport(index int, text string, session *player.Session) Report {
	stats := session.Stats()
	r := Report{
		Index:            index,
		SessionID:        session.ID,
		Text:             text,
		State:            session.State(),
		BytesReceived:    stats.BytesReceived,
		BytesPlayed:      stats.BytesPlayed,
		Underruns:        stats.Underruns,
		Duration:         stats.Duration().Seconds(),
		TimeToFirstAudio: stats.TimeToFirstAudio().Seconds(),
		Timestamp:        stats.FinishedAt,
	}
	if err := session.Err(); err != nil {
		r.Error = err.Error()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return r
}

// Event represents a system event
type Event struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Formatter is the interface for output formatters
type Formatter interface {
	// WriteReport writes a session report
	WriteReport(report Report) error

	// WriteEvent writes a system event (e.g., a voice listing or a stop request)
	WriteEvent(eventType, message string) error

	// Flush ensures all buffered output is written
	Flush() error

	// Close closes the formatter and releases resources
	Close() error
}

// NewFormatter returns the formatter for a config output format
func NewFormatter(format string, w io.Writer) (Formatter, error) {
	switch format {
	case "json":
		return NewJSONFormatter(w), nil
	case "text":
		return NewPlainTextFormatter(w), nil
	case "console", "":
		return NewConsoleOutput(ConsoleConfig{ShowTimestamp: true, ShowMetadata: true, Writer: w}), nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

// JSONFormatter outputs reports as JSON documents
type JSONFormatter struct {
	writer  io.Writer
	encoder *json.Encoder
	reports []Report
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(writer io.Writer) *JSONFormatter {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return &JSONFormatter{
		writer:  writer,
		encoder: encoder,
		reports: make([]Report, 0),
	}
}

// WriteReport writes a session report in JSON format
func (j *JSONFormatter) WriteReport(report Report) error {
	j.reports = append(j.reports, report)
	return j.encoder.Encode(report)
}

// WriteEvent writes a system event
func (j *JSONFormatter) WriteEvent(eventType, message string) error {
	event := Event{
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now(),
	}
	return j.encoder.Encode(event)
}

// Flush ensures all buffered output is written
func (j *JSONFormatter) Flush() error {
	// JSON encoder writes immediately, nothing to flush
	return nil
}

// Close closes the formatter
func (j *JSONFormatter) Close() error {
	return nil
}

// GetReports returns every report written so far
func (j *JSONFormatter) GetReports() []Report {
	return j.reports
}

// PlainTextFormatter outputs one line per report
type PlainTextFormatter struct {
	writer io.Writer
}

// NewPlainTextFormatter creates a new plain text formatter
func NewPlainTextFormatter(writer io.Writer) *PlainTextFormatter {
	return &PlainTextFormatter{
		writer: writer,
	}
}

// WriteReport writes a session report in plain text
func (p *PlainTextFormatter) WriteReport(report Report) error {
	timestamp := report.Timestamp.Format("15:04:05")
	line := fmt.Sprintf("[%s] #%d %s %.2fs", timestamp, report.Index, report.State, report.Duration)
	if report.Error != "" {
		line += ": " + report.Error
	}
	_, err := fmt.Fprintln(p.writer, line)
	return err
}

// WriteEvent writes a system event
func (p *PlainTextFormatter) WriteEvent(eventType, message string) error {
	timestamp := time.Now().Format("15:04:05")
	_, err := fmt.Fprintf(p.writer, "[%s] [%s] %s\n", timestamp, eventType, message)
	return err
}

// Flush ensures all buffered output is written
func (p *PlainTextFormatter) Flush() error {
	return nil
}

// Close closes the formatter
func (p *PlainTextFormatter) Close() error {
	return nil
}
