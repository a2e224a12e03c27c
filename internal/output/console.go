package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/emmett/murmur/internal/player"
)

// ConsoleOutput writes reports for a person watching a terminal
type ConsoleOutput struct {
	mu            sync.Mutex
	writer        io.Writer
	showTimestamp bool
	showMetadata  bool
}

// ConsoleConfig configures console output behavior
type ConsoleConfig struct {
	// ShowTimestamp prefixes each line with a timestamp
	ShowTimestamp bool

	// ShowMetadata displays playback statistics after each report
	ShowMetadata bool

	// Writer is the output destination (default: os.Stdout)
	Writer io.Writer
}

// NewConsoleOutput creates a new console output handler
func NewConsoleOutput(config ConsoleConfig) *ConsoleOutput {
	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}

	return &ConsoleOutput{
		writer:        writer,
		showTimestamp: config.ShowTimestamp,
		showMetadata:  config.ShowMetadata,
	}
}

// WriteReport writes a one-line summary of a session
func (c *ConsoleOutput) WriteReport(report Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	timestamp := ""
	if c.showTimestamp {
		timestamp = fmt.Sprintf("[%s] ", report.Timestamp.Format("15:04:05"))
	}

	mark := "✓"
	switch report.State {
	case player.StateCancelled:
		mark = "■"
	case player.StateFailed:
		mark = "✗"
	}

	fmt.Fprintf(c.writer, "%s%s %s", timestamp, mark, truncate(report.Text, 60))
	if c.showMetadata {
		fmt.Fprintf(c.writer, " (%.2fs, %d underruns)", report.Duration, report.Underruns)
	}
	if report.Error != "" {
		fmt.Fprintf(c.writer, ": %s", report.Error)
	}
	fmt.Fprintln(c.writer)
	return nil
}

// WriteEvent writes a system event
func (c *ConsoleOutput) WriteEvent(eventType, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.showTimestamp {
		fmt.Fprintf(c.writer, "[%s] ", time.Now().Format("15:04:05"))
	}
	fmt.Fprintf(c.writer, "[%s] %s\n", strings.ToUpper(eventType), message)
	return nil
}

// Status writes a status message (typically overwritten)
func (c *ConsoleOutput) Status(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.writer, "\r[*] %s", msg)
}

// Clear clears the current line
func (c *ConsoleOutput) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.writer, "\r%80s\r", " ")
}

// Flush ensures all buffered output is written
func (c *ConsoleOutput) Flush() error {
	return nil
}

// Close closes the console output
func (c *ConsoleOutput) Close() error {
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
