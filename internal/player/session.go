package player

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Stats summarises one session's playback
type Stats struct {
	BytesReceived uint64    `json:"bytes_received"`
	BytesPlayed   uint64    `json:"bytes_played"`
	Underruns     uint64    `json:"underruns"`
	SilenceFrames uint64    `json:"silence_frames"`
	PeakLevel     float64   `json:"peak_level"`
	StartedAt     time.Time `json:"started_at"`
	FirstAudioAt  time.Time `json:"first_audio_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Duration is the wall time from start to the terminal state
func (s Stats) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// TimeToFirstAudio is the latency between start and the first audible frame
func (s Stats) TimeToFirstAudio() time.Duration {
	if s.StartedAt.IsZero() || s.FirstAudioAt.IsZero() {
		return 0
	}
	return s.FirstAudioAt.Sub(s.StartedAt)
}

// Session is one utterance's trip through the player.
// It starts idle and ends in exactly one of completed, cancelled or failed.
type Session struct {
	ID string

	mu         sync.Mutex
	state      State
	history    []State
	err        error
	startedAt  time.Time
	finishedAt time.Time
	done       chan struct{}
	logger     zerolog.Logger
	claimed    bool
	pending    *playback // installed by Begin, taken by PlayAudioStream or Fail

	// Updated from the render callback
	bytesReceived atomic.Uint64
	bytesPlayed   atomic.Uint64
	underruns     atomic.Uint64
	silenceFrames atomic.Uint64
	firstAudio    atomic.Int64
	peakLevel     atomic.Uint64 // float64 bits
}

func newSession(logger zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:      id,
		state:   StateIdle,
		history: []State{StateIdle},
		done:    make(chan struct{}),
		logger:  logger.With().Str("session_id", id).Logger(),
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns every state visited, in order
func (s *Session) History() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.history...)
}

// Err returns the error that ended the session, if any
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session reaches a terminal state
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stats returns a snapshot of the playback counters
func (s *Session) Stats() Stats {
	s.mu.Lock()
	stats := Stats{StartedAt: s.startedAt, FinishedAt: s.finishedAt}
	s.mu.Unlock()

	stats.BytesReceived = s.bytesReceived.Load()
	stats.BytesPlayed = s.bytesPlayed.Load()
	stats.Underruns = s.underruns.Load()
	stats.SilenceFrames = s.silenceFrames.Load()
	stats.PeakLevel = math.Float64frombits(s.peakLevel.Load())
	if ns := s.firstAudio.Load(); ns != 0 {
		stats.FirstAudioAt = time.Unix(0, ns)
	}
	return stats
}

// transition moves the session to a new state. Moves the transition table does
// not allow are ignored and reported as false.
func (s *Session) transition(to State, err error) bool {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		s.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("Ignoring illegal state transition")
		return false
	}

	now := time.Now()
	s.state = to
	s.history = append(s.history, to)
	if from == StateIdle {
		s.startedAt = now
	}
	if to.IsTerminal() {
		s.err = err
		s.finishedAt = now
		if s.startedAt.IsZero() {
			s.startedAt = now
		}
		close(s.done)
	}
	s.mu.Unlock()

	s.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("Session state changed")
	return true
}

// claim reserves an idle session for a single playback; only the first call succeeds
func (s *Session) claim(pending *playback) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed || s.state != StateIdle {
		return false
	}
	s.claimed = true
	s.pending = pending
	return true
}

func (s *Session) takePending() *playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	pb := s.pending
	s.pending = nil
	return pb
}

func (s *Session) markFirstAudio() {
	if s.firstAudio.Load() == 0 {
		s.firstAudio.CompareAndSwap(0, time.Now().UnixNano())
	}
}

func (s *Session) heardAudio() bool {
	return s.firstAudio.Load() != 0
}

// recordLevel keeps the loudest period seen so far
func (s *Session) recordLevel(level float64) {
	for {
		old := s.peakLevel.Load()
		if level <= math.Float64frombits(old) {
			return
		}
		if s.peakLevel.CompareAndSwap(old, math.Float64bits(level)) {
			return
		}
	}
}
