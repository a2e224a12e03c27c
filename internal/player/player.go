// Package player drives a synthesis stream through a bounded bridge into the
// output device, tracking each utterance as a Session.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/emmett/murmur/internal/audio"
	"github.com/emmett/murmur/internal/logging"
	"github.com/emmett/murmur/internal/tts"
)

const (
	MinRate = 0.5
	MaxRate = 2.0

	// underrunLogEvery throttles underrun logging to the first and every nth
	underrunLogEvery = 50
)

var (
	// ErrStopped is the cause recorded for sessions ended by Stop
	ErrStopped = errors.New("playback stopped")

	// ErrSuperseded is the cause recorded for a session replaced by a newer one
	ErrSuperseded = errors.New("playback superseded by a newer session")

	// ErrSessionUsed is returned when a session is begun or played a second time
	ErrSessionUsed = errors.New("session has already been played")

	// ErrInvalidRate is returned by SetRate for rates outside [MinRate, MaxRate]
	ErrInvalidRate = fmt.Errorf("playback rate must be within [%.1f, %.1f]", MinRate, MaxRate)
)

// Options configures a Player
type Options struct {
	// Format is the PCM format of the stream and the device
	Format audio.Format

	// Rate is the initial playback-rate multiplier; 0 means 1.0
	Rate float64

	// BridgeCapacity is the bridge size in bytes; 0 means audio.DefaultBridgeDuration
	BridgeCapacity int

	// PeriodFrames is the number of frames the device requests per render call
	PeriodFrames uint32

	// DeviceName selects the output device; empty uses the default
	DeviceName string
}

// Player plays one session at a time. Starting a session while another is
// active cancels the older one and waits for its teardown.
type Player struct {
	opener  audio.Opener
	opts    Options
	logger  zerolog.Logger
	metrics *Metrics
	rate    atomic.Uint64

	mu     sync.Mutex
	active *playback
}

// New creates a player. metrics may be nil.
func New(opener audio.Opener, opts Options, logger zerolog.Logger, metrics *Metrics) (*Player, error) {
	if opener == nil {
		opener = audio.OpenDevice
	}
	if opts.Format == (audio.Format{}) {
		opts.Format = audio.DefaultFormat()
	}
	if err := opts.Format.Validate(); err != nil {
		return nil, err
	}
	if opts.PeriodFrames == 0 {
		opts.PeriodFrames = audio.DefaultDeviceConfig().PeriodFrames
	}
	if opts.BridgeCapacity <= 0 {
		opts.BridgeCapacity = opts.Format.BytesFor(audio.DefaultBridgeDuration)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	p := &Player{
		opener:  opener,
		opts:    opts,
		logger:  logging.Component(logger, "player"),
		metrics: metrics,
	}

	rate := opts.Rate
	if rate == 0 {
		rate = 1.0
	}
	if err := p.SetRate(rate); err != nil {
		return nil, err
	}
	return p, nil
}

// SetRate changes the playback-rate multiplier. It takes effect on the next
// render tick, including for the session currently playing. Pitch follows rate.
func (p *Player) SetRate(rate float64) error {
	if math.IsNaN(rate) || rate < MinRate || rate > MaxRate {
		return fmt.Errorf("%w: got %v", ErrInvalidRate, rate)
	}
	p.rate.Store(math.Float64bits(rate))
	return nil
}

// Rate returns the playback-rate multiplier
func (p *Player) Rate() float64 {
	return math.Float64frombits(p.rate.Load())
}

// Format returns the PCM format the player expects
func (p *Player) Format() audio.Format {
	return p.opts.Format
}

// NewSession creates an idle session for this player
func (p *Player) NewSession() *Session {
	return newSession(p.logger)
}

// Active returns the session currently playing, or nil
func (p *Player) Active() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return nil
	}
	return p.active.session
}

// Stop cancels the active session, halting the device and discarding buffered
// audio, or abandoning the request of a begun session that has no stream yet.
// It returns once teardown is complete. Stop is idempotent and does
// nothing when no session is active.
func (p *Player) Stop() {
	p.mu.Lock()
	pb := p.active
	p.mu.Unlock()

	if pb == nil {
		return
	}
	pb.cancel(ErrStopped)
	<-pb.done
}

// Begin makes session the active one before its audio exists, cancelling any
// predecessor. The returned context ends when the session is stopped or
// superseded; use it for the request that produces the stream. A begun session
// must be ended with PlayAudioStream or Fail.
func (p *Player) Begin(ctx context.Context, session *Session) (context.Context, error) {
	pb := p.newPlayback(ctx, session)
	if !session.claim(pb) {
		pb.cancel(nil)
		return nil, ErrSessionUsed
	}
	p.supersede(pb)
	return pb.ctx, nil
}

// Fail ends a session that never reached the device, e.g. when the
// synthesis request was rejected. A begun session that was stopped or
// superseded in the meantime ends cancelled with that cause instead.
// It returns the error the session ended with.
func (p *Player) Fail(session *Session, err error) error {
	state := StateFailed
	if pb := session.takePending(); pb != nil {
		if pb.ctx.Err() != nil {
			state, err = StateCancelled, context.Cause(pb.ctx)
		}
		defer p.release(pb)
		defer pb.cancel(nil)
	}

	if !session.transition(state, err) {
		return err
	}
	p.metrics.observe(session)
	if state == StateCancelled {
		session.logger.Info().Err(err).Msg("Session cancelled before playback")
	} else {
		session.logger.Warn().Err(err).Msg("Session failed before playback")
	}
	return err
}

// PlayAudioStream plays stream through the device and returns once the session
// has completed, been cancelled or failed. The device and the stream are
// closed before it returns. A nil error means the session completed.
func (p *Player) PlayAudioStream(ctx context.Context, session *Session, stream tts.ChunkStream) error {
	pb, err := p.acquire(ctx, session)
	if err != nil {
		_ = stream.Close()
		return err
	}
	defer p.release(pb)
	defer pb.cancel(nil)
	pb.stream = stream
	runCtx := pb.ctx

	// A begun session still answers to the caller's context
	stopCaller := context.AfterFunc(ctx, func() { pb.cancel(context.Cause(ctx)) })
	defer stopCaller()

	if runCtx.Err() != nil {
		return p.finish(pb, StateCancelled, context.Cause(runCtx))
	}

	device, err := p.opener(audio.DeviceConfig{
		Format:       p.opts.Format,
		PeriodFrames: p.opts.PeriodFrames,
		DeviceName:   p.opts.DeviceName,
	})
	if err != nil {
		return p.finish(pb, StateFailed, err)
	}
	pb.device = device
	pb.bridge = audio.NewBridge(p.opts.BridgeCapacity, pb.frameSize)
	pb.resampler = audio.NewResampler(p.opts.Format, p.Rate())

	// Cancellation releases a producer blocked on the network or the bridge
	stopAbort := context.AfterFunc(runCtx, pb.abort)
	defer stopAbort()

	session.transition(StateStreaming, nil)
	session.logger.Info().Float64("rate", p.Rate()).Msg("Session started")

	if err := device.Start(pb.render); err != nil {
		return p.finish(pb, StateFailed, err)
	}
	p.metrics.Active.Inc()
	defer p.metrics.Active.Dec()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return pb.produce(gctx) })
	g.Go(func() error { return pb.watch(gctx) })
	err = g.Wait()

	switch {
	case runCtx.Err() != nil:
		return p.finish(pb, StateCancelled, context.Cause(runCtx))
	case err != nil:
		return p.finish(pb, StateFailed, err)
	default:
		return p.finish(pb, StateCompleted, nil)
	}
}

// acquire returns the playback installed by Begin, or begins one now
func (p *Player) acquire(ctx context.Context, session *Session) (*playback, error) {
	if pb := session.takePending(); pb != nil {
		return pb, nil
	}
	pb := p.newPlayback(ctx, session)
	if !session.claim(nil) {
		pb.cancel(nil)
		return nil, ErrSessionUsed
	}
	p.supersede(pb)
	return pb, nil
}

func (p *Player) newPlayback(ctx context.Context, session *Session) *playback {
	runCtx, cancel := context.WithCancelCause(ctx)
	return &playback{
		player:    p,
		session:   session,
		ctx:       runCtx,
		cancel:    cancel,
		frameSize: p.opts.Format.BytesPerFrame(),
		drained:   make(chan struct{}),
		done:      make(chan struct{}),
		underruns: logging.Sampler{N: underrunLogEvery},
	}
}

// supersede installs pb as the active playback, cancelling and waiting out its predecessor
func (p *Player) supersede(pb *playback) {
	p.mu.Lock()
	prev := p.active
	p.active = pb
	p.mu.Unlock()

	if prev != nil {
		prev.session.logger.Debug().Str("next_session", pb.session.ID).Msg("Superseding session")
		prev.cancel(ErrSuperseded)
		<-prev.done
	}
}

func (p *Player) release(pb *playback) {
	p.mu.Lock()
	if p.active == pb {
		p.active = nil
	}
	p.mu.Unlock()
	close(pb.done)
}

// finish tears the session down and only then records its terminal state
func (p *Player) finish(pb *playback, state State, err error) error {
	var teardown []error
	if pb.device != nil {
		teardown = append(teardown, pb.device.Stop())
	}
	if pb.bridge != nil {
		pb.bridge.Discard()
	}
	if pb.device != nil {
		teardown = append(teardown, pb.device.Close())
	}
	if cerr := pb.stream.Close(); cerr != nil && !errors.Is(cerr, tts.ErrStreamClosed) {
		teardown = append(teardown, cerr)
	}
	if terr := errors.Join(teardown...); terr != nil {
		pb.session.logger.Debug().Err(terr).Msg("Teardown reported errors")
	}

	if !pb.session.transition(state, err) {
		return err
	}
	p.metrics.observe(pb.session)

	stats := pb.session.Stats()
	event := pb.session.logger.Info()
	if state == StateFailed {
		event = pb.session.logger.Warn().Err(err)
	}
	event.Stringer("state", state).
		Uint64("bytes_played", stats.BytesPlayed).
		Uint64("underruns", stats.Underruns).
		Dur("duration", stats.Duration()).
		Msg("Session ended")

	if state == StateCompleted {
		return nil
	}
	return err
}

// playback is the per-session plumbing between the stream and the device
type playback struct {
	player    *Player
	session   *Session
	stream    tts.ChunkStream
	device    audio.Device
	bridge    *audio.Bridge
	resampler *audio.Resampler
	frameSize int
	ctx       context.Context
	cancel    context.CancelCauseFunc

	drained   chan struct{}
	drainOnce sync.Once
	done      chan struct{}
	underruns logging.Sampler
}

// produce moves chunks from the stream into the bridge until end of stream
func (pb *playback) produce(ctx context.Context) error {
	for {
		chunk, err := pb.stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			pb.bridge.Close()
			pb.session.transition(StateDraining, nil)
			return nil
		}
		if err != nil {
			pb.bridge.Fail(err)
			return err
		}

		pb.session.bytesReceived.Add(uint64(len(chunk.Data)))
		if _, err := pb.bridge.Write(ctx, chunk.Data); err != nil {
			return err
		}
	}
}

// watch waits for the device to play out the stream or to fail
func (pb *playback) watch(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-pb.drained:
		return nil
	case err := <-pb.device.Errors():
		return err
	}
}

func (pb *playback) abort() {
	pb.bridge.Discard()
	_ = pb.stream.Close()
}

// render runs on the device's audio thread once per period. It never blocks.
func (pb *playback) render(out []byte) {
	pb.resampler.SetRate(pb.player.Rate())
	n, err := pb.resampler.Render(out, pb.bridge)
	clear(out[n:])

	s := pb.session
	if n > 0 {
		s.markFirstAudio()
		s.bytesPlayed.Add(uint64(n))
		s.recordLevel(audio.Level(out[:n]))
	}

	if short := len(out) - n; short > 0 {
		s.silenceFrames.Add(uint64(short / pb.frameSize))
		// Silence before the first audible frame is pre-roll, and a closed
		// bridge is draining its tail; neither is an underrun
		if err == nil && s.heardAudio() && !pb.bridge.IsClosed() {
			count := s.underruns.Add(1)
			if pb.underruns.Allow() {
				s.logger.Debug().Uint64("underruns", count).Int("missing_bytes", short).Msg("Playback underrun")
			}
		}
	}

	if errors.Is(err, io.EOF) {
		pb.drainOnce.Do(func() { close(pb.drained) })
	}
}
