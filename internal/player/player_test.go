package player

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/murmur/internal/audio"
	"github.com/emmett/murmur/internal/audio/audiotest"
	"github.com/emmett/murmur/internal/tts"
)

// scriptedStream replays fixed chunks, optionally pausing between them
type scriptedStream struct {
	chunks     [][]byte
	delay      time.Duration
	stallAfter int   // block after this many chunks until cancelled; 0 disables
	err        error // returned instead of io.EOF after the last chunk

	mu        sync.Mutex
	next      int
	closed    chan struct{}
	closeOnce sync.Once
}

func newScriptedStream(chunks ...[]byte) *scriptedStream {
	return &scriptedStream{chunks: chunks, closed: make(chan struct{})}
}

func (s *scriptedStream) Next(ctx context.Context) (tts.AudioChunk, error) {
	s.mu.Lock()
	i := s.next
	s.mu.Unlock()

	var wait <-chan time.Time
	switch {
	case s.stallAfter > 0 && i >= s.stallAfter:
		wait = nil
	case s.delay > 0 && i > 0:
		wait = time.After(s.delay)
	default:
		ready := make(chan time.Time, 1)
		ready <- time.Time{}
		wait = ready
	}

	select {
	case <-wait:
	case <-ctx.Done():
		return tts.AudioChunk{}, ctx.Err()
	case <-s.closed:
		return tts.AudioChunk{}, tts.ErrStreamClosed
	}

	if i >= len(s.chunks) {
		if s.err != nil {
			return tts.AudioChunk{}, s.err
		}
		return tts.AudioChunk{}, io.EOF
	}
	s.mu.Lock()
	s.next++
	s.mu.Unlock()
	return tts.AudioChunk{Seq: i + 1, Data: s.chunks[i]}, nil
}

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptedStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// audible builds PCM with no zero bytes so padding can be told apart from audio
func audible(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = 1 + (seed+byte(i))%255
	}
	return out
}

func withoutSilence(trace []byte) []byte {
	return bytes.ReplaceAll(trace, []byte{0}, nil)
}

func newTestPlayer(t *testing.T, opts Options) (*Player, *audiotest.Opener, *Metrics) {
	t.Helper()
	opener := &audiotest.Opener{Period: 2 * time.Millisecond}
	metrics := NewMetrics(prometheus.NewRegistry())
	p, err := New(opener.Open, opts, zerolog.Nop(), metrics)
	require.NoError(t, err)
	return p, opener, metrics
}

func TestPlayer_PlaysEveryByteInOrder(t *testing.T) {
	p, opener, metrics := newTestPlayer(t, Options{})

	var chunks [][]byte
	var src []byte
	for i := 0; i < 5; i++ {
		chunk := audible(4000, byte(i*7))
		chunks = append(chunks, chunk)
		src = append(src, chunk...)
	}

	session := p.NewSession()
	err := p.PlayAudioStream(context.Background(), session, newScriptedStream(chunks...))
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, session.State())
	assert.Equal(t, []State{StateIdle, StateStreaming, StateDraining, StateCompleted}, session.History())
	assert.NoError(t, session.Err())

	dev := opener.Last()
	require.NotNil(t, dev)
	assert.False(t, dev.Running())
	assert.True(t, dev.Closed())
	assert.Equal(t, src, withoutSilence(dev.Trace()))

	stats := session.Stats()
	assert.Equal(t, uint64(20000), stats.BytesReceived)
	assert.Equal(t, uint64(20000), stats.BytesPlayed)
	assert.Zero(t, stats.Underruns, "the tail of a closed stream is not an underrun")
	assert.Greater(t, stats.PeakLevel, 0.0)
	assert.LessOrEqual(t, stats.PeakLevel, 1.0)
	assert.False(t, stats.FirstAudioAt.IsZero())
	assert.Greater(t, stats.Duration(), time.Duration(0))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Sessions.WithLabelValues("completed")))
	assert.Equal(t, 20000.0, testutil.ToFloat64(metrics.BytesPlayed))
	assert.Nil(t, p.Active())

	select {
	case <-session.Done():
	default:
		t.Fatal("Done not closed after completion")
	}
}

func TestPlayer_UnderrunPadsSilenceAndContinues(t *testing.T) {
	p, opener, metrics := newTestPlayer(t, Options{})

	first, second := audible(960, 3), audible(960, 9)
	stream := newScriptedStream(first, second)
	stream.delay = 60 * time.Millisecond

	session := p.NewSession()
	require.NoError(t, p.PlayAudioStream(context.Background(), session, stream))

	stats := session.Stats()
	assert.Greater(t, stats.Underruns, uint64(0))
	assert.Greater(t, stats.SilenceFrames, uint64(0))
	assert.Equal(t, append(append([]byte{}, first...), second...), withoutSilence(opener.Last().Trace()))
	assert.Equal(t, float64(stats.Underruns), testutil.ToFloat64(metrics.Underruns))
}

func TestPlayer_StopHaltsAndDiscards(t *testing.T) {
	p, opener, _ := newTestPlayer(t, Options{})

	stream := newScriptedStream(audible(4000, 1), audible(4000, 2), audible(4000, 3))
	stream.stallAfter = 1

	session := p.NewSession()
	errCh := make(chan error, 1)
	go func() { errCh <- p.PlayAudioStream(context.Background(), session, stream) }()

	require.Eventually(t, func() bool { return session.Stats().BytesPlayed > 0 }, time.Second, time.Millisecond)
	assert.Same(t, session, p.Active())

	p.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("PlayAudioStream did not return after Stop")
	}

	assert.Equal(t, StateCancelled, session.State())
	assert.ErrorIs(t, session.Err(), ErrStopped)
	assert.True(t, stream.isClosed())

	dev := opener.Last()
	assert.False(t, dev.Running())
	assert.True(t, dev.Closed())
	calls := dev.RenderCalls()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, calls, dev.RenderCalls(), "device kept rendering after Stop")

	// Idempotent
	p.Stop()
	p.Stop()
	assert.Equal(t, StateCancelled, session.State())
	assert.Nil(t, p.Active())
}

func TestPlayer_StopWithoutSessionIsNoop(t *testing.T) {
	p, opener, _ := newTestPlayer(t, Options{})
	p.Stop()
	assert.Empty(t, opener.Devices())
}

func TestPlayer_NewSessionSupersedesActive(t *testing.T) {
	p, _, metrics := newTestPlayer(t, Options{})

	slow := newScriptedStream(audible(2000, 1), audible(2000, 2))
	slow.stallAfter = 1
	first := p.NewSession()
	firstErr := make(chan error, 1)
	go func() { firstErr <- p.PlayAudioStream(context.Background(), first, slow) }()
	require.Eventually(t, func() bool { return first.State() == StateStreaming }, time.Second, time.Millisecond)

	second := p.NewSession()
	err := p.PlayAudioStream(context.Background(), second, newScriptedStream(audible(2000, 5)))
	require.NoError(t, err)

	assert.ErrorIs(t, <-firstErr, ErrSuperseded)
	assert.Equal(t, StateCancelled, first.State())
	assert.Equal(t, StateCompleted, second.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Sessions.WithLabelValues("cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Sessions.WithLabelValues("completed")))
}

func TestPlayer_ContextCancellation(t *testing.T) {
	p, _, _ := newTestPlayer(t, Options{})

	stream := newScriptedStream(audible(2000, 1), audible(2000, 2))
	stream.stallAfter = 1
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	session := p.NewSession()
	err := p.PlayAudioStream(ctx, session, stream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateCancelled, session.State())
}

func TestPlayer_StreamErrorFailsSession(t *testing.T) {
	p, opener, _ := newTestPlayer(t, Options{})

	boom := &tts.TransportError{Op: "read", Err: errors.New("connection reset by peer")}
	stream := newScriptedStream(audible(2000, 1))
	stream.err = boom

	session := p.NewSession()
	err := p.PlayAudioStream(context.Background(), session, stream)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, session.State())
	assert.True(t, tts.IsTransport(session.Err()))

	dev := opener.Last()
	assert.True(t, dev.Closed(), "device must be closed before the failure is reported")
	assert.True(t, stream.isClosed())
}

func TestPlayer_DeviceDisconnectFailsSession(t *testing.T) {
	p, opener, _ := newTestPlayer(t, Options{})

	stream := newScriptedStream(audible(2000, 1), audible(2000, 2))
	stream.stallAfter = 1

	session := p.NewSession()
	errCh := make(chan error, 1)
	go func() { errCh <- p.PlayAudioStream(context.Background(), session, stream) }()

	require.Eventually(t, func() bool { return opener.Last() != nil && opener.Last().Started() }, time.Second, time.Millisecond)
	opener.Last().Disconnect()

	var devErr *audio.DeviceError
	select {
	case err := <-errCh:
		assert.ErrorAs(t, err, &devErr)
	case <-time.After(time.Second):
		t.Fatal("device failure did not end the session")
	}
	assert.Equal(t, StateFailed, session.State())
	assert.True(t, stream.isClosed())
}

func TestPlayer_DeviceOpenFailure(t *testing.T) {
	opener := &audiotest.Opener{Period: 2 * time.Millisecond, Err: errors.New("no such device")}
	p, err := New(opener.Open, Options{}, zerolog.Nop(), nil)
	require.NoError(t, err)

	stream := newScriptedStream(audible(100, 1))
	session := p.NewSession()
	err = p.PlayAudioStream(context.Background(), session, stream)

	var devErr *audio.DeviceError
	assert.ErrorAs(t, err, &devErr)
	assert.Equal(t, []State{StateIdle, StateFailed}, session.History())
	assert.True(t, stream.isClosed())
}

func TestPlayer_FailBeforePlayback(t *testing.T) {
	p, opener, metrics := newTestPlayer(t, Options{})
	session := p.NewSession()

	se := &tts.ServiceError{StatusCode: 500, Message: "boom"}
	p.Fail(session, se)

	assert.Equal(t, []State{StateIdle, StateFailed}, session.History())
	assert.ErrorIs(t, session.Err(), se)
	assert.Empty(t, opener.Devices())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Sessions.WithLabelValues("failed")))

	// Terminal states are final
	p.Fail(session, errors.New("again"))
	assert.ErrorIs(t, session.Err(), se)
}

func TestPlayer_StopCancelsBegunSession(t *testing.T) {
	p, opener, metrics := newTestPlayer(t, Options{})
	session := p.NewSession()

	ctx, err := p.Begin(context.Background(), session)
	require.NoError(t, err)
	assert.Same(t, session, p.Active())

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the begun session")
	}

	// The request waiting on ctx gives up and reports back
	err = p.Fail(session, ctx.Err())
	assert.ErrorIs(t, err, ErrStopped)
	<-stopped

	assert.Equal(t, []State{StateIdle, StateCancelled}, session.History())
	assert.Empty(t, opener.Devices())
	assert.Nil(t, p.Active())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Sessions.WithLabelValues("cancelled")))
}

func TestPlayer_BegunSessionSupersededBeforeItsStream(t *testing.T) {
	p, opener, _ := newTestPlayer(t, Options{})

	first := p.NewSession()
	firstCtx, err := p.Begin(context.Background(), first)
	require.NoError(t, err)

	second := p.NewSession()
	secondCtx := make(chan context.Context, 1)
	go func() {
		ctx, err := p.Begin(context.Background(), second)
		assert.NoError(t, err)
		secondCtx <- ctx
	}()

	<-firstCtx.Done()
	// The older stream arrives late and must not play
	late := newScriptedStream(audible(2000, 1))
	err = p.PlayAudioStream(firstCtx, first, late)
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, []State{StateIdle, StateCancelled}, first.History())
	assert.True(t, late.isClosed())
	assert.Empty(t, opener.Devices())

	ctx := <-secondCtx
	require.NoError(t, p.PlayAudioStream(ctx, second, newScriptedStream(audible(2000, 2))))
	assert.Equal(t, StateCompleted, second.State())
	assert.Len(t, opener.Devices(), 1)
}

func TestPlayer_SessionClaimedOnce(t *testing.T) {
	p, opener, _ := newTestPlayer(t, Options{})
	session := p.NewSession()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.PlayAudioStream(context.Background(), session, newScriptedStream(audible(960, byte(i))))
		}()
	}
	wg.Wait()

	var used, played int
	for _, err := range errs {
		switch {
		case errors.Is(err, ErrSessionUsed):
			used++
		case err == nil:
			played++
		}
	}
	assert.Equal(t, 1, used)
	assert.Equal(t, 1, played)
	assert.Len(t, opener.Devices(), 1)

	_, err := p.Begin(context.Background(), session)
	assert.ErrorIs(t, err, ErrSessionUsed)
}

func TestPlayer_SessionCannotBeReplayed(t *testing.T) {
	p, _, _ := newTestPlayer(t, Options{})
	session := p.NewSession()
	require.NoError(t, p.PlayAudioStream(context.Background(), session, newScriptedStream(audible(480, 1))))

	stream := newScriptedStream(audible(480, 1))
	err := p.PlayAudioStream(context.Background(), session, stream)
	assert.ErrorIs(t, err, ErrSessionUsed)
	assert.True(t, stream.isClosed())
}

func TestPlayer_SetRate(t *testing.T) {
	p, _, _ := newTestPlayer(t, Options{})
	assert.Equal(t, 1.0, p.Rate())

	require.NoError(t, p.SetRate(1.5))
	assert.Equal(t, 1.5, p.Rate())

	assert.ErrorIs(t, p.SetRate(0.1), ErrInvalidRate)
	assert.ErrorIs(t, p.SetRate(3), ErrInvalidRate)
	assert.Equal(t, 1.5, p.Rate())

	_, err := New(nil, Options{Rate: 5}, zerolog.Nop(), nil)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestPlayer_DoubleRateHalvesPlayedAudio(t *testing.T) {
	p, _, _ := newTestPlayer(t, Options{Rate: 2.0})

	session := p.NewSession()
	require.NoError(t, p.PlayAudioStream(context.Background(), session, newScriptedStream(audible(8000, 1), audible(8000, 2))))

	stats := session.Stats()
	assert.Equal(t, uint64(16000), stats.BytesReceived)
	assert.InDelta(t, 8000, float64(stats.BytesPlayed), 8)
}

// A slow synthesis service is cut off as soon as playback is stopped
func TestPlayer_StopClosesSlowServiceConnection(t *testing.T) {
	disconnected := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/pcm")
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 50; i++ {
			_, _ = w.Write(audible(4000, byte(i)))
			w.(http.Flusher).Flush()
			select {
			case <-time.After(200 * time.Millisecond):
			case <-r.Context().Done():
				close(disconnected)
				return
			}
		}
	}))
	defer srv.Close()

	collector := tts.NewOpenAICollector(tts.OpenAIConfig{BaseURL: srv.URL + "/v1"}, zerolog.Nop())
	stream, err := collector.Open(context.Background(), tts.SynthesisRequest{Text: "a long story", Credential: "k"})
	require.NoError(t, err)

	p, opener, _ := newTestPlayer(t, Options{})
	session := p.NewSession()
	errCh := make(chan error, 1)
	go func() { errCh <- p.PlayAudioStream(context.Background(), session, stream) }()

	require.Eventually(t, func() bool { return session.Stats().BytesReceived >= 8000 }, 2*time.Second, 5*time.Millisecond)
	stopped := time.Now()
	p.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("PlayAudioStream did not return after Stop")
	}
	assert.Less(t, time.Since(stopped), 500*time.Millisecond)
	assert.Equal(t, StateCancelled, session.State())
	assert.False(t, opener.Last().Running())

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("service connection stayed open after Stop")
	}
}
