package player

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the player's prometheus collectors
type Metrics struct {
	Sessions         *prometheus.CounterVec
	Active           prometheus.Gauge
	Underruns        prometheus.Counter
	SilenceFrames    prometheus.Counter
	BytesReceived    prometheus.Counter
	BytesPlayed      prometheus.Counter
	SessionDuration  prometheus.Histogram
	TimeToFirstAudio prometheus.Histogram
}

// NewMetrics registers the collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_sessions_total",
			Help: "Playback sessions by terminal state",
		}, []string{"state"}),

		Active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "murmur_sessions_active",
			Help: "Sessions currently driving the output device",
		}),

		Underruns: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_underruns_total",
			Help: "Render ticks padded with silence while the stream was still open",
		}),

		SilenceFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_silence_frames_total",
			Help: "Frames of silence written to the output device",
		}),

		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_received_bytes_total",
			Help: "PCM bytes received from the synthesis service",
		}),

		BytesPlayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "murmur_played_bytes_total",
			Help: "Audio bytes handed to the output device",
		}),

		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "murmur_session_duration_seconds",
			Help:    "Wall time from session start to its terminal state",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		TimeToFirstAudio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "murmur_time_to_first_audio_seconds",
			Help:    "Latency between session start and the first audible frame",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}),
	}
}

// observe records a finished session
func (m *Metrics) observe(s *Session) {
	stats := s.Stats()
	m.Sessions.WithLabelValues(s.State().String()).Inc()
	m.Underruns.Add(float64(stats.Underruns))
	m.SilenceFrames.Add(float64(stats.SilenceFrames))
	m.BytesReceived.Add(float64(stats.BytesReceived))
	m.BytesPlayed.Add(float64(stats.BytesPlayed))
	if d := stats.Duration(); d > 0 {
		m.SessionDuration.Observe(d.Seconds())
	}
	if d := stats.TimeToFirstAudio(); d > 0 {
		m.TimeToFirstAudio.Observe(d.Seconds())
	}
}
