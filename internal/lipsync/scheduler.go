// Package lipsync plays a timed viseme sequence for synthesised speech onto
// the avatar engine.
package lipsync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/metrics"
	"github.com/rs/zerolog"
)

// Target receives viseme updates; *avatar.Engine implements it.
type Target interface {
	SetViseme(channel avatar.Channel, intensity float64)
	ResetViseme(channel avatar.Channel)
	DampenVisemes()
}

// Config tunes playback.
type Config struct {
	// PollInterval is the playback loop granularity (default: 10ms)
	PollInterval time.Duration
	// Intensity is the value each viseme is raised to (default: 0.7)
	Intensity float64
	// DecayFactor scales an event's duration into its decay delay (default: 0.8)
	DecayFactor float64
}

// DefaultConfig returns the stock playback tuning.
func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		Intensity:    0.7,
		DecayFactor:  0.8,
	}
}

// Scheduler owns at most one in-flight viseme schedule. A new Synchronize
// supersedes the previous one: its queue is dropped and its pending decay
// timers are stopped or, if already firing, discarded by generation check.
type Scheduler struct {
	cfg     Config
	target  Target
	clock   clockwork.Clock
	logger  zerolog.Logger
	events  *bus.EventBus
	metrics *metrics.Metrics

	// mu serialises generation changes with every write to target, so no
	// write from an older generation lands after a newer one has started.
	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	timers     []clockwork.Timer
}

// NewScheduler creates a scheduler writing to target.
func NewScheduler(cfg Config, target Target, clock clockwork.Clock, logger zerolog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Intensity <= 0 {
		cfg.Intensity = def.Intensity
	}
	if cfg.DecayFactor <= 0 {
		cfg.DecayFactor = def.DecayFactor
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		cfg:    cfg,
		target: target,
		clock:  clock,
		logger: logger.With().Str("component", "lipsync").Logger(),
	}
}

// SetEventBus attaches a bus for schedule notifications.
func (s *Scheduler) SetEventBus(b *bus.EventBus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = b
}

// SetMetrics attaches metric instruments.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Synchronize supersedes any in-flight schedule and starts playing text's
// phonemes spread over audio. Text with no phonemes leaves nothing playing.
// It returns the new schedule's generation.
func (s *Scheduler) Synchronize(ctx context.Context, audio time.Duration, text string) uint64 {
	events := Schedule(Phonemes(text), audio)

	s.mu.Lock()
	gen, tornDown := s.supersedeLocked()
	eb, met := s.events, s.metrics
	if len(events) == 0 {
		if tornDown {
			s.restLocked()
		}
		s.mu.Unlock()
		s.logger.Debug().Uint64("generation", gen).Msg("No phonemes to schedule")
		return gen
	}

	playCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	met.RecordSchedule(context.Background())
	eb.Publish(scheduleEvent(bus.EventTypeScheduleStarted, gen, map[string]any{
		"events":   len(events),
		"duration": audio,
	}))
	s.logger.Debug().Uint64("generation", gen).Int("events", len(events)).Dur("audio", audio).Msg("Viseme schedule started")

	go s.play(playCtx, gen, events, done)
	return gen
}

// Stop supersedes the in-flight schedule without starting a new one and
// returns the mouth to rest.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, tornDown := s.supersedeLocked(); tornDown {
		s.restLocked()
	}
}

// supersedeLocked bumps the generation and tears down the previous schedule.
// tornDown reports whether there was a schedule or pending decay to drop.
func (s *Scheduler) supersedeLocked() (gen uint64, tornDown bool) {
	prev := s.generation
	s.generation++
	tornDown = s.cancel != nil || len(s.timers) > 0

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		if !closed(s.done) {
			s.metrics.RecordSuperseded(context.Background())
			s.events.Publish(scheduleEvent(bus.EventTypeScheduleSuperseded, prev, nil))
		}
	}
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	return s.generation, tornDown
}

// restLocked resets every viseme channel. Only called when no schedule
// follows, since a successor schedule owns the mouth.
func (s *Scheduler) restLocked() {
	if s.target == nil {
		return
	}
	for _, c := range avatar.VisemeChannels {
		s.target.ResetViseme(c)
	}
}

// Generation returns the current schedule generation.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Active reports whether a schedule is still playing events.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil && !closed(s.done)
}

// Wait blocks until the latest schedule's playback loop has exited.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Scheduler) play(ctx context.Context, gen uint64, queue []Event, done chan struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	anchor := s.clock.Now()

	for {
		var ok bool
		queue, ok = s.advance(gen, queue, s.clock.Since(anchor))
		if !ok {
			return
		}
		if len(queue) == 0 {
			s.mu.Lock()
			eb := s.events
			s.mu.Unlock()
			eb.Publish(scheduleEvent(bus.EventTypeScheduleDrained, gen, nil))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

// advance fires, in order, every queued event whose offset has been reached
// and returns the rest. ok is false once gen has been superseded.
func (s *Scheduler) advance(gen uint64, queue []Event, elapsed time.Duration) (rest []Event, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return nil, false
	}
	for len(queue) > 0 && queue[0].StartOffset <= elapsed {
		s.fireLocked(gen, queue[0])
		queue = queue[1:]
	}
	return queue, true
}

func (s *Scheduler) fireLocked(gen uint64, ev Event) {
	if s.target == nil {
		return
	}
	if ev.Viseme == "" {
		s.target.DampenVisemes()
		return
	}

	s.target.SetViseme(ev.Viseme, s.cfg.Intensity)

	delay := time.Duration(float64(ev.Duration) * s.cfg.DecayFactor)
	channel := ev.Viseme
	s.timers = append(s.timers, s.clock.AfterFunc(delay, func() {
		s.decay(gen, channel)
	}))
}

// decay resets channel unless gen has been superseded, in which case the
// call is a silent no-op.
func (s *Scheduler) decay(gen uint64, channel avatar.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.metrics.RecordStaleDecay(context.Background())
		return
	}
	if s.target != nil {
		s.target.ResetViseme(channel)
	}
}

func scheduleEvent(t bus.EventType, gen uint64, data map[string]any) bus.Event {
	if data == nil {
		data = make(map[string]any, 1)
	}
	data["generation"] = gen
	return bus.Event{Type: t, Data: data}
}

func closed(ch chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
