package avatar

import (
	"context"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/jonboulle/clockwork"
	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/metrics"
	"github.com/rs/zerolog"
)

// GestureIdle is the resting gesture. It never expires and writes no channel.
const GestureIdle = "idle"

// Renderer pushes engine state onto the 3D avatar. It is called synchronously
// after every mutation, while the engine is still serialised, and must not
// call back into the engine.
type Renderer interface {
	ApplyBlendShapes(channels map[Channel]float64)
	ApplyPose(pose Pose)
}

// Coupling raises a secondary channel whenever an emotion is expressed:
// value = min(Max, intensity*Factor).
type Coupling struct {
	Emotion Emotion `mapstructure:"emotion"`
	Channel Channel `mapstructure:"channel"`
	Factor  float64 `mapstructure:"factor"`
	Max     float64 `mapstructure:"max"`
}

// DefaultCouplings returns the stock secondary-channel tuning.
func DefaultCouplings() []Coupling {
	return []Coupling{
		{Emotion: EmotionHappy, Channel: ChannelAA, Factor: 0.7, Max: 0.7},
		{Emotion: EmotionSurprised, Channel: ChannelOU, Factor: 0.8, Max: 0.8},
	}
}

// EngineConfig tunes the merge policy.
type EngineConfig struct {
	// VisemeDecayStep is subtracted from the other viseme channels when a new
	// mouth shape is raised (default 0.3).
	VisemeDecayStep float64
	// VisemeRest is the value a viseme channel returns to after its decay
	// delay (default 0).
	VisemeRest float64
	// InitialIntensity is the neutral intensity applied at construction
	// (default 0.5).
	InitialIntensity float64
	Couplings        []Coupling
	Idle             IdleConfig
}

// DefaultEngineConfig returns sensible defaults for the engine.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		VisemeDecayStep:  0.3,
		VisemeRest:       0,
		InitialIntensity: 0.5,
		Couplings:        DefaultCouplings(),
		Idle:             DefaultIdleConfig(),
	}
}

// GestureRequest asks the engine to hold a gesture for a bounded time.
type GestureRequest struct {
	Name       string
	BlendShape Channel
	Intensity  float64
	Duration   time.Duration
	Head       mgl64.Vec3
}

// ActiveGesture is the gesture currently held by the engine.
type ActiveGesture struct {
	GestureRequest
	End time.Time
}

type heldGesture struct {
	ActiveGesture
	// applied is false when BlendShape was rejected.
	applied bool
	written float64
}

// Engine is the single writer of the avatar's State. Emotion, gesture and
// viseme producers call its entry points from any goroutine; the engine
// serialises them and forwards each resulting frame to the Renderer.
type Engine struct {
	mu sync.Mutex

	state            State
	emotion          Emotion
	emotionIntensity float64
	gesture          heldGesture

	cfg      EngineConfig
	renderer Renderer
	clock    clockwork.Clock
	logger   zerolog.Logger
	events   *bus.EventBus
	metrics  *metrics.Metrics
}

// NewEngine creates an engine showing a neutral expression. renderer may be
// nil; clock defaults to the real clock.
func NewEngine(cfg EngineConfig, renderer Renderer, clock clockwork.Clock, logger zerolog.Logger) *Engine {
	def := DefaultEngineConfig()
	if cfg.VisemeDecayStep <= 0 {
		cfg.VisemeDecayStep = def.VisemeDecayStep
	}
	if cfg.InitialIntensity <= 0 {
		cfg.InitialIntensity = def.InitialIntensity
	}
	if cfg.Couplings == nil {
		cfg.Couplings = def.Couplings
	}
	cfg.Idle = cfg.Idle.withDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	e := &Engine{
		state:    NewState(),
		cfg:      cfg,
		renderer: renderer,
		clock:    clock,
		logger:   logger.With().Str("component", "engine").Logger(),
		gesture:  heldGesture{ActiveGesture: ActiveGesture{GestureRequest: GestureRequest{Name: GestureIdle}}},
	}
	e.applyEmotionLocked(EmotionNeutral, cfg.InitialIntensity)
	return e
}

// SetEventBus attaches a bus for engine notifications.
func (e *Engine) SetEventBus(b *bus.EventBus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = b
}

// SetMetrics attaches metric instruments.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// SetCouplings replaces the secondary-channel tuning. Entries naming an
// unknown emotion or channel are skipped.
func (e *Engine) SetCouplings(couplings []Coupling) {
	valid := make([]Coupling, 0, len(couplings))
	for _, c := range couplings {
		if !c.Emotion.Valid() || !c.Channel.Valid() {
			e.logger.Warn().Str("emotion", string(c.Emotion)).Str("channel", string(c.Channel)).Msg("Skipping invalid coupling")
			continue
		}
		valid = append(valid, c)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Couplings = valid
}

// Clock returns the engine's time source.
func (e *Engine) Clock() clockwork.Clock {
	return e.clock
}

// Snapshot returns a deep copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// CurrentEmotion returns the persisted emotion and its intensity.
func (e *Engine) CurrentEmotion() (Emotion, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emotion, e.emotionIntensity
}

// ActiveGesture returns the gesture currently held.
func (e *Engine) ActiveGesture() ActiveGesture {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gesture.ActiveGesture
}

// SetEmotion replaces the emotion layer: every emotion channel is zeroed, the
// primary channel is set to intensity and the configured couplings raise
// their secondary channels. Viseme channels are only ever raised, never
// cleared. Identical calls leave identical state.
func (e *Engine) SetEmotion(emotion Emotion, intensity float64) {
	if !emotion.Valid() {
		emotion = EmotionNeutral
	}
	intensity = clamp01(intensity)

	e.mu.Lock()
	e.applyEmotionLocked(emotion, intensity)
	e.reapplyGestureLocked()
	e.renderLocked()
	events, met := e.events, e.metrics
	e.mu.Unlock()

	met.RecordEmotion(context.Background(), string(emotion))
	events.Publish(bus.Event{Type: bus.EventTypeEmotionChanged, Data: map[string]any{
		"emotion":   string(emotion),
		"intensity": intensity,
	}})
}

func (e *Engine) applyEmotionLocked(emotion Emotion, intensity float64) {
	for _, c := range EmotionChannels {
		e.state.Channels[c] = 0
	}
	e.state.set(emotion.Channel(), intensity)

	for _, c := range e.cfg.Couplings {
		if c.Emotion != emotion {
			continue
		}
		v := min(c.Max, intensity*c.Factor)
		if v > e.state.Get(c.Channel) {
			e.state.set(c.Channel, v)
		}
	}

	e.emotion = emotion
	e.emotionIntensity = intensity
}

// reapplyGestureLocked writes a held emotion-group gesture back over the
// emotion layer until the gesture's end time.
func (e *Engine) reapplyGestureLocked() {
	g := &e.gesture
	if g.Name == GestureIdle || !g.applied || g.BlendShape.Group() != GroupEmotion {
		return
	}
	if e.clock.Now().After(g.End) {
		return
	}
	e.state.set(g.BlendShape, g.Intensity)
	g.written = e.state.Get(g.BlendShape)
}

// SetGesture preempts whatever gesture is held and holds req until
// now+req.Duration. An unknown BlendShape is dropped while the rest of the
// request (head pose, end time) still applies. The idle gesture simply
// releases the current one.
func (e *Engine) SetGesture(req GestureRequest) {
	if req.Name == "" {
		req.Name = GestureIdle
	}
	req.Intensity = clamp01(req.Intensity)

	e.mu.Lock()
	e.releaseGestureLocked()

	now := e.clock.Now()
	held := heldGesture{ActiveGesture: ActiveGesture{GestureRequest: req, End: now.Add(req.Duration)}}

	rejected := false
	if req.Name != GestureIdle {
		if e.state.set(req.BlendShape, req.Intensity) {
			held.applied = true
			held.written = e.state.Get(req.BlendShape)
		} else {
			rejected = true
		}
		e.state.Pose.Head = req.Head
	}
	e.gesture = held
	e.renderLocked()
	events, met := e.events, e.metrics
	e.mu.Unlock()

	ctx := context.Background()
	if rejected {
		e.rejected(ctx, events, met, req.BlendShape, "gesture")
	}
	met.RecordGesture(ctx, req.Name)
	events.Publish(bus.Event{Type: bus.EventTypeGestureStarted, Data: map[string]any{
		"gesture":    req.Name,
		"blendShape": string(req.BlendShape),
		"intensity":  req.Intensity,
		"end":        held.End,
	}})
}

// releaseGestureLocked undoes the held gesture's writes: the head returns to
// rest, emotion channels are rebuilt from the persisted emotion, and a viseme
// channel is cleared only if it still holds the gesture's value.
func (e *Engine) releaseGestureLocked() {
	g := e.gesture
	if g.Name == GestureIdle {
		return
	}
	e.state.Pose.Head = mgl64.Vec3{}
	if g.applied {
		switch g.BlendShape.Group() {
		case GroupEmotion:
			e.applyEmotionLocked(e.emotion, e.emotionIntensity)
		case GroupViseme:
			if e.state.Get(g.BlendShape) == g.written {
				e.state.set(g.BlendShape, e.cfg.VisemeRest)
			}
		}
	}
	e.gesture = heldGesture{ActiveGesture: ActiveGesture{GestureRequest: GestureRequest{Name: GestureIdle}}}
}

// SetViseme raises a mouth shape. Every other viseme channel is dampened by
// the decay step (floored at zero) so successive shapes hand off smoothly.
// Non-viseme channels are dropped.
func (e *Engine) SetViseme(channel Channel, intensity float64) {
	if !channel.IsViseme() {
		e.mu.Lock()
		events, met := e.events, e.metrics
		e.mu.Unlock()
		e.rejected(context.Background(), events, met, channel, "viseme")
		return
	}

	e.mu.Lock()
	for _, c := range VisemeChannels {
		if c == channel {
			continue
		}
		e.state.set(c, e.state.Get(c)-e.cfg.VisemeDecayStep)
	}
	e.state.set(channel, intensity)
	e.renderLocked()
	met := e.metrics
	e.mu.Unlock()

	met.RecordViseme(context.Background(), string(channel))
}

// ResetViseme returns one viseme channel to its rest value.
func (e *Engine) ResetViseme(channel Channel) {
	if !channel.IsViseme() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.set(channel, e.cfg.VisemeRest)
	e.renderLocked()
}

// DampenVisemes lowers every viseme channel by the decay step without
// raising a new one; used for silence and closed-lip phonemes.
func (e *Engine) DampenVisemes() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range VisemeChannels {
		e.state.set(c, e.state.Get(c)-e.cfg.VisemeDecayStep)
	}
	e.renderLocked()
}

// SetPosture sets the body stance.
func (e *Engine) SetPosture(p Posture) {
	e.mu.Lock()
	if e.state.Pose.Posture == p {
		e.mu.Unlock()
		return
	}
	e.state.Pose.Posture = p
	e.renderLocked()
	events := e.events
	e.mu.Unlock()

	events.Publish(bus.Event{Type: bus.EventTypePostureChanged, Data: map[string]any{"posture": string(p)}})
}

// AdjustPosture picks a stance from the number of people in view.
func (e *Engine) AdjustPosture(people int) {
	e.SetPosture(PostureForAudience(people))
}

func (e *Engine) rejected(ctx context.Context, events *bus.EventBus, met *metrics.Metrics, channel Channel, layer string) {
	e.logger.Debug().Str("channel", string(channel)).Str("layer", layer).Msg("Dropped update for foreign or unknown channel")
	met.RecordRejected(ctx, string(channel), layer)
	events.Publish(bus.Event{Type: bus.EventTypeChannelRejected, Data: map[string]any{
		"channel": string(channel),
		"layer":   layer,
	}})
}

func (e *Engine) renderLocked() {
	if e.renderer == nil {
		return
	}
	channels := make(map[Channel]float64, len(e.state.Channels))
	for c, v := range e.state.Channels {
		channels[c] = v
	}
	e.renderer.ApplyBlendShapes(channels)
	e.renderer.ApplyPose(e.state.Pose)
	e.metrics.RecordFrame(context.Background())
}
