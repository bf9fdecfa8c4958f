// Package companion runs one conversational turn end to end: it asks the
// brain for a reply, remembers the exchange, and drives emotion, gesture and
// lip-sync on the avatar.
package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/emotion"
	"github.com/normanking/cortexcompanion/internal/gesture"
	"github.com/normanking/cortexcompanion/internal/lipsync"
	"github.com/normanking/cortexcompanion/internal/memory"
	"github.com/normanking/cortexcompanion/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrEmptyInput is returned by HandleTurn for blank user text.
var ErrEmptyInput = errors.New("empty input")

// contextTurns is how many past interactions the brain sees.
const contextTurns = 5

// Brain produces the companion's reply. history is the formatted recent
// conversation and may be empty.
type Brain interface {
	Reply(ctx context.Context, input, history string) (string, error)
}

// Speaker reports how long the spoken reply lasts.
type Speaker interface {
	Duration(ctx context.Context, text string) (time.Duration, error)
}

// EchoBrain repeats the user's text back. Used when no model is attached.
type EchoBrain struct{}

// Reply implements Brain.
func (EchoBrain) Reply(_ context.Context, input, _ string) (string, error) {
	return input, nil
}

// DefaultCharsPerSecond approximates conversational speech rate.
const DefaultCharsPerSecond = 14.0

// EstimatedSpeaker derives speech duration from text length.
type EstimatedSpeaker struct {
	CharsPerSecond float64
}

// Duration implements Speaker.
func (s EstimatedSpeaker) Duration(_ context.Context, text string) (time.Duration, error) {
	cps := s.CharsPerSecond
	if cps <= 0 {
		cps = DefaultCharsPerSecond
	}
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	return time.Duration(float64(n) / cps * float64(time.Second)), nil
}

// Turn records what one HandleTurn call did.
type Turn struct {
	ID              uuid.UUID      `json:"id"`
	Input           string         `json:"input"`
	Reply           string         `json:"reply"`
	UserSignal      emotion.Signal `json:"user_signal"`
	CompanionSignal emotion.Signal `json:"companion_signal"`
	Gesture         string         `json:"gesture"`
	Speech          time.Duration  `json:"speech"`
	Generation      uint64         `json:"generation"`
	Started         time.Time      `json:"started"`
	Elapsed         time.Duration  `json:"elapsed"`
}

// Deps are the collaborators a Companion drives. All are required except
// Speaker, which defaults to EstimatedSpeaker.
type Deps struct {
	Engine   *avatar.Engine
	Brain    Brain
	Speaker  Speaker
	Memory   *memory.Store
	Emotions *emotion.Resolver
	Gestures *gesture.Resolver
	LipSync  *lipsync.Scheduler
}

// Companion orchestrates turns.
type Companion struct {
	deps    Deps
	clock   clockwork.Clock
	logger  zerolog.Logger
	events  *bus.EventBus
	metrics *metrics.Metrics
}

// New validates deps and returns a Companion.
func New(deps Deps, clock clockwork.Clock, logger zerolog.Logger) (*Companion, error) {
	var missing []string
	if deps.Engine == nil {
		missing = append(missing, "engine")
	}
	if deps.Brain == nil {
		missing = append(missing, "brain")
	}
	if deps.Memory == nil {
		missing = append(missing, "memory")
	}
	if deps.Emotions == nil {
		missing = append(missing, "emotions")
	}
	if deps.Gestures == nil {
		missing = append(missing, "gestures")
	}
	if deps.LipSync == nil {
		missing = append(missing, "lipsync")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("companion: missing %s", strings.Join(missing, ", "))
	}
	if deps.Speaker == nil {
		deps.Speaker = EstimatedSpeaker{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Companion{
		deps:   deps,
		clock:  clock,
		logger: logger.With().Str("component", "companion").Logger(),
	}, nil
}

// SetEventBus sets the bus turn events are published on.
func (c *Companion) SetEventBus(b *bus.EventBus) {
	c.events = b
}

// SetMetrics sets the instruments turn latency is recorded on.
func (c *Companion) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// HandleTurn answers userText. The lip-sync schedule keeps playing after
// HandleTurn returns, bounded by ctx.
func (c *Companion) HandleTurn(ctx context.Context, userText string) (*Turn, error) {
	input := strings.TrimSpace(userText)
	if input == "" {
		return nil, ErrEmptyInput
	}

	turn := &Turn{ID: uuid.New(), Input: input, Started: c.clock.Now()}
	log := c.logger.With().Str("turn", turn.ID.String()).Logger()
	c.events.Publish(bus.Event{Type: bus.EventTypeTurnStarted, Data: map[string]any{
		"turn":  turn.ID.String(),
		"input": input,
	}})

	reply, err := c.deps.Brain.Reply(ctx, input, c.deps.Memory.Context(contextTurns))
	if err != nil {
		return nil, fmt.Errorf("brain reply: %w", err)
	}
	turn.Reply = strings.TrimSpace(reply)

	c.deps.Memory.Add(ctx, input, turn.Reply)

	turn.UserSignal = c.deps.Emotions.Update(ctx, input, emotion.SourceUser)
	turn.CompanionSignal = c.deps.Emotions.Update(ctx, turn.Reply, emotion.SourceCompanion)

	turn.Gesture = c.deps.Gestures.Trigger(turn.Reply)

	speech, err := c.deps.Speaker.Duration(ctx, turn.Reply)
	if err != nil {
		log.Warn().Err(err).Msg("Speech duration unavailable, estimating")
		speech, _ = EstimatedSpeaker{}.Duration(ctx, turn.Reply)
	}
	turn.Speech = speech
	turn.Generation = c.deps.LipSync.Synchronize(ctx, speech, turn.Reply)

	turn.Elapsed = c.clock.Since(turn.Started)
	c.metrics.RecordTurn(ctx, turn.Elapsed.Seconds())
	c.events.Publish(bus.Event{Type: bus.EventTypeTurnCompleted, Data: map[string]any{
		"turn":      turn.ID.String(),
		"emotion":   string(turn.CompanionSignal.Category),
		"gesture":   turn.Gesture,
		"speech":    speech,
		"lipsyncID": turn.Generation,
	}})

	log.Info().
		Str("emotion", string(turn.CompanionSignal.Category)).
		Float64("intensity", turn.CompanionSignal.Intensity).
		Str("gesture", turn.Gesture).
		Dur("speech", speech).
		Msg("Turn completed")
	return turn, nil
}

// ObservePeople adjusts posture to the number of people a vision source
// reports in view.
func (c *Companion) ObservePeople(people int) {
	c.deps.Engine.AdjustPosture(people)
}

// Interrupt stops any lip-sync in progress, e.g. when the user barges in.
func (c *Companion) Interrupt() {
	c.deps.LipSync.Stop()
}
