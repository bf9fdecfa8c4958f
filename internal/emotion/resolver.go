// Package emotion classifies conversation text into an emotion category and
// pushes the result onto the avatar engine.
package emotion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/normanking/cortexcompanion/internal/lexicon"
	"github.com/normanking/cortexcompanion/internal/memory"
	"github.com/rs/zerolog"
)

// Source identifies who said the classified text.
type Source string

const (
	SourceUser      Source = "user"
	SourceCompanion Source = "companion"
)

// Signal is one recorded classification.
type Signal struct {
	ID        string         `json:"id"`
	Category  avatar.Emotion `json:"category"`
	Intensity float64        `json:"intensity"`
	Source    Source         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
}

// InteractionSource answers recent-interaction queries.
type InteractionSource interface {
	RecentInteractions(n int) []memory.Interaction
}

// Target receives emotion updates; *avatar.Engine implements it.
type Target interface {
	SetEmotion(emotion avatar.Emotion, intensity float64)
	CurrentEmotion() (avatar.Emotion, float64)
}

// Config tunes the resolver.
type Config struct {
	// HistoryCapacity bounds the signal history (default: 100)
	HistoryCapacity int
	// RecentWindow is how many interactions feed the history bias (default: 5)
	RecentWindow int
	// TransitionFloor is the minimum intensity when the category changes (default: 0.3)
	TransitionFloor float64

	TimeWeights    map[TimeOfDay]Weights
	HistoryWeights map[Sentiment]Weights
}

// DefaultConfig returns the stock resolver tuning.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity: 100,
		RecentWindow:    5,
		TransitionFloor: 0.3,
		TimeWeights:     DefaultTimeWeights(),
		HistoryWeights:  DefaultHistoryWeights(),
	}
}

// Resolver scores text against the keyword table plus time-of-day and
// interaction-history bias.
type Resolver struct {
	cfg    Config
	table  *lexicon.Table[avatar.Emotion]
	memory InteractionSource
	target Target
	clock  clockwork.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	history []Signal
}

// NewResolver creates a resolver. mem and target may be nil: with no memory
// the history bias is always neutral, with no target Update only records.
func NewResolver(cfg Config, mem InteractionSource, target Target, clock clockwork.Clock, logger zerolog.Logger) *Resolver {
	def := DefaultConfig()
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = def.HistoryCapacity
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = def.RecentWindow
	}
	if cfg.TransitionFloor <= 0 {
		cfg.TransitionFloor = def.TransitionFloor
	}
	if cfg.TimeWeights == nil {
		cfg.TimeWeights = def.TimeWeights
	}
	if cfg.HistoryWeights == nil {
		cfg.HistoryWeights = def.HistoryWeights
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Resolver{
		cfg:    cfg,
		table:  defaultTable,
		memory: mem,
		target: target,
		clock:  clock,
		logger: logger.With().Str("component", "emotion").Logger(),
	}
}

// Classify maps text to a category and intensity. It never fails: text with
// no signal at all resolves to (neutral, 0.5).
func (r *Resolver) Classify(text string) (avatar.Emotion, float64) {
	scores := r.keywordScores(text)
	for e, w := range r.cfg.TimeWeights[r.TimeOfDay()] {
		scores[e] += w
	}
	for e, w := range r.cfg.HistoryWeights[r.HistorySentiment()] {
		scores[e] += w
	}
	return pick(scores)
}

// keywordScores counts keyword hits per category, with every category present.
func (r *Resolver) keywordScores(text string) map[avatar.Emotion]float64 {
	scores := make(map[avatar.Emotion]float64, len(avatar.Emotions))
	for _, e := range avatar.Emotions {
		scores[e] = 0
	}
	for e, n := range r.table.Count(text) {
		scores[e] = float64(n)
	}
	return scores
}

// pick returns the strict maximum, ties going to the category listed first
// in avatar.Emotions. Weights for categories outside the closed set are
// ignored.
func pick(scores map[avatar.Emotion]float64) (avatar.Emotion, float64) {
	var total, best float64
	winner := avatar.EmotionNeutral
	for _, e := range avatar.Emotions {
		s := scores[e]
		total += s
		if s > best {
			best = s
			winner = e
		}
	}
	if best == 0 {
		return avatar.EmotionNeutral, 0.5
	}
	return winner, min(1, 2*best/total)
}

// TimeOfDay returns the current wall-clock bucket.
func (r *Resolver) TimeOfDay() TimeOfDay {
	return TimeOfDayFor(r.clock.Now().Hour())
}

// HistorySentiment is the majority mood of the recent interactions' inputs.
// Inputs are classified on keywords alone so this never recurses.
func (r *Resolver) HistorySentiment() Sentiment {
	if r.memory == nil {
		return Neutral
	}
	recent := r.memory.RecentInteractions(r.cfg.RecentWindow)
	if len(recent) == 0 {
		return Neutral
	}
	emotions := make([]avatar.Emotion, 0, len(recent))
	for _, in := range recent {
		e, _ := pick(r.keywordScores(in.Input))
		emotions = append(emotions, e)
	}
	return majority(emotions)
}

// Update classifies text, smooths the transition against the target's
// current emotion, records the signal and applies it.
func (r *Resolver) Update(_ context.Context, text string, source Source) Signal {
	category, intensity := r.Classify(text)

	if r.target != nil {
		if current, _ := r.target.CurrentEmotion(); current != category {
			intensity = max(r.cfg.TransitionFloor, intensity)
		}
	}

	sig := Signal{
		ID:        uuid.NewString(),
		Category:  category,
		Intensity: intensity,
		Source:    source,
		Timestamp: r.clock.Now(),
	}
	r.record(sig)

	if r.target != nil {
		r.target.SetEmotion(category, intensity)
	}

	r.logger.Debug().
		Str("emotion", string(category)).
		Float64("intensity", intensity).
		Str("source", string(source)).
		Msg("Emotion updated")
	return sig
}

func (r *Resolver) record(sig Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, sig)
	if over := len(r.history) - r.cfg.HistoryCapacity; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
}

// History returns a copy of the recorded signals, oldest first.
func (r *Resolver) History() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Signal, len(r.history))
	copy(out, r.history)
	return out
}

// Trend reports the majority sentiment of the last n signals.
func (r *Resolver) Trend(n int) Sentiment {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := max(len(r.history)-n, 0)
	emotions := make([]avatar.Emotion, 0, len(r.history)-start)
	for _, s := range r.history[start:] {
		emotions = append(emotions, s.Category)
	}
	return majority(emotions)
}
