// Package gesture turns conversation text into a bounded-duration gesture on
// the avatar engine.
package gesture

import (
	"math/rand/v2"
	"sync"

	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/normanking/cortexcompanion/internal/lexicon"
	"github.com/rs/zerolog"
)

// DefaultIntensity scales Trigger-initiated gestures.
const DefaultIntensity = 0.5

// Target receives gesture requests; *avatar.Engine implements it.
type Target interface {
	SetGesture(req avatar.GestureRequest)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRand fixes the random source used for the long-utterance fallback.
func WithRand(r *rand.Rand) Option {
	return func(res *Resolver) {
		res.rng = r
	}
}

// WithIntensity sets the intensity Trigger executes gestures at.
func WithIntensity(v float64) Option {
	return func(res *Resolver) {
		if v > 0 {
			res.intensity = v
		}
	}
}

// Resolver classifies text into a gesture and executes it.
type Resolver struct {
	table     *lexicon.Table[Bucket]
	target    Target
	logger    zerolog.Logger
	intensity float64

	mu      sync.Mutex
	rng     *rand.Rand
	current string
}

// NewResolver creates a resolver. target may be nil for classify-only use.
func NewResolver(target Target, logger zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		table:     lexicon.NewTable(Buckets, Keywords),
		target:    target,
		logger:    logger.With().Str("component", "gesture").Logger(),
		intensity: DefaultIntensity,
		current:   Idle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Buckets returns the cue buckets matched by text.
func (r *Resolver) Buckets(text string) []Bucket {
	return r.table.Matched(text)
}

// Classify picks a gesture for text. It never fails: text without cues
// resolves to a random conversational gesture when long, idle otherwise.
func (r *Resolver) Classify(text string) string {
	matched := make(map[Bucket]bool)
	for _, b := range r.table.Matched(text) {
		matched[b] = true
	}
	for _, p := range priority {
		if matched[p.bucket] {
			return p.gesture
		}
	}

	if lexicon.WordCount(text) > longUtterance {
		return fallbacks[r.intN(len(fallbacks))]
	}
	return Idle
}

func (r *Resolver) intN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng == nil {
		return rand.IntN(n)
	}
	return r.rng.IntN(n)
}

// Execute sends the named gesture to the target at intensity × the
// gesture's base intensity and returns the name actually executed.
func (r *Resolver) Execute(name string, intensity float64) string {
	name, cfg := Lookup(name)

	r.mu.Lock()
	r.current = name
	r.mu.Unlock()

	if r.target != nil {
		r.target.SetGesture(avatar.GestureRequest{
			Name:       name,
			BlendShape: cfg.BlendShape,
			Intensity:  intensity * cfg.BaseIntensity,
			Duration:   cfg.Duration,
			Head:       cfg.Head,
		})
	}

	r.logger.Debug().Str("gesture", name).Float64("intensity", intensity).Msg("Executing gesture")
	return name
}

// Trigger classifies text and executes the result at the resolver's
// intensity (DefaultIntensity unless overridden).
func (r *Resolver) Trigger(text string) string {
	return r.Execute(r.Classify(text), r.intensity)
}

// Current returns the last executed gesture name.
func (r *Resolver) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
