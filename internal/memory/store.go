// Package memory keeps the companion's short-term interaction memory and
// answers recent-interaction queries for the emotion resolver.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Interaction is one user input and the companion's response.
type Interaction struct {
	Input     string    `json:"input"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Archiver receives every interaction and decides on its own whether it is
// worth keeping long-term. Persistence lives outside this module.
type Archiver interface {
	Archive(ctx context.Context, in Interaction) error
}

// NopArchiver discards everything.
type NopArchiver struct{}

// Archive implements Archiver.
func (NopArchiver) Archive(context.Context, Interaction) error { return nil }

// Config configures the Store.
type Config struct {
	// Capacity is the number of interactions retained (default: 10)
	Capacity int
	// MaxResponseChars truncates responses in Context output (default: 200)
	MaxResponseChars int
}

// DefaultConfig returns sensible defaults for short-term memory.
func DefaultConfig() Config {
	return Config{
		Capacity:         10,
		MaxResponseChars: 200,
	}
}

// Store is a bounded, concurrency-safe short-term memory.
type Store struct {
	mu           sync.RWMutex
	interactions []Interaction
	config       Config

	archiver Archiver
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// NewStore creates a Store. A nil archiver discards, a nil clock uses real time.
func NewStore(config Config, archiver Archiver, clock clockwork.Clock, logger zerolog.Logger) *Store {
	if config.Capacity <= 0 {
		config.Capacity = 10
	}
	if config.MaxResponseChars <= 0 {
		config.MaxResponseChars = 200
	}
	if archiver == nil {
		archiver = NopArchiver{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Store{
		interactions: make([]Interaction, 0, config.Capacity),
		config:       config,
		archiver:     archiver,
		clock:        clock,
		logger:       logger.With().Str("component", "memory").Logger(),
	}
}

// Add records an interaction, evicting the oldest once over capacity, and
// offers it to the archiver. An archiver failure is logged, never returned:
// short-term memory has already been updated.
func (s *Store) Add(ctx context.Context, input, response string) Interaction {
	in := Interaction{
		Input:     input,
		Response:  response,
		Timestamp: s.clock.Now(),
	}

	s.mu.Lock()
	s.interactions = append(s.interactions, in)
	if len(s.interactions) > s.config.Capacity {
		s.interactions = s.interactions[len(s.interactions)-s.config.Capacity:]
	}
	s.mu.Unlock()

	if err := s.archiver.Archive(ctx, in); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to archive interaction")
	}
	return in
}

// RecentInteractions returns up to the last n interactions, oldest first.
func (s *Store) RecentInteractions(n int) []Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.interactions) == 0 {
		return nil
	}
	start := max(len(s.interactions)-n, 0)
	out := make([]Interaction, len(s.interactions)-start)
	copy(out, s.interactions[start:])
	return out
}

// Context formats the last n interactions for a language-model prompt.
// Returns an empty string when memory is empty.
func (s *Store) Context(n int) string {
	recent := s.RecentInteractions(n)
	if len(recent) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Recent conversation:\n")
	for i, in := range recent {
		fmt.Fprintf(&sb, "User: %s\n", in.Input)
		fmt.Fprintf(&sb, "Companion: %s\n", truncate(in.Response, s.config.MaxResponseChars))
		if i < len(recent)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Len returns the number of stored interactions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.interactions)
}

// Clear removes all interactions.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = make([]Interaction, 0, s.config.Capacity)
}

// truncate cuts on a rune boundary.
func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
