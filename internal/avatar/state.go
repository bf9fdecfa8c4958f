// Package avatar owns the avatar's blend-shape and pose state and merges the
// emotion, gesture and viseme layers that write into it.
package avatar

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrUnknownEmotion is returned when an emotion name is not recognised.
var ErrUnknownEmotion = errors.New("unknown emotion")

// ErrUnknownPosture is returned when a posture name is not recognised.
var ErrUnknownPosture = errors.New("unknown posture")

// Emotion is the avatar's emotional category
type Emotion string

const (
	EmotionHappy     Emotion = "happy"
	EmotionSad       Emotion = "sad"
	EmotionAngry     Emotion = "angry"
	EmotionSurprised Emotion = "surprised"
	EmotionConfused  Emotion = "confused"
	EmotionExcited   Emotion = "excited"
	EmotionNeutral   Emotion = "neutral"
)

// Emotions lists every category in tie-break order: when two categories score
// the same, the one listed first wins.
var Emotions = []Emotion{
	EmotionHappy,
	EmotionSad,
	EmotionAngry,
	EmotionSurprised,
	EmotionConfused,
	EmotionExcited,
	EmotionNeutral,
}

// emotionChannels maps each category onto the emotion channel that expresses it.
var emotionChannels = map[Emotion]Channel{
	EmotionHappy:     ChannelHappy,
	EmotionSad:       ChannelSad,
	EmotionAngry:     ChannelAngry,
	EmotionSurprised: ChannelSurprised,
	EmotionConfused:  ChannelNeutral,
	EmotionExcited:   ChannelHappy,
	EmotionNeutral:   ChannelNeutral,
}

// Channel returns the emotion channel used to express e. Unknown categories
// fall back to neutral.
func (e Emotion) Channel() Channel {
	if c, ok := emotionChannels[e]; ok {
		return c
	}
	return ChannelNeutral
}

// Valid reports whether e is one of the known categories.
func (e Emotion) Valid() bool {
	_, ok := emotionChannels[e]
	return ok
}

// ParseEmotion resolves a case-insensitive emotion name.
func ParseEmotion(name string) (Emotion, error) {
	e := Emotion(strings.ToLower(strings.TrimSpace(name)))
	if !e.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEmotion, name)
	}
	return e, nil
}

// Posture is the avatar's body stance
type Posture string

const (
	PostureRelaxed   Posture = "relaxed"
	PostureAttentive Posture = "attentive"
	PostureEngaged   Posture = "engaged"
)

// PostureForAudience picks a stance from the number of people in view.
func PostureForAudience(people int) Posture {
	switch {
	case people <= 0:
		return PostureRelaxed
	case people == 1:
		return PostureAttentive
	default:
		return PostureEngaged
	}
}

// ParsePosture resolves a case-insensitive posture name.
func ParsePosture(name string) (Posture, error) {
	p := Posture(strings.ToLower(strings.TrimSpace(name)))
	switch p {
	case PostureRelaxed, PostureAttentive, PostureEngaged:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPosture, name)
}

// Pose holds the non-blend-shape parameters of the avatar.
type Pose struct {
	// Head is pitch, yaw, roll in radians.
	Head      mgl64.Vec3 `json:"head"`
	Posture   Posture    `json:"posture"`
	Blink     float64    `json:"blink"`
	Breathing float64    `json:"breathing"`
}

// State is the complete render state: channel intensities plus pose.
type State struct {
	Channels map[Channel]float64 `json:"channels"`
	Pose     Pose                `json:"pose"`
}

// NewState returns a state with every known channel at zero and a relaxed pose.
func NewState() State {
	channels := make(map[Channel]float64, len(AllChannels))
	for _, c := range AllChannels {
		channels[c] = 0
	}
	return State{
		Channels: channels,
		Pose:     Pose{Posture: PostureRelaxed},
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	channels := make(map[Channel]float64, len(s.Channels))
	for c, v := range s.Channels {
		channels[c] = v
	}
	return State{Channels: channels, Pose: s.Pose}
}

// Get returns the intensity of c, zero for unknown channels.
func (s State) Get(c Channel) float64 {
	return s.Channels[c]
}

// set writes a known channel, clamping to [0,1]. Unknown channels are refused.
func (s State) set(c Channel, v float64) bool {
	if !c.Valid() {
		return false
	}
	s.Channels[c] = clamp01(v)
	return true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
