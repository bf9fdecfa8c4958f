package avatar

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownChannel is returned when a blend-shape name is not part of the
// closed channel set.
var ErrUnknownChannel = errors.New("unknown blend-shape channel")

// Channel names a blend-shape target on the avatar.
type Channel string

// Emotion channels.
const (
	ChannelNeutral   Channel = "neutral"
	ChannelHappy     Channel = "happy"
	ChannelSad       Channel = "sad"
	ChannelAngry     Channel = "angry"
	ChannelSurprised Channel = "surprised"
)

// Viseme channels.
const (
	ChannelAA Channel = "aa"
	ChannelIH Channel = "ih"
	ChannelOU Channel = "ou"
	ChannelEE Channel = "ee"
	ChannelOH Channel = "oh"
)

// ChannelGroup identifies which layer owns a channel.
type ChannelGroup int

const (
	GroupUnknown ChannelGroup = iota
	GroupEmotion
	GroupViseme
)

func (g ChannelGroup) String() string {
	switch g {
	case GroupEmotion:
		return "emotion"
	case GroupViseme:
		return "viseme"
	default:
		return "unknown"
	}
}

// EmotionChannels lists the emotion group in a fixed order.
var EmotionChannels = []Channel{ChannelNeutral, ChannelHappy, ChannelSad, ChannelAngry, ChannelSurprised}

// VisemeChannels lists the viseme group in a fixed order.
var VisemeChannels = []Channel{ChannelAA, ChannelIH, ChannelOU, ChannelEE, ChannelOH}

// AllChannels lists every known channel, emotion group first.
var AllChannels = append(append([]Channel{}, EmotionChannels...), VisemeChannels...)

var channelGroups = func() map[Channel]ChannelGroup {
	m := make(map[Channel]ChannelGroup, len(AllChannels))
	for _, c := range EmotionChannels {
		m[c] = GroupEmotion
	}
	for _, c := range VisemeChannels {
		m[c] = GroupViseme
	}
	return m
}()

// Group reports the layer that owns c.
func (c Channel) Group() ChannelGroup {
	return channelGroups[c]
}

// Valid reports whether c is part of the closed channel set.
func (c Channel) Valid() bool {
	return c.Group() != GroupUnknown
}

// IsViseme reports whether c belongs to the viseme group.
func (c Channel) IsViseme() bool {
	return c.Group() == GroupViseme
}

// IsEmotion reports whether c belongs to the emotion group.
func (c Channel) IsEmotion() bool {
	return c.Group() == GroupEmotion
}

// ParseChannel resolves a case-insensitive channel name.
func ParseChannel(name string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(name)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return c, nil
}
