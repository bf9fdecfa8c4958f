package lipsync

import (
	"strings"
	"time"
	"unicode"

	"github.com/normanking/cortexcompanion/internal/avatar"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Silence is the phoneme emitted for whitespace.
const Silence = "sil"

// DefaultPhonemeDuration is used when there are no phonemes to divide the
// audio between.
const DefaultPhonemeDuration = 100 * time.Millisecond

// phonemeVisemes maps every recognised phoneme onto a mouth shape. Closed-lip
// phonemes and silence map to "" and only dampen the mouth.
var phonemeVisemes = map[string]avatar.Channel{
	"a": avatar.ChannelAA,
	"e": avatar.ChannelEE,
	"i": avatar.ChannelIH,
	"o": avatar.ChannelOH,
	"u": avatar.ChannelOU,

	"b": "", "p": "", "m": "",
	Silence: "",

	"f": avatar.ChannelIH, "v": avatar.ChannelIH,
	"d": avatar.ChannelIH, "t": avatar.ChannelIH,
	"n": avatar.ChannelIH, "l": avatar.ChannelIH,

	"s": avatar.ChannelEE, "z": avatar.ChannelEE,
	"ʃ": avatar.ChannelEE, "ʒ": avatar.ChannelEE,

	"r": avatar.ChannelOU,

	"k": avatar.ChannelAA, "g": avatar.ChannelAA, "h": avatar.ChannelAA,
}

// VisemeFor returns the mouth shape for a phoneme, or "" for rest phonemes
// and anything unrecognised.
func VisemeFor(phoneme string) avatar.Channel {
	return phonemeVisemes[phoneme]
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Phonemes converts text to a simplified phoneme stream: recognised letters
// map to themselves after case and accent folding, whitespace maps to
// silence, everything else is dropped.
func Phonemes(text string) []string {
	folded, _, err := transform.String(stripMarks, strings.ToLower(text))
	if err != nil {
		folded = strings.ToLower(text)
	}

	var out []string
	for _, r := range folded {
		if unicode.IsSpace(r) {
			out = append(out, Silence)
			continue
		}
		p := string(r)
		if _, ok := phonemeVisemes[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Event is one timed mouth movement.
type Event struct {
	Phoneme     string
	Viseme      avatar.Channel
	StartOffset time.Duration
	Duration    time.Duration
}

// Schedule spreads phonemes uniformly over the audio duration.
func Schedule(phonemes []string, audio time.Duration) []Event {
	if len(phonemes) == 0 {
		return nil
	}
	per := DefaultPhonemeDuration
	if audio >= 0 {
		per = audio / time.Duration(len(phonemes))
	}

	events := make([]Event, len(phonemes))
	for i, p := range phonemes {
		events[i] = Event{
			Phoneme:     p,
			Viseme:      VisemeFor(p),
			StartOffset: time.Duration(i) * per,
			Duration:    per,
		}
	}
	return events
}
