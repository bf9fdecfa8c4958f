package gesture

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/normanking/cortexcompanion/internal/avatar"
)

// Gesture names.
const (
	Wave    = "wave"
	Nod     = "nod"
	Shake   = "shake"
	Think   = "think"
	Explain = "explain"
	Excite  = "excite"
	Idle    = avatar.GestureIdle
)

// Bucket is a category of conversational cue.
type Bucket int

const (
	Greeting Bucket = iota
	Farewell
	Agreement
	Disagreement
	Thoughtful
	Explanation
	Enthusiasm
)

var bucketNames = [...]string{"greeting", "farewell", "agreement", "disagreement", "thoughtful", "explanation", "enthusiasm"}

func (b Bucket) String() string {
	if int(b) < len(bucketNames) {
		return bucketNames[b]
	}
	return "unknown"
}

// Buckets lists every bucket.
var Buckets = []Bucket{Greeting, Farewell, Agreement, Disagreement, Thoughtful, Explanation, Enthusiasm}

// Keywords are the stock cue words per bucket.
var Keywords = map[Bucket][]string{
	Greeting:     {"olá", "oi", "e aí", "bom dia", "boa tarde", "boa noite"},
	Farewell:     {"tchau", "até mais", "até logo", "adeus"},
	Agreement:    {"sim", "claro", "certamente", "concordo", "exato"},
	Disagreement: {"não", "discordo", "não acho", "errado"},
	Thoughtful:   {"pensar", "considerar", "ponderar", "refletir"},
	Explanation:  {"explicar", "mostrar", "demonstrar", "ensinar"},
	Enthusiasm:   {"incrível", "maravilhoso", "fantástico", "surpreendente"},
}

// priority resolves matched buckets to a gesture; the first rule with a
// matched bucket wins.
var priority = []struct {
	bucket  Bucket
	gesture string
}{
	{Greeting, Wave},
	{Farewell, Wave},
	{Enthusiasm, Excite},
	{Thoughtful, Think},
	{Explanation, Explain},
	{Agreement, Nod},
	{Disagreement, Shake},
}

// fallbacks are picked at random for long utterances with no cue.
var fallbacks = []string{Nod, Explain, Think}

// longUtterance is the word count above which the random fallback applies.
const longUtterance = 8

// Config is a gesture's fixed shape.
type Config struct {
	Duration      time.Duration
	BlendShape    avatar.Channel
	BaseIntensity float64
	// Head is the pitch, yaw, roll offset held for the gesture.
	Head mgl64.Vec3
}

// Table maps every gesture name to its configuration.
var Table = map[string]Config{
	Wave:    {Duration: 2 * time.Second, BlendShape: avatar.ChannelHappy, BaseIntensity: 0.7},
	Nod:     {Duration: 1500 * time.Millisecond, BlendShape: avatar.ChannelNeutral, BaseIntensity: 0.8, Head: mgl64.Vec3{0.15, 0, 0}},
	Shake:   {Duration: 1500 * time.Millisecond, BlendShape: avatar.ChannelNeutral, BaseIntensity: 0.8, Head: mgl64.Vec3{0, 0.2, 0}},
	Think:   {Duration: 3 * time.Second, BlendShape: avatar.ChannelNeutral, BaseIntensity: 0.6, Head: mgl64.Vec3{-0.05, 0, 0.1}},
	Explain: {Duration: 2500 * time.Millisecond, BlendShape: avatar.ChannelAA, BaseIntensity: 0.7},
	Excite:  {Duration: 2 * time.Second, BlendShape: avatar.ChannelHappy, BaseIntensity: 0.9},
	Idle:    {Duration: 0, BlendShape: avatar.ChannelNeutral, BaseIntensity: 0.5},
}

// Lookup returns the configuration for name, coercing unknown names to idle.
func Lookup(name string) (string, Config) {
	if cfg, ok := Table[name]; ok {
		return name, cfg
	}
	return Idle, Table[Idle]
}
