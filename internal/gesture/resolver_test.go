package gesture

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/jonboulle/clockwork"
	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twelveWords = "o gato subiu no telhado e ficou lá a tarde toda quieto"

type fakeTarget struct {
	mu   sync.Mutex
	reqs []avatar.GestureRequest
}

func (f *fakeTarget) SetGesture(req avatar.GestureRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"greeting only", "olá", Wave},
		{"greeting phrase", "Bom dia, pessoal", Wave},
		{"farewell", "tchau tchau", Wave},
		{"greeting beats enthusiasm", "oi, que incrível", Wave},
		{"enthusiasm beats agreement", "sim, fantástico!", Excite},
		{"thoughtful beats explanation", "vou pensar e depois explicar", Think},
		{"explanation beats agreement", "claro, posso mostrar", Explain},
		{"agreement", "Exato.", Nod},
		{"agreement beats disagreement", "não, claro que sim", Nod},
		{"disagreement", "Discordo totalmente", Shake},
		{"keyword inside word", "simples", Idle},
		{"short unmatched", "o céu é azul", Idle},
		{"eight words is not long", "o gato subiu no telhado e ficou lá", Idle},
		{"empty", "", Idle},
	}

	r := NewResolver(nil, zerolog.Nop())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.Classify(tc.text))
		})
	}
}

func TestClassify_LongUnmatchedPicksConversationalGesture(t *testing.T) {
	r := NewResolver(nil, zerolog.Nop())

	seen := make(map[string]bool)
	for i := 0; i < 300; i++ {
		got := r.Classify(twelveWords)
		require.Contains(t, []string{Nod, Explain, Think}, got)
		seen[got] = true
	}
	assert.Len(t, seen, 3, "fallback is uniform over all three")
}

func TestClassify_WithRandIsDeterministic(t *testing.T) {
	a := NewResolver(nil, zerolog.Nop(), WithRand(rand.New(rand.NewPCG(7, 11))))
	b := NewResolver(nil, zerolog.Nop(), WithRand(rand.New(rand.NewPCG(7, 11))))

	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Classify(twelveWords), b.Classify(twelveWords))
	}
}

func TestBuckets(t *testing.T) {
	r := NewResolver(nil, zerolog.Nop())
	assert.Equal(t, []Bucket{Greeting, Agreement}, r.Buckets("oi! sim"))
	assert.Equal(t, "thoughtful", Thoughtful.String())
	assert.Equal(t, "unknown", Bucket(99).String())
}

func TestExecute(t *testing.T) {
	target := &fakeTarget{}
	r := NewResolver(target, zerolog.Nop())

	got := r.Execute(Nod, 0.5)

	assert.Equal(t, Nod, got)
	require.Len(t, target.reqs, 1)
	req := target.reqs[0]
	assert.Equal(t, Nod, req.Name)
	assert.Equal(t, avatar.ChannelNeutral, req.BlendShape)
	assert.InDelta(t, 0.4, req.Intensity, 1e-9)
	assert.Equal(t, 1500*time.Millisecond, req.Duration)
	assert.Equal(t, mgl64.Vec3{0.15, 0, 0}, req.Head)
	assert.Equal(t, Nod, r.Current())
}

func TestExecute_UnknownFallsBackToIdle(t *testing.T) {
	target := &fakeTarget{}
	r := NewResolver(target, zerolog.Nop())

	got := r.Execute("moonwalk", 1)

	assert.Equal(t, Idle, got)
	require.Len(t, target.reqs, 1)
	assert.Equal(t, Idle, target.reqs[0].Name)
	assert.Equal(t, time.Duration(0), target.reqs[0].Duration)
}

func TestTrigger_UsesConfiguredIntensity(t *testing.T) {
	target := &fakeTarget{}
	r := NewResolver(target, zerolog.Nop(), WithIntensity(1))

	assert.Equal(t, Excite, r.Trigger("Isso é fantástico"))
	require.Len(t, target.reqs, 1)
	assert.InDelta(t, 0.9, target.reqs[0].Intensity, 1e-9)

	r = NewResolver(target, zerolog.Nop(), WithIntensity(0))
	r.Trigger("claro")
	assert.InDelta(t, 0.4, target.reqs[1].Intensity, 1e-9)
}

func TestTableChannelsAreKnown(t *testing.T) {
	for name, cfg := range Table {
		assert.True(t, cfg.BlendShape.Valid(), "gesture %s", name)
		assert.Greater(t, cfg.BaseIntensity, 0.0, "gesture %s", name)
	}
	for _, p := range priority {
		_, ok := Table[p.gesture]
		assert.True(t, ok, p.gesture)
	}
}

func TestTrigger_DrivesEngine(t *testing.T) {
	clock := clockwork.NewFakeClock()
	engine := avatar.NewEngine(avatar.DefaultEngineConfig(), nil, clock, zerolog.Nop())
	r := NewResolver(engine, zerolog.Nop())

	assert.Equal(t, Wave, r.Trigger("olá"))

	g := engine.ActiveGesture()
	assert.Equal(t, Wave, g.Name)
	assert.Equal(t, clock.Now().Add(2*time.Second), g.End)
	assert.InDelta(t, 0.35, engine.Snapshot().Get(avatar.ChannelHappy), 1e-9)

	clock.Advance(2*time.Second + time.Millisecond)
	engine.Tick()
	assert.Equal(t, Idle, engine.ActiveGesture().Name)
	assert.Equal(t, 0.0, engine.Snapshot().Get(avatar.ChannelHappy))
}
