package render

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/qmuntal/gltf"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHubBroadcastsEngineFrames(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()
	conn := dialHub(t, hub)

	engine := avatar.NewEngine(avatar.DefaultEngineConfig(), hub, clockwork.NewFakeClock(), zerolog.Nop())
	engine.SetEmotion(avatar.EmotionHappy, 0.8)
	engine.SetPosture(avatar.PostureEngaged)

	first := readFrame(t, conn)
	assert.Equal(t, uint64(1), first.Seq)
	assert.InDelta(t, 0.8, first.Channels[avatar.ChannelHappy], 1e-9)
	assert.InDelta(t, 0.56, first.Channels[avatar.ChannelAA], 1e-9)

	second := readFrame(t, conn)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, avatar.PostureEngaged, second.Pose.Posture)
}

func TestHubSendsLatestFrameOnConnect(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()

	hub.ApplyBlendShapes(map[avatar.Channel]float64{avatar.ChannelSad: 0.4})
	hub.ApplyPose(avatar.Pose{Posture: avatar.PostureAttentive})

	conn := dialHub(t, hub)
	f := readFrame(t, conn)
	assert.Equal(t, uint64(1), f.Seq)
	assert.InDelta(t, 0.4, f.Channels[avatar.ChannelSad], 1e-9)
	assert.Equal(t, avatar.PostureAttentive, f.Pose.Posture)
}

func TestHubDropsDisconnectedViewers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()
	conn := dialHub(t, hub)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)

	// broadcasting with nobody attached is fine
	hub.ApplyPose(avatar.Pose{})
}

func TestHubClose(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	dialHub(t, hub)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
	hub.ApplyPose(avatar.Pose{})
}

type countingRenderer struct{ shapes, poses int }

func (c *countingRenderer) ApplyBlendShapes(map[avatar.Channel]float64) { c.shapes++ }
func (c *countingRenderer) ApplyPose(avatar.Pose)                       { c.poses++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &countingRenderer{}, &countingRenderer{}
	m := Multi{a, b}

	m.ApplyBlendShapes(nil)
	m.ApplyPose(avatar.Pose{})
	m.ApplyPose(avatar.Pose{})

	assert.Equal(t, 1, a.shapes)
	assert.Equal(t, 2, b.poses)
}

func TestLogRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogRenderer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	r.ApplyBlendShapes(map[avatar.Channel]float64{avatar.ChannelHappy: 0.5, avatar.ChannelSad: 0})
	r.ApplyPose(avatar.Pose{Posture: avatar.PostureRelaxed, Blink: 1})

	out := buf.String()
	assert.Contains(t, out, `"happy":0.5`)
	assert.NotContains(t, out, `"sad"`)
	assert.Contains(t, out, `"posture":"relaxed"`)

	buf.Reset()
	quiet := NewLogRenderer(zerolog.New(&buf).Level(zerolog.InfoLevel))
	quiet.ApplyPose(avatar.Pose{})
	assert.Empty(t, buf.String())
}

func TestInspectModel(t *testing.T) {
	doc := gltf.NewDocument()
	doc.Meshes = []*gltf.Mesh{
		{Name: "Face", Extras: map[string]any{"targetNames": []any{"Happy", "aa", "Blink"}}},
		{Name: "Body"},
	}
	doc.Extensions = gltf.Extensions{
		"VRM": map[string]any{
			"blendShapeMaster": map[string]any{
				"blendShapeGroups": []any{
					map[string]any{"name": "Joy", "presetName": "joy"},
					map[string]any{"name": "A", "presetName": "a"},
					map[string]any{"name": "Custom", "presetName": "unknown"},
				},
			},
		},
		"VRMC_vrm": map[string]any{
			"expressions": map[string]any{
				"preset": map[string]any{"sad": map[string]any{}, "oh": map[string]any{}},
			},
		},
	}

	path := filepath.Join(t.TempDir(), "avatar.gltf")
	require.NoError(t, gltf.Save(doc, path))

	report, err := InspectModel(path)
	require.NoError(t, err)

	assert.Equal(t, path, report.Path)
	assert.Equal(t, 2, report.Meshes)
	assert.Equal(t, []string{"Happy", "aa", "Blink"}, report.MorphTargets)
	assert.Subset(t, report.Expressions, []string{"joy", "Joy", "a", "Custom", "sad", "oh"})
	assert.NotContains(t, report.Expressions, "unknown")

	assert.ElementsMatch(t, []avatar.Channel{
		avatar.ChannelHappy, avatar.ChannelSad, avatar.ChannelAA, avatar.ChannelOH,
	}, report.Supported)
	assert.Contains(t, report.Missing, avatar.ChannelNeutral)
	assert.False(t, report.Complete())
}

func TestInspectModelMissingFile(t *testing.T) {
	_, err := InspectModel(filepath.Join(t.TempDir(), "nope.vrm"))
	assert.Error(t, err)
}
