package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/normanking/cortexcompanion/internal/companion"
	"github.com/normanking/cortexcompanion/internal/emotion"
	"github.com/normanking/cortexcompanion/internal/gesture"
	"github.com/normanking/cortexcompanion/internal/lipsync"
	"github.com/normanking/cortexcompanion/internal/memory"
	"github.com/qmuntal/gltf"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCmd(t *testing.T) {
	cmd := newClassifyCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"Olá,", "estou", "feliz"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "emotion:  happy")
	assert.Contains(t, out.String(), "cues:     greeting")
	assert.Contains(t, out.String(), "gesture:  wave")
	assert.Contains(t, out.String(), "phonemes: o l a sil")
}

func TestInspectCmd(t *testing.T) {
	doc := gltf.NewDocument()
	doc.Meshes = []*gltf.Mesh{{Name: "Face", Extras: map[string]any{"targetNames": []any{"happy", "aa"}}}}
	path := filepath.Join(t.TempDir(), "face.gltf")
	require.NoError(t, gltf.Save(doc, path))

	dir := t.TempDir()
	cmd := newInspectCmd(&dir)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "meshes:      1")
	assert.Contains(t, out.String(), "supported:   [happy aa]")
	assert.Contains(t, out.String(), "missing:")
}

func TestInspectCmdWithoutModel(t *testing.T) {
	dir := t.TempDir()
	cmd := newInspectCmd(&dir)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model_path")
}

func TestCommand(t *testing.T) {
	clock := clockwork.NewFakeClock()
	engine := avatar.NewEngine(avatar.DefaultEngineConfig(), nopRenderer{}, clock, zerolog.Nop())
	store := memory.NewStore(memory.DefaultConfig(), nil, clock, zerolog.Nop())
	sched := lipsync.NewScheduler(lipsync.DefaultConfig(), engine, clock, zerolog.Nop())
	comp, err := companion.New(companion.Deps{
		Engine:   engine,
		Brain:    companion.EchoBrain{},
		Memory:   store,
		Emotions: emotion.NewResolver(emotion.DefaultConfig(), store, engine, clock, zerolog.Nop()),
		Gestures: gesture.NewResolver(engine, zerolog.Nop()),
		LipSync:  sched,
	}, clock, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, command("/people 2", comp, engine))
	assert.Equal(t, avatar.PostureEngaged, engine.Snapshot().Pose.Posture)

	require.NoError(t, command("/emotion sad", comp, engine))
	e, _ := engine.CurrentEmotion()
	assert.Equal(t, avatar.EmotionSad, e)

	require.NoError(t, command("/stop", comp, engine))

	assert.Error(t, command("/people many", comp, engine))
	assert.ErrorIs(t, command("/emotion bored", comp, engine), avatar.ErrUnknownEmotion)
	assert.Error(t, command("/dance", comp, engine))
}

type nopRenderer struct{}

func (nopRenderer) ApplyBlendShapes(map[avatar.Channel]float64) {}
func (nopRenderer) ApplyPose(avatar.Pose)                       {}
