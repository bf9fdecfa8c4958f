package logging

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_HistoryCapturesComponentLogs(t *testing.T) {
	l, err := New(&Config{Level: "debug", MaxHistory: 10})
	require.NoError(t, err)
	defer l.Close()

	log := l.Component("engine")
	log.Info().Str("emotion", "happy").Float64("intensity", 0.8).Msg("Emotion updated")
	log.Error().Err(errors.New("boom")).Msg("Render failed")

	h := l.History(2)
	require.Len(t, h, 2)
	assert.Equal(t, "info", h[0].Level)
	assert.Equal(t, "engine", h[0].Component)
	assert.Equal(t, "Emotion updated", h[0].Message)
	assert.Equal(t, "emotion=happy, intensity=0.8", h[0].Data)
	assert.Equal(t, "error", h[1].Level)
	assert.Equal(t, "error=boom", h[1].Data)
}

func TestHistoryIsBounded(t *testing.T) {
	l, err := New(&Config{Level: "info", MaxHistory: 3})
	require.NoError(t, err)

	log := l.Component("test")
	for i := 0; i < 5; i++ {
		log.Info().Int("i", i).Msg("tick")
	}

	h := l.History(0)
	require.Len(t, h, 3)
	assert.Equal(t, "i=2", h[0].Data)
	assert.Equal(t, "i=4", h[2].Data)
}

func TestLevelFiltering(t *testing.T) {
	l, err := New(&Config{Level: "warn"})
	require.NoError(t, err)

	{
		c := l.Component("test")
		c.Info().Msg("hidden")
	}
	assert.Empty(t, l.History(0))

	require.NoError(t, l.SetLevel("debug"))
	{
		c := l.Component("test")
		c.Debug().Msg("shown")
	}
	require.Len(t, l.History(0), 1)

	assert.Error(t, l.SetLevel("loud"))
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := New(&Config{Level: "loud"})
	require.NoError(t, err)

	{
		c := l.Component("test")
		c.Debug().Msg("hidden")
	}
	{
		c := l.Component("test")
		c.Info().Msg("shown")
	}
	require.Len(t, l.History(0), 1)
	assert.Equal(t, "shown", l.History(0)[0].Message)
}

func TestSetOnLog(t *testing.T) {
	l, err := New(&Config{Level: "info"})
	require.NoError(t, err)

	got := make(chan LogEntry, 1)
	l.SetOnLog(func(e LogEntry) { got <- e })
	{
		c := l.Component("bus")
		c.Warn().Msg("slow handler")
	}

	select {
	case e := <-got:
		assert.Equal(t, "bus", e.Component)
		assert.Equal(t, "warn", e.Level)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	l, err := New(&Config{LogDir: dir, Level: "info"})
	require.NoError(t, err)

	{
		c := l.Component("engine")
		c.Info().Msg("written to disk")
	}
	require.NoError(t, l.Close())

	require.True(t, strings.HasPrefix(l.LogPath(), dir))
	data, err := os.ReadFile(l.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"written to disk"`)
	assert.Contains(t, string(data), `"app":"cortexcompanion"`)
}
