package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/normanking/cortexcompanion/internal/emotion"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := NewLoader(dir, zerolog.Nop())
	require.NoError(t, err)
	return l, dir
}

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 50*time.Millisecond, cfg.Avatar.TickInterval)
	assert.Equal(t, 0.3, cfg.Avatar.VisemeDecayStep)
	assert.Equal(t, 2*time.Second, cfg.Avatar.BlinkPeriod)
	assert.Equal(t, 100, cfg.Emotion.HistoryCapacity)
	assert.Equal(t, 10*time.Millisecond, cfg.LipSync.PollInterval)
	assert.Equal(t, 10, cfg.Memory.Capacity)
	assert.Len(t, cfg.Avatar.Couplings, 2)
}

func TestLoad_WritesDefaultsWhenMissing(t *testing.T) {
	l, dir := newTestLoader(t)

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
	assert.FileExists(t, filepath.Join(dir, "config.yaml"))
	assert.Equal(t, cfg, l.Current())
}

func TestLoad_ReadsFile(t *testing.T) {
	l, dir := newTestLoader(t)
	writeConfig(t, dir, `
avatar:
  tick_interval: 20ms
  couplings:
    - emotion: sad
      channel: oh
      factor: 0.5
      max: 0.4
lipsync:
  chars_per_second: 20
log:
  level: debug
`)

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 20*time.Millisecond, cfg.Avatar.TickInterval)
	assert.Equal(t, []avatar.Coupling{{Emotion: avatar.EmotionSad, Channel: avatar.ChannelOH, Factor: 0.5, Max: 0.4}}, cfg.Avatar.Couplings)
	assert.Equal(t, 20.0, cfg.LipSync.CharsPerSec)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 0.25, cfg.Avatar.BlinkDuty, "unset keys keep defaults")
	assert.Equal(t, filepath.Join(dir, "config.yaml"), l.ConfigFileUsed())
}

func TestLoad_EmotionBias(t *testing.T) {
	l, dir := newTestLoader(t)
	writeConfig(t, dir, `
emotion:
  time_bias:
    afternoon:
      neutral: 0.1
  history_bias:
    neutral:
      neutral: 0.1
`)

	cfg, err := l.Load()
	require.NoError(t, err)

	rc := cfg.Emotion.ResolverConfig()
	assert.Equal(t, emotion.Weights{avatar.EmotionNeutral: 0.1}, rc.TimeWeights[emotion.Afternoon])
	assert.Equal(t, emotion.Weights{avatar.EmotionHappy: 0.1}, rc.TimeWeights[emotion.Morning], "other buckets keep defaults")
	assert.Equal(t, emotion.Weights{avatar.EmotionNeutral: 0.1}, rc.HistoryWeights[emotion.Neutral])
	assert.Empty(t, DefaultConfig().Emotion.ResolverConfig().TimeWeights[emotion.Afternoon])
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	l, dir := newTestLoader(t)
	writeConfig(t, dir, "avatar:\n  tick_interval: 20ms\n")
	t.Setenv("CORTEXCOMPANION_AVATAR_TICK_INTERVAL", "30ms")
	t.Setenv("CORTEXCOMPANION_MEMORY_CAPACITY", "4")

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Millisecond, cfg.Avatar.TickInterval)
	assert.Equal(t, 4, cfg.Memory.Capacity)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"unknown coupling emotion", "avatar:\n  couplings:\n    - {emotion: bored, channel: aa, factor: 1, max: 1}\n", avatar.ErrUnknownEmotion},
		{"unknown coupling channel", "avatar:\n  couplings:\n    - {emotion: happy, channel: grin, factor: 1, max: 1}\n", avatar.ErrUnknownChannel},
		{"unknown bias emotion", "emotion:\n  time_bias:\n    night:\n      sleepy: 0.2\n", avatar.ErrUnknownEmotion},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, dir := newTestLoader(t)
			writeConfig(t, dir, tc.body)

			_, err := l.Load()
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Avatar.TickInterval = 0
	cfg.Avatar.BlinkDuty = 1
	cfg.Memory.Capacity = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "avatar.tick_interval")
	assert.Contains(t, err.Error(), "avatar.blink_duty")
	assert.Contains(t, err.Error(), "memory.capacity")
	assert.Contains(t, err.Error(), "log.level")
}

func TestSaveRoundTrip(t *testing.T) {
	l, dir := newTestLoader(t)

	cfg := DefaultConfig()
	cfg.Avatar.BlinkPeriod = 3 * time.Second
	cfg.Render.LogFrames = true
	cfg.Avatar.Couplings = append(cfg.Avatar.Couplings, avatar.Coupling{Emotion: avatar.EmotionAngry, Channel: avatar.ChannelEE, Factor: 0.2, Max: 0.2})
	require.NoError(t, l.Save(cfg))

	fresh, err := NewLoader(dir, zerolog.Nop())
	require.NoError(t, err)
	got, err := fresh.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()

	engine := cfg.Avatar.EngineConfig()
	assert.Equal(t, avatar.DefaultEngineConfig(), engine)

	assert.Equal(t, 5, cfg.Emotion.ResolverConfig().RecentWindow)
	assert.Equal(t, 0.7, cfg.LipSync.SchedulerConfig().Intensity)
	assert.Equal(t, 200, cfg.Memory.StoreConfig().MaxResponseChars)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	l, dir := newTestLoader(t)
	writeConfig(t, dir, "avatar:\n  tick_interval: 20ms\n")
	_, err := l.Load()
	require.NoError(t, err)

	changes := make(chan *Config, 4)
	l.Watch(func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	})

	writeConfig(t, dir, "avatar:\n  tick_interval: 40ms\n")

	select {
	case c := <-changes:
		assert.Equal(t, 40*time.Millisecond, c.Avatar.TickInterval)
		assert.Equal(t, 40*time.Millisecond, l.Current().Avatar.TickInterval)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config change")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CORTEXCOMPANION_TEST_DOTENV=loaded\n"), 0o644))
	t.Setenv("CORTEXCOMPANION_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("CORTEXCOMPANION_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv("CORTEXCOMPANION_TEST_DOTENV"))
}
