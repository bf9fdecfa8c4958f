// Package config provides configuration management for the companion
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/normanking/cortexcompanion/internal/emotion"
	"github.com/normanking/cortexcompanion/internal/gesture"
	"github.com/normanking/cortexcompanion/internal/lipsync"
	"github.com/normanking/cortexcompanion/internal/memory"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// CORTEXCOMPANION_AVATAR_TICK_INTERVAL=20ms.
const EnvPrefix = "CORTEXCOMPANION"

// Config holds all application configuration
type Config struct {
	Avatar  AvatarConfig  `mapstructure:"avatar" yaml:"avatar"`
	Emotion EmotionConfig `mapstructure:"emotion" yaml:"emotion"`
	Gesture GestureConfig `mapstructure:"gesture" yaml:"gesture"`
	LipSync LipSyncConfig `mapstructure:"lipsync" yaml:"lipsync"`
	Memory  MemoryConfig  `mapstructure:"memory" yaml:"memory"`
	Render  RenderConfig  `mapstructure:"render" yaml:"render"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Vision  VisionConfig  `mapstructure:"vision" yaml:"vision"`
	Brain   BrainConfig   `mapstructure:"brain" yaml:"brain"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// AvatarConfig configures the expression engine
type AvatarConfig struct {
	TickInterval       time.Duration     `mapstructure:"tick_interval" yaml:"tick_interval"`
	VisemeDecayStep    float64           `mapstructure:"viseme_decay_step" yaml:"viseme_decay_step"`
	VisemeRest         float64           `mapstructure:"viseme_rest" yaml:"viseme_rest"`
	InitialIntensity   float64           `mapstructure:"initial_intensity" yaml:"initial_intensity"`
	BlinkPeriod        time.Duration     `mapstructure:"blink_period" yaml:"blink_period"`
	BlinkDuty          float64           `mapstructure:"blink_duty" yaml:"blink_duty"`
	BreathingAmplitude float64           `mapstructure:"breathing_amplitude" yaml:"breathing_amplitude"`
	BreathingOffset    float64           `mapstructure:"breathing_offset" yaml:"breathing_offset"`
	Couplings          []avatar.Coupling `mapstructure:"couplings" yaml:"couplings"`
	ModelPath          string            `mapstructure:"model_path" yaml:"model_path"` // VRM/glTF checked by `inspect`
}

// EmotionConfig configures the emotion resolver
type EmotionConfig struct {
	HistoryCapacity int     `mapstructure:"history_capacity" yaml:"history_capacity"`
	RecentWindow    int     `mapstructure:"recent_window" yaml:"recent_window"`
	TransitionFloor float64 `mapstructure:"transition_floor" yaml:"transition_floor"`

	// Bias overrides replace the stock weights bucket by bucket.
	TimeBias    map[emotion.TimeOfDay]emotion.Weights `mapstructure:"time_bias" yaml:"time_bias,omitempty"`
	HistoryBias map[emotion.Sentiment]emotion.Weights `mapstructure:"history_bias" yaml:"history_bias,omitempty"`
}

// GestureConfig configures the gesture resolver
type GestureConfig struct {
	DefaultIntensity float64 `mapstructure:"default_intensity" yaml:"default_intensity"`
}

// LipSyncConfig configures viseme playback
type LipSyncConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Intensity    float64       `mapstructure:"intensity" yaml:"intensity"`
	DecayFactor  float64       `mapstructure:"decay_factor" yaml:"decay_factor"`
	CharsPerSec  float64       `mapstructure:"chars_per_second" yaml:"chars_per_second"` // speech duration estimate when no TTS timing is available
}

// MemoryConfig configures short-term memory
type MemoryConfig struct {
	Capacity         int `mapstructure:"capacity" yaml:"capacity"`
	MaxResponseChars int `mapstructure:"max_response_chars" yaml:"max_response_chars"`
}

// BrainConfig points at a remote A2A agent that writes the replies
type BrainConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"` // empty echoes the user instead
	Persona string        `mapstructure:"persona" yaml:"persona"`
	UserID  string        `mapstructure:"user_id" yaml:"user_id"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// VisionConfig configures the people-detection stream
type VisionConfig struct {
	URL string `mapstructure:"url" yaml:"url"` // empty disables posture tracking
}

// RenderConfig configures the render collaborators
type RenderConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"` // empty disables the WebSocket hub
	LogFrames  bool   `mapstructure:"log_frames" yaml:"log_frames"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// LogConfig configures logging
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Dir        string `mapstructure:"dir" yaml:"dir"` // empty disables the log file
	Console    bool   `mapstructure:"console" yaml:"console"`
	MaxHistory int    `mapstructure:"max_history" yaml:"max_history"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	engine := avatar.DefaultEngineConfig()
	emo := emotion.DefaultConfig()
	lip := lipsync.DefaultConfig()
	mem := memory.DefaultConfig()

	return &Config{
		Avatar: AvatarConfig{
			TickInterval:       avatar.DefaultTickInterval,
			VisemeDecayStep:    engine.VisemeDecayStep,
			VisemeRest:         engine.VisemeRest,
			InitialIntensity:   engine.InitialIntensity,
			BlinkPeriod:        engine.Idle.BlinkPeriod,
			BlinkDuty:          engine.Idle.BlinkDuty,
			BreathingAmplitude: engine.Idle.BreathingAmplitude,
			BreathingOffset:    engine.Idle.BreathingOffset,
			Couplings:          engine.Couplings,
		},
		Emotion: EmotionConfig{
			HistoryCapacity: emo.HistoryCapacity,
			RecentWindow:    emo.RecentWindow,
			TransitionFloor: emo.TransitionFloor,
		},
		Gesture: GestureConfig{
			DefaultIntensity: gesture.DefaultIntensity,
		},
		LipSync: LipSyncConfig{
			PollInterval: lip.PollInterval,
			Intensity:    lip.Intensity,
			DecayFactor:  lip.DecayFactor,
			CharsPerSec:  14,
		},
		Memory: MemoryConfig{
			Capacity:         mem.Capacity,
			MaxResponseChars: mem.MaxResponseChars,
		},
		Render: RenderConfig{
			ListenAddr: "127.0.0.1:8765",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9464",
		},
		Brain: BrainConfig{
			Persona: "companion",
			UserID:  "default",
			Timeout: 60 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Console:    true,
			MaxHistory: 1000,
		},
	}
}

// EngineConfig converts the avatar section for avatar.NewEngine.
func (c AvatarConfig) EngineConfig() avatar.EngineConfig {
	return avatar.EngineConfig{
		VisemeDecayStep:  c.VisemeDecayStep,
		VisemeRest:       c.VisemeRest,
		InitialIntensity: c.InitialIntensity,
		Couplings:        c.Couplings,
		Idle: avatar.IdleConfig{
			BlinkPeriod:        c.BlinkPeriod,
			BlinkDuty:          c.BlinkDuty,
			BreathingAmplitude: c.BreathingAmplitude,
			BreathingOffset:    c.BreathingOffset,
		},
	}
}

// ResolverConfig converts the emotion section for emotion.NewResolver.
func (c EmotionConfig) ResolverConfig() emotion.Config {
	cfg := emotion.DefaultConfig()
	cfg.HistoryCapacity = c.HistoryCapacity
	cfg.RecentWindow = c.RecentWindow
	cfg.TransitionFloor = c.TransitionFloor
	for bucket, w := range c.TimeBias {
		cfg.TimeWeights[bucket] = w
	}
	for bucket, w := range c.HistoryBias {
		cfg.HistoryWeights[bucket] = w
	}
	return cfg
}

// SchedulerConfig converts the lip-sync section for lipsync.NewScheduler.
func (c LipSyncConfig) SchedulerConfig() lipsync.Config {
	return lipsync.Config{
		PollInterval: c.PollInterval,
		Intensity:    c.Intensity,
		DecayFactor:  c.DecayFactor,
	}
}

// StoreConfig converts the memory section for memory.NewStore.
func (c MemoryConfig) StoreConfig() memory.Config {
	return memory.Config{
		Capacity:         c.Capacity,
		MaxResponseChars: c.MaxResponseChars,
	}
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Avatar.TickInterval <= 0 {
		errs = append(errs, errors.New("avatar.tick_interval must be positive"))
	}
	if c.Avatar.BlinkDuty <= 0 || c.Avatar.BlinkDuty >= 1 {
		errs = append(errs, errors.New("avatar.blink_duty must be between 0 and 1"))
	}
	for i, cp := range c.Avatar.Couplings {
		if !cp.Emotion.Valid() {
			errs = append(errs, fmt.Errorf("avatar.couplings[%d]: %w: %q", i, avatar.ErrUnknownEmotion, cp.Emotion))
		}
		if !cp.Channel.Valid() {
			errs = append(errs, fmt.Errorf("avatar.couplings[%d]: %w: %q", i, avatar.ErrUnknownChannel, cp.Channel))
		}
	}
	for bucket, w := range c.Emotion.TimeBias {
		errs = append(errs, validateBias("emotion.time_bias."+string(bucket), w)...)
	}
	for bucket, w := range c.Emotion.HistoryBias {
		errs = append(errs, validateBias("emotion.history_bias."+string(bucket), w)...)
	}
	if c.LipSync.PollInterval <= 0 {
		errs = append(errs, errors.New("lipsync.poll_interval must be positive"))
	}
	if c.LipSync.CharsPerSec <= 0 {
		errs = append(errs, errors.New("lipsync.chars_per_second must be positive"))
	}
	if c.Memory.Capacity <= 0 {
		errs = append(errs, errors.New("memory.capacity must be positive"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

func validateBias(key string, w emotion.Weights) []error {
	var errs []error
	for e := range w {
		if !e.Valid() {
			errs = append(errs, fmt.Errorf("%s: %w: %q", key, avatar.ErrUnknownEmotion, e))
		}
	}
	return errs
}

// Loader reads configuration from a directory, the working directory and
// the environment, and can watch the file for changes.
type Loader struct {
	v      *viper.Viper
	dir    string
	logger zerolog.Logger

	mu      sync.Mutex
	current *Config
}

// NewLoader creates a loader rooted at dir. An empty dir uses GetConfigDir.
func NewLoader(dir string, logger zerolog.Logger) (*Loader, error) {
	if dir == "" {
		d, err := GetConfigDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AddConfigPath(".")

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	return &Loader{
		v:      v,
		dir:    dir,
		logger: logger.With().Str("component", "config").Logger(),
	}, nil
}

// setDefaults registers every key so environment overrides apply to keys
// absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("avatar.tick_interval", d.Avatar.TickInterval)
	v.SetDefault("avatar.viseme_decay_step", d.Avatar.VisemeDecayStep)
	v.SetDefault("avatar.viseme_rest", d.Avatar.VisemeRest)
	v.SetDefault("avatar.initial_intensity", d.Avatar.InitialIntensity)
	v.SetDefault("avatar.blink_period", d.Avatar.BlinkPeriod)
	v.SetDefault("avatar.blink_duty", d.Avatar.BlinkDuty)
	v.SetDefault("avatar.breathing_amplitude", d.Avatar.BreathingAmplitude)
	v.SetDefault("avatar.breathing_offset", d.Avatar.BreathingOffset)
	v.SetDefault("avatar.couplings", d.Avatar.Couplings)
	v.SetDefault("avatar.model_path", d.Avatar.ModelPath)

	v.SetDefault("emotion.history_capacity", d.Emotion.HistoryCapacity)
	v.SetDefault("emotion.recent_window", d.Emotion.RecentWindow)
	v.SetDefault("emotion.transition_floor", d.Emotion.TransitionFloor)

	v.SetDefault("gesture.default_intensity", d.Gesture.DefaultIntensity)

	v.SetDefault("lipsync.poll_interval", d.LipSync.PollInterval)
	v.SetDefault("lipsync.intensity", d.LipSync.Intensity)
	v.SetDefault("lipsync.decay_factor", d.LipSync.DecayFactor)
	v.SetDefault("lipsync.chars_per_second", d.LipSync.CharsPerSec)

	v.SetDefault("memory.capacity", d.Memory.Capacity)
	v.SetDefault("memory.max_response_chars", d.Memory.MaxResponseChars)

	v.SetDefault("render.listen_addr", d.Render.ListenAddr)
	v.SetDefault("render.log_frames", d.Render.LogFrames)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen_addr", d.Metrics.ListenAddr)

	v.SetDefault("vision.url", d.Vision.URL)

	v.SetDefault("brain.url", d.Brain.URL)
	v.SetDefault("brain.persona", d.Brain.Persona)
	v.SetDefault("brain.user_id", d.Brain.UserID)
	v.SetDefault("brain.timeout", d.Brain.Timeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.console", d.Log.Console)
	v.SetDefault("log.max_history", d.Log.MaxHistory)
}

// Dir returns the directory the loader writes to.
func (l *Loader) Dir() string {
	return l.dir
}

// ConfigFileUsed returns the file the last Load read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Load reads configuration from file and environment. A missing file is not
// an error: defaults are used and written out for the user to edit.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := l.Save(DefaultConfig()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		l.logger.Info().Str("dir", l.dir).Msg("Wrote default configuration")
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Save writes the configuration to config.yaml in the loader's directory
func (l *Loader) Save(cfg *Config) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	path := filepath.Join(l.dir, "config.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	l.v.SetConfigFile(path)
	return l.v.ReadInConfig()
}

// Watch reloads the file whenever it changes and hands each valid result to
// onChange. Invalid edits are logged and the previous configuration stays
// current.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			l.logger.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid configuration change")
			return
		}
		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()

		l.logger.Info().Str("file", e.Name).Msg("Configuration reloaded")
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// LoadDotEnv loads KEY=value pairs from the given files (default ".env")
// into the environment. Missing files are skipped; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cortexcompanion"), nil
}
