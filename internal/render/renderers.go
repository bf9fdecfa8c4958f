package render

import (
	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/rs/zerolog"
)

// Multi fans every call out to each renderer in order.
type Multi []avatar.Renderer

// ApplyBlendShapes implements avatar.Renderer.
func (m Multi) ApplyBlendShapes(channels map[avatar.Channel]float64) {
	for _, r := range m {
		r.ApplyBlendShapes(channels)
	}
}

// ApplyPose implements avatar.Renderer.
func (m Multi) ApplyPose(pose avatar.Pose) {
	for _, r := range m {
		r.ApplyPose(pose)
	}
}

// LogRenderer writes each frame to a logger at debug level. Useful when no
// viewer is attached.
type LogRenderer struct {
	logger   zerolog.Logger
	channels map[avatar.Channel]float64
}

// NewLogRenderer creates a LogRenderer.
func NewLogRenderer(logger zerolog.Logger) *LogRenderer {
	return &LogRenderer{logger: logger.With().Str("component", "render_log").Logger()}
}

// ApplyBlendShapes implements avatar.Renderer.
func (l *LogRenderer) ApplyBlendShapes(channels map[avatar.Channel]float64) {
	l.channels = channels
}

// ApplyPose implements avatar.Renderer. The engine serialises calls, so no
// locking is needed here.
func (l *LogRenderer) ApplyPose(pose avatar.Pose) {
	ev := l.logger.Debug()
	if !ev.Enabled() {
		return
	}
	dict := zerolog.Dict()
	for _, c := range avatar.AllChannels {
		if v := l.channels[c]; v > 0 {
			dict = dict.Float64(string(c), v)
		}
	}
	ev.Dict("channels", dict).
		Str("posture", string(pose.Posture)).
		Float64("blink", pose.Blink).
		Float64("breathing", pose.Breathing).
		Floats64("head", pose.Head[:]).
		Msg("Frame")
}
