package avatar

import (
	"context"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/normanking/cortexcompanion/internal/bus"
)

// IdleConfig shapes the continuous low-amplitude motion applied every tick.
type IdleConfig struct {
	// BlinkPeriod is the length of one open/closed blink cycle.
	BlinkPeriod time.Duration
	// BlinkDuty is the fraction of the period the eyes are closed.
	BlinkDuty float64

	BreathingAmplitude float64
	BreathingOffset    float64
}

// DefaultIdleConfig returns the stock idle animation.
func DefaultIdleConfig() IdleConfig {
	return IdleConfig{
		BlinkPeriod:        2 * time.Second,
		BlinkDuty:          0.25,
		BreathingAmplitude: 0.1,
		BreathingOffset:    0.1,
	}
}

func (c IdleConfig) withDefaults() IdleConfig {
	def := DefaultIdleConfig()
	if c.BlinkPeriod <= 0 {
		c.BlinkPeriod = def.BlinkPeriod
	}
	if c.BlinkDuty <= 0 || c.BlinkDuty >= 1 {
		c.BlinkDuty = def.BlinkDuty
	}
	if c.BreathingAmplitude == 0 && c.BreathingOffset == 0 {
		c.BreathingAmplitude = def.BreathingAmplitude
		c.BreathingOffset = def.BreathingOffset
	}
	return c
}

// blinkAt is a square wave keyed off wall-clock time: closed (1) for the
// first BlinkDuty of every period, open (0) otherwise.
func (c IdleConfig) blinkAt(t time.Time) float64 {
	period := c.BlinkPeriod.Nanoseconds()
	phase := t.UnixNano() % period
	if phase < 0 {
		phase += period
	}
	if float64(phase) < c.BlinkDuty*float64(period) {
		return 1
	}
	return 0
}

// breathingAt oscillates with a period of 2π seconds.
func (c IdleConfig) breathingAt(t time.Time) float64 {
	secs := float64(t.UnixNano()) / float64(time.Second)
	return clamp01(c.BreathingAmplitude*math.Sin(secs) + c.BreathingOffset)
}

// Tick advances idle animation one step: blink, breathing, and expiry of a
// gesture whose hold has ended. On expiry the head returns to rest and the
// persisted emotion is reapplied.
func (e *Engine) Tick() {
	e.mu.Lock()
	now := e.clock.Now()
	idle := e.cfg.Idle

	e.state.Pose.Blink = idle.blinkAt(now)
	e.state.Pose.Breathing = idle.breathingAt(now)

	expired := ""
	if g := e.gesture; g.Name != GestureIdle && now.After(g.End) {
		expired = g.Name
		e.releaseGestureLocked()
		e.state.Pose.Head = mgl64.Vec3{}
		e.applyEmotionLocked(e.emotion, e.emotionIntensity)
	}
	e.renderLocked()
	events, met := e.events, e.metrics
	e.mu.Unlock()

	if expired == "" {
		return
	}
	e.logger.Debug().Str("gesture", expired).Msg("Gesture expired")
	met.RecordGestureExpired(context.Background())
	events.Publish(bus.Event{Type: bus.EventTypeGestureExpired, Data: map[string]any{"gesture": expired}})
}
