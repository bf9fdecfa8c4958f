// Package metrics provides the OpenTelemetry instruments recorded by the
// expression engine, the classifiers and the lip-sync scheduler.
//
// Instruments are created from a [metric.MeterProvider]; [InitProvider] wires
// a Prometheus exporter so the values can be scraped from /metrics. Every
// recording helper is safe to call on a nil *Metrics, which is what tests and
// callers without observability pass.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all companion metrics.
const meterName = "github.com/normanking/cortexcompanion"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// EmotionUpdates counts SetEmotion calls. Attribute: emotion.
	EmotionUpdates metric.Int64Counter

	// GesturesStarted counts gesture requests. Attribute: gesture.
	GesturesStarted metric.Int64Counter

	// GesturesExpired counts gestures ended by the idle tick.
	GesturesExpired metric.Int64Counter

	// VisemesApplied counts viseme layer writes. Attribute: channel.
	VisemesApplied metric.Int64Counter

	// ChannelsRejected counts updates dropped for an unknown or foreign
	// channel. Attributes: channel, layer.
	ChannelsRejected metric.Int64Counter

	// SchedulesStarted counts lip-sync schedules that produced events.
	SchedulesStarted metric.Int64Counter

	// SchedulesSuperseded counts schedules cancelled by a newer one.
	SchedulesSuperseded metric.Int64Counter

	// StaleDecays counts decay timers discarded after supersession.
	StaleDecays metric.Int64Counter

	// RenderFrames counts frames pushed to the render collaborator.
	RenderFrames metric.Int64Counter

	// TurnDuration tracks end-to-end conversational turn handling.
	TurnDuration metric.Float64Histogram
}

var turnBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.EmotionUpdates, "companion.emotion.updates", "Emotion layer updates by emotion."},
		{&met.GesturesStarted, "companion.gesture.started", "Gesture requests by gesture name."},
		{&met.GesturesExpired, "companion.gesture.expired", "Gestures ended by the idle tick."},
		{&met.VisemesApplied, "companion.viseme.applied", "Viseme layer writes by channel."},
		{&met.ChannelsRejected, "companion.channel.rejected", "Channel updates dropped as unknown or foreign to the layer."},
		{&met.SchedulesStarted, "companion.lipsync.schedules", "Lip-sync schedules started."},
		{&met.SchedulesSuperseded, "companion.lipsync.superseded", "Lip-sync schedules superseded before draining."},
		{&met.StaleDecays, "companion.lipsync.stale_decays", "Decay timers discarded after supersession."},
		{&met.RenderFrames, "companion.render.frames", "Frames pushed to the render collaborator."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.TurnDuration, err = m.Float64Histogram("companion.turn.duration",
		metric.WithDescription("Latency of handling one conversational turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordEmotion counts one emotion layer update.
func (m *Metrics) RecordEmotion(ctx context.Context, emotion string) {
	if m == nil {
		return
	}
	m.EmotionUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("emotion", emotion)))
}

// RecordGesture counts one gesture request.
func (m *Metrics) RecordGesture(ctx context.Context, gesture string) {
	if m == nil {
		return
	}
	m.GesturesStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("gesture", gesture)))
}

// RecordGestureExpired counts one gesture expiry.
func (m *Metrics) RecordGestureExpired(ctx context.Context) {
	if m == nil {
		return
	}
	m.GesturesExpired.Add(ctx, 1)
}

// RecordViseme counts one viseme layer write.
func (m *Metrics) RecordViseme(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	m.VisemesApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

// RecordRejected counts one dropped channel update.
func (m *Metrics) RecordRejected(ctx context.Context, channel, layer string) {
	if m == nil {
		return
	}
	m.ChannelsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("layer", layer),
	))
}

// RecordSchedule counts one started lip-sync schedule.
func (m *Metrics) RecordSchedule(ctx context.Context) {
	if m == nil {
		return
	}
	m.SchedulesStarted.Add(ctx, 1)
}

// RecordSuperseded counts one superseded lip-sync schedule.
func (m *Metrics) RecordSuperseded(ctx context.Context) {
	if m == nil {
		return
	}
	m.SchedulesSuperseded.Add(ctx, 1)
}

// RecordStaleDecay counts one discarded decay timer.
func (m *Metrics) RecordStaleDecay(ctx context.Context) {
	if m == nil {
		return
	}
	m.StaleDecays.Add(ctx, 1)
}

// RecordFrame counts one frame handed to the renderer.
func (m *Metrics) RecordFrame(ctx context.Context) {
	if m == nil {
		return
	}
	m.RenderFrames.Add(ctx, 1)
}

// RecordTurn observes the duration of one turn in seconds.
func (m *Metrics) RecordTurn(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.TurnDuration.Record(ctx, seconds)
}
