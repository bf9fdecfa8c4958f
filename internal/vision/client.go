// Package vision follows an external detection service over WebSocket and
// reports how many people are in view, which drives the avatar's posture.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	initialBackoff = 3 * time.Second
	maxBackoff     = 60 * time.Second
)

// DetectionMessage is sent by the detection service for each analysed frame.
type DetectionMessage struct {
	Type          string    `json:"type"`
	FrameSequence int64     `json:"frame_sequence"`
	People        int       `json:"people"`
	Objects       []string  `json:"objects,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ErrorMessage reports a service-side failure.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Observer receives people-count changes; *companion.Companion implements it.
type Observer interface {
	ObservePeople(people int)
}

// Client maintains the detection stream, reconnecting with backoff.
type Client struct {
	url      string
	observer Observer
	clock    clockwork.Clock
	logger   zerolog.Logger

	mu        sync.RWMutex
	connected bool
	people    int
	seen      bool
}

// NewClient creates a client for the detection stream at rawURL. http(s)
// URLs are converted to ws(s).
func NewClient(rawURL string, observer Observer, clock clockwork.Clock, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		url:      u.String(),
		observer: observer,
		clock:    clock,
		logger:   logger.With().Str("component", "vision").Logger(),
	}, nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// People returns the last reported count and whether any report arrived.
func (c *Client) People() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.people, c.seen
}

// Run keeps the stream connected until ctx ends, then returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	failures := 0

	for {
		connected, err := c.stream(ctx)
		c.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = initialBackoff
			failures = 0
		}

		failures++
		if failures == 3 {
			c.logger.Warn().Err(err).Int("failures", failures).Msg("Detection stream unavailable, retrying less frequently")
			backoff = maxBackoff
		} else if failures < 3 {
			c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("Detection stream lost, reconnecting")
		} else {
			c.logger.Debug().Int("failures", failures).Msg("Detection stream still unavailable")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// stream dials once and reads until the connection fails. connected
// reports whether the dial succeeded.
func (c *Client) stream(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.setConnected(true)
	c.logger.Info().Str("url", c.url).Msg("Connected to detection stream")

	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		c.handleMessage(raw)
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) handleMessage(raw json.RawMessage) {
	var typeMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &typeMsg); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to parse message type")
		return
	}

	switch typeMsg.Type {
	case "detection":
		var msg DetectionMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse detection message")
			return
		}
		c.observe(msg)

	case "error":
		var msg ErrorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse error message")
			return
		}
		c.logger.Warn().Str("message", msg.Message).Msg("Detection service error")

	default:
		c.logger.Debug().Str("type", typeMsg.Type).Msg("Unknown message type")
	}
}

// observe forwards a count to the observer only when it changes.
func (c *Client) observe(msg DetectionMessage) {
	people := max(msg.People, 0)

	c.mu.Lock()
	changed := !c.seen || c.people != people
	c.people = people
	c.seen = true
	c.mu.Unlock()

	if !changed {
		return
	}
	c.logger.Debug().Int64("frame", msg.FrameSequence).Int("people", people).Msg("People in view changed")
	if c.observer != nil {
		c.observer.ObservePeople(people)
	}
}
