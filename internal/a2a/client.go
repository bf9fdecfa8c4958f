package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoReply is returned when the agent's result carries no agent message.
var ErrNoReply = errors.New("agent returned no reply")

// Config configures the client.
type Config struct {
	ServerURL string
	PersonaID string
	UserID    string
	Timeout   time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		ServerURL: "http://localhost:8080",
		PersonaID: "companion",
		UserID:    "default",
		Timeout:   60 * time.Second,
	}
}

// Client talks to one A2A agent. It implements companion.Brain.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client. Zero fields of cfg take their defaults.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	def := DefaultConfig()
	if cfg.ServerURL == "" {
		cfg.ServerURL = def.ServerURL
	}
	if cfg.PersonaID == "" {
		cfg.PersonaID = def.PersonaID
	}
	if cfg.UserID == "" {
		cfg.UserID = def.UserID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "a2a").Logger(),
	}
}

// DiscoverAgent fetches the agent card.
func (c *Client) DiscoverAgent(ctx context.Context) (*AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.ServerURL+"/.well-known/agent-card.json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discover agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discover agent: status %d", resp.StatusCode)
	}
	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("decode agent card: %w", err)
	}
	c.logger.Info().Str("agent", card.Name).Str("version", card.Version).Msg("Agent discovered")
	return &card, nil
}

// Reply sends input as a user message and returns the agent's text answer.
// history travels in the message metadata for agents that use it.
func (c *Client) Reply(ctx context.Context, input, history string) (string, error) {
	metadata := map[string]any{
		"userId":    c.config.UserID,
		"personaId": c.config.PersonaID,
	}
	if history != "" {
		metadata["history"] = history
	}

	rpcReq := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "message/send",
		Params: messageSendParams{
			Message: &Message{
				Kind:      "message",
				MessageID: uuid.NewString(),
				Role:      "user",
				Parts:     []Part{{Kind: "text", Text: input}},
				Metadata:  metadata,
			},
		},
		ID: uuid.NewString(),
	}

	body, err := json.Marshal(rpcReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.ServerURL+"/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return "", rpcResp.Error
	}
	if rpcResp.Result == nil {
		return "", ErrNoReply
	}
	if rpcResp.Result.Status.State == TaskStateFailed {
		return "", errors.New("agent task failed")
	}

	msg, ok := rpcResp.Result.reply()
	if !ok {
		return "", ErrNoReply
	}

	text := msg.Text()
	c.logger.Debug().
		Dur("latency", time.Since(start)).
		Int("chars", len(text)).
		Msg("Agent replied")
	return text, nil
}
