// Package a2a is a minimal Agent-to-Agent (A2A v0.3) client that lets a
// remote agent act as the companion's brain.
package a2a

import "fmt"

// AgentCard is the /.well-known/agent-card.json document.
type AgentCard struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocolVersion"`
	URL             string `json:"url"`
}

// Part is one piece of message content. Only text parts are produced here;
// other kinds are decoded and ignored.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// Message is an A2A message.
type Message struct {
	Kind      string         `json:"kind,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	Role      string         `json:"role"` // "user" or "agent"
	Parts     []Part         `json:"parts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Text joins the message's text parts with newlines.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind != "text" || p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// TaskState represents the state of a task
type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCanceled  TaskState = "canceled"
)

// sendResult covers both shapes message/send may return: a Task carrying
// status.message and history, or a bare Message.
type sendResult struct {
	Kind   string `json:"kind"`
	Status struct {
		State   TaskState `json:"state"`
		Message *Message  `json:"message"`
	} `json:"status"`
	History []Message `json:"history"`

	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// reply picks the agent's answer out of a result.
func (r *sendResult) reply() (*Message, bool) {
	if r.Status.Message != nil {
		return r.Status.Message, true
	}
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].Role == "agent" {
			return &r.History[i], true
		}
	}
	if r.Role == "agent" {
		return &Message{Role: r.Role, Parts: r.Parts}, true
	}
	return nil, false
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      string `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  *sendResult   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      any           `json:"id"`
}

// JSONRPCError is an error returned by the agent.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type messageSendParams struct {
	Message  *Message       `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
