// Package model defines data structures for the chat widget backend.
package model

// Role represents the role of a chat turn author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Action is the next step the model asks the widget to take.
type Action string

const (
	ActionNone         Action = "none"
	ActionBookDemo     Action = "book_demo"
	ActionCollectEmail Action = "collect_email"
)

// Turn is one prior message of a conversation, supplied by the widget.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /chat. History is decoded loosely because
// the widget owns it and may send anything.
type ChatRequest struct {
	Message string `json:"message"`
	History any    `json:"history,omitempty"`
	Client  string `json:"client,omitempty"`
	Key     string `json:"k,omitempty"`
}

// Reply is the normalized model answer returned to the widget.
type Reply struct {
	Reply  string         `json:"reply"`
	Action Action         `json:"action"`
	Lead   map[string]any `json:"lead"`
}

// IsFunnel reports whether the action is recorded as a funnel event.
func (a Action) IsFunnel() bool {
	return a == ActionBookDemo || a == ActionCollectEmail
}
