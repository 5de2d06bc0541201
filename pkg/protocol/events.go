// Package protocol defines the wire protocol exchanged between the hub and
// browser clients over WebSocket.
//
// All events are JSON-encoded and share a common envelope with a "type" field
// that determines the payload structure.
package protocol

import "time"

// Envelope is the top-level wire format for all events.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Event types emitted by the hub.
const (
	EventNewMessage     = "new_message"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventReaction       = "reaction"
	EventAgentStatus    = "agent_status"
	EventAgentTyping    = "agent_typing"
	EventAgentStreaming = "agent_streaming"
	EventChannelCreated = "channel_created"
	EventFeatureUpdate  = "feature_update"
	EventSubscribed     = "subscribed"
	EventUnsubscribed   = "unsubscribed"
	EventPong           = "pong"
	EventError          = "error"
)

// Control frame types accepted from clients.
const (
	ControlSubscribe   = "subscribe"
	ControlUnsubscribe = "unsubscribe"
	ControlPing        = "ping"
)

// ControlFrame is an inbound client frame.
type ControlFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channel_ids,omitempty"`
}

// MessageDeleted announces a deleted message.
type MessageDeleted struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

// ReactionEvent announces a toggled reaction.
type ReactionEvent struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	Emoji     string `json:"emoji"`
	Added     bool   `json:"added"`
}

// AgentStatus announces an agent going online or offline.
type AgentStatus struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Status    string `json:"status"`
}

// AgentTyping signals invocation start/finish for an agent in a channel.
type AgentTyping struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	ChannelID string `json:"channel_id"`
	IsTyping  bool   `json:"is_typing"`
	Error     string `json:"error,omitempty"`
}

// AgentStreaming carries incremental response text during an invocation.
type AgentStreaming struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Done      bool   `json:"done"`
}

// Subscription acknowledges a subscribe/unsubscribe control frame.
type Subscription struct {
	Channels []string `json:"channel_ids"`
}

// Pong answers a client ping.
type Pong struct {
	Time time.Time `json:"time"`
}

// Error is sent for rejected frames (rate limit, malformed JSON).
type Error struct {
	Detail string `json:"detail"`
}
