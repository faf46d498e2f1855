// Package bus provides the in-process message bus that decouples the
// scheduler from whatever surface answers confirmation requests.
package bus

import (
	"sync"
	"time"
)

// Topic names for the admission pipeline.
const (
	TopicConfirmationRequest  = "tool_confirmation_request"
	TopicConfirmationResponse = "tool_confirmation_response"
	TopicUpdatePolicy         = "update_policy"
)

// ConfirmationRequest asks a human (or a surrogate) to approve a tool call.
type ConfirmationRequest struct {
	CorrelationID string         `json:"correlation_id"`
	CallID        string         `json:"call_id"`
	Tool          string         `json:"tool"`
	ServerName    string         `json:"server_name,omitempty"`
	Arguments     map[string]any `json:"arguments"`
	Description   string         `json:"description,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// ConfirmationResponse carries the human's answer back to the awaiting call.
// Outcome is optional; a bare Confirmed bool maps to proceed-once or cancel.
type ConfirmationResponse struct {
	CorrelationID string         `json:"correlation_id"`
	Confirmed     bool           `json:"confirmed"`
	Outcome       string         `json:"outcome,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// PolicyUpdate asks policy consumers to record an "always allow" decision.
type PolicyUpdate struct {
	Tool          string `json:"tool"`
	ServerName    string `json:"server_name,omitempty"`
	CommandPrefix string `json:"command_prefix,omitempty"`
	ArgsPattern   string `json:"args_pattern,omitempty"`
	Persist       bool   `json:"persist"`
}

// Bus is a topic-keyed publish/subscribe hub. Dispatch is synchronous:
// Publish invokes every subscriber of the topic before returning, so a
// subscriber that needs to block must hand the message off to a channel.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(any)
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[int]func(any))}
}

// Subscribe registers a callback for a topic and returns an unsubscribe
// function. The unsubscribe function is idempotent.
func (b *Bus) Subscribe(topic string, fn func(any)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func(any))
	}
	b.subs[topic][id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs[topic], id)
		b.mu.Unlock()
	}
}

// SubscriberCount returns the number of live subscriptions for a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Publish delivers a message to all current subscribers of the topic.
//
// A confirmation request published while nobody is listening is answered
// with an automatic denial on the response topic. Fail closed: an absent
// approver must never be treated as approval.
func (b *Bus) Publish(topic string, msg any) {
	b.mu.RLock()
	callbacks := make([]func(any), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		callbacks = append(callbacks, fn)
	}
	b.mu.RUnlock()

	if topic == TopicConfirmationRequest && len(callbacks) == 0 {
		if req, ok := msg.(ConfirmationRequest); ok {
			b.Publish(TopicConfirmationResponse, ConfirmationResponse{
				CorrelationID: req.CorrelationID,
				Confirmed:     false,
			})
		}
		return
	}

	for _, fn := range callbacks {
		fn(msg)
	}
}
