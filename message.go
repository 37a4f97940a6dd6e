package push

import "time"

// Type tags a message as data-only or platform-rendered.
type Type int

const (
	TypeData Type = iota
	TypeNotification
)

// Priority is the provider delivery priority.
type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// Notification is the platform-rendered part of a message. Empty sub-fields
// are omitted from the outbound request.
type Notification struct {
	Title string
	Body  string
	Sound string
	Icon  string
}

// Message is one logical push to one or more recipients. A single recipient
// is simply a one-element To slice. The message is immutable for the duration
// of the Push call and not retained afterwards.
type Message struct {
	// To lists the recipient device tokens, in delivery order. Must not be
	// empty.
	To []string
	// Data is an optional key/value payload, always delivered when present.
	Data map[string]string
	// Notification is the optional platform-rendered payload.
	Notification *Notification
	Type         Type
	// Priority defaults per Type when unset: high for data messages,
	// normal otherwise.
	Priority Priority
	// TTL is how long the provider may buffer the message for an offline
	// device. Zero leaves the provider default.
	TTL    time.Duration
	DryRun bool
}

// SimpleMessage is a provider-neutral message with no platform hints.
type SimpleMessage struct {
	To    []string
	Data  map[string]string
	Title string
	Body  string
}

// Translate widens a SimpleMessage into the provider-specific Message.
// Data-only messages get high priority so they are delivered promptly even to
// dozing devices; messages with a visible notification use normal priority.
func (s SimpleMessage) Translate() Message {
	msg := Message{
		To:       s.To,
		Data:     s.Data,
		Type:     TypeData,
		Priority: PriorityHigh,
	}
	if s.Title != "" || s.Body != "" {
		msg.Notification = &Notification{Title: s.Title, Body: s.Body}
		msg.Type = TypeNotification
		msg.Priority = PriorityNormal
	}
	return msg
}

// priority resolves the effective delivery priority.
func (m Message) priority() Priority {
	if m.Priority != "" {
		return m.Priority
	}
	if m.Notification == nil {
		return PriorityHigh
	}
	return PriorityNormal
}
