package v1

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageVersion is the only message_version this client understands.
const MessageVersion = "20110921"

// DateFormat is how vumi serialises timestamps on the wire.
const DateFormat = "2006-01-02 15:04:05.000000"

type MessageType string

const (
	TypeMessage     MessageType = "message"
	TypeUserMessage MessageType = "user_message"
	TypeEvent       MessageType = "event"
)

type SessionEvent string

const (
	SessionNone   SessionEvent = ""
	SessionNew    SessionEvent = "new"
	SessionResume SessionEvent = "resume"
	SessionClose  SessionEvent = "close"
)

type EventKind string

const (
	EventAck            EventKind = "ack"
	EventNack           EventKind = "nack"
	EventDeliveryReport EventKind = "delivery_report"
)

var ErrInvalidMessage = errors.New("invalid vumi message")

// Timestamp is a time.Time using vumi's wire layout.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(DateFormat))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil {
		t.Time = time.Time{}
		return nil
	}
	// Fractional seconds are optional when parsing.
	parsed, err := time.Parse("2006-01-02 15:04:05", *s)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", *s, err)
	}
	t.Time = parsed
	return nil
}

// Message is a vumi message as it appears on a bridge stream. The same
// type carries plain messages, user messages and events; MessageType says
// which fields are meaningful. Fields this struct does not know about are
// kept in Extra.
type Message struct {
	MessageVersion  string         `json:"message_version"`
	MessageType     MessageType    `json:"message_type"`
	Timestamp       Timestamp      `json:"timestamp"`
	RoutingMetadata map[string]any `json:"routing_metadata,omitempty"`
	HelperMetadata  map[string]any `json:"helper_metadata,omitempty"`

	MessageID         string         `json:"message_id,omitempty"`
	ToAddr            string         `json:"to_addr,omitempty"`
	FromAddr          string         `json:"from_addr,omitempty"`
	InReplyTo         string         `json:"in_reply_to,omitempty"`
	SessionEvent      SessionEvent   `json:"session_event,omitempty"`
	Content           *string        `json:"content,omitempty"`
	TransportName     string         `json:"transport_name,omitempty"`
	TransportType     string         `json:"transport_type,omitempty"`
	TransportMetadata map[string]any `json:"transport_metadata,omitempty"`
	Group             string         `json:"group,omitempty"`

	EventID        string    `json:"event_id,omitempty"`
	EventType      EventKind `json:"event_type,omitempty"`
	UserMessageID  string    `json:"user_message_id,omitempty"`
	SentMessageID  string    `json:"sent_message_id,omitempty"`
	NackReason     string    `json:"nack_reason,omitempty"`
	DeliveryStatus string    `json:"delivery_status,omitempty"`

	Extra map[string]any `json:"-"`

	// empty holds typed keys that arrived as null or empty values.
	empty map[string]jsoniter.RawMessage
}

// messageFields has Message's layout without its JSON methods.
type messageFields Message

// fields maps every typed wire key to the field it decodes into.
func (m *Message) fields() map[string]any {
	return map[string]any{
		"message_version":    &m.MessageVersion,
		"message_type":       &m.MessageType,
		"timestamp":          &m.Timestamp,
		"routing_metadata":   &m.RoutingMetadata,
		"helper_metadata":    &m.HelperMetadata,
		"message_id":         &m.MessageID,
		"to_addr":            &m.ToAddr,
		"from_addr":          &m.FromAddr,
		"in_reply_to":        &m.InReplyTo,
		"session_event":      &m.SessionEvent,
		"content":            &m.Content,
		"transport_name":     &m.TransportName,
		"transport_type":     &m.TransportType,
		"transport_metadata": &m.TransportMetadata,
		"group":              &m.Group,
		"event_id":           &m.EventID,
		"event_type":         &m.EventType,
		"user_message_id":    &m.UserMessageID,
		"sent_message_id":    &m.SentMessageID,
		"nack_reason":        &m.NackReason,
		"delivery_status":    &m.DeliveryStatus,
	}
}

// omitted reports whether the field behind ptr is left out by omitempty.
func omitted(ptr any) bool {
	v := reflect.ValueOf(ptr).Elem()
	switch v.Kind() {
	case reflect.String, reflect.Map, reflect.Slice:
		return v.Len() == 0
	case reflect.Pointer:
		return v.IsNil()
	}
	return false
}

// NewUserMessage builds an inbound user message with a fresh message id.
func NewUserMessage(to, from, transport, content string) *Message {
	id := uuid.New()
	return &Message{
		MessageVersion: MessageVersion,
		MessageType:    TypeUserMessage,
		Timestamp:      Timestamp{time.Now().UTC()},
		MessageID:      hex.EncodeToString(id[:]),
		ToAddr:         to,
		FromAddr:       from,
		Content:        &content,
		TransportName:  transport,
		HelperMetadata: map[string]any{},
		empty: map[string]jsoniter.RawMessage{
			"in_reply_to":        jsoniter.RawMessage("null"),
			"session_event":      jsoniter.RawMessage("null"),
			"group":              jsoniter.RawMessage("null"),
			"transport_metadata": jsoniter.RawMessage("{}"),
			"helper_metadata":    jsoniter.RawMessage("{}"),
			"routing_metadata":   jsoniter.RawMessage("{}"),
		},
	}
}

// Get returns a field that is not part of the typed message layout.
func (m *Message) Get(key string) (any, bool) {
	v, ok := m.Extra[key]
	return v, ok
}

func (m *Message) IsUserMessage() bool {
	return m.MessageType == TypeUserMessage
}

func (m *Message) IsEvent() bool {
	return m.MessageType == TypeEvent
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*m = Message{}
	fields := m.fields()
	for k, v := range raw {
		ptr, known := fields[k]
		if !known {
			var value any
			if err := json.Unmarshal(v, &value); err != nil {
				return err
			}
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = value
			continue
		}
		if err := json.Unmarshal(v, ptr); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		if omitted(ptr) {
			// Sent as null, "" or {}: written back as received.
			if m.empty == nil {
				m.empty = make(map[string]jsoniter.RawMessage)
			}
			m.empty[k] = bytes.Clone(v)
		}
	}
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(messageFields(m))
	if err != nil || (len(m.Extra) == 0 && len(m.empty) == 0) {
		return known, err
	}
	var merged map[string]jsoniter.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.empty {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	for k, v := range m.Extra {
		if _, exists := merged[k]; exists {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = b
	}
	return json.Marshal(merged)
}

// Validate checks the fields vumi requires for the message's type.
func (m *Message) Validate() error {
	if m.MessageVersion == "" {
		return missing("message_version")
	}
	if m.MessageVersion != MessageVersion {
		return fmt.Errorf("%w: unsupported message_version %q", ErrInvalidMessage, m.MessageVersion)
	}
	if m.MessageType == "" {
		return missing("message_type")
	}
	if m.Timestamp.IsZero() {
		return missing("timestamp")
	}

	switch m.MessageType {
	case TypeUserMessage:
		return m.validateUserMessage()
	case TypeEvent:
		return m.validateEvent()
	}
	return nil
}

func (m *Message) validateUserMessage() error {
	switch {
	case m.MessageID == "":
		return missing("message_id")
	case m.ToAddr == "":
		return missing("to_addr")
	case m.FromAddr == "":
		return missing("from_addr")
	}
	switch m.SessionEvent {
	case SessionNone, SessionNew, SessionResume, SessionClose:
	default:
		return fmt.Errorf("%w: unknown session_event %q", ErrInvalidMessage, m.SessionEvent)
	}
	return nil
}

func (m *Message) validateEvent() error {
	switch {
	case m.EventID == "":
		return missing("event_id")
	case m.UserMessageID == "":
		return missing("user_message_id")
	}
	switch m.EventType {
	case EventAck:
		if m.SentMessageID == "" {
			return missing("sent_message_id")
		}
	case EventNack:
		if m.NackReason == "" {
			return missing("nack_reason")
		}
	case EventDeliveryReport:
		switch m.DeliveryStatus {
		case "pending", "failed", "delivered":
		default:
			return fmt.Errorf("%w: unknown delivery_status %q", ErrInvalidMessage, m.DeliveryStatus)
		}
	case "":
		return missing("event_type")
	default:
		return fmt.Errorf("%w: unknown event_type %q", ErrInvalidMessage, m.EventType)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: missing field %s", ErrInvalidMessage, field)
}
