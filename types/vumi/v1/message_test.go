package v1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalKeepsUnknownFields(t *testing.T) {
	raw := `{"message_version":"20110921","message_type":"message","timestamp":"2013-04-20 18:51:01.123456","foo":"bar"}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.NoError(t, m.Validate())

	foo, ok := m.Get("foo")
	require.True(t, ok)
	assert.Equal(t, "bar", foo)
	assert.True(t, time.Date(2013, 4, 20, 18, 51, 1, 123456000, time.UTC).Equal(m.Timestamp.Time))
	assert.Equal(t, TypeMessage, m.MessageType)
}

func TestMarshalWritesExtraAndVumiTimestamp(t *testing.T) {
	m := Message{
		MessageVersion: MessageVersion,
		MessageType:    TypeMessage,
		Timestamp:      Timestamp{time.Date(2013, 4, 20, 18, 51, 1, 0, time.UTC)},
		Extra:          map[string]any{"foo": "bar", "message_type": "ignored"},
	}

	b, err := json.Marshal(m)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "bar", out["foo"])
	assert.Equal(t, "message", out["message_type"])
	assert.Equal(t, "2013-04-20 18:51:01.000000", out["timestamp"])
}

func TestNewUserMessageIsValid(t *testing.T) {
	m := NewUserMessage("+27831234567", "12345", "sms", "hello")

	require.NoError(t, m.Validate())
	assert.Len(t, m.MessageID, 32)
	assert.True(t, m.IsUserMessage())
	assert.False(t, m.IsEvent())
}

func TestValidate(t *testing.T) {
	ts := Timestamp{time.Now()}

	cases := []struct {
		name  string
		msg   Message
		valid bool
	}{
		{"empty", Message{}, false},
		{"wrong version", Message{MessageVersion: "1", MessageType: TypeMessage, Timestamp: ts}, false},
		{"no type", Message{MessageVersion: MessageVersion, Timestamp: ts}, false},
		{"no timestamp", Message{MessageVersion: MessageVersion, MessageType: TypeMessage}, false},
		{"plain message", Message{MessageVersion: MessageVersion, MessageType: TypeMessage, Timestamp: ts}, true},
		{"user message without id", Message{MessageVersion: MessageVersion, MessageType: TypeUserMessage, Timestamp: ts, ToAddr: "a", FromAddr: "b"}, false},
		{"user message bad session", Message{MessageVersion: MessageVersion, MessageType: TypeUserMessage, Timestamp: ts, MessageID: "1", ToAddr: "a", FromAddr: "b", SessionEvent: "later"}, false},
		{"user message", Message{MessageVersion: MessageVersion, MessageType: TypeUserMessage, Timestamp: ts, MessageID: "1", ToAddr: "a", FromAddr: "b", SessionEvent: SessionNew}, true},
		{"ack", Message{MessageVersion: MessageVersion, MessageType: TypeEvent, Timestamp: ts, EventID: "e", UserMessageID: "u", EventType: EventAck, SentMessageID: "s"}, true},
		{"ack without sent id", Message{MessageVersion: MessageVersion, MessageType: TypeEvent, Timestamp: ts, EventID: "e", UserMessageID: "u", EventType: EventAck}, false},
		{"nack", Message{MessageVersion: MessageVersion, MessageType: TypeEvent, Timestamp: ts, EventID: "e", UserMessageID: "u", EventType: EventNack, NackReason: "no"}, true},
		{"delivery report", Message{MessageVersion: MessageVersion, MessageType: TypeEvent, Timestamp: ts, EventID: "e", UserMessageID: "u", EventType: EventDeliveryReport, DeliveryStatus: "delivered"}, true},
		{"delivery report bad status", Message{MessageVersion: MessageVersion, MessageType: TypeEvent, Timestamp: ts, EventID: "e", UserMessageID: "u", EventType: EventDeliveryReport, DeliveryStatus: "lost"}, false},
		{"unknown event", Message{MessageVersion: MessageVersion, MessageType: TypeEvent, Timestamp: ts, EventID: "e", UserMessageID: "u", EventType: "poke"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidMessage)
			}
		})
	}
}

func TestRoundTripKeepsNullAndEmptyKeys(t *testing.T) {
	raw := `{"message_version":"20110921","message_type":"user_message","timestamp":"2013-04-20 18:51:01.000000",` +
		`"message_id":"m1","to_addr":"a","from_addr":"b","content":null,"in_reply_to":null,"session_event":null,` +
		`"group":null,"transport_name":"sms","transport_type":"","transport_metadata":{},"helper_metadata":{},` +
		`"routing_metadata":{"endpoint_name":"default"},"foo":"bar"}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.NoError(t, m.Validate())
	assert.Nil(t, m.Content)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestAssignedFieldsReplaceEmptyValues(t *testing.T) {
	raw := `{"message_version":"20110921","message_type":"user_message","timestamp":"2013-04-20 18:51:01.000000",` +
		`"message_id":"m1","to_addr":"a","from_addr":"b","content":null,"in_reply_to":null}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	content := "hello"
	m.Content = &content
	m.InReplyTo = "m0"

	out, err := json.Marshal(m)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(out, &wire))
	assert.Equal(t, "hello", wire["content"])
	assert.Equal(t, "m0", wire["in_reply_to"])
}

func TestNewUserMessageWireKeys(t *testing.T) {
	out, err := json.Marshal(NewUserMessage("+27831234567", "12345", "sms", "hello"))
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(out, &wire))
	for _, k := range []string{"in_reply_to", "session_event", "group"} {
		v, ok := wire[k]
		assert.True(t, ok, k)
		assert.Nil(t, v, k)
	}
	assert.Equal(t, map[string]any{}, wire["helper_metadata"])
	assert.Equal(t, map[string]any{}, wire["transport_metadata"])
	assert.Equal(t, "hello", wire["content"])
}

func TestUnmarshalRejectsWrongFieldType(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"message_version":20110921}`), &m)
	assert.Error(t, err)
}
