// Package codec implements construction and parsing of the four
// message kinds exchanged between dlmd peers.
//
// The wire format is a self-describing key/value document; this is
// the Go-native analogue of msg.c's prop_dictionary-based
// keepalive_msg_init/request_msg_init/reply_msg_init/unlock_msg_init,
// expressed with encoding/json for wire messages of this shape.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/jabolina/dlmd/internal/dlmerr"
	"github.com/jabolina/dlmd/internal/locktable"
)

// Kind identifies one of the four message types. Field names mirror
// dlmd.h's MSG_* string directives exactly, so a captured datagram is
// self-describing without consulting this package.
type Kind string

const (
	KindKeepalive Kind = "keepalive"
	KindRequest   Kind = "request"
	KindReply     Kind = "request_reply"
	KindUnlock    Kind = "unlock"
)

// maxDatagramSize is the IPv4 UDP payload ceiling (65535 - 8-byte UDP
// header); encoding a message that wouldn't fit in a single
// unfragmented datagram is a construction error. The network's MTU is
// assumed generous enough for any single message; this is the hard
// upper bound behind that assumption.
const maxDatagramSize = 65507

// Message is the logical schema shared by all four kinds; fields not
// meaningful to a given kind are left zero and omitted from the wire
// encoding.
type Message struct {
	Type     Kind           `json:"type"`
	NodeName string         `json:"node_name"`
	Resource string         `json:"resource,omitempty"`
	Event    uint64         `json:"event,omitempty"`
	Flags    locktable.Mode `json:"flags,omitempty"`
	ID       uint32         `json:"id,omitempty"`
}

// Encode serializes m to its wire form. Returns an error (a malformed
// message, in dlmerr's taxonomy) if the kind is missing or the result
// would exceed a single UDP datagram.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("codec: message has no type")
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal failed: %w", err)
	}
	if len(buf) > maxDatagramSize {
		return nil, fmt.Errorf("codec: encoded message is %d bytes, exceeds %d byte datagram ceiling", len(buf), maxDatagramSize)
	}
	return buf, nil
}

// Decode parses a datagram payload into a Message. A parse failure or
// a missing required field is a malformed message; the caller (the
// Listener) drops the datagram and does not propagate the error
// further than a log line.
func Decode(buf []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(buf, &m); err != nil {
		return Message{}, fmt.Errorf("codec: unmarshal failed: %w: %v", dlmerr.ErrMalformedMessage, err)
	}
	if err := validate(m); err != nil {
		return Message{}, err
	}
	return m, nil
}

func validate(m Message) error {
	if m.NodeName == "" {
		return fmt.Errorf("codec: message missing required field %q: %w", "node_name", dlmerr.ErrMalformedMessage)
	}
	switch m.Type {
	case KindKeepalive:
		return nil
	case KindRequest:
		if m.Resource == "" {
			return fmt.Errorf("codec: request missing required field %q: %w", "resource", dlmerr.ErrMalformedMessage)
		}
		if m.ID == 0 {
			return fmt.Errorf("codec: request missing required field %q: %w", "id", dlmerr.ErrMalformedMessage)
		}
		return nil
	case KindReply, KindUnlock:
		if m.Resource == "" {
			return fmt.Errorf("codec: %s missing required field %q: %w", m.Type, "resource", dlmerr.ErrMalformedMessage)
		}
		return nil
	default:
		return fmt.Errorf("codec: unknown message type %q: %w", m.Type, dlmerr.ErrMalformedMessage)
	}
}

// NewKeepalive builds a keepalive message, matching
// keepalive_msg_init's two-field dictionary.
func NewKeepalive(nodeName string) Message {
	return Message{Type: KindKeepalive, NodeName: nodeName}
}

// NewRequest builds a lock request message, matching
// request_msg_init's six-field dictionary.
func NewRequest(nodeName, resource string, event uint64, mode locktable.Mode, originID uint32) Message {
	return Message{
		Type:     KindRequest,
		NodeName: nodeName,
		Resource: resource,
		Event:    event,
		Flags:    mode,
		ID:       originID,
	}
}

// NewReply builds a reply to a request, matching reply_msg_init's
// five-field dictionary. Event carries the requester's own
// timestamp, echoed back so the requester can match the reply to its
// outstanding record by (resource, timestamp).
func NewReply(nodeName, resource string, event uint64, mode locktable.Mode) Message {
	return Message{Type: KindReply, NodeName: nodeName, Resource: resource, Event: event, Flags: mode}
}

// NewUnlock builds an unlock notification, matching unlock_msg_init's
// five-field dictionary. Event carries a freshly ticked timestamp (it
// is informational only; on_unlock matches by resource and origin
// peer, not by timestamp).
func NewUnlock(nodeName, resource string, event uint64, mode locktable.Mode) Message {
	return Message{Type: KindUnlock, NodeName: nodeName, Resource: resource, Event: event, Flags: mode}
}
