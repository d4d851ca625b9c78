package wire

import (
	"encoding/json"
	"fmt"
)

// ErrTooLarge is returned when an encoded message would exceed the datagram
// ceiling. Callers must not attempt to transmit such payloads.
var ErrTooLarge = fmt.Errorf("encoded message exceeds %d bytes", MaxDatagramBytes)

// Encode serializes msg for transmission. It never truncates: oversize
// payloads fail so the sender can surface the error instead of multicasting
// a datagram no receiver will reassemble.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxDatagramBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Decode parses an incoming datagram. It returns false for anything that is
// not a well-formed message of the supported protocol version: such datagrams
// are dropped at this boundary and never delivered upward partially parsed.
func Decode(data []byte) (Message, bool) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, false
	}
	if msg.Version != Version {
		return Message{}, false
	}
	switch msg.Type {
	case TypeHello, TypeChat, TypeFile:
		return msg, true
	default:
		return Message{}, false
	}
}
