package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Marshal creates a JSON-encoded Envelope from a message type and data payload.
func Marshal(msgType MessageType, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := sonic.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal data for %q: %w", msgType, err)
		}
		raw = b
	}
	return sonic.Marshal(Envelope{
		Type: msgType,
		Data: raw,
	})
}

// Unmarshal parses a JSON-encoded Envelope, returning the message type and raw data.
func Unmarshal(b []byte) (MessageType, json.RawMessage, error) {
	var env Envelope
	if err := sonic.Unmarshal(b, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("protocol: envelope missing type field")
	}
	return env.Type, env.Data, nil
}

// UnmarshalData decodes a raw JSON data payload into a typed struct.
func UnmarshalData[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("protocol: unmarshal data: %w", err)
	}
	return v, nil
}
