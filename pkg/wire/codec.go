package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is returned for frames that are not a JSON object with a string type.
var ErrMalformed = errors.New("malformed frame")

// Peek extracts the frame type without decoding the rest.
func Peek(data []byte) (string, error) {
	var env struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == nil || *env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return *env.Type, nil
}

// Decode unmarshals a frame whose type is already known.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// Encode marshals an outgoing frame.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return b, nil
}

// Millis renders t as the Unix-millisecond timestamp used on the wire.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
