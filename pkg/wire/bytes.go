package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Bytes is a byte sequence that the host encodes as a JSON array of numbers
// rather than base64.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return EncodeBytes(b), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeBytes(data)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// EncodeBytes renders b as a JSON number array. A nil slice encodes as [].
func EncodeBytes(b []byte) []byte {
	out := make([]byte, 0, 2+4*len(b))
	out = append(out, '[')
	for i, c := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(c), 10)
	}
	return append(out, ']')
}

// DecodeBytes parses a JSON number array, or the host's single-field wrapper
// {"data":[...]}. null decodes to an empty sequence.
func DecodeBytes(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return []byte{}, nil
	}

	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("invalid byte wrapper: %w", err)
		}
		if wrapper.Data == nil {
			return nil, fmt.Errorf("invalid byte wrapper: missing data field")
		}
		return DecodeBytes(wrapper.Data)
	}

	var values []int
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return nil, fmt.Errorf("invalid byte array: %w", err)
	}

	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("invalid byte array: element %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	return out, nil
}
