package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ValueKind identifies the concrete type carried by a Value.
type ValueKind string

// Value kinds supported by the pipeline.
const (
	ValueNumber ValueKind = "number"
	ValueBool   ValueKind = "bool"
	ValueText   ValueKind = "text"
	ValueMap    ValueKind = "map"
)

// Value is the typed payload of a reading. Exactly one of the payload
// fields is meaningful, selected by Kind. It marshals to native JSON
// (a bare number, boolean, string or object) so remote consumers see
// plain values rather than a wrapper.
type Value struct {
	Kind   ValueKind
	Number float64
	Bool   bool
	Text   string
	Map    map[string]any
}

// NumberValue creates a number Value.
func NumberValue(n float64) Value { return Value{Kind: ValueNumber, Number: n} }

// BoolValue creates a boolean Value.
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// TextValue creates a text Value.
func TextValue(s string) Value { return Value{Kind: ValueText, Text: s} }

// MapValue creates a structured Value.
func MapValue(m map[string]any) Value { return Value{Kind: ValueMap, Map: m} }

// Normalize converts a raw reading payload into a typed Value.
//
// Accepted inputs: Go numeric types, bool, string, map[string]any and
// json.Number. Anything else is rejected so unattributable payloads
// never enter the queue.
//
// Returns:
//   - Value: The normalized value
//   - error: If the input type is not representable
func Normalize(raw any) (Value, error) {
	switch v := raw.(type) {
	case Value:
		return v, nil
	case float64:
		return NumberValue(v), nil
	case float32:
		return NumberValue(float64(v)), nil
	case int:
		return NumberValue(float64(v)), nil
	case int8:
		return NumberValue(float64(v)), nil
	case int16:
		return NumberValue(float64(v)), nil
	case int32:
		return NumberValue(float64(v)), nil
	case int64:
		return NumberValue(float64(v)), nil
	case uint:
		return NumberValue(float64(v)), nil
	case uint8:
		return NumberValue(float64(v)), nil
	case uint16:
		return NumberValue(float64(v)), nil
	case uint32:
		return NumberValue(float64(v)), nil
	case uint64:
		return NumberValue(float64(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("queue: invalid numeric payload %q: %w", v.String(), err)
		}
		return NumberValue(f), nil
	case bool:
		return BoolValue(v), nil
	case string:
		return TextValue(v), nil
	case map[string]any:
		return MapValue(v), nil
	default:
		return Value{}, fmt.Errorf("queue: unsupported value type %T", raw)
	}
}

// MarshalJSON encodes the value as its native JSON representation.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNumber:
		return json.Marshal(v.Number)
	case ValueBool:
		return json.Marshal(v.Bool)
	case ValueText:
		return json.Marshal(v.Text)
	case ValueMap:
		return json.Marshal(v.Map)
	default:
		return nil, fmt.Errorf("queue: cannot marshal value kind %q", v.Kind)
	}
}

// UnmarshalJSON decodes a native JSON value into the tagged union.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("queue: decoding value: %w", err)
	}

	normalized, err := Normalize(raw)
	if err != nil {
		return err
	}
	*v = normalized
	return nil
}

// Interface returns the payload as a plain Go value, matching the
// JSON representation.
func (v Value) Interface() any {
	switch v.Kind {
	case ValueNumber:
		return v.Number
	case ValueBool:
		return v.Bool
	case ValueText:
		return v.Text
	case ValueMap:
		return v.Map
	default:
		return nil
	}
}

// String renders the payload for logs and audit records.
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid value %q>", v.Kind)
	}
	return string(data)
}

// Envelope is the canonical unit of sensor data flowing through the
// queue. Sequence is assigned at enqueue time and is strictly
// increasing for the lifetime of the gateway, never reused across
// restarts.
type Envelope struct {
	Sequence         uint64    `json:"sequence"`
	DeviceID         string    `json:"device_id"`
	DeviceType       string    `json:"device_type"`
	Value            Value     `json:"value"`
	ObservedAt       time.Time `json:"observed_at"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
	DeliveryAttempts int       `json:"delivery_attempts"`
}
