package psadapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// UnsubscribeSentinel is the reserved payload value terminating a Subscribe loop.
// It is never delivered to a Handler.
const UnsubscribeSentinel = "unsubscribe"

// Kind tells how a Payload is transported on the wire.
type Kind int

const (
	// KindRaw payloads are sent as-is, e.g. text or pre-encoded JSON.
	KindRaw Kind = iota

	// KindStructured payloads are encoded as JSON.
	KindStructured
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindStructured:
		return "structured"
	}
	return "invalid"
}

// Payload is the application level value being transported, either Raw(string) or
// Structured(value).
//
// Payloads created by Deserialize also keep the original wire text, available with Text().
type Payload struct {
	kind  Kind
	text  string
	value any
	wire  bool // text holds the serialized form
}

// Raw returns a payload which is published unmodified.
func Raw(s string) Payload {
	return Payload{kind: KindRaw, text: s, value: s, wire: true}
}

// Structured returns a payload which is published as JSON.
func Structured(v any) Payload {
	return Payload{kind: KindStructured, value: v}
}

// PayloadOf converts an arbitrary message to a Payload. Strings and byte slices become
// Raw payloads, a Payload is returned as is, and everything else becomes Structured.
func PayloadOf(message any) Payload {
	switch m := message.(type) {
	case Payload:
		return m
	case string:
		return Raw(m)
	case []byte:
		return Raw(string(m))
	default:
		return Structured(m)
	}
}

func (p Payload) Kind() Kind {
	return p.kind
}

func (p Payload) IsStructured() bool {
	return p.kind == KindStructured
}

// Value returns the string of a Raw payload, or the value of a Structured payload.
// Values from deserialized JSON use the encoding/json data model, i.e. objects are
// map[string]any, arrays []any and numbers float64, except integers which float64 cannot
// hold exactly. Those are int64, uint64 or, if still out of range, json.Number.
func (p Payload) Value() any {
	return p.value
}

// Text returns the wire representation of the payload. For Structured payloads not yet
// serialized, the JSON encoding is returned, or an empty string if not encodable.
func (p Payload) Text() string {
	if p.wire {
		return p.text
	}
	data, err := Serialize(p)
	if err != nil {
		return ""
	}
	return string(data)
}

func (p Payload) String() string {
	return p.Text()
}

// IsUnsubscribe reports whether the payload is the unsubscribe sentinel, regardless of
// it being sent as raw text or as a JSON string.
func (p Payload) IsUnsubscribe() bool {
	s, ok := p.value.(string)
	return ok && s == UnsubscribeSentinel
}

// Decode unmarshals the JSON form of the payload into v.
func (p Payload) Decode(v any) error {
	return json.Unmarshal([]byte(p.Text()), v)
}

// Get queries the payload with a gjson path, e.g. "order.items.#.sku".
// See https://github.com/tidwall/gjson for path syntax.
func (p Payload) Get(path string) gjson.Result {
	return gjson.Get(p.Text(), path)
}

// Serialize converts the payload to its wire format. Raw payloads pass through unchanged
// while Structured payloads are encoded as compact JSON, without HTML escaping.
func Serialize(p Payload) ([]byte, error) {
	if p.kind == KindRaw || p.wire {
		return []byte(p.text), nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p.value); err != nil {
		return nil, errWithDetails(ErrInvalidPayload, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Deserialize converts wire data to a Payload. Valid JSON becomes a Structured payload
// and anything else becomes a Raw payload. It never fails.
func Deserialize(data []byte) Payload {
	text := string(data)
	if gjson.Valid(text) {
		var value any
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&value); err == nil {
			return Payload{kind: KindStructured, text: text, value: toNumbers(value), wire: true}
		}
	}
	return Raw(text)
}

// maxExactInt is the largest integer magnitude float64 holds without loss.
const maxExactInt = 1 << 53

// toNumbers replaces the json.Number values in v with float64, or with an integer type
// if float64 would change the value.
func toNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = toNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = toNumbers(e)
		}
	case json.Number:
		return toNumber(t)
	}
	return v
}

func toNumber(n json.Number) any {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			if i > maxExactInt || i < -maxExactInt {
				return i
			}
			return float64(i)
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u
		}
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return n
}

// Enrich is a convenience function setting the value at the provided path in a JSON
// payload, returning the new payload. It's a wrapper on the sjson package.
// See doc at https://github.com/tidwall/sjson.
func Enrich(p Payload, path string, value any) (Payload, error) {
	data, err := Serialize(p)
	if err != nil {
		return p, err
	}
	if !gjson.ValidBytes(data) {
		return p, fmt.Errorf("%w: %s payload is not JSON", ErrNotStructured, p.kind)
	}
	enriched, err := sjson.SetBytes(data, path, value)
	if err != nil {
		return p, errWithDetails(ErrInvalidPayload, err)
	}
	return Deserialize(enriched), nil
}
