// Package deltamodel defines the telemetry delta shapes that cross
// the edge-link transport: Delta, Update, Value and the PathKey sum
// type. The host telemetry framework owns their meaning; this package
// only owns their wire representation and the source-normalization
// invariant ("source is never null downstream").
package deltamodel

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// PathKey is the sum type {Name(string), Id(uint16)} of a value path.
// Before path-dictionary encoding every Value carries a Name; after
// encoding it may carry an Id instead. Unknown paths always remain
// Name-typed because pathdict.Encode passes them through unchanged.
type PathKey struct {
	isID bool
	name string
	id   uint16
}

// Name constructs a string-valued PathKey.
func Name(s string) PathKey { return PathKey{name: s} }

// ID constructs an integer-valued PathKey.
func ID(id uint16) PathKey { return PathKey{isID: true, id: id} }

func (p PathKey) IsID() bool        { return p.isID }
func (p PathKey) StringVal() string { return p.name }
func (p PathKey) IDVal() uint16     { return p.id }

func (p PathKey) MarshalJSON() ([]byte, error) {
	if p.isID {
		return json.Marshal(p.id)
	}
	return json.Marshal(p.name)
}

func (p *PathKey) UnmarshalJSON(data []byte) error {
	var asNum uint16
	if err := json.Unmarshal(data, &asNum); err == nil {
		*p = ID(asNum)
		return nil
	}
	var asStr string
	if err := json.Unmarshal(data, &asStr); err != nil {
		return fmt.Errorf("pathkey: value is neither string nor uint16: %w", err)
	}
	*p = Name(asStr)
	return nil
}

// EncodeMsgpack implements msgpack.CustomEncoder so PathKey keeps its
// sum-type wire shape (bare uint16 or bare string) under msgpack too,
// matching MarshalJSON.
func (p PathKey) EncodeMsgpack(enc *msgpack.Encoder) error {
	if p.isID {
		return enc.EncodeUint16(p.id)
	}
	return enc.EncodeString(p.name)
}

// DecodeMsgpack implements msgpack.CustomDecoder, the msgpack mirror
// of UnmarshalJSON's type-sniffing.
func (p *PathKey) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterface()
	if err != nil {
		return fmt.Errorf("pathkey: decode: %w", err)
	}
	switch n := v.(type) {
	case string:
		*p = Name(n)
		return nil
	case int8:
		*p = ID(uint16(n))
		return nil
	case int16:
		*p = ID(uint16(n))
		return nil
	case int32:
		*p = ID(uint16(n))
		return nil
	case int64:
		*p = ID(uint16(n))
		return nil
	case uint8:
		*p = ID(uint16(n))
		return nil
	case uint16:
		*p = ID(n)
		return nil
	case uint32:
		*p = ID(uint16(n))
		return nil
	case uint64:
		*p = ID(uint16(n))
		return nil
	default:
		return fmt.Errorf("pathkey: value is neither string nor integer, got %T", v)
	}
}

// Value is a single (path, value) pair inside an Update.
type Value struct {
	Path  PathKey     `json:"path" msgpack:"path"`
	Value interface{} `json:"value" msgpack:"value"`
}

// Update is one timestamped batch of values from a source.
type Update struct {
	Source    map[string]interface{} `json:"source" msgpack:"source"`
	Timestamp string                 `json:"timestamp" msgpack:"timestamp"`
	SourceRef string                 `json:"$source,omitempty" msgpack:"$source,omitempty"`
	Values    []Value                `json:"values" msgpack:"values"`
}

// Delta is one context-scoped set of timestamped updates.
type Delta struct {
	Context string   `json:"context" msgpack:"context"`
	Updates []Update `json:"updates" msgpack:"updates"`
}

// Normalize applies the receive-side invariant that a nil Source is
// coerced to an empty mapping. It returns a new Delta and never
// mutates its input.
func Normalize(d Delta) Delta {
	out := Delta{Context: d.Context, Updates: make([]Update, len(d.Updates))}
	for i, u := range d.Updates {
		nu := u
		if nu.Source == nil {
			nu.Source = map[string]interface{}{}
		}
		nu.Values = append([]Value(nil), u.Values...)
		out.Updates[i] = nu
	}
	return out
}

// Clone deep-copies a Delta's Updates/Values slices (but not Value
// payloads, which are treated as immutable JSON-compatible leaves) so
// that path-dictionary transforms never mutate their input.
func Clone(d Delta) Delta {
	out := Delta{Context: d.Context, Updates: make([]Update, len(d.Updates))}
	for i, u := range d.Updates {
		nu := u
		if u.Source != nil {
			nu.Source = make(map[string]interface{}, len(u.Source))
			for k, v := range u.Source {
				nu.Source[k] = v
			}
		}
		nu.Values = make([]Value, len(u.Values))
		copy(nu.Values, u.Values)
		out.Updates[i] = nu
	}
	return out
}
