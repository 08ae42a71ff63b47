// Package serialize implements the two wire serialization formats:
// JSON by default, or a binary map format (msgpack) when the
// messagepack option is enabled.
package serialize

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/deltamodel"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec marshals and unmarshals deltas to and from one wire format.
// The batch variants are what the client/server pipelines actually
// put on the wire: one payload carries a whole send call's deltas as
// an array, one element per delta, so the receiver can iterate
// entries in order and skip null slots.
type Codec interface {
	Marshal(d deltamodel.Delta) ([]byte, error)
	Unmarshal(b []byte) (deltamodel.Delta, error)
	MarshalBatch(ds []deltamodel.Delta) ([]byte, error)
	UnmarshalBatch(b []byte) ([]*deltamodel.Delta, error)
	Name() string
}

// jsonCodec is the default codec, backed by json-iterator for speed.
type jsonCodec struct{}

func (jsonCodec) Marshal(d deltamodel.Delta) ([]byte, error) { return jsonAPI.Marshal(d) }

func (jsonCodec) Unmarshal(b []byte) (deltamodel.Delta, error) {
	var d deltamodel.Delta
	if err := jsonAPI.Unmarshal(b, &d); err != nil {
		return deltamodel.Delta{}, err
	}
	return d, nil
}

func (jsonCodec) MarshalBatch(ds []deltamodel.Delta) ([]byte, error) { return jsonAPI.Marshal(ds) }

func (jsonCodec) UnmarshalBatch(b []byte) ([]*deltamodel.Delta, error) {
	var ds []*deltamodel.Delta
	if err := jsonAPI.Unmarshal(b, &ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func (jsonCodec) Name() string { return "json" }

// JSONCodec is the process-wide JSON codec instance.
var JSONCodec Codec = jsonCodec{}

// msgpackCodec is the "binary map" format enabled by the messagepack
// option/wire flag.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(d deltamodel.Delta) ([]byte, error) { return msgpack.Marshal(d) }

func (msgpackCodec) Unmarshal(b []byte) (deltamodel.Delta, error) {
	var d deltamodel.Delta
	if err := msgpack.Unmarshal(b, &d); err != nil {
		return deltamodel.Delta{}, err
	}
	return d, nil
}

func (msgpackCodec) MarshalBatch(ds []deltamodel.Delta) ([]byte, error) { return msgpack.Marshal(ds) }

func (msgpackCodec) UnmarshalBatch(b []byte) ([]*deltamodel.Delta, error) {
	var ds []*deltamodel.Delta
	if err := msgpack.Unmarshal(b, &ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func (msgpackCodec) Name() string { return "messagepack" }

// MsgpackCodec is the process-wide msgpack codec instance.
var MsgpackCodec Codec = msgpackCodec{}

// Select returns the codec to use for the messagepack flag.
func Select(useMsgpack bool) Codec {
	if useMsgpack {
		return MsgpackCodec
	}
	return JSONCodec
}
