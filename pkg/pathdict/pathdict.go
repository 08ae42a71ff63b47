// Package pathdict implements the static path dictionary: a pure
// string<->uint16 mapping over ~170 well-known telemetry paths, with
// a wildcard rule that strips instance segments (".<digits>.") before
// a retry lookup.
package pathdict

import (
	"regexp"

	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/deltamodel"
)

var instanceSegment = regexp.MustCompile(`\.\d+\.`)

// Encode returns the dictionary id for path, or path unchanged if it
// is not a known path.
func Encode(path string) deltamodel.PathKey {
	if id, ok := byName[path]; ok {
		return deltamodel.ID(id)
	}
	rewritten := instanceSegment.ReplaceAllString(path, ".")
	if rewritten != path {
		if id, ok := byName[rewritten]; ok {
			return deltamodel.ID(id)
		}
	}
	return deltamodel.Name(path)
}

// Decode returns the path string for a known id, or the PathKey
// unchanged (as its original form) if the id is unknown.
func Decode(key deltamodel.PathKey) deltamodel.PathKey {
	if !key.IsID() {
		return key
	}
	if name, ok := byID[key.IDVal()]; ok {
		return deltamodel.Name(name)
	}
	return key
}

// EncodeDelta returns a new Delta with every Value's path encoded
// through the dictionary, and every Update's Source defaulted to an
// empty mapping. Input is never mutated.
func EncodeDelta(d deltamodel.Delta) deltamodel.Delta {
	out := deltamodel.Clone(d)
	for ui := range out.Updates {
		if out.Updates[ui].Source == nil {
			out.Updates[ui].Source = map[string]interface{}{}
		}
		for vi := range out.Updates[ui].Values {
			if out.Updates[ui].Values[vi].Path.IsID() {
				continue
			}
			out.Updates[ui].Values[vi].Path = Encode(out.Updates[ui].Values[vi].Path.StringVal())
		}
	}
	return out
}

// DecodeDelta is the inverse of EncodeDelta, decoding every Value's
// path back to its string form where known.
func DecodeDelta(d deltamodel.Delta) deltamodel.Delta {
	out := deltamodel.Clone(d)
	for ui := range out.Updates {
		if out.Updates[ui].Source == nil {
			out.Updates[ui].Source = map[string]interface{}{}
		}
		for vi := range out.Updates[ui].Values {
			out.Updates[ui].Values[vi].Path = Decode(out.Updates[ui].Values[vi].Path)
		}
	}
	return out
}
