package pathdict

import (
	"testing"

	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/deltamodel"
)

func TestEncodeKnownPath(t *testing.T) {
	got := Encode("navigation.position")
	if !got.IsID() || got.IDVal() != 0x0101 {
		t.Fatalf("expected navigation.position -> 0x0101, got %v (isID=%v)", got.IDVal(), got.IsID())
	}
}

func TestEncodeUnknownPathPassesThrough(t *testing.T) {
	got := Encode("totally.unknown.path")
	if got.IsID() {
		t.Fatalf("expected unknown path to pass through unchanged")
	}
	if got.StringVal() != "totally.unknown.path" {
		t.Fatalf("unexpected value: %v", got.StringVal())
	}
}

func TestWildcardInstanceSegment(t *testing.T) {
	a := Encode("electrical.batteries.1.voltage")
	b := Encode("electrical.batteries.voltage")
	if !a.IsID() || !b.IsID() || a.IDVal() != b.IDVal() {
		t.Fatalf("expected electrical.batteries.1.voltage to encode to the same id as electrical.batteries.voltage")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	encoded := Encode("navigation.speedOverGround")
	decoded := Decode(encoded)
	if decoded.IsID() || decoded.StringVal() != "navigation.speedOverGround" {
		t.Fatalf("round trip failed: %+v", decoded)
	}
}

func TestDecodeUnknownIDPassesThrough(t *testing.T) {
	key := deltamodel.ID(0xFFFF)
	got := Decode(key)
	if !got.IsID() || got.IDVal() != 0xFFFF {
		t.Fatalf("expected unknown id to pass through unchanged, got %+v", got)
	}
}

func TestEncodeDeltaAppliesSourceDefaulting(t *testing.T) {
	d := deltamodel.Delta{
		Context: "vessels.self",
		Updates: []deltamodel.Update{
			{Timestamp: "t", Values: []deltamodel.Value{{Path: deltamodel.Name("navigation.position"), Value: 1}}},
		},
	}
	out := EncodeDelta(d)
	if out.Updates[0].Source == nil {
		t.Fatalf("expected source defaulted to empty map")
	}
	if !out.Updates[0].Values[0].Path.IsID() {
		t.Fatalf("expected path to be encoded to an id")
	}
	if d.Updates[0].Source != nil {
		t.Fatalf("EncodeDelta must not mutate its input")
	}
}
