package types

import "testing"

func TestEncodeDecodeDetectionsRoundTrip(t *testing.T) {
	region := make([]byte, DetectionRegionSize)
	in := []Detection{
		{ClassID: 1, Score: 0.9, Y1: 10, X1: 20, Y2: 30, X2: 40},
		{ClassID: 2, Score: 0.5, Y1: 1, X1: 2, Y2: 3, X2: 4},
	}
	EncodeDetections(region, in)
	out := DecodeDetections(region)

	if len(out) != len(in) {
		t.Fatalf("DecodeDetections() returned %d detections, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("detection %d = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestEncodeDecodeEmptyRegionYieldsNoDetections(t *testing.T) {
	region := make([]byte, DetectionRegionSize)
	EncodeDetections(region, nil)
	if out := DecodeDetections(region); len(out) != 0 {
		t.Errorf("DecodeDetections() = %v, want empty", out)
	}
}
