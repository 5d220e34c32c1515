package types

import (
	"encoding/binary"
	"math"
)

// DetectionRegionSize is the byte size of the shared output region: up to
// MaxDetections rows of 6 little-endian float32 values each.
const DetectionRegionSize = MaxDetections * 6 * 4

// EncodeDetections writes up to MaxDetections detections into region, which
// must be at least DetectionRegionSize bytes. Unused rows are zeroed.
func EncodeDetections(region []byte, detections []Detection) {
	for i := 0; i < MaxDetections; i++ {
		off := i * 6 * 4
		var row [6]float32
		if i < len(detections) {
			d := detections[i]
			row = [6]float32{float32(d.ClassID), d.Score, d.Y1, d.X1, d.Y2, d.X2}
		}
		for j, v := range row {
			binary.LittleEndian.PutUint32(region[off+j*4:], math.Float32bits(v))
		}
	}
}

// DecodeDetections reads up to MaxDetections rows from region. Rows whose
// score is <= 0 are treated as empty and excluded from the result.
func DecodeDetections(region []byte) []Detection {
	var out []Detection
	for i := 0; i < MaxDetections; i++ {
		off := i * 6 * 4
		if off+24 > len(region) {
			break
		}
		row := func(j int) float32 {
			return math.Float32frombits(binary.LittleEndian.Uint32(region[off+j*4:]))
		}
		score := row(1)
		if score <= 0 {
			continue
		}
		out = append(out, Detection{
			ClassID: int(row(0)),
			Score:   score,
			Y1:      row(2),
			X1:      row(3),
			Y2:      row(4),
			X2:      row(5),
		})
	}
	return out
}
