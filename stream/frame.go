// Package stream publishes rendered frames to websocket spectators
package stream

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/lixenwraith/particle-engine/particle"
	"github.com/lixenwraith/particle-engine/render"
)

// Frame wire layout, little endian:
// [Tick:8][Count:4] then Count records of [X:f32][Y:f32][Alpha:f32][Style:1]
const (
	frameHeaderSize = 12
	recordSize      = 13
)

// AppendFrame appends the binary encoding of f to dst
func AppendFrame(dst []byte, f render.Frame) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, f.Tick)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(f.Particles)))
	for i := range f.Particles {
		s := &f.Particles[i]
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(s.X)))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(s.Y)))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(s.Alpha)))
		dst = append(dst, byte(s.Style))
	}
	return dst
}

// DecodeFrame parses a frame produced by AppendFrame
// Strategy and Frozen are not carried
func DecodeFrame(b []byte) (render.Frame, error) {
	if len(b) < frameHeaderSize {
		return render.Frame{}, errors.Errorf("frame of %d bytes is shorter than its header", len(b))
	}
	f := render.Frame{Tick: binary.LittleEndian.Uint64(b[0:8])}
	count := binary.LittleEndian.Uint32(b[8:12])
	body := b[frameHeaderSize:]
	if uint64(len(body)) != uint64(count)*recordSize {
		return render.Frame{}, errors.Errorf("count %d needs %d bytes, got %d", count, uint64(count)*recordSize, len(body))
	}

	f.Particles = make([]particle.Snapshot, count)
	for i := range f.Particles {
		rec := body[i*recordSize : (i+1)*recordSize]
		f.Particles[i] = particle.Snapshot{
			X:     float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[0:4]))),
			Y:     float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[4:8]))),
			Alpha: float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12]))),
			Style: particle.Style(rec[12]),
		}
	}
	return f, nil
}
