package network

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/lixenwraith/particle-engine/particle"
)

// RecordSize is the wire size of one particle: X, Y, DX, DY, TTL as float64
const RecordSize = 5 * 8

// countSize prefixes the record list
const countSize = 4

// AppendParticles appends the wire encoding of ps to dst
// Layout: [Count:4] then Count records, all big endian
func AppendParticles(dst []byte, ps []particle.Particle) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(ps)))
	for i := range ps {
		p := &ps[i]
		dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(p.X))
		dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(p.Y))
		dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(p.DX))
		dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(p.DY))
		dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(p.TTL))
	}
	return dst
}

// EncodeParticles returns a freshly allocated payload for ps
func EncodeParticles(ps []particle.Particle) []byte {
	return AppendParticles(make([]byte, 0, countSize+len(ps)*RecordSize), ps)
}

// DecodeParticles parses a payload produced by AppendParticles
// Style is not carried on the wire; decoded particles have the zero style
func DecodeParticles(b []byte) ([]particle.Particle, error) {
	if len(b) < countSize {
		return nil, newError(ErrSerialization, "decode particles",
			errors.Errorf("payload of %d bytes has no count", len(b)))
	}

	count := binary.BigEndian.Uint32(b[:countSize])
	body := b[countSize:]
	if uint64(len(body)) != uint64(count)*RecordSize {
		return nil, newError(ErrSerialization, "decode particles",
			errors.Errorf("count %d needs %d bytes, got %d", count, uint64(count)*RecordSize, len(body)))
	}

	ps := make([]particle.Particle, count)
	for i := range ps {
		rec := body[i*RecordSize : (i+1)*RecordSize]
		ps[i] = particle.Particle{
			X:   math.Float64frombits(binary.BigEndian.Uint64(rec[0:8])),
			Y:   math.Float64frombits(binary.BigEndian.Uint64(rec[8:16])),
			DX:  math.Float64frombits(binary.BigEndian.Uint64(rec[16:24])),
			DY:  math.Float64frombits(binary.BigEndian.Uint64(rec[24:32])),
			TTL: math.Float64frombits(binary.BigEndian.Uint64(rec[32:40])),
		}
	}
	return ps, nil
}
