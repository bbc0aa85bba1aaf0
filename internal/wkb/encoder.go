package wkb

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
)

// Common SRID constants
const (
	SRID4326 = 4326 // WGS84
	SRID3857 = 3857 // Web Mercator
)

// Encoder encodes geometries to PostGIS extended WKB.
// Uses little-endian byte order and includes the SRID. The buffer is reused
// between calls, so the returned slice is only valid until the next call.
type Encoder struct {
	buf  bytes.Buffer
	enc  *ewkb.Encoder
	srid int
}

// NewEncoderWithSRID creates a new EWKB encoder with specified SRID
func NewEncoderWithSRID(initialSize int, srid int) *Encoder {
	e := &Encoder{srid: srid}
	e.buf.Grow(initialSize)
	e.enc = ewkb.NewEncoder(&e.buf).SetByteOrder(binary.LittleEndian).SetSRID(srid)
	return e
}

// SRID returns the encoder's current SRID
func (e *Encoder) SRID() int {
	return e.srid
}

// Encode encodes any orb geometry
func (e *Encoder) Encode(g orb.Geometry) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("nil geometry")
	}
	e.buf.Reset()
	if err := e.enc.Encode(g); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", g.GeoJSONType(), err)
	}
	return e.buf.Bytes(), nil
}

// EncodePoint encodes a vertex location
func (e *Encoder) EncodePoint(p orb.Point) ([]byte, error) {
	return e.Encode(p)
}

// EncodeLineString encodes an edge polyline
func (e *Encoder) EncodeLineString(ls orb.LineString) ([]byte, error) {
	if len(ls) < 2 {
		return nil, fmt.Errorf("linestring needs at least 2 points, got %d", len(ls))
	}
	return e.Encode(ls)
}

// EncodeMultiPolygon encodes a green-area geometry
func (e *Encoder) EncodeMultiPolygon(mp orb.MultiPolygon) ([]byte, error) {
	if len(mp) == 0 {
		return nil, fmt.Errorf("empty multipolygon")
	}
	return e.Encode(mp)
}

// Decode parses EWKB (or plain WKB) and returns the geometry and its SRID
func Decode(data []byte) (orb.Geometry, int, error) {
	g, srid, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode geometry: %w", err)
	}
	return g, srid, nil
}
