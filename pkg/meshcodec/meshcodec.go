// Package meshcodec packs a kernel.Mesh into a compact gzip-compressed
// binary form for transport to clients.
//
// Layout (little endian, before compression):
//
//	magic   [4]byte "SPNG"
//	version uint8
//	flags   uint8   bit 0: 32-bit indices, bit 1: normals present
//	nameLen uint16
//	verts   uint32  vertex count
//	indices uint32  index count
//	name    [nameLen]byte
//	positions [verts*3]float32
//	normals   [verts*3]int8      (only with bit 1)
//	indices   [indices]uint16 or uint32
package meshcodec

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/chazu/sponge/pkg/kernel"
)

const (
	Magic            = "SPNG"
	Version          = 1
	DefaultGzipLevel = 6

	flagIndex32 = 1 << 0
	flagNormals = 1 << 1

	// maxElements bounds the counts accepted by Decode.
	maxElements = 1 << 28
)

// ErrFormat reports a payload that is not a valid encoded mesh.
var ErrFormat = errors.New("meshcodec: invalid format")

type header struct {
	Magic       [4]byte
	Version     uint8
	Flags       uint8
	NameLen     uint16
	VertexCount uint32
	IndexCount  uint32
}

// Encode serializes m. Indices are written as uint16 when every index fits.
func Encode(m *kernel.Mesh) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("meshcodec: mesh is nil")
	}
	if len(m.Vertices)%3 != 0 {
		return nil, fmt.Errorf("meshcodec: vertex buffer length %d is not a multiple of 3", len(m.Vertices))
	}
	hasNormals := len(m.Normals) > 0
	if hasNormals && len(m.Normals) != len(m.Vertices) {
		return nil, fmt.Errorf("meshcodec: %d normals for %d vertex components", len(m.Normals), len(m.Vertices))
	}
	if len(m.PartName) > math.MaxUint16 {
		return nil, fmt.Errorf("meshcodec: part name too long (%d bytes)", len(m.PartName))
	}
	vcount := len(m.Vertices) / 3
	for i, idx := range m.Indices {
		if int(idx) >= vcount {
			return nil, fmt.Errorf("meshcodec: index %d at %d out of range (%d vertices)", idx, i, vcount)
		}
	}

	h := header{
		Version:     Version,
		NameLen:     uint16(len(m.PartName)),
		VertexCount: uint32(vcount),
		IndexCount:  uint32(len(m.Indices)),
	}
	copy(h.Magic[:], Magic)
	use32 := vcount > math.MaxUint16+1
	if use32 {
		h.Flags |= flagIndex32
	}
	if hasNormals {
		h.Flags |= flagNormals
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("meshcodec: write header: %w", err)
	}
	buf.WriteString(m.PartName)
	if err := binary.Write(&buf, binary.LittleEndian, m.Vertices); err != nil {
		return nil, fmt.Errorf("meshcodec: write positions: %w", err)
	}
	if hasNormals {
		if err := binary.Write(&buf, binary.LittleEndian, quantizeNormals(m.Normals)); err != nil {
			return nil, fmt.Errorf("meshcodec: write normals: %w", err)
		}
	}
	if use32 {
		if err := binary.Write(&buf, binary.LittleEndian, m.Indices); err != nil {
			return nil, fmt.Errorf("meshcodec: write indices: %w", err)
		}
	} else {
		small := make([]uint16, len(m.Indices))
		for i, idx := range m.Indices {
			small[i] = uint16(idx)
		}
		if err := binary.Write(&buf, binary.LittleEndian, small); err != nil {
			return nil, fmt.Errorf("meshcodec: write indices: %w", err)
		}
	}

	return gzipCompress(buf.Bytes(), DefaultGzipLevel)
}

// Decode reverses Encode. Normals come back scaled from int8, so only
// axis-aligned normals survive exactly.
func Decode(data []byte) (*kernel.Mesh, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("meshcodec: %w: %v", ErrFormat, err)
	}
	defer zr.Close()

	var h header
	if err := binary.Read(zr, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("meshcodec: read header: %w", err)
	}
	if string(h.Magic[:]) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, h.Magic[:])
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, h.Version)
	}
	if h.VertexCount > maxElements || h.IndexCount > maxElements {
		return nil, fmt.Errorf("%w: %d vertices, %d indices", ErrFormat, h.VertexCount, h.IndexCount)
	}

	name := make([]byte, h.NameLen)
	if _, err := io.ReadFull(zr, name); err != nil {
		return nil, fmt.Errorf("meshcodec: read name: %w", err)
	}
	m := &kernel.Mesh{
		Vertices: make([]float32, int(h.VertexCount)*3),
		Indices:  make([]uint32, h.IndexCount),
		PartName: string(name),
	}
	if err := binary.Read(zr, binary.LittleEndian, m.Vertices); err != nil {
		return nil, fmt.Errorf("meshcodec: read positions: %w", err)
	}
	if h.Flags&flagNormals != 0 {
		q := make([]int8, len(m.Vertices))
		if err := binary.Read(zr, binary.LittleEndian, q); err != nil {
			return nil, fmt.Errorf("meshcodec: read normals: %w", err)
		}
		m.Normals = make([]float32, len(q))
		for i, v := range q {
			m.Normals[i] = float32(v) / math.MaxInt8
		}
	}
	if h.Flags&flagIndex32 != 0 {
		if err := binary.Read(zr, binary.LittleEndian, m.Indices); err != nil {
			return nil, fmt.Errorf("meshcodec: read indices: %w", err)
		}
	} else {
		small := make([]uint16, h.IndexCount)
		if err := binary.Read(zr, binary.LittleEndian, small); err != nil {
			return nil, fmt.Errorf("meshcodec: read indices: %w", err)
		}
		for i, idx := range small {
			m.Indices[i] = uint32(idx)
		}
	}
	for i, idx := range m.Indices {
		if idx >= h.VertexCount {
			return nil, fmt.Errorf("%w: index %d at %d out of range", ErrFormat, idx, i)
		}
	}
	return m, nil
}

func quantizeNormals(normals []float32) []int8 {
	q := make([]int8, len(normals))
	for i, n := range normals {
		v := math.Round(float64(n) * math.MaxInt8)
		q[i] = int8(max(-math.MaxInt8, min(math.MaxInt8, v)))
	}
	return q
}

func gzipCompress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("meshcodec: gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("meshcodec: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("meshcodec: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}
