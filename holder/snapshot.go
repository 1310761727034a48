package holder

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/hupe1980/eventtable/codec"
	"github.com/hupe1980/eventtable/event"
)

// Snapshot blob layout (little endian):
//
//	magic       [4]byte "EVH1"
//	version     uint16
//	codecLen    uint8
//	codec       [codecLen]byte
//	fingerprint uint32  schema fingerprint
//	payloadLen  uint32
//	payload     [payloadLen]byte  codec-encoded snapshotPayload
//	checksum    uint32  CRC32 (IEEE) of payload
const (
	snapshotMagic   = "EVH1"
	snapshotVersion = 1
)

type snapshotPayload struct {
	Rows []*event.Row `json:"rows"`
}

func encodeSnapshot(c codec.Codec, schema *event.Schema, rows []*event.Row) ([]byte, error) {
	payload, err := c.Marshal(snapshotPayload{Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("holder: encode snapshot: %w", err)
	}
	name := c.Name()
	if len(name) > 255 {
		return nil, fmt.Errorf("holder: codec name %q too long", name)
	}
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("holder: snapshot payload of %d bytes too large", len(payload))
	}

	buf := make([]byte, 0, 4+2+1+len(name)+4+4+len(payload)+4)
	buf = append(buf, snapshotMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, snapshotVersion)
	buf = append(buf, byte(len(name)))
	buf = append(buf, name...)
	buf = binary.LittleEndian.AppendUint32(buf, schema.Fingerprint())
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(payload))
	return buf, nil
}

// decodeSnapshot parses and verifies a snapshot blob and validates every row against schema.
func decodeSnapshot(data []byte, schema *event.Schema) ([]*event.Row, error) {
	r := snapshotReader{data: data}

	magic := r.next(4)
	if magic == nil {
		return nil, fmt.Errorf("%w: truncated header", ErrCorruptSnapshot)
	}
	if string(magic) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrIncompatibleSnapshot, magic)
	}
	v := r.next(2)
	if v == nil {
		return nil, fmt.Errorf("%w: truncated header", ErrCorruptSnapshot)
	}
	if version := binary.LittleEndian.Uint16(v); version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrIncompatibleSnapshot, version)
	}
	l := r.next(1)
	if l == nil {
		return nil, fmt.Errorf("%w: truncated header", ErrCorruptSnapshot)
	}
	name := r.next(int(l[0]))
	if name == nil {
		return nil, fmt.Errorf("%w: truncated codec name", ErrCorruptSnapshot)
	}
	c, ok := codec.ByName(string(name))
	if !ok {
		return nil, fmt.Errorf("%w: unknown codec %q", ErrIncompatibleSnapshot, name)
	}
	fp := r.next(4)
	if fp == nil {
		return nil, fmt.Errorf("%w: truncated header", ErrCorruptSnapshot)
	}
	if got, want := binary.LittleEndian.Uint32(fp), schema.Fingerprint(); got != want {
		return nil, fmt.Errorf("%w: schema fingerprint 0x%08x, expected 0x%08x", ErrIncompatibleSnapshot, got, want)
	}
	pl := r.next(4)
	if pl == nil {
		return nil, fmt.Errorf("%w: truncated header", ErrCorruptSnapshot)
	}
	payload := r.next(int(binary.LittleEndian.Uint32(pl)))
	sum := r.next(4)
	if payload == nil || sum == nil {
		return nil, fmt.Errorf("%w: truncated payload", ErrCorruptSnapshot)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptSnapshot, r.remaining())
	}
	if got, want := crc32.ChecksumIEEE(payload), binary.LittleEndian.Uint32(sum); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch: expected 0x%08x, got 0x%08x", ErrCorruptSnapshot, want, got)
	}

	var p snapshotPayload
	if err := c.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrCorruptSnapshot, err)
	}
	for i, row := range p.Rows {
		if err := schema.Validate(row); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrIncompatibleSnapshot, i, err)
		}
	}
	return p.Rows, nil
}

type snapshotReader struct {
	data []byte
	off  int
}

func (r *snapshotReader) next(n int) []byte {
	if n < 0 || r.off+n > len(r.data) {
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *snapshotReader) remaining() int { return len(r.data) - r.off }
