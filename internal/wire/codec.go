package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Envelope magic/version, following framegrace-texelation/protocol's header
// idiom: a fixed magic, a version byte, a flags byte, and a payload-length
// prefix, with an optional CRC32 checksum over the payload.
const (
	envMagic       uint32 = 0xBEAC0001
	envVersion     uint8  = 1
	envFlagChecksum uint8 = 0x01
	envHeaderSize  = 4 + 1 + 1 + 4 + 4 // magic, version, flags, payload len, checksum
)

var (
	ErrBadMagic      = errors.New("wire: bad envelope magic")
	ErrBadVersion    = errors.New("wire: unsupported envelope version")
	ErrChecksum      = errors.New("wire: checksum mismatch")
	ErrPayloadShort  = errors.New("wire: payload shorter than declared length")
	ErrUnknownFrame  = errors.New("wire: unknown frame type")
	ErrMalformed     = errors.New("wire: malformed frame")
)

// WriteEnvelope frames payload with a checksummed header and writes it to w.
// MAX_TRANSPORT_FRAME_BYTES (spec.md §4.4) is applied earlier, by
// ChunkUpdates in chunk.go on estimated update sizes; WriteEnvelope itself
// does not check the payload length. Its callers are cmd/beachhost and
// cmd/beachclient.
func WriteEnvelope(w io.Writer, payload []byte) error {
	hdr := make([]byte, envHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], envMagic)
	hdr[4] = envVersion
	hdr[5] = envFlagChecksum
	binary.LittleEndian.PutUint32(hdr[6:10], uint32(len(payload)))
	checksum := crc32.ChecksumIEEE(payload)
	binary.LittleEndian.PutUint32(hdr[10:14], checksum)
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("write envelope header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write envelope payload: %w", err)
	}
	return nil
}

// ReadEnvelope reads one framed payload from r.
func ReadEnvelope(r io.Reader) ([]byte, error) {
	hdr := make([]byte, envHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("read envelope header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != envMagic {
		return nil, ErrBadMagic
	}
	if hdr[4] != envVersion {
		return nil, ErrBadVersion
	}
	flags := hdr[5]
	payloadLen := binary.LittleEndian.Uint32(hdr[6:10])
	checksum := binary.LittleEndian.Uint32(hdr[10:14])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadShort, err)
	}
	if flags&envFlagChecksum != 0 {
		if crc32.ChecksumIEEE(payload) != checksum {
			return nil, ErrChecksum
		}
	}
	return payload, nil
}

// --- primitive helpers -------------------------------------------------

func putString(buf *bytes.Buffer, s string) {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(s)))
	buf.Write(lenBytes[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.Len()) {
		return "", ErrPayloadShort
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func putBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func putU64Slice(buf *bytes.Buffer, vals []uint64) {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(vals)))
	buf.Write(lenBytes[:])
	for _, v := range vals {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}
}

func readU64Slice(r *bytes.Reader) ([]uint64, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.Len())/8+1 {
		return nil, ErrPayloadShort
	}
	out := make([]uint64, n)
	for i := range out {
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// --- Update -------------------------------------------------------------

func putUpdate(buf *bytes.Buffer, u Update) {
	buf.WriteByte(byte(u.Kind))
	switch u.Kind {
	case UpdCell:
		binary.Write(buf, binary.LittleEndian, u.Row)
		binary.Write(buf, binary.LittleEndian, u.Col)
		binary.Write(buf, binary.LittleEndian, u.Seq)
		binary.Write(buf, binary.LittleEndian, u.Cell)
	case UpdRow:
		binary.Write(buf, binary.LittleEndian, u.Row)
		binary.Write(buf, binary.LittleEndian, u.Seq)
		putU64Slice(buf, u.Cells)
	case UpdRect:
		binary.Write(buf, binary.LittleEndian, u.Rows[0])
		binary.Write(buf, binary.LittleEndian, u.Rows[1])
		binary.Write(buf, binary.LittleEndian, u.Cols[0])
		binary.Write(buf, binary.LittleEndian, u.Cols[1])
		binary.Write(buf, binary.LittleEndian, u.Seq)
		binary.Write(buf, binary.LittleEndian, u.Cell)
	case UpdRowSegment:
		binary.Write(buf, binary.LittleEndian, u.Row)
		binary.Write(buf, binary.LittleEndian, u.StartCol)
		binary.Write(buf, binary.LittleEndian, u.Seq)
		putU64Slice(buf, u.Cells)
	case UpdTrim:
		binary.Write(buf, binary.LittleEndian, u.Start)
		binary.Write(buf, binary.LittleEndian, u.Count)
		binary.Write(buf, binary.LittleEndian, u.Seq)
	case UpdStyle:
		binary.Write(buf, binary.LittleEndian, u.StyleId)
		binary.Write(buf, binary.LittleEndian, u.Seq)
		binary.Write(buf, binary.LittleEndian, u.Fg)
		binary.Write(buf, binary.LittleEndian, u.Bg)
		buf.WriteByte(u.Attrs)
	}
}

func readUpdate(r *bytes.Reader) (Update, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Update{}, err
	}
	kind := UpdateKind(kindByte)
	var u Update
	u.Kind = kind
	switch kind {
	case UpdCell:
		if err := binary.Read(r, binary.LittleEndian, &u.Row); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Col); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Seq); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Cell); err != nil {
			return u, err
		}
	case UpdRow:
		if err := binary.Read(r, binary.LittleEndian, &u.Row); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Seq); err != nil {
			return u, err
		}
		cells, err := readU64Slice(r)
		if err != nil {
			return u, err
		}
		u.Cells = cells
	case UpdRect:
		if err := binary.Read(r, binary.LittleEndian, &u.Rows[0]); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Rows[1]); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Cols[0]); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Cols[1]); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Seq); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Cell); err != nil {
			return u, err
		}
	case UpdRowSegment:
		if err := binary.Read(r, binary.LittleEndian, &u.Row); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.StartCol); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Seq); err != nil {
			return u, err
		}
		cells, err := readU64Slice(r)
		if err != nil {
			return u, err
		}
		u.Cells = cells
	case UpdTrim:
		if err := binary.Read(r, binary.LittleEndian, &u.Start); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Count); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Seq); err != nil {
			return u, err
		}
	case UpdStyle:
		if err := binary.Read(r, binary.LittleEndian, &u.StyleId); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Seq); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Fg); err != nil {
			return u, err
		}
		if err := binary.Read(r, binary.LittleEndian, &u.Bg); err != nil {
			return u, err
		}
		attrs, err := r.ReadByte()
		if err != nil {
			return u, err
		}
		u.Attrs = attrs
	default:
		return u, fmt.Errorf("%w: update kind %d", ErrUnknownFrame, kind)
	}
	return u, nil
}

func putUpdates(buf *bytes.Buffer, updates []Update) {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(updates)))
	buf.Write(lenBytes[:])
	for _, u := range updates {
		putUpdate(buf, u)
	}
}

func readUpdates(r *bytes.Reader) ([]Update, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]Update, 0, n)
	for i := uint32(0); i < n; i++ {
		u, err := readUpdate(r)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func putCursor(buf *bytes.Buffer, c *CursorFrame) {
	if c == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	binary.Write(buf, binary.LittleEndian, c.Row)
	binary.Write(buf, binary.LittleEndian, c.Col)
	binary.Write(buf, binary.LittleEndian, c.Seq)
	putBool(buf, c.Visible)
	putBool(buf, c.Blink)
}

func readCursor(r *bytes.Reader) (*CursorFrame, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	c := &CursorFrame{}
	if err := binary.Read(r, binary.LittleEndian, &c.Row); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &c.Col); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &c.Seq); err != nil {
		return nil, err
	}
	visible, err := readBool(r)
	if err != nil {
		return nil, err
	}
	blink, err := readBool(r)
	if err != nil {
		return nil, err
	}
	c.Visible, c.Blink = visible, blink
	return c, nil
}

func putSyncConfig(buf *bytes.Buffer, cfg SyncConfig) {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(cfg.SnapshotBudgets)))
	buf.Write(lenBytes[:])
	for _, b := range cfg.SnapshotBudgets {
		buf.WriteByte(byte(b.Lane))
		binary.Write(buf, binary.LittleEndian, b.MaxUpdates)
	}
	binary.Write(buf, binary.LittleEndian, cfg.DeltaBudget)
	binary.Write(buf, binary.LittleEndian, cfg.HeartbeatMs)
	binary.Write(buf, binary.LittleEndian, cfg.InitialSnapshotLines)
}

func readSyncConfig(r *bytes.Reader) (SyncConfig, error) {
	var cfg SyncConfig
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return cfg, err
	}
	for i := uint32(0); i < n; i++ {
		laneByte, err := r.ReadByte()
		if err != nil {
			return cfg, err
		}
		var maxUpdates uint32
		if err := binary.Read(r, binary.LittleEndian, &maxUpdates); err != nil {
			return cfg, err
		}
		cfg.SnapshotBudgets = append(cfg.SnapshotBudgets, SnapshotBudget{Lane: Lane(laneByte), MaxUpdates: maxUpdates})
	}
	if err := binary.Read(r, binary.LittleEndian, &cfg.DeltaBudget); err != nil {
		return cfg, err
	}
	if err := binary.Read(r, binary.LittleEndian, &cfg.HeartbeatMs); err != nil {
		return cfg, err
	}
	if err := binary.Read(r, binary.LittleEndian, &cfg.InitialSnapshotLines); err != nil {
		return cfg, err
	}
	return cfg, nil
}
