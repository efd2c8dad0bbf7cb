package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeHostFrame serializes f into a self-contained payload (not yet
// envelope-framed; see WriteEnvelope/ReadEnvelope for the outer length
// prefix applied at send time).
func EncodeHostFrame(f HostFrame) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(f.Type))
	switch f.Type {
	case FrameHeartbeat:
		binary.Write(&buf, binary.LittleEndian, f.HeartbeatSeq)
		binary.Write(&buf, binary.LittleEndian, f.TimestampMs)
	case FrameHello:
		binary.Write(&buf, binary.LittleEndian, f.Subscription)
		binary.Write(&buf, binary.LittleEndian, f.MaxSeq)
		putSyncConfig(&buf, f.Config)
		binary.Write(&buf, binary.LittleEndian, f.Features)
	case FrameGrid:
		binary.Write(&buf, binary.LittleEndian, f.GridCols)
		binary.Write(&buf, binary.LittleEndian, f.GridHistoryRows)
		binary.Write(&buf, binary.LittleEndian, f.GridBaseRow)
		putBool(&buf, f.HasViewportRows)
		if f.HasViewportRows {
			binary.Write(&buf, binary.LittleEndian, f.GridViewportRows)
		}
	case FrameSnapshot:
		binary.Write(&buf, binary.LittleEndian, f.Subscription)
		buf.WriteByte(byte(f.Lane))
		binary.Write(&buf, binary.LittleEndian, f.Watermark)
		putBool(&buf, f.HasMore)
		putUpdates(&buf, f.Updates)
		putCursor(&buf, f.Cursor)
	case FrameSnapshotComplete:
		binary.Write(&buf, binary.LittleEndian, f.Subscription)
		buf.WriteByte(byte(f.Lane))
	case FrameDelta:
		binary.Write(&buf, binary.LittleEndian, f.Subscription)
		binary.Write(&buf, binary.LittleEndian, f.Watermark)
		putBool(&buf, f.HasMore)
		putUpdates(&buf, f.Updates)
		putCursor(&buf, f.Cursor)
	case FrameHistoryBackfill:
		binary.Write(&buf, binary.LittleEndian, f.Subscription)
		binary.Write(&buf, binary.LittleEndian, f.RequestID)
		binary.Write(&buf, binary.LittleEndian, f.StartRow)
		binary.Write(&buf, binary.LittleEndian, f.Count)
		putUpdates(&buf, f.Updates)
		putBool(&buf, f.More)
		putCursor(&buf, f.Cursor)
	case FrameInputAck:
		binary.Write(&buf, binary.LittleEndian, f.AckSeq)
	case FrameCursor:
		binary.Write(&buf, binary.LittleEndian, f.Subscription)
		putCursor(&buf, f.Cursor)
	case FrameShutdown:
		// no payload
	}
	return buf.Bytes()
}

// DecodeHostFrame parses a payload previously produced by EncodeHostFrame.
func DecodeHostFrame(payload []byte) (HostFrame, error) {
	r := bytes.NewReader(payload)
	typeByte, err := r.ReadByte()
	if err != nil {
		return HostFrame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	f := HostFrame{Type: FrameType(typeByte)}

	readErr := func(err error) (HostFrame, error) {
		if err != nil {
			return HostFrame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return f, nil
	}

	switch f.Type {
	case FrameHeartbeat:
		if err := binary.Read(r, binary.LittleEndian, &f.HeartbeatSeq); err != nil {
			return readErr(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &f.TimestampMs); err != nil {
			return readErr(err)
		}
	case FrameHello:
		if err := binary.Read(r, binary.LittleEndian, &f.Subscription); err != nil {
			return readErr(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &f.MaxSeq); err != nil {
			return readErr(err)
		}
		cfg, err := readSyncConfig(r)
		if err != nil {
			return readErr(err)
		}
		f.Config = cfg
		if err := binary.Read(r, binary.LittleEndian, &f.Features); err != nil {
			return readErr(err)
		}
	case FrameGrid:
		if err := binary.Read(r, binary.LittleEndian, &f.GridCols); err != nil {
			return readErr(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &f.GridHistoryRows); err != nil {
			return readErr(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &f.GridBaseRow); err != nil {
			return readErr(err)
		}
		has, err := readBool(r)
		if err != nil {
			return readErr(err)
		}
		f.HasViewportRows = has
		if has {
			if err := binary.Read(r, binary.LittleEndian, &f.GridViewportRows); err != nil {
				return readErr(err)
			}
		}
	case FrameSnapshot:
		if err := binary.Read(r, binary.LittleEndian, &f.Subscription); err != nil {
			return readErr(err)
		}
		laneByte, err := r.ReadByte()
		if err != nil {
			return readErr(err)
		}
		f.Lane = Lane(laneByte)
		if err := binary.Read(r, binary.LittleEndian, &f.Watermark); err != nil {
			return readErr(err)
		}
		hasMore, err := readBool(r)
		if err != nil {
			return readErr(err)
		}
		f.HasMore = hasMore
		updates, err := readUpdates(r)
		if err != nil {
			return readErr(err)
		}
		f.Updates = updates
		cursor, err := readCursor(r)
		if err != nil {
			return readErr(err)
		}
		f.Cursor = cursor
	case FrameSnapshotComplete:
		if err := binary.Read(r, binary.LittleEndian, &f.Subscription); err != nil {
			return readErr(err)
		}
		laneByte, err := r.ReadByte()
		if err != nil {
			return readErr(err)
		}
		f.Lane = Lane(laneByte)
	case FrameDelta:
		if err := binary.Read(r, binary.LittleEndian, &f.Subscription); err != nil {
			return readErr(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &f.Watermark); err != nil {
			return readErr(err)
		}
		hasMore, err := readBool(r)
		if err != nil {
			return readErr(err)
		}
		f.HasMore = hasMore
		updates, err := readUpdates(r)
		if err != nil {
			return readErr(err)
		}
		f.Updates = updates
		cursor, err := readCursor(r)
		if err != nil {
			return readErr(err)
		}
		f.Cursor = cursor
	case FrameHistoryBackfill:
		if err := binary.Read(r, binary.LittleEndian, &f.Subscription); err != nil {
			return readErr(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &f.RequestID); err != nil {
			return readErr(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &f.StartRow); err != nil {
			return readErr(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &f.Count); err != nil {
			return readErr(err)
		}
		updates, err := readUpdates(r)
		if err != nil {
			return readErr(err)
		}
		f.Updates = updates
		more, err := readBool(r)
		if err != nil {
			return readErr(err)
		}
		f.More = more
		cursor, err := readCursor(r)
		if err != nil {
			return readErr(err)
		}
		f.Cursor = cursor
	case FrameInputAck:
		if err := binary.Read(r, binary.LittleEndian, &f.AckSeq); err != nil {
			return readErr(err)
		}
	case FrameCursor:
		if err := binary.Read(r, binary.LittleEndian, &f.Subscription); err != nil {
			return readErr(err)
		}
		cursor, err := readCursor(r)
		if err != nil {
			return readErr(err)
		}
		f.Cursor = cursor
	case FrameShutdown:
		// no payload
	default:
		return HostFrame{}, fmt.Errorf("%w: host frame type %d", ErrUnknownFrame, f.Type)
	}
	return f, nil
}

// EncodeClientFrame serializes f.
func EncodeClientFrame(f ClientFrame) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(f.Type))
	switch f.Type {
	case FrameInput:
		binary.Write(&buf, binary.LittleEndian, f.InputSeq)
		var lenBytes [4]byte
		binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(f.InputData)))
		buf.Write(lenBytes[:])
		buf.Write(f.InputData)
	case FrameResize:
		binary.Write(&buf, binary.LittleEndian, f.ResizeCols)
		binary.Write(&buf, binary.LittleEndian, f.ResizeRows)
	case FrameRequestBackfill:
		binary.Write(&buf, binary.LittleEndian, f.Subscription)
		binary.Write(&buf, binary.LittleEndian, f.RequestID)
		binary.Write(&buf, binary.LittleEndian, f.StartRow)
		binary.Write(&buf, binary.LittleEndian, f.Count)
	case FrameViewportCommand:
		buf.WriteByte(f.Command)
	case FrameUnknown:
		// no payload; future-compatibility sentinel
	}
	return buf.Bytes()
}

// DecodeClientFrame parses a payload previously produced by
// EncodeClientFrame. An unrecognized leading type byte decodes as
// FrameUnknown rather than erroring — per spec.md §6.2, the server logs and
// ignores unknown client frames rather than treating them as decode errors.
func DecodeClientFrame(payload []byte) (ClientFrame, error) {
	if len(payload) == 0 {
		return ClientFrame{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	r := bytes.NewReader(payload)
	typeByte, _ := r.ReadByte()
	f := ClientFrame{Type: FrameType(typeByte)}

	readErr := func(err error) (ClientFrame, error) {
		if err != nil {
			return ClientFrame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return f, nil
	}

	switch f.Type {
	case FrameInput:
		if err := binary.Read(r, binary.LittleEndian, &f.InputSeq); err != nil {
			return readErr(err)
		}
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return readErr(err)
		}
		if int(n) > r.Len() {
			return readErr(ErrPayloadShort)
		}
		data := make([]byte, n)
		if _, err := r.Read(data); err != nil {
			return readErr(err)
		}
		f.InputData = data
	case FrameResize:
		if err := binary.Read(r, binary.LittleEndian, &f.ResizeCols); err != nil {
			return readErr(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &f.ResizeRows); err != nil {
			return readErr(err)
		}
	case FrameRequestBackfill:
		if err := binary.Read(r, binary.LittleEndian, &f.Subscription); err != nil {
			return readErr(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &f.RequestID); err != nil {
			return readErr(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &f.StartRow); err != nil {
			return readErr(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &f.Count); err != nil {
			return readErr(err)
		}
	case FrameViewportCommand:
		cmd, err := r.ReadByte()
		if err != nil {
			return readErr(err)
		}
		f.Command = cmd
	default:
		// Future-compatibility sentinel: not a decode error, per spec.md §6.2.
		f.Type = FrameUnknown
	}
	return f, nil
}
