// Package wal implements the write-ahead log that makes the KV engine's
// two-phase commit crash-recoverable. The engine appends every page of a
// generation plus its meta image, terminated by a commit record, and
// fsyncs before touching the main file; once the generation is durably
// applied it checkpoints, which simply truncates the log. A crash between
// "pages written" and "meta written" is repaired by replaying the one
// committed generation left in the log.
package wal

import (
	"encoding/binary"
	"hash/crc32"
)

// Op identifies what an Entry records.
type Op byte

const (
	// OpPage carries one page image destined for page pointer Ptr.
	OpPage Op = 1
	// OpMeta carries the meta page image of the generation being committed.
	OpMeta Op = 2
	// OpCommit terminates a generation: everything before it is complete.
	OpCommit Op = 3
)

// MetaPtr is the sentinel Ptr value carried by OpMeta entries.
const MetaPtr = ^uint64(0)

// Entry is one log record.
type Entry struct {
	LSN        uint64
	Generation uint64
	Op         Op
	Ptr        uint64
	Data       []byte
}

// On disk each record is framed | payloadLen u32 | crc u32 | payload |,
// with the checksum over the payload:
// | lsn u64 | generation u64 | op u8 | ptr u64 | data |.
// A torn tail write fails either the length read or the checksum, so
// replay stops cleanly at the last intact record.
const (
	frameHeader   = 8
	payloadHeader = 25

	// maxFrame bounds a frame read so a corrupt length field cannot ask
	// for an absurd allocation; page images are the largest payloads.
	maxFrame = 1 << 20
)

func (e *Entry) encode() []byte {
	buf := make([]byte, frameHeader+payloadHeader+len(e.Data))
	payload := buf[frameHeader:]
	binary.LittleEndian.PutUint64(payload[0:8], e.LSN)
	binary.LittleEndian.PutUint64(payload[8:16], e.Generation)
	payload[16] = byte(e.Op)
	binary.LittleEndian.PutUint64(payload[17:25], e.Ptr)
	copy(payload[payloadHeader:], e.Data)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(payload))
	return buf
}

func decodePayload(payload []byte) (*Entry, error) {
	if len(payload) < payloadHeader {
		return nil, ErrTruncated
	}
	e := &Entry{
		LSN:        binary.LittleEndian.Uint64(payload[0:8]),
		Generation: binary.LittleEndian.Uint64(payload[8:16]),
		Op:         Op(payload[16]),
		Ptr:        binary.LittleEndian.Uint64(payload[17:25]),
	}
	if len(payload) > payloadHeader {
		e.Data = append([]byte(nil), payload[payloadHeader:]...)
	}
	return e, nil
}
