package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
	"sync/atomic"
)

// Log is a single append-only log file. It never rotates: the engine
// checkpoints after every commit, and a checkpoint empties the file, so
// at any moment the log holds at most one generation plus, after a crash,
// a possibly torn tail.
type Log struct {
	// Path is the log file itself.
	Path string

	mu     sync.Mutex
	f      *os.File
	lsn    uint64
	closed bool
}

// Open opens or creates the log, resuming LSN numbering past whatever an
// unclean shutdown left behind.
func (l *Log) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.Path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open: %w", err)
	}
	l.f = f
	l.closed = false

	entries, err := l.readAllLocked()
	if err != nil {
		return err
	}
	var max uint64
	for _, e := range entries {
		if e.LSN > max {
			max = e.LSN
		}
	}
	atomic.StoreUint64(&l.lsn, max)
	return nil
}

// NextLSN returns the next log sequence number.
func (l *Log) NextLSN() uint64 {
	return atomic.AddUint64(&l.lsn, 1)
}

// Append writes one record without fsyncing; call Fsync once per batch.
func (l *Log) Append(e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}
	_, err := l.f.Write(e.encode())
	return err
}

// Fsync persists everything appended so far.
func (l *Log) Fsync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}
	return l.f.Sync()
}

// Checkpoint records that every generation up to and including gen is
// durably applied to the main database file, by emptying the log. Called
// by the engine right after each successful commit; a crash between the
// commit and the truncate merely replays an already-applied generation,
// which is idempotent.
func (l *Log) Checkpoint(gen uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("wal: checkpoint truncate: %w", err)
	}
	return l.f.Sync()
}

// Close closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}

// readAllLocked reads every intact record, stopping silently at the first
// torn or corrupt one (the tail a crash left behind).
func (l *Log) readAllLocked() ([]*Entry, error) {
	var out []*Entry
	var off int64
	header := make([]byte, frameHeader)
	for {
		if _, err := l.f.ReadAt(header, off); err != nil {
			break
		}
		size := binary.LittleEndian.Uint32(header[0:4])
		crc := binary.LittleEndian.Uint32(header[4:8])
		if size < payloadHeader || size > maxFrame {
			break
		}
		payload := make([]byte, size)
		if _, err := l.f.ReadAt(payload, off+frameHeader); err != nil {
			break
		}
		if crc32.ChecksumIEEE(payload) != crc {
			break
		}
		e, err := decodePayload(payload)
		if err != nil {
			break
		}
		out = append(out, e)
		off += frameHeader + int64(size)
	}
	return out, nil
}
