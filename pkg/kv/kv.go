// Package kv implements the transactional key-value engine everything
// else stores its tables in: a copy-on-write B+Tree, a page cache over
// positional file reads, dual checksummed meta slots, a free-page chain
// rewritten on every commit, and a truncating write-ahead log for crash
// recovery. It is deliberately the one place in the module that touches
// the filesystem directly.
package kv

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/branchfs/branchfs/pkg/kv/btree"
	"github.com/branchfs/branchfs/pkg/kv/wal"
)

// Page 0 holds two meta slots. Commits alternate between them by
// generation parity, so a torn meta write can only damage the slot the
// previous generation no longer needs; the survivor is found by checksum
// and highest generation at open.
const (
	metaSignature = "bfs-kv02"
	metaSlotSize  = 64
	metaPageSize  = 2 * metaSlotSize
)

// meta is the durable engine state one slot describes.
type meta struct {
	generation uint64
	root       uint64
	flushed    uint64 // pages 0..flushed-1 exist in the file
	freeHead   uint64 // head of the free-page chain, 0 when empty
}

// DB is a single open database file, holding one B+Tree partitioned into
// named Tables by key prefix (see table.go).
type DB struct {
	Path string

	file *os.File
	tree btree.Tree
	free freeSet
	meta meta

	cache map[uint64][]byte // clean pages faulted in from disk
	dirty map[uint64][]byte // recycled pages rewritten by the open transaction
	fresh [][]byte          // pages appended by the open transaction, ids meta.flushed+i

	// log backs crash recovery of the commit protocol; lives at
	// "<Path>.wal" and is emptied after every durable commit.
	log *wal.Log

	writerMu    sync.Mutex
	writerGuard sync.Mutex
	writerOwner any // the *Tx currently holding the writer lock, nil if free
}

// Open opens or creates the database file at db.Path, first replaying any
// committed-but-unapplied generation its write-ahead log holds.
func (db *DB) Open() error {
	file, err := openFileSyncDir(db.Path)
	if err != nil {
		return err
	}
	db.file = file

	db.log = &wal.Log{Path: db.Path + ".wal"}
	if err := db.log.Open(); err != nil {
		return err
	}
	if err := db.log.Replay(func(ptr uint64, data []byte) error {
		if ptr == wal.MetaPtr {
			_, err := file.WriteAt(data, 0)
			return err
		}
		_, err := file.WriteAt(data, int64(ptr*btree.PageSize))
		return err
	}); err != nil {
		return fmt.Errorf("kv: wal replay: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("kv: fsync after replay: %w", err)
	}

	db.cache = map[uint64][]byte{}
	db.dirty = map[uint64][]byte{}

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("kv: stat: %w", err)
	}
	if stat.Size() == 0 {
		db.meta = meta{flushed: 1}
	} else {
		if err := db.loadMeta(); err != nil {
			return err
		}
		db.tree.SetRoot(db.meta.root)
		if err := db.free.load(db.meta.freeHead, db.pageRead); err != nil {
			return err
		}
	}

	db.tree.SetCallbacks(db.pageRead, db.pageAlloc, db.pageFree)
	return nil
}

// Close releases the log and the file descriptor.
func (db *DB) Close() error {
	if db.log != nil {
		if err := db.log.Close(); err != nil {
			return err
		}
	}
	return db.file.Close()
}

// Generation returns the commit generation as of the last successful
// commit observed by this process (monotonically increasing).
func (db *DB) Generation() uint64 {
	return db.meta.generation
}

// Get reads a key without opening an explicit transaction (a single-key
// snapshot read).
func (db *DB) Get(key []byte) ([]byte, bool) {
	return db.tree.Get(key)
}

// Scan performs a snapshot range scan starting at start.
func (db *DB) Scan(start []byte, fn func(key, val []byte) bool) {
	db.tree.Scan(start, fn)
}

// Set is a single-key convenience wrapper around Begin/Commit, for callers
// that don't need multi-key atomicity.
func (db *DB) Set(ctx context.Context, key, val []byte) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	tx.Set(key, val)
	return tx.Commit()
}

// Del is the single-key counterpart to Set.
func (db *DB) Del(ctx context.Context, key []byte) (bool, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return false, err
	}
	deleted := tx.Del(key)
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return deleted, nil
}

// pageRead resolves a page pointer: the open transaction's rewrites and
// appends first, then the cache, then the file.
func (db *DB) pageRead(ptr uint64) []byte {
	if page, ok := db.dirty[ptr]; ok {
		return page
	}
	if ptr >= db.meta.flushed {
		idx := ptr - db.meta.flushed
		if idx < uint64(len(db.fresh)) {
			return db.fresh[idx]
		}
		panic(fmt.Sprintf("kv: bad page pointer %d (flushed=%d fresh=%d)", ptr, db.meta.flushed, len(db.fresh)))
	}
	if page, ok := db.cache[ptr]; ok {
		return page
	}
	page := make([]byte, btree.PageSize)
	if _, err := db.file.ReadAt(page, int64(ptr*btree.PageSize)); err != nil {
		panic(fmt.Sprintf("kv: read page %d: %v", ptr, err))
	}
	db.cache[ptr] = page
	return page
}

func (db *DB) pageAlloc(page []byte) uint64 {
	if len(page) != btree.PageSize {
		panic("kv: page size mismatch")
	}
	if ptr := db.free.pop(); ptr != 0 {
		db.dirty[ptr] = page
		return ptr
	}
	return db.pageAppend(page)
}

func (db *DB) pageAppend(page []byte) uint64 {
	if len(page) != btree.PageSize {
		panic("kv: page size mismatch")
	}
	ptr := db.meta.flushed + uint64(len(db.fresh))
	db.fresh = append(db.fresh, page)
	return ptr
}

func (db *DB) pageFree(ptr uint64) {
	if ptr >= db.meta.flushed {
		// Never flushed: the buffer just evaporates with the transaction.
		return
	}
	delete(db.dirty, ptr)
	db.free.release(ptr)
}

func encodeMetaSlot(m meta) []byte {
	slot := make([]byte, metaSlotSize)
	copy(slot[0:8], metaSignature)
	binary.LittleEndian.PutUint64(slot[8:16], m.generation)
	binary.LittleEndian.PutUint64(slot[16:24], m.root)
	binary.LittleEndian.PutUint64(slot[24:32], m.flushed)
	binary.LittleEndian.PutUint64(slot[32:40], m.freeHead)
	binary.LittleEndian.PutUint32(slot[40:44], crc32.ChecksumIEEE(slot[:40]))
	return slot
}

func decodeMetaSlot(slot []byte) (meta, bool) {
	if string(slot[0:8]) != metaSignature {
		return meta{}, false
	}
	if binary.LittleEndian.Uint32(slot[40:44]) != crc32.ChecksumIEEE(slot[:40]) {
		return meta{}, false
	}
	m := meta{
		generation: binary.LittleEndian.Uint64(slot[8:16]),
		root:       binary.LittleEndian.Uint64(slot[16:24]),
		flushed:    binary.LittleEndian.Uint64(slot[24:32]),
		freeHead:   binary.LittleEndian.Uint64(slot[32:40]),
	}
	if m.flushed == 0 {
		return meta{}, false
	}
	return m, true
}

// loadMeta picks the valid slot with the highest generation.
func (db *DB) loadMeta() error {
	buf := make([]byte, metaPageSize)
	if _, err := db.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("kv: read meta page: %w", err)
	}
	found := false
	var best meta
	for slot := 0; slot < 2; slot++ {
		m, ok := decodeMetaSlot(buf[slot*metaSlotSize : (slot+1)*metaSlotSize])
		if ok && (!found || m.generation > best.generation) {
			found = true
			best = m
		}
	}
	if !found {
		return ErrCorrupt
	}
	db.meta = best
	return nil
}

// buildMetaPage lays out both slots: the previous generation's meta in
// its parity slot, the new one in the other.
func buildMetaPage(prev, next meta) []byte {
	page := make([]byte, metaPageSize)
	copy(page[(prev.generation%2)*metaSlotSize:], encodeMetaSlot(prev))
	copy(page[(next.generation%2)*metaSlotSize:], encodeMetaSlot(next))
	return page
}

// txSnapshot is what a transaction needs to roll the engine's in-memory
// state back: the meta of the generation it started from and the free-set
// state before it popped or released anything.
type txSnapshot struct {
	meta meta
	free freeSnapshot
}

func (db *DB) beginSnapshot() txSnapshot {
	return txSnapshot{meta: db.meta, free: db.free.snapshot()}
}

func (db *DB) rollback(s txSnapshot) {
	db.meta = s.meta
	db.tree.SetRoot(s.meta.root)
	db.free.restore(s.free)
	db.dirty = map[uint64][]byte{}
	db.fresh = nil
}

// commit makes the open transaction durable: persist the free set, log
// the generation, write the pages, fsync, write the meta slot, fsync,
// checkpoint the log. Any failure before the meta write rolls the
// in-memory state back; the on-disk meta still describes the previous
// generation, so partially written pages are unreachable garbage.
func (db *DB) commit(s txSnapshot) error {
	prev := db.meta
	db.meta.generation++
	db.meta.root = db.tree.Root()
	db.meta.freeHead = db.free.persist(db.pageAppend)
	db.meta.flushed = s.meta.flushed + uint64(len(db.fresh))
	metaPage := buildMetaPage(prev, db.meta)

	if err := db.logGeneration(s.meta.flushed, metaPage); err != nil {
		db.rollback(s)
		return err
	}
	if err := db.flushPages(s.meta.flushed); err != nil {
		db.rollback(s)
		return err
	}
	if err := db.file.Sync(); err != nil {
		db.rollback(s)
		return err
	}
	if _, err := db.file.WriteAt(metaPage, 0); err != nil {
		db.rollback(s)
		return fmt.Errorf("kv: write meta page: %w", err)
	}
	if err := db.file.Sync(); err != nil {
		db.rollback(s)
		return err
	}

	if db.log != nil {
		if err := db.log.Checkpoint(db.meta.generation); err != nil {
			return fmt.Errorf("kv: wal checkpoint: %w", err)
		}
	}
	db.free.commitStaged()
	return nil
}

// logGeneration appends every page of the generation plus the meta image
// to the write-ahead log and fsyncs it, so a crash partway through
// flushPages below is replayed from here instead of corrupting the tree.
func (db *DB) logGeneration(oldFlushed uint64, metaPage []byte) error {
	if db.log == nil {
		return nil
	}
	gen := db.meta.generation
	for ptr, page := range db.dirty {
		e := &wal.Entry{LSN: db.log.NextLSN(), Generation: gen, Op: wal.OpPage, Ptr: ptr, Data: page}
		if err := db.log.Append(e); err != nil {
			return err
		}
	}
	for i, page := range db.fresh {
		e := &wal.Entry{LSN: db.log.NextLSN(), Generation: gen, Op: wal.OpPage, Ptr: oldFlushed + uint64(i), Data: page}
		if err := db.log.Append(e); err != nil {
			return err
		}
	}
	m := &wal.Entry{LSN: db.log.NextLSN(), Generation: gen, Op: wal.OpMeta, Ptr: wal.MetaPtr, Data: metaPage}
	if err := db.log.Append(m); err != nil {
		return err
	}
	if err := db.log.Append(&wal.Entry{LSN: db.log.NextLSN(), Generation: gen, Op: wal.OpCommit}); err != nil {
		return err
	}
	return db.log.Fsync()
}

// flushPages writes the transaction's rewrites and appends to the file
// and promotes them into the clean-page cache.
func (db *DB) flushPages(oldFlushed uint64) error {
	for ptr, page := range db.dirty {
		if _, err := db.file.WriteAt(page, int64(ptr*btree.PageSize)); err != nil {
			return err
		}
		db.cache[ptr] = page
	}
	for i, page := range db.fresh {
		ptr := oldFlushed + uint64(i)
		if _, err := db.file.WriteAt(page, int64(ptr*btree.PageSize)); err != nil {
			return err
		}
		db.cache[ptr] = page
	}
	db.dirty = map[uint64][]byte{}
	db.fresh = nil
	return nil
}

func openFileSyncDir(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("kv: open file: %w", err)
	}
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("kv: open directory: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("kv: fsync directory: %w", err)
	}
	return file, nil
}

// Begin opens a write transaction, blocking until the writer lock is free
// or ctx is done. Reentrant Begin from a trail that already holds the
// lock returns ErrDeadlock immediately rather than blocking forever.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	db.writerGuard.Lock()
	owner := db.writerOwner
	db.writerGuard.Unlock()
	if owner != nil {
		if t, ok := ctx.Value(txOwnerKey{}).(*Tx); ok && t == owner {
			return nil, ErrDeadlock
		}
	}

	backoff := time.Millisecond
	for !db.writerMu.TryLock() {
		select {
		case <-ctx.Done():
			return nil, ErrDeadlock
		case <-time.After(backoff):
		}
		if backoff < 20*time.Millisecond {
			backoff *= 2
		}
	}

	tx := &Tx{db: db, snap: db.beginSnapshot()}
	db.writerGuard.Lock()
	db.writerOwner = tx
	db.writerGuard.Unlock()
	return tx, nil
}

type txOwnerKey struct{}

// WithTxOwner tags a context so a nested Begin call against the same Tx's
// DB can detect the reentrancy and report ErrDeadlock rather than
// deadlocking on the writer mutex.
func WithTxOwner(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txOwnerKey{}, tx)
}
