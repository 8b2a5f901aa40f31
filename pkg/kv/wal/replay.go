package wal

// ApplyFunc applies one replayed image to the main database file: a page
// at its page pointer, or the meta image when ptr is MetaPtr. It must be
// idempotent, since replay may reapply images that already reached disk.
type ApplyFunc func(ptr uint64, data []byte) error

// Replay streams the log once, buffering each generation's page and meta
// images and handing them to apply when the generation's commit record is
// reached. A trailing generation with no commit record — the process died
// mid-append — is discarded: its meta image never hit the main file
// either, so the previous generation is still the consistent one.
func (l *Log) Replay(apply ApplyFunc) error {
	l.mu.Lock()
	entries, err := l.readAllLocked()
	l.mu.Unlock()
	if err != nil {
		return err
	}

	var pending []*Entry
	var gen uint64
	for _, e := range entries {
		if e.Generation != gen {
			pending = pending[:0]
			gen = e.Generation
		}
		switch e.Op {
		case OpPage, OpMeta:
			pending = append(pending, e)
		case OpCommit:
			for _, p := range pending {
				if err := apply(p.Ptr, p.Data); err != nil {
					return err
				}
			}
			pending = pending[:0]
		}
	}
	return nil
}
