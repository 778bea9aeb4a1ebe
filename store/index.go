package store

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Index files are append-only logs of fixed-size records: a fingerprint
// plus a newline. Insertion order is chronological (ids are
// time-ordered), so ascending/descending cursors just walk the file from
// either end in recSize steps instead of loading the whole collection.
const recSize = FpSize + 1

// IndexAppend appends a fingerprint to an index log.
func (st *Store) IndexAppend(fn string, fp string) error {
	if !ValidFp(fp) {
		return fmt.Errorf("index %s: bad fingerprint %q", fn, fp)
	}

	mu := st.lockFile(fn)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	f, err := os.OpenFile(fn, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open index %s: %w", fn, err)
	}
	defer f.Close()

	// One whole record per write: concurrent readers never see a torn one
	if _, err := f.Write([]byte(fp + "\n")); err != nil {
		return fmt.Errorf("failed to append to index %s: %w", fn, err)
	}

	return nil
}

// IndexContains reports whether a fingerprint is present (and not
// logically deleted) in an index.
func (st *Store) IndexContains(fn string, fp string) (bool, error) {
	f, err := os.Open(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	rec := make([]byte, recSize)
	want := []byte(fp)
	for {
		if _, err := io.ReadFull(f, rec); err != nil {
			return false, nil
		}
		if bytes.Equal(rec[:FpSize], want) {
			return true, nil
		}
	}
}

// IndexDel logically deletes an entry by overwriting its record with the
// already-seen mark. The log is only compacted by IndexGC.
func (st *Store) IndexDel(fn string, fp string) error {
	mu := st.lockFile(fn)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(fn, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open index %s: %w", fn, err)
	}
	defer f.Close()

	rec := make([]byte, recSize)
	want := []byte(fp)
	for pos := int64(0); ; pos += recSize {
		if _, err := f.ReadAt(rec, pos); err != nil {
			return nil
		}
		if bytes.Equal(rec[:FpSize], want) {
			if _, err := f.WriteAt([]byte(AlreadySeenMark+"\n"), pos); err != nil {
				return fmt.Errorf("failed to mark index entry in %s: %w", fn, err)
			}
			return nil
		}
	}
}

// IndexFirst returns the oldest live entry of an index.
func (st *Store) IndexFirst(fn string) (string, error) {
	c, err := st.IndexAsc(fn, "")
	if err != nil {
		return "", err
	}
	defer c.Close()

	if fp, ok := c.Next(); ok {
		return fp, nil
	}
	return "", ErrNotFound
}

// IndexLen returns the number of records in an index, including the
// logically deleted ones.
func (st *Store) IndexLen(fn string) (int, error) {
	fi, err := os.Stat(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return int(fi.Size() / recSize), nil
}

// IndexGC compacts an index, dropping logically deleted entries and
// entries whose object no longer exists. Returns how many were removed.
func (st *Store) IndexGC(fn string) (int, error) {
	mu := st.lockFile(fn)
	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var kept []byte
	removed := 0
	for pos := 0; pos+recSize <= len(data); pos += recSize {
		fp := string(data[pos : pos+FpSize])
		if fp == AlreadySeenMark || !ValidFp(fp) || !st.HereByFp(fp) {
			removed++
			continue
		}
		kept = append(kept, data[pos:pos+recSize]...)
	}

	if removed == 0 {
		return 0, nil
	}

	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, kept, 0644); err != nil {
		return 0, fmt.Errorf("failed to compact index %s: %w", fn, err)
	}
	if err := os.Rename(tmp, fn); err != nil {
		return 0, fmt.Errorf("failed to compact index %s: %w", fn, err)
	}

	return removed, nil
}

// IndexCursor iterates over an index log one fingerprint at a time,
// skipping marked and malformed records.
type IndexCursor struct {
	f   *os.File
	pos int64
	asc bool
}

// IndexDesc returns a cursor walking an index from its newest entry
// backwards.
func (st *Store) IndexDesc(fn string) (*IndexCursor, error) {
	f, err := os.Open(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return &IndexCursor{}, nil
		}
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	// Ignore a torn trailing record, if any
	size := fi.Size() - fi.Size()%recSize

	return &IndexCursor{f: f, pos: size}, nil
}

// IndexAsc returns a cursor walking an index forward, starting at the
// entry matching seekFp (inclusive). An empty seekFp starts at the
// beginning; a seekFp that isn't present yields an exhausted cursor.
func (st *Store) IndexAsc(fn string, seekFp string) (*IndexCursor, error) {
	f, err := os.Open(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return &IndexCursor{asc: true}, nil
		}
		return nil, err
	}

	c := &IndexCursor{f: f, asc: true}
	if seekFp == "" {
		return c, nil
	}

	rec := make([]byte, recSize)
	want := []byte(seekFp)
	for pos := int64(0); ; pos += recSize {
		if _, err := f.ReadAt(rec, pos); err != nil {
			// Seek target not in the index: nothing to iterate
			c.pos = -1
			return c, nil
		}
		if bytes.Equal(rec[:FpSize], want) {
			c.pos = pos
			return c, nil
		}
	}
}

// Next returns the next live fingerprint, or ok=false at the end.
func (c *IndexCursor) Next() (string, bool) {
	if c.f == nil || c.pos < 0 {
		return "", false
	}

	rec := make([]byte, recSize)
	for {
		if !c.asc {
			c.pos -= recSize
			if c.pos < 0 {
				return "", false
			}
		}

		if _, err := c.f.ReadAt(rec, c.pos); err != nil {
			return "", false
		}

		if c.asc {
			c.pos += recSize
		}

		fp := string(rec[:FpSize])
		if fp == AlreadySeenMark || !ValidFp(fp) {
			continue
		}
		return fp, true
	}
}

func (c *IndexCursor) Close() error {
	if c.f == nil {
		return nil
	}
	return c.f.Close()
}

// IndexList returns up to max live entries in insertion order (all of
// them when max is 0).
func (st *Store) IndexList(fn string, max int) ([]string, error) {
	c, err := st.IndexAsc(fn, "")
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var out []string
	for {
		fp, ok := c.Next()
		if !ok {
			break
		}
		out = append(out, fp)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out, nil
}
