package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// objectFn returns the sharded path of an object: the first two hex
// characters of the fingerprint select the bucket, bounding directory
// fan-out.
func (st *Store) objectFn(fp string) string {
	return filepath.Join(st.base, "object", fp[:2], fp+".json")
}

// relFn returns the path of a relation index stored alongside an object
// (suffix "_l.idx" for likes, "_a.idx" for announces, "_c.idx" for
// children).
func (st *Store) relFn(fp string, suffix string) string {
	return filepath.Join(st.base, "object", fp[:2], fp+suffix)
}

// Add stores an object under the fingerprint of its id. Adding an id
// that is already stored is idempotent success; the existing document is
// left untouched. Use AddOverwrite for edits.
func (st *Store) Add(id string, obj map[string]interface{}) (string, error) {
	fp := Fingerprint(id)

	if st.HereByFp(fp) {
		return fp, nil
	}

	return fp, st.writeObject(fp, obj)
}

// AddOverwrite stores an object, replacing any previous document with
// the same id. The fingerprint doesn't change.
func (st *Store) AddOverwrite(id string, obj map[string]interface{}) (string, error) {
	fp := Fingerprint(id)
	return fp, st.writeObject(fp, obj)
}

func (st *Store) writeObject(fp string, obj map[string]interface{}) error {
	fn := st.objectFn(fp)

	if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
		return fmt.Errorf("failed to create object bucket: %w", err)
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal object: %w", err)
	}

	mu := st.lockFile(fn)
	mu.Lock()
	defer mu.Unlock()

	// Rewrite an existing object in place. User caches hard-link this
	// inode as the reference count; a rename would allocate a new inode
	// and sever every link.
	if st.HereByFp(fp) {
		f, err := os.OpenFile(fn, os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("failed to rewrite object: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return fmt.Errorf("failed to rewrite object: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to rewrite object: %w", err)
		}
		return nil
	}

	// Write whole, then rename: readers never observe a partial document
	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp, fn); err != nil {
		return fmt.Errorf("failed to store object: %w", err)
	}

	return nil
}

// GetByFp loads an object by fingerprint.
func (st *Store) GetByFp(fp string) (map[string]interface{}, error) {
	fn := st.objectFn(fp)

	data, err := os.ReadFile(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read object %s: %w", fp, err)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		logCorrupt(fn, err)
		return nil, fmt.Errorf("object %s: %w", fp, ErrCorrupt)
	}

	return obj, nil
}

// Get loads an object by id.
func (st *Store) Get(id string) (map[string]interface{}, error) {
	return st.GetByFp(Fingerprint(id))
}

// Here reports whether an object with this id is stored.
func (st *Store) Here(id string) bool {
	return st.HereByFp(Fingerprint(id))
}

func (st *Store) HereByFp(fp string) bool {
	_, err := os.Stat(st.objectFn(fp))
	return err == nil
}

// Del removes an object and its relation indexes. Deleting an absent
// object is a no-op.
func (st *Store) Del(id string) error {
	return st.DelByFp(Fingerprint(id))
}

func (st *Store) DelByFp(fp string) error {
	if err := os.Remove(st.objectFn(fp)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %s: %w", fp, err)
	}

	for _, suffix := range []string{"_l.idx", "_a.idx", "_c.idx"} {
		os.Remove(st.relFn(fp, suffix))
	}

	return nil
}

// DelIfUnref removes an object only when nothing references it anymore.
// References are hard links into user caches (see User.linkCache), so a
// link count of one means only the store itself holds the document.
func (st *Store) DelIfUnref(id string) error {
	fp := Fingerprint(id)

	if nlink(st.objectFn(fp)) > 1 {
		return nil
	}

	return st.DelByFp(fp)
}

func nlink(fn string) int {
	fi, err := os.Stat(fn)
	if err != nil {
		return 0
	}
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		return int(sys.Nlink)
	}
	return 1
}

// CTimeByFp returns the creation time of a stored object, approximated
// by the inode change time: it tracks the last explicit write while the
// modification time is owned by Touch.
func (st *Store) CTimeByFp(fp string) (time.Time, error) {
	fi, err := os.Stat(st.objectFn(fp))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, err
	}
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		return time.Unix(sys.Ctim.Sec, sys.Ctim.Nsec), nil
	}
	return fi.ModTime(), nil
}

// MTimeByFp returns the last modification time of a stored object.
func (st *Store) MTimeByFp(fp string) (time.Time, error) {
	fi, err := os.Stat(st.objectFn(fp))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (st *Store) MTime(id string) (time.Time, error) {
	return st.MTimeByFp(Fingerprint(id))
}

// Touch refreshes an object's modification time, e.g. after a cached
// actor document was re-validated without changing.
func (st *Store) Touch(id string) error {
	now := time.Now()
	return os.Chtimes(st.objectFn(Fingerprint(id)), now, now)
}

// ChtimesByFp backdates an object's modification time.
func (st *Store) ChtimesByFp(fp string, t time.Time) error {
	return os.Chtimes(st.objectFn(fp), t, t)
}
