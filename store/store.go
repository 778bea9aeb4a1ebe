package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrNotFound means the object or index entry doesn't exist. Callers
	// treat it as an empty result, never as a failure.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt means an on-disk record failed to parse. It is logged and
	// the record is skipped; it never propagates as a crash.
	ErrCorrupt = errors.New("corrupt record")

	// ErrLayoutTooNew means the data directory was written by a newer
	// version. Fatal at startup, the only error that may halt the process.
	ErrLayoutTooNew = errors.New("disk layout newer than supported")
)

// Store is the content-addressed object store plus its index files. It is
// the sole writer of everything under its base directory; all other
// components go through its methods.
type Store struct {
	base     string
	idxLocks *xsync.MapOf[string, *sync.Mutex]
}

// Open opens (or creates) a data directory, refusing to run against a
// layout newer than this version and migrating forward from older ones.
func Open(base string) (*Store, error) {
	st := &Store{
		base:     base,
		idxLocks: xsync.NewMapOf[string, *sync.Mutex](),
	}

	for _, dir := range []string{
		base,
		filepath.Join(base, "object"),
		filepath.Join(base, "queue"),
		filepath.Join(base, "error"),
		filepath.Join(base, "user"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if err := st.upgradeLayout(); err != nil {
		return nil, err
	}

	return st, nil
}

func (st *Store) Base() string {
	return st.base
}

// QueueDir is the shared (instance-wide) queue directory.
func (st *Store) QueueDir() string {
	return filepath.Join(st.base, "queue")
}

// ErrorDir holds dead-lettered queue items for operator inspection.
func (st *Store) ErrorDir() string {
	return filepath.Join(st.base, "error")
}

// InstanceIndexFn is the index file backing the instance-wide public
// timeline.
func (st *Store) InstanceIndexFn() string {
	return filepath.Join(st.base, "public.idx")
}

// TagIndexFn is the index file for a hashtag collection.
func (st *Store) TagIndexFn(tag string) string {
	return filepath.Join(st.base, "tag", Fingerprint(normalizeTag(tag))+".idx")
}

func normalizeTag(tag string) string {
	for len(tag) > 0 && tag[0] == '#' {
		tag = tag[1:]
	}
	b := []byte(tag)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// lockFile serializes writers per file, for index logs and in-place
// object rewrites. Index readers don't take it: the logs are
// append-only and records are written whole.
func (st *Store) lockFile(fn string) *sync.Mutex {
	mu, _ := st.idxLocks.LoadOrCompute(fn, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	return mu
}

func logCorrupt(fn string, err error) {
	log.Printf("Store: skipping corrupt record in %s: %v", fn, err)
}
