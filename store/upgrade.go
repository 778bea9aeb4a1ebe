package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// layoutVersion is the disk layout this build writes. The layout file in
// the data directory records what is on disk; startup refuses anything
// newer and migrates anything older, one numbered step at a time.
const layoutVersion = 3

func (st *Store) layoutFn() string {
	return filepath.Join(st.base, "layout")
}

func (st *Store) readLayout() (int, error) {
	data, err := os.ReadFile(st.layoutFn())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("unreadable layout file: %w", err)
	}
	return v, nil
}

func (st *Store) writeLayout(v int) error {
	return os.WriteFile(st.layoutFn(), []byte(strconv.Itoa(v)+"\n"), 0644)
}

// upgradeLayout brings the data directory up to the current layout.
// Migrations are ordered and idempotent, and the version is persisted
// after each step so an interrupted upgrade resumes where it stopped.
func (st *Store) upgradeLayout() error {
	v, err := st.readLayout()
	if err != nil {
		return err
	}

	if v == 0 {
		// Fresh data directory
		return st.writeLayout(layoutVersion)
	}

	if v > layoutVersion {
		return fmt.Errorf("%w: %d > %d", ErrLayoutTooNew, v, layoutVersion)
	}

	for v < layoutVersion {
		log.Printf("Store: disk layout upgrade needed (%d < %d)", v, layoutVersion)

		switch v {
		case 1:
			if err := st.shardObjects(); err != nil {
				return fmt.Errorf("layout upgrade %d -> %d: %w", v, v+1, err)
			}
		case 2:
			if err := st.createUserSubdirs(); err != nil {
				return fmt.Errorf("layout upgrade %d -> %d: %w", v, v+1, err)
			}
		}

		v++
		if err := st.writeLayout(v); err != nil {
			return err
		}
	}

	return nil
}

// shardObjects moves objects from a flat object directory into the
// two-character fingerprint buckets (layout 1 -> 2).
func (st *Store) shardObjects() error {
	objDir := filepath.Join(st.base, "object")

	entries, err := os.ReadDir(objDir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		fp := strings.TrimSuffix(name, ".json")
		if !ValidFp(fp) {
			continue
		}

		dir := filepath.Join(objDir, fp[:2])
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(objDir, name), filepath.Join(dir, name)); err != nil {
			return err
		}
	}

	return nil
}

// createUserSubdirs makes sure every user home has the full directory
// tree, including the ones added after the home was created
// (layout 2 -> 3).
func (st *Store) createUserSubdirs() error {
	uids, err := st.UserList()
	if err != nil {
		return err
	}

	for _, uid := range uids {
		if err := st.User(uid).Init(); err != nil {
			return err
		}
	}

	return nil
}
