// Package queue implements the durable delivery/ingestion queue. Every
// pending item is a standalone JSON file, so a process restart loses no
// work; claiming an item renames it to a lease file, and a recovery scan
// turns stale leases back into pending items.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/deemkeen/anancus/util"
	"github.com/google/uuid"
)

var (
	// ErrEmpty means no item is currently eligible for processing.
	ErrEmpty = errors.New("queue empty")
)

type Kind string

const (
	// KindInput is an inbound activity awaiting processing.
	KindInput Kind = "input"
	// KindOutput is an outbound activity awaiting delivery to a remote
	// inbox.
	KindOutput Kind = "output"
	// Scheduled housekeeping tasks.
	KindCloseQuestion Kind = "close_question"
	KindActorRefresh  Kind = "actor_refresh"
	KindObjectRequest Kind = "object_request"
	KindPurge         Kind = "purge"
)

type State string

const (
	StatePending  State = "pending"
	StateInFlight State = "in_flight"
)

// Item is one persisted unit of work.
type Item struct {
	Id        uuid.UUID       `json:"id"`
	Kind      Kind            `json:"kind"`
	State     State           `json:"state"`
	Uid       string          `json:"uid,omitempty"`     // local user scope, empty for shared items
	Inbox     string          `json:"inbox,omitempty"`   // outbound target inbox
	KeyId     string          `json:"key_id,omitempty"`  // signing key reference, for re-signing on retry
	Actor     string          `json:"actor,omitempty"`   // actor refresh target
	ObjectId  string          `json:"object,omitempty"`  // object request / close question target
	Payload   json.RawMessage `json:"payload,omitempty"` // the activity or object
	Attempts  int             `json:"attempts"`
	NotBefore time.Time       `json:"not_before"`
	Created   time.Time       `json:"created"`

	path string // on-disk location while claimed
}

// backoffMinutes is the retry schedule: non-decreasing, capped at the
// last entry.
var backoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// Backoff returns the delay before the given (1-based) retry attempt.
func Backoff(attempts int) time.Duration {
	i := attempts - 1
	if i < 0 {
		i = 0
	}
	if i >= len(backoffMinutes) {
		i = len(backoffMinutes) - 1
	}
	return time.Duration(backoffMinutes[i]) * time.Minute
}

// MaxAttempts returns the retry budget per item kind. Outbound items are
// retried aggressively because federation partners are assumed to
// recover; inbound data is transient and gets a small bound.
func MaxAttempts(kind Kind) int {
	switch kind {
	case KindOutput:
		return 10
	case KindInput:
		return 3
	default:
		return 5
	}
}

// Queue is one scope of the work queue: a user's queue directory or the
// shared instance one. Dead-lettered items go to errDir.
type Queue struct {
	dir    string
	errDir string
}

// Open opens a queue directory and recovers every item left in flight
// by a crashed process.
func Open(dir string, errDir string) (*Queue, error) {
	q := &Queue{dir: dir, errDir: errDir}

	for _, d := range []string{dir, errDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}

	if n := q.recover(0); n > 0 {
		log.Printf("Queue: recovered %d in-flight items in %s", n, dir)
	}

	return q, nil
}

func (q *Queue) Dir() string {
	return q.dir
}

// Enqueue persists an item. The file name starts with a time-ordered id
// offset by the item's not-before delay, so directory order is both
// FIFO order and eligibility order.
func (q *Queue) Enqueue(it *Item) error {
	if it.Id == uuid.Nil {
		it.Id = uuid.New()
	}
	if it.Created.IsZero() {
		it.Created = time.Now()
	}
	if it.NotBefore.IsZero() {
		it.NotBefore = it.Created
	}
	it.State = StatePending

	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item: %w", err)
	}

	offset := time.Until(it.NotBefore)
	if offset < 0 {
		offset = 0
	}
	fn := filepath.Join(q.dir, fmt.Sprintf("%s_%s.json", util.Tid(offset), it.Id.String()[:8]))

	// Whole-file write plus rename so a reader never claims a torn item
	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write queue item: %w", err)
	}
	if err := os.Rename(tmp, fn); err != nil {
		return fmt.Errorf("failed to enqueue item: %w", err)
	}

	return nil
}

// Next claims the oldest eligible pending item. The claim is an atomic
// rename to a .lease file, so no two workers can own the same item.
func (q *Queue) Next() (*Item, error) {
	names, err := q.pendingNames()
	if err != nil {
		return nil, err
	}

	now := util.Tid(0)
	for _, name := range names {
		// The name prefix encodes the earliest execution time
		if tidOf(name) > now {
			break
		}

		fn := filepath.Join(q.dir, name)
		lease := fn + ".lease"
		if err := os.Rename(fn, lease); err != nil {
			// Another worker got it first
			continue
		}

		it, err := readItem(lease)
		if err != nil {
			log.Printf("Queue: dropping unreadable item %s: %v", name, err)
			os.Remove(lease)
			continue
		}

		it.State = StateInFlight
		it.path = lease
		return it, nil
	}

	return nil, ErrEmpty
}

// Ack removes a delivered item.
func (q *Queue) Ack(it *Item) error {
	if it.path == "" {
		return nil
	}
	err := os.Remove(it.path)
	it.path = ""
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Retry requeues a claimed item with an incremented attempt count and
// the backoff delay for that attempt.
func (q *Queue) Retry(it *Item) error {
	it.Attempts++
	it.NotBefore = time.Now().Add(Backoff(it.Attempts))

	if err := q.Enqueue(it); err != nil {
		return err
	}

	if it.path != "" {
		os.Remove(it.path)
		it.path = ""
	}
	return nil
}

// Dead archives an item that exhausted its retry budget. The content is
// preserved in the error directory for operator inspection, never
// silently lost.
func (q *Queue) Dead(it *Item) error {
	data, err := json.Marshal(it)
	if err != nil {
		data = it.Payload
	}

	fn := filepath.Join(q.errDir, fmt.Sprintf("%s_%s.json", util.Tid(0), it.Id.String()[:8]))
	if err := os.WriteFile(fn, data, 0644); err != nil {
		return fmt.Errorf("failed to archive dead item: %w", err)
	}

	log.Printf("Queue: dead-lettered %s item %s after %d attempts", it.Kind, it.Id, it.Attempts)

	if it.path != "" {
		os.Remove(it.path)
		it.path = ""
	}
	return nil
}

// HasKind reports whether any pending item of the given kind exists.
// Singleton scheduled tasks check this so restarts don't pile up
// duplicate chains.
func (q *Queue) HasKind(kind Kind) bool {
	names, err := q.pendingNames()
	if err != nil {
		return false
	}
	for _, name := range names {
		it, err := readItem(filepath.Join(q.dir, name))
		if err == nil && it.Kind == kind {
			return true
		}
	}
	return false
}

// Len counts the pending items, eligible or not.
func (q *Queue) Len() int {
	names, err := q.pendingNames()
	if err != nil {
		return 0
	}
	return len(names)
}

// Recover turns leases older than maxAge back into pending items; a
// worker that crashed mid-item must not lose it. Shared-queue items are
// designed to be safely re-run by a different worker.
func (q *Queue) Recover(maxAge time.Duration) int {
	return q.recover(maxAge)
}

func (q *Queue) recover(maxAge time.Duration) int {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return 0
	}

	n := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".lease") {
			continue
		}

		fn := filepath.Join(q.dir, name)
		if maxAge > 0 {
			fi, err := os.Stat(fn)
			if err != nil || time.Since(fi.ModTime()) < maxAge {
				continue
			}
		}

		if err := os.Rename(fn, strings.TrimSuffix(fn, ".lease")); err == nil {
			n++
		}
	}
	return n
}

func (q *Queue) pendingNames() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func tidOf(name string) string {
	if i := strings.IndexByte(name, '_'); i >= 0 {
		return name[:i]
	}
	return name
}

func readItem(fn string) (*Item, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}

	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return nil, err
	}
	return &it, nil
}
