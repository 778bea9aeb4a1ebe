package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// User scopes the store to one local actor: their timeline indices,
// follower/following sets, pending follow requests, hidden posts, queue
// directory and object cache all live under one home directory.
type User struct {
	st  *Store
	Uid string
	dir string
}

func (st *Store) User(uid string) *User {
	return &User{
		st:  st,
		Uid: uid,
		dir: filepath.Join(st.base, "user", uid),
	}
}

// UserList returns the uids that have a home directory.
func (st *Store) UserList() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(st.base, "user"))
	if err != nil {
		return nil, err
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (u *User) Dir() string {
	return u.dir
}

var userSubdirs = []string{"queue", "followers", "following", "pending", "hidden", "cache"}

// Init creates the user's home directory tree. Idempotent.
func (u *User) Init() error {
	for _, sub := range userSubdirs {
		if err := os.MkdirAll(filepath.Join(u.dir, sub), 0755); err != nil {
			return fmt.Errorf("failed to create user directory for %s: %w", u.Uid, err)
		}
	}
	return nil
}

func (u *User) QueueDir() string {
	return filepath.Join(u.dir, "queue")
}

// IndexFn returns the path of one of the user's index logs ("private"
// is the full inbox timeline, "public" the user's own outbox).
func (u *User) IndexFn(name string) string {
	return filepath.Join(u.dir, name+".idx")
}

func (u *User) cacheFn(fp string) string {
	return filepath.Join(u.dir, "cache", fp+".json")
}

// TimelineAdd stores a message and appends it to the user's private
// timeline. A message already in the timeline is left alone, so a
// duplicate delivery produces exactly one index entry.
func (u *User) TimelineAdd(id string, msg map[string]interface{}) error {
	fp, err := u.st.Add(id, msg)
	if err != nil {
		return err
	}

	if u.TimelineHereByFp(fp) {
		return nil
	}

	if err := u.st.IndexAppend(u.IndexFn("private"), fp); err != nil {
		return err
	}

	// Hard link into the cache: the link count is the object's reference
	// count, which DelIfUnref consults
	if err := os.Link(u.st.objectFn(fp), u.cacheFn(fp)); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to link object into user cache: %w", err)
	}

	return nil
}

// OutboxAdd records one of the user's own public posts.
func (u *User) OutboxAdd(id string, msg map[string]interface{}) error {
	if err := u.TimelineAdd(id, msg); err != nil {
		return err
	}

	fp := Fingerprint(id)
	there, err := u.st.IndexContains(u.IndexFn("public"), fp)
	if err != nil || there {
		return err
	}
	return u.st.IndexAppend(u.IndexFn("public"), fp)
}

// TimelineHere reports whether a message is already in this user's
// timeline.
func (u *User) TimelineHere(id string) bool {
	return u.TimelineHereByFp(Fingerprint(id))
}

func (u *User) TimelineHereByFp(fp string) bool {
	_, err := os.Stat(u.cacheFn(fp))
	return err == nil
}

// TimelineDel drops a message from the user's timelines and releases the
// object if no one else references it.
func (u *User) TimelineDel(id string) error {
	fp := Fingerprint(id)

	u.st.IndexDel(u.IndexFn("private"), fp)
	u.st.IndexDel(u.IndexFn("public"), fp)

	if err := os.Remove(u.cacheFn(fp)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return u.st.DelIfUnref(id)
}

type followerRecord struct {
	Actor string `json:"actor"`
	Added string `json:"added"`
}

// FollowerAdd records a remote actor as a follower. Returns false when
// the actor already followed.
func (u *User) FollowerAdd(actor string) (bool, error) {
	fn := filepath.Join(u.dir, "followers", Fingerprint(actor)+".json")

	if _, err := os.Stat(fn); err == nil {
		return false, nil
	}

	rec := followerRecord{Actor: actor, Added: time.Now().UTC().Format(time.RFC3339)}
	if err := writeJson(fn, rec); err != nil {
		return false, err
	}
	return true, nil
}

func (u *User) FollowerDel(actor string) error {
	err := os.Remove(filepath.Join(u.dir, "followers", Fingerprint(actor)+".json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (u *User) IsFollower(actor string) bool {
	_, err := os.Stat(filepath.Join(u.dir, "followers", Fingerprint(actor)+".json"))
	return err == nil
}

// Followers returns the actor ids of all followers.
func (u *User) Followers() ([]string, error) {
	return listActorRecords(filepath.Join(u.dir, "followers"))
}

func (u *User) FollowersLen() int {
	l, _ := u.Followers()
	return len(l)
}

type followingRecord struct {
	Actor    string                 `json:"actor"`
	Accepted bool                   `json:"accepted"`
	Msg      map[string]interface{} `json:"msg"` // the Follow activity, for Undo
}

// FollowingAdd records that this user follows (or requested to follow)
// a remote actor. The Follow activity is kept for the eventual Undo.
func (u *User) FollowingAdd(actor string, msg map[string]interface{}, accepted bool) error {
	fn := filepath.Join(u.dir, "following", Fingerprint(actor)+".json")
	return writeJson(fn, followingRecord{Actor: actor, Accepted: accepted, Msg: msg})
}

// FollowingAccept marks a pending follow as confirmed by the remote
// side (it sent back an Accept).
func (u *User) FollowingAccept(actor string) error {
	fn := filepath.Join(u.dir, "following", Fingerprint(actor)+".json")

	var rec followingRecord
	if err := readJson(fn, &rec); err != nil {
		return err
	}
	rec.Accepted = true
	return writeJson(fn, rec)
}

func (u *User) FollowingDel(actor string) error {
	err := os.Remove(filepath.Join(u.dir, "following", Fingerprint(actor)+".json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (u *User) IsFollowing(actor string) bool {
	return u.IsFollowingFp(Fingerprint(actor))
}

func (u *User) IsFollowingFp(fp string) bool {
	_, err := os.Stat(filepath.Join(u.dir, "following", fp+".json"))
	return err == nil
}

// FollowingGet returns the stored Follow activity for an actor.
func (u *User) FollowingGet(actor string) (map[string]interface{}, error) {
	fn := filepath.Join(u.dir, "following", Fingerprint(actor)+".json")

	var rec followingRecord
	if err := readJson(fn, &rec); err != nil {
		return nil, err
	}
	return rec.Msg, nil
}

func (u *User) Following() ([]string, error) {
	return listActorRecords(filepath.Join(u.dir, "following"))
}

func (u *User) FollowingLen() int {
	l, _ := u.Following()
	return len(l)
}

// PendingAdd parks a Follow activity until the user approves or rejects
// it (locked accounts only).
func (u *User) PendingAdd(actor string, msg map[string]interface{}) error {
	fn := filepath.Join(u.dir, "pending", Fingerprint(actor)+".json")
	return writeJson(fn, map[string]interface{}{"actor": actor, "msg": msg})
}

func (u *User) PendingCheck(actor string) bool {
	_, err := os.Stat(filepath.Join(u.dir, "pending", Fingerprint(actor)+".json"))
	return err == nil
}

// PendingGet returns the parked Follow activity from an actor.
func (u *User) PendingGet(actor string) (map[string]interface{}, error) {
	fn := filepath.Join(u.dir, "pending", Fingerprint(actor)+".json")

	var rec struct {
		Actor string                 `json:"actor"`
		Msg   map[string]interface{} `json:"msg"`
	}
	if err := readJson(fn, &rec); err != nil {
		return nil, err
	}
	return rec.Msg, nil
}

func (u *User) PendingDel(actor string) error {
	err := os.Remove(filepath.Join(u.dir, "pending", Fingerprint(actor)+".json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PendingList returns the actor ids with a parked follow request.
func (u *User) PendingList() ([]string, error) {
	return listActorRecords(filepath.Join(u.dir, "pending"))
}

// Hide drops a post from this user's view without touching the shared
// object.
func (u *User) Hide(id string) error {
	fn := filepath.Join(u.dir, "hidden", Fingerprint(id))
	return os.WriteFile(fn, nil, 0644)
}

func (u *User) Unhide(id string) error {
	err := os.Remove(filepath.Join(u.dir, "hidden", Fingerprint(id)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (u *User) IsHidden(id string) bool {
	return u.IsHiddenFp(Fingerprint(id))
}

func (u *User) IsHiddenFp(fp string) bool {
	_, err := os.Stat(filepath.Join(u.dir, "hidden", fp))
	return err == nil
}

func writeJson(fn string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, fn)
}

func readJson(fn string, v interface{}) error {
	data, err := os.ReadFile(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		logCorrupt(fn, err)
		return fmt.Errorf("%s: %w", fn, ErrCorrupt)
	}
	return nil
}

func listActorRecords(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}

		var rec struct {
			Actor string `json:"actor"`
		}
		if err := readJson(filepath.Join(dir, e.Name()), &rec); err != nil {
			continue
		}
		if rec.Actor != "" {
			out = append(out, rec.Actor)
		}
	}
	sort.Strings(out)
	return out, nil
}
