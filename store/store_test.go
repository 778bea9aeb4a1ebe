package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	return st
}

func testNote(id string) map[string]interface{} {
	return map[string]interface{}{
		"id":      id,
		"type":    "Note",
		"content": "hello from " + id,
	}
}

func TestFingerprintStability(t *testing.T) {
	id := "https://example.com/p/1234567890.000001"

	fp1 := Fingerprint(id)
	fp2 := Fingerprint(id)

	require.Equal(t, fp1, fp2)
	require.Len(t, fp1, FpSize)
	require.True(t, ValidFp(fp1))
}

func TestFingerprintNoPracticalCollisions(t *testing.T) {
	seen := map[string]string{}
	for i := 0; i < 5000; i++ {
		id := fmt.Sprintf("https://example.com/p/%d", i)
		fp := Fingerprint(id)
		prev, dup := seen[fp]
		require.False(t, dup, "fingerprint collision between %s and %s", prev, id)
		seen[fp] = id
	}
}

func TestObjectAddIsIdempotent(t *testing.T) {
	st := testStore(t)
	id := "https://example.com/p/1"

	fp1, err := st.Add(id, testNote(id))
	require.NoError(t, err)

	got, err := st.Get(id)
	require.NoError(t, err)
	require.Equal(t, "hello from "+id, got["content"])

	// A second add with the same id changes nothing
	fp2, err := st.Add(id, map[string]interface{}{"id": id, "content": "other"})
	require.NoError(t, err)
	require.Equal(t, fp1, fp2)

	got, err = st.Get(id)
	require.NoError(t, err)
	require.Equal(t, "hello from "+id, got["content"])
}

func TestObjectAddOverwrite(t *testing.T) {
	st := testStore(t)
	id := "https://example.com/p/1"

	fp1, err := st.Add(id, testNote(id))
	require.NoError(t, err)

	fp2, err := st.AddOverwrite(id, map[string]interface{}{"id": id, "content": "edited"})
	require.NoError(t, err)
	require.Equal(t, fp1, fp2, "overwrite must not change the fingerprint")

	got, err := st.Get(id)
	require.NoError(t, err)
	require.Equal(t, "edited", got["content"])
}

func TestObjectGetMissing(t *testing.T) {
	st := testStore(t)

	_, err := st.Get("https://example.com/p/nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, st.Here("https://example.com/p/nope"))
}

func TestObjectGetCorrupt(t *testing.T) {
	st := testStore(t)
	id := "https://example.com/p/1"

	fp, err := st.Add(id, testNote(id))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(st.objectFn(fp), []byte("{not json"), 0644))

	_, err = st.Get(id)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestObjectDel(t *testing.T) {
	st := testStore(t)
	id := "https://example.com/p/1"

	_, err := st.Add(id, testNote(id))
	require.NoError(t, err)
	require.NoError(t, st.Del(id))
	require.False(t, st.Here(id))

	// Deleting again is a no-op
	require.NoError(t, st.Del(id))
}

func TestIndexOrderPreservation(t *testing.T) {
	st := testStore(t)
	fn := filepath.Join(st.Base(), "test.idx")

	var fps []string
	for i := 0; i < 10; i++ {
		fp := Fingerprint(fmt.Sprintf("https://example.com/p/%d", i))
		fps = append(fps, fp)
		require.NoError(t, st.IndexAppend(fn, fp))
	}

	// Descending iteration yields fn, ..., f1
	c, err := st.IndexDesc(fn)
	require.NoError(t, err)
	var desc []string
	for {
		fp, ok := c.Next()
		if !ok {
			break
		}
		desc = append(desc, fp)
	}
	require.NoError(t, c.Close())

	require.Len(t, desc, len(fps))
	for i := range fps {
		require.Equal(t, fps[len(fps)-1-i], desc[i])
	}

	// Ascending iteration seeded at f1 yields f1, ..., fn
	c, err = st.IndexAsc(fn, fps[0])
	require.NoError(t, err)
	var asc []string
	for {
		fp, ok := c.Next()
		if !ok {
			break
		}
		asc = append(asc, fp)
	}
	require.NoError(t, c.Close())
	require.Equal(t, fps, asc)
}

func TestIndexAscSeek(t *testing.T) {
	st := testStore(t)
	fn := filepath.Join(st.Base(), "test.idx")

	var fps []string
	for i := 0; i < 5; i++ {
		fp := Fingerprint(fmt.Sprintf("https://example.com/p/%d", i))
		fps = append(fps, fp)
		require.NoError(t, st.IndexAppend(fn, fp))
	}

	// Seek to the middle: iteration starts there, inclusive
	c, err := st.IndexAsc(fn, fps[2])
	require.NoError(t, err)
	defer c.Close()

	fp, ok := c.Next()
	require.True(t, ok)
	require.Equal(t, fps[2], fp)

	// Seeking to an unknown fingerprint yields nothing
	c2, err := st.IndexAsc(fn, Fingerprint("https://example.com/p/unknown"))
	require.NoError(t, err)
	defer c2.Close()

	_, ok = c2.Next()
	require.False(t, ok)
}

func TestIndexDelMarksEntry(t *testing.T) {
	st := testStore(t)
	fn := filepath.Join(st.Base(), "test.idx")

	a := Fingerprint("https://example.com/p/a")
	b := Fingerprint("https://example.com/p/b")
	require.NoError(t, st.IndexAppend(fn, a))
	require.NoError(t, st.IndexAppend(fn, b))

	require.NoError(t, st.IndexDel(fn, a))

	// Record count unchanged, the entry is just marked
	n, err := st.IndexLen(fn)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	list, err := st.IndexList(fn, 0)
	require.NoError(t, err)
	require.Equal(t, []string{b}, list)

	// Deleting from a missing index is a no-op
	require.NoError(t, st.IndexDel(filepath.Join(st.Base(), "nope.idx"), a))
}

func TestIndexFirst(t *testing.T) {
	st := testStore(t)
	fn := filepath.Join(st.Base(), "test.idx")

	_, err := st.IndexFirst(fn)
	require.ErrorIs(t, err, ErrNotFound)

	a := Fingerprint("https://example.com/p/a")
	b := Fingerprint("https://example.com/p/b")
	require.NoError(t, st.IndexAppend(fn, a))
	require.NoError(t, st.IndexAppend(fn, b))

	first, err := st.IndexFirst(fn)
	require.NoError(t, err)
	require.Equal(t, a, first)
}

func TestIndexGC(t *testing.T) {
	st := testStore(t)
	fn := filepath.Join(st.Base(), "test.idx")

	keepId := "https://example.com/p/keep"
	goneId := "https://example.com/p/gone"

	keepFp, err := st.Add(keepId, testNote(keepId))
	require.NoError(t, err)
	goneFp, err := st.Add(goneId, testNote(goneId))
	require.NoError(t, err)

	require.NoError(t, st.IndexAppend(fn, keepFp))
	require.NoError(t, st.IndexAppend(fn, goneFp))

	require.NoError(t, st.Del(goneId))

	removed, err := st.IndexGC(fn)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	list, err := st.IndexList(fn, 0)
	require.NoError(t, err)
	require.Equal(t, []string{keepFp}, list)
}

func TestRelationIdempotence(t *testing.T) {
	st := testStore(t)
	id := "https://example.com/p/1"
	actor := "https://remote.example/users/bob"

	_, err := st.Add(id, testNote(id))
	require.NoError(t, err)

	added, err := st.Admire(id, actor, true)
	require.NoError(t, err)
	require.True(t, added)

	// Re-adding the same relation is a no-op
	added, err = st.Admire(id, actor, true)
	require.NoError(t, err)
	require.False(t, added)

	likes, err := st.Likes(id)
	require.NoError(t, err)
	require.Equal(t, []string{Fingerprint(actor)}, likes)
	require.Equal(t, 1, st.LikesLen(id))

	// Likes and announces are independent sets
	require.Equal(t, 0, st.AnnouncesLen(id))

	require.NoError(t, st.Unadmire(id, actor, true))
	require.Equal(t, 0, st.LikesLen(id))

	// Removing a relation that isn't there is a no-op
	require.NoError(t, st.Unadmire(id, actor, true))
}

func TestUserFollowers(t *testing.T) {
	st := testStore(t)
	u := st.User("alice")
	require.NoError(t, u.Init())

	actor := "https://remote.example/users/bob"

	added, err := u.FollowerAdd(actor)
	require.NoError(t, err)
	require.True(t, added)

	added, err = u.FollowerAdd(actor)
	require.NoError(t, err)
	require.False(t, added, "duplicate follower add must be a no-op")

	require.True(t, u.IsFollower(actor))
	require.Equal(t, 1, u.FollowersLen())

	followers, err := u.Followers()
	require.NoError(t, err)
	require.Equal(t, []string{actor}, followers)

	require.NoError(t, u.FollowerDel(actor))
	require.False(t, u.IsFollower(actor))
	require.NoError(t, u.FollowerDel(actor))
}

func TestUserFollowing(t *testing.T) {
	st := testStore(t)
	u := st.User("alice")
	require.NoError(t, u.Init())

	actor := "https://remote.example/users/bob"
	follow := map[string]interface{}{
		"id":     "https://example.com/a/1",
		"type":   "Follow",
		"object": actor,
	}

	require.NoError(t, u.FollowingAdd(actor, follow, false))
	require.True(t, u.IsFollowing(actor))
	require.True(t, u.IsFollowingFp(Fingerprint(actor)))

	require.NoError(t, u.FollowingAccept(actor))

	msg, err := u.FollowingGet(actor)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a/1", msg["id"])

	require.NoError(t, u.FollowingDel(actor))
	require.False(t, u.IsFollowing(actor))
}

func TestUserPending(t *testing.T) {
	st := testStore(t)
	u := st.User("alice")
	require.NoError(t, u.Init())

	actor := "https://remote.example/users/bob"
	follow := map[string]interface{}{"id": "https://remote.example/a/9", "type": "Follow", "actor": actor}

	require.NoError(t, u.PendingAdd(actor, follow))
	require.True(t, u.PendingCheck(actor))

	list, err := u.PendingList()
	require.NoError(t, err)
	require.Equal(t, []string{actor}, list)

	msg, err := u.PendingGet(actor)
	require.NoError(t, err)
	require.Equal(t, "Follow", msg["type"])

	require.NoError(t, u.PendingDel(actor))
	require.False(t, u.PendingCheck(actor))
}

func TestUserTimelineDedupe(t *testing.T) {
	st := testStore(t)
	u := st.User("alice")
	require.NoError(t, u.Init())

	id := "https://remote.example/p/1"

	require.NoError(t, u.TimelineAdd(id, testNote(id)))
	require.NoError(t, u.TimelineAdd(id, testNote(id)))

	n, err := st.IndexLen(u.IndexFn("private"))
	require.NoError(t, err)
	require.Equal(t, 1, n, "duplicate delivery must produce exactly one index entry")
	require.True(t, u.TimelineHere(id))
}

func TestUserTimelineDelReleasesObject(t *testing.T) {
	st := testStore(t)
	u := st.User("alice")
	require.NoError(t, u.Init())

	id := "https://remote.example/p/1"
	require.NoError(t, u.TimelineAdd(id, testNote(id)))
	require.True(t, st.Here(id))

	require.NoError(t, u.TimelineDel(id))
	require.False(t, u.TimelineHere(id))
	require.False(t, st.Here(id), "object with no remaining references is deleted")
}

func TestOverwriteKeepsCacheReferences(t *testing.T) {
	st := testStore(t)
	alice := st.User("alice")
	require.NoError(t, alice.Init())
	bob := st.User("bob")
	require.NoError(t, bob.Init())

	id := "https://remote.example/p/1"
	require.NoError(t, alice.TimelineAdd(id, testNote(id)))
	require.NoError(t, bob.TimelineAdd(id, testNote(id)))

	// An edit must not sever the cache hard links holding the refcount
	_, err := st.AddOverwrite(id, map[string]interface{}{"id": id, "content": "edited"})
	require.NoError(t, err)

	require.NoError(t, alice.TimelineDel(id))
	require.True(t, st.Here(id), "object must survive while another timeline references it")
	require.True(t, bob.TimelineHere(id))

	// The surviving cache link sees the edited content
	got, err := st.Get(id)
	require.NoError(t, err)
	require.Equal(t, "edited", got["content"])

	require.NoError(t, bob.TimelineDel(id))
	require.False(t, st.Here(id))
}

func TestDelIfUnrefKeepsReferencedObjects(t *testing.T) {
	st := testStore(t)
	alice := st.User("alice")
	bob := st.User("bob")
	require.NoError(t, alice.Init())
	require.NoError(t, bob.Init())

	id := "https://remote.example/p/1"
	require.NoError(t, alice.TimelineAdd(id, testNote(id)))
	require.NoError(t, bob.TimelineAdd(id, testNote(id)))

	// Alice drops it; bob still references it
	require.NoError(t, alice.TimelineDel(id))
	require.True(t, st.Here(id))

	require.NoError(t, bob.TimelineDel(id))
	require.False(t, st.Here(id))
}

func TestUserHide(t *testing.T) {
	st := testStore(t)
	u := st.User("alice")
	require.NoError(t, u.Init())

	id := "https://remote.example/p/1"
	require.False(t, u.IsHidden(id))
	require.NoError(t, u.Hide(id))
	require.True(t, u.IsHidden(id))
	require.NoError(t, u.Unhide(id))
	require.False(t, u.IsHidden(id))
}

func TestUserList(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.User("bob").Init())
	require.NoError(t, st.User("alice").Init())

	uids, err := st.UserList()
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, uids)
}

func TestLayoutFreshAndRefusal(t *testing.T) {
	base := t.TempDir()

	st, err := Open(base)
	require.NoError(t, err)

	v, err := st.readLayout()
	require.NoError(t, err)
	require.Equal(t, layoutVersion, v)

	// A layout from the future is refused
	require.NoError(t, os.WriteFile(st.layoutFn(), []byte("99\n"), 0644))
	_, err = Open(base)
	require.ErrorIs(t, err, ErrLayoutTooNew)
}

func TestLayoutUpgradeShardsObjects(t *testing.T) {
	base := t.TempDir()

	// Simulate an old flat layout with one unsharded object
	require.NoError(t, os.MkdirAll(filepath.Join(base, "object"), 0755))
	fp := Fingerprint("https://example.com/p/old")
	require.NoError(t, os.WriteFile(
		filepath.Join(base, "object", fp+".json"),
		[]byte(`{"id":"https://example.com/p/old","type":"Note"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "layout"), []byte("1\n"), 0644))

	st, err := Open(base)
	require.NoError(t, err)

	v, err := st.readLayout()
	require.NoError(t, err)
	require.Equal(t, layoutVersion, v)

	require.True(t, st.Here("https://example.com/p/old"), "object must survive the migration into shards")
}
