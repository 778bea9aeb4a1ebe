package timeline

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/deemkeen/anancus/domain"
	"github.com/deemkeen/anancus/store"
	"github.com/stretchr/testify/require"
)

type fakeViewer struct {
	actor   string
	follows map[string]bool
	fpSet   map[string]bool
	muted   map[string]bool
	hidden  map[string]bool
}

func (v *fakeViewer) ActorId() string          { return v.actor }
func (v *fakeViewer) Follows(a string) bool    { return v.follows[a] }
func (v *fakeViewer) FollowsFp(fp string) bool { return v.fpSet[fp] }
func (v *fakeViewer) Muted(a string) bool      { return v.muted[a] }
func (v *fakeViewer) HiddenFp(fp string) bool  { return v.hidden[fp] }

func newViewer(actor string) *fakeViewer {
	return &fakeViewer{
		actor:   actor,
		follows: map[string]bool{},
		fpSet:   map[string]bool{},
		muted:   map[string]bool{},
		hidden:  map[string]bool{},
	}
}

func (v *fakeViewer) follow(actor string) {
	v.follows[actor] = true
	v.fpSet[store.Fingerprint(actor)] = true
}

func note(id string, author string, public bool) map[string]interface{} {
	msg := map[string]interface{}{
		"id":           id,
		"type":         "Note",
		"attributedTo": author,
		"content":      "hi",
	}
	if public {
		msg["to"] = []interface{}{domain.PublicAddress}
	} else {
		msg["to"] = []interface{}{author + "/followers"}
	}
	return msg
}

// seed stores n public notes and appends them to an index, oldest
// first, returning their fingerprints in append order.
func seed(t *testing.T, st *store.Store, fn string, n int) []string {
	t.Helper()
	fps := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("https://social.example/p/%04d", i)
		fp, err := st.Add(id, note(id, "https://social.example/u/poster", true))
		require.NoError(t, err)
		require.NoError(t, st.IndexAppend(fn, fp))
		fps[i] = fp
	}
	return fps
}

func testStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	return st, filepath.Join(st.Base(), "test.idx")
}

func TestAssembleNewestFirst(t *testing.T) {
	st, fn := testStore(t)
	fps := seed(t, st, fn, 5)

	out, err := Assemble(st, fn, Cursor{}, 10, nil)
	require.NoError(t, err)
	require.Len(t, out, 5)
	for i, e := range out {
		require.Equal(t, fps[4-i], e.Fp)
	}
}

func TestAssemblePageSize(t *testing.T) {
	st, fn := testStore(t)
	fps := seed(t, st, fn, 10)

	out, err := Assemble(st, fn, Cursor{}, 3, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, fps[9], out[0].Fp)
	require.Equal(t, fps[7], out[2].Fp)
}

func TestAssembleMaxId(t *testing.T) {
	st, fn := testStore(t)
	fps := seed(t, st, fn, 6)

	// everything strictly older than fps[4]
	out, err := Assemble(st, fn, Cursor{MaxId: fps[4]}, 10, nil)
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.Equal(t, fps[3], out[0].Fp)
	require.Equal(t, fps[0], out[3].Fp)
}

func TestAssembleSinceId(t *testing.T) {
	st, fn := testStore(t)
	fps := seed(t, st, fn, 6)

	// everything strictly newer than fps[2]
	out, err := Assemble(st, fn, Cursor{SinceId: fps[2]}, 10, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, fps[5], out[0].Fp)
	require.Equal(t, fps[3], out[2].Fp)
}

func TestAssembleMaxAndSince(t *testing.T) {
	st, fn := testStore(t)
	fps := seed(t, st, fn, 8)

	out, err := Assemble(st, fn, Cursor{MaxId: fps[6], SinceId: fps[2]}, 10, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, fps[5], out[0].Fp)
	require.Equal(t, fps[3], out[2].Fp)
}

func TestAssembleMinId(t *testing.T) {
	st, fn := testStore(t)
	fps := seed(t, st, fn, 6)

	// paging forwards from fps[3], capped at 2: the two entries
	// starting at fps[3] going up, returned newest-first
	out, err := Assemble(st, fn, Cursor{MinId: fps[3]}, 2, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, fps[4], out[0].Fp)
	require.Equal(t, fps[3], out[1].Fp)
}

func TestAssembleSkipsMissingObjects(t *testing.T) {
	st, fn := testStore(t)
	fps := seed(t, st, fn, 4)
	require.NoError(t, st.DelByFp(fps[2]))

	out, err := Assemble(st, fn, Cursor{}, 10, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, e := range out {
		require.NotEqual(t, fps[2], e.Fp)
	}
}

func TestFilterDoesNotCountAgainstPage(t *testing.T) {
	st, fn := testStore(t)
	fps := seed(t, st, fn, 6)

	drop := map[string]bool{fps[5]: true, fps[4]: true}
	out, err := Assemble(st, fn, Cursor{}, 3, func(fp string, msg map[string]interface{}) bool {
		return !drop[fp]
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, fps[3], out[0].Fp)
}

func TestForAnonPublicOnly(t *testing.T) {
	st, fn := testStore(t)

	pub := "https://social.example/p/pub"
	priv := "https://social.example/p/priv"
	fpPub, err := st.Add(pub, note(pub, "https://social.example/u/a", true))
	require.NoError(t, err)
	fpPriv, err := st.Add(priv, note(priv, "https://social.example/u/a", false))
	require.NoError(t, err)
	require.NoError(t, st.IndexAppend(fn, fpPub))
	require.NoError(t, st.IndexAppend(fn, fpPriv))

	out, err := Assemble(st, fn, Cursor{}, 10, ForAnon(nil))
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, fpPub, out[0].Fp)
}

func TestForAnonRejectsNonPosts(t *testing.T) {
	f := ForAnon(nil)

	require.False(t, f("", map[string]interface{}{
		"id": "https://x.example/1", "type": "Tombstone",
		"to": []interface{}{domain.PublicAddress},
	}))

	// a Note carrying a name is a poll vote, not a post
	require.False(t, f("", map[string]interface{}{
		"id": "https://x.example/2", "type": "Note", "name": "option A",
		"to": []interface{}{domain.PublicAddress},
	}))

	// a Page carries a name legitimately
	require.True(t, f("", map[string]interface{}{
		"id": "https://x.example/3", "type": "Page", "name": "a link",
		"to": []interface{}{domain.PublicAddress},
	}))
}

func TestForAnonBlockedInstance(t *testing.T) {
	f := ForAnon(func(host string) bool { return host == "bad.example" })

	require.False(t, f("", note("https://bad.example/p/1", "https://bad.example/u/x", true)))
	require.True(t, f("", note("https://good.example/p/1", "https://good.example/u/x", true)))
}

func TestForViewerFollowedAndMuted(t *testing.T) {
	st, _ := testStore(t)
	v := newViewer("https://here.example/u/me")

	friend := "https://social.example/u/friend"
	stranger := "https://social.example/u/stranger"
	v.follow(friend)

	f := ForViewer(st, v, nil)

	require.True(t, f("", note("https://social.example/p/1", friend, true)))
	require.False(t, f("", note("https://social.example/p/2", stranger, true)))

	v.muted[friend] = true
	require.False(t, f("", note("https://social.example/p/1", friend, true)))
}

func TestForViewerOwnAndMentioned(t *testing.T) {
	st, _ := testStore(t)
	me := "https://here.example/u/me"
	v := newViewer(me)
	f := ForViewer(st, v, nil)

	require.True(t, f("", note("https://here.example/p/1", me, true)))

	mention := note("https://social.example/p/2", "https://social.example/u/x", false)
	mention["to"] = []interface{}{me}
	require.True(t, f("", mention))
}

func TestForViewerHidden(t *testing.T) {
	st, _ := testStore(t)
	v := newViewer("https://here.example/u/me")
	friend := "https://social.example/u/friend"
	v.follow(friend)

	id := "https://social.example/p/hideme"
	fp := store.Fingerprint(id)
	v.hidden[fp] = true

	f := ForViewer(st, v, nil)
	require.False(t, f(fp, note(id, friend, true)))
}

func TestForViewerBoostRequiresFollowedBooster(t *testing.T) {
	st, _ := testStore(t)
	v := newViewer("https://here.example/u/me")
	friend := "https://social.example/u/friend"
	rando := "https://social.example/u/rando"
	v.follow(friend)

	id := "https://far.example/p/boosted"
	stranger := "https://far.example/u/stranger"
	fp := store.Fingerprint(id)
	f := ForViewer(st, v, nil)

	// no announces recorded: invisible
	require.False(t, f(fp, note(id, stranger, true)))

	// boosted by somebody the viewer does not follow: still invisible
	_, err := st.Admire(id, rando, false)
	require.NoError(t, err)
	require.False(t, f(fp, note(id, stranger, true)))

	// boosted by a followed actor: visible
	_, err = st.Admire(id, friend, false)
	require.NoError(t, err)
	require.True(t, f(fp, note(id, stranger, true)))
}
