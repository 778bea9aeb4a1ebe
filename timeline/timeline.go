package timeline

import (
	"errors"

	"github.com/deemkeen/anancus/domain"
	"github.com/deemkeen/anancus/store"
)

// Viewer is the authenticated perspective a timeline is assembled for.
// Implemented by the per-account federation context; nil means anonymous.
type Viewer interface {
	ActorId() string
	Follows(actor string) bool
	FollowsFp(fp string) bool
	Muted(actor string) bool
	HiddenFp(fp string) bool
}

// Cursor selects a window of an index. All ids are fingerprints.
// MaxId and SinceId page backwards (both exclusive); MinId pages
// forwards from an older entry and wins over the other two.
type Cursor struct {
	MaxId   string
	SinceId string
	MinId   string
}

// Filter decides whether one stored message is visible. Returning
// false drops the entry without counting it against the page size.
type Filter func(fp string, msg map[string]interface{}) bool

type Entry struct {
	Fp  string
	Msg map[string]interface{}
}

// Assemble walks the index at fn newest-first and returns up to max
// entries that pass the filter. Entries whose object is missing or
// unreadable are skipped. The result is always newest-first, also
// when paging forwards with MinId.
func Assemble(st *store.Store, fn string, c Cursor, max int, filter Filter) ([]Entry, error) {
	if c.MinId != "" {
		return assembleAsc(st, fn, c.MinId, max, filter)
	}

	cur, err := st.IndexDesc(fn)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []Entry
	skipping := c.MaxId != ""

	for len(out) < max {
		fp, ok := cur.Next()
		if !ok {
			break
		}
		if skipping {
			if fp == c.MaxId {
				skipping = false
			}
			continue
		}
		if fp == c.SinceId && c.SinceId != "" {
			break
		}
		if e, ok := load(st, fp, filter); ok {
			out = append(out, e)
		}
	}

	return out, nil
}

func assembleAsc(st *store.Store, fn string, minId string, max int, filter Filter) ([]Entry, error) {
	cur, err := st.IndexAsc(fn, minId)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []Entry
	for len(out) < max {
		fp, ok := cur.Next()
		if !ok {
			break
		}
		if e, ok := load(st, fp, filter); ok {
			// newer entries go to the front
			out = append([]Entry{e}, out...)
		}
	}

	return out, nil
}

func load(st *store.Store, fp string, filter Filter) (Entry, bool) {
	msg, err := st.GetByFp(fp)
	if err != nil {
		// corrupt objects are already logged by the store
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrCorrupt) {
			return Entry{}, false
		}
		return Entry{}, false
	}
	if filter != nil && !filter(fp, msg) {
		return Entry{}, false
	}
	return Entry{Fp: fp, Msg: msg}, true
}

func msgType(msg map[string]interface{}) string {
	t, _ := msg["type"].(string)
	return t
}

func msgId(msg map[string]interface{}) string {
	id, _ := msg["id"].(string)
	return id
}

// postable applies the shared shape checks: only post-like object
// types pass, and poll votes (a "name" on a type that never carries
// one) are dropped.
func postable(msg map[string]interface{}) bool {
	t := msgType(msg)
	if !domain.IsPostLike(t) {
		return false
	}
	if name, ok := msg["name"].(string); ok && name != "" && !domain.MayHaveName(t) {
		return false
	}
	return true
}

// ForAnon filters a timeline for an unauthenticated reader: public
// post-like objects from unblocked instances only.
func ForAnon(blocked func(host string) bool) Filter {
	return func(fp string, msg map[string]interface{}) bool {
		if !postable(msg) {
			return false
		}
		if blocked != nil && blocked(domain.InstanceOf(msgId(msg))) {
			return false
		}
		return domain.IsPublic(msg)
	}
}

// ForViewer filters a private timeline for its owner. On top of the
// shape and instance checks it hides muted authors, explicitly hidden
// entries, and boosts of strangers that no followed actor announced.
func ForViewer(st *store.Store, v Viewer, blocked func(host string) bool) Filter {
	return func(fp string, msg map[string]interface{}) bool {
		if !postable(msg) {
			return false
		}
		id := msgId(msg)
		if blocked != nil && blocked(domain.InstanceOf(id)) {
			return false
		}

		author := domain.AttributedTo(msg)
		if v.Muted(author) {
			return false
		}
		if v.HiddenFp(fp) {
			return false
		}

		own := author == v.ActorId()
		mentioned := false
		for _, addr := range domain.Audience(msg) {
			if addr == v.ActorId() {
				mentioned = true
				break
			}
		}

		if own || mentioned || v.Follows(author) {
			return true
		}

		// a stranger's post is only here because somebody boosted it;
		// require that at least one of those boosters is followed
		announcers, err := st.Announces(id)
		if err != nil {
			return false
		}
		for _, afp := range announcers {
			if v.FollowsFp(afp) {
				return true
			}
		}
		return false
	}
}
