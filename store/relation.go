package store

// Admiration is the umbrella for the like and announce relations: per
// object, a set of actor fingerprints, stored as index logs next to the
// object itself. Counts are always derived from the set, never cached.

func (st *Store) admireFn(id string, like bool) string {
	suffix := "_a.idx"
	if like {
		suffix = "_l.idx"
	}
	return st.relFn(Fingerprint(id), suffix)
}

// Admire records that an actor liked (or announced) an object. Returns
// false when the relation already existed.
func (st *Store) Admire(id string, actor string, like bool) (bool, error) {
	fn := st.admireFn(id, like)
	actorFp := Fingerprint(actor)

	there, err := st.IndexContains(fn, actorFp)
	if err != nil {
		return false, err
	}
	if there {
		return false, nil
	}

	return true, st.IndexAppend(fn, actorFp)
}

// Unadmire removes a like (or announce). Removing a relation that isn't
// there is a no-op.
func (st *Store) Unadmire(id string, actor string, like bool) error {
	return st.IndexDel(st.admireFn(id, like), Fingerprint(actor))
}

// Likes returns the fingerprints of the actors that liked an object.
func (st *Store) Likes(id string) ([]string, error) {
	return st.IndexList(st.admireFn(id, true), 0)
}

// Announces returns the fingerprints of the actors that boosted an
// object.
func (st *Store) Announces(id string) ([]string, error) {
	return st.IndexList(st.admireFn(id, false), 0)
}

func (st *Store) LikesLen(id string) int {
	l, _ := st.Likes(id)
	return len(l)
}

func (st *Store) AnnouncesLen(id string) int {
	l, _ := st.Announces(id)
	return len(l)
}

// AddChild links a reply under its parent object.
func (st *Store) AddChild(parentId string, childFp string) error {
	fn := st.relFn(Fingerprint(parentId), "_c.idx")

	there, err := st.IndexContains(fn, childFp)
	if err != nil || there {
		return err
	}
	return st.IndexAppend(fn, childFp)
}

// Children returns the fingerprints of the known replies to an object.
func (st *Store) Children(id string) ([]string, error) {
	return st.IndexList(st.relFn(Fingerprint(id), "_c.idx"), 0)
}
