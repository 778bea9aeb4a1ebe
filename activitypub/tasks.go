package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/anancus/queue"
	"github.com/deemkeen/anancus/store"
)

// CloseQuestion marks an expired poll as closed so clients stop
// offering votes on it.
func CloseQuestion(s *Server, objectId string) error {
	obj, err := s.St.Get(objectId)
	if err != nil {
		// the poll may have been purged in the meantime
		log.Printf("Tasks: Question %s is gone, nothing to close", objectId)
		return nil
	}

	if t, _ := obj["type"].(string); t != "Question" {
		return nil
	}
	if _, closed := obj["closed"]; closed {
		return nil
	}

	endTime, _ := obj["endTime"].(string)
	if endTime == "" {
		endTime = time.Now().UTC().Format(time.RFC3339)
	}
	obj["closed"] = endTime

	if _, err := s.St.AddOverwrite(objectId, obj); err != nil {
		return fmt.Errorf("failed to close question: %w", err)
	}

	log.Printf("Tasks: Closed question %s", objectId)
	return nil
}

// RefreshActor refetches a cached remote actor document.
func RefreshActor(s *Server, actorURI string) error {
	if _, err := s.Actors.Refresh(actorURI); err != nil {
		return fmt.Errorf("failed to refresh actor %s: %w", actorURI, err)
	}
	log.Printf("Tasks: Refreshed actor %s", actorURI)
	return nil
}

// RequestObject fetches a missing object (usually a thread parent)
// into a user's timeline. The item payload optionally names the child
// that pointed at it so the reply tree can be linked up.
func RequestObject(u *User, item *queue.Item) error {
	if u.Srv.St.Here(item.ObjectId) {
		return nil
	}

	obj, err := u.Srv.Actors.FetchDocument(item.ObjectId)
	if err != nil {
		return fmt.Errorf("failed to fetch object %s: %w", item.ObjectId, err)
	}

	if err := u.St.TimelineAdd(item.ObjectId, obj); err != nil {
		return fmt.Errorf("failed to store object: %w", err)
	}

	var child string
	if len(item.Payload) > 0 {
		json.Unmarshal(item.Payload, &child)
	}
	if child != "" {
		if err := u.Srv.St.AddChild(item.ObjectId, store.Fingerprint(child)); err != nil {
			log.Printf("Tasks: Failed to link reply %s under %s: %v", child, item.ObjectId, err)
		}
	}

	log.Printf("Tasks: Fetched missing object %s", item.ObjectId)
	return nil
}

// Purge drops timeline entries older than the configured horizon and
// compacts every index touched. Objects still referenced elsewhere
// survive; a user's own posts are never purged.
func Purge(s *Server) error {
	days := s.Conf.Conf.PurgeDays
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	uids, err := s.St.UserList()
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	purged := 0
	for _, uid := range uids {
		ust := s.St.User(uid)
		fn := ust.IndexFn("private")

		own, err := s.St.IndexList(ust.IndexFn("public"), 0)
		if err != nil {
			return err
		}
		ownSet := map[string]bool{}
		for _, fp := range own {
			ownSet[fp] = true
		}

		entries, err := s.St.IndexList(fn, 0)
		if err != nil {
			return err
		}

		for _, fp := range entries {
			if ownSet[fp] {
				continue
			}
			mtime, err := s.St.MTimeByFp(fp)
			if err == nil && mtime.After(cutoff) {
				continue
			}

			obj, err := s.St.GetByFp(fp)
			if err != nil {
				s.St.IndexDel(fn, fp)
				continue
			}
			if id, _ := obj["id"].(string); id != "" {
				if err := ust.TimelineDel(id); err != nil {
					log.Printf("Tasks: Failed to purge %s for %s: %v", id, uid, err)
					continue
				}
				purged++
			}
		}

		for _, idx := range []string{"private", "public"} {
			if _, err := s.St.IndexGC(ust.IndexFn(idx)); err != nil {
				log.Printf("Tasks: Index GC failed for %s/%s: %v", uid, idx, err)
			}
		}
	}

	if _, err := s.St.IndexGC(s.St.InstanceIndexFn()); err != nil {
		log.Printf("Tasks: Instance index GC failed: %v", err)
	}

	log.Printf("Tasks: Purged %d timeline entries older than %d days", purged, days)
	return nil
}

// SchedulePurge queues the next nightly purge run. A purge already
// pending in the shared queue is left alone: the chain re-enqueues
// itself on completion, and a second chain would double the work
// forever.
func SchedulePurge(s *Server) error {
	if s.Shared.HasKind(queue.KindPurge) {
		return nil
	}
	return s.Shared.Enqueue(&queue.Item{
		Kind:      queue.KindPurge,
		NotBefore: time.Now().Add(24 * time.Hour),
	})
}

// ScheduleActorRefresh queues a refresh of a stale cached actor.
func ScheduleActorRefresh(s *Server, actorURI string, delay time.Duration) error {
	return s.Shared.Enqueue(&queue.Item{
		Kind:      queue.KindActorRefresh,
		Actor:     actorURI,
		NotBefore: time.Now().Add(delay),
	})
}
