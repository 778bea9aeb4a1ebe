package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/anancus/domain"
	"github.com/deemkeen/anancus/queue"
	"github.com/deemkeen/anancus/store"
)

// ProcessInput handles one queued inbound activity for a local user.
// The HTTP layer has already verified the signature; this runs in a
// worker. A nil return (including for uninteresting or malformed
// activities, which are just dropped) acknowledges the item; an
// ErrPermanent return dead-letters it; anything else gets retried.
func ProcessInput(u *User, item *queue.Item) error {
	var a domain.Activity
	if err := json.Unmarshal(item.Payload, &a); err != nil {
		return fmt.Errorf("%w: unparseable activity: %v", ErrPermanent, err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(item.Payload, &raw); err != nil {
		return fmt.Errorf("%w: unparseable activity: %v", ErrPermanent, err)
	}

	if u.Srv.InstanceBlocked(domain.InstanceOf(a.Actor)) ||
		u.Srv.InstanceBlocked(domain.InstanceOf(a.ID)) {
		log.Printf("Inbox: Dropping %s from blocked instance (%s)", a.Type, a.Actor)
		return nil
	}

	log.Printf("Inbox: Processing %s from %s for %s", a.Type, a.Actor, u.Acc.Username)

	switch a.Type {
	case "Follow":
		return u.handleFollow(&a, raw)
	case "Accept":
		return u.handleAccept(&a)
	case "Create":
		return u.handleCreate(&a)
	case "Like":
		return u.handleAdmire(&a, true)
	case "Announce":
		return u.handleAdmire(&a, false)
	case "Undo":
		return u.handleUndo(&a)
	case "Update":
		return u.handleUpdate(&a)
	case "Delete":
		return u.handleDelete(&a)
	default:
		log.Printf("Inbox: Ignoring activity type %s", a.Type)
		return nil
	}
}

func (u *User) handleFollow(a *domain.Activity, raw map[string]interface{}) error {
	// the follow target must actually be this user
	if target := a.ObjectID(); target != "" && target != u.ActorId() {
		log.Printf("Inbox: Follow for %s landed in %s's inbox, dropping", target, u.Acc.Username)
		return nil
	}

	actor, err := u.Srv.Actors.Get(a.Actor)
	if err != nil {
		return fmt.Errorf("failed to resolve follower %s: %w", a.Actor, err)
	}

	if u.Acc.Locked {
		if err := u.St.PendingAdd(a.Actor, raw); err != nil {
			return fmt.Errorf("failed to store pending follow: %w", err)
		}
		log.Printf("Inbox: Queued follow request from %s for approval", a.Actor)
		return nil
	}

	added, err := u.St.FollowerAdd(a.Actor)
	if err != nil {
		return fmt.Errorf("failed to add follower: %w", err)
	}
	if !added {
		log.Printf("Inbox: %s already follows %s", a.Actor, u.Acc.Username)
	}

	return u.EnqueueTo(ActorInbox(actor), u.MsgAccept(raw))
}

func (u *User) handleAccept(a *domain.Activity) error {
	obj := a.ObjectDoc()
	if obj == nil {
		return nil
	}
	if t, _ := obj["type"].(string); t != "Follow" {
		return nil
	}
	if actor, _ := obj["actor"].(string); actor != u.ActorId() {
		return nil
	}

	if err := u.St.FollowingAccept(a.Actor); err != nil {
		log.Printf("Inbox: Accept from %s without a pending follow, ignoring", a.Actor)
		return nil
	}

	log.Printf("Inbox: %s accepted follow from %s", a.Actor, u.Acc.Username)
	return nil
}

func (u *User) handleCreate(a *domain.Activity) error {
	obj := a.ObjectDoc()
	if obj == nil {
		id := a.ObjectID()
		if id == "" {
			return nil
		}
		var err error
		obj, err = u.Srv.Actors.FetchDocument(id)
		if err != nil {
			return fmt.Errorf("failed to fetch created object %s: %w", id, err)
		}
	}

	id, _ := obj["id"].(string)
	if id == "" {
		return nil
	}
	if u.St.TimelineHere(id) {
		log.Printf("Inbox: Already have %s, skipping", id)
		return nil
	}

	objType, _ := obj["type"].(string)
	if !domain.IsPostLike(objType) {
		log.Printf("Inbox: Ignoring Create of %s", objType)
		return nil
	}
	if name, ok := obj["name"].(string); ok && name != "" && !domain.MayHaveName(objType) {
		// a named Note is a poll vote, not a post
		return nil
	}

	author := domain.AttributedTo(obj)
	if !u.visibleTo(obj, author) {
		log.Printf("Inbox: Dropping post from %s, neither public nor addressed to us", author)
		return nil
	}

	if err := u.St.TimelineAdd(id, obj); err != nil {
		return fmt.Errorf("failed to store post: %w", err)
	}

	if parent := domain.InReplyTo(obj); parent != "" {
		if u.Srv.St.Here(parent) {
			if err := u.Srv.St.AddChild(parent, store.Fingerprint(id)); err != nil {
				log.Printf("Inbox: Failed to link reply %s under %s: %v", id, parent, err)
			}
		} else {
			// pull in the missing thread parent in the background
			child, _ := json.Marshal(id)
			u.Q.Enqueue(&queue.Item{
				Kind:     queue.KindObjectRequest,
				Uid:      u.Acc.Username,
				ObjectId: parent,
				Payload:  child,
			})
		}
	}

	if objType == "Question" {
		if end, ok := obj["endTime"].(string); ok {
			if t, err := time.Parse(time.RFC3339, end); err == nil && t.After(time.Now()) {
				u.Srv.Shared.Enqueue(&queue.Item{
					Kind:      queue.KindCloseQuestion,
					ObjectId:  id,
					NotBefore: t,
				})
			}
		}
	}

	return nil
}

// visibleTo decides whether an inbound post belongs in this user's
// timeline at all: public, addressed to us, or written by somebody we
// follow.
func (u *User) visibleTo(obj map[string]interface{}, author string) bool {
	if domain.IsPublic(obj) {
		return true
	}
	for _, addr := range domain.Audience(obj) {
		if addr == u.ActorId() || addr == u.FollowersURI() {
			return true
		}
	}
	return u.Follows(author)
}

func (u *User) handleAdmire(a *domain.Activity, like bool) error {
	objId := a.ObjectID()
	if objId == "" {
		return nil
	}

	// a boost of something we never saw pulls the object in
	if !like && !u.St.TimelineHere(objId) {
		obj := a.ObjectDoc()
		if obj == nil {
			var err error
			obj, err = u.Srv.Actors.FetchDocument(objId)
			if err != nil {
				return fmt.Errorf("failed to fetch boosted object %s: %w", objId, err)
			}
		}
		objType, _ := obj["type"].(string)
		if !domain.IsPostLike(objType) {
			return nil
		}
		if err := u.St.TimelineAdd(objId, obj); err != nil {
			return fmt.Errorf("failed to store boosted post: %w", err)
		}
	}

	added, err := u.Srv.St.Admire(objId, a.Actor, like)
	if err != nil {
		return fmt.Errorf("failed to record admiration: %w", err)
	}
	if added {
		verb := "announced"
		if like {
			verb = "liked"
		}
		log.Printf("Inbox: %s %s %s", a.Actor, verb, objId)
	}
	return nil
}

func (u *User) handleUndo(a *domain.Activity) error {
	obj := a.ObjectDoc()
	if obj == nil {
		return nil
	}

	t, _ := obj["type"].(string)
	switch t {
	case "Follow":
		if err := u.St.FollowerDel(a.Actor); err != nil {
			return fmt.Errorf("failed to remove follower: %w", err)
		}
		log.Printf("Inbox: %s unfollowed %s", a.Actor, u.Acc.Username)
	case "Like", "Announce":
		inner := domain.Activity{Object: obj["object"]}
		if objId := inner.ObjectID(); objId != "" {
			if err := u.Srv.St.Unadmire(objId, a.Actor, t == "Like"); err != nil {
				return fmt.Errorf("failed to remove admiration: %w", err)
			}
		}
	}
	return nil
}

func (u *User) handleUpdate(a *domain.Activity) error {
	obj := a.ObjectDoc()
	if obj == nil {
		return nil
	}

	id, _ := obj["id"].(string)
	objType, _ := obj["type"].(string)

	// a self-update refreshes the cached actor
	if id == a.Actor {
		if _, err := u.Srv.St.AddOverwrite(id, obj); err != nil {
			return fmt.Errorf("failed to update actor: %w", err)
		}
		u.Srv.St.Touch(id)
		log.Printf("Inbox: Updated profile of %s", a.Actor)
		return nil
	}

	if !domain.IsPostLike(objType) || !u.Srv.St.Here(id) {
		return nil
	}

	// only the author may edit
	stored, err := u.Srv.St.Get(id)
	if err == nil && domain.AttributedTo(stored) != a.Actor {
		log.Printf("Inbox: Rejecting edit of %s by non-author %s", id, a.Actor)
		return nil
	}

	if _, err := u.Srv.St.AddOverwrite(id, obj); err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	log.Printf("Inbox: Updated %s", id)
	return nil
}

func (u *User) handleDelete(a *domain.Activity) error {
	objId := a.ObjectID()
	if objId == "" {
		return nil
	}

	// actor deletion: drop the relationship in both directions
	if objId == a.Actor {
		u.St.FollowerDel(a.Actor)
		u.St.FollowingDel(a.Actor)
		u.St.PendingDel(a.Actor)
		u.Srv.Actors.Forget(a.Actor)
		log.Printf("Inbox: Actor %s deleted itself", a.Actor)
		return nil
	}

	if !u.St.TimelineHere(objId) {
		return nil
	}

	stored, err := u.Srv.St.Get(objId)
	if err == nil && domain.AttributedTo(stored) != a.Actor {
		log.Printf("Inbox: Rejecting deletion of %s by non-author %s", objId, a.Actor)
		return nil
	}

	if err := u.St.TimelineDel(objId); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	log.Printf("Inbox: Deleted %s", objId)
	return nil
}
