package activitypub

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/deemkeen/anancus/domain"
	"github.com/deemkeen/anancus/queue"
	"github.com/deemkeen/anancus/store"
)

// EnqueueTo queues one signed delivery of an activity to a remote
// inbox. Actual sending happens in a worker.
func (u *User) EnqueueTo(inbox string, activity map[string]interface{}) error {
	payload, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	return u.Q.Enqueue(&queue.Item{
		Kind:    queue.KindOutput,
		Uid:     u.Acc.Username,
		Inbox:   inbox,
		KeyId:   u.KeyId(),
		Payload: payload,
	})
}

// deliverToFollowers queues an activity once per follower instance,
// collapsing followers that share an inbox.
func (u *User) deliverToFollowers(activity map[string]interface{}) error {
	followers, err := u.St.Followers()
	if err != nil {
		return fmt.Errorf("failed to list followers: %w", err)
	}

	inboxes := map[string]bool{}
	for _, follower := range followers {
		actor, err := u.Srv.Actors.Get(follower)
		if err != nil {
			log.Printf("Outbox: Skipping unreachable follower %s: %v", follower, err)
			continue
		}
		inboxes[ActorSharedInbox(actor)] = true
	}

	for inbox := range inboxes {
		if err := u.EnqueueTo(inbox, activity); err != nil {
			return err
		}
	}

	log.Printf("Outbox: Queued %s for %d inboxes (%d followers)",
		activity["type"], len(inboxes), len(followers))
	return nil
}

// Post publishes a public note and fans it out to followers. Returns
// the stored note.
func (u *User) Post(content string, inReplyTo string) (map[string]interface{}, error) {
	note := u.MsgNote(content, inReplyTo)
	id, _ := note["id"].(string)

	if err := u.St.OutboxAdd(id, note); err != nil {
		return nil, fmt.Errorf("failed to store post: %w", err)
	}
	fp := store.Fingerprint(id)

	// public posts also land on the instance timeline and tag indexes
	if err := u.Srv.St.IndexAppend(u.Srv.St.InstanceIndexFn(), fp); err != nil {
		return nil, fmt.Errorf("failed to index post: %w", err)
	}
	for _, tag := range hashtags(content) {
		if err := u.Srv.St.IndexAppend(u.Srv.St.TagIndexFn(tag), fp); err != nil {
			log.Printf("Outbox: Failed to index tag #%s: %v", tag, err)
		}
	}

	if inReplyTo != "" && u.Srv.St.Here(inReplyTo) {
		if err := u.Srv.St.AddChild(inReplyTo, fp); err != nil {
			log.Printf("Outbox: Failed to link reply under %s: %v", inReplyTo, err)
		}
	}

	if err := u.deliverToFollowers(u.MsgCreate(note)); err != nil {
		return nil, err
	}
	return note, nil
}

// Follow resolves a handle or actor URI and sends a Follow activity.
// The relationship stays unaccepted until the Accept comes back.
func (u *User) Follow(handleOrURI string) error {
	actorURI, err := ResolveHandle(handleOrURI, u.Srv.Actors.userAgent)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", handleOrURI, err)
	}

	actor, err := u.Srv.Actors.Get(actorURI)
	if err != nil {
		return fmt.Errorf("failed to fetch actor %s: %w", actorURI, err)
	}

	follow := u.MsgFollow(actorURI)
	if err := u.St.FollowingAdd(actorURI, follow, false); err != nil {
		return fmt.Errorf("failed to store follow: %w", err)
	}

	return u.EnqueueTo(ActorInbox(actor), follow)
}

// Unfollow sends an Undo of the original Follow and drops the
// relationship.
func (u *User) Unfollow(actorURI string) error {
	follow, err := u.St.FollowingGet(actorURI)
	if err != nil {
		return fmt.Errorf("not following %s: %w", actorURI, err)
	}

	actor, err := u.Srv.Actors.Get(actorURI)
	if err != nil {
		return fmt.Errorf("failed to fetch actor %s: %w", actorURI, err)
	}

	if err := u.St.FollowingDel(actorURI); err != nil {
		return fmt.Errorf("failed to remove follow: %w", err)
	}

	return u.EnqueueTo(ActorInbox(actor), u.MsgUndo(follow))
}

// Like records and federates a like of an object.
func (u *User) Like(objectId string) error {
	return u.admire(objectId, true)
}

// Boost records and federates an announce of an object.
func (u *User) Boost(objectId string) error {
	return u.admire(objectId, false)
}

func (u *User) admire(objectId string, like bool) error {
	obj, err := u.Srv.St.Get(objectId)
	if err != nil {
		return fmt.Errorf("unknown object %s: %w", objectId, err)
	}

	if _, err := u.Srv.St.Admire(objectId, u.ActorId(), like); err != nil {
		return fmt.Errorf("failed to record admiration: %w", err)
	}

	var activity map[string]interface{}
	if like {
		activity = u.MsgLike(objectId)
	} else {
		activity = u.MsgAnnounce(objectId)
	}

	// the author should hear about it too, not just our followers
	if author := domain.AttributedTo(obj); author != "" && author != u.ActorId() {
		if actor, err := u.Srv.Actors.Get(author); err == nil {
			if err := u.EnqueueTo(ActorInbox(actor), activity); err != nil {
				return err
			}
		}
	}

	if like {
		return nil
	}
	return u.deliverToFollowers(activity)
}

// Delete removes one of the user's own posts everywhere.
func (u *User) Delete(objectId string) error {
	obj, err := u.Srv.St.Get(objectId)
	if err != nil {
		return fmt.Errorf("unknown object %s: %w", objectId, err)
	}
	if domain.AttributedTo(obj) != u.ActorId() {
		return fmt.Errorf("cannot delete somebody else's post")
	}

	if err := u.St.TimelineDel(objectId); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	return u.deliverToFollowers(u.MsgDelete(objectId))
}

// AcceptPending approves a held follow request on a locked account.
func (u *User) AcceptPending(actorURI string) error {
	followMsg, err := u.St.PendingGet(actorURI)
	if err != nil {
		return fmt.Errorf("no pending follow from %s: %w", actorURI, err)
	}

	actor, err := u.Srv.Actors.Get(actorURI)
	if err != nil {
		return fmt.Errorf("failed to fetch actor %s: %w", actorURI, err)
	}

	if _, err := u.St.FollowerAdd(actorURI); err != nil {
		return fmt.Errorf("failed to add follower: %w", err)
	}
	if err := u.St.PendingDel(actorURI); err != nil {
		return fmt.Errorf("failed to clear pending follow: %w", err)
	}

	return u.EnqueueTo(ActorInbox(actor), u.MsgAccept(followMsg))
}

// RejectPending silently discards a held follow request.
func (u *User) RejectPending(actorURI string) error {
	return u.St.PendingDel(actorURI)
}
