package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/deemkeen/anancus/activitypub"
	"github.com/deemkeen/anancus/domain"
	"github.com/deemkeen/anancus/queue"
	"github.com/gin-gonic/gin"
)

// authenticate reads and signature-checks an inbound activity. On
// failure it writes the response status and returns nil.
func authenticate(srv *activitypub.Server, c *gin.Context) ([]byte, map[string]interface{}) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		c.Status(http.StatusBadRequest)
		return nil, nil
	}

	var activity map[string]interface{}
	if err := json.Unmarshal(body, &activity); err != nil {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		c.Status(http.StatusBadRequest)
		return nil, nil
	}

	actor, _ := activity["actor"].(string)
	aType, _ := activity["type"].(string)

	if srv.InstanceBlocked(domain.InstanceOf(actor)) {
		// pretend we took it, the worker would only drop it anyway
		c.Status(http.StatusAccepted)
		return nil, nil
	}

	// Delete floods for actors we never saw are not worth a key fetch
	if aType == "Delete" && !srv.St.Here(actor) {
		c.Status(http.StatusAccepted)
		return nil, nil
	}

	keyId, err := activitypub.KeyIdOf(c.Request)
	if err != nil {
		log.Printf("Inbox: %v", err)
		c.Status(http.StatusUnauthorized)
		return nil, nil
	}

	keyActor, err := srv.Actors.Get(activitypub.ActorOfKeyId(keyId))
	if err != nil {
		log.Printf("Inbox: Failed to fetch signing actor: %v", err)
		c.Status(http.StatusBadRequest)
		return nil, nil
	}

	if _, err := activitypub.VerifyRequest(c.Request, activitypub.ActorPublicKeyPem(keyActor)); err != nil {
		log.Printf("Inbox: Signature verification failed: %v", err)
		if errors.Is(err, activitypub.ErrUnverifiableActor) {
			c.Status(http.StatusBadRequest)
		} else {
			c.Status(http.StatusUnauthorized)
		}
		return nil, nil
	}

	return body, activity
}

// enqueueFor persists one verified activity in a local user's queue.
func enqueueFor(srv *activitypub.Server, username string, body []byte) error {
	u, err := srv.User(username)
	if err != nil {
		return err
	}
	return u.Q.Enqueue(&queue.Item{
		Kind:    queue.KindInput,
		Uid:     username,
		Payload: body,
	})
}

// handleInbox serves POST /users/:actor/inbox: authenticate, queue for
// that user, done. Processing happens in the workers.
func handleInbox(srv *activitypub.Server, wake func(), c *gin.Context, username string) {
	if err, _ := srv.Db.ReadAccByUsername(username); err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	body, _ := authenticate(srv, c)
	if body == nil {
		return
	}

	if err := enqueueFor(srv, username, body); err != nil {
		log.Printf("Inbox: Failed to queue activity for %s: %v", username, err)
		c.Status(http.StatusInternalServerError)
		return
	}

	if wake != nil {
		wake()
	}
	c.Status(http.StatusAccepted)
}

// handleSharedInbox serves POST /inbox, routing an activity to the
// local users it concerns: whoever it addresses, or everybody
// following the sending actor.
func handleSharedInbox(srv *activitypub.Server, wake func(), c *gin.Context) {
	body, activity := authenticate(srv, c)
	if body == nil {
		return
	}

	targets := map[string]bool{}

	for _, addr := range domain.Audience(activity) {
		if username := srv.LocalUserOf(addr); username != "" {
			targets[username] = true
		}
	}
	if obj, ok := activity["object"].(string); ok {
		if username := srv.LocalUserOf(obj); username != "" {
			targets[username] = true
		}
	}

	if len(targets) == 0 {
		// fan out to everybody following the sender
		actor, _ := activity["actor"].(string)
		if actor != "" {
			uids, err := srv.St.UserList()
			if err == nil {
				for _, uid := range uids {
					if srv.St.User(uid).IsFollowing(actor) {
						targets[uid] = true
					}
				}
			}
		}
	}

	if len(targets) == 0 {
		log.Printf("Shared inbox: No local target for %v activity", activity["type"])
		c.Status(http.StatusAccepted)
		return
	}

	for username := range targets {
		log.Printf("Shared inbox: Routing to user %s", username)
		if err := enqueueFor(srv, username, body); err != nil {
			log.Printf("Shared inbox: Failed to queue for %s: %v", username, err)
		}
	}

	if wake != nil {
		wake()
	}
	c.Status(http.StatusAccepted)
}
