package activitypub

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/deemkeen/anancus/domain"
	"github.com/deemkeen/anancus/util"
)

const activityContext = "https://www.w3.org/ns/activitystreams"

// newObjectId mints a stable, time-ordered local object id.
func (u *User) newObjectId(kind string) string {
	return fmt.Sprintf("%s/%s/%s", u.Srv.BaseURI(), kind, util.Tid(0))
}

// MsgActor builds the actor document served for this user.
func (u *User) MsgActor() map[string]interface{} {
	return map[string]interface{}{
		"@context":          []interface{}{activityContext, "https://w3id.org/security/v1"},
		"id":                u.ActorId(),
		"type":              "Person",
		"preferredUsername": u.Acc.Username,
		"name":              u.Acc.DisplayName,
		"summary":           u.Acc.Summary,
		"inbox":             u.InboxURI(),
		"outbox":            u.OutboxURI(),
		"followers":         u.FollowersURI(),
		"following":         u.FollowingURI(),
		"manuallyApprovesFollowers": u.Acc.Locked,
		"endpoints": map[string]interface{}{
			"sharedInbox": u.Srv.BaseURI() + "/inbox",
		},
		"publicKey": map[string]interface{}{
			"id":           u.KeyId(),
			"owner":        u.ActorId(),
			"publicKeyPem": u.Acc.WebPublicKey,
		},
	}
}

// MsgNote builds a public Note object. inReplyTo may be empty.
func (u *User) MsgNote(content string, inReplyTo string) map[string]interface{} {
	now := time.Now().UTC().Format(time.RFC3339)
	note := map[string]interface{}{
		"id":           u.newObjectId("p"),
		"type":         "Note",
		"attributedTo": u.ActorId(),
		"content":      content,
		"published":    now,
		"to":           []interface{}{domain.PublicAddress},
		"cc":           []interface{}{u.FollowersURI()},
	}
	if inReplyTo != "" {
		note["inReplyTo"] = inReplyTo
	}
	if tags := hashtags(content); len(tags) > 0 {
		var tagList []interface{}
		for _, t := range tags {
			tagList = append(tagList, map[string]interface{}{
				"type": "Hashtag",
				"name": "#" + t,
				"href": fmt.Sprintf("%s/tag/%s", u.Srv.BaseURI(), t),
			})
		}
		note["tag"] = tagList
	}
	return note
}

// MsgCreate wraps an object in a Create activity with the same
// audience.
func (u *User) MsgCreate(obj map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"@context":  activityContext,
		"id":        u.newObjectId("a"),
		"type":      "Create",
		"actor":     u.ActorId(),
		"published": obj["published"],
		"to":        obj["to"],
		"cc":        obj["cc"],
		"object":    obj,
	}
}

func (u *User) MsgFollow(actorURI string) map[string]interface{} {
	return map[string]interface{}{
		"@context": activityContext,
		"id":       u.newObjectId("a"),
		"type":     "Follow",
		"actor":    u.ActorId(),
		"object":   actorURI,
	}
}

// MsgAccept answers a received Follow.
func (u *User) MsgAccept(followMsg map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"@context": activityContext,
		"id":       u.newObjectId("a"),
		"type":     "Accept",
		"actor":    u.ActorId(),
		"to":       []interface{}{followMsg["actor"]},
		"object":   followMsg,
	}
}

func (u *User) MsgLike(objectId string) map[string]interface{} {
	return map[string]interface{}{
		"@context": activityContext,
		"id":       u.newObjectId("a"),
		"type":     "Like",
		"actor":    u.ActorId(),
		"object":   objectId,
	}
}

func (u *User) MsgAnnounce(objectId string) map[string]interface{} {
	return map[string]interface{}{
		"@context": activityContext,
		"id":       u.newObjectId("a"),
		"type":     "Announce",
		"actor":    u.ActorId(),
		"to":       []interface{}{domain.PublicAddress},
		"cc":       []interface{}{u.FollowersURI()},
		"object":   objectId,
	}
}

// MsgUndo reverses a previously sent activity.
func (u *User) MsgUndo(activity map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"@context": activityContext,
		"id":       u.newObjectId("a"),
		"type":     "Undo",
		"actor":    u.ActorId(),
		"object":   activity,
	}
}

// MsgDelete announces a deletion with a Tombstone in place of the
// object.
func (u *User) MsgDelete(objectId string) map[string]interface{} {
	return map[string]interface{}{
		"@context": activityContext,
		"id":       u.newObjectId("a"),
		"type":     "Delete",
		"actor":    u.ActorId(),
		"to":       []interface{}{domain.PublicAddress},
		"object": map[string]interface{}{
			"id":   objectId,
			"type": "Tombstone",
		},
	}
}

func (u *User) MsgUpdate(obj map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"@context": activityContext,
		"id":       u.newObjectId("a"),
		"type":     "Update",
		"actor":    u.ActorId(),
		"to":       obj["to"],
		"cc":       obj["cc"],
		"object":   obj,
	}
}

var hashtagRe = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_]+)`)

// hashtags extracts the distinct lowercased tags from post content.
func hashtags(content string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range hashtagRe.FindAllStringSubmatch(content, -1) {
		tag := strings.ToLower(m[1])
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}
