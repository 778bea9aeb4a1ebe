package domain

import "strings"

// PublicAddress is the special ActivityPub audience meaning "everyone".
const PublicAddress = "https://www.w3.org/ns/activitystreams#Public"

// Activity represents a generic ActivityPub activity
type Activity struct {
	Context interface{} `json:"@context"`
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  interface{} `json:"object"`
}

// ObjectID returns the id of the activity's object, whether the object
// is a bare URI or an embedded document.
func (a *Activity) ObjectID() string {
	switch obj := a.Object.(type) {
	case string:
		return obj
	case map[string]interface{}:
		if id, ok := obj["id"].(string); ok {
			return id
		}
	}
	return ""
}

// ObjectDoc returns the embedded object document, or nil if the object
// is only referenced by URI.
func (a *Activity) ObjectDoc() map[string]interface{} {
	if obj, ok := a.Object.(map[string]interface{}); ok {
		return obj
	}
	return nil
}

// postLikeTypes are the object types that show up in timelines.
var postLikeTypes = []string{"Note", "Question", "Page", "Article", "Video", "Audio", "Event"}

// namedTypes are the post-like types that may legitimately carry a
// "name" field. Anything else with a name is treated as a poll vote.
var namedTypes = []string{"Page", "Video", "Audio", "Event"}

func IsPostLike(objType string) bool {
	for _, t := range postLikeTypes {
		if t == objType {
			return true
		}
	}
	return false
}

func MayHaveName(objType string) bool {
	for _, t := range namedTypes {
		if t == objType {
			return true
		}
	}
	return false
}

// Audience flattens the to and cc fields of a message into a list.
func Audience(msg map[string]interface{}) []string {
	var out []string
	for _, field := range []string{"to", "cc"} {
		switch v := msg[field].(type) {
		case string:
			out = append(out, v)
		case []interface{}:
			for _, e := range v {
				if s, ok := e.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// IsPublic reports whether a message is addressed to the public audience.
func IsPublic(msg map[string]interface{}) bool {
	for _, rcpt := range Audience(msg) {
		if rcpt == PublicAddress {
			return true
		}
	}
	return false
}

// AttributedTo returns the author id of a message.
func AttributedTo(msg map[string]interface{}) string {
	switch v := msg["attributedTo"].(type) {
	case string:
		return v
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); ok {
				return s
			}
			if m, ok := e.(map[string]interface{}); ok {
				if id, ok := m["id"].(string); ok {
					return id
				}
			}
		}
	}
	return ""
}

// InReplyTo returns the id of the message this one replies to, if any.
func InReplyTo(msg map[string]interface{}) string {
	switch v := msg["inReplyTo"].(type) {
	case string:
		return v
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}

// InstanceOf returns the host part of an object or actor id.
func InstanceOf(id string) string {
	s := id
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}
