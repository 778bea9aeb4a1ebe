package web

import (
	"encoding/json"
	"fmt"

	"github.com/deemkeen/anancus/activitypub"
)

// GetActor renders a local user's actor document.
func GetActor(srv *activitypub.Server, username string) (error, string) {
	u, err := srv.User(username)
	if err != nil {
		return err, `{"detail":"Not Found"}`
	}

	doc, err := json.Marshal(u.MsgActor())
	if err != nil {
		return fmt.Errorf("failed to marshal actor: %w", err), ""
	}

	return nil, string(doc)
}
