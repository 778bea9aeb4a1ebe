package web

import (
	"fmt"

	"github.com/deemkeen/anancus/activitypub"
)

func GetWebfinger(srv *activitypub.Server, user string) (error, string) {

	err, acc := srv.Db.ReadAccByUsername(user)
	if err != nil {
		return err, GetWebFingerNotFound()
	}

	username := acc.Username

	return nil, fmt.Sprintf(
		`{
					"subject": "acct:%s@%s",

					"links": [
						{
							"rel": "self",
							"type": "application/activity+json",
							"href": "https://%s/users/%s"
						}
					]
				}`, username, srv.Host(),
		srv.Host(), username)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
