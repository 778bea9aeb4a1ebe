package web

import (
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/deemkeen/anancus/activitypub"
	"github.com/deemkeen/anancus/timeline"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/time/rate"
)

const timelinePageSize = 20

// Router builds the federation HTTP surface. wake nudges the worker
// pool after something was queued; pass nil in tests.
func Router(srv *activitypub.Server, wake func()) *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter rate limit for inbound ActivityPub traffic: 5 req/sec per IP
	apLimiter := NewRateLimiter(rate.Limit(5), 10)

	// Max 1MB request body size for ActivityPub activities
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024) // 1MB

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")

		resource := c.Query("resource")
		if resource == "" || !strings.HasPrefix(resource, "acct:") {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
			return
		}
		resource = strings.TrimPrefix(resource, "acct:")
		resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", srv.Host()))

		err, resp := GetWebfinger(srv, resource)
		if err != nil {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
		} else {
			c.Render(200, render.String{Format: resp})
		}
	})

	g.GET("/users/:actor", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")

		err, actor := GetActor(srv, c.Param("actor"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
		} else {
			c.Render(200, render.String{Format: actor})
		}
	})

	g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		actor := c.Param("actor")
		log.Printf("POST /users/%s/inbox", actor)
		handleInbox(srv, wake, c, actor)
	})

	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		log.Println("POST /inbox (shared inbox)")
		handleSharedInbox(srv, wake, c)
	})

	g.GET("/users/:actor/outbox", func(c *gin.Context) {
		u, err := srv.User(c.Param("actor"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
			return
		}

		entries, err := timeline.Assemble(srv.St, u.OutboxFn(), cursorOf(c),
			timelinePageSize, timeline.ForAnon(srv.InstanceBlocked))
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to read outbox"})
			return
		}

		total, _ := srv.St.IndexLen(u.OutboxFn())
		renderCollection(c, u.OutboxURI(), total, entries)
	})

	g.GET("/users/:actor/followers", func(c *gin.Context) {
		u, err := srv.User(c.Param("actor"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
			return
		}
		renderCollection(c, u.FollowersURI(), u.St.FollowersLen(), nil)
	})

	g.GET("/users/:actor/following", func(c *gin.Context) {
		u, err := srv.User(c.Param("actor"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
			return
		}
		renderCollection(c, u.FollowingURI(), u.St.FollowingLen(), nil)
	})

	// Serve individual posts as ActivityPub objects
	g.GET("/p/:id", func(c *gin.Context) {
		objectId := fmt.Sprintf("%s/p/%s", srv.BaseURI(), c.Param("id"))
		msg, err := srv.St.Get(objectId)
		if err != nil {
			c.JSON(404, gin.H{"error": "Object not found"})
			return
		}
		if !publicPost(msg) {
			c.JSON(404, gin.H{"error": "Object not found"})
			return
		}
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		c.JSON(200, msg)
	})

	// Local hashtag collections, fed from the instance tag indexes
	g.GET("/tag/:tag", func(c *gin.Context) {
		tag := strings.ToLower(c.Param("tag"))
		fn := srv.St.TagIndexFn(tag)

		entries, err := timeline.Assemble(srv.St, fn, cursorOf(c),
			timelinePageSize, timeline.ForAnon(srv.InstanceBlocked))
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to read tag index"})
			return
		}

		total, _ := srv.St.IndexLen(fn)
		id := fmt.Sprintf("%s/tag/%s", srv.BaseURI(), tag)
		renderCollection(c, id, total, entries)
	})

	g.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return g
}

// cursorOf reads the paging parameters of a timeline request.
func cursorOf(c *gin.Context) timeline.Cursor {
	return timeline.Cursor{
		MaxId:   c.Query("max_id"),
		SinceId: c.Query("since_id"),
		MinId:   c.Query("min_id"),
	}
}

// renderCollection writes an ActivityPub OrderedCollection. A nil item
// slice yields a count-only collection, as served for follower lists.
func renderCollection(c *gin.Context, id string, total int, entries []timeline.Entry) {
	coll := gin.H{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         id,
		"type":       "OrderedCollection",
		"totalItems": total,
	}
	if entries != nil {
		items := make([]interface{}, 0, len(entries))
		for _, e := range entries {
			items = append(items, e.Msg)
		}
		coll["orderedItems"] = items
	}
	c.Header("Content-Type", "application/activity+json; charset=utf-8")
	c.JSON(200, coll)
}

func publicPost(msg map[string]interface{}) bool {
	to, _ := msg["to"].([]interface{})
	cc, _ := msg["cc"].([]interface{})
	for _, addr := range append(to, cc...) {
		if addr == "https://www.w3.org/ns/activitystreams#Public" {
			return true
		}
	}
	return false
}

// Serve runs the router, with Let's Encrypt certificates when autoTls
// is on, plain HTTP on the configured port otherwise.
func Serve(srv *activitypub.Server, wake func()) error {
	conf := srv.Conf
	g := Router(srv, wake)

	if conf.Conf.AutoTls {
		log.Printf("Starting federation server on https://%s", conf.Conf.SslDomain)
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(conf.Conf.SslDomain),
			Cache:      autocert.DirCache(filepath.Join(conf.Conf.DataDir, "certs")),
		}
		go func() {
			if err := http.ListenAndServe(":http", m.HTTPHandler(nil)); err != nil {
				log.Printf("ACME http listener failed: %v", err)
			}
		}()
		s := &http.Server{
			Addr:      ":https",
			Handler:   g,
			TLSConfig: m.TLSConfig(),
		}
		return s.ListenAndServeTLS("", "")
	}

	log.Printf("Starting federation server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	return g.Run(fmt.Sprintf(":%d", conf.Conf.HttpPort))
}
