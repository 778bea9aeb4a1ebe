package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/deemkeen/anancus/store"
	lru "github.com/hashicorp/golang-lru/v2"
)

// actorTTL is how long a cached actor document is considered fresh.
const actorTTL = 24 * time.Hour

const actorCacheSize = 256

// Resolver caches remote actor documents in three layers: a small
// in-memory LRU, the object store (fresh for actorTTL, judged by the
// object's mtime), and finally the network. A stale stored document is
// still served when the refetch fails, so a flaky peer does not take
// its old followers down with it.
type Resolver struct {
	st        *store.Store
	cache     *lru.Cache[string, map[string]interface{}]
	client    *http.Client
	userAgent string
}

func NewResolver(st *store.Store, userAgent string) *Resolver {
	cache, _ := lru.New[string, map[string]interface{}](actorCacheSize)
	return &Resolver{
		st:        st,
		cache:     cache,
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
	}
}

// Get returns the actor document for the given URI, fetching and
// caching it if needed.
func (r *Resolver) Get(actorURI string) (map[string]interface{}, error) {
	if actor, ok := r.cache.Get(actorURI); ok {
		return actor, nil
	}

	stored, err := r.st.Get(actorURI)
	if err == nil {
		mtime, merr := r.st.MTime(actorURI)
		if merr == nil && time.Since(mtime) < actorTTL {
			r.cache.Add(actorURI, stored)
			return stored, nil
		}
	}

	fetched, ferr := r.fetch(actorURI)
	if ferr != nil {
		if stored != nil {
			// stale beats nothing
			r.cache.Add(actorURI, stored)
			return stored, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnverifiableActor, ferr)
	}

	if _, err := r.st.AddOverwrite(actorURI, fetched); err != nil {
		return nil, fmt.Errorf("failed to cache actor: %w", err)
	}
	r.st.Touch(actorURI)
	r.cache.Add(actorURI, fetched)

	return fetched, nil
}

// Refresh drops every cache layer's copy and refetches.
func (r *Resolver) Refresh(actorURI string) (map[string]interface{}, error) {
	r.cache.Remove(actorURI)

	fetched, err := r.fetch(actorURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnverifiableActor, err)
	}

	if _, err := r.st.AddOverwrite(actorURI, fetched); err != nil {
		return nil, fmt.Errorf("failed to cache actor: %w", err)
	}
	r.st.Touch(actorURI)
	r.cache.Add(actorURI, fetched)

	return fetched, nil
}

// Forget removes an actor from all cache layers, used when the actor
// deletes itself.
func (r *Resolver) Forget(actorURI string) {
	r.cache.Remove(actorURI)
	r.st.Del(actorURI)
}

func (r *Resolver) fetch(actorURI string) (map[string]interface{}, error) {
	var actor map[string]interface{}

	op := func() error {
		req, err := http.NewRequest("GET", actorURI, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/activity+json")
		req.Header.Set("User-Agent", r.userAgent)

		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return backoff.Permanent(fmt.Errorf("actor is gone: %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if err := json.Unmarshal(body, &actor); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse actor JSON: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}

	id, _ := actor["id"].(string)
	if id == "" || ActorInbox(actor) == "" || ActorPublicKeyPem(actor) == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	return actor, nil
}

// FetchDocument fetches an arbitrary ActivityPub document, without the
// actor field validation. Used to pull in missing reply parents and
// boosted objects.
func (r *Resolver) FetchDocument(uri string) (map[string]interface{}, error) {
	var doc map[string]interface{}

	op := func() error {
		req, err := http.NewRequest("GET", uri, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/activity+json")
		req.Header.Set("User-Agent", r.userAgent)

		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return backoff.Permanent(fmt.Errorf("object is gone: %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("object fetch failed with status: %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse object JSON: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}

	return doc, nil
}

// ActorInbox returns the actor's inbox URI.
func ActorInbox(actor map[string]interface{}) string {
	inbox, _ := actor["inbox"].(string)
	return inbox
}

// ActorSharedInbox returns the instance-wide shared inbox if the actor
// advertises one, otherwise its personal inbox.
func ActorSharedInbox(actor map[string]interface{}) string {
	if ep, ok := actor["endpoints"].(map[string]interface{}); ok {
		if shared, ok := ep["sharedInbox"].(string); ok && shared != "" {
			return shared
		}
	}
	return ActorInbox(actor)
}

// ActorPublicKeyPem returns the actor's signing key in PEM form.
func ActorPublicKeyPem(actor map[string]interface{}) string {
	if pk, ok := actor["publicKey"].(map[string]interface{}); ok {
		if pem, ok := pk["publicKeyPem"].(string); ok {
			return pem
		}
	}
	return ""
}
