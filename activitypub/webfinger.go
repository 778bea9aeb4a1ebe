package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type webfingerResponse struct {
	Subject string `json:"subject"`
	Links   []struct {
		Rel  string `json:"rel"`
		Type string `json:"type"`
		Href string `json:"href"`
	} `json:"links"`
}

// ResolveHandle turns a fediverse handle like "alice@social.example"
// (a leading @ is tolerated) into the actor URI advertised by the
// remote instance's webfinger endpoint. A bare https URI is returned
// unchanged.
func ResolveHandle(handle string, userAgent string) (string, error) {
	if strings.HasPrefix(handle, "https://") {
		return handle, nil
	}

	handle = strings.TrimPrefix(handle, "@")
	parts := strings.Split(handle, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid handle: %s", handle)
	}
	user, host := parts[0], parts[1]

	wfURL := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s",
		host, url.QueryEscape(fmt.Sprintf("acct:%s@%s", user, host)))

	var wf webfingerResponse
	client := &http.Client{Timeout: 10 * time.Second}

	op := func() error {
		req, err := http.NewRequest("GET", wfURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/jrd+json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("no such user: %s", handle))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("webfinger failed with status: %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if err := json.Unmarshal(body, &wf); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse webfinger JSON: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}

	for _, link := range wf.Links {
		if link.Rel == "self" && strings.Contains(link.Type, "activity+json") {
			return link.Href, nil
		}
	}

	return "", fmt.Errorf("webfinger response for %s has no actor link", handle)
}
