package activitypub

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/anancus/queue"
)

// ErrPermanent marks a failure that no amount of retrying will fix.
// The worker dead-letters such items immediately.
var ErrPermanent = errors.New("permanent failure")

var deliveryClient = &http.Client{Timeout: 30 * time.Second}

// Deliver sends one queued activity to its remote inbox, re-signing
// with fresh headers on every attempt. 2xx succeeds; 4xx other than
// 408 and 429 is permanent; everything else is worth retrying.
func Deliver(s *Server, item *queue.Item) error {
	err, acc := s.Db.ReadAccByUsername(item.Uid)
	if err != nil {
		return fmt.Errorf("%w: delivery for unknown user %s", ErrPermanent, item.Uid)
	}

	privateKey, err := ParsePrivateKey(acc.WebPrivateKey)
	if err != nil {
		return fmt.Errorf("%w: failed to parse private key: %v", ErrPermanent, err)
	}

	hash := sha256.Sum256(item.Payload)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequest("POST", item.Inbox, bytes.NewReader(item.Payload))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrPermanent, err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", s.Actors.userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	if err := SignRequest(req, privateKey, item.KeyId); err != nil {
		return fmt.Errorf("%w: failed to sign request: %v", ErrPermanent, err)
	}

	resp, err := deliveryClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		log.Printf("Delivery: Sent to %s (status: %d)", item.Inbox, resp.StatusCode)
		return nil
	}

	if permanentStatus(resp.StatusCode) {
		return fmt.Errorf("%w: remote server returned status %d", ErrPermanent, resp.StatusCode)
	}
	return fmt.Errorf("remote server returned status %d", resp.StatusCode)
}

// permanentStatus reports whether a delivery response means the remote
// will never accept this item. Timeouts and rate limits are the two
// 4xx codes that deserve another try.
func permanentStatus(code int) bool {
	if code < 400 || code >= 500 {
		return false
	}
	return code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}
