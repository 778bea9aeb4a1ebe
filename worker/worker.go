// Package worker runs the background side of federation: it drains the
// shared task queue and every user's queue, dispatching items to the
// activitypub handlers and applying the retry policy.
package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/deemkeen/anancus/activitypub"
	"github.com/deemkeen/anancus/domain"
	"github.com/deemkeen/anancus/metrics"
	"github.com/deemkeen/anancus/queue"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	defaultPoll = 5 * time.Second
	// leases older than this belong to a worker that died mid-item
	staleLease = 15 * time.Minute
)

// Pool is a fixed set of workers over the server's queues. Items of
// one user are never processed concurrently; items of different users
// are.
type Pool struct {
	srv  *activitypub.Server
	n    int
	poll time.Duration

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup

	userLocks *xsync.MapOf[string, *sync.Mutex]
}

func NewPool(srv *activitypub.Server, n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{
		srv:       srv,
		n:         n,
		poll:      defaultPoll,
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		userLocks: xsync.NewMapOf[string, *sync.Mutex](),
	}
}

func (p *Pool) Start() {
	log.Printf("Worker: Starting %d workers", p.n)
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Stop waits for in-flight items to finish.
func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()
	log.Println("Worker: Stopped")
}

// Wake nudges the pool to drain immediately instead of waiting for the
// next poll tick.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		p.drain()
		select {
		case <-p.quit:
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// drain empties everything currently eligible: the shared queue first,
// then each user's queue under its per-user lock.
func (p *Pool) drain() {
	p.srv.Shared.Recover(staleLease)
	p.drainQueue(p.srv.Shared, nil, "shared")

	uids, err := p.srv.St.UserList()
	if err != nil {
		log.Printf("Worker: Failed to list users: %v", err)
		return
	}

	for _, uid := range uids {
		mu, _ := p.userLocks.LoadOrCompute(uid, func() *sync.Mutex { return &sync.Mutex{} })
		if !mu.TryLock() {
			continue // another worker is on this user
		}

		u, err := p.srv.User(uid)
		if err != nil {
			mu.Unlock()
			log.Printf("Worker: Failed to open user %s: %v", uid, err)
			continue
		}
		u.Q.Recover(staleLease)
		p.drainQueue(u.Q, u, uid)
		mu.Unlock()
	}
}

func (p *Pool) drainQueue(q *queue.Queue, u *activitypub.User, scope string) {
	for {
		select {
		case <-p.quit:
			return
		default:
		}

		item, err := q.Next()
		if err != nil {
			if !errors.Is(err, queue.ErrEmpty) {
				log.Printf("Worker: Queue error in %s: %v", scope, err)
			}
			break
		}

		p.settle(q, item, p.handle(u, item))
	}

	metrics.QueueDepth.WithLabelValues(scope).Set(float64(q.Len()))
}

func (p *Pool) handle(u *activitypub.User, item *queue.Item) error {
	switch item.Kind {
	case queue.KindInput:
		if u == nil {
			return fmt.Errorf("%w: input item without user", activitypub.ErrPermanent)
		}
		var a domain.Activity
		if json.Unmarshal(item.Payload, &a) == nil && a.Type != "" {
			metrics.InboundTotal.WithLabelValues(a.Type).Inc()
		}
		return activitypub.ProcessInput(u, item)

	case queue.KindOutput:
		return activitypub.Deliver(p.srv, item)

	case queue.KindCloseQuestion:
		return activitypub.CloseQuestion(p.srv, item.ObjectId)

	case queue.KindActorRefresh:
		return activitypub.RefreshActor(p.srv, item.Actor)

	case queue.KindObjectRequest:
		if u == nil {
			return fmt.Errorf("%w: object request without user", activitypub.ErrPermanent)
		}
		return activitypub.RequestObject(u, item)

	case queue.KindPurge:
		if err := activitypub.Purge(p.srv); err != nil {
			return err
		}
		return activitypub.SchedulePurge(p.srv)

	default:
		return fmt.Errorf("%w: unknown item kind %s", activitypub.ErrPermanent, item.Kind)
	}
}

// settle acks, retries or dead-letters a processed item.
func (p *Pool) settle(q *queue.Queue, item *queue.Item, err error) {
	if err == nil {
		if item.Kind == queue.KindOutput {
			metrics.DeliveriesTotal.WithLabelValues("ok").Inc()
		}
		if aerr := q.Ack(item); aerr != nil {
			log.Printf("Worker: Failed to ack item %s: %v", item.Id, aerr)
		}
		return
	}

	if errors.Is(err, activitypub.ErrPermanent) || item.Attempts+1 >= queue.MaxAttempts(item.Kind) {
		log.Printf("Worker: Dead-lettering %s item %s: %v", item.Kind, item.Id, err)
		metrics.DeadLettersTotal.Inc()
		if item.Kind == queue.KindOutput {
			metrics.DeliveriesTotal.WithLabelValues("dead").Inc()
		}
		if derr := q.Dead(item); derr != nil {
			log.Printf("Worker: Failed to dead-letter item %s: %v", item.Id, derr)
		}
		return
	}

	log.Printf("Worker: Retrying %s item %s (attempt %d): %v", item.Kind, item.Id, item.Attempts+1, err)
	metrics.RetriesTotal.Inc()
	if item.Kind == queue.KindOutput {
		metrics.DeliveriesTotal.WithLabelValues("retry").Inc()
	}
	if rerr := q.Retry(item); rerr != nil {
		log.Printf("Worker: Failed to retry item %s: %v", item.Id, rerr)
	}
}
