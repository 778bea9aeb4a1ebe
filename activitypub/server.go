package activitypub

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/deemkeen/anancus/db"
	"github.com/deemkeen/anancus/domain"
	"github.com/deemkeen/anancus/queue"
	"github.com/deemkeen/anancus/store"
	"github.com/deemkeen/anancus/util"
)

// Server bundles everything federation code needs: config, the identity
// database, the object store, the shared instance queue and the remote
// actor resolver. There is exactly one per process, passed around
// explicitly.
type Server struct {
	Conf   *util.AppConfig
	Db     *db.DB
	St     *store.Store
	Shared *queue.Queue
	Actors *Resolver
}

// NewServer wires up the federation context on top of an already opened
// database and store.
func NewServer(conf *util.AppConfig, database *db.DB, st *store.Store) (*Server, error) {
	shared, err := queue.Open(st.QueueDir(), st.ErrorDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open shared queue: %w", err)
	}

	srv := &Server{
		Conf:   conf,
		Db:     database,
		St:     st,
		Shared: shared,
	}
	srv.Actors = NewResolver(st, util.UserAgent())

	return srv, nil
}

// Host is the public hostname this instance federates under.
func (s *Server) Host() string {
	if s.Conf.Conf.SslDomain != "" {
		return s.Conf.Conf.SslDomain
	}
	return s.Conf.Conf.Host
}

func (s *Server) BaseURI() string {
	return "https://" + s.Host()
}

// InstanceBlocked reports whether inbound traffic from a host is
// refused server-wide.
func (s *Server) InstanceBlocked(host string) bool {
	return s.Db.IsInstanceBlocked(host)
}

// LocalUserOf maps an actor-scoped URI on this instance to its
// username. Collection suffixes like /followers resolve to the owning
// user. Returns "" for anything foreign or unrecognised.
func (s *Server) LocalUserOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host != s.Host() {
		return ""
	}
	rest, ok := strings.CutPrefix(u.Path, "/users/")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// User resolves a local account into its per-user federation context,
// opening the account's delivery queue.
func (s *Server) User(username string) (*User, error) {
	err, acc := s.Db.ReadAccByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("unknown user %s: %w", username, err)
	}

	ust := s.St.User(username)
	out, err := queue.Open(ust.QueueDir(), s.St.ErrorDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open queue for %s: %w", username, err)
	}

	return &User{Srv: s, Acc: acc, St: ust, Q: out}, nil
}

// User is the federation context of one local account.
type User struct {
	Srv *Server
	Acc *domain.Account
	St  *store.User
	Q   *queue.Queue // the user's durable work queue, inbound and outbound
}

func (u *User) ActorId() string {
	return fmt.Sprintf("%s/users/%s", u.Srv.BaseURI(), u.Acc.Username)
}

func (u *User) KeyId() string {
	return u.ActorId() + "#main-key"
}

func (u *User) InboxURI() string {
	return u.ActorId() + "/inbox"
}

func (u *User) OutboxURI() string {
	return u.ActorId() + "/outbox"
}

func (u *User) FollowersURI() string {
	return u.ActorId() + "/followers"
}

func (u *User) FollowingURI() string {
	return u.ActorId() + "/following"
}

// TimelineFn is the index file of the user's private timeline.
func (u *User) TimelineFn() string {
	return u.St.IndexFn("private")
}

// OutboxFn is the index file of the user's public posts.
func (u *User) OutboxFn() string {
	return u.St.IndexFn("public")
}

// Follows reports whether this user follows the actor, accepted or not.
func (u *User) Follows(actor string) bool {
	return u.St.IsFollowing(actor)
}

func (u *User) FollowsFp(fp string) bool {
	return u.St.IsFollowingFp(fp)
}

func (u *User) Muted(actor string) bool {
	return u.Srv.Db.IsMuted(u.Acc.Id, actor)
}

func (u *User) HiddenFp(fp string) bool {
	return u.St.IsHiddenFp(fp)
}
