package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
	"github.com/PlasticDigits/tidaldex-broker/internal/integration"
	"github.com/PlasticDigits/tidaldex-broker/internal/logger"
)

// Registry owns all live sessions, at most one per user. Sessions are
// checked out by reference per request and destroyed here, never by the
// session itself.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	catalog  *integration.Catalog
	deps     Deps
	log      zerolog.Logger
}

func NewRegistry(catalog *integration.Catalog, deps Deps) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		catalog:  catalog,
		deps:     deps,
		log:      logger.Component("registry"),
	}
}

// StartSession creates a session for a user on the named integration,
// replacing any existing session. A user without a wallet cannot start one.
func (r *Registry) StartSession(ctx context.Context, userID, appName string) (*Session, error) {
	in, ok := r.catalog.Get(appName)
	if !ok {
		return nil, brokererr.New(brokererr.CodeUsage, "unknown integration "+appName)
	}

	s := New(userID, in, r.deps)
	if !s.InitializeContext(ctx) {
		return nil, brokererr.New(brokererr.CodeNoWallet, "no active wallet; create or unlock one first")
	}

	r.mu.Lock()
	r.sessions[userID] = s
	r.mu.Unlock()
	r.log.Info().Str("user", logger.UserHash(userID)).Str("app", appName).Msg("session started")
	return s, nil
}

// Get returns the user's live session, if any.
func (r *Registry) Get(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Close destroys the user's session. Closing a user with no session is a
// no-op.
func (r *Registry) Close(userID string) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if ok {
		s.CancelPendingTransaction()
		r.log.Info().Str("user", logger.UserHash(userID)).Msg("session closed")
	}
}
