// Package session holds per-connection authentication state. Auth is
// two-step: the identity provider needs a secret token rather than a
// password, so USER names the account and PASS selects one of its
// stored tokens by alias.
package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/gitftp/gitftp/internal/credentials"
	"github.com/gitftp/gitftp/internal/logging"
	"github.com/gitftp/gitftp/internal/metrics"
	"github.com/gitftp/gitftp/internal/remote"
)

// State is the connection's position in the login sequence.
type State int

const (
	StateConnected State = iota
	StateAwaitingCredential
	StateAuthenticated
	StateClosed
)

// Result is the FTP reply produced by a login step. Fatal results close
// the control connection after the reply is sent.
type Result struct {
	Code    int
	Message string
	Fatal   bool
}

// Session is the per-connection state machine. Commands on one
// connection are strictly serialized by the engine, so no locking is
// needed here.
type Session struct {
	store     credentials.Store
	connector remote.Connector

	state   State
	account string
	alias   string
	client  remote.Client
	cwd     string
}

// New creates a session in the connected state rooted at "/".
func New(store credentials.Store, connector remote.Connector) *Session {
	return &Session{
		store:     store,
		connector: connector,
		state:     StateConnected,
		cwd:       "/",
	}
}

// HandleUser processes an identity claim.
func (s *Session) HandleUser(ctx context.Context, account string) Result {
	aliases, err := s.store.Aliases(account)
	if err != nil {
		logging.Error("credential store lookup failed",
			zap.String("account", account), zap.Error(err))
		return Result{Code: 530, Message: "Credential store unavailable.", Fatal: true}
	}
	if len(aliases) == 0 {
		return Result{
			Code:    530,
			Message: "No token configuration found for this user. Add a token with the credential tool first.",
			Fatal:   true,
		}
	}

	s.account = account
	s.state = StateAwaitingCredential
	return Result{
		Code:    331,
		Message: "Username ok. Send the token alias as password, or an empty password if only one token is saved.",
	}
}

// HandlePass processes a credential claim: alias selection followed by
// remote login.
func (s *Session) HandlePass(ctx context.Context, alias string) Result {
	if s.state != StateAwaitingCredential {
		return Result{Code: 503, Message: "Login with USER first."}
	}

	aliases, err := s.store.Aliases(s.account)
	if err != nil || len(aliases) == 0 {
		return Result{Code: 530, Message: "No token configuration found.", Fatal: true}
	}

	if alias == "" {
		if len(aliases) > 1 {
			return Result{
				Code:    530,
				Message: "Multiple tokens available. Specify the token alias as your password.",
				Fatal:   true,
			}
		}
		alias = aliases[0]
	}

	token, err := s.store.Resolve(s.account, alias)
	if err != nil {
		metrics.RecordLogin(false)
		return Result{Code: 530, Message: "Token alias not found for this user.", Fatal: true}
	}

	client, err := s.connector.Connect(ctx, token)
	if err != nil {
		metrics.RecordLogin(false)
		logging.Warn("remote login rejected",
			zap.String("account", s.account),
			zap.String("alias", alias),
			zap.Error(err))
		return Result{Code: 530, Message: "Login incorrect.", Fatal: true}
	}

	s.client = client
	s.alias = alias
	s.state = StateAuthenticated
	metrics.RecordLogin(true)
	logging.Info("login successful",
		zap.String("account", s.account),
		zap.String("identity", client.Identity()),
		zap.String("alias", alias))

	return Result{
		Code:    230,
		Message: "Login successful as " + client.Identity() + " (token alias: " + alias + ").",
	}
}

// Authenticated reports whether the session may run filesystem verbs.
func (s *Session) Authenticated() bool {
	return s.state == StateAuthenticated
}

// Client returns the bound remote client, non-nil iff authenticated.
func (s *Session) Client() remote.Client {
	return s.client
}

// Account returns the account claimed with USER.
func (s *Session) Account() string {
	return s.account
}

// Path returns the current virtual path, always absolute.
func (s *Session) Path() string {
	return s.cwd
}

// SetPath commits a new current virtual path.
func (s *Session) SetPath(p string) {
	s.cwd = p
}

// Close releases the client handle and ends the session.
func (s *Session) Close() {
	s.client = nil
	s.state = StateClosed
}
