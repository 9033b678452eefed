package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/secrets-gateway/internal/apperror"
	"github.com/sakif/secrets-gateway/internal/metrics"
	"github.com/sakif/secrets-gateway/internal/model"
	"github.com/sakif/secrets-gateway/internal/session"
)

// Credential is what a client presents to log in. The set of variants is
// closed: only types in this package can implement it.
type Credential interface {
	strategy() string
}

// LocalCredential is a username/password pair.
type LocalCredential struct {
	Username string
	Password string
}

// FederatedCredential is a profile already vouched for by an external
// provider (the OAuth exchange has completed).
type FederatedCredential struct {
	Provider    string
	ProviderID  string
	DisplayName string
}

func (LocalCredential) strategy() string     { return "local" }
func (FederatedCredential) strategy() string { return "federated" }

// State is a step of one authentication attempt.
type State int

const (
	StateAnonymous State = iota
	StateAwaitingStrategy
	StateLocalPending
	StateFederatedPending
	StateAuthenticated
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAwaitingStrategy:
		return "awaiting_strategy"
	case StateLocalPending:
		return "local_pending"
	case StateFederatedPending:
		return "federated_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of Authenticate or Register.
//
// On success State is StateAuthenticated and User and Payload are set. On
// failure State is StateRejected and Reason usually holds the apperror kind:
// ErrInvalidCredential, ErrDuplicateUsername, ErrValidation or
// ErrStoreUnavailable. Anything else is an internal failure (see Failed).
type Outcome struct {
	State   State
	User    *model.User
	Payload session.Payload
	Reason  error
	Path    []State
}

// Authenticated reports whether the attempt succeeded.
func (o *Outcome) Authenticated() bool { return o.State == StateAuthenticated }

// Failed reports whether the attempt was rejected because the gateway
// could not finish it (an outage, a stopped worker pool, a signing error)
// rather than because of the credential itself.
func (o *Outcome) Failed() bool {
	return o.State == StateRejected && (apperror.IsRetryable(o.Reason) || !isTaxonomyError(o.Reason))
}

func (o *Outcome) advance(s State) {
	o.State = s
	o.Path = append(o.Path, s)
}

// Sessions is the part of the session layer the broker and guard need.
// *session.Serializer implements it.
type Sessions interface {
	Serialize(ctx context.Context, user *model.User) (session.Payload, error)
	Load(ctx context.Context, p session.Payload) (*session.Session, error)
	Revoke(ctx context.Context, p session.Payload) error
}

var _ Sessions = (*session.Serializer)(nil)

// Broker drives an authentication attempt from Anonymous to Authenticated
// or Rejected.
//
//	Anonymous → AwaitingStrategy ─┬→ LocalPending ─────┬→ Authenticated
//	                              └→ FederatedPending ─┴→ Rejected
//
// A session is only established after the credential has been verified.
type Broker struct {
	verifier *Verifier
	resolver *Resolver
	sessions Sessions
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewBroker(verifier *Verifier, resolver *Resolver, sessions Sessions, m *metrics.Metrics, logger *slog.Logger) *Broker {
	return &Broker{
		verifier: verifier,
		resolver: resolver,
		sessions: sessions,
		metrics:  m,
		logger:   logger,
	}
}

// Authenticate verifies cred and, on success, opens a session.
func (b *Broker) Authenticate(ctx context.Context, cred Credential) *Outcome {
	o := &Outcome{}
	o.advance(StateAnonymous)
	o.advance(StateAwaitingStrategy)

	strategy := "unknown"
	var user *model.User
	var err error

	switch c := cred.(type) {
	case LocalCredential:
		strategy = c.strategy()
		o.advance(StateLocalPending)
		user, err = b.verifier.Verify(ctx, c.Username, c.Password)
		// Unknown user and wrong password look the same from outside.
		if errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrInvalidCredential) {
			err = apperror.InvalidCredential()
		}
	case FederatedCredential:
		strategy = c.strategy()
		o.advance(StateFederatedPending)
		user, err = b.resolver.Resolve(ctx, c.Provider, c.ProviderID, c.DisplayName)
	default:
		err = apperror.ValidationFailed("credential", "unsupported credential")
	}

	if err != nil {
		return b.reject(o, strategy, err)
	}
	return b.establish(ctx, o, strategy, user)
}

// Register creates a local account and logs it in straight away.
func (b *Broker) Register(ctx context.Context, username, password string) *Outcome {
	o := &Outcome{}
	o.advance(StateAnonymous)
	o.advance(StateAwaitingStrategy)
	o.advance(StateLocalPending)

	user, err := b.verifier.Register(ctx, username, password)
	if err != nil {
		return b.reject(o, "register", err)
	}
	return b.establish(ctx, o, "register", user)
}

func (b *Broker) establish(ctx context.Context, o *Outcome, strategy string, user *model.User) *Outcome {
	payload, err := b.sessions.Serialize(ctx, user)
	if err != nil {
		return b.reject(o, strategy, err)
	}

	o.advance(StateAuthenticated)
	o.User = user
	o.Payload = payload

	b.metrics.AuthAttempt(strategy, metrics.OutcomeAuthenticated)
	b.logger.Info("authenticated",
		slog.String("strategy", strategy),
		slog.String("userID", user.ID),
	)
	return o
}

func (b *Broker) reject(o *Outcome, strategy string, reason error) *Outcome {
	o.advance(StateRejected)
	o.Reason = reason

	outcome := metrics.OutcomeRejected
	level := slog.LevelInfo
	if o.Failed() {
		outcome = metrics.OutcomeError
		level = slog.LevelError
	}
	b.metrics.AuthAttempt(strategy, outcome)
	b.logger.Log(context.Background(), level, "authentication rejected",
		slog.String("strategy", strategy),
		slog.String("reason", reason.Error()),
	)
	return o
}

// isTaxonomyError reports whether err is one of the expected rejection
// kinds rather than an internal failure.
func isTaxonomyError(err error) bool {
	return errors.Is(err, apperror.ErrInvalidCredential) ||
		errors.Is(err, apperror.ErrDuplicateUsername) ||
		errors.Is(err, apperror.ErrValidation) ||
		errors.Is(err, apperror.ErrStoreUnavailable)
}
