package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// loadedSession is a session snapshot bound to its live cart for one request.
type loadedSession struct {
	Snapshot domain.SessionSnapshot
	Cart     *CartContext
	Merchant domain.MerchantConfig
	// SessionAccount is the account whose numeric id is the session key.
	SessionAccount *domain.Customer
	// Account is the shopper's account: the session account, else the account owning the captured email.
	Account *domain.Customer
}

// AccountID returns the shopper account id or "0" for guests.
func (l *loadedSession) AccountID() string {
	if l.Account == nil {
		return "0"
	}
	return l.Account.ID
}

// AccountEmail returns the shopper account email, if any.
func (l *loadedSession) AccountEmail() string {
	if l.Account == nil {
		return ""
	}
	return l.Account.Email
}

// sessionLoader resolves a session key into a snapshot, the shopper account and a hydrated cart.
type sessionLoader struct {
	sessions  *SessionStore
	engine    *CartEngine
	customers repositories.CustomerRepository
	merchant  MerchantConfigSource
}

func newSessionLoader(sessions *SessionStore, engine *CartEngine, customers repositories.CustomerRepository, merchant MerchantConfigSource) (*sessionLoader, error) {
	if sessions == nil {
		return nil, errors.New("session loader: session store is required")
	}
	if engine == nil {
		return nil, errors.New("session loader: cart engine is required")
	}
	if customers == nil {
		return nil, errors.New("session loader: customer repository is required")
	}
	if merchant == nil {
		return nil, errors.New("session loader: merchant config is required")
	}
	return &sessionLoader{sessions: sessions, engine: engine, customers: customers, merchant: merchant}, nil
}

func (l *sessionLoader) load(ctx context.Context, sessionKey string) (*loadedSession, error) {
	snapshot, err := l.sessions.Load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	merchant := l.merchant.Current(ctx)

	loaded := &loadedSession{Snapshot: snapshot, Merchant: merchant}
	if id, ok := snapshot.AccountID(); ok {
		account, err := l.customers.FindByID(ctx, id)
		switch {
		case err == nil:
			loaded.SessionAccount = &account
			loaded.Account = &account
		case !isRepoNotFound(err):
			return nil, dependencyError(err)
		}
	}
	if loaded.Account == nil {
		if email := strings.TrimSpace(snapshot.CustomerEmail); email != "" {
			account, err := l.customers.FindByEmail(ctx, email)
			switch {
			case err == nil:
				loaded.Account = &account
			case !isRepoNotFound(err):
				return nil, dependencyError(err)
			}
		}
	}

	cart, err := l.engine.Hydrate(ctx, HydrateInput{
		Snapshot:       snapshot,
		Merchant:       merchant,
		SessionAccount: loaded.SessionAccount,
	})
	if err != nil {
		return nil, err
	}
	loaded.Cart = cart
	return loaded, nil
}
