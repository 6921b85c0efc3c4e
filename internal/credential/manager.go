// Package credential manages backend session tokens: the initial exchange of a
// long-lived GitHub token, proactive refresh ahead of expiry, and a bounded
// cache of per-caller sessions.
package credential

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tjfontaine/copilot-bridge/internal/api/copilot"
	"github.com/tjfontaine/copilot-bridge/internal/domain"
)

const (
	// refreshMargin is how long before expiry the background loop refreshes.
	refreshMargin = 60 * time.Second

	// retryInterval is the initial wait after a failed refresh attempt; it
	// doubles per consecutive failure up to maxRetryInterval.
	retryInterval    = 30 * time.Second
	maxRetryInterval = 5 * time.Minute

	// callerExpiryBuffer is subtracted from a cached per-caller session's
	// lifetime so a session is never handed out moments before it expires.
	callerExpiryBuffer = 120 * time.Second

	callerCacheSize = 256
)

// Exchanger exchanges a long-lived token for a short-lived session token.
// *copilot.Client satisfies it.
type Exchanger interface {
	ExchangeToken(ctx context.Context, githubToken string) (*copilot.TokenResponse, error)
}

// Credential is a live backend session token.
type Credential struct {
	Token     string
	ExpiresAt time.Time
	RefreshIn time.Duration
}

// Expired reports whether the credential is past its expiry.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Manager holds the operator credential and refreshes it before expiry. It
// also caches sessions exchanged for caller-supplied tokens, keyed by the
// caller's token, so repeated requests don't re-exchange on every call.
type Manager struct {
	exchanger     Exchanger
	operatorToken string
	logger        *slog.Logger

	mu      sync.RWMutex
	current *Credential

	callers *expirable.LRU[string, Credential]
}

// NewManager creates a manager. operatorToken may be empty, in which case the
// manager only serves caller-supplied tokens via TokenFor.
func NewManager(exchanger Exchanger, operatorToken string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		exchanger:     exchanger,
		operatorToken: operatorToken,
		logger:        logger,
		callers:       expirable.NewLRU[string, Credential](callerCacheSize, nil, 0),
	}
}

// HasOperatorToken reports whether an operator token is configured.
func (m *Manager) HasOperatorToken() bool {
	return m.operatorToken != ""
}

// Acquire performs the initial exchange for the operator credential.
func (m *Manager) Acquire(ctx context.Context) error {
	if m.operatorToken == "" {
		return domain.ErrMissingToken("no GitHub token configured")
	}
	cred, err := m.exchange(ctx, m.operatorToken)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.current = &cred
	m.mu.Unlock()

	m.logger.Info("acquired backend credential", "expires_at", cred.ExpiresAt)
	return nil
}

// Current returns the operator credential. It returns an error when no
// credential has been acquired or the held one has expired.
func (m *Manager) Current() (Credential, error) {
	m.mu.RLock()
	cred := m.current
	m.mu.RUnlock()

	if cred == nil {
		return Credential{}, domain.ErrMissingToken("no backend credential available; supply a GitHub token")
	}
	if cred.Expired(time.Now()) {
		return Credential{}, domain.ErrAuthentication("backend credential expired").
			WithCode(domain.ErrorCodeCredentialExpired)
	}
	return *cred, nil
}

// TokenFor returns a session token for the given caller token. When an
// operator token is configured it always takes precedence and the caller's
// value is ignored; otherwise the caller token is exchanged and cached until
// shortly before its expiry.
func (m *Manager) TokenFor(ctx context.Context, callerToken string) (string, error) {
	if m.operatorToken != "" {
		cred, err := m.Current()
		if err == nil {
			return cred.Token, nil
		}
		// Acquire lazily so a failed startup exchange doesn't wedge every
		// request until the refresh loop recovers.
		if err := m.Acquire(ctx); err != nil {
			return "", err
		}
		cred, err = m.Current()
		if err != nil {
			return "", err
		}
		return cred.Token, nil
	}

	if callerToken == "" {
		return "", domain.ErrMissingToken("no GitHub token provided; set GH_TOKEN or pass a token via x-api-key or Authorization header")
	}

	if cred, ok := m.callers.Get(callerToken); ok && !cred.Expired(time.Now()) {
		return cred.Token, nil
	}

	cred, err := m.exchange(ctx, callerToken)
	if err != nil {
		return "", err
	}

	ttl := time.Until(cred.ExpiresAt) - callerExpiryBuffer
	if ttl > 0 {
		// The shared LRU has no per-entry TTL, so store a credential whose
		// expiry already carries the buffer.
		m.callers.Add(callerToken, Credential{Token: cred.Token, ExpiresAt: time.Now().Add(ttl)})
	}
	return cred.Token, nil
}

// Run refreshes the operator credential until ctx is cancelled. Refreshes are
// scheduled ahead of expiry; failures retry with doubling backoff while the
// old credential stays in service until it truly expires.
func (m *Manager) Run(ctx context.Context) {
	if m.operatorToken == "" {
		return
	}

	backoff := retryInterval
	for {
		m.mu.RLock()
		cred := m.current
		m.mu.RUnlock()

		var wait time.Duration
		if cred == nil {
			wait = backoff
		} else {
			wait = refreshDelay(cred.ExpiresAt, time.Now())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		fresh, err := m.exchange(ctx, m.operatorToken)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("credential refresh failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxRetryInterval)
			continue
		}

		backoff = retryInterval
		m.mu.Lock()
		m.current = &fresh
		m.mu.Unlock()
		m.logger.Info("refreshed backend credential", "expires_at", fresh.ExpiresAt)
	}
}

func (m *Manager) exchange(ctx context.Context, token string) (Credential, error) {
	resp, err := m.exchanger.ExchangeToken(ctx, token)
	if err != nil {
		return Credential{}, err
	}
	return Credential{
		Token:     resp.Token,
		ExpiresAt: time.Unix(resp.ExpiresAt, 0),
		RefreshIn: time.Duration(resp.RefreshIn) * time.Second,
	}, nil
}

// refreshDelay computes how long to wait before refreshing a credential that
// expires at the given time. It refreshes ahead of expiry by refreshMargin;
// already-stale credentials refresh immediately.
func refreshDelay(expiresAt, now time.Time) time.Duration {
	d := expiresAt.Sub(now) - refreshMargin
	if d < 0 {
		return 0
	}
	return d
}
