package credential

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/copilot-bridge/internal/api/copilot"
	"github.com/tjfontaine/copilot-bridge/internal/domain"
)

type fakeExchanger struct {
	calls   atomic.Int64
	expires time.Duration
	fail    bool
}

func (f *fakeExchanger) ExchangeToken(ctx context.Context, githubToken string) (*copilot.TokenResponse, error) {
	n := f.calls.Add(1)
	if f.fail {
		return nil, domain.ErrAuthentication("exchange refused").WithCode(domain.ErrorCodeExchangeFailed)
	}
	return &copilot.TokenResponse{
		Token:     fmt.Sprintf("session-%s-%d", githubToken, n),
		ExpiresAt: time.Now().Add(f.expires).Unix(),
	}, nil
}

func TestAcquireAndCurrent(t *testing.T) {
	ex := &fakeExchanger{expires: 30 * time.Minute}
	m := NewManager(ex, "ghp_operator", nil)

	if err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	cred, err := m.Current()
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if cred.Token != "session-ghp_operator-1" {
		t.Errorf("Token = %q, want session-ghp_operator-1", cred.Token)
	}
}

func TestCurrentWithoutAcquire(t *testing.T) {
	m := NewManager(&fakeExchanger{expires: time.Hour}, "ghp_operator", nil)

	_, err := m.Current()
	if err == nil {
		t.Fatal("Current() succeeded without acquire, want error")
	}
	apiErr := domain.AsAPIError(err)
	if apiErr.HTTPStatusCode() != 403 {
		t.Errorf("status = %d, want 403", apiErr.HTTPStatusCode())
	}
}

func TestAcquireWithoutOperatorToken(t *testing.T) {
	m := NewManager(&fakeExchanger{expires: time.Hour}, "", nil)

	if err := m.Acquire(context.Background()); err == nil {
		t.Fatal("Acquire() succeeded without an operator token, want error")
	}
}

func TestAcquireExchangeFailure(t *testing.T) {
	m := NewManager(&fakeExchanger{fail: true}, "ghp_operator", nil)

	err := m.Acquire(context.Background())
	if err == nil {
		t.Fatal("Acquire() succeeded against a failing exchange, want error")
	}
	apiErr := domain.AsAPIError(err)
	if apiErr.Code != domain.ErrorCodeExchangeFailed {
		t.Errorf("code = %q, want %q", apiErr.Code, domain.ErrorCodeExchangeFailed)
	}
}

func TestTokenForOperatorUsesManagedCredential(t *testing.T) {
	ex := &fakeExchanger{expires: time.Hour}
	m := NewManager(ex, "ghp_operator", nil)
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	for range 3 {
		tok, err := m.TokenFor(context.Background(), "ghp_operator")
		if err != nil {
			t.Fatalf("TokenFor() error: %v", err)
		}
		if tok != "session-ghp_operator-1" {
			t.Errorf("token = %q, want session-ghp_operator-1", tok)
		}
	}
	if got := ex.calls.Load(); got != 1 {
		t.Errorf("exchange calls = %d, want 1", got)
	}
}

func TestTokenForOperatorPrecedenceOverCallerToken(t *testing.T) {
	ex := &fakeExchanger{expires: time.Hour}
	m := NewManager(ex, "ghp_operator", nil)
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	tok, err := m.TokenFor(context.Background(), "ghu_someone_else")
	if err != nil {
		t.Fatalf("TokenFor() error: %v", err)
	}
	if tok != "session-ghp_operator-1" {
		t.Errorf("token = %q, want the operator session", tok)
	}
	if got := ex.calls.Load(); got != 1 {
		t.Errorf("exchange calls = %d, want 1", got)
	}
}

func TestTokenForLazyAcquire(t *testing.T) {
	ex := &fakeExchanger{expires: time.Hour}
	m := NewManager(ex, "ghp_operator", nil)

	tok, err := m.TokenFor(context.Background(), "")
	if err != nil {
		t.Fatalf("TokenFor() error: %v", err)
	}
	if tok != "session-ghp_operator-1" {
		t.Errorf("token = %q, want session-ghp_operator-1", tok)
	}

	// The lazily acquired credential is now the managed one.
	if _, err := m.Current(); err != nil {
		t.Errorf("Current() error after lazy acquire: %v", err)
	}
}

func TestTokenForCachesCallerSessions(t *testing.T) {
	ex := &fakeExchanger{expires: time.Hour}
	m := NewManager(ex, "", nil)

	first, err := m.TokenFor(context.Background(), "ghu_caller")
	if err != nil {
		t.Fatalf("TokenFor() error: %v", err)
	}
	second, err := m.TokenFor(context.Background(), "ghu_caller")
	if err != nil {
		t.Fatalf("TokenFor() error: %v", err)
	}
	if first != second {
		t.Errorf("cached session differs: %q vs %q", first, second)
	}
	if got := ex.calls.Load(); got != 1 {
		t.Errorf("exchange calls = %d, want 1", got)
	}
}

func TestTokenForShortLivedSessionNotCached(t *testing.T) {
	// A session inside the expiry buffer must not be cached, so each request
	// re-exchanges.
	ex := &fakeExchanger{expires: 90 * time.Second}
	m := NewManager(ex, "", nil)

	if _, err := m.TokenFor(context.Background(), "ghu_caller"); err != nil {
		t.Fatalf("TokenFor() error: %v", err)
	}
	if _, err := m.TokenFor(context.Background(), "ghu_caller"); err != nil {
		t.Fatalf("TokenFor() error: %v", err)
	}
	if got := ex.calls.Load(); got != 2 {
		t.Errorf("exchange calls = %d, want 2", got)
	}
}

func TestTokenForMissingToken(t *testing.T) {
	m := NewManager(&fakeExchanger{expires: time.Hour}, "", nil)

	_, err := m.TokenFor(context.Background(), "")
	if err == nil {
		t.Fatal("TokenFor() succeeded without a token, want error")
	}
	apiErr := domain.AsAPIError(err)
	if apiErr.Code != domain.ErrorCodeMissingToken {
		t.Errorf("code = %q, want %q", apiErr.Code, domain.ErrorCodeMissingToken)
	}
}

func TestRefreshDelay(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		expiresAt time.Time
		want      time.Duration
	}{
		{"well before expiry", now.Add(10 * time.Minute), 9 * time.Minute},
		{"inside margin", now.Add(30 * time.Second), 0},
		{"already expired", now.Add(-time.Minute), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := refreshDelay(tt.expiresAt, now); got != tt.want {
				t.Errorf("refreshDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	m := NewManager(&fakeExchanger{expires: time.Hour}, "ghp_operator", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
