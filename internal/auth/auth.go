// Package auth implements the two credential paths of §6:
// `credentials.auth_type` of "api_key" (a static bearer header) or
// "oauth" (a refresh-token grant via golang.org/x/oauth2, refreshed
// through the OAuth retry profile and serialized process-wide per
// Design Note §9's "cyclic knowledge between Stream and Client" note —
// the client owns authentication, streams just get a Signer).
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/usedatabrew/klaviyo-source/internal/cerrors"
	"github.com/usedatabrew/klaviyo-source/internal/config"
	"github.com/usedatabrew/klaviyo-source/internal/retry"
)

const oauthTokenURL = "https://a.klaviyo.com/oauth/token"

// Signer enriches an outgoing request with credentials.
type Signer interface {
	Sign(ctx context.Context, req *http.Request) error
}

// apiKeySigner implements the static bearer-key path.
type apiKeySigner struct {
	key string
}

func (s *apiKeySigner) Sign(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Klaviyo-API-Key "+s.key)
	return nil
}

// oauthSigner implements the refresh-token path. Refreshes are
// serialized process-wide (a single mutex, concurrency 1) to avoid a
// thundering herd against the token endpoint when many streams' calls
// discover an expired token at once.
type oauthSigner struct {
	mu      sync.Mutex
	ts      oauth2.TokenSource
	invoker *retry.Invoker
}

// NewSigner builds the Signer matching cfg.Credentials.AuthType.
func NewSigner(cfg config.Credentials, invoker *retry.Invoker) (Signer, error) {
	switch cfg.AuthType {
	case config.AuthAPIKey:
		if cfg.APIKey == "" {
			return nil, &cerrors.FatalError{Err: fmt.Errorf("credentials.api_key is required for auth_type=api_key")}
		}
		return &apiKeySigner{key: cfg.APIKey}, nil
	case config.AuthOAuth:
		if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
			return nil, &cerrors.FatalError{Err: fmt.Errorf("credentials.client_id/secret/refresh_token are required for auth_type=oauth")}
		}
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: oauthTokenURL,
			},
		}
		token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
		return &oauthSigner{
			ts:      oauthCfg.TokenSource(context.Background(), token),
			invoker: invoker,
		}, nil
	default:
		return nil, &cerrors.FatalError{Err: fmt.Errorf("unknown credentials.auth_type %q", cfg.AuthType)}
	}
}

func (s *oauthSigner) Sign(ctx context.Context, req *http.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The shared Invoker retries everything except a *cerrors.ClientFaultError.
	// The OAuth profile inverts that default (retry ONLY on
	// rate_limit_exceeded, per §4.2), so every other token error is wrapped
	// as a client fault to force the invoker to stop.
	var tok *oauth2.Token
	err := s.invoker.WithRetry(ctx, func(ctx context.Context) error {
		t, err := s.ts.Token()
		if err != nil {
			if isRateLimited(err) {
				return err
			}
			return &cerrors.ClientFaultError{Err: err}
		}
		tok = t
		return nil
	})
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)
	return nil
}

// isRateLimited reports whether the token endpoint signalled
// rate_limit_exceeded, the only condition §4.2 says the OAuth profile
// should retry on.
func isRateLimited(err error) bool {
	rErr, ok := err.(*oauth2.RetrieveError)
	if !ok {
		return false
	}
	return errorCodeIs(rErr, "rate_limit_exceeded")
}

func errorCodeIs(rErr *oauth2.RetrieveError, code string) bool {
	return rErr.ErrorCode == code
}
