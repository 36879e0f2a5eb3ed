package credentials

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/go-containerregistry/pkg/authn"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// gcrUsername is the user name Google registries expect with an access token.
const gcrUsername = "oauth2accesstoken"

// TokenCache memoises Google application default credentials for the whole
// process. Token refreshes are serialised by the cache's lock.
type TokenCache struct {
	mu        sync.Mutex
	source    oauth2.TokenSource
	newSource func(ctx context.Context) (oauth2.TokenSource, error)
}

// NewTokenCache returns a cache backed by application default credentials,
// which honour GOOGLE_APPLICATION_CREDENTIALS.
func NewTokenCache() *TokenCache {
	return &TokenCache{newSource: defaultTokenSource}
}

// NewStaticTokenCache returns a cache around an existing token source.
func NewStaticTokenCache(src oauth2.TokenSource) *TokenCache {
	return &TokenCache{newSource: func(context.Context) (oauth2.TokenSource, error) { return src, nil }}
}

func defaultTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	creds, err := google.FindDefaultCredentials(context.WithoutCancel(ctx), cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("failed to find default credentials: %w", err)
	}
	return creds.TokenSource, nil
}

// Token returns a valid access token, refreshing it when expired.
func (c *TokenCache) Token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == nil {
		src, err := c.newSource(ctx)
		if err != nil {
			return nil, err
		}
		c.source = oauth2.ReuseTokenSource(nil, src)
	}
	tok, err := c.source.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return tok, nil
}

// googleKeychain answers for the gcr.io family with the cached access token.
type googleKeychain struct {
	tokens *TokenCache
}

// IsGoogleRegistry reports whether host is gcr.io or one of its regional mirrors.
func IsGoogleRegistry(host string) bool {
	return host == "gcr.io" || strings.HasSuffix(host, ".gcr.io")
}

// Resolve implements authn.Keychain.
func (k *googleKeychain) Resolve(target authn.Resource) (authn.Authenticator, error) {
	if !IsGoogleRegistry(target.RegistryStr()) {
		return authn.Anonymous, nil
	}
	tok, err := k.tokens.Token(context.Background())
	if err != nil {
		return nil, err
	}
	return authn.FromConfig(authn.AuthConfig{Username: gcrUsername, Password: tok.AccessToken}), nil
}
