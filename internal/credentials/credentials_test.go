package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

func TestParseCredentials(t *testing.T) {
	tests := []struct {
		name  string
		creds []string
		want  []types.RegistryCredentials
	}{
		{
			name:  "single credential",
			creds: []string{"registry1.dso.mil:myuser:mypassword"},
			want:  []types.RegistryCredentials{{RegistryURL: "registry1.dso.mil", Username: "myuser", Password: "mypassword"}},
		},
		{
			name:  "password containing the separator",
			creds: []string{"ghcr.io:bot:pa:ss"},
			want:  []types.RegistryCredentials{{RegistryURL: "ghcr.io", Username: "bot", Password: "pa:ss"}},
		},
		{
			name:  "malformed entries are skipped",
			creds: []string{"no-separators", ":user:pass"},
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseCredentials(tt.creds)); diff != "" {
				t.Errorf("ParseCredentials() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStaticKeychain(t *testing.T) {
	kc := StaticKeychain([]types.RegistryCredentials{{RegistryURL: "registry1.dso.mil", Username: "u", Password: "p"}})

	repo, err := name.NewRepository("registry1.dso.mil/ironbank/nginx")
	require.NoError(t, err)
	auth, err := kc.Resolve(repo)
	require.NoError(t, err)
	cfg, err := auth.Authorization()
	require.NoError(t, err)
	assert.Equal(t, "u", cfg.Username)
	assert.Equal(t, "p", cfg.Password)

	other, err := name.NewRepository("quay.io/org/app")
	require.NoError(t, err)
	auth, err = kc.Resolve(other)
	require.NoError(t, err)
	assert.Equal(t, authn.Anonymous, auth)
}

type countingSource struct {
	calls atomic.Int32
}

func (c *countingSource) Token() (*oauth2.Token, error) {
	c.calls.Add(1)
	return &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}, nil
}

func TestTokenCacheReusesValidToken(t *testing.T) {
	src := &countingSource{}
	cache := NewStaticTokenCache(src)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := cache.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok", tok.AccessToken)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestTokenCacheSourceError(t *testing.T) {
	cache := &TokenCache{newSource: func(context.Context) (oauth2.TokenSource, error) {
		return nil, errors.New("no credentials")
	}}
	_, err := cache.Token(context.Background())
	require.Error(t, err)
}

func TestGoogleKeychainOnlyAnswersForGCR(t *testing.T) {
	kc := &googleKeychain{tokens: NewStaticTokenCache(&countingSource{})}

	gcr, err := name.NewRepository("eu.gcr.io/proj/app")
	require.NoError(t, err)
	auth, err := kc.Resolve(gcr)
	require.NoError(t, err)
	cfg, err := auth.Authorization()
	require.NoError(t, err)
	assert.Equal(t, gcrUsername, cfg.Username)
	assert.Equal(t, "tok", cfg.Password)

	hub, err := name.NewRepository("docker.io/library/nginx")
	require.NoError(t, err)
	auth, err = kc.Resolve(hub)
	require.NoError(t, err)
	assert.Equal(t, authn.Anonymous, auth)

	assert.True(t, IsGoogleRegistry("asia.gcr.io"))
	assert.False(t, IsGoogleRegistry("ghcr.io"))
}
