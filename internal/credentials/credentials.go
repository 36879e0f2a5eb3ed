// Package credentials resolves registry credentials: static ones given on the
// command line, a memoised Google OAuth2 token for the gcr.io family and the
// local docker config as a fallback.
package credentials

import (
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"

	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

// ParseCredentials parses 'registry:username:password' entries. Malformed entries are skipped.
func ParseCredentials(creds []string) []types.RegistryCredentials {
	const (
		registryURLIndex = 0
		usernameIndex    = 1
		passwordIndex    = 2
		splitChar        = ":"
	)
	var result []types.RegistryCredentials
	for _, c := range creds {
		parts := strings.SplitN(c, splitChar, 3)
		if len(parts) != 3 || parts[registryURLIndex] == "" {
			continue
		}
		result = append(result, types.RegistryCredentials{
			RegistryURL: parts[registryURLIndex],
			Username:    parts[usernameIndex],
			Password:    parts[passwordIndex],
		})
	}
	return result
}

// staticKeychain serves basic auth for the registries it was given.
type staticKeychain struct {
	byHost map[string]authn.AuthConfig
}

// StaticKeychain returns a keychain answering with the given credentials by registry host.
func StaticKeychain(creds []types.RegistryCredentials) authn.Keychain {
	k := &staticKeychain{byHost: make(map[string]authn.AuthConfig, len(creds))}
	for _, c := range creds {
		k.byHost[c.RegistryURL] = authn.AuthConfig{Username: c.Username, Password: c.Password}
	}
	return k
}

// Resolve implements authn.Keychain.
func (k *staticKeychain) Resolve(target authn.Resource) (authn.Authenticator, error) {
	cfg, ok := k.byHost[target.RegistryStr()]
	if !ok {
		return authn.Anonymous, nil
	}
	return authn.FromConfig(cfg), nil
}

// NewKeychain chains static credentials, Google tokens for gcr.io hosts and the docker config.
func NewKeychain(static []types.RegistryCredentials, tokens *TokenCache) authn.Keychain {
	chain := []authn.Keychain{StaticKeychain(static)}
	if tokens != nil {
		chain = append(chain, &googleKeychain{tokens: tokens})
	}
	chain = append(chain, authn.DefaultKeychain)
	return authn.NewMultiKeychain(chain...)
}
