package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultCertsURL is Google's JWK set for identity tokens.
const DefaultCertsURL = "https://www.googleapis.com/oauth2/v3/certs"

var (
	// ErrUnknownKey means the token names a key the provider does not publish.
	ErrUnknownKey = errors.New("unknown signing key")
	// ErrKeysUnavailable means the provider's key set could not be fetched.
	ErrKeysUnavailable = errors.New("signing keys unavailable")
)

// KeySource resolves a token's key id to the provider's public key.
type KeySource interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// JWKSKeySource serves keys from a remote JWK set. keyfunc refreshes the set
// in the background and refetches, rate limited, on an unknown key id.
type JWKSKeySource struct {
	kf keyfunc.Keyfunc
}

// NewJWKSKeySource starts watching url. The first fetch failing is not an
// error; lookups report ErrKeysUnavailable until a fetch succeeds. The
// background refresh stops when ctx is done.
func NewJWKSKeySource(ctx context.Context, url string) (*JWKSKeySource, error) {
	if url == "" {
		url = DefaultCertsURL
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{url})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	return &JWKSKeySource{kf: kf}, nil
}

func (s *JWKSKeySource) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	tok := &jwt.Token{
		Method: jwt.SigningMethodRS256,
		Header: map[string]any{"kid": kid, "alg": jwt.SigningMethodRS256.Alg()},
	}
	key, err := s.kf.Keyfunc(tok)
	if err != nil {
		all, rerr := s.kf.Storage().KeyReadAll(ctx)
		if rerr != nil || len(all) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an RSA key", ErrUnknownKey, kid)
	}
	return pub, nil
}
