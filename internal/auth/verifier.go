// Package auth verifies bearer identity tokens: signature and expiry against
// the provider's published keys, a fixed pair of accepted issuers, and an
// audience allow-list read from the record store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ignite/scrub-gateway/internal/apperr"
	"github.com/ignite/scrub-gateway/internal/metrics"
)

// AcceptedIssuers are the only issuers a token may carry.
var AcceptedIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

const clockSkew = 30 * time.Second

// Identity is the verified claim set of a token.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
	Locale        string
	HostedDomain  string
	Issuer        string
	Audience      []string
	// Claims holds every decoded claim as presented.
	Claims map[string]any
}

// Resolver yields the current allowed-audience set.
type Resolver interface {
	Resolve(ctx context.Context) (map[string]struct{}, error)
}

// Verifier checks identity tokens.
type Verifier struct {
	keys    KeySource
	allow   Resolver
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewVerifier(keys KeySource, allow Resolver, m *metrics.Metrics) *Verifier {
	return &Verifier{keys: keys, allow: allow, metrics: m, now: time.Now}
}

// Verify returns the token's identity, or an *apperr.Error of kind
// Unauthorized (bad signature, expiry, issuer or missing audience), Forbidden
// (audience not allowed) or ServiceUnavailable (keys or allow-list unreachable).
func (v *Verifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	id, err := v.verify(ctx, raw)
	if err != nil {
		v.metrics.Verification(apperr.KindOf(err).String())
		return nil, err
	}
	v.metrics.Verification("ok")
	return id, nil
}

func (v *Verifier) verify(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, apperr.Unauthorizedf("missing identity token")
	}

	// Issuer and audience are judged before any key lookup, so a foreign
	// token is Unauthorized even while the provider's keys are unreachable.
	unverified := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, unverified); err != nil {
		return nil, apperr.Wrap(apperr.Unauthorized, "invalid identity token", err)
	}
	iss, _ := unverified.GetIssuer()
	if !slices.Contains(AcceptedIssuers, iss) {
		return nil, apperr.Unauthorizedf("wrong issuer %q", iss)
	}
	if aud, err := unverified.GetAudience(); err != nil || len(aud) == 0 {
		return nil, apperr.Unauthorizedf("identity token has no audience")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keys.PublicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, ErrKeysUnavailable) {
			return nil, apperr.Unavailable("identity provider keys unavailable", err)
		}
		return nil, apperr.Wrap(apperr.Unauthorized, "invalid identity token", err)
	}
	aud, _ := claims.GetAudience()

	allowed, err := v.allow.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !audienceAllowed(aud, allowed) {
		return nil, apperr.Forbiddenf("audience %s is not allowed", fmt.Sprint([]string(aud)))
	}

	return identityFrom(claims, iss, aud), nil
}

func audienceAllowed(aud []string, allowed map[string]struct{}) bool {
	for _, a := range aud {
		if _, ok := allowed[a]; ok {
			return true
		}
	}
	return false
}

func identityFrom(c jwt.MapClaims, iss string, aud []string) *Identity {
	str := func(k string) string {
		s, _ := c[k].(string)
		return s
	}
	id := &Identity{
		Subject:      str("sub"),
		Email:        str("email"),
		Name:         str("name"),
		GivenName:    str("given_name"),
		FamilyName:   str("family_name"),
		Picture:      str("picture"),
		Locale:       str("locale"),
		HostedDomain: str("hd"),
		Issuer:       iss,
		Audience:     aud,
		Claims:       map[string]any(c),
	}
	switch ev := c["email_verified"].(type) {
	case bool:
		id.EmailVerified = ev
	case string:
		id.EmailVerified = ev == "true"
	}
	return id
}
