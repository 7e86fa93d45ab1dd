package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/toko-admin/internal/common"
)

// Claim names read from staff tokens besides the registered ones.
const (
	ClaimRoles    = "roles"
	ClaimRole     = "role"
	ClaimTenantID = "tenant_id"
)

// Claims is the identity carried by a verified token.
type Claims struct {
	UserID   string
	Roles    []string
	TenantID string
}

// TokenValidator checks the registered claims and signing algorithm of a
// parsed token.
type TokenValidator struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Algorithm jwa.SignatureAlgorithm
}

// Validate checks issuer, audience, expiry and not-before at now, and that
// the token was signed with the expected algorithm.
func (v TokenValidator) Validate(tok jwt.Token, algorithm jwa.SignatureAlgorithm, now time.Time) error {
	if tok == nil {
		return errors.New("auth: token is nil")
	}
	if algorithm == "" {
		return errors.New("auth: token missing algorithm")
	}
	if v.Algorithm != "" && algorithm != v.Algorithm {
		return fmt.Errorf("auth: unexpected token algorithm %s", algorithm)
	}
	if _, ok := tok.Get(jwt.ExpirationKey); !ok {
		return errors.New("auth: token has no expiry")
	}
	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
	}
	if v.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(v.ClockSkew))
	}
	if v.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}
	return jwt.Validate(tok, options...)
}

// Verifier checks HMAC signed bearer tokens issued by the account service.
type Verifier struct {
	Secret    []byte
	Validator TokenValidator
	Now       func() time.Time
}

// NewVerifier returns an HS256 verifier for issuer.
func NewVerifier(secret, issuer string, skew time.Duration) *Verifier {
	return &Verifier{
		Secret: []byte(secret),
		Validator: TokenValidator{
			Issuer:    issuer,
			ClockSkew: skew,
			Algorithm: jwa.HS256,
		},
	}
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func unauthorized(err error) error {
	return common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
}

// Verify parses token, checks signature and registered claims and returns
// the identity it carries.
func (v *Verifier) Verify(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "missing token", http.StatusUnauthorized, nil)
	}
	if len(v.Secret) == 0 {
		return Claims{}, errors.New("auth: verifier secret not configured")
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Claims{}, unauthorized(err)
	}
	if v.Validator.Algorithm != "" && algorithm != v.Validator.Algorithm {
		return Claims{}, unauthorized(fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, v.Secret), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, unauthorized(err)
	}
	if err := v.Validator.Validate(parsed, algorithm, v.now()); err != nil {
		return Claims{}, unauthorized(err)
	}
	if strings.TrimSpace(parsed.Subject()) == "" {
		return Claims{}, unauthorized(errors.New("auth: token has no subject"))
	}
	return Claims{
		UserID:   parsed.Subject(),
		Roles:    rolesOf(parsed),
		TenantID: stringClaim(parsed, ClaimTenantID),
	}, nil
}

func rolesOf(tok jwt.Token) []string {
	var roles []string
	if raw, ok := tok.Get(ClaimRoles); ok {
		switch vals := raw.(type) {
		case []any:
			for _, v := range vals {
				if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
					roles = append(roles, strings.ToLower(strings.TrimSpace(s)))
				}
			}
		case []string:
			for _, s := range vals {
				if strings.TrimSpace(s) != "" {
					roles = append(roles, strings.ToLower(strings.TrimSpace(s)))
				}
			}
		}
	}
	if role := stringClaim(tok, ClaimRole); role != "" {
		roles = append(roles, strings.ToLower(role))
	}
	return roles
}

func stringClaim(tok jwt.Token, name string) string {
	raw, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", fmt.Errorf("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}
