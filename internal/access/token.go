package access

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"notespace/internal/domain"
	"notespace/internal/secret"
)

// InviteClaims is what an invite token carries.
type InviteClaims struct {
	InviteID    string
	WorkspaceID string
	Role        domain.Role
	ExpiresAt   *time.Time
}

// Issuer signs and verifies invite tokens (HS256). The key is read from the
// secret store, generated on first use.
type Issuer struct {
	secrets secret.SecretStore
	now     func() time.Time

	mu  sync.Mutex
	key []byte
}

func NewIssuer(secrets secret.SecretStore, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{secrets: secrets, now: now}
}

func (i *Issuer) signingKey() ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.key != nil {
		return i.key, nil
	}
	key, err := i.secrets.Get(secret.KeyInviteSigning)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	if len(key) == 0 {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		key = []byte(hex.EncodeToString(raw))
		if err := i.secrets.Set(secret.KeyInviteSigning, key); err != nil {
			return nil, fmt.Errorf("store signing key: %w", err)
		}
	}
	i.key = key
	return key, nil
}

// Issue signs a token for inv.
func (i *Issuer) Issue(inv domain.Invite) (string, error) {
	key, err := i.signingKey()
	if err != nil {
		return "", err
	}
	claims := gojwt.MapClaims{
		"jti":  inv.ID,
		"ws":   inv.WorkspaceID,
		"role": string(inv.Role),
		"iat":  i.now().Unix(),
	}
	if inv.ExpiresAt != nil {
		claims["exp"] = inv.ExpiresAt.Unix()
	}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign invite: %w", err)
	}
	return token, nil
}

// Parse verifies token. Expired tokens fail with ErrInviteExpired; anything
// malformed or wrongly signed is reported as an unknown invite.
func (i *Issuer) Parse(token string) (InviteClaims, error) {
	key, err := i.signingKey()
	if err != nil {
		return InviteClaims{}, err
	}
	parser := gojwt.NewParser(
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithTimeFunc(i.now),
	)
	parsed, err := parser.Parse(token, func(*gojwt.Token) (any, error) { return key, nil })
	if errors.Is(err, gojwt.ErrTokenExpired) {
		return InviteClaims{}, domain.ErrInviteExpired
	}
	if err != nil {
		return InviteClaims{}, domain.NotFound("invite", "token")
	}

	claims := parsed.Claims.(gojwt.MapClaims)
	out := InviteClaims{}
	if v, ok := claims["jti"].(string); ok {
		out.InviteID = v
	}
	if v, ok := claims["ws"].(string); ok {
		out.WorkspaceID = v
	}
	if v, ok := claims["role"].(string); ok {
		out.Role = domain.Role(v)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		out.ExpiresAt = &t
	}
	if out.InviteID == "" || out.WorkspaceID == "" {
		return InviteClaims{}, domain.NotFound("invite", "token")
	}
	return out, nil
}
