/*
auth.go - Bearer-token authentication

PURPOSE:
  Turns an HS256 JWT into the personnel.Principal every domain operation
  takes. Handlers never see the token; they read the principal from the
  request context.

CLAIMS:
  sub     user id
  role    ADMIN | OFFICER | OPERATOR | COMMANDER | AUDITOR
  unitId  assigned unit (absent for unit-less admins and auditors)

TOKEN SOURCES (first wins):
  1. Authorization: Bearer <token>
  2. ?token=<token>  (only GET /api/change-requests/{id}/document, for
                     downloads opened in a new tab)

SEE ALSO:
  - scenarios.go: Issues demo tokens
  - server.go: Mounts Authenticate on /api
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/personnel-engine/personnel"
)

// Claims is the JWT body.
type Claims struct {
	Role   personnel.Role `json:"role"`
	UnitID string         `json:"unitId,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies principal tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for p.
func (ti *TokenIssuer) Issue(p personnel.Principal) (string, error) {
	now := ti.now()
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(p.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
	}
	if p.UnitID != nil {
		claims.UnitID = string(*p.UnitID)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its principal.
func (ti *TokenIssuer) Parse(tokenString string) (personnel.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return ti.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(ti.now))
	if err != nil {
		return personnel.Principal{}, err
	}
	if !token.Valid {
		return personnel.Principal{}, errors.New("token is not valid")
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return personnel.Principal{}, errors.New("token carries no usable identity")
	}

	p := personnel.Principal{ID: personnel.UserID(claims.Subject), Role: claims.Role}
	if claims.UnitID != "" {
		unit := personnel.UnitID(claims.UnitID)
		p.UnitID = &unit
	}
	return p, nil
}

// Authenticate rejects requests without a valid token with 401 and stores
// the principal on the context otherwise.
func (ti *TokenIssuer) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			writeCodeError(w, http.StatusUnauthorized, personnel.CodeUnauthorized, "Authorization is required", nil)
			return
		}
		p, err := ti.Parse(tokenString)
		if err != nil {
			writeCodeError(w, http.StatusUnauthorized, personnel.CodeUnauthorized, "Invalid or expired token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if queryTokenAllowed(r) {
		return r.URL.Query().Get("token")
	}
	return ""
}

// queryTokenAllowed matches GET /api/change-requests/{id}/document.
func queryTokenAllowed(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	return len(parts) == 4 &&
		parts[0] == "api" &&
		parts[1] == "change-requests" &&
		parts[2] != "" &&
		parts[3] == "document"
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p personnel.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated caller.
func PrincipalFrom(ctx context.Context) (personnel.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(personnel.Principal)
	return p, ok
}
