package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quizlobby-service/internal/domain"
)

// Dev mode headers, honoured only when no JWT secret is configured.
const (
	HeaderAccountID = "X-Account-ID"
	HeaderUsername  = "X-Username"
	HeaderAvatar    = "X-Avatar"
)

type accountKey struct{}

type accountClaims struct {
	Username string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator resolves the calling account from a bearer token (or the
// "token" query parameter for websocket upgrades). With an empty secret it
// trusts the dev mode headers instead.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// DevMode reports whether identities are taken from request headers.
func (a *Authenticator) DevMode() bool { return len(a.secret) == 0 }

// Issue signs an HS256 token for acct. A zero ttl issues a token without expiry.
func (a *Authenticator) Issue(acct domain.Account, ttl time.Duration) (string, error) {
	if a.DevMode() {
		return "", errors.New("jwt secret not configured")
	}
	claims := accountClaims{
		Username:         acct.Username,
		Avatar:           acct.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{Subject: acct.ID, IssuedAt: jwt.NewNumericDate(time.Now())},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses a token and returns the account it names.
func (a *Authenticator) Verify(token string) (domain.Account, error) {
	claims := &accountClaims{}
	t, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Account{}, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid || claims.Subject == "" {
		return domain.Account{}, errors.New("invalid token")
	}
	return domain.Account{ID: claims.Subject, Username: claims.Username, Avatar: claims.Avatar}, nil
}

// Middleware rejects requests without a resolvable account.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := a.account(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Code: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, acct)))
	})
}

func (a *Authenticator) account(r *http.Request) (domain.Account, error) {
	if a.DevMode() {
		id := r.Header.Get(HeaderAccountID)
		if id == "" {
			id = r.URL.Query().Get("account_id")
		}
		if id == "" {
			return domain.Account{}, errors.New("missing account id")
		}
		return domain.Account{ID: id, Username: r.Header.Get(HeaderUsername), Avatar: r.Header.Get(HeaderAvatar)}, nil
	}
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		return domain.Account{}, errors.New("missing bearer token")
	}
	return a.Verify(token)
}

// AccountFrom returns the authenticated account stored by Middleware.
func AccountFrom(ctx context.Context) (domain.Account, bool) {
	acct, ok := ctx.Value(accountKey{}).(domain.Account)
	return acct, ok
}
