package events

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/actyx-go/ax/pkg/utils"
)

// AppMode distinguishes how an AppManifest was provisioned (spec.md §1
// "signed/trial app manifest" fixed external contract).
type AppMode string

const (
	AppModeSigned AppMode = "signed"
	AppModeTrial  AppMode = "trial"
	AppModeAdHoc  AppMode = "adhoc"
)

// Claims is the bearer token's payload: (AppId, AppMode, expiration)
// (spec.md §4.9 "Authorization"). Minting these tokens is external to this
// module; C9 only validates a signature and expiry.
type Claims struct {
	AppId   string  `json:"appId"`
	AppMode AppMode `json:"appMode"`
	jwt.RegisteredClaims
}

// Authenticator validates a bearer token string into Claims. The signing
// key material and issuance flow live outside this module (spec.md §1
// Non-goals: "auth token issuance"), modeled on the teacher pack's
// golang-jwt-based validators (ClusterCockpit-cc-backend's
// internal/auth/jwt.go); see DESIGN.md.
type Authenticator interface {
	Validate(token string) (*Claims, error)
}

// HMACAuthenticator validates HS256-signed tokens against a shared secret.
// This is the simplest of several schemes the teacher pack's JWT
// authenticators support (ed25519, HS256 "login token" keys); HS256 is
// picked here since the signing authority is an external collaborator and
// only needs to share one secret with this validator, not a keypair.
type HMACAuthenticator struct {
	secret []byte
}

// NewHMACAuthenticator builds an Authenticator from a shared secret.
func NewHMACAuthenticator(secret []byte) *HMACAuthenticator {
	return &HMACAuthenticator{secret: secret}
}

func (a *HMACAuthenticator) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, utils.New(utils.KindUnauthorized, "unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, utils.Wrapk(utils.KindUnauthorized, "invalid bearer token", err)
	}
	if claims.AppId == "" {
		return nil, utils.New(utils.KindUnauthorized, "token carries no appId")
	}
	return claims, nil
}

// AuthorizeFunc decides whether an authenticated AppId may use the events
// API. Settings-backed authorization policy is out of this module's scope
// (spec.md §1 Non-goals); the default always authorizes a validly signed
// token, and callers wire a stricter func against admin.authorizedUsers-style
// configuration if needed.
type AuthorizeFunc func(appId string) bool

func AllowAll(string) bool { return true }

type ctxKey int

const claimsCtxKey ctxKey = iota

// authMiddleware validates the bearer token on every request and rejects
// missing/expired/unauthorized callers with ERR_UNAUTHORIZED (spec.md §7).
func authMiddleware(auth Authenticator, authorize AuthorizeFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenStr := strings.TrimPrefix(header, "Bearer ")
			if tokenStr == "" || tokenStr == header {
				writeError(w, utils.New(utils.KindUnauthorized, "missing bearer token"))
				return
			}
			claims, err := auth.Validate(tokenStr)
			if err != nil {
				writeError(w, err)
				return
			}
			if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
				writeError(w, utils.New(utils.KindUnauthorized, "token expired"))
				return
			}
			if !authorize(claims.AppId) {
				writeError(w, utils.New(utils.KindUnauthorized, "app not authorized"))
				return
			}
			ctx := context.WithValue(r.Context(), claimsCtxKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsCtxKey).(*Claims)
	return c
}
