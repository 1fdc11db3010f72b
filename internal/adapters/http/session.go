package httpadapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const sessionIssuer = "docchat"

// SessionKeeper extends the server-side lifetime of a session.
type SessionKeeper interface {
	Touch(ctx context.Context, sessionID string) error
}

type sessionIDContextKey struct{}

func sessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey{}).(string)
	return id
}

type sessionCookies struct {
	secret []byte
	name   string
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// issue signs a token whose subject is the session ID.
func (c sessionCookies) issue(sessionID string) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c sessionCookies) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}

// resolve returns the caller's session ID and whether the cookie must be
// (re)written. Tokens past half their lifetime are refreshed.
func (c sessionCookies) resolve(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return uuid.NewString(), true
	}
	claims, err := c.parse(cookie.Value)
	if err != nil {
		slog.Debug("session_cookie_rejected", "error", err)
		return uuid.NewString(), true
	}
	refresh := claims.IssuedAt == nil || c.now().Sub(claims.IssuedAt.Time) > c.ttl/2
	return claims.Subject, refresh
}

func (c sessionCookies) write(w http.ResponseWriter, sessionID string) error {
	token, err := c.issue(sessionID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	})
	return nil
}

func (rt *Router) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, refresh := rt.cookies.resolve(r)
		if refresh {
			if err := rt.cookies.write(w, sessionID); err != nil {
				slog.Error("session_cookie_sign_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
		}
		if rt.sessions != nil {
			if err := rt.sessions.Touch(r.Context(), sessionID); err != nil {
				slog.Warn("session_touch_failed", "session_id", sessionID, "error", err)
			}
		}

		traceSession(r.Context(), sessionID)
		ctx := context.WithValue(r.Context(), sessionIDContextKey{}, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
