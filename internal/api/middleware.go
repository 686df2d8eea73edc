package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"chatcore/internal/ratelimit"
	"chatcore/internal/server"
	"chatcore/internal/stats"
	"chatcore/internal/types"
)

type ctxKey int

const identityKey ctxKey = iota

func WithIdentity(ctx context.Context, identity types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFrom(ctx context.Context) (types.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(types.Identity)
	return identity, ok
}

func (a *App) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				a.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				a.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware authenticates the request before the websocket upgrade.
// Validation errors never fall through to an anonymous connection.
func (a *App) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := a.limiter.Check(remoteHost(r), ratelimit.ModuleAuth)
		if !res.Allowed {
			a.stats.Incr(stats.RateLimitRejections)
			retryAfter := res.RetryAfter(server.Now())
			w.Header().Set("Retry-After", fmt.Sprint(retryAfter))
			errResp := NewTooManyRequestsError(retryAfter)
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if r.URL.Query().Get("token") != "" {
			// tokens in query strings end up in access logs
			a.log.Printf("ignoring credential passed as query parameter from %s", remoteHost(r))
		}

		credential, ok := bearerToken(r)
		if !ok {
			a.stats.Incr(stats.AuthFailures)
			errResp := NewUnauthorizedError()
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		identity, err := a.validator.Validate(credential)
		if err != nil {
			a.log.Printf("rejected connection from %s: %s", remoteHost(r), err)
			a.stats.Incr(stats.AuthFailures)
			errResp := NewUnauthorizedError()
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := WithIdentity(r.Context(), identity)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}

	return token, true
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
