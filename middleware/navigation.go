package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/authapi"
	"github.com/MrEthical07/goSession/guard"
)

// Navigator is satisfied by *goSession.Coordinator.
type Navigator interface {
	Navigate(ctx context.Context, target string) guard.Decision
	NavigateTo(ctx context.Context, req guard.Requirement, target string) guard.Decision
}

var _ Navigator = (*goSession.Coordinator)(nil)

type decisionContextKey struct{}

// DecisionFromContext returns the decision that let the request through.
func DecisionFromContext(ctx context.Context) (guard.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(guard.Decision)
	return d, ok
}

// Navigation guards every request with the route table.
func Navigation(nav Navigator) func(http.Handler) http.Handler {
	return guardWith(nav, func(ctx context.Context, target string) guard.Decision {
		return nav.Navigate(ctx, target)
	})
}

// Require guards every request with req, ignoring the route table.
func Require(nav Navigator, req guard.Requirement) func(http.Handler) http.Handler {
	return guardWith(nav, func(ctx context.Context, target string) guard.Decision {
		return nav.NavigateTo(ctx, req, target)
	})
}

func guardWith(nav Navigator, decide func(context.Context, string) guard.Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if nav == nil {
				http.Error(w, "navigation unavailable", http.StatusServiceUnavailable)
				return
			}

			ctx := withRequestID(w, r)
			d := decide(ctx, r.URL.RequestURI())
			if !d.Allow {
				http.Redirect(w, r, d.Redirect, http.StatusFound)
				return
			}

			ctx = context.WithValue(ctx, decisionContextKey{}, d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func withRequestID(w http.ResponseWriter, r *http.Request) context.Context {
	id := r.Header.Get(authapi.RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(authapi.RequestIDHeader, id)
	return goSession.WithRequestID(r.Context(), id)
}
