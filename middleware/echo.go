package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/goSession/guard"
)

// EchoNavigation is Navigation for echo.
func EchoNavigation(nav Navigator) echo.MiddlewareFunc {
	return echoGuard(nav, func(ctx context.Context, target string) guard.Decision {
		return nav.Navigate(ctx, target)
	})
}

// EchoRequire is Require for echo.
func EchoRequire(nav Navigator, req guard.Requirement) echo.MiddlewareFunc {
	return echoGuard(nav, func(ctx context.Context, target string) guard.Decision {
		return nav.NavigateTo(ctx, req, target)
	})
}

func echoGuard(nav Navigator, decide func(context.Context, string) guard.Decision) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if nav == nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "navigation unavailable")
			}

			r := c.Request()
			ctx := withRequestID(c.Response(), r)
			d := decide(ctx, r.URL.RequestURI())
			if !d.Allow {
				return c.Redirect(http.StatusFound, d.Redirect)
			}

			c.SetRequest(r.WithContext(context.WithValue(ctx, decisionContextKey{}, d)))
			return next(c)
		}
	}
}
