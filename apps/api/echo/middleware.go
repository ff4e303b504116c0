package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/user"
)

// authMiddleware requires a valid session cookie of an active user.
func authMiddleware(svc *user.Service, conf *core.Config) echo.MiddlewareFunc {
	jwt := middleware.JWTWithConfig(jwtConfig(conf))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return jwt(func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			if err = loadActiveUser(svc, conf, claims, ctx); err != nil {
				return err
			}
			return next(ctx)
		})
	}
}

// optionalAuthMiddleware loads the session user if any; invalid sessions are ignored.
func optionalAuthMiddleware(svc *user.Service, conf *core.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			cookie, err := ctx.Cookie(conf.Server.SessionCookieName)
			if err != nil || cookie.Value == "" {
				return next(ctx)
			}
			claims, err := parseToken(cookie.Value, conf)
			if err != nil {
				clearSessionCookie(ctx, conf)
				return next(ctx)
			}
			if err = loadActiveUser(svc, conf, *claims, ctx); err != nil && !isUnauthorized(err) {
				return err
			}
			return next(ctx)
		}
	}
}

// loginRedirect sends unauthenticated page requests to the login page.
func loginRedirect(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		err := next(ctx)
		if err != nil && isUnauthorized(err) {
			return ctx.Redirect(http.StatusFound, "/login")
		}
		return err
	}
}

func isUnauthorized(err error) bool {
	herr, ok := errors.Cause(err).(*echo.HTTPError)
	if !ok {
		return false
	}
	return herr == middleware.ErrJWTMissing || herr.Code == http.StatusUnauthorized
}
