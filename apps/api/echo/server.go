package echoapi

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/library"
	"github.com/trezcool/kitabu/core/study"
	"github.com/trezcool/kitabu/core/user"
)

type (
	// Pinger checks the database is reachable.
	Pinger interface {
		PingContext(ctx context.Context) error
	}

	Deps struct {
		Conf       *core.Config
		Logger     core.Logger
		DB         Pinger
		Validate   *validator.Validate
		Translator ut.Translator
		UserSvc    *user.Service
		LibrarySvc *library.Service
		StudySvc   *study.Service
	}

	Server interface {
		http.Handler
		Start()
		Shutdown(ctx context.Context) error
		Close() error
		Errors() <-chan error
		ShutdownSignal() <-chan os.Signal
	}

	server struct {
		address  string
		deps     *Deps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ Server = (*server)(nil)

func NewServer(address string, shutdown chan os.Signal, deps *Deps) (Server, error) {
	core.RequireArgs(
		vala.IsNotNil(deps.Conf, "deps.Conf"),
		vala.IsNotNil(deps.Logger, "deps.Logger"),
		vala.IsNotNil(deps.UserSvc, "deps.UserSvc"),
		vala.IsNotNil(deps.LibrarySvc, "deps.LibrarySvc"),
		vala.IsNotNil(deps.StudySvc, "deps.StudySvc"),
	)
	if shutdown == nil {
		shutdown = make(chan os.Signal, 1)
	}
	s := &server{
		address:  address,
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: shutdown,
	}
	if err := s.setup(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *server) setup() error {
	conf := s.deps.Conf

	renderer, err := newPageRenderer()
	if err != nil {
		return errors.Wrap(err, "loading page templates")
	}

	s.app.HideBanner = true
	s.app.Debug = conf.Debug
	s.app.Renderer = renderer
	s.app.Server.ReadTimeout = conf.Server.ReadTimeout
	s.app.Server.WriteTimeout = conf.Server.WriteTimeout
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)

	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	if !conf.Server.DisableRequestLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	auth := authMiddleware(s.deps.UserSvc, conf)
	optionalAuth := optionalAuthMiddleware(s.deps.UserSvc, conf)
	uploadLimit := middleware.BodyLimit(conf.Server.MaxUploadSize)

	s.app.GET("/health", s.health)

	registerUserAPI(s.app, auth, s.deps)
	registerLibraryAPI(s.app, auth, uploadLimit, s.deps)
	registerStudyAPI(s.app, auth, s.deps)
	return registerPages(s.app, auth, optionalAuth, s.deps)
}

func (s *server) Start() {
	if err := s.app.Start(s.address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) Close() error {
	return s.app.Close()
}

func (s *server) Errors() <-chan error {
	return s.errors
}

func (s *server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *server) health(ctx echo.Context) error {
	if s.deps.DB != nil {
		pingCtx, cancel := context.WithTimeout(ctx.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.PingContext(pingCtx); err != nil {
			return errors.Wrap(err, "pinging database")
		}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
