package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	echoapi "github.com/trezcool/kitabu/apps/api/echo"
	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/library"
	"github.com/trezcool/kitabu/core/study"
	"github.com/trezcool/kitabu/core/user"
	emailsvc "github.com/trezcool/kitabu/services/email"
	"github.com/trezcool/kitabu/services/gemini"
	logsvc "github.com/trezcool/kitabu/services/logger"
	"github.com/trezcool/kitabu/services/pdf"
	"github.com/trezcool/kitabu/storage/database"
	sqlxrepos "github.com/trezcool/kitabu/storage/database/sqlx"
	"github.com/trezcool/kitabu/storage/files"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: %+v", err)
	}
}

func run() error {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	zl, err := logsvc.NewZap(conf)
	if err != nil {
		return errors.Wrap(err, "setting up zap")
	}
	logger := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	defer logger.Sync()

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		return errors.Wrap(err, "setting up database")
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error("closing database", err)
		}
	}()

	// set up services
	ctx := context.Background()
	aiClient, err := gemini.NewClient(ctx, conf, logger)
	if err != nil {
		return errors.Wrap(err, "setting up gemini client")
	}
	store, err := files.NewStore(conf.Storage.UploadDir)
	if err != nil {
		return errors.Wrap(err, "setting up upload store")
	}

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	if err = core.ParseEmailTemplates(); err != nil {
		return errors.Wrap(err, "parsing email templates")
	}

	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), emailsvc.NewService(conf, logger), validate, conf)
	libSvc := library.NewService(sqlxrepos.NewLibraryRepository(db), store, pdf.NewInspector(), aiClient, logger, conf)
	studySvc := study.NewService(sqlxrepos.NewStudyRepository(db), libSvc, aiClient, logger, conf)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("gemini_model").Set(conf.Gemini.Model)

	if conf.Server.DebugHost != "" {
		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				logger.Error("debug server closed", err)
			}
		}()
	}

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server, err := echoapi.NewServer(
		conf.Server.Address,
		shutdown,
		&echoapi.Deps{
			Conf:       conf,
			Logger:     logger,
			DB:         db,
			Validate:   validate,
			Translator: translator,
			UserSvc:    usrSvc,
			LibrarySvc: libSvc,
			StudySvc:   studySvc,
		},
	)
	if err != nil {
		return errors.Wrap(err, "setting up server")
	}

	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		return errors.Wrap(err, "server error")

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shut down and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error("could not stop server gracefully", err)

			if err = server.Close(); err != nil {
				return errors.Wrap(err, "could not force stop server")
			}
		}
	}
	return nil
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
