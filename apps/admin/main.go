package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/user"
	emailsvc "github.com/trezcool/kitabu/services/email"
	logsvc "github.com/trezcool/kitabu/services/logger"
	"github.com/trezcool/kitabu/storage/database"
	sqlxrepos "github.com/trezcool/kitabu/storage/database/sqlx"
)

func main() {
	os.Exit(run())
}

func run() int {
	conf := core.NewConfig()

	zl, err := logsvc.NewZap(conf)
	if err != nil {
		printError(err)
		return 1
	}
	logger := logsvc.NewRollbarLogger(zl.Named("admin"), conf)
	defer logger.Sync()

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Error("opening database", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	usrRepo := sqlxrepos.NewUserRepository(db)

	// start CLI
	cli := commandLine{
		db:      db,
		usrRepo: usrRepo,
		usrSvc:  user.NewService(usrRepo, emailsvc.NewService(conf, logger), validator.New(), conf),
		pdfRepo: sqlxrepos.NewLibraryRepository(db),
		out:     os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			printError(err)
		}
		return 1
	}
	return 0
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("\nerror: %s", err))
}
