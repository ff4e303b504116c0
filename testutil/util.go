// Package testutil sets up databases, users and services for tests.
package testutil

import (
	"context"
	"net/mail"
	"os"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/user"
	logsvc "github.com/trezcool/kitabu/services/logger"
	"github.com/trezcool/kitabu/storage/database"
)

// PostgresDSNEnv names the variable holding a postgres test database URL; postgres tests are skipped without it.
const PostgresDSNEnv = "KITABU_TEST_POSTGRES_DSN"

// NewConfig returns the configuration used by tests.
func NewConfig() *core.Config {
	return &core.Config{
		Env:                       "TEST",
		Build:                     "test",
		AppName:                   "Kitabu",
		TestMode:                  true,
		SecretKey:                 "test-secret-key",
		FrontendBaseURL:           "http://kitabu.test",
		DefaultFromEmail:          mail.Address{Name: "Kitabu", Address: "noreply@kitabu.test"},
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		Server: core.ServerConfig{
			Host:                   "localhost",
			SessionCookieName:      "kitabu_session",
			SessionExpirationDelta: time.Hour,
			MaxUploadSize:          "1M",
			DisableRequestLogs:     true,
		},
		Database: core.DatabaseConfig{Engine: "sqlite", Name: ":memory:"},
		Gemini: core.GeminiConfig{
			Model:             "gemini-test",
			FileExpiryMargin:  5 * time.Minute,
			GenerationTimeout: time.Minute,
		},
	}
}

// NewLogger logs through the test's output.
func NewLogger(t testing.TB) *logsvc.RollbarLogger {
	return logsvc.NewRollbarLogger(zaptest.NewLogger(t), NewConfig())
}

// NewValidator returns a validator with the app's rules and english messages.
func NewValidator(t testing.TB) (*validator.Validate, ut.Translator) {
	validate := validator.New()
	english := en.New()
	translator, found := ut.New(english, english).GetTranslator("en")
	if !found {
		t.Fatal("english translator not found")
	}
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return validate, translator
}

// OpenDB returns a migrated in-memory sqlite database, closed with the test.
func OpenDB(t testing.TB) *sqlx.DB {
	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite(): %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = database.Migrate(db); err != nil {
		t.Fatalf("Migrate(): %v", err)
	}
	return db
}

// OpenPostgres returns the migrated postgres test database, emptied; the test is skipped when none is configured.
func OpenPostgres(t testing.TB) *sqlx.DB {
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("sqlx.Open(): %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = database.Migrate(db); err != nil {
		t.Fatalf("Migrate(): %v", err)
	}
	ResetDB(t, db)
	return db
}

// ResetDB deletes all rows.
func ResetDB(t testing.TB, db *sqlx.DB) {
	for _, table := range []string{"quiz_questions", "quizzes", "subtopics", "topics", "chapters", "pdfs", "users"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("ResetDB(%s): %v", table, err)
		}
	}
}

func CreateUser(t testing.TB, repo user.Repository, uname, email, pwd string, isActive bool, createdAt ...time.Time) user.User {
	tstamp := time.Now().UTC().Truncate(time.Microsecond)
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Username:  uname,
		Email:     email,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd == "" {
		pwd = "Pa$$w0rd!"
	}
	if err := usr.SetPassword(pwd); err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}
