package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                   string
		Address                string
		DebugHost              string
		ReadTimeout            time.Duration
		WriteTimeout           time.Duration
		ShutdownTimeout        time.Duration
		SessionCookieName      string
		SessionExpirationDelta time.Duration
		SecureCookies          bool
		MaxUploadSize          string // echo body limit format, eg: "50M"
		DisableRequestLogs     bool
	}

	DatabaseConfig struct {
		Engine        string // postgres | sqlite
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		MaxOpenConns  int
	}

	StorageConfig struct {
		UploadDir string
	}

	GeminiConfig struct {
		APIKey           string
		Model            string
		Temperature      float32
		TopP             float32
		TopK             float32
		MaxOutputTokens  int32
		RequestTimeout   time.Duration
		FileExpiryMargin time.Duration
		// GenerationTimeout bounds shared generations, which outlive the request that started them.
		GenerationTimeout time.Duration
	}

	Config struct {
		Env                       string
		Build                     string
		AppName                   string
		Debug                     bool
		TestMode                  bool
		SecretKey                 string
		FrontendBaseURL           string
		DefaultFromEmail          mail.Address
		PasswordResetTimeoutDelta time.Duration
		RollbarToken              string
		SendgridApiKey            string

		Server   ServerConfig
		Database DatabaseConfig
		Storage  StorageConfig
		Gemini   GeminiConfig
	}
)

// Address returns the host:port of the database server.
func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// IsSQLite tells whether the configured engine is the embedded sqlite one.
func (c DatabaseConfig) IsSQLite() bool {
	return c.Engine == "sqlite" || c.Engine == "sqlite3"
}

// NewConfig loads the configuration of the current environment (ENV).
// Values come from defaults, then `config/.env.<env>` (if any), then <ENV>_ prefixed environment variables.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:                       env,
		Build:                     v.GetString("build"),
		AppName:                   v.GetString("appName"),
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		Server: ServerConfig{
			Host:                   v.GetString("server.host"),
			Address:                v.GetString("server.address"),
			DebugHost:              v.GetString("server.debugHost"),
			ReadTimeout:            v.GetDuration("server.readTimeout"),
			WriteTimeout:           v.GetDuration("server.writeTimeout"),
			ShutdownTimeout:        v.GetDuration("server.shutdownTimeout"),
			SessionCookieName:      v.GetString("server.sessionCookieName"),
			SessionExpirationDelta: v.GetDuration("server.sessionExpirationDelta"),
			SecureCookies:          v.GetBool("server.secureCookies"),
			MaxUploadSize:          v.GetString("server.maxUploadSize"),
			DisableRequestLogs:     v.GetBool("server.disableRequestLogs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			MaxOpenConns:  v.GetInt("database.maxOpenConns"),
		},
		Storage: StorageConfig{
			UploadDir: v.GetString("storage.uploadDir"),
		},
		Gemini: GeminiConfig{
			APIKey:            v.GetString("gemini.apiKey"),
			Model:             v.GetString("gemini.model"),
			Temperature:       float32(v.GetFloat64("gemini.temperature")),
			TopP:              float32(v.GetFloat64("gemini.topP")),
			TopK:              float32(v.GetFloat64("gemini.topK")),
			MaxOutputTokens:   v.GetInt32("gemini.maxOutputTokens"),
			RequestTimeout:    v.GetDuration("gemini.requestTimeout"),
			FileExpiryMargin:  v.GetDuration("gemini.fileExpiryMargin"),
			GenerationTimeout: v.GetDuration("gemini.generationTimeout"),
		},
	}

	fromEmail, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatalf("config.mail.ParseAddress(defaultFromEmail): %v", err)
	}
	conf.DefaultFromEmail = *fromEmail

	if !(conf.Debug || conf.TestMode) && conf.SecretKey == defaultSecretKey {
		log.Fatal("config: secretKey must be set outside of DEV and TEST")
	}
	return conf
}

const defaultSecretKey = "k1tabu-dev-0nly-b7#q9v!x2m@c8r$e4w^p6t&z0y*u3n(s5l)h1"

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Kitabu")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("secretKey", defaultSecretKey)
	v.SetDefault("frontendBaseURL", "http://localhost:8000")
	v.SetDefault("defaultFromEmail", "Kitabu <noreply@localhost>")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.readTimeout", 30*time.Second)
	v.SetDefault("server.writeTimeout", 5*time.Minute) // outline extraction is slow
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.sessionCookieName", "kitabu_session")
	v.SetDefault("server.sessionExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.secureCookies", false)
	v.SetDefault("server.maxUploadSize", "50M")
	v.SetDefault("server.disableRequestLogs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "kitabu")
	v.SetDefault("database.user", "kitabu")
	v.SetDefault("database.password", "kitabu")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.maxOpenConns", 10)

	v.SetDefault("storage.uploadDir", "uploads")

	v.SetDefault("gemini.apiKey", "")
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("gemini.temperature", 1.0)
	v.SetDefault("gemini.topP", 0.95)
	v.SetDefault("gemini.topK", 64.0)
	v.SetDefault("gemini.maxOutputTokens", 8192)
	v.SetDefault("gemini.requestTimeout", 3*time.Minute)
	v.SetDefault("gemini.fileExpiryMargin", 5*time.Minute)
	v.SetDefault("gemini.generationTimeout", 10*time.Minute)
}
