package logsvc

import (
	"strconv"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/user"
)

// RollbarLogger reports to Rollbar and writes structured logs through zap.
type RollbarLogger struct {
	zap *zap.SugaredLogger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(zl *zap.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.TestMode)
	return &RollbarLogger{zap: zl.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Sync flushes buffered logs and waits for pending Rollbar reports.
func (l RollbarLogger) Sync() {
	rollbar.Wait()
	_ = l.zap.Sync()
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) (rbArgs, zapArgs []interface{}) {
	var usrSet bool
	rbArgs = make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	zapArgs = make([]interface{}, 0, 2*len(args))
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			// only set one User
			if !usrSet {
				rollbar.SetPerson(strconv.Itoa(a.ID), a.Username, a.Email)
				zapArgs = append(zapArgs, "user", a.Username)
				usrSet = true
			}
		case error:
			rbArgs = append(rbArgs, a)
			zapArgs = append(zapArgs, zap.Error(a))
		case map[string]interface{}:
			rbArgs = append(rbArgs, a)
			for k, v := range a {
				zapArgs = append(zapArgs, k, v)
			}
		default:
			rbArgs = append(rbArgs, a)
			zapArgs = append(zapArgs, zap.Any("arg", a))
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return rbArgs, zapArgs
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rbArgs, zapArgs := l.prepare(msg, args)
	rollbar.Debug(rbArgs...)
	l.zap.Debugw(msg, zapArgs...)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rbArgs, zapArgs := l.prepare(msg, args)
	rollbar.Info(rbArgs...)
	l.zap.Infow(msg, zapArgs...)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rbArgs, zapArgs := l.prepare(msg, args)
	rollbar.Warning(rbArgs...)
	l.zap.Warnw(msg, zapArgs...)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rbArgs, zapArgs := l.prepare(msg, args)
	rollbar.Error(rbArgs...)
	l.zap.Errorw(msg, zapArgs...)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rbArgs, zapArgs := l.prepare(msg, args)
	rollbar.Critical(rbArgs...)
	rollbar.Wait()
	l.zap.Fatalw(msg, zapArgs...)
}

// NewZap builds the process logger: human readable in debug, JSON otherwise.
func NewZap(conf *core.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if conf.Debug {
		zc = zap.NewDevelopmentConfig()
	}
	zc.InitialFields = map[string]interface{}{"app": conf.AppName, "env": conf.Env, "build": conf.Build}
	return zc.Build()
}
