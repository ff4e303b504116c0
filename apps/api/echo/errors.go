package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/library"
	"github.com/trezcool/kitabu/core/study"
	"github.com/trezcool/kitabu/core/user"
)

var (
	errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpNotFound = echo.NewHTTPError(http.StatusNotFound, "not found")
	errNoFile       = errors.New("no file uploaded")
	errInvalidID    = errors.New("invalid id")

	// domain errors with their status code
	errorCodes = map[error]int{
		user.ErrInvalidCredentials: http.StatusUnauthorized,
		user.ErrAccountDeactivated: http.StatusForbidden,
		user.ErrNotFound:           http.StatusNotFound,
		library.ErrNotFound:        http.StatusNotFound,
		library.ErrNoImage:         http.StatusNotFound,
		library.ErrForbidden:       http.StatusForbidden,
		study.ErrChapterNotFound:   http.StatusNotFound,
		study.ErrTopicNotFound:     http.StatusNotFound,
		study.ErrSubtopicNotFound:  http.StatusNotFound,
		study.ErrQuizNotFound:      http.StatusNotFound,
	}
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = errUnauthorized.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		case *library.ProcessingError:
			logError(ctx, logger, err)
			code = http.StatusInternalServerError
			message = echo.Map{
				"error":     "Failed to process PDF content",
				"details":   origErr.Err.Error(),
				"pdf_id":    origErr.PDFID,
				"status":    library.StatusFailed,
				"can_retry": true,
			}
		case *study.GenerationError:
			code = http.StatusInternalServerError
			message = origErr.Message
		default:
			if c, ok := domainErrorCode(origErr); ok {
				code = c
				message = origErr.Error()
				break
			}
			// any other error is a server error
			code = http.StatusInternalServerError
			message = http.StatusText(http.StatusInternalServerError)
			if ctx.Echo().Debug {
				message = err.Error()
			}
			logError(ctx, logger, err)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

func logError(ctx echo.Context, logger core.Logger, err error) {
	msg := http.StatusText(http.StatusInternalServerError)
	fields := map[string]interface{}{
		"method":     ctx.Request().Method,
		"path":       ctx.Path(),
		"request_id": ctx.Response().Header().Get(echo.HeaderXRequestID),
	}
	if usr, uErr := getContextUser(ctx); uErr == nil {
		logger.Error(msg, errors.Wrap(err, msg), fields, usr)
		return
	}
	logger.Error(msg, errors.Wrap(err, msg), fields)
}

// domainErrorCode compares by identity: map lookups would panic on unhashable error types.
func domainErrorCode(err error) (int, bool) {
	for dErr, code := range errorCodes {
		if err == dErr {
			return code, true
		}
	}
	return 0, false
}
