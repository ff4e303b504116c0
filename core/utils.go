package core

import (
	"context"
	"strings"
	"time"

	"github.com/kat-co/vala"
	"golang.org/x/text/unicode/norm"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// CleanName trims `s`, collapses inner whitespace and normalizes it to NFC
// so that names typed in URLs match names extracted from documents.
func CleanName(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// RequireArgs panics when a constructor is given unusable dependencies.
//
//	core.RequireArgs(vala.IsNotNil(db, "db"), vala.StringNotEmpty(dir, "dir"))
func RequireArgs(checks ...vala.Checker) {
	vala.BeginValidation().Validate(checks...).CheckAndPanic()
}

// DetachedContext keeps the values of `ctx` but not its cancellation, so that work shared by
// several callers is not aborted when the first one goes away. It is bounded by `timeout` instead.
func DetachedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
