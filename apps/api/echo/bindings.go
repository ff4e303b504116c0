package echoapi

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/kitabu/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field != "" {
			ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
}

// pathParam returns the unescaped value of a path parameter.
func pathParam(ctx echo.Context, name string) string {
	val := ctx.Param(name)
	if ctx.Request().URL.RawPath == "" {
		return val // already decoded
	}
	if unescaped, err := url.PathUnescape(val); err == nil {
		return unescaped
	}
	return val
}

func idParam(ctx echo.Context) (int, error) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil || id <= 0 {
		return 0, core.NewValidationError(errInvalidID)
	}
	return id, nil
}

// pdfIDQuery is the optional `pdf_id` narrowing a lookup by names.
func pdfIDQuery(ctx echo.Context) (int, error) {
	val := ctx.QueryParam("pdf_id")
	if val == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(val)
	if err != nil || id < 0 {
		return 0, core.NewValidationError(errInvalidID, core.FieldError{Field: "pdf_id", Error: errInvalidID.Error()})
	}
	return id, nil
}

func boolQuery(ctx echo.Context, name string) bool {
	b, _ := strconv.ParseBool(ctx.QueryParam(name))
	return b
}
