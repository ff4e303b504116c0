package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/library"
)

type libraryApi struct {
	svc *library.Service
}

func registerLibraryAPI(app *echo.Echo, auth, uploadLimit echo.MiddlewareFunc, deps *Deps) {
	api := libraryApi{svc: deps.LibrarySvc}

	app.POST("/upload_pdf", api.upload, uploadLimit, auth)
	app.DELETE("/delete_pdf/:id", api.destroy, auth)

	ag := app.Group("/api", auth)
	ag.GET("/user_pdfs", api.query)
	ag.GET("/pdfs/:id/structure", api.structure)
	ag.POST("/pdfs/:id/retry", api.retry)
	ag.GET("/pdfs/:id/images/:filename", api.image)
}

// Handlers

func (api *libraryApi) upload(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewValidationError(errNoFile, core.FieldError{Field: "file", Error: errNoFile.Error()})
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	res, err := api.svc.Upload(ctx.Request().Context(), usr, fh.Filename, f)
	if err != nil {
		return errors.Wrap(err, "uploading PDF")
	}
	return ctx.JSON(http.StatusCreated, UploadResponse{
		Message:   "PDF uploaded and processed successfully",
		PDFID:     res.PDF.ID,
		Status:    res.PDF.Status,
		Chapters:  res.Chapters,
		Topics:    res.Topics,
		Subtopics: res.Subtopics,
	})
}

func (api *libraryApi) query(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	pdfs, err := api.svc.List(ctx.Request().Context(), usr, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "listing PDFs")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"pdfs": pdfs})
}

func (api *libraryApi) structure(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	st, err := api.svc.Structure(ctx.Request().Context(), usr, id)
	if err != nil {
		return errors.Wrap(err, "getting PDF structure")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *libraryApi) retry(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.Retry(ctx.Request().Context(), usr, id)
	if err != nil {
		return errors.Wrap(err, "retrying PDF processing")
	}
	return ctx.JSON(http.StatusOK, UploadResponse{
		Message:   "PDF processed successfully",
		PDFID:     res.PDF.ID,
		Status:    res.PDF.Status,
		Chapters:  res.Chapters,
		Topics:    res.Topics,
		Subtopics: res.Subtopics,
	})
}

func (api *libraryApi) destroy(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), usr, id); err != nil {
		return errors.Wrap(err, "deleting PDF")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: "PDF deleted successfully"})
}

func (api *libraryApi) image(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	path, err := api.svc.ImagePath(ctx.Request().Context(), usr, id, pathParam(ctx, "filename"))
	if err != nil {
		return errors.Wrap(err, "finding image")
	}
	return ctx.File(path)
}

type UploadResponse struct {
	Message   string `json:"message"`
	PDFID     int    `json:"pdf_id"`
	Status    string `json:"status"`
	Chapters  int    `json:"chapters"`
	Topics    int    `json:"topics"`
	Subtopics int    `json:"subtopics"`
}
