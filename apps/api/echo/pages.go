package echoapi

import (
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/library"
	"github.com/trezcool/kitabu/core/study"
	"github.com/trezcool/kitabu/core/user"
	appfs "github.com/trezcool/kitabu/fs"
)

const (
	baseTemplate     = "_base.gohtml"
	templateExt      = ".gohtml"
	notFoundTemplate = "not_found"
)

// pageRenderer renders the embedded page templates, each one on top of the base layout.
type pageRenderer struct {
	pages map[string]*template.Template
}

var _ echo.Renderer = (*pageRenderer)(nil)

var pageFuncs = template.FuncMap{
	"bytes": func(n int64) string { return humanize.Bytes(uint64(n)) },
	"since": humanize.Time,
}

func newPageRenderer() (*pageRenderer, error) {
	base, err := template.New(baseTemplate).Funcs(pageFuncs).ParseFS(appfs.FS, path.Join(appfs.PageTemplatesDir, baseTemplate))
	if err != nil {
		return nil, errors.Wrap(err, "parsing base template")
	}

	entries, err := fs.ReadDir(appfs.FS, appfs.PageTemplatesDir)
	if err != nil {
		return nil, errors.Wrap(err, "listing page templates")
	}
	r := &pageRenderer{pages: make(map[string]*template.Template, len(entries))}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "_") || !strings.HasSuffix(name, templateExt) {
			continue
		}
		tmpl, err := base.Clone()
		if err != nil {
			return nil, errors.Wrap(err, "cloning base template")
		}
		if _, err = tmpl.ParseFS(appfs.FS, path.Join(appfs.PageTemplatesDir, name)); err != nil {
			return nil, errors.Wrapf(err, "parsing %s", name)
		}
		r.pages[strings.TrimSuffix(name, templateExt)] = tmpl
	}
	return r, nil
}

func (r *pageRenderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return errors.Errorf("unknown page %q", name)
	}
	return tmpl.ExecuteTemplate(w, "base", data)
}

// pageData is what every page template gets.
type pageData struct {
	Title    string
	User     *user.User
	PDFs     []library.Summary
	Chapter  string
	Topic    string
	Subtopic string
	PDFID    int
	Message  string
}

type pagesApi struct {
	library *library.Service
	study   *study.Service
	logger  core.Logger
}

func registerPages(app *echo.Echo, auth, optionalAuth echo.MiddlewareFunc, deps *Deps) error {
	sub, err := fs.Sub(appfs.FS, appfs.StaticDir)
	if err != nil {
		return errors.Wrap(err, "opening static files")
	}
	api := pagesApi{library: deps.LibrarySvc, study: deps.StudySvc, logger: deps.Logger}

	app.GET("/static/*", echo.WrapHandler(http.StripPrefix("/static/", http.FileServer(http.FS(sub)))))

	app.GET("/", api.home, optionalAuth)
	app.GET("/login", api.login, optionalAuth)
	app.GET("/signup", api.signup, optionalAuth)

	app.GET("/topic/:chapter/:topic", api.topic, loginRedirect, auth)
	app.GET("/subtopic/:chapter/:topic/:subtopic", api.subtopic, loginRedirect, auth)
	app.GET("/quiz/:chapter", api.quiz, loginRedirect, auth)
	return nil
}

func contextUserPtr(ctx echo.Context) *user.User {
	if usr, err := getContextUser(ctx); err == nil {
		return &usr
	}
	return nil
}

// Handlers

func (api *pagesApi) home(ctx echo.Context) error {
	data := pageData{Title: "Home", User: contextUserPtr(ctx)}
	if data.User != nil {
		pdfs, err := api.library.List(ctx.Request().Context(), *data.User)
		if err != nil {
			return errors.Wrap(err, "listing PDFs")
		}
		data.PDFs = pdfs
	}
	return ctx.Render(http.StatusOK, "home", data)
}

func (api *pagesApi) login(ctx echo.Context) error {
	if contextUserPtr(ctx) != nil {
		return ctx.Redirect(http.StatusFound, "/")
	}
	return ctx.Render(http.StatusOK, "login", pageData{Title: "Login"})
}

func (api *pagesApi) signup(ctx echo.Context) error {
	if contextUserPtr(ctx) != nil {
		return ctx.Redirect(http.StatusFound, "/")
	}
	return ctx.Render(http.StatusOK, "signup", pageData{Title: "Sign up"})
}

func (api *pagesApi) topic(ctx echo.Context) error {
	return api.nodePage(ctx, "topic")
}

func (api *pagesApi) subtopic(ctx echo.Context) error {
	return api.nodePage(ctx, "subtopic")
}

// nodePage renders an empty notes page; the notes are fetched by the browser.
func (api *pagesApi) nodePage(ctx echo.Context, page string) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	ref, err := nodeRef(ctx)
	if err != nil {
		return err
	}
	rec, err := api.study.FindNode(ctx.Request().Context(), usr, ref)
	if err != nil {
		return api.notFoundOr(ctx, usr, err, "getting outline node")
	}

	title := rec.Topic
	if rec.Subtopic != "" {
		title = rec.Subtopic
	}
	return ctx.Render(http.StatusOK, page, pageData{
		Title:    title,
		User:     &usr,
		Chapter:  rec.Chapter,
		Topic:    rec.Topic,
		Subtopic: rec.Subtopic,
		PDFID:    rec.PDFID,
	})
}

func (api *pagesApi) quiz(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	pdfID, err := pdfIDQuery(ctx)
	if err != nil {
		return err
	}
	chapter, err := api.study.FindChapter(ctx.Request().Context(), usr, pathParam(ctx, "chapter"), pdfID)
	if err != nil {
		return api.notFoundOr(ctx, usr, err, "getting chapter")
	}
	return ctx.Render(http.StatusOK, "quiz", pageData{
		Title:   "Quiz: " + chapter.Name,
		User:    &usr,
		Chapter: chapter.Name,
		PDFID:   chapter.PDFID,
	})
}

// notFoundOr renders the not found page for missing outline nodes, and returns any other error.
func (api *pagesApi) notFoundOr(ctx echo.Context, usr user.User, err error, msg string) error {
	switch errors.Cause(err) {
	case study.ErrChapterNotFound, study.ErrTopicNotFound, study.ErrSubtopicNotFound:
		return ctx.Render(http.StatusNotFound, notFoundTemplate, pageData{
			Title:   "Not found",
			User:    &usr,
			Message: errors.Cause(err).Error(),
		})
	}
	return errors.Wrap(err, msg)
}
