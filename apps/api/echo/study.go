package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kitabu/core"
	"github.com/trezcool/kitabu/core/study"
)

var errInvalidAnswers = errors.New("answers must map question ids to option letters")

type studyApi struct {
	svc *study.Service
}

func registerStudyAPI(app *echo.Echo, auth echo.MiddlewareFunc, deps *Deps) {
	api := studyApi{svc: deps.StudySvc}

	ag := app.Group("/api", auth)
	ag.GET("/topic_notes/:chapter/:topic", api.topicNotes)
	ag.GET("/notes/:chapter/:topic/:subtopic", api.subtopicNotes)
	ag.GET("/quiz/:chapter", api.quiz)
	ag.GET("/quiz/:id/answers", api.answers)
	ag.POST("/quiz/:id/submit", api.submit)
}

func nodeRef(ctx echo.Context) (study.NodeRef, error) {
	pdfID, err := pdfIDQuery(ctx)
	if err != nil {
		return study.NodeRef{}, err
	}
	return study.NodeRef{
		Chapter:  pathParam(ctx, "chapter"),
		Topic:    pathParam(ctx, "topic"),
		Subtopic: pathParam(ctx, "subtopic"),
		PDFID:    pdfID,
	}, nil
}

// Handlers

func (api *studyApi) topicNotes(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	ref, err := nodeRef(ctx)
	if err != nil {
		return err
	}
	notes, err := api.svc.TopicNotes(ctx.Request().Context(), usr, ref)
	if err != nil {
		return errors.Wrap(err, "getting topic notes")
	}
	return ctx.JSON(http.StatusOK, notes)
}

func (api *studyApi) subtopicNotes(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	ref, err := nodeRef(ctx)
	if err != nil {
		return err
	}
	notes, err := api.svc.SubtopicNotes(ctx.Request().Context(), usr, ref)
	if err != nil {
		return errors.Wrap(err, "getting subtopic notes")
	}
	return ctx.JSON(http.StatusOK, notes)
}

func (api *studyApi) quiz(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	pdfID, err := pdfIDQuery(ctx)
	if err != nil {
		return err
	}
	quiz, err := api.svc.Quiz(ctx.Request().Context(), usr, pathParam(ctx, "chapter"), pdfID, boolQuery(ctx, "new"))
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}
	return ctx.JSON(http.StatusOK, quiz)
}

func (api *studyApi) answers(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	answers, err := api.svc.QuizAnswers(ctx.Request().Context(), usr, id)
	if err != nil {
		return errors.Wrap(err, "getting quiz answers")
	}
	return ctx.JSON(http.StatusOK, answers)
}

func (api *studyApi) submit(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	var data SubmitQuizRequest
	if err = ctx.Bind(&data); err != nil {
		return core.NewValidationError(errInvalidAnswers, core.FieldError{Field: "answers", Error: errInvalidAnswers.Error()})
	}
	selected, err := data.selected()
	if err != nil {
		return err
	}
	grade, err := api.svc.GradeQuiz(ctx.Request().Context(), usr, id, selected)
	if err != nil {
		return errors.Wrap(err, "grading quiz")
	}
	return ctx.JSON(http.StatusOK, grade)
}

// SubmitQuizRequest holds the selected option letter per question id.
type SubmitQuizRequest struct {
	Answers map[string]string `json:"answers"`
}

func (r SubmitQuizRequest) selected() (map[int]string, error) {
	selected := make(map[int]string, len(r.Answers))
	for key, letter := range r.Answers {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, core.NewValidationError(errInvalidAnswers, core.FieldError{Field: "answers", Error: errInvalidAnswers.Error()})
		}
		selected[id] = letter
	}
	return selected, nil
}
